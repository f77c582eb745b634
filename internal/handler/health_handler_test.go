package handler

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

func TestHealthIntegration_Livez(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/livez", LivezHandler())

	resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
}

func TestHealthIntegration_ReadyzReportsDownDependencies(t *testing.T) {
	t.Parallel()

	sqlDB := sql.OpenDB(failingConnector{})
	t.Cleanup(func() { _ = sqlDB.Close() })

	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	app := fiber.New()
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))

	resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Status != "not_ready" {
		t.Fatalf("status = %q, want not_ready", parsed.Status)
	}
	if parsed.Checks["postgres"] != "down" || parsed.Checks["redis"] != "down" {
		t.Fatalf("checks = %v, want both dependencies down", parsed.Checks)
	}
}

type failingConnector struct{}

func (failingConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("connection refused")
}

func (failingConnector) Driver() driver.Driver { return nil }
