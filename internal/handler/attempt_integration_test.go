package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/phishsim/campaign-engine/internal/domain"
	"github.com/phishsim/campaign-engine/internal/repository"
	"github.com/phishsim/campaign-engine/internal/service"
	"github.com/phishsim/campaign-engine/internal/transport"
	"go.uber.org/zap"
)

func TestAttemptIntegration_CreateAttempt(t *testing.T) {
	t.Parallel()

	svc := &stubAttemptService{
		createFn: func(ctx context.Context, a *domain.Attempt) (*domain.Attempt, error) {
			if err := a.Validate(); err != nil {
				return nil, err
			}
			a.ID = "a-created"
			a.TrackingID = "tok-created"
			a.Status = domain.StatusPending
			a.CreatedAt = time.Now().UTC()
			a.UpdatedAt = a.CreatedAt
			return a, nil
		},
	}

	app := newAttemptTestApp(t, svc)

	validBody := `{"targetEmail":"victim@example.com","templateId":"quarterly-bonus","subject":"Your bonus","content":"<html></html>","createdBy":"sec-team"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/attempts", validBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}

	var created map[string]any
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if created["id"] != "a-created" {
		t.Fatalf("id = %v, want a-created", created["id"])
	}
	if created["trackingId"] != "tok-created" {
		t.Fatalf("trackingId = %v, want tok-created", created["trackingId"])
	}
	if created["status"] != domain.StatusPending.String() {
		t.Fatalf("status = %v, want PENDING", created["status"])
	}

	missingEmailBody := `{"targetEmail":"","templateId":"quarterly-bonus","subject":"Your bonus","content":"<html></html>","createdBy":"sec-team"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/attempts", missingEmailBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing targetEmail", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/attempts", "{not json")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestAttemptIntegration_CreateAttemptEnqueueWarning(t *testing.T) {
	t.Parallel()

	svc := &stubAttemptService{
		createFn: func(ctx context.Context, a *domain.Attempt) (*domain.Attempt, error) {
			a.ID = "a-stuck"
			a.TrackingID = "tok-stuck"
			a.Status = domain.StatusPending
			return a, fmt.Errorf("attempt created but dispatch enqueue failed: broker unavailable")
		},
	}

	app := newAttemptTestApp(t, svc)

	body := `{"targetEmail":"victim@example.com","templateId":"quarterly-bonus","subject":"Your bonus","content":"<html></html>","createdBy":"sec-team"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/attempts", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202 with warning, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["warning"] == "" || parsed["warning"] == nil {
		t.Fatal("response should carry the enqueue warning")
	}
}

func TestAttemptIntegration_GetAttempt(t *testing.T) {
	t.Parallel()

	svc := &stubAttemptService{
		getByIDFn: func(ctx context.Context, id string) (*domain.Attempt, error) {
			if id != "a-found" {
				return nil, domain.ErrNotFound
			}
			return &domain.Attempt{
				ID:          "a-found",
				TrackingID:  "tok-found",
				TargetEmail: "victim@example.com",
				Status:      domain.StatusSent,
			}, nil
		},
	}

	app := newAttemptTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/attempts/a-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/attempts/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAttemptIntegration_DispatchAttempt(t *testing.T) {
	t.Parallel()

	svc := &stubAttemptService{
		dispatchFn: func(ctx context.Context, id string) error {
			if id == "a-sent" {
				return fmt.Errorf("%w: attempt a-sent is SENT", domain.ErrConflict)
			}
			return nil
		},
	}

	app := newAttemptTestApp(t, svc)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/attempts/a-pending/dispatch", "")
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/attempts/a-sent/dispatch", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for non-PENDING attempt", resp.StatusCode)
	}
}

func TestAttemptIntegration_ListAttemptsPaginationAndFilters(t *testing.T) {
	t.Parallel()

	svc := &stubAttemptService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error) {
			if params.Status == nil || *params.Status != domain.StatusClicked {
				t.Fatalf("status filter = %v, want CLICKED", params.Status)
			}
			if params.CampaignID == nil || *params.CampaignID != "c-42" {
				t.Fatalf("campaign filter = %v, want c-42", params.CampaignID)
			}
			if params.Page != 2 || params.PageSize != 10 {
				t.Fatalf("pagination = (%d, %d), want (2, 10)", params.Page, params.PageSize)
			}
			return []domain.Attempt{{ID: "a-1", Status: domain.StatusClicked}}, 11, nil
		},
	}

	app := newAttemptTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/attempts?status=clicked&campaignId=c-42&page=2&pageSize=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed listAttemptsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Data) != 1 || parsed.Meta.Total != 11 {
		t.Fatalf("data = %d rows, total = %d, want 1 row and total 11", len(parsed.Data), parsed.Meta.Total)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/attempts?status=bogus", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown status filter", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/attempts?pageSize=9999", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for oversized pageSize", resp.StatusCode)
	}
}

func TestAttemptIntegration_CreateCampaign(t *testing.T) {
	t.Parallel()

	svc := &stubAttemptService{
		createCampaignFn: func(ctx context.Context, name string, createdBy string, targets []string, templateID string, subject string, content string) (*domain.Campaign, []domain.Attempt, error) {
			campaign := &domain.Campaign{
				ID:         "c-42",
				Name:       name,
				TotalCount: len(targets),
				Status:     domain.CampaignStatusCompleted,
			}
			attempts := make([]domain.Attempt, len(targets))
			for i, target := range targets {
				attempts[i] = domain.Attempt{ID: fmt.Sprintf("a-%d", i), TargetEmail: target, Status: domain.StatusPending}
			}
			return campaign, attempts, nil
		},
	}

	app := newAttemptTestApp(t, svc)

	body := `{"name":"q3-awareness","targetEmails":["a@example.com","b@example.com"],"templateId":"quarterly-bonus","subject":"Your bonus","content":"<html></html>","createdBy":"sec-team"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/campaigns", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(respBody))
	}

	var parsed createCampaignResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.CampaignID != "c-42" || parsed.TotalCount != 2 || len(parsed.Attempts) != 2 {
		t.Fatalf("response = %+v, want campaign c-42 with 2 attempts", parsed)
	}
}

func TestAttemptIntegration_GetCampaignSummary(t *testing.T) {
	t.Parallel()

	svc := &stubAttemptService{
		getCampaignSummaryFn: func(ctx context.Context, campaignID string) (*service.CampaignSummary, error) {
			if campaignID != "c-42" {
				return nil, domain.ErrNotFound
			}
			return &service.CampaignSummary{
				CampaignID: "c-42",
				Name:       "q3-awareness",
				TotalCount: 5,
				Status:     domain.CampaignStatusCompleted,
				Counts: []service.StatusCount{
					{Status: domain.StatusSent, Count: 2},
					{Status: domain.StatusClicked, Count: 3},
				},
			}, nil
		},
	}

	app := newAttemptTestApp(t, svc)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/campaigns/c-42", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var parsed campaignSummaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.TotalCount != 5 || len(parsed.Counts) != 2 {
		t.Fatalf("summary = %+v, want totalCount 5 with 2 count rows", parsed)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/campaigns/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

type stubAttemptService struct {
	createFn             func(ctx context.Context, a *domain.Attempt) (*domain.Attempt, error)
	createCampaignFn     func(ctx context.Context, name string, createdBy string, targets []string, templateID string, subject string, content string) (*domain.Campaign, []domain.Attempt, error)
	dispatchFn           func(ctx context.Context, id string) error
	getByIDFn            func(ctx context.Context, id string) (*domain.Attempt, error)
	listFn               func(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error)
	getCampaignSummaryFn func(ctx context.Context, campaignID string) (*service.CampaignSummary, error)
}

func (s *stubAttemptService) Create(ctx context.Context, a *domain.Attempt) (*domain.Attempt, error) {
	if s.createFn != nil {
		return s.createFn(ctx, a)
	}
	return a, nil
}

func (s *stubAttemptService) CreateCampaign(ctx context.Context, name string, createdBy string, targets []string, templateID string, subject string, content string) (*domain.Campaign, []domain.Attempt, error) {
	if s.createCampaignFn != nil {
		return s.createCampaignFn(ctx, name, createdBy, targets, templateID, subject, content)
	}
	return nil, nil, domain.ErrNotFound
}

func (s *stubAttemptService) Dispatch(ctx context.Context, id string) error {
	if s.dispatchFn != nil {
		return s.dispatchFn(ctx, id)
	}
	return nil
}

func (s *stubAttemptService) GetByID(ctx context.Context, id string) (*domain.Attempt, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubAttemptService) List(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

func (s *stubAttemptService) GetCampaignSummary(ctx context.Context, campaignID string) (*service.CampaignSummary, error) {
	if s.getCampaignSummaryFn != nil {
		return s.getCampaignSummaryFn(ctx, campaignID)
	}
	return nil, domain.ErrNotFound
}

func newAttemptTestApp(t *testing.T, svc AttemptService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterAttemptRoutes(app, svc); err != nil {
		t.Fatalf("RegisterAttemptRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
