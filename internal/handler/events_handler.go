package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/phishsim/campaign-engine/internal/broadcast"
	"github.com/phishsim/campaign-engine/internal/domain"
	"github.com/phishsim/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	writeWait        = 5 * time.Second
	snapshotTimeout  = 30 * time.Second
	snapshotPageSize = 500
)

type eventFrame struct {
	Type  string       `json:"type"`
	Event domain.Event `json:"event"`
}

type snapshotFrame struct {
	Type     string         `json:"type"`
	Attempts []domain.Event `json:"attempts"`
}

// SnapshotLister supplies the current attempt set for a newly connected
// observer's snapshot frame.
type SnapshotLister interface {
	List(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error)
}

// EventsHandler upgrades observers to websocket and feeds them lifecycle
// events. Each connection is registered with the hub BEFORE the snapshot is
// read, so a transition landing between the two is buffered on the
// subscription instead of lost; observers may see an event that is already
// reflected in their snapshot and must treat events as idempotent.
type EventsHandler struct {
	hub    *broadcast.Hub
	lister SnapshotLister
	logger *zap.Logger
}

func NewEventsHandler(hub *broadcast.Hub, lister SnapshotLister, logger *zap.Logger) (*EventsHandler, error) {
	if hub == nil {
		return nil, fmt.Errorf("broadcast hub is required")
	}
	if lister == nil {
		return nil, fmt.Errorf("snapshot lister is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventsHandler{
		hub:    hub,
		lister: lister,
		logger: logger,
	}, nil
}

func RegisterEventsRoutes(router fiber.Router, hub *broadcast.Hub, lister SnapshotLister, logger *zap.Logger) error {
	h, err := NewEventsHandler(hub, lister, logger)
	if err != nil {
		return err
	}

	router.Use("/v1/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/v1/events", websocket.New(h.Serve))

	return nil
}

func (h *EventsHandler) Serve(conn *websocket.Conn) {
	defer conn.Close() //nolint:errcheck // best-effort connection close

	sub := h.hub.Subscribe()
	defer sub.Close()

	if err := h.sendSnapshot(conn); err != nil {
		h.logger.Warn("failed to send snapshot to observer",
			zap.String("observerId", sub.ID()),
			zap.Error(err),
		)
		return
	}

	// The read loop only detects the peer going away; inbound frames carry no
	// meaning on this feed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	for {
		select {
		case event := <-sub.Events():
			if err := h.writeJSON(conn, eventFrame{Type: "event", Event: event}); err != nil {
				h.logger.Debug("observer write failed",
					zap.String("observerId", sub.ID()),
					zap.Error(err),
				)
				return
			}
		case <-sub.Done():
			return
		}
	}
}

func (h *EventsHandler) sendSnapshot(conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	// The snapshot must cover every attempt, not just the first page; a
	// late-joining observer has no other way to learn about transitions that
	// happened before it connected.
	frame := snapshotFrame{Type: "snapshot", Attempts: []domain.Event{}}
	for page := 1; ; page++ {
		attempts, total, err := h.lister.List(ctx, repository.ListParams{
			Page:     page,
			PageSize: snapshotPageSize,
		})
		if err != nil {
			return fmt.Errorf("failed to load snapshot: %w", err)
		}
		for i := range attempts {
			frame.Attempts = append(frame.Attempts, domain.EventFromAttempt(&attempts[i]))
		}
		if len(attempts) == 0 || int64(len(frame.Attempts)) >= total {
			break
		}
	}

	return h.writeJSON(conn, frame)
}

func (h *EventsHandler) writeJSON(conn *websocket.Conn, payload any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(payload)
}
