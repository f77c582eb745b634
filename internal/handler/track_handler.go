package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/phishsim/campaign-engine/internal/domain"
	"go.uber.org/zap"
)

// pixelGIF is a 1x1 transparent GIF served on every open callback.
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61,
	0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00,
	0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF,
	0x21, 0xF9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00,
	0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
	0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

type EngagementRecorder interface {
	RecordOpen(ctx context.Context, trackingID string) (*domain.Attempt, error)
	RecordClick(ctx context.Context, trackingID string) (*domain.Attempt, error)
}

// TrackHandler serves the endpoints embedded in simulated phishing mail. The
// responses are identical whether or not the tracking id resolved to an
// attempt: a recipient probing these URLs must learn nothing.
type TrackHandler struct {
	recorder   EngagementRecorder
	landingURL string
	logger     *zap.Logger
}

func NewTrackHandler(recorder EngagementRecorder, landingURL string, logger *zap.Logger) (*TrackHandler, error) {
	if recorder == nil {
		return nil, fmt.Errorf("engagement recorder is required")
	}
	landingURL = strings.TrimSpace(landingURL)
	if landingURL == "" {
		return nil, fmt.Errorf("landing url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TrackHandler{
		recorder:   recorder,
		landingURL: landingURL,
		logger:     logger,
	}, nil
}

func RegisterTrackRoutes(router fiber.Router, recorder EngagementRecorder, landingURL string, logger *zap.Logger) error {
	h, err := NewTrackHandler(recorder, landingURL, logger)
	if err != nil {
		return err
	}

	router.Get("/t/:trackingId/open.gif", h.TrackOpen)
	router.Get("/t/:trackingId/click", h.TrackClick)

	return nil
}

func (h *TrackHandler) TrackOpen(c *fiber.Ctx) error {
	h.record(c, "open", h.recorder.RecordOpen)

	c.Set(fiber.HeaderContentType, "image/gif")
	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	return c.Status(fiber.StatusOK).Send(pixelGIF)
}

func (h *TrackHandler) TrackClick(c *fiber.Ctx) error {
	h.record(c, "click", h.recorder.RecordClick)

	c.Set(fiber.HeaderCacheControl, "no-store, no-cache, must-revalidate")
	return c.Redirect(h.landingURL, fiber.StatusFound)
}

// record applies the engagement transition and absorbs every error. Unknown
// tracking ids and out-of-order callbacks are logged for operators but never
// surface in the response.
func (h *TrackHandler) record(c *fiber.Ctx, kind string, apply func(ctx context.Context, trackingID string) (*domain.Attempt, error)) {
	trackingID := strings.TrimSpace(c.Params("trackingId"))

	if _, err := apply(c.Context(), trackingID); err != nil {
		h.logger.Warn("engagement callback not applied",
			zap.String("kind", kind),
			zap.String("trackingId", trackingID),
			zap.Error(err),
		)
	}
}
