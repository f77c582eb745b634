package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/phishsim/campaign-engine/internal/domain"
	"github.com/phishsim/campaign-engine/internal/repository"
	"github.com/phishsim/campaign-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type AttemptService interface {
	Create(ctx context.Context, a *domain.Attempt) (*domain.Attempt, error)
	CreateCampaign(ctx context.Context, name string, createdBy string, targets []string, templateID string, subject string, content string) (*domain.Campaign, []domain.Attempt, error)
	Dispatch(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Attempt, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error)
	GetCampaignSummary(ctx context.Context, campaignID string) (*service.CampaignSummary, error)
}

type AttemptHandler struct {
	service AttemptService
}

func NewAttemptHandler(service AttemptService) (*AttemptHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("attempt service is required")
	}
	return &AttemptHandler{service: service}, nil
}

func RegisterAttemptRoutes(router fiber.Router, service AttemptService) error {
	h, err := NewAttemptHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/attempts", h.CreateAttempt)
	v1.Get("/attempts", h.ListAttempts)
	v1.Get("/attempts/:id", h.GetAttempt)
	v1.Post("/attempts/:id/dispatch", h.DispatchAttempt)
	v1.Post("/campaigns", h.CreateCampaign)
	v1.Get("/campaigns/:campaignId", h.GetCampaignSummary)

	return nil
}

type createAttemptRequest struct {
	TargetEmail string `json:"targetEmail"`
	TemplateID  string `json:"templateId"`
	Subject     string `json:"subject"`
	Content     string `json:"content"`
	CreatedBy   string `json:"createdBy"`
}

type createCampaignRequest struct {
	Name       string   `json:"name"`
	Targets    []string `json:"targetEmails"`
	TemplateID string   `json:"templateId"`
	Subject    string   `json:"subject"`
	Content    string   `json:"content"`
	CreatedBy  string   `json:"createdBy"`
}

type attemptResponse struct {
	ID                string     `json:"id"`
	TrackingID        string     `json:"trackingId"`
	CampaignID        *string    `json:"campaignId,omitempty"`
	TargetEmail       string     `json:"targetEmail"`
	TemplateID        string     `json:"templateId"`
	Subject           string     `json:"subject"`
	Status            string     `json:"status"`
	FailureReason     *string    `json:"failureReason,omitempty"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	CreatedBy         string     `json:"createdBy"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	OpenedAt          *time.Time `json:"openedAt,omitempty"`
	ClickedAt         *time.Time `json:"clickedAt,omitempty"`
}

type createCampaignResponse struct {
	CampaignID string            `json:"campaignId"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	TotalCount int               `json:"totalCount"`
	Attempts   []attemptResponse `json:"attempts"`
	Warning    string            `json:"warning,omitempty"`
}

type listAttemptsResponse struct {
	Data []attemptResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type campaignSummaryResponse struct {
	CampaignID string                    `json:"campaignId"`
	Name       string                    `json:"name"`
	TotalCount int                       `json:"totalCount"`
	Status     string                    `json:"status"`
	Counts     []campaignStatusCountItem `json:"counts"`
}

type campaignStatusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (h *AttemptHandler) CreateAttempt(c *fiber.Ctx) error {
	var req createAttemptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	attempt := domain.Attempt{
		TargetEmail: strings.TrimSpace(req.TargetEmail),
		TemplateID:  strings.TrimSpace(req.TemplateID),
		Subject:     strings.TrimSpace(req.Subject),
		Content:     strings.TrimSpace(req.Content),
		CreatedBy:   strings.TrimSpace(req.CreatedBy),
	}

	created, err := h.service.Create(c.Context(), &attempt)
	if err != nil {
		// The attempt may exist even when enqueueing its dispatch failed; it
		// stays PENDING and is re-triggerable through the dispatch endpoint.
		if created != nil && !errors.Is(err, domain.ErrValidation) {
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"attempt": toAttemptResponse(created),
				"warning": err.Error(),
			})
		}
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toAttemptResponse(created))
}

func (h *AttemptHandler) CreateCampaign(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	campaign, attempts, err := h.service.CreateCampaign(
		c.Context(),
		req.Name,
		req.CreatedBy,
		req.Targets,
		req.TemplateID,
		req.Subject,
		req.Content,
	)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return toHTTPError(err)
		}
		if campaign == nil {
			return err
		}

		return c.Status(fiber.StatusAccepted).JSON(createCampaignResponse{
			CampaignID: campaign.ID,
			Name:       campaign.Name,
			Status:     campaign.Status.String(),
			TotalCount: campaign.TotalCount,
			Attempts:   toAttemptResponses(attempts),
			Warning:    err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(createCampaignResponse{
		CampaignID: campaign.ID,
		Name:       campaign.Name,
		Status:     campaign.Status.String(),
		TotalCount: campaign.TotalCount,
		Attempts:   toAttemptResponses(attempts),
	})
}

func (h *AttemptHandler) GetAttempt(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempt, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toAttemptResponse(attempt))
}

func (h *AttemptHandler) DispatchAttempt(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Dispatch(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"attemptId": id,
		"status":    domain.StatusPending.String(),
	})
}

func (h *AttemptHandler) ListAttempts(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	attempts, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listAttemptsResponse{
		Data: toAttemptResponses(attempts),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *AttemptHandler) GetCampaignSummary(c *fiber.Ctx) error {
	campaignID := strings.TrimSpace(c.Params("campaignId"))
	summary, err := h.service.GetCampaignSummary(c.Context(), campaignID)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]campaignStatusCountItem, 0, len(summary.Counts))
	for _, count := range summary.Counts {
		items = append(items, campaignStatusCountItem{
			Status: count.Status.String(),
			Count:  count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(campaignSummaryResponse{
		CampaignID: summary.CampaignID,
		Name:       summary.Name,
		TotalCount: summary.TotalCount,
		Status:     summary.Status.String(),
		Counts:     items,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if campaignID := strings.TrimSpace(c.Query("campaignId")); campaignID != "" {
		params.CampaignID = &campaignID
	}

	return params, nil
}

func toAttemptResponses(attempts []domain.Attempt) []attemptResponse {
	responses := make([]attemptResponse, 0, len(attempts))
	for i := range attempts {
		responses = append(responses, toAttemptResponse(&attempts[i]))
	}
	return responses
}

// toAttemptResponse maps an attempt to its API shape. Content is omitted: it
// can carry the full rendered mail body and is not useful on list/read paths.
func toAttemptResponse(a *domain.Attempt) attemptResponse {
	if a == nil {
		return attemptResponse{}
	}

	return attemptResponse{
		ID:                a.ID,
		TrackingID:        a.TrackingID,
		CampaignID:        a.CampaignID,
		TargetEmail:       a.TargetEmail,
		TemplateID:        a.TemplateID,
		Subject:           a.Subject,
		Status:            a.Status.String(),
		FailureReason:     a.FailureReason,
		ProviderMessageID: a.ProviderMessageID,
		CreatedBy:         a.CreatedBy,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
		SentAt:            a.SentAt,
		OpenedAt:          a.OpenedAt,
		ClickedAt:         a.ClickedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownTracking):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
