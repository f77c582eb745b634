package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/phishsim/campaign-engine/internal/domain"
	"github.com/phishsim/campaign-engine/internal/observability"
	"github.com/phishsim/campaign-engine/internal/queue"
	"github.com/phishsim/campaign-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	// lockStripes sizes the per-tracking-id mutex table. Two distinct ids may
	// share a stripe; that only serializes more, never less.
	lockStripes = 64

	// createTokenRetries bounds regeneration on the astronomically rare
	// tracking id collision.
	createTokenRetries = 3

	maxCampaignSize = 1000
)

// TrackingGenerator issues tracking identifiers for new attempts.
type TrackingGenerator interface {
	New() (string, error)
}

// Broadcaster is the observer fan-out port. Publish must not block beyond
// its own per-observer timeout discipline.
type Broadcaster interface {
	Publish(event domain.Event)
}

// CampaignSummary aggregates an attempt campaign's per-status counts.
type CampaignSummary struct {
	CampaignID string
	Name       string
	TotalCount int
	Status     domain.CampaignStatus
	Counts     []StatusCount
}

type StatusCount struct {
	Status domain.Status
	Count  int
}

// LifecycleService owns the attempt state machine: it creates attempts,
// enqueues dispatch, and applies every lifecycle transition. All transitions
// for one tracking id are serialized; transitions for different attempts
// proceed concurrently. Every accepted transition that changes observable
// state is handed to the broadcaster before the call returns.
type LifecycleService struct {
	attempts    repository.AttemptRepository
	campaigns   repository.CampaignRepository
	publisher   queue.Publisher
	broadcaster Broadcaster
	tracking    TrackingGenerator
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	locks       [lockStripes]sync.Mutex
}

func NewLifecycleService(
	attempts repository.AttemptRepository,
	campaigns repository.CampaignRepository,
	publisher queue.Publisher,
	broadcaster Broadcaster,
	tracking TrackingGenerator,
	logger *zap.Logger,
) (*LifecycleService, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if broadcaster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if tracking == nil {
		return nil, fmt.Errorf("tracking generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LifecycleService{
		attempts:    attempts,
		campaigns:   campaigns,
		publisher:   publisher,
		broadcaster: broadcaster,
		tracking:    tracking,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (s *LifecycleService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create validates and persists a new PENDING attempt with a freshly
// generated tracking id, then enqueues its dispatch. On a tracking id
// collision the id is regenerated and the insert retried.
func (s *LifecycleService) Create(ctx context.Context, attempt *domain.Attempt) (*domain.Attempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareAttemptForCreate(attempt); err != nil {
		return nil, err
	}

	if err := s.persistWithFreshToken(ctx, attempt); err != nil {
		return nil, err
	}

	s.metrics.IncAttemptCreated()
	s.logger.Info("attempt created",
		zap.String("attemptId", attempt.ID),
		zap.String("trackingId", attempt.TrackingID),
		zap.String("targetEmail", attempt.TargetEmail),
	)

	if err := s.enqueueDispatch(ctx, attempt); err != nil {
		// The attempt stays PENDING and can be re-triggered via Dispatch.
		s.logger.Error("failed to enqueue dispatch",
			zap.String("attemptId", attempt.ID),
			zap.Error(err),
		)
		return attempt, fmt.Errorf("attempt created but dispatch enqueue failed: %w", err)
	}

	return attempt, nil
}

// CreateCampaign creates one attempt per target under a new campaign. All
// targets are validated up front; per-target creation failures after that
// point leave the campaign in PARTIAL_FAILURE.
func (s *LifecycleService) CreateCampaign(
	ctx context.Context,
	name string,
	createdBy string,
	targets []string,
	templateID string,
	subject string,
	content string,
) (*domain.Campaign, []domain.Attempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.campaigns == nil {
		return nil, nil, fmt.Errorf("campaign repository is not configured")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, fmt.Errorf("%w: campaign name is required", domain.ErrValidation)
	}
	if len(targets) == 0 {
		return nil, nil, fmt.Errorf("%w: campaign must include at least one target", domain.ErrValidation)
	}
	if len(targets) > maxCampaignSize {
		return nil, nil, fmt.Errorf("%w: campaign size exceeds %d", domain.ErrValidation, maxCampaignSize)
	}

	campaignID := uuid.NewString()

	prepared := make([]domain.Attempt, len(targets))
	for i, target := range targets {
		prepared[i] = domain.Attempt{
			CampaignID:  &campaignID,
			TargetEmail: target,
			TemplateID:  templateID,
			Subject:     subject,
			Content:     content,
			CreatedBy:   createdBy,
		}
		if err := prepareAttemptForCreate(&prepared[i]); err != nil {
			return nil, nil, err
		}
	}

	campaign := &domain.Campaign{
		ID:         campaignID,
		Name:       name,
		TotalCount: len(targets),
		Status:     domain.CampaignStatusProcessing,
		CreatedBy:  strings.TrimSpace(createdBy),
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, nil, err
	}

	failed := 0
	for i := range prepared {
		current := &prepared[i]

		if err := s.persistWithFreshToken(ctx, current); err != nil {
			s.logger.Error("campaign: failed to create attempt",
				zap.String("campaignId", campaignID),
				zap.String("targetEmail", current.TargetEmail),
				zap.Error(err),
			)
			failed++
			continue
		}
		s.metrics.IncAttemptCreated()

		if err := s.enqueueDispatch(ctx, current); err != nil {
			s.logger.Error("campaign: failed to enqueue dispatch",
				zap.String("campaignId", campaignID),
				zap.String("attemptId", current.ID),
				zap.Error(err),
			)
			failed++
		}
	}

	campaign.Status = domain.CampaignStatusCompleted
	if failed > 0 {
		campaign.Status = domain.CampaignStatusPartialFailure
	}
	if err := s.campaigns.UpdateStatus(ctx, campaign.ID, campaign.Status); err != nil {
		return nil, nil, err
	}

	if failed > 0 {
		s.logger.Warn("campaign completed with partial failure",
			zap.String("campaignId", campaign.ID),
			zap.Int("failed", failed),
			zap.Int("total", len(prepared)),
		)
		return campaign, prepared, fmt.Errorf("campaign created with partial failure: %d/%d failed", failed, len(prepared))
	}

	return campaign, prepared, nil
}

// Dispatch re-enqueues a PENDING attempt for delivery.
func (s *LifecycleService) Dispatch(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}

	attempt, err := s.attempts.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if attempt.Status != domain.StatusPending {
		return fmt.Errorf("%w: attempt %s is %s, only PENDING attempts can be dispatched",
			domain.ErrConflict, attempt.ID, attempt.Status)
	}

	return s.enqueueDispatch(ctx, attempt)
}

// DispatchSucceeded applies PENDING -> SENT for the attempt identified by
// trackingID and records the gateway's message id.
func (s *LifecycleService) DispatchSucceeded(ctx context.Context, trackingID string, providerMessageID string) (*domain.Attempt, error) {
	return s.applyTransition(ctx, trackingID, func(a *domain.Attempt) (bool, error) {
		if err := a.MarkSent(s.now().UTC()); err != nil {
			return false, err
		}
		if pmid := strings.TrimSpace(providerMessageID); pmid != "" {
			a.ProviderMessageID = &pmid
		}
		return true, nil
	})
}

// DispatchFailed applies PENDING -> FAILED. FAILED is terminal.
func (s *LifecycleService) DispatchFailed(ctx context.Context, trackingID string, reason string) (*domain.Attempt, error) {
	return s.applyTransition(ctx, trackingID, func(a *domain.Attempt) (bool, error) {
		if err := a.MarkFailed(reason); err != nil {
			return false, err
		}
		return true, nil
	})
}

// RecordOpen applies SENT -> OPENED. Repeated opens are accepted as no-ops
// and emit no event.
func (s *LifecycleService) RecordOpen(ctx context.Context, trackingID string) (*domain.Attempt, error) {
	return s.applyTransition(ctx, trackingID, func(a *domain.Attempt) (bool, error) {
		return a.MarkOpened(s.now().UTC())
	})
}

// RecordClick applies SENT or OPENED -> CLICKED, backfilling openedAt on a
// still-SENT attempt. A repeated click is a no-op.
func (s *LifecycleService) RecordClick(ctx context.Context, trackingID string) (*domain.Attempt, error) {
	return s.applyTransition(ctx, trackingID, func(a *domain.Attempt) (bool, error) {
		return a.MarkClicked(s.now().UTC())
	})
}

func (s *LifecycleService) GetByID(ctx context.Context, id string) (*domain.Attempt, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	return s.attempts.GetByID(ctx, strings.TrimSpace(id))
}

func (s *LifecycleService) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Attempt, error) {
	if strings.TrimSpace(trackingID) == "" {
		return nil, fmt.Errorf("%w: tracking id is required", domain.ErrValidation)
	}
	return s.attempts.GetByTrackingID(ctx, strings.TrimSpace(trackingID))
}

func (s *LifecycleService) List(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error) {
	return s.attempts.List(ctx, params)
}

func (s *LifecycleService) GetCampaignSummary(ctx context.Context, campaignID string) (*CampaignSummary, error) {
	if s.campaigns == nil {
		return nil, fmt.Errorf("campaign repository is not configured")
	}
	if strings.TrimSpace(campaignID) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}

	campaign, err := s.campaigns.GetByID(ctx, strings.TrimSpace(campaignID))
	if err != nil {
		return nil, err
	}

	statuses, err := s.attempts.CountByStatus(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	counts := make([]StatusCount, 0, len(statuses))
	for _, row := range statuses {
		counts = append(counts, StatusCount{
			Status: row.Status,
			Count:  row.Count,
		})
	}

	return &CampaignSummary{
		CampaignID: campaign.ID,
		Name:       campaign.Name,
		TotalCount: campaign.TotalCount,
		Status:     campaign.Status,
		Counts:     counts,
	}, nil
}

// applyTransition serializes, loads, mutates, persists, and broadcasts one
// transition for the attempt identified by trackingID. Idempotent repeats
// (changed=false) return the attempt unchanged without persisting or
// broadcasting. The broadcaster is invoked before returning so callers can
// assume every connected observer has been offered the update.
func (s *LifecycleService) applyTransition(
	ctx context.Context,
	trackingID string,
	apply func(a *domain.Attempt) (bool, error),
) (*domain.Attempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return nil, fmt.Errorf("%w: tracking id is required", domain.ErrValidation)
	}

	mu := s.lockFor(trackingID)
	mu.Lock()
	defer mu.Unlock()

	attempt, err := s.attempts.GetByTrackingID(ctx, trackingID)
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.IncTransitionRejected("unknown_tracking")
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTracking, trackingID)
	}
	if err != nil {
		return nil, err
	}

	changed, err := apply(attempt)
	if err != nil {
		s.metrics.IncTransitionRejected("invalid_transition")
		return nil, err
	}
	if !changed {
		return attempt, nil
	}

	if err := s.attempts.UpdateTransition(ctx, attempt); err != nil {
		return nil, err
	}

	s.metrics.IncTransition(attempt.Status.String())
	s.broadcaster.Publish(domain.EventFromAttempt(attempt))

	return attempt, nil
}

func (s *LifecycleService) lockFor(trackingID string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(trackingID)%lockStripes]
}

func (s *LifecycleService) persistWithFreshToken(ctx context.Context, attempt *domain.Attempt) error {
	for i := 0; i < createTokenRetries; i++ {
		token, err := s.tracking.New()
		if err != nil {
			return fmt.Errorf("failed to generate tracking id: %w", err)
		}
		attempt.TrackingID = token

		err = s.attempts.Create(ctx, attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrDuplicateTracking) {
			return err
		}

		s.logger.Warn("tracking id collision, regenerating",
			zap.String("attemptId", attempt.ID),
			zap.Int("retry", i+1),
		)
	}

	return fmt.Errorf("%w: exhausted %d tracking id attempts", domain.ErrDuplicateTracking, createTokenRetries)
}

func (s *LifecycleService) enqueueDispatch(ctx context.Context, attempt *domain.Attempt) error {
	msg := queue.DispatchMessage{
		AttemptID:  attempt.ID,
		TrackingID: attempt.TrackingID,
	}
	return s.publisher.Publish(ctx, queue.DispatchQueue, msg)
}

func prepareAttemptForCreate(a *domain.Attempt) error {
	if a == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}

	a.TargetEmail = strings.TrimSpace(a.TargetEmail)
	a.TemplateID = strings.TrimSpace(a.TemplateID)
	a.Subject = strings.TrimSpace(a.Subject)
	a.Content = strings.TrimSpace(a.Content)
	a.CreatedBy = strings.TrimSpace(a.CreatedBy)

	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	a.Status = domain.StatusPending
	a.FailureReason = nil
	a.ProviderMessageID = nil
	a.SentAt = nil
	a.OpenedAt = nil
	a.ClickedAt = nil

	return a.Validate()
}
