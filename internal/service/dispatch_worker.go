package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/phishsim/campaign-engine/internal/domain"
	"github.com/phishsim/campaign-engine/internal/gateway"
	"github.com/phishsim/campaign-engine/internal/observability"
	"github.com/phishsim/campaign-engine/internal/queue"
	"github.com/phishsim/campaign-engine/internal/ratelimit"
	"github.com/phishsim/campaign-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	rateLimitKey        = "dispatch"
	maxFailureReasonLen = 500
)

// DispatchReporter receives dispatch outcomes and applies the matching
// lifecycle transitions.
type DispatchReporter interface {
	DispatchSucceeded(ctx context.Context, trackingID string, providerMessageID string) (*domain.Attempt, error)
	DispatchFailed(ctx context.Context, trackingID string, reason string) (*domain.Attempt, error)
}

// DispatchWorker consumes queued dispatch messages, delivers them through
// the mail gateway under a rate limit, and reports the outcome back to the
// lifecycle engine.
type DispatchWorker struct {
	reporter        DispatchReporter
	attempts        repository.AttemptRepository
	records         repository.DispatchRecordRepository
	consumer        queue.Consumer
	gateway         gateway.Gateway
	rateLimiter     ratelimit.RateLimiter
	trackingBaseURL string
	concurrency     int
	logger          *zap.Logger
	metrics         *observability.Metrics
	now             func() time.Time
}

func NewDispatchWorker(
	reporter DispatchReporter,
	attempts repository.AttemptRepository,
	records repository.DispatchRecordRepository,
	consumer queue.Consumer,
	mailGateway gateway.Gateway,
	rateLimiter ratelimit.RateLimiter,
	trackingBaseURL string,
	concurrency int,
	logger *zap.Logger,
) (*DispatchWorker, error) {
	if reporter == nil {
		return nil, fmt.Errorf("dispatch reporter is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if mailGateway == nil {
		return nil, fmt.Errorf("mail gateway is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	trackingBaseURL = strings.TrimRight(strings.TrimSpace(trackingBaseURL), "/")
	if trackingBaseURL == "" {
		return nil, fmt.Errorf("tracking base url is required")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		reporter:        reporter,
		attempts:        attempts,
		records:         records,
		consumer:        consumer,
		gateway:         mailGateway,
		rateLimiter:     rateLimiter,
		trackingBaseURL: trackingBaseURL,
		concurrency:     concurrency,
		logger:          logger,
		now:             time.Now,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs the worker's consumers until the context is canceled.
func (w *DispatchWorker) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.consumer.Consume(ctx, queue.DispatchQueue, w.processMessage)
		})
	}

	w.logger.Info("dispatch worker started", zap.Int("concurrency", w.concurrency))
	return g.Wait()
}

// processMessage delivers one queued attempt. A nil return acks the message;
// an error nacks it for redelivery, so only infrastructure failures may
// return errors. Outcome decisions (SENT or FAILED) are always acked.
func (w *DispatchWorker) processMessage(ctx context.Context, msg queue.DispatchMessage) error {
	attempt, err := w.attempts.GetByID(ctx, msg.AttemptID)
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Warn("discarding dispatch for unknown attempt", zap.String("attemptId", msg.AttemptID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load attempt %s: %w", msg.AttemptID, err)
	}

	if attempt.Status != domain.StatusPending {
		w.logger.Debug("skipping dispatch, attempt already progressed",
			zap.String("attemptId", attempt.ID),
			zap.String("status", attempt.Status.String()),
		)
		return nil
	}

	if err := w.rateLimiter.Wait(ctx, rateLimitKey); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	dispatch := gateway.Dispatch{
		TargetEmail:      attempt.TargetEmail,
		TemplateID:       attempt.TemplateID,
		Subject:          attempt.Subject,
		Content:          attempt.Content,
		TrackingOpenURL:  fmt.Sprintf("%s/t/%s/open.gif", w.trackingBaseURL, attempt.TrackingID),
		TrackingClickURL: fmt.Sprintf("%s/t/%s/click", w.trackingBaseURL, attempt.TrackingID),
	}

	start := w.now()
	result, sendErr := w.gateway.Send(ctx, dispatch)
	w.metrics.ObserveDispatchDuration(w.now().Sub(start))

	w.recordDispatch(ctx, attempt.ID, result, sendErr)

	if sendErr != nil {
		w.metrics.IncDispatchFailed()
		w.logger.Warn("gateway dispatch failed",
			zap.String("attemptId", attempt.ID),
			zap.Error(sendErr),
		)
		return w.report(ctx, attempt, func(ctx context.Context) (*domain.Attempt, error) {
			return w.reporter.DispatchFailed(ctx, attempt.TrackingID, failureReason(sendErr))
		})
	}

	w.logger.Info("attempt dispatched",
		zap.String("attemptId", attempt.ID),
		zap.String("trackingId", attempt.TrackingID),
		zap.Int("statusCode", result.StatusCode),
	)
	return w.report(ctx, attempt, func(ctx context.Context) (*domain.Attempt, error) {
		return w.reporter.DispatchSucceeded(ctx, attempt.TrackingID, result.ProviderMessageID)
	})
}

// report applies the outcome transition. Transition rejections mean another
// actor already moved the attempt, so the message is acked rather than
// redelivered.
func (w *DispatchWorker) report(ctx context.Context, attempt *domain.Attempt, apply func(ctx context.Context) (*domain.Attempt, error)) error {
	_, err := apply(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrUnknownTracking) {
		w.logger.Warn("dispatch outcome not applied",
			zap.String("attemptId", attempt.ID),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("failed to report dispatch outcome for attempt %s: %w", attempt.ID, err)
}

func (w *DispatchWorker) recordDispatch(ctx context.Context, attemptID string, result *gateway.Result, sendErr error) {
	if w.records == nil {
		return
	}

	record := &domain.DispatchRecord{
		ID:        uuid.NewString(),
		AttemptID: attemptID,
		CreatedAt: w.now().UTC(),
	}

	if result != nil {
		statusCode := result.StatusCode
		record.StatusCode = &statusCode
		if pmid := strings.TrimSpace(result.ProviderMessageID); pmid != "" {
			record.ProviderMessageID = &pmid
		}
	}
	if sendErr != nil {
		reason := failureReason(sendErr)
		record.Error = &reason

		var gatewayErr *gateway.GatewayError
		if errors.As(sendErr, &gatewayErr) && gatewayErr.StatusCode != 0 {
			statusCode := gatewayErr.StatusCode
			record.StatusCode = &statusCode
		}
	}

	if err := w.records.Create(ctx, record); err != nil {
		w.logger.Error("failed to persist dispatch record",
			zap.String("attemptId", attemptID),
			zap.Error(err),
		)
	}
}

func failureReason(err error) string {
	if err == nil {
		return ""
	}

	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		return "gateway dispatch failed"
	}
	if len(reason) > maxFailureReasonLen {
		// Cut on a rune boundary so a multi-byte character is never split.
		cut := maxFailureReasonLen
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	return reason
}
