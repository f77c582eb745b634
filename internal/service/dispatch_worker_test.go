package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/phishsim/campaign-engine/internal/domain"
	"github.com/phishsim/campaign-engine/internal/gateway"
	"github.com/phishsim/campaign-engine/internal/queue"
	"github.com/phishsim/campaign-engine/internal/repository"
)

func newTestDispatchWorker(
	t *testing.T,
	reporter *fakeReporter,
	attempts *fakeAttemptRepo,
	records *fakeRecordRepo,
	mailGateway *fakeGateway,
	limiter *fakeRateLimiter,
) *DispatchWorker {
	t.Helper()

	if reporter == nil {
		reporter = &fakeReporter{}
	}
	if attempts == nil {
		attempts = &fakeAttemptRepo{}
	}
	if mailGateway == nil {
		mailGateway = &fakeGateway{}
	}
	if limiter == nil {
		limiter = &fakeRateLimiter{}
	}

	var recordRepo repository.DispatchRecordRepository
	if records != nil {
		recordRepo = records
	}

	worker, err := NewDispatchWorker(
		reporter,
		attempts,
		recordRepo,
		&fakeConsumer{},
		mailGateway,
		limiter,
		"https://track.example.com/",
		2,
		nil,
	)
	if err != nil {
		t.Fatalf("NewDispatchWorker() error = %v", err)
	}
	return worker
}

func pendingAttempt() domain.Attempt {
	a := validCreateAttempt()
	a.ID = "a-1"
	a.TrackingID = "tok-1"
	a.Status = domain.StatusPending
	return a
}

func TestDispatchWorkerProcessMessageSuccess(t *testing.T) {
	t.Parallel()

	stored := pendingAttempt()
	attempts := &fakeAttemptRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Attempt, error) {
			copied := stored
			return &copied, nil
		},
	}

	var sentDispatch gateway.Dispatch
	mailGateway := &fakeGateway{
		sendFn: func(ctx context.Context, d gateway.Dispatch) (*gateway.Result, error) {
			sentDispatch = d
			return &gateway.Result{StatusCode: 202, ProviderMessageID: "msg-42"}, nil
		},
	}

	reporter := &fakeReporter{
		succeededFn: func(ctx context.Context, trackingID string, providerMessageID string) (*domain.Attempt, error) {
			if trackingID != "tok-1" || providerMessageID != "msg-42" {
				t.Fatalf("DispatchSucceeded(%q, %q), want (tok-1, msg-42)", trackingID, providerMessageID)
			}
			return &stored, nil
		},
	}

	var recorded *domain.DispatchRecord
	records := &fakeRecordRepo{
		createFn: func(ctx context.Context, r *domain.DispatchRecord) error {
			recorded = r
			return nil
		},
	}

	waited := false
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, key string) error {
			waited = true
			return nil
		},
	}

	worker := newTestDispatchWorker(t, reporter, attempts, records, mailGateway, limiter)

	err := worker.processMessage(context.Background(), queue.DispatchMessage{AttemptID: "a-1", TrackingID: "tok-1"})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if !waited {
		t.Fatal("gateway send should go through the rate limiter")
	}
	if sentDispatch.TrackingOpenURL != "https://track.example.com/t/tok-1/open.gif" {
		t.Fatalf("open url = %q", sentDispatch.TrackingOpenURL)
	}
	if sentDispatch.TrackingClickURL != "https://track.example.com/t/tok-1/click" {
		t.Fatalf("click url = %q", sentDispatch.TrackingClickURL)
	}
	if recorded == nil || recorded.StatusCode == nil || *recorded.StatusCode != 202 {
		t.Fatalf("dispatch record = %+v, want status code 202", recorded)
	}
}

func TestDispatchWorkerProcessMessageGatewayFailure(t *testing.T) {
	t.Parallel()

	stored := pendingAttempt()
	attempts := &fakeAttemptRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Attempt, error) {
			copied := stored
			return &copied, nil
		},
	}

	mailGateway := &fakeGateway{
		sendFn: func(ctx context.Context, d gateway.Dispatch) (*gateway.Result, error) {
			return nil, &gateway.GatewayError{StatusCode: 502, Message: "gateway returned status 502", Transient: true}
		},
	}

	var failedReason string
	reporter := &fakeReporter{
		failedFn: func(ctx context.Context, trackingID string, reason string) (*domain.Attempt, error) {
			failedReason = reason
			return &stored, nil
		},
	}

	var recorded *domain.DispatchRecord
	records := &fakeRecordRepo{
		createFn: func(ctx context.Context, r *domain.DispatchRecord) error {
			recorded = r
			return nil
		},
	}

	worker := newTestDispatchWorker(t, reporter, attempts, records, mailGateway, nil)

	err := worker.processMessage(context.Background(), queue.DispatchMessage{AttemptID: "a-1", TrackingID: "tok-1"})
	if err != nil {
		t.Fatalf("processMessage() error = %v, failure outcomes must ack", err)
	}

	if !strings.Contains(failedReason, "502") {
		t.Fatalf("failure reason = %q, want gateway status included", failedReason)
	}
	if recorded == nil || recorded.Error == nil || recorded.StatusCode == nil || *recorded.StatusCode != 502 {
		t.Fatalf("dispatch record = %+v, want error and status code 502", recorded)
	}
}

func TestDispatchWorkerProcessMessageSkipsNonPending(t *testing.T) {
	t.Parallel()

	stored := pendingAttempt()
	stored.Status = domain.StatusSent

	attempts := &fakeAttemptRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Attempt, error) {
			copied := stored
			return &copied, nil
		},
	}

	sent := false
	mailGateway := &fakeGateway{
		sendFn: func(ctx context.Context, d gateway.Dispatch) (*gateway.Result, error) {
			sent = true
			return &gateway.Result{StatusCode: 202}, nil
		},
	}

	worker := newTestDispatchWorker(t, nil, attempts, nil, mailGateway, nil)

	err := worker.processMessage(context.Background(), queue.DispatchMessage{AttemptID: "a-1", TrackingID: "tok-1"})
	if err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}
	if sent {
		t.Fatal("non-PENDING attempt must not be dispatched again")
	}
}

func TestDispatchWorkerProcessMessageDiscardsUnknownAttempt(t *testing.T) {
	t.Parallel()

	worker := newTestDispatchWorker(t, nil, &fakeAttemptRepo{}, nil, nil, nil)

	err := worker.processMessage(context.Background(), queue.DispatchMessage{AttemptID: "no-such", TrackingID: "tok-x"})
	if err != nil {
		t.Fatalf("processMessage() error = %v, unknown attempts must be acked", err)
	}
}

func TestDispatchWorkerProcessMessageAbsorbsStaleOutcome(t *testing.T) {
	t.Parallel()

	stored := pendingAttempt()
	attempts := &fakeAttemptRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Attempt, error) {
			copied := stored
			return &copied, nil
		},
	}

	reporter := &fakeReporter{
		succeededFn: func(ctx context.Context, trackingID string, providerMessageID string) (*domain.Attempt, error) {
			return nil, domain.ErrInvalidTransition
		},
	}

	worker := newTestDispatchWorker(t, reporter, attempts, nil, nil, nil)

	err := worker.processMessage(context.Background(), queue.DispatchMessage{AttemptID: "a-1", TrackingID: "tok-1"})
	if err != nil {
		t.Fatalf("processMessage() error = %v, stale transitions must be acked", err)
	}
}

func TestDispatchWorkerProcessMessageRequeuesOnReportInfraFailure(t *testing.T) {
	t.Parallel()

	stored := pendingAttempt()
	attempts := &fakeAttemptRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Attempt, error) {
			copied := stored
			return &copied, nil
		},
	}

	reporter := &fakeReporter{
		succeededFn: func(ctx context.Context, trackingID string, providerMessageID string) (*domain.Attempt, error) {
			return nil, errors.New("database unavailable")
		},
	}

	worker := newTestDispatchWorker(t, reporter, attempts, nil, nil, nil)

	err := worker.processMessage(context.Background(), queue.DispatchMessage{AttemptID: "a-1", TrackingID: "tok-1"})
	if err == nil {
		t.Fatal("processMessage() expected error so the message is redelivered")
	}
}

type fakeReporter struct {
	succeededFn func(ctx context.Context, trackingID string, providerMessageID string) (*domain.Attempt, error)
	failedFn    func(ctx context.Context, trackingID string, reason string) (*domain.Attempt, error)
}

func (f *fakeReporter) DispatchSucceeded(ctx context.Context, trackingID string, providerMessageID string) (*domain.Attempt, error) {
	if f.succeededFn != nil {
		return f.succeededFn(ctx, trackingID, providerMessageID)
	}
	return nil, nil
}

func (f *fakeReporter) DispatchFailed(ctx context.Context, trackingID string, reason string) (*domain.Attempt, error) {
	if f.failedFn != nil {
		return f.failedFn(ctx, trackingID, reason)
	}
	return nil, nil
}

type fakeGateway struct {
	sendFn func(ctx context.Context, d gateway.Dispatch) (*gateway.Result, error)
}

func (f *fakeGateway) Send(ctx context.Context, d gateway.Dispatch) (*gateway.Result, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, d)
	}
	return &gateway.Result{StatusCode: 202}, nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeRecordRepo struct {
	createFn func(ctx context.Context, r *domain.DispatchRecord) error
}

func (f *fakeRecordRepo) Create(ctx context.Context, r *domain.DispatchRecord) error {
	if f.createFn != nil {
		return f.createFn(ctx, r)
	}
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

func TestFailureReasonTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "short reason unchanged",
			err:  errors.New("gateway returned 502"),
			want: "gateway returned 502",
		},
		{
			name: "blank reason replaced",
			err:  errors.New("   "),
			want: "gateway dispatch failed",
		},
		{
			name: "long ascii reason cut to limit",
			err:  errors.New(strings.Repeat("x", maxFailureReasonLen+100)),
			want: strings.Repeat("x", maxFailureReasonLen),
		},
		{
			// The limit falls inside the three-byte rune; the whole rune
			// must be dropped rather than split.
			name: "multi-byte rune straddling the limit",
			err:  errors.New(strings.Repeat("x", maxFailureReasonLen-1) + "日本"),
			want: strings.Repeat("x", maxFailureReasonLen-1),
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := failureReason(tc.err)
			if got != tc.want {
				t.Fatalf("failureReason() = %q, want %q", got, tc.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("failureReason() returned invalid utf-8: %q", got)
			}
			if len(got) > maxFailureReasonLen {
				t.Fatalf("failureReason() length = %d, want <= %d", len(got), maxFailureReasonLen)
			}
		})
	}
}
