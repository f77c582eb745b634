package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phishsim/campaign-engine/internal/domain"
	"github.com/phishsim/campaign-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultPublishTimeout = time.Second
	defaultBuffer         = 16
)

// Hub maintains the set of currently connected observers and fans lifecycle
// events out to them. The observer set is guarded by its own lock, decoupled
// from attempt mutation: observer churn is unrelated to any specific attempt.
type Hub struct {
	timeout time.Duration
	buffer  int
	logger  *zap.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	observers map[string]*Subscription
	closed    bool
}

// Subscription is one connected observer's handle on the hub.
type Subscription struct {
	id        string
	ch        chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
	hub       *Hub
}

func (s *Subscription) ID() string { return s.id }

// Events yields the lifecycle events offered to this observer.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Done is closed when the hub drops or closes this subscription.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close removes the subscription from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

func NewHub(timeout time.Duration, buffer int, logger *zap.Logger) *Hub {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if buffer < 1 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		timeout:   timeout,
		buffer:    buffer,
		logger:    logger,
		observers: make(map[string]*Subscription),
	}
}

func (h *Hub) SetMetrics(metrics *observability.Metrics) {
	if h == nil {
		return
	}
	h.metrics = metrics
}

// Subscribe registers a new observer. The returned subscription receives
// every event published after registration; nothing is replayed.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:   uuid.NewString(),
		ch:   make(chan domain.Event, h.buffer),
		done: make(chan struct{}),
		hub:  h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.closeOnce.Do(func() { close(sub.done) })
		return sub
	}
	h.observers[sub.id] = sub
	h.mu.Unlock()

	h.metrics.IncObserverConnected()
	h.logger.Debug("observer subscribed", zap.String("observerId", sub.id))
	return sub
}

// Publish offers the event to every observer connected at the moment of the
// call. An observer that does not accept the event within the hub's timeout
// is dropped from the connected set rather than stalling the publisher;
// other observers are unaffected.
func (h *Hub) Publish(event domain.Event) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.observers))
	for _, sub := range h.observers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.offer(sub, event)
	}

	h.metrics.IncEventPublished()
}

func (h *Hub) offer(sub *Subscription, event domain.Event) {
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case sub.ch <- event:
	case <-sub.done:
	case <-timer.C:
		h.logger.Warn("dropping slow observer",
			zap.String("observerId", sub.id),
			zap.Duration("timeout", h.timeout),
		)
		h.metrics.IncObserverDropped()
		h.unsubscribe(sub.id)
	}
}

// Len returns the number of currently connected observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Close disconnects every observer and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.observers))
	for _, sub := range h.observers {
		subs = append(subs, sub)
	}
	h.observers = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeOnce.Do(func() { close(sub.done) })
		h.metrics.DecObserverConnected()
	}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.observers[id]
	if ok {
		delete(h.observers, id)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	sub.closeOnce.Do(func() { close(sub.done) })
	h.metrics.DecObserverConnected()
	h.logger.Debug("observer unsubscribed", zap.String("observerId", id))
}
