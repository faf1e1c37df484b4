// Package notify delivers typed consent lifecycle events to outbound sinks.
//
// Publishers never block: events go through a bounded queue and are dropped
// with a warning when it is full. A single worker fans each event out to every
// sink in order.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindRequestCreated  Kind = "request-created"
	KindConsentGranted  Kind = "consent-granted"
	KindConsentRevoked  Kind = "consent-revoked"
	KindOperationFailed Kind = "operation-failed"
)

// Event is the payload delivered to sinks.
type Event struct {
	Kind          Kind       `json:"kind"`
	ConsentID     string     `json:"consent_id,omitempty"`
	Actor         string     `json:"actor,omitempty"`
	Counterparty  string     `json:"counterparty,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	TxID          string     `json:"tx_id,omitempty"`
	Round         uint64     `json:"round,omitempty"`
	Optimistic    bool       `json:"optimistic,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorCode     string     `json:"error_code,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Sink receives events from the dispatcher worker.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

const DefaultBuffer = 256

// Dispatcher is safe for concurrent use. Close must be called to flush.
type Dispatcher struct {
	queue   chan Event
	sinks   []Sink
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	now     func() time.Time

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

type Option func(*Dispatcher)

func WithBuffer(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithDeliveryTimeout bounds each sink delivery.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   make(chan Event, DefaultBuffer),
		sinks:   sinks,
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues event and reports whether it was accepted.
func (d *Dispatcher) Publish(event Event) bool {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- event:
		return true
	default:
		if d.metrics != nil {
			d.metrics.Dropped.WithLabelValues(string(event.Kind)).Inc()
		}
		if d.logger != nil {
			d.logger.Warn("notification queue full, event dropped",
				"kind", event.Kind,
				"consent_id", event.ConsentID,
			)
		}
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := sink.Deliver(ctx, event); err != nil {
		if d.metrics != nil {
			d.metrics.Failed.WithLabelValues(sink.Name()).Inc()
		}
		if d.logger != nil {
			d.logger.Error("notification delivery failed",
				"sink", sink.Name(),
				"kind", event.Kind,
				"consent_id", event.ConsentID,
				"error", err,
			)
		}
		return
	}
	if d.metrics != nil {
		d.metrics.Delivered.WithLabelValues(sink.Name(), string(event.Kind)).Inc()
	}
}
