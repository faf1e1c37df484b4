package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher appends history entries. In async mode entries are queued and
// persisted by a background goroutine; a full queue drops the entry with a
// warning instead of blocking the caller.
type Publisher struct {
	store  Store
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
	now    func() time.Time
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the given queue size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.store.Append(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"action", event.Action,
				"consent_id", event.ConsentID,
			)
		}
	}
}

// Close stops the async worker after the queue drains.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if !p.async {
		return p.store.Append(ctx, event)
	}
	select {
	case p.events <- event:
	default:
		if p.logger != nil {
			p.logger.Warn("audit buffer full, event dropped",
				"action", event.Action,
				"consent_id", event.ConsentID,
			)
		}
	}
	return nil
}

// History returns the entries recorded for one consent, oldest first.
func (p *Publisher) History(ctx context.Context, consentID string) ([]Event, error) {
	return p.store.ListByConsent(ctx, consentID)
}
