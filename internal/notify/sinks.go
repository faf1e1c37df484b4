package notify

import (
	"context"
	"log/slog"
	"sync"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, e Event) error {
	s.logger.InfoContext(ctx, "consent notification",
		"kind", e.Kind,
		"consent_id", e.ConsentID,
		"tx_id", e.TxID,
		"optimistic", e.Optimistic,
		"error_code", e.ErrorCode,
	)
	return nil
}

// MemorySink keeps delivered events for inspection.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Deliver(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
