package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Publisher is the message broker surface the sink needs. Implemented by
// shared/rabbitmq.Client.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Sink announces terminal job outcomes on a side channel. Delivery is
// fire-and-forget: it runs detached from the job lifecycle and its failures
// never affect job state.
type Sink struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewSink creates a new notification sink
func NewSink(publisher Publisher, logger *slog.Logger) *Sink {
	return &Sink{
		publisher: publisher,
		timeout:   10 * time.Second,
		logger:    logger,
	}
}

// Announce publishes a terminal-outcome event in a detached goroutine with
// its own error boundary.
func (s *Sink) Announce(event interface{}) {
	if s.publisher == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Notification publish panicked",
					slog.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		body, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("Failed to encode terminal outcome event",
				slog.String("error", err.Error()),
			)
			return
		}

		if err := s.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
			s.logger.Error("Failed to publish terminal outcome event",
				slog.String("error", err.Error()),
			)
		}
	}()
}
