package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Notification is a one-shot message for the user.
type Notification struct {
	ID     string `json:"id"`
	Prayer string `json:"prayer"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	// ScheduledDelay is the delay the notification was armed with.
	ScheduledDelay time.Duration `json:"-"`
}

// ScheduledDelayMs is ScheduledDelay in milliseconds.
func (n Notification) ScheduledDelayMs() int64 { return n.ScheduledDelay.Milliseconds() }

// Sink delivers notifications. Delivery is fire-and-forget: the error is only
// there so callers can log it.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log.
type LogSink struct{}

func (LogSink) Send(_ context.Context, n Notification) error {
	log.Info().
		Str("id", n.ID).
		Str("prayer", n.Prayer).
		Str("title", n.Title).
		Str("body", n.Body).
		Int64("scheduled_delay_ms", n.ScheduledDelayMs()).
		Msg("notification")
	return nil
}

// Multi sends to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }
