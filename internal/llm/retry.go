package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/pitwall/pitwall/internal/observability"
)

type RetryConfig struct {
	Provider   string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// Retrying re-issues a request after transient upstream failures with doubling delays.
type Retrying struct {
	next  Client
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrying(next Client, cfg RetryConfig) *Retrying {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DiscardLogger()
	}
	return &Retrying{next: next, cfg: cfg, sleep: sleepContext}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.cfg.Logger.WarnContext(ctx, "llm_retry",
				slog.String("provider", r.cfg.Provider),
				slog.String("purpose", string(req.Purpose)),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()),
			)
			observability.IncrementLLMRetry(r.cfg.Provider)
			if err := r.sleep(ctx, delay); err != nil {
				observability.ObserveLLMCall(r.cfg.Provider, string(req.Purpose), "canceled")
				return Response{}, errors.Join(lastErr, err)
			}
		}

		resp, err := r.next.Complete(ctx, req)
		if err == nil {
			observability.ObserveLLMCall(r.cfg.Provider, string(req.Purpose), "ok")
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			break
		}
	}
	observability.ObserveLLMCall(r.cfg.Provider, string(req.Purpose), "error")
	return Response{}, lastErr
}

func (r *Retrying) delay(attempt int) time.Duration {
	delay := r.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	return delay
}

// IsTransient reports whether err is worth retrying: rate limits, server errors and
// network failures. Cancellation by the caller is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
