package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Timeout bounds the wait for the stream to open and for each
	// following event. Zero disables it.
	Timeout     time.Duration
	BaseBackoff time.Duration
	// MaxBackoff caps a single wait. Zero leaves it unbounded.
	MaxBackoff time.Duration
	Jitter     bool
	RetryAuth  bool
}

// DefaultRetryConfig returns the defaults used by the chat service.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		Timeout:     30 * time.Second,
		BaseBackoff: 1 * time.Second,
	}
}

// RetryProvider wraps a provider with bounded retry on provider failures.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WrapWithRetry wraps a provider with retry logic.
func WrapWithRetry(p Provider, config RetryConfig) *RetryProvider {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &RetryProvider{inner: p, config: config}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

// Unwrap returns the wrapped provider.
func (r *RetryProvider) Unwrap() Provider {
	return r.inner
}

var errAttemptTimeout = errors.New("provider call timed out")

// Stream runs up to MaxRetries+1 attempts. An attempt that already forwarded
// content is not retried, since the caller has seen its output. The final
// error is always a *ClassifiedError.
func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		maxAttempts := r.config.MaxRetries + 1
		var lastErr *ClassifiedError

		for attempt := 0; attempt < maxAttempts; attempt++ {
			forwarded, err := r.attempt(ctx, req, events)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			kind := ClassifyError(err)
			lastErr = &ClassifiedError{Kind: kind, Err: err}

			if forwarded {
				slog.Warn("provider stream failed after output was sent", "provider", r.inner.Name(), "kind", kind, "error", err)
				return lastErr
			}
			if !kind.IsRetryable(r.config.RetryAuth) {
				slog.Warn("provider call failed", "provider", r.inner.Name(), "kind", kind, "error", err)
				return lastErr
			}
			if attempt+1 >= maxAttempts {
				break
			}

			wait := r.calculateBackoff(attempt)
			slog.Warn("provider call failed, retrying",
				"provider", r.inner.Name(),
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"kind", kind,
				"wait", wait,
				"error", err)

			select {
			case events <- Event{
				Type:             EventRetry,
				RetryAttempt:     attempt + 1,
				RetryMaxAttempts: maxAttempts,
				RetryWaitSecs:    wait.Seconds(),
				RetryKind:        kind,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		slog.Error("provider call failed, retries exhausted", "provider", r.inner.Name(), "attempts", maxAttempts, "kind", lastErr.Kind, "error", lastErr.Err)
		return lastErr
	}), nil
}

// attempt opens one inner stream and forwards its events. It reports
// whether any content reached the caller.
func (r *RetryProvider) attempt(ctx context.Context, req Request, events chan<- Event) (bool, error) {
	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var timer *time.Timer
	if r.config.Timeout > 0 {
		timer = time.AfterFunc(r.config.Timeout, func() { cancel(errAttemptTimeout) })
		defer timer.Stop()
	}

	timedOut := func(err error) error {
		if errors.Is(context.Cause(attemptCtx), errAttemptTimeout) {
			return &ClassifiedError{
				Kind: ErrorTimeout,
				Err:  fmt.Errorf("%w after %s", errAttemptTimeout, r.config.Timeout),
			}
		}
		return err
	}

	stream, err := r.inner.Stream(attemptCtx, req)
	if err != nil {
		return false, timedOut(err)
	}
	defer stream.Close()

	forwarded := false
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			if cause := context.Cause(attemptCtx); errors.Is(cause, errAttemptTimeout) {
				return forwarded, timedOut(cause)
			}
			return forwarded, nil
		}
		if err != nil {
			return forwarded, timedOut(err)
		}
		if timer != nil {
			timer.Reset(r.config.Timeout)
		}

		if event.Type == EventError && event.Err != nil {
			return forwarded, event.Err
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
		switch event.Type {
		case EventTextDelta, EventToolCallStart, EventToolCallDelta:
			forwarded = true
		}
	}
}

// calculateBackoff returns BaseBackoff * 2^attempt, optionally with +/-25%
// jitter, capped by MaxBackoff when set.
func (r *RetryProvider) calculateBackoff(attempt int) time.Duration {
	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt))

	if r.config.Jitter {
		jitter := (rand.Float64() - 0.5) * 0.5 * backoff
		backoff += jitter
	}

	if r.config.MaxBackoff > 0 && backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}
