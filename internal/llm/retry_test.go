package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, Timeout: time.Second, BaseBackoff: time.Millisecond}
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	mock := NewMockProvider("mock").
		AddError(errors.New("connection refused")).
		AddError(errors.New("connection reset by peer")).
		AddTextResponse("all good")

	p := WrapWithRetry(mock, fastRetry(2))
	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := collectEvents(t, stream)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got := textOf(events); got != "all good" {
		t.Fatalf("text=%q", got)
	}
	if got := countType(events, EventRetry); got != 2 {
		t.Fatalf("retry events=%d, want 2", got)
	}
	if got := countType(events, EventError); got != 0 {
		t.Fatalf("error events=%d, want 0", got)
	}
	if got := len(mock.Requests()); got != 3 {
		t.Fatalf("attempts=%d, want 3", got)
	}
}

func TestRetryExhaustedReturnsClassifiedError(t *testing.T) {
	mock := NewMockProvider("mock")
	for i := 0; i < 3; i++ {
		mock.AddError(errors.New("network unreachable"))
	}

	p := WrapWithRetry(mock, fastRetry(2))
	stream, _ := p.Stream(context.Background(), Request{})
	events, err := collectEvents(t, stream)
	if err == nil {
		t.Fatalf("expected error")
	}
	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClassifiedError, got %T", err)
	}
	if ce.Kind != ErrorNetwork {
		t.Fatalf("kind=%q, want network", ce.Kind)
	}
	if got := len(mock.Requests()); got != 3 {
		t.Fatalf("attempts=%d, want 3", got)
	}
	if got := countType(events, EventRetry); got != 2 {
		t.Fatalf("retry events=%d, want 2", got)
	}
}

func TestRetryValidationUsesAllAttempts(t *testing.T) {
	mock := NewMockProvider("mock")
	for i := 0; i < 3; i++ {
		mock.AddError(errors.New("request validation failed"))
	}

	stream, _ := WrapWithRetry(mock, fastRetry(2)).Stream(context.Background(), Request{})
	events, err := collectEvents(t, stream)
	var ce *ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ClassifiedError, got %v", err)
	}
	if ce.Kind != ErrorValidation {
		t.Fatalf("kind=%q, want validation", ce.Kind)
	}
	if got := len(mock.Requests()); got != 3 {
		t.Fatalf("attempts=%d, want 3", got)
	}
	if got := countType(events, EventRetry); got != 2 {
		t.Fatalf("retry events=%d, want 2", got)
	}
}

func TestRetryAuthFailsFast(t *testing.T) {
	mock := NewMockProvider("mock").
		AddError(errors.New("401 Unauthorized: invalid api key")).
		AddTextResponse("never")

	p := WrapWithRetry(mock, fastRetry(2))
	stream, _ := p.Stream(context.Background(), Request{})
	_, err := collectEvents(t, stream)
	if got := ClassifyError(err); got != ErrorAuth {
		t.Fatalf("kind=%q, want auth", got)
	}
	if got := len(mock.Requests()); got != 1 {
		t.Fatalf("attempts=%d, want 1", got)
	}
}

func TestRetryAuthWhenEnabled(t *testing.T) {
	mock := NewMockProvider("mock").
		AddError(errors.New("unauthorized")).
		AddTextResponse("ok")

	cfg := fastRetry(2)
	cfg.RetryAuth = true
	stream, _ := WrapWithRetry(mock, cfg).Stream(context.Background(), Request{})
	events, err := collectEvents(t, stream)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if textOf(events) != "ok" {
		t.Fatalf("text=%q", textOf(events))
	}
}

func TestRetryAttemptTimeout(t *testing.T) {
	h := &hangingProvider{}
	cfg := RetryConfig{MaxRetries: 1, Timeout: 20 * time.Millisecond, BaseBackoff: time.Millisecond}

	stream, _ := WrapWithRetry(h, cfg).Stream(context.Background(), Request{})
	_, err := collectEvents(t, stream)
	if got := ClassifyError(err); got != ErrorTimeout {
		t.Fatalf("kind=%q (err=%v), want timeout", got, err)
	}
	if got := h.calls.Load(); got != 2 {
		t.Fatalf("attempts=%d, want 2", got)
	}
}

func TestRetryNotAttemptedAfterOutput(t *testing.T) {
	mock := NewMockProvider("mock").
		AddTurn(
			Event{Type: EventTextDelta, Text: "partial "},
			Event{Type: EventError, Err: errors.New("connection reset")},
		).
		AddTextResponse("duplicate")

	stream, _ := WrapWithRetry(mock, fastRetry(2)).Stream(context.Background(), Request{})
	events, err := collectEvents(t, stream)
	if err == nil {
		t.Fatalf("expected error")
	}
	if textOf(events) != "partial " {
		t.Fatalf("text=%q", textOf(events))
	}
	if got := len(mock.Requests()); got != 1 {
		t.Fatalf("attempts=%d, want 1", got)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	h := &hangingProvider{}
	ctx, cancel := context.WithCancel(context.Background())
	stream, _ := WrapWithRetry(h, RetryConfig{MaxRetries: 5, Timeout: time.Minute, BaseBackoff: time.Millisecond}).Stream(ctx, Request{})

	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := collectEvents(t, stream)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if got := h.calls.Load(); got != 1 {
		t.Fatalf("attempts=%d, want 1", got)
	}
}

func TestCalculateBackoff(t *testing.T) {
	r := WrapWithRetry(NewMockProvider("m"), RetryConfig{BaseBackoff: time.Second})
	if got := r.calculateBackoff(0); got != time.Second {
		t.Fatalf("attempt 0: %v", got)
	}
	if got := r.calculateBackoff(1); got != 2*time.Second {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := r.calculateBackoff(4); got != 16*time.Second {
		t.Fatalf("attempt 4: %v", got)
	}

	r = WrapWithRetry(NewMockProvider("m"), RetryConfig{BaseBackoff: time.Second, MaxBackoff: 3 * time.Second, Jitter: true})
	for i := 0; i < 20; i++ {
		if got := r.calculateBackoff(5); got > 3*time.Second {
			t.Fatalf("backoff %v exceeds cap", got)
		}
	}
}
