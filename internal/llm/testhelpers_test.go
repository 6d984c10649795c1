package llm

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// collectEvents drains a stream, returning its events and terminal error
// (nil on io.EOF).
func collectEvents(t *testing.T, stream Stream) ([]Event, error) {
	t.Helper()
	defer stream.Close()
	var events []Event
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func textOf(events []Event) string {
	var s string
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			s += ev.Text
		}
	}
	return s
}

// hangingProvider opens streams that never produce an event.
type hangingProvider struct {
	calls atomic.Int32
}

func (h *hangingProvider) Name() string { return "hang" }

func (h *hangingProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	h.calls.Add(1)
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		<-ctx.Done()
		return ctx.Err()
	}), nil
}
