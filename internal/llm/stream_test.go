package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestEventStreamDeliversThenEOF(t *testing.T) {
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "a"}
		events <- Event{Type: EventTurnEnd}
		return nil
	})
	ev, err := s.Recv()
	if err != nil || ev.Text != "a" {
		t.Fatalf("first Recv=%+v, %v", ev, err)
	}
	if ev, _ := s.Recv(); ev.Type != EventTurnEnd {
		t.Fatalf("second event=%s", ev.Type)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("err=%v, want EOF", err)
	}
	if _, err := s.Recv(); err != io.EOF {
		t.Fatalf("repeat Recv err=%v, want EOF", err)
	}
}

func TestEventStreamReportsProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		events <- Event{Type: EventTextDelta, Text: "a"}
		return boom
	})
	if _, err := s.Recv(); err != nil {
		t.Fatalf("first Recv err=%v", err)
	}
	if _, err := s.Recv(); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
}

func TestEventStreamCloseCancelsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := newEventStream(context.Background(), func(ctx context.Context, events chan<- Event) error {
		defer close(stopped)
		for {
			select {
			case events <- Event{Type: EventTextDelta, Text: "x"}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	s.Close()
	s.Close()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer did not stop after Close")
	}
}

func TestMockProviderRecordsRequests(t *testing.T) {
	p := NewMockProvider("mock").AddTextResponse("Hello, world!")

	stream, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("Hi")}})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	events, err := collectEvents(t, stream)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got := textOf(events); got != "Hello, world!" {
		t.Fatalf("text=%q", got)
	}
	if countType(events, EventTextDelta) != 2 {
		t.Fatalf("expected word chunks, got %d deltas", countType(events, EventTextDelta))
	}

	reqs := p.Requests()
	if len(reqs) != 1 || LastUserText(reqs[0].Messages) != "Hi" {
		t.Fatalf("requests=%+v", reqs)
	}

	// exhausted script answers with an empty turn
	stream, _ = p.Stream(context.Background(), Request{})
	events, _ = collectEvents(t, stream)
	if len(events) != 1 || events[0].Type != EventTurnEnd {
		t.Fatalf("events=%+v", events)
	}
}
