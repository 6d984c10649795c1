package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MockProvider replays scripted turns. Each Stream call consumes the next
// turn; once the script is exhausted it answers with an empty turn.
type MockProvider struct {
	name string

	mu       sync.Mutex
	turns    []mockTurn
	requests []Request
}

type mockTurn struct {
	events []Event
	err    error // returned from Stream itself
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

// AddTextResponse scripts a turn that streams text word by word.
func (m *MockProvider) AddTextResponse(text string) *MockProvider {
	var events []Event
	for _, chunk := range splitWords(text) {
		events = append(events, Event{Type: EventTextDelta, Text: chunk})
	}
	events = append(events,
		Event{Type: EventUsage, Use: &Usage{InputTokens: 10, OutputTokens: len(events)}},
		Event{Type: EventTurnEnd},
	)
	return m.AddTurn(events...)
}

// AddToolCall scripts a turn that requests one tool call. args may be a
// string of raw JSON or any value that marshals to JSON.
func (m *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	raw, ok := args.(string)
	if !ok {
		data, err := json.Marshal(args)
		if err != nil {
			panic(fmt.Sprintf("mock tool args: %v", err))
		}
		raw = string(data)
	}
	return m.AddTurn(
		Event{Type: EventToolCallStart, ToolCallID: id, ToolName: name},
		Event{Type: EventToolCallDelta, ToolCallID: id, Text: raw},
		Event{Type: EventToolCallDone},
		Event{Type: EventTurnEnd},
	)
}

// AddTurn scripts a turn from raw events.
func (m *MockProvider) AddTurn(events ...Event) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{events: events})
	return m
}

// AddError scripts a turn whose Stream call fails.
func (m *MockProvider) AddError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{err: err})
	return m
}

// Requests returns a copy of every request seen so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	req.Messages = append([]Message(nil), req.Messages...)
	m.requests = append(m.requests, req)
	var turn mockTurn
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	} else {
		turn = mockTurn{events: []Event{{Type: EventTurnEnd}}}
	}
	m.mu.Unlock()

	if turn.err != nil {
		return nil, turn.err
	}
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for _, ev := range turn.events {
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}), nil
}

// splitWords splits text into chunks that keep their trailing spaces.
func splitWords(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for len(text) > 0 {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			out = append(out, text)
			break
		}
		out = append(out, text[:i+1])
		text = text[i+1:]
	}
	return out
}
