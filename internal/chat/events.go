package chat

import (
	"github.com/kidsclubplans/kcp/internal/store"
)

// EventType tags an outward stream event.
type EventType string

const (
	EventContent  EventType = "content"
	EventActivity EventType = "activity"
	EventToolCall EventType = "tool_call"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Event is one outward stream event. Data holds the payload struct for
// Type.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type ContentData struct {
	Content string `json:"content"`
}

type ToolCallData struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ErrorData struct {
	Message   string `json:"message"`
	ErrorType string `json:"error_type"`
}

type DoneData struct {
	ConversationID string `json:"conversation_id"`
}

// Emitter receives events in production order. A non-nil error means the
// client is gone and the producer should stop.
type Emitter func(Event) error

func ContentEvent(text string) Event {
	return Event{Type: EventContent, Data: ContentData{Content: text}}
}

func ActivityEvent(a store.Activity) Event {
	return Event{Type: EventActivity, Data: a}
}

func ToolCallEvent(id, name string, args map[string]any) Event {
	if args == nil {
		args = map[string]any{}
	}
	return Event{Type: EventToolCall, Data: ToolCallData{ID: id, Name: name, Arguments: args}}
}

func ErrorEvent(message, errorType string) Event {
	return Event{Type: EventError, Data: ErrorData{Message: message, ErrorType: errorType}}
}

func DoneEvent(conversationID string) Event {
	return Event{Type: EventDone, Data: DoneData{ConversationID: conversationID}}
}
