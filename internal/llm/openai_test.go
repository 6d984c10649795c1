package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/openai/openai-go/option"
)

const openAIToolStream = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"Checking"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"content":" now"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"check_weather","arguments":""}}]},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"location\":"}}]},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Detroit\"}"}}]},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"search_activities","arguments":"{\"query\":\"art\"}"}}]},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-test","choices":[],"usage":{"prompt_tokens":30,"completion_tokens":12,"total_tokens":42}}

data: [DONE]

`

func TestOpenAIStreamNormalizesEvents(t *testing.T) {
	var payload map[string]any
	httpClient := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			defer r.Body.Close()
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &payload)
			return sseResponse(openAIToolStream), nil
		}),
	}
	p := NewOpenAIProvider("test-key", "gpt-test", "https://example.test/v1", option.WithHTTPClient(httpClient))

	stream, err := p.Stream(context.Background(), Request{
		Messages:    []Message{SystemText("sys"), UserText("weather?")},
		Tools:       []ToolSpec{{Name: "check_weather", Description: "Weather", Schema: map[string]interface{}{"type": "object"}}},
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	events, err := collectEvents(t, stream)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}

	if got := textOf(events); got != "Checking now" {
		t.Fatalf("text=%q", got)
	}
	if got := countType(events, EventToolCallDone); got != 1 {
		t.Fatalf("tool_call_done=%d, want 1", got)
	}
	if got := countType(events, EventUsage); got != 1 {
		t.Fatalf("usage=%d, want 1", got)
	}
	if events[len(events)-1].Type != EventTurnEnd {
		t.Fatalf("last event=%s, want turn_end", events[len(events)-1].Type)
	}

	asm := NewToolCallAssembler()
	for _, ev := range events {
		asm.Handle(ev)
	}
	calls := asm.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls=%d, want 2", len(calls))
	}
	if calls[0].ID != "call_1" || string(calls[0].Arguments) != `{"location":"Detroit"}` {
		t.Fatalf("first call=%+v args=%s", calls[0], calls[0].Arguments)
	}
	if calls[1].ID != "call_2" || calls[1].Name != "search_activities" {
		t.Fatalf("second call=%+v", calls[1])
	}

	if payload["tool_choice"] != "auto" {
		t.Fatalf("tool_choice=%v", payload["tool_choice"])
	}
}

func TestOpenAIToolStateSynthesizesMissingID(t *testing.T) {
	s := newOpenAIToolState()
	evs := s.apply(2, "", "save_activity", `{"title":`)
	if len(evs) != 2 {
		t.Fatalf("events=%d, want 2", len(evs))
	}
	if evs[0].ToolCallID != "toolcall-2" || evs[1].ToolCallID != "toolcall-2" {
		t.Fatalf("ids=%q,%q", evs[0].ToolCallID, evs[1].ToolCallID)
	}
	evs = s.apply(2, "", "", `"x"}`)
	if len(evs) != 1 || evs[0].Type != EventToolCallDelta || evs[0].ToolCallID != "toolcall-2" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestBuildOpenAIMessagesToolRound(t *testing.T) {
	msgs := buildOpenAIMessages([]Message{
		SystemText("sys"),
		UserText("hi"),
		AssistantToolCalls("thinking", []ToolCall{{ID: "c1", Name: "check_weather"}}),
		ToolResultMessage("c1", "check_weather", `{"ok":true}`, false),
	})
	if len(msgs) != 4 {
		t.Fatalf("messages=%d, want 4", len(msgs))
	}
	assistant := msgs[2].OfAssistant
	if assistant == nil || len(assistant.ToolCalls) != 1 {
		t.Fatalf("expected assistant message with one tool call")
	}
	if assistant.ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("empty args should be sent as {}, got %q", assistant.ToolCalls[0].Function.Arguments)
	}
	if msgs[3].OfTool == nil || msgs[3].OfTool.ToolCallID != "c1" {
		t.Fatalf("expected tool message keyed to c1")
	}
}
