package chat

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kidsclubplans/kcp/internal/memory"
	"github.com/kidsclubplans/kcp/internal/store"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"content", ContentEvent("hi"), `data: {"type":"content","data":{"content":"hi"}}`},
		{"tool call", ToolCallEvent("c1", "check_weather", nil), `data: {"type":"tool_call","data":{"id":"c1","name":"check_weather","arguments":{}}}`},
		{"error", ErrorEvent("RAG error: down", "network"), `data: {"type":"error","data":{"message":"RAG error: down","error_type":"network"}}`},
		{"done", DoneEvent("abc"), `data: {"type":"done","data":{"conversation_id":"abc"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want+"\n\n" {
				t.Fatalf("Encode() = %q, want %q", got, tt.want+"\n\n")
			}
		})
	}
}

func TestEncodeActivity(t *testing.T) {
	got, err := Encode(ActivityEvent(store.Activity{ID: "a1", Title: "Tag", AgeGroup: "5-6 years"}))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	s := string(got)
	if !strings.HasPrefix(s, `data: {"type":"activity","data":{"id":"a1","title":"Tag"`) {
		t.Fatalf("unexpected frame %s", s)
	}
	if !strings.Contains(s, `"development_age_group":"5-6 years"`) {
		t.Fatalf("age group missing from %s", s)
	}
}

func TestSSEWriterFlushesEachFrame(t *testing.T) {
	rr := httptest.NewRecorder()
	SetSSEHeaders(rr)
	w := NewSSEWriter(rr)

	if err := w.Emit(ContentEvent("a")); err != nil {
		t.Fatal(err)
	}
	if !rr.Flushed {
		t.Fatal("expected flush after first frame")
	}
	if err := w.Emit(DoneEvent("")); err != nil {
		t.Fatal(err)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	frames := strings.Split(strings.TrimSuffix(rr.Body.String(), "\n\n"), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("frames = %q", frames)
	}
}

func TestSystemPrompt(t *testing.T) {
	if SystemPrompt(nil) != BasePrompt {
		t.Fatal("nil context should leave the base prompt alone")
	}
	got := SystemPrompt(memory.UserContext{
		Preferences:     memory.Preferences{PrefersOutdoor: true},
		CommonAgeGroups: []string{"7-8 years"},
	})
	if !strings.HasPrefix(got, BasePrompt+"\n\nUser context:\n{\n  \"preferences\": {\n    \"prefers_outdoor\": true\n  },") {
		t.Fatalf("unexpected prompt tail:\n%s", strings.TrimPrefix(got, BasePrompt))
	}
}
