package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

type pendingCall struct {
	id       string
	name     string
	args     strings.Builder
	fallback string
}

// ToolCallAssembler turns the tool-call events of one model turn into
// complete ToolCalls.
//
// A call is finalized exactly once: when a call with a different id starts,
// when the turn signals EventToolCallDone, or when Done is called. Argument
// fragments are concatenated in arrival order and only parsed on
// finalization; anything that is not a JSON object becomes {}.
type ToolCallAssembler struct {
	open      []*pendingCall
	byID      map[string]*pendingCall
	finalized map[string]bool
	calls     []ToolCall
	seq       int
}

func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{
		byID:      make(map[string]*pendingCall),
		finalized: make(map[string]bool),
	}
}

// Handle applies a stream event. It reports whether the event was a
// tool-call event.
func (a *ToolCallAssembler) Handle(ev Event) bool {
	switch ev.Type {
	case EventToolCallStart:
		a.Start(ev.ToolCallID, ev.ToolName, ev.Text)
	case EventToolCallDelta:
		a.Append(ev.ToolCallID, ev.Text)
	case EventToolCallDone:
		a.Done()
	default:
		return false
	}
	return true
}

// Start opens a call. Any other open call is finalized first.
func (a *ToolCallAssembler) Start(id, name, initialArgs string) {
	if id == "" {
		id = fmt.Sprintf("toolcall-%d", a.seq+1)
	}
	if a.finalized[id] {
		return
	}
	if p, ok := a.byID[id]; ok {
		if p.name == "" {
			p.name = name
		}
		if p.fallback == "" {
			p.fallback = initialArgs
		}
		return
	}
	a.finalizeAll()
	a.seq++
	p := &pendingCall{id: id, name: name, fallback: initialArgs}
	a.open = append(a.open, p)
	a.byID[id] = p
}

// Append adds an argument fragment. An empty id targets the most recently
// started open call.
func (a *ToolCallAssembler) Append(id, fragment string) {
	if fragment == "" {
		return
	}
	var p *pendingCall
	if id == "" {
		if len(a.open) == 0 {
			return
		}
		p = a.open[len(a.open)-1]
	} else {
		if a.finalized[id] {
			return
		}
		p = a.byID[id]
		if p == nil {
			a.Start(id, "", "")
			p = a.byID[id]
		}
	}
	p.args.WriteString(fragment)
}

// Done finalizes every open call. Calling it again is a no-op.
func (a *ToolCallAssembler) Done() {
	a.finalizeAll()
}

// Calls returns the finalized calls in the order they were started.
func (a *ToolCallAssembler) Calls() []ToolCall {
	out := make([]ToolCall, len(a.calls))
	copy(out, a.calls)
	return out
}

// Pending reports how many calls are still open.
func (a *ToolCallAssembler) Pending() int {
	return len(a.open)
}

func (a *ToolCallAssembler) finalizeAll() {
	for _, p := range a.open {
		raw := p.args.String()
		if strings.TrimSpace(raw) == "" {
			raw = p.fallback
		}
		a.calls = append(a.calls, ToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: normalizeArguments(p.name, raw),
		})
		a.finalized[p.id] = true
		delete(a.byID, p.id)
	}
	a.open = a.open[:0]
}

// normalizeArguments returns raw when it is a JSON object and {} otherwise.
func normalizeArguments(name, raw string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		slog.Warn("discarding malformed tool arguments", "tool", name, "bytes", len(trimmed))
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(trimmed)
}

// ParseArguments decodes tool arguments into a map, returning an empty map
// for anything that is not a JSON object.
func ParseArguments(raw json.RawMessage) map[string]interface{} {
	out := map[string]interface{}{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}
