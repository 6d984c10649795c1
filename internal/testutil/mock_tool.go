package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/tools"
)

// MockTool is a configurable tool for testing.
type MockTool struct {
	SpecData  llm.ToolSpec
	ExecuteFn func(ctx context.Context, args json.RawMessage, ec *tools.ExecutionContext) (any, error)

	mu          sync.Mutex
	Invocations []MockToolInvocation
}

// MockToolInvocation records a single tool invocation.
type MockToolInvocation struct {
	Args   json.RawMessage
	Result any
	Error  error
}

// Spec implements tools.Handler.
func (m *MockTool) Spec() llm.ToolSpec {
	return m.SpecData
}

// Execute implements tools.Handler.
func (m *MockTool) Execute(ctx context.Context, args json.RawMessage, ec *tools.ExecutionContext) (any, error) {
	var result any
	var err error
	if m.ExecuteFn != nil {
		result, err = m.ExecuteFn(ctx, args, ec)
	}
	m.mu.Lock()
	m.Invocations = append(m.Invocations, MockToolInvocation{Args: args, Result: result, Error: err})
	m.mu.Unlock()
	return result, err
}

// NewMockTool creates a mock tool with the given name that returns a fixed result.
func NewMockTool(name string, result any) *MockTool {
	return &MockTool{
		SpecData: llm.ToolSpec{
			Name:        name,
			Description: "Mock tool: " + name,
			Schema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		ExecuteFn: func(context.Context, json.RawMessage, *tools.ExecutionContext) (any, error) {
			return result, nil
		},
	}
}

// NewFailingTool creates a mock tool whose every invocation fails with err.
func NewFailingTool(name string, err error) *MockTool {
	m := NewMockTool(name, nil)
	m.ExecuteFn = func(context.Context, json.RawMessage, *tools.ExecutionContext) (any, error) {
		return nil, err
	}
	return m
}

// InvocationCount returns the number of times the tool was invoked.
func (m *MockTool) InvocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Invocations)
}

// LastArgs returns the arguments from the last invocation, or nil if never invoked.
func (m *MockTool) LastArgs() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Invocations) == 0 {
		return nil
	}
	return m.Invocations[len(m.Invocations)-1].Args
}
