// Package tools provides the activity-planning tools the model can call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kidsclubplans/kcp/internal/llm"
)

// ToolErrorType provides structured errors for tool failures.
type ToolErrorType string

const (
	ErrInvalidParams   ToolErrorType = "INVALID_PARAMS"
	ErrNotFound        ToolErrorType = "NOT_FOUND"
	ErrUnavailable     ToolErrorType = "UNAVAILABLE"
	ErrExecutionFailed ToolErrorType = "EXECUTION_FAILED"
	ErrTimeout         ToolErrorType = "TIMEOUT"
)

// ToolError provides structured error information.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(errType ToolErrorType, message string) *ToolError {
	return &ToolError{Type: errType, Message: message}
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...any) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// Handler is one callable tool. Execute returns a JSON-serializable value.
type Handler interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args json.RawMessage, ec *ExecutionContext) (any, error)
}

// Result is the outcome of one tool invocation.
type Result struct {
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters"`
	Result       any            `json:"result,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ExecutedAt   time.Time      `json:"executed_at"`
}

// Content is the tool message body sent back to the model: the serialized
// result on success, {"error": message} on failure.
func (r Result) Content() string {
	var v any = r.Result
	if !r.Success {
		v = map[string]string{"error": r.ErrorMessage}
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"error": "unserializable tool result: " + err.Error()})
	}
	return string(data)
}

// Tool names
const (
	SearchActivitiesToolName     = "search_activities"
	CheckWeatherToolName         = "check_weather"
	GenerateScheduleToolName     = "generate_schedule"
	BlendActivitiesToolName      = "blend_activities"
	AnalyzeDatabaseGapsToolName  = "analyze_database_gaps"
	GenerateFromSuppliesToolName = "generate_from_supplies"
	SaveActivityToolName         = "save_activity"
)

// AllToolNames returns all tool names in registration order.
func AllToolNames() []string {
	return []string{
		SearchActivitiesToolName,
		CheckWeatherToolName,
		GenerateScheduleToolName,
		BlendActivitiesToolName,
		AnalyzeDatabaseGapsToolName,
		GenerateFromSuppliesToolName,
		SaveActivityToolName,
	}
}
