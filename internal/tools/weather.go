package tools

import (
	"context"
	"encoding/json"

	"github.com/kidsclubplans/kcp/internal/llm"
)

type checkWeatherArgs struct {
	Location string `json:"location,omitempty" jsonschema:"description=City name (defaults to the program location)" validate:"max=100"`
	Date     string `json:"date,omitempty" jsonschema:"description=Day to check as YYYY-MM-DD (defaults to today)" validate:"omitempty,datetime=2006-01-02"`
}

// CheckWeatherTool reports the weather and whether outdoor play is advisable.
type CheckWeatherTool struct {
	spec toolSpec
}

func NewCheckWeatherTool() *CheckWeatherTool {
	return &CheckWeatherTool{spec: newToolSpec[checkWeatherArgs](
		CheckWeatherToolName,
		"Check the weather for a location and date. Reports temperature, conditions, precipitation chance and whether outdoor activities are suitable.",
	)}
}

func (t *CheckWeatherTool) Spec() llm.ToolSpec {
	return t.spec.toLLM()
}

func (t *CheckWeatherTool) Execute(ctx context.Context, raw json.RawMessage, ec *ExecutionContext) (any, error) {
	args, err := decodeArgs[checkWeatherArgs](ec, t.spec, raw)
	if err != nil {
		return nil, err
	}
	if ec == nil || ec.Weather == nil {
		return nil, NewToolError(ErrUnavailable, "weather service is not available")
	}
	snap, err := ec.Weather.Check(ctx, args.Location, args.Date)
	if err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "weather lookup failed: %v", err)
	}
	return snap, nil
}
