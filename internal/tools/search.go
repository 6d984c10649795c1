package tools

import (
	"context"
	"encoding/json"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/store"
)

const defaultSearchLimit = 5

type searchActivitiesArgs struct {
	Query         string `json:"query" jsonschema:"required,description=What to look for such as rainy day art or team games for 7 year olds" validate:"required,max=500"`
	ActivityType  string `json:"activity_type,omitempty" jsonschema:"description=Only return activities of this type such as Art or STEM" validate:"max=100"`
	IndoorOutdoor string `json:"indoor_outdoor,omitempty" jsonschema:"enum=indoor,enum=outdoor,enum=either" validate:"omitempty,oneof=indoor outdoor either"`
	Limit         int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=20,description=Maximum results (default 5)" validate:"omitempty,min=1,max=20"`
}

// SearchActivitiesResult is returned by search_activities.
type SearchActivitiesResult struct {
	Query      string           `json:"query"`
	Count      int              `json:"count"`
	Activities []store.Activity `json:"activities"`
}

// SearchActivitiesTool searches the activity catalog.
type SearchActivitiesTool struct {
	spec toolSpec
}

func NewSearchActivitiesTool() *SearchActivitiesTool {
	return &SearchActivitiesTool{spec: newToolSpec[searchActivitiesArgs](
		SearchActivitiesToolName,
		"Search the activity database for activities matching a description. Returns titles, descriptions, supplies and durations.",
	)}
}

func (t *SearchActivitiesTool) Spec() llm.ToolSpec {
	return t.spec.toLLM()
}

func (t *SearchActivitiesTool) Execute(ctx context.Context, raw json.RawMessage, ec *ExecutionContext) (any, error) {
	args, err := decodeArgs[searchActivitiesArgs](ec, t.spec, raw)
	if err != nil {
		return nil, err
	}
	if ec == nil || ec.Search == nil {
		return nil, NewToolError(ErrUnavailable, "activity search is not available")
	}
	limit := args.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	acts, err := ec.Search.Search(ctx, args.Query, limit, rag.Filters{Type: args.ActivityType, IndoorOutdoor: args.IndoorOutdoor})
	if err != nil {
		return nil, NewToolErrorf(ErrExecutionFailed, "search failed: %v", err)
	}
	if acts == nil {
		acts = []store.Activity{}
	}
	return SearchActivitiesResult{Query: args.Query, Count: len(acts), Activities: acts}, nil
}
