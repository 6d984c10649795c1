package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/safety"
	"github.com/kidsclubplans/kcp/internal/store"
)

type saveActivityArgs struct {
	Title           string   `json:"title" jsonschema:"required" validate:"required,max=200"`
	Description     string   `json:"description" jsonschema:"required" validate:"required,max=2000"`
	Instructions    string   `json:"instructions" jsonschema:"required,description=Step by step instructions" validate:"required,max=4000"`
	AgeGroup        string   `json:"age_group" jsonschema:"required,description=Ages such as 6-8 years" validate:"required,max=100"`
	DurationMinutes int      `json:"duration_minutes" jsonschema:"required,minimum=5,maximum=240" validate:"required,min=5,max=240"`
	Supplies        []string `json:"supplies" jsonschema:"required,description=Supplies needed" validate:"max=30,dive,max=100"`
	ActivityType    string   `json:"activity_type,omitempty" jsonschema:"description=Category such as Art or Game or STEM (default Other)" validate:"max=100"`
	IndoorOutdoor   string   `json:"indoor_outdoor,omitempty" jsonschema:"enum=indoor,enum=outdoor,enum=either" validate:"omitempty,oneof=indoor outdoor either"`
}

// SaveActivityResult is returned by save_activity.
type SaveActivityResult struct {
	Success    bool           `json:"success"`
	ActivityID string         `json:"activity_id"`
	Saved      bool           `json:"saved"`
	Indexed    bool           `json:"indexed"`
	Activity   store.Activity `json:"activity"`
	Note       string         `json:"note"`
}

// SaveActivityTool stores a generated or blended activity in the catalog so
// later searches can find it.
type SaveActivityTool struct {
	spec toolSpec
}

func NewSaveActivityTool() *SaveActivityTool {
	return &SaveActivityTool{spec: newToolSpec[saveActivityArgs](
		SaveActivityToolName,
		"Save a generated or blended activity to the database. Makes it searchable for all users.",
	)}
}

func (t *SaveActivityTool) Spec() llm.ToolSpec {
	return t.spec.toLLM()
}

func (t *SaveActivityTool) Execute(ctx context.Context, raw json.RawMessage, ec *ExecutionContext) (any, error) {
	args, err := decodeArgs[saveActivityArgs](ec, t.spec, raw)
	if err != nil {
		return nil, err
	}
	if ec.Indexer == nil {
		return nil, NewToolError(ErrUnavailable, "activity storage is not available")
	}

	a := &store.Activity{
		ID:              store.NewActivityID(),
		Title:           safety.SanitizeActivityTitle(args.Title),
		Description:     safety.SanitizeActivityDescription(args.Description),
		Instructions:    safety.SanitizeActivityDescription(args.Instructions),
		Type:            safety.NormalizeText(safety.SanitizeText(args.ActivityType, 100)),
		AgeGroup:        safety.NormalizeText(safety.SanitizeText(args.AgeGroup, 100)),
		Supplies:        strings.Join(safety.SanitizeSupplies(args.Supplies), ", "),
		DurationMinutes: args.DurationMinutes,
		IndoorOutdoor:   args.IndoorOutdoor,
		Source:          store.SourceGenerated,
		CreatedBy:       ec.userID(),
	}
	if a.Title == "" {
		return nil, NewToolError(ErrInvalidParams, "title is empty after sanitizing")
	}

	res := SaveActivityResult{Success: true, ActivityID: a.ID, Saved: true, Indexed: true, Activity: *a}
	if err := ec.Indexer.Index(ctx, a); err != nil {
		if _, getErr := t.stored(ctx, ec, a.ID); getErr != nil {
			return nil, NewToolErrorf(ErrExecutionFailed, "save activity: %v", err)
		}
		ec.logger().Warn("saved activity without embedding", "activity_id", a.ID, "error", err)
		res.Indexed = false
		res.Note = "Activity saved. It will appear in keyword searches but could not be embedded for semantic search."
	} else {
		res.Note = "Activity saved and indexed. It is now available in searches."
	}
	res.Activity = *a
	return res, nil
}

// stored checks whether the activity row exists after a failed index.
func (t *SaveActivityTool) stored(ctx context.Context, ec *ExecutionContext, id string) (*store.Activity, error) {
	if ec.Activities == nil {
		return nil, store.ErrNotFound
	}
	return ec.Activities.GetActivity(ctx, id)
}
