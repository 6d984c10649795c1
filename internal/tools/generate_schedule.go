package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/store"
)

type generateScheduleArgs struct {
	Date           string              `json:"date" jsonschema:"required,description=Day to plan as YYYY-MM-DD" validate:"required,datetime=2006-01-02"`
	AgeGroup       string              `json:"age_group" jsonschema:"required,description=Ages of the group such as 6-8 years" validate:"required,max=100"`
	DurationHours  int                 `json:"duration_hours" jsonschema:"required,minimum=1,maximum=12,description=Length of the program day in hours" validate:"required,min=1,max=12"`
	Theme          string              `json:"theme,omitempty" jsonschema:"description=Optional theme such as science or sports" validate:"max=100"`
	IncludeWeather bool                `json:"include_weather,omitempty" jsonschema:"description=Check the weather and avoid outdoor activities when it is unsuitable"`
	Location       string              `json:"location,omitempty" jsonschema:"description=Location for the weather check" validate:"max=100"`
	Preferences    SchedulePreferences `json:"preferences,omitempty"`
}

// GenerateScheduleTool plans a full day from catalog activities.
type GenerateScheduleTool struct {
	spec toolSpec
}

func NewGenerateScheduleTool() *GenerateScheduleTool {
	return &GenerateScheduleTool{spec: newToolSpec[generateScheduleArgs](
		GenerateScheduleToolName,
		"Generate a time-slotted schedule for a day using activities from the database. Includes breaks and respects weather and supply constraints.",
	)}
}

func (t *GenerateScheduleTool) Spec() llm.ToolSpec {
	return t.spec.toLLM()
}

func (t *GenerateScheduleTool) Execute(ctx context.Context, raw json.RawMessage, ec *ExecutionContext) (any, error) {
	args, err := decodeArgs[generateScheduleArgs](ec, t.spec, raw)
	if err != nil {
		return nil, err
	}

	req := ScheduleRequest{
		Date:          args.Date,
		AgeGroup:      args.AgeGroup,
		DurationHours: args.DurationHours,
		Theme:         args.Theme,
		Preferences:   args.Preferences,
		Logger:        ec.logger(),
		Shuffle:       ec.shuffle,
	}
	if args.IncludeWeather && ec.Weather != nil {
		snap, err := ec.Weather.Check(ctx, args.Location, args.Date)
		if err != nil {
			ec.logger().Warn("schedule weather lookup failed", "error", err)
		} else {
			req.Weather = snap
		}
	}
	if ec.Profiles != nil {
		profile, err := ec.Profiles.GetProfile(ctx, ec.userID())
		switch {
		case err == nil:
			MergeProfile(&req, profile)
		case !errors.Is(err, store.ErrNotFound):
			ec.logger().Warn("schedule profile lookup failed", "error", err)
		}
	}
	return BuildSchedule(ctx, ec.Search, req), nil
}

// MergeProfile fills schedule preferences the request left unset from the
// user's saved profile.
func MergeProfile(req *ScheduleRequest, p *store.Profile) {
	if p == nil {
		return
	}
	if p.PrefersLowPrep {
		req.Preferences.LowPrep = true
	}
	if req.AgeGroup == "" && p.DefaultAgeGroup != "" {
		req.AgeGroup = p.DefaultAgeGroup
	}
	if len(req.Preferences.AvailableSupplies) == 0 && len(p.TypicalSupplies) > 0 {
		req.Preferences.AvailableSupplies = append([]string(nil), p.TypicalSupplies...)
	}
}
