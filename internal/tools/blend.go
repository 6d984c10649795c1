package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kidsclubplans/kcp/internal/llm"
	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/store"
)

const (
	blendNovelty        = 0.85
	blendMaxSupplies    = 6
	blendDefaultMinutes = 30
	blendDefaultAge     = "6-10 years"
)

var blendEmphasis = map[string]string{
	"physical":    "active movement and physical engagement",
	"creative":    "artistic expression and imagination",
	"educational": "learning objectives and skill development",
	"social":      "collaboration and social interaction",
	"balanced":    "multiple developmental domains",
}

type blendActivitiesArgs struct {
	ActivityIDsOrTitles []string `json:"activity_ids_or_titles" jsonschema:"required,minItems=2,description=Ids or titles of two or more activities to combine" validate:"required,min=2,max=5,dive,required,max=200"`
	BlendFocus          string   `json:"blend_focus,omitempty" jsonschema:"enum=physical,enum=creative,enum=educational,enum=social,enum=balanced,description=What the blended activity should emphasize" validate:"omitempty,max=50"`
	TargetAgeGroup      string   `json:"target_age_group,omitempty" jsonschema:"description=Ages to design for (defaults to the first source)" validate:"max=100"`
}

// BlendedActivity is a new activity combining several catalog entries.
type BlendedActivity struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	SourceActivities []string `json:"source_activities"`
	TargetAge        string   `json:"target_age"`
	DurationMinutes  int      `json:"duration_minutes"`
	SuppliesNeeded   string   `json:"supplies_needed"`
	Instructions     string   `json:"instructions"`
	IndoorOutdoor    string   `json:"indoor_outdoor"`
	BlendFocus       string   `json:"blend_focus"`
	SourceTypes      []string `json:"source_types"`
	Generated        bool     `json:"generated"`
	NoveltyScore     float64  `json:"novelty_score"`
}

// BlendResult is returned by blend_activities.
type BlendResult struct {
	Success         bool            `json:"success"`
	BlendedActivity BlendedActivity `json:"blended_activity"`
	SourceCount     int             `json:"source_count"`
	Sources         []string        `json:"sources"`
}

// BlendActivitiesTool fuses two or more activities into a new one.
type BlendActivitiesTool struct {
	spec toolSpec
}

func NewBlendActivitiesTool() *BlendActivitiesTool {
	return &BlendActivitiesTool{spec: newToolSpec[blendActivitiesArgs](
		BlendActivitiesToolName,
		"Create a novel activity by blending two or more existing activities. Combines their best elements into something new.",
	)}
}

func (t *BlendActivitiesTool) Spec() llm.ToolSpec {
	return t.spec.toLLM()
}

func (t *BlendActivitiesTool) Execute(ctx context.Context, raw json.RawMessage, ec *ExecutionContext) (any, error) {
	args, err := decodeArgs[blendActivitiesArgs](ec, t.spec, raw)
	if err != nil {
		return nil, err
	}
	focus := args.BlendFocus
	if focus == "" {
		focus = "balanced"
	}

	var sources []store.Activity
	for _, ident := range args.ActivityIDsOrTitles {
		a, err := resolveActivity(ctx, ec, ident)
		if err != nil {
			return nil, NewToolErrorf(ErrExecutionFailed, "look up %q: %v", ident, err)
		}
		if a != nil {
			sources = append(sources, *a)
		}
	}
	if len(sources) < 2 {
		found := make([]string, 0, len(sources))
		for _, a := range sources {
			found = append(found, a.Title)
		}
		msg := fmt.Sprintf("Could only find %d of %d requested activities. Need at least 2 to blend.", len(sources), len(args.ActivityIDsOrTitles))
		if len(found) > 0 {
			msg += " Found: " + strings.Join(found, ", ")
		}
		return nil, NewToolError(ErrNotFound, msg)
	}

	return blend(sources, focus, args.TargetAgeGroup), nil
}

// resolveActivity finds an activity by id, then title, then best search
// match. It returns nil without error when nothing matches.
func resolveActivity(ctx context.Context, ec *ExecutionContext, ident string) (*store.Activity, error) {
	ident = strings.TrimSpace(ident)
	if ec.Activities != nil {
		a, err := ec.Activities.GetActivity(ctx, ident)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		a, err = ec.Activities.FindActivityByTitle(ctx, ident)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if ec.Search == nil {
		return nil, nil
	}
	results, err := ec.Search.Search(ctx, ident, 3, rag.Filters{})
	if err != nil {
		ec.logger().Warn("blend source search failed", "identifier", ident, "error", err)
		return nil, nil
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

func blend(sources []store.Activity, focus, targetAge string) BlendResult {
	titles := make([]string, 0, len(sources))
	var types, supplies []string
	seenSupply := map[string]bool{}
	totalMinutes, timed := 0, 0
	for _, a := range sources {
		titles = append(titles, a.Title)
		if a.Type != "" {
			types = append(types, a.Type)
		}
		for _, s := range a.SupplyList() {
			key := strings.ToLower(s)
			if !seenSupply[key] {
				seenSupply[key] = true
				supplies = append(supplies, s)
			}
		}
		if a.DurationMinutes > 0 {
			totalMinutes += a.DurationMinutes
			timed++
		}
	}

	age := targetAge
	if age == "" {
		age = sources[0].AgeGroup
	}
	if age == "" {
		age = blendDefaultAge
	}
	minutes := blendDefaultMinutes
	if timed > 0 {
		minutes = totalMinutes / timed
	}
	supplyText := "Varies by implementation"
	if len(supplies) > 0 {
		supplyText = strings.Join(supplies[:min(len(supplies), blendMaxSupplies)], ", ")
	}
	emphasis, ok := blendEmphasis[focus]
	if !ok {
		emphasis = "engaging play"
	}
	if types == nil {
		types = []string{}
	}

	return BlendResult{
		Success: true,
		BlendedActivity: BlendedActivity{
			Title:            fmt.Sprintf("%s-%s Fusion", firstWord(titles[0]), firstWord(titles[1])),
			Description:      fmt.Sprintf("A creative fusion activity combining elements from %s. Focus on %s.", strings.Join(titles, ", "), emphasis),
			SourceActivities: titles,
			TargetAge:        age,
			DurationMinutes:  minutes,
			SuppliesNeeded:   supplyText,
			Instructions: fmt.Sprintf("1. Set up combining elements from %s and %s. 2. Guide children through the integrated activity. "+
				"3. Encourage creative adaptation. 4. Debrief on what they discovered combining both activities.", titles[0], titles[1]),
			IndoorOutdoor: "either",
			BlendFocus:    focus,
			SourceTypes:   types,
			Generated:     true,
			NoveltyScore:  blendNovelty,
		},
		SourceCount: len(sources),
		Sources:     titles,
	}
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return "Activity"
}
