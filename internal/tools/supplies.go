package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kidsclubplans/kcp/internal/llm"
)

const defaultSupplyIdeas = 3

type generateFromSuppliesArgs struct {
	Supplies        []string `json:"supplies" jsonschema:"required,minItems=1,description=Supplies available right now" validate:"required,min=1,max=30,dive,required,max=100"`
	AgeGroup        string   `json:"age_group" jsonschema:"required,description=Ages of the group such as 5-7 years" validate:"required,max=100"`
	DurationMinutes int      `json:"duration_minutes,omitempty" jsonschema:"minimum=5,maximum=180,description=Target length in minutes (default 30)" validate:"omitempty,min=5,max=180"`
	IndoorOutdoor   string   `json:"indoor_outdoor,omitempty" jsonschema:"enum=indoor,enum=outdoor,enum=either" validate:"omitempty,oneof=indoor outdoor either"`
	Count           int      `json:"count,omitempty" jsonschema:"minimum=1,maximum=10,description=How many ideas to return (default 3)" validate:"omitempty,min=1,max=10"`
}

// SupplyActivity is an activity idea built from on-hand supplies.
type SupplyActivity struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	SuppliesNeeded  []string `json:"supplies_needed"`
	Instructions    string   `json:"instructions"`
	DurationMinutes int      `json:"duration_minutes"`
	IndoorOutdoor   string   `json:"indoor_outdoor"`
	TargetAge       string   `json:"target_age"`
	Generated       bool     `json:"generated"`
	SupplyBased     bool     `json:"supply_based"`
}

// SupplyIdeas is returned by generate_from_supplies.
type SupplyIdeas struct {
	Success          bool             `json:"success"`
	SuppliesProvided []string         `json:"supplies_provided"`
	Count            int              `json:"count"`
	Activities       []SupplyActivity `json:"activities"`
	CoverageNote     string           `json:"coverage_note"`
}

// supplyTemplate pairs supply keywords with the activities they enable. A
// zero duration means the requested duration.
type supplyTemplate struct {
	matches    []string
	activities func(ageGroup string) []SupplyActivity
}

var supplyTemplates = []supplyTemplate{
	{
		matches: []string{"paper plate", "plates"},
		activities: func(ageGroup string) []SupplyActivity {
			return []SupplyActivity{
				{
					Title:          "Paper Plate Frisbees",
					Description:    fmt.Sprintf("Decorate paper plates, then use them for indoor frisbee toss games. Perfect for %s.", ageGroup),
					SuppliesNeeded: []string{"paper plates", "markers/crayons", "optional: stickers"},
					Instructions:   "1. Decorate plates with designs. 2. Practice tossing to partners. 3. Create target zones for accuracy games.",
				},
				{
					Title:          "Paper Plate Masks",
					Description:    "Create character masks by cutting eye holes and decorating plates.",
					SuppliesNeeded: []string{"paper plates", "scissors", "markers", "string/elastic"},
					Instructions:   "1. Cut eye holes. 2. Decorate as animals/characters. 3. Attach string to wear. 4. Have a mask parade.",
				},
			}
		},
	},
	{
		matches: []string{"balloon"},
		activities: func(string) []SupplyActivity {
			return []SupplyActivity{
				{
					Title:          "Balloon Keep-Up",
					Description:    "Cooperative game keeping balloons in the air without letting them touch the ground.",
					SuppliesNeeded: []string{"balloons"},
					Instructions:   "1. Inflate balloons. 2. Groups work together to keep all balloons up. 3. Add challenges: no hands, one finger only, etc.",
				},
				{
					Title:          "Balloon Tennis",
					Description:    "Play tennis using balloons and paper plate paddles.",
					SuppliesNeeded: []string{"balloons", "paper plates", "popsicle sticks/pencils"},
					Instructions:   "1. Make paddles by attaching sticks to plates. 2. Hit balloon back and forth. 3. Set up a net line with string.",
				},
			}
		},
	},
	{
		matches: []string{"string", "yarn", "ribbon"},
		activities: func(string) []SupplyActivity {
			return []SupplyActivity{
				{
					Title:          "String Sculptures",
					Description:    "Create 3D art by wrapping string around objects or making hanging mobiles.",
					SuppliesNeeded: []string{"string/yarn", "paper clips/coat hangers", "tape"},
					Instructions:   "1. Create framework with hangers. 2. Wrap string in patterns. 3. Hang and display creations.",
				},
				{
					Title:           "String Phone",
					Description:     "Classic science activity exploring sound waves through string.",
					SuppliesNeeded:  []string{"string", "paper cups", "pencils"},
					Instructions:    "1. Poke holes in cup bottoms. 2. Thread string through. 3. Tie knots to secure. 4. Test across the room.",
					DurationMinutes: 20,
				},
			}
		},
	},
	{
		matches: []string{"marker", "crayon", "colored pencil"},
		activities: func(string) []SupplyActivity {
			return []SupplyActivity{{
				Title:          "Giant Collaborative Mural",
				Description:    "Large-scale art project on butcher paper or cardboard.",
				SuppliesNeeded: []string{"markers/crayons", "large paper/cardboard"},
				Instructions:   "1. Unroll paper on floor/wall. 2. Assign sections or themes. 3. Fill with drawings and designs. 4. Display final mural.",
			}}
		},
	},
	{
		matches: []string{"cardboard", "box"},
		activities: func(string) []SupplyActivity {
			return []SupplyActivity{{
				Title:           "Cardboard Challenge",
				Description:     "Open-ended building with cardboard boxes and tape.",
				SuppliesNeeded:  []string{"cardboard boxes", "tape", "scissors"},
				Instructions:    "1. Present challenge: build a vehicle/house/animal. 2. Cut and tape boxes together. 3. Decorate creations. 4. Share with group.",
				DurationMinutes: 45,
			}}
		},
	},
}

// GenerateFromSuppliesTool proposes activities that only need what is on hand.
type GenerateFromSuppliesTool struct {
	spec toolSpec
}

func NewGenerateFromSuppliesTool() *GenerateFromSuppliesTool {
	return &GenerateFromSuppliesTool{spec: newToolSpec[generateFromSuppliesArgs](
		GenerateFromSuppliesToolName,
		"Generate activity ideas using only the supplies that are available. Use when staff list what they have on hand.",
	)}
}

func (t *GenerateFromSuppliesTool) Spec() llm.ToolSpec {
	return t.spec.toLLM()
}

func (t *GenerateFromSuppliesTool) Execute(_ context.Context, raw json.RawMessage, ec *ExecutionContext) (any, error) {
	args, err := decodeArgs[generateFromSuppliesArgs](ec, t.spec, raw)
	if err != nil {
		return nil, err
	}
	return IdeasFromSupplies(args.Supplies, args.AgeGroup, args.DurationMinutes, args.IndoorOutdoor, args.Count), nil
}

// IdeasFromSupplies matches supplies against the activity templates and
// appends two generic ideas. duration, indoorOutdoor and count fall back to
// 30 minutes, "either" and 3.
func IdeasFromSupplies(supplies []string, ageGroup string, duration int, indoorOutdoor string, count int) SupplyIdeas {
	if duration <= 0 {
		duration = 30
	}
	if indoorOutdoor == "" {
		indoorOutdoor = "either"
	}
	if count <= 0 {
		count = defaultSupplyIdeas
	}
	if len(supplies) == 0 {
		return SupplyIdeas{Success: true, SuppliesProvided: []string{}, Activities: []SupplyActivity{}, CoverageNote: "No supplies provided."}
	}
	lower := make([]string, len(supplies))
	for i, s := range supplies {
		lower[i] = strings.ToLower(s)
	}

	var matched []SupplyActivity
	seen := map[string]bool{}
	for _, tmpl := range supplyTemplates {
		if !anySupplyMatches(lower, tmpl.matches) {
			continue
		}
		for _, a := range tmpl.activities(ageGroup) {
			if seen[a.Title] {
				continue
			}
			seen[a.Title] = true
			if a.DurationMinutes == 0 {
				a.DurationMinutes = duration
			}
			matched = append(matched, a)
		}
	}

	first3 := strings.Join(supplies[:min(len(supplies), 3)], ", ")
	first4 := append([]string(nil), supplies[:min(len(supplies), 4)]...)
	generic := []SupplyActivity{
		{
			Title:           cases.Title(language.English).String(supplies[0]) + " Challenge",
			Description:     fmt.Sprintf("Creative challenge using %s to solve a problem or create something new.", first3),
			SuppliesNeeded:  first4,
			Instructions:    fmt.Sprintf("1. Present the challenge. 2. Provide %s. 3. Let children create and experiment. 4. Share results.", first3),
			DurationMinutes: duration,
		},
		{
			Title:           "Supply Sort & Classify",
			Description:     "Math/sorting activity using available supplies as manipulatives.",
			SuppliesNeeded:  first4,
			Instructions:    "1. Sort supplies by different attributes (color, size, material). 2. Count and compare groups. 3. Create patterns.",
			DurationMinutes: 20,
		},
	}

	all := append(matched, generic...)
	selected := all[:min(len(all), count)]
	for i := range selected {
		selected[i].IndoorOutdoor = indoorOutdoor
		selected[i].TargetAge = ageGroup
		selected[i].Generated = true
		selected[i].SupplyBased = true
	}

	return SupplyIdeas{
		Success:          true,
		SuppliesProvided: supplies,
		Count:            len(selected),
		Activities:       selected,
		CoverageNote:     fmt.Sprintf("Found %d specific activities and %d generic templates for your supplies.", len(matched), len(generic)),
	}
}

func anySupplyMatches(supplies, keywords []string) bool {
	for _, s := range supplies {
		for _, k := range keywords {
			if strings.Contains(s, k) {
				return true
			}
		}
	}
	return false
}
