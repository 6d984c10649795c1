package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kidsclubplans/kcp/internal/rag"
	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/weather"
)

const (
	slotTimeLayout      = "03:04 PM"
	defaultStartTime    = "9:00 AM"
	breakMinutes        = 15
	activitiesPerBreak  = 3
	maxScheduleQueries  = 3
	scheduleSearchLimit = 10
	durationTolerance   = 20
	slotDescriptionCut  = 150
)

// SchedulePreferences tune schedule generation.
type SchedulePreferences struct {
	StartTime         string   `json:"start_time,omitempty" jsonschema:"description=First slot start such as 9:00 AM"`
	IncludeBreaks     *bool    `json:"include_breaks,omitempty" jsonschema:"description=Insert a snack break after every three activities (default true)"`
	LowPrep           bool     `json:"low_prep,omitempty" jsonschema:"description=Only use activities that need the available supplies"`
	IndoorPreferred   *bool    `json:"indoor_preferred,omitempty" jsonschema:"description=Skip outdoor-only activities"`
	Theme             string   `json:"theme,omitempty" jsonschema:"description=Theme used when no explicit theme is given"`
	ActivityType      string   `json:"activity_type,omitempty" jsonschema:"description=Activity type used as a theme fallback"`
	AvailableSupplies []string `json:"available_supplies,omitempty" jsonschema:"description=Supplies on hand"`
}

// ScheduleRequest describes the day to plan.
type ScheduleRequest struct {
	Date          string
	AgeGroup      string
	DurationHours int
	Theme         string
	Preferences   SchedulePreferences
	Weather       *weather.Snapshot

	// Shuffle randomizes candidate order; nil keeps search order.
	Shuffle func(n int, swap func(i, j int))
	Logger  *slog.Logger
}

// ScheduleStats summarizes how a schedule was filled.
type ScheduleStats struct {
	TotalSlots         int `json:"total_slots"`
	ActivitySlots      int `json:"activity_slots"`
	FilledSlots        int `json:"filled_slots"`
	BreakSlots         int `json:"break_slots"`
	ActivitiesFound    int `json:"activities_found"`
	ActivitiesSuitable int `json:"activities_suitable"`
}

// GeneratedSchedule is a day template with catalog activities filled in.
type GeneratedSchedule struct {
	Date                string              `json:"date"`
	AgeGroup            string              `json:"age_group"`
	DurationHours       int                 `json:"duration_hours"`
	Theme               string              `json:"theme,omitempty"`
	Weather             *weather.Snapshot   `json:"weather,omitempty"`
	OutdoorSuitable     bool                `json:"outdoor_suitable"`
	Preferences         SchedulePreferences `json:"preferences"`
	Template            []store.Slot        `json:"template"`
	ActivitiesPopulated []string            `json:"activities_populated"`
	Stats               ScheduleStats       `json:"stats"`
	Note                string              `json:"note"`
}

type slotState int

const (
	stateNextSlot slotState = iota
	stateBreak
	stateActivity
	statePlaceholder
	stateEnd
)

var firstNumber = regexp.MustCompile(`\d+`)

// activityMinutes is the target slot length for an age group.
func activityMinutes(ageGroup string) int {
	age := 8
	if m := firstNumber.FindString(ageGroup); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			age = n
		}
	}
	switch {
	case age <= 6:
		return 20
	case age <= 8:
		return 30
	default:
		return 45
	}
}

func scheduleQueries(theme, ageGroup string) []string {
	var base []string
	if theme != "" {
		base = []string{theme + " activities for kids", theme + " games children"}
	} else {
		base = []string{"fun kids activities", "children games", "educational activities", "group activities children"}
	}
	if len(base) > maxScheduleQueries {
		base = base[:maxScheduleQueries]
	}
	for i := range base {
		base[i] = strings.TrimSpace(base[i] + " " + ageGroup)
	}
	return base
}

func parseStartTime(s string) time.Time {
	s = strings.ToUpper(strings.TrimSpace(s))
	if t, err := time.Parse("3:04 PM", s); err == nil {
		return t
	}
	t, _ := time.Parse("3:04 PM", defaultStartTime)
	return t
}

// BuildSchedule plans a day: it searches the catalog for candidates, filters
// them against the constraints and fills time slots in order. Search
// failures are logged and leave placeholder slots.
func BuildSchedule(ctx context.Context, searcher rag.Searcher, req ScheduleRequest) *GeneratedSchedule {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefs := req.Preferences
	theme := req.Theme
	if theme == "" {
		theme = prefs.Theme
	}
	if theme == "" {
		theme = prefs.ActivityType
	}
	includeBreaks := prefs.IncludeBreaks == nil || *prefs.IncludeBreaks
	outdoorOK := req.Weather == nil || req.Weather.OutdoorSuitable
	indoorPref := !outdoorOK
	if prefs.IndoorPreferred != nil {
		indoorPref = *prefs.IndoorPreferred
	}
	target := activityMinutes(req.AgeGroup)

	var found []store.Activity
	seen := map[string]bool{}
	if searcher != nil {
		for _, q := range scheduleQueries(theme, req.AgeGroup) {
			if ctx.Err() != nil {
				break
			}
			results, err := searcher.Search(ctx, q, scheduleSearchLimit, rag.Filters{})
			if err != nil {
				logger.Warn("schedule activity search failed", "query", q, "error", err)
				continue
			}
			for _, a := range results {
				if seen[a.ID] {
					continue
				}
				seen[a.ID] = true
				found = append(found, a)
			}
		}
	}

	suitable := make([]store.Activity, 0, len(found))
	for _, a := range found {
		if suitableForSchedule(a, target, indoorPref, outdoorOK, prefs) {
			suitable = append(suitable, a)
		}
	}
	if req.Shuffle != nil {
		req.Shuffle(len(suitable), func(i, j int) { suitable[i], suitable[j] = suitable[j], suitable[i] })
	}

	out := &GeneratedSchedule{
		Date:                req.Date,
		AgeGroup:            req.AgeGroup,
		DurationHours:       req.DurationHours,
		Theme:               theme,
		Weather:             req.Weather,
		OutdoorSuitable:     outdoorOK,
		Preferences:         prefs,
		Template:            []store.Slot{},
		ActivitiesPopulated: []string{},
	}

	current := parseStartTime(prefs.StartTime)
	end := current.Add(time.Duration(req.DurationHours) * time.Hour)
	activityCount, next := 0, 0
	lastBreakAt := -1

	state := stateNextSlot
	for state != stateEnd {
		switch state {
		case stateNextSlot:
			switch {
			case !current.Before(end):
				state = stateEnd
			case includeBreaks && activityCount > 0 && activityCount%activitiesPerBreak == 0 && lastBreakAt != activityCount:
				state = stateBreak
			case next < len(suitable):
				state = stateActivity
			default:
				state = statePlaceholder
			}

		case stateBreak:
			out.Template = append(out.Template, store.Slot{
				Time:            current.Format(slotTimeLayout),
				Type:            "break",
				DurationMinutes: breakMinutes,
				Title:           "Break/Snack",
				Description:     "Transition and refreshment break",
			})
			current = current.Add(breakMinutes * time.Minute)
			lastBreakAt = activityCount
			state = stateNextSlot

		case stateActivity:
			a := suitable[next]
			next++
			minutes := a.DurationMinutes
			if minutes <= 0 {
				minutes = target
			}
			io := a.IndoorOutdoor
			if io == "" {
				io = locationFor(outdoorOK, activityCount)
			}
			title := a.Title
			if title == "" {
				title = "Activity"
			}
			out.Template = append(out.Template, store.Slot{
				Time:            current.Format(slotTimeLayout),
				Type:            "activity",
				DurationMinutes: minutes,
				Title:           title,
				Description:     cutRunes(a.Description, slotDescriptionCut) + "...",
				IndoorOutdoor:   io,
				ActivityID:      a.ID,
				ActivityType:    a.Type,
				SuppliesNeeded:  a.Supplies,
			})
			out.ActivitiesPopulated = append(out.ActivitiesPopulated, title)
			current = current.Add(time.Duration(minutes) * time.Minute)
			activityCount++
			state = stateNextSlot

		case statePlaceholder:
			label, noun := "Fun", "fun"
			if theme != "" {
				label, noun = cases.Title(language.English).String(theme), theme
			}
			out.Template = append(out.Template, store.Slot{
				Time:            current.Format(slotTimeLayout),
				Type:            "activity",
				DurationMinutes: target,
				Title:           fmt.Sprintf("%s Activity %d", label, activityCount+1),
				Description:     fmt.Sprintf("A %s activity suitable for %s.", noun, req.AgeGroup),
				IndoorOutdoor:   locationFor(outdoorOK, activityCount),
				NeedsActivity:   true,
			})
			current = current.Add(time.Duration(target) * time.Minute)
			activityCount++
			state = stateNextSlot
		}
	}

	for _, s := range out.Template {
		switch {
		case s.Type == "break":
			out.Stats.BreakSlots++
		case s.NeedsActivity:
			out.Stats.ActivitySlots++
		default:
			out.Stats.ActivitySlots++
			out.Stats.FilledSlots++
		}
	}
	out.Stats.TotalSlots = len(out.Template)
	out.Stats.ActivitiesFound = len(found)
	out.Stats.ActivitiesSuitable = len(suitable)
	if out.Stats.FilledSlots > 0 {
		out.Note = fmt.Sprintf("Schedule generated with %d/%d activities populated from database.", out.Stats.FilledSlots, out.Stats.ActivitySlots)
	} else {
		out.Note = "Schedule template created. Limited activities found - use chat to customize."
	}
	return out
}

func suitableForSchedule(a store.Activity, target int, indoorPref, outdoorOK bool, prefs SchedulePreferences) bool {
	minutes := a.DurationMinutes
	if minutes <= 0 {
		minutes = 30
	}
	if abs(minutes-target) > durationTolerance {
		return false
	}
	if a.IndoorOutdoor == "outdoor" && (indoorPref || !outdoorOK) {
		return false
	}
	if len(prefs.AvailableSupplies) > 0 && a.Supplies != "" && prefs.LowPrep {
		need := strings.ToLower(a.Supplies)
		for _, s := range prefs.AvailableSupplies {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" && strings.Contains(need, s) {
				return true
			}
		}
		return false
	}
	return true
}

// locationFor alternates outdoor and indoor recommendations when the weather
// allows outdoor play.
func locationFor(outdoorOK bool, n int) string {
	if outdoorOK && n%2 == 0 {
		return "outdoor"
	}
	return "indoor"
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func cutRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
