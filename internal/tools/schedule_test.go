package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidsclubplans/kcp/internal/store"
	"github.com/kidsclubplans/kcp/internal/weather"
)

func catalog(acts ...store.Activity) *fakeSearcher {
	return &fakeSearcher{results: func(string) []store.Activity { return acts }}
}

func act(id, title string, minutes int, io string) store.Activity {
	return store.Activity{ID: id, Title: title, Description: "About " + title, Type: "Game", DurationMinutes: minutes, IndoorOutdoor: io}
}

func TestBuildScheduleFillsSlotsAndBreaks(t *testing.T) {
	s := catalog(
		act("a1", "Relay Race", 30, "either"),
		act("a2", "Clay Faces", 30, "indoor"),
		act("a3", "Bug Hunt", 25, "either"),
		act("a4", "Story Dice", 35, "indoor"),
	)
	got := BuildSchedule(context.Background(), s, ScheduleRequest{
		Date:          "2026-06-10",
		AgeGroup:      "7-8 years",
		DurationHours: 3,
	})

	require.Len(t, got.Template, 7)
	times := make([]string, len(got.Template))
	for i, slot := range got.Template {
		times[i] = slot.Time
	}
	assert.Equal(t, []string{"09:00 AM", "09:30 AM", "10:00 AM", "10:25 AM", "10:40 AM", "11:15 AM", "11:45 AM"}, times)

	assert.Equal(t, "break", got.Template[3].Type)
	assert.Equal(t, "Break/Snack", got.Template[3].Title)
	assert.Equal(t, "Story Dice", got.Template[4].Title)
	assert.Equal(t, "About Story Dice...", got.Template[4].Description)
	assert.True(t, got.Template[5].NeedsActivity)
	assert.Equal(t, "Fun Activity 5", got.Template[5].Title)
	assert.Equal(t, "A fun activity suitable for 7-8 years.", got.Template[5].Description)

	assert.Equal(t, ScheduleStats{
		TotalSlots:         7,
		ActivitySlots:      6,
		FilledSlots:        4,
		BreakSlots:         1,
		ActivitiesFound:    4,
		ActivitiesSuitable: 4,
	}, got.Stats)
	assert.Equal(t, []string{"Relay Race", "Clay Faces", "Bug Hunt", "Story Dice"}, got.ActivitiesPopulated)
	assert.Equal(t, "Schedule generated with 4/6 activities populated from database.", got.Note)
	assert.Len(t, s.queries, 3, "generic queries are capped at three")
	assert.Equal(t, "fun kids activities 7-8 years", s.queries[0])
}

func TestBuildScheduleRespectsWeatherAndAge(t *testing.T) {
	s := catalog(
		act("o1", "Kickball", 20, "outdoor"),
		act("i1", "Finger Painting", 20, "indoor"),
		act("l1", "Long Build", 60, "indoor"),
	)
	got := BuildSchedule(context.Background(), s, ScheduleRequest{
		AgeGroup:      "5 years",
		DurationHours: 1,
		Theme:         "space",
		Weather:       &weather.Snapshot{OutdoorSuitable: false},
	})

	assert.False(t, got.OutdoorSuitable)
	assert.Equal(t, 1, got.Stats.ActivitiesSuitable)
	assert.Equal(t, "space activities for kids 5 years", s.queries[0])
	require.NotEmpty(t, got.Template)
	assert.Equal(t, "Finger Painting", got.Template[0].Title)
	for _, slot := range got.Template[1:] {
		if slot.Type != "activity" {
			continue
		}
		assert.True(t, slot.NeedsActivity)
		assert.Equal(t, "indoor", slot.IndoorOutdoor)
		assert.Equal(t, 20, slot.DurationMinutes)
	}
	assert.Equal(t, "Space Activity 2", got.Template[1].Title)
}

func TestBuildScheduleLowPrepNeedsAvailableSupplies(t *testing.T) {
	withGlue := act("g", "Glue Art", 30, "indoor")
	withGlue.Supplies = "glue, paper"
	withPaint := act("p", "Paint Swirl", 30, "indoor")
	withPaint.Supplies = "tempera paint"
	noBreaks := false

	got := BuildSchedule(context.Background(), catalog(withGlue, withPaint), ScheduleRequest{
		AgeGroup:      "8",
		DurationHours: 1,
		Preferences: SchedulePreferences{
			LowPrep:           true,
			AvailableSupplies: []string{"Glue"},
			IncludeBreaks:     &noBreaks,
			StartTime:         "1:30 pm",
		},
	})
	assert.Equal(t, 1, got.Stats.ActivitiesSuitable)
	assert.Equal(t, "01:30 PM", got.Template[0].Time)
	assert.Equal(t, "Glue Art", got.Template[0].Title)
	assert.Zero(t, got.Stats.BreakSlots)
}

func TestBuildScheduleWithoutSearcher(t *testing.T) {
	got := BuildSchedule(context.Background(), nil, ScheduleRequest{AgeGroup: "10", DurationHours: 2})
	assert.Zero(t, got.Stats.FilledSlots)
	assert.Equal(t, "Schedule template created. Limited activities found - use chat to customize.", got.Note)
	// 45 minute slots: 9:00 9:45 10:30, break at 11:15, then 11:30
	require.Len(t, got.Template, 5)
	assert.Equal(t, "break", got.Template[3].Type)
}

func TestActivityMinutes(t *testing.T) {
	assert.Equal(t, 20, activityMinutes("4-6 years"))
	assert.Equal(t, 30, activityMinutes("7-8 years"))
	assert.Equal(t, 45, activityMinutes("9-12"))
	assert.Equal(t, 30, activityMinutes("school age"))
}

func TestMergeProfile(t *testing.T) {
	req := ScheduleRequest{}
	MergeProfile(&req, &store.Profile{PrefersLowPrep: true, DefaultAgeGroup: "6-8 years", TypicalSupplies: []string{"cones"}})
	assert.True(t, req.Preferences.LowPrep)
	assert.Equal(t, "6-8 years", req.AgeGroup)
	assert.Equal(t, []string{"cones"}, req.Preferences.AvailableSupplies)

	req = ScheduleRequest{AgeGroup: "9", Preferences: SchedulePreferences{AvailableSupplies: []string{"chalk"}}}
	MergeProfile(&req, &store.Profile{DefaultAgeGroup: "5", TypicalSupplies: []string{"cones"}})
	assert.Equal(t, "9", req.AgeGroup)
	assert.Equal(t, []string{"chalk"}, req.Preferences.AvailableSupplies)
}
