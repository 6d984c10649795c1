package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{Path: filepath.Join(t.TempDir(), "kcp.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func TestNewStoreReopenKeepsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kcp.db")
	s, err := NewStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.UpsertActivity(context.Background(), &Activity{ID: "a1", Title: "Paper Boats"}))
	require.NoError(t, s.Close())

	s, err = NewStore(Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)

	got, err := s.GetActivity(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Paper Boats", got.Title)
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewStore(Config{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.UpsertActivity(context.Background(), &Activity{Title: "Tag"}))
	n, err := s.CountActivities(context.Background(), ActivityFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveDBPath(t *testing.T) {
	got, err := ResolveDBPath(":memory:")
	require.NoError(t, err)
	assert.Equal(t, ":memory:", got)

	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	got, err = ResolveDBPath("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg-data/kcp/kcp.db", got)

	got, err = ResolveDBPath("relative.db")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}

func TestProfileUpdateAndPromptContext(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetProfile(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)

	p, err := s.UpdateProfile(ctx, "u1", ProfileUpdate{
		DefaultAgeGroup: strPtr("8-10 year olds"),
		ProgramType:     strPtr("after_care"),
		GroupSize:       intPtr(15),
		PrefersLowPrep:  boolPtr(true),
		TypicalSupplies: &[]string{"paper", "markers", "tape", "glue", "scissors", "yarn"},
	})
	require.NoError(t, err)
	assert.Equal(t, 15, *p.GroupSize)

	p, err = s.MutateProfile(ctx, "u1", func(p *Profile) {
		p.FavoriteActivityTypes["art"] += 3
		p.FavoriteActivityTypes["science"] += 1
		p.FavoriteActivityTypes["game"] += 2
		p.InteractionCount++
	})
	require.NoError(t, err)

	got, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "after_care", got.ProgramType)
	assert.Equal(t, 1, got.InteractionCount)
	assert.Equal(t, p.FavoriteActivityTypes, got.FavoriteActivityTypes)
	assert.Nil(t, got.PrefersOutdoor)

	want := "User Profile:\n" +
		"- User typically plans activities for: 8-10 year olds\n" +
		"- Program type: after care\n" +
		"- Typical group size: 15 children\n" +
		"- User prefers LOW-PREP activities (minimal setup time)\n" +
		"- User typically has these supplies: paper, markers, tape, glue, scissors\n" +
		"- User frequently requests: art, game, science activities"
	assert.Equal(t, want, got.PromptContext())

	assert.Empty(t, NewProfile("u2").PromptContext())
}

func TestProfileUpdateFields(t *testing.T) {
	u := ProfileUpdate{GroupSize: intPtr(3), PrefersIndoor: boolPtr(true)}
	assert.Equal(t, []string{"group_size", "prefers_indoor"}, u.Fields())
}

func TestInteractionsHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i, q := range []string{"first", "second", "third"} {
		session := "s1"
		if i == 1 {
			session = "s2"
		}
		require.NoError(t, s.AddInteraction(ctx, &Interaction{UserID: "u1", SessionID: session, Query: q, ActivityCount: i}))
	}
	require.NoError(t, s.AddInteraction(ctx, &Interaction{UserID: "other", Query: "nope"}))

	all, err := s.ListInteractions(ctx, "u1", "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Query)
	assert.Equal(t, "third", all[1].Query)

	s1, err := s.ListInteractions(ctx, "u1", "s1", 10)
	require.NoError(t, err)
	require.Len(t, s1, 2)
	assert.Equal(t, "first", s1[0].Query)

	stats, err := s.CountInteractions(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Sessions)
	require.NotNil(t, stats.Last)
}

func TestSchedulesScopedToUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sch := &Schedule{
		UserID:        "u1",
		Date:          "2026-07-01",
		Title:         "Splash Day",
		AgeGroup:      "6-8 years",
		DurationHours: 3,
		Activities: []Slot{
			{Time: "09:00 AM", Type: "activity", DurationMinutes: 30, Title: "Water Relay"},
			{Time: "09:30 AM", Type: "break", DurationMinutes: 15, Title: "Break/Snack"},
		},
	}
	require.NoError(t, s.SaveSchedule(ctx, sch))
	require.NotEmpty(t, sch.ID)
	require.NoError(t, s.SaveSchedule(ctx, &Schedule{UserID: "u1", Date: "2026-07-02", Title: "Second"}))

	got, err := s.GetSchedule(ctx, sch.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, sch.Activities, got.Activities)

	_, err = s.GetSchedule(ctx, sch.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotFound)

	items, total, err := s.ListSchedules(ctx, "u1", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	assert.Equal(t, "Second", items[0].Title)
	assert.Empty(t, items[0].Activities)

	assert.ErrorIs(t, s.DeleteSchedule(ctx, sch.ID, "intruder"), ErrNotFound)
	require.NoError(t, s.DeleteSchedule(ctx, sch.ID, "u1"))
	assert.ErrorIs(t, s.DeleteSchedule(ctx, sch.ID, "u1"), ErrNotFound)
}

func TestWeeklySchedules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetWeekly(ctx, "u1", 1)
	require.ErrorIs(t, err, ErrNotFound)

	w := &WeeklySchedule{UserID: "u1", WeekNumber: 1, Theme: "Space", Activities: json.RawMessage(`[{"day":"Mon"},{"day":"Tue"}]`)}
	require.NoError(t, s.SaveWeekly(ctx, w))
	w.Theme = "Ocean"
	require.NoError(t, s.SaveWeekly(ctx, w))

	dup, err := s.DuplicateWeekly(ctx, "u1", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, dup.ActivityCount())

	got, err := s.GetWeekly(ctx, "u1", 4)
	require.NoError(t, err)
	assert.Equal(t, "Ocean", got.Theme)
	assert.JSONEq(t, `[{"day":"Mon"},{"day":"Tue"}]`, string(got.Activities))

	_, err = s.DuplicateWeekly(ctx, "u2", 1, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	require.Error(t, s.SaveWeekly(ctx, &WeeklySchedule{UserID: "u1", WeekNumber: 2, Activities: json.RawMessage(`[`)}))
}

func TestActivitiesAndVectorSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	acts := []*Activity{
		{ID: "art1", Title: "Paper Plate Masks", Type: "Arts & Crafts", IndoorOutdoor: "indoor"},
		{ID: "sci1", Title: "Baking Soda Volcano", Type: "Science", IndoorOutdoor: "outdoor"},
		{ID: "gam1", Title: "Freeze Tag", Type: "Physical", IndoorOutdoor: "outdoor"},
	}
	vecs := [][]float64{{1, 0, 0}, {0, 1, 0}, {0.7, 0.7, 0}}
	for i, a := range acts {
		require.NoError(t, s.UpsertActivity(ctx, a))
		require.NoError(t, s.UpsertEmbedding(ctx, a.ID, "openai", "m", vecs[i]))
	}
	require.NoError(t, s.UpsertEmbedding(ctx, "art1", "openai", "other-model", []float64{0, 0, 1}))

	results, err := s.VectorSearch(ctx, "openai", "m", []float64{1, 0, 0}, 2, ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "art1", results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "gam1", results[1].ID)

	results, err = s.VectorSearch(ctx, "openai", "m", []float64{1, 0, 0}, 5, ActivityFilter{Type: "science"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sci1", results[0].ID)

	results, err = s.VectorSearch(ctx, "openai", "m", []float64{1, 0}, 5, ActivityFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)

	n, err := s.CountActivities(ctx, ActivityFilter{IndoorOutdoor: "outdoor"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountEmbeddings(ctx, "openai", "m")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	found, err := s.FindActivityByTitle(ctx, "volcano")
	require.NoError(t, err)
	assert.Equal(t, "sci1", found.ID)

	_, err = s.GetActivity(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListActivities(ctx, ActivityFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Baking Soda Volcano", list[0].Title)
}

func TestActivitySearchableText(t *testing.T) {
	a := Activity{Title: "Tag", Type: "Physical", Supplies: "cones, pinnies ,"}
	assert.Equal(t, "Tag\nType: Physical\nSupplies: cones, pinnies ,", a.SearchableText())
	assert.Equal(t, []string{"cones", "pinnies"}, a.SupplyList())
}

func TestWeatherCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetCachedWeather(ctx, "Lansing, MI", "2026-05-01", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetCachedWeather(ctx, "Lansing, MI", "2026-05-01", []byte(`{"temperature_f":70}`)))

	payload, ok, err := s.GetCachedWeather(ctx, "  lansing, mi ", "2026-05-01", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"temperature_f":70}`, string(payload))

	_, ok, err = s.GetCachedWeather(ctx, "Lansing, MI", "2026-05-01", time.Nanosecond)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := s.ClearWeatherOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.ClearWeatherOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
