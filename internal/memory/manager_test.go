package memory

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kidsclubplans/kcp/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *time.Time) {
	t.Helper()
	st, err := store.NewStore(store.Config{Path: filepath.Join(t.TempDir(), "kcp.db")})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	m := NewManager(st)
	m.now = func() time.Time { return now }
	return m, st, &now
}

func TestUserContextUnknownUser(t *testing.T) {
	m, _, _ := newTestManager(t)
	uc, err := m.UserContext(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("UserContext() error = %v", err)
	}
	if uc.LastInteraction != nil || uc.Profile != "" {
		t.Fatalf("expected empty context, got %+v", uc)
	}
	if uc.CommonAgeGroups == nil || uc.FavoriteActivityTypes == nil {
		t.Fatal("slices should be non-nil so they render as []")
	}
}

func TestAddInteractionLearnsFromKeywords(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)

	queries := []string{
		"easy outdoor art for 7 year olds",
		"indoor science for preschool",
		"more art please",
	}
	for _, q := range queries {
		if err := m.AddInteraction(ctx, "u1", q, []store.Activity{{ID: "a"}, {ID: "b"}}, "s1"); err != nil {
			t.Fatalf("AddInteraction(%q) error = %v", q, err)
		}
	}

	p, err := st.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if p.InteractionCount != 3 {
		t.Errorf("InteractionCount = %d, want 3", p.InteractionCount)
	}
	if p.FavoriteActivityTypes["art"] != 2 {
		t.Errorf("art count = %d, want 2", p.FavoriteActivityTypes["art"])
	}
	if p.CommonAgeGroups["7-8 years"] != 1 || p.CommonAgeGroups["3-5 years"] != 1 {
		t.Errorf("age groups = %v", p.CommonAgeGroups)
	}
	if !p.PrefersLowPrep {
		t.Error("expected low prep preference from 'easy'")
	}

	uc, err := m.UserContext(ctx, "u1")
	if err != nil {
		t.Fatalf("UserContext() error = %v", err)
	}
	want := Preferences{PrefersOutdoor: true, PrefersIndoor: true, PrefersLowPrep: true}
	if uc.Preferences != want {
		t.Errorf("Preferences = %+v, want %+v", uc.Preferences, want)
	}
	if got := uc.FavoriteActivityTypes; !reflect.DeepEqual(got, []string{"art", "indoor", "outdoor"}) {
		t.Errorf("FavoriteActivityTypes = %v", got)
	}
	if got := uc.CommonAgeGroups; !reflect.DeepEqual(got, []string{"3-5 years", "7-8 years"}) {
		t.Errorf("CommonAgeGroups = %v", got)
	}
	if uc.LastInteraction == nil {
		t.Error("LastInteraction not set")
	}
	if uc.Profile == "" {
		t.Error("expected profile prompt context")
	}
}

func TestHistoryAndStats(t *testing.T) {
	ctx := context.Background()
	m, _, now := newTestManager(t)

	for i, sess := range []string{"a", "a", "b"} {
		*now = now.Add(time.Minute)
		q := []string{"first", "second", "third"}[i]
		if err := m.AddInteraction(ctx, "u1", q, nil, sess); err != nil {
			t.Fatalf("AddInteraction() error = %v", err)
		}
	}

	all, err := m.History(ctx, "u1", "", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) != 3 || all[0].Query != "first" || all[2].Query != "third" {
		t.Fatalf("History() = %+v", all)
	}

	onlyA, err := m.History(ctx, "u1", "a", 1)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(onlyA) != 1 || onlyA[0].Query != "second" {
		t.Fatalf("History(session a, 1) = %+v", onlyA)
	}

	empty, err := m.History(ctx, "other", "", 5)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", empty)
	}

	stats, err := m.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalInteractions != 3 || stats.Sessions != 2 || !stats.HasProfile {
		t.Fatalf("Stats() = %+v", stats)
	}
	if stats.FirstInteraction == nil || stats.LastInteraction == nil {
		t.Fatal("expected first and last interaction times")
	}

	none, err := m.Stats(ctx, "ghost")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if none.TotalInteractions != 0 || none.HasProfile {
		t.Fatalf("Stats(ghost) = %+v", none)
	}
}

func TestSessionContextExpires(t *testing.T) {
	m, _, now := newTestManager(t)

	m.SetSessionContext("s1", map[string]string{"week": "3"})
	got, ok := m.SessionContext("s1")
	if !ok {
		t.Fatal("expected session context")
	}
	if got.(map[string]string)["week"] != "3" {
		t.Fatalf("SessionContext() = %v", got)
	}

	*now = now.Add(SessionTTL + time.Second)
	if _, ok := m.SessionContext("s1"); ok {
		t.Fatal("expected stale context to expire")
	}

	m.SetSessionContext("s2", "draft")
	m.ClearSessionContext("s2")
	if _, ok := m.SessionContext("s2"); ok {
		t.Fatal("expected cleared context to be gone")
	}
}

func TestSetSessionContextPrunesStaleEntries(t *testing.T) {
	m, _, now := newTestManager(t)

	for _, id := range []string{"u:a", "u:b", "u:c"} {
		m.SetSessionContext(id, []string{"hello"})
	}
	*now = now.Add(30 * time.Minute)
	m.SetSessionContext("u:d", "recent")
	if got := len(m.sessions); got != 4 {
		t.Fatalf("sessions = %d, want 4 before expiry", got)
	}

	*now = now.Add(SessionTTL - 15*time.Minute)
	m.SetSessionContext("u:e", "new")
	if got := len(m.sessions); got != 2 {
		t.Fatalf("sessions = %d, want 2 after sweep", got)
	}
	if _, ok := m.SessionContext("u:d"); !ok {
		t.Fatal("expected unexpired context to survive the sweep")
	}
}
