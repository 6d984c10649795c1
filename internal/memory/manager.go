package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kidsclubplans/kcp/internal/store"
)

// SessionTTL is how long session context survives without being refreshed.
const SessionTTL = time.Hour

// sessionSweepInterval bounds how often SetSessionContext scans for stale
// entries.
const sessionSweepInterval = time.Minute

// DefaultHistoryLimit caps History when the caller passes no limit.
const DefaultHistoryLimit = 10

// Query substrings that count towards an age group. Matching is by
// substring, so "5" also matches "15".
var ageKeywords = []struct{ keyword, ageGroup string }{
	{"5", "5-6 years"},
	{"6", "6-7 years"},
	{"7", "7-8 years"},
	{"8", "8-9 years"},
	{"9", "9-10 years"},
	{"10", "10-11 years"},
	{"preschool", "3-5 years"},
	{"elementary", "5-10 years"},
}

var activityTypeKeywords = []string{"art", "craft", "science", "cooking", "physical", "game", "outdoor", "indoor"}

// Store is the persistence the manager needs.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	MutateProfile(ctx context.Context, userID string, fn func(*store.Profile)) (*store.Profile, error)
	AddInteraction(ctx context.Context, in *store.Interaction) error
	ListInteractions(ctx context.Context, userID, sessionID string, limit int) ([]store.Interaction, error)
	CountInteractions(ctx context.Context, userID string) (store.InteractionStats, error)
}

// Preferences are the yes/no preferences learned from queries or set on the
// profile.
type Preferences struct {
	PrefersOutdoor bool `json:"prefers_outdoor,omitempty"`
	PrefersIndoor  bool `json:"prefers_indoor,omitempty"`
	PrefersLowPrep bool `json:"prefers_low_prep,omitempty"`
}

// UserContext is what the assistant knows about a user, rendered into the
// system prompt as JSON.
type UserContext struct {
	Preferences           Preferences `json:"preferences"`
	CommonAgeGroups       []string    `json:"common_age_groups"`
	FavoriteActivityTypes []string    `json:"favorite_activity_types"`
	LastInteraction       *time.Time  `json:"last_interaction"`
	Profile               string      `json:"profile,omitempty"`
}

// Stats summarizes a user's history and learned profile.
type Stats struct {
	UserID                string     `json:"user_id"`
	TotalInteractions     int        `json:"total_interactions"`
	Sessions              int        `json:"sessions"`
	FirstInteraction      *time.Time `json:"first_interaction,omitempty"`
	LastInteraction       *time.Time `json:"last_interaction,omitempty"`
	CommonAgeGroups       []string   `json:"common_age_groups"`
	FavoriteActivityTypes []string   `json:"favorite_activity_types"`
	HasProfile            bool       `json:"has_profile"`
}

type sessionEntry struct {
	data    any
	updated time.Time
}

// Manager learns user patterns from interactions and holds short-lived
// per-session context.
type Manager struct {
	store Store
	now   func() time.Time

	mu        sync.Mutex
	sessions  map[string]sessionEntry
	lastSweep time.Time
}

// NewManager creates a manager backed by st.
func NewManager(st Store) *Manager {
	return &Manager{
		store:    st,
		now:      time.Now,
		sessions: make(map[string]sessionEntry),
	}
}

// UserContext returns the personalization context for userID. Unknown users
// get an empty context.
func (m *Manager) UserContext(ctx context.Context, userID string) (UserContext, error) {
	uc := UserContext{CommonAgeGroups: []string{}, FavoriteActivityTypes: []string{}}
	p, err := m.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return uc, nil
	}
	if err != nil {
		return uc, fmt.Errorf("load profile: %w", err)
	}

	uc.Preferences = Preferences{
		PrefersOutdoor: p.PrefersOutdoor != nil && *p.PrefersOutdoor,
		PrefersIndoor:  p.PrefersIndoor != nil && *p.PrefersIndoor,
		PrefersLowPrep: p.PrefersLowPrep,
	}
	uc.CommonAgeGroups = store.TopKeys(p.CommonAgeGroups, 3)
	uc.FavoriteActivityTypes = store.TopKeys(p.FavoriteActivityTypes, 3)
	uc.LastInteraction = p.LastInteraction
	uc.Profile = p.PromptContext()
	return uc, nil
}

// AddInteraction records a query with the activities it surfaced and
// updates the learned profile.
func (m *Manager) AddInteraction(ctx context.Context, userID, query string, activities []store.Activity, sessionID string) error {
	now := m.now()
	if err := m.store.AddInteraction(ctx, &store.Interaction{
		UserID:        userID,
		SessionID:     sessionID,
		Query:         query,
		ActivityCount: len(activities),
		CreatedAt:     now,
	}); err != nil {
		return err
	}

	_, err := m.store.MutateProfile(ctx, userID, func(p *store.Profile) {
		learnFromQuery(p, query)
		p.InteractionCount++
		p.LastInteraction = &now
	})
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func learnFromQuery(p *store.Profile, query string) {
	q := strings.ToLower(query)
	if p.CommonAgeGroups == nil {
		p.CommonAgeGroups = map[string]int{}
	}
	if p.FavoriteActivityTypes == nil {
		p.FavoriteActivityTypes = map[string]int{}
	}

	for _, k := range ageKeywords {
		if strings.Contains(q, k.keyword) {
			p.CommonAgeGroups[k.ageGroup]++
		}
	}
	for _, t := range activityTypeKeywords {
		if strings.Contains(q, t) {
			p.FavoriteActivityTypes[t]++
		}
	}

	yes := true
	if strings.Contains(q, "outdoor") || strings.Contains(q, "outside") {
		p.PrefersOutdoor = &yes
	}
	if strings.Contains(q, "indoor") || strings.Contains(q, "inside") {
		p.PrefersIndoor = &yes
	}
	if strings.Contains(q, "low prep") || strings.Contains(q, "easy") || strings.Contains(q, "simple") {
		p.PrefersLowPrep = true
	}
}

// History returns the most recent interactions, oldest first. An empty
// sessionID spans all of the user's sessions.
func (m *Manager) History(ctx context.Context, userID, sessionID string, limit int) ([]store.Interaction, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	out, err := m.store.ListInteractions(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Interaction{}
	}
	return out, nil
}

// Stats summarizes the user's history.
func (m *Manager) Stats(ctx context.Context, userID string) (Stats, error) {
	st := Stats{UserID: userID, CommonAgeGroups: []string{}, FavoriteActivityTypes: []string{}}
	counts, err := m.store.CountInteractions(ctx, userID)
	if err != nil {
		return st, err
	}
	st.TotalInteractions = counts.Total
	st.Sessions = counts.Sessions
	st.FirstInteraction = counts.First
	st.LastInteraction = counts.Last

	p, err := m.store.GetProfile(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return st, nil
	case err != nil:
		return st, fmt.Errorf("load profile: %w", err)
	}
	st.HasProfile = true
	st.CommonAgeGroups = store.TopKeys(p.CommonAgeGroups, 5)
	st.FavoriteActivityTypes = store.TopKeys(p.FavoriteActivityTypes, 5)
	return st, nil
}

// SetSessionContext stores temporary data for a session, such as the
// schedule currently being built.
func (m *Manager) SetSessionContext(sessionID string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.lastSweep) >= sessionSweepInterval {
		m.pruneSessionsLocked(now)
	}
	m.sessions[sessionID] = sessionEntry{data: data, updated: now}
}

// pruneSessionsLocked drops entries older than SessionTTL. m.mu must be held.
func (m *Manager) pruneSessionsLocked(now time.Time) {
	for id, e := range m.sessions {
		if now.Sub(e.updated) > SessionTTL {
			delete(m.sessions, id)
		}
	}
	m.lastSweep = now
}

// SessionContext returns the session's data unless it is missing or older
// than SessionTTL. Stale entries are dropped.
func (m *Manager) SessionContext(sessionID string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if m.now().Sub(e.updated) > SessionTTL {
		delete(m.sessions, sessionID)
		return nil, false
	}
	return e.data, true
}

// ClearSessionContext forgets a session's data.
func (m *Manager) ClearSessionContext(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
