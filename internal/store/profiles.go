package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profile holds a user's explicit preferences and the patterns learned from
// their queries.
type Profile struct {
	UserID                   string         `json:"user_id"`
	DefaultAgeGroup          string         `json:"default_age_group,omitempty"`
	ProgramType              string         `json:"program_type,omitempty"`
	GroupSize                *int           `json:"group_size,omitempty"`
	PrefersLowPrep           bool           `json:"prefers_low_prep"`
	PrefersOutdoor           *bool          `json:"prefers_outdoor,omitempty"`
	PrefersIndoor            *bool          `json:"prefers_indoor,omitempty"`
	PreferredDurationMinutes *int           `json:"preferred_duration_minutes,omitempty"`
	TypicalSupplies          []string       `json:"typical_supplies"`
	UsualBreakTimes          []string       `json:"usual_break_times"`
	TypicalActivityLength    string         `json:"typical_activity_length,omitempty"`
	CommonAgeGroups          map[string]int `json:"common_age_groups"`
	FavoriteActivityTypes    map[string]int `json:"favorite_activity_types"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
	LastInteraction          *time.Time     `json:"last_interaction,omitempty"`
	InteractionCount         int            `json:"interaction_count"`
}

// NewProfile returns an empty profile for userID.
func NewProfile(userID string) *Profile {
	now := time.Now()
	return &Profile{
		UserID:                userID,
		TypicalSupplies:       []string{},
		UsualBreakTimes:       []string{},
		CommonAgeGroups:       map[string]int{},
		FavoriteActivityTypes: map[string]int{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// ProfileUpdate is a partial profile update; nil fields are left unchanged.
type ProfileUpdate struct {
	DefaultAgeGroup          *string   `json:"default_age_group,omitempty" validate:"omitempty,max=100"`
	ProgramType              *string   `json:"program_type,omitempty" validate:"omitempty,oneof=before_care after_care full_day"`
	GroupSize                *int      `json:"group_size,omitempty" validate:"omitempty,min=1,max=100"`
	PrefersLowPrep           *bool     `json:"prefers_low_prep,omitempty"`
	PrefersOutdoor           *bool     `json:"prefers_outdoor,omitempty"`
	PrefersIndoor            *bool     `json:"prefers_indoor,omitempty"`
	PreferredDurationMinutes *int      `json:"preferred_duration_minutes,omitempty" validate:"omitempty,min=5,max=120"`
	TypicalSupplies          *[]string `json:"typical_supplies,omitempty" validate:"omitempty,max=50,dive,max=100"`
	UsualBreakTimes          *[]string `json:"usual_break_times,omitempty" validate:"omitempty,max=10,dive,max=20"`
	TypicalActivityLength    *string   `json:"typical_activity_length,omitempty" validate:"omitempty,max=50"`
}

// Fields returns the json names of the fields set on the update.
func (u ProfileUpdate) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(u.DefaultAgeGroup != nil, "default_age_group")
	add(u.ProgramType != nil, "program_type")
	add(u.GroupSize != nil, "group_size")
	add(u.PrefersLowPrep != nil, "prefers_low_prep")
	add(u.PrefersOutdoor != nil, "prefers_outdoor")
	add(u.PrefersIndoor != nil, "prefers_indoor")
	add(u.PreferredDurationMinutes != nil, "preferred_duration_minutes")
	add(u.TypicalSupplies != nil, "typical_supplies")
	add(u.UsualBreakTimes != nil, "usual_break_times")
	add(u.TypicalActivityLength != nil, "typical_activity_length")
	return fields
}

// Apply copies the set fields of u onto p.
func (u ProfileUpdate) Apply(p *Profile) {
	if u.DefaultAgeGroup != nil {
		p.DefaultAgeGroup = *u.DefaultAgeGroup
	}
	if u.ProgramType != nil {
		p.ProgramType = *u.ProgramType
	}
	if u.GroupSize != nil {
		v := *u.GroupSize
		p.GroupSize = &v
	}
	if u.PrefersLowPrep != nil {
		p.PrefersLowPrep = *u.PrefersLowPrep
	}
	if u.PrefersOutdoor != nil {
		v := *u.PrefersOutdoor
		p.PrefersOutdoor = &v
	}
	if u.PrefersIndoor != nil {
		v := *u.PrefersIndoor
		p.PrefersIndoor = &v
	}
	if u.PreferredDurationMinutes != nil {
		v := *u.PreferredDurationMinutes
		p.PreferredDurationMinutes = &v
	}
	if u.TypicalSupplies != nil {
		p.TypicalSupplies = append([]string{}, (*u.TypicalSupplies)...)
	}
	if u.UsualBreakTimes != nil {
		p.UsualBreakTimes = append([]string{}, (*u.UsualBreakTimes)...)
	}
	if u.TypicalActivityLength != nil {
		p.TypicalActivityLength = *u.TypicalActivityLength
	}
}

// PromptContext renders the profile as a bullet list for the system prompt.
// Returns "" when nothing is known about the user.
func (p *Profile) PromptContext() string {
	if p == nil {
		return ""
	}
	var parts []string

	if p.DefaultAgeGroup != "" {
		parts = append(parts, "User typically plans activities for: "+p.DefaultAgeGroup)
	}
	if p.ProgramType != "" {
		parts = append(parts, "Program type: "+strings.ReplaceAll(p.ProgramType, "_", " "))
	}
	if p.GroupSize != nil {
		parts = append(parts, fmt.Sprintf("Typical group size: %d children", *p.GroupSize))
	}
	if p.PrefersLowPrep {
		parts = append(parts, "User prefers LOW-PREP activities (minimal setup time)")
	}
	if p.PrefersOutdoor != nil && *p.PrefersOutdoor {
		parts = append(parts, "User prefers OUTDOOR activities when weather permits")
	} else if p.PrefersIndoor != nil && *p.PrefersIndoor {
		parts = append(parts, "User prefers INDOOR activities")
	}
	if p.PreferredDurationMinutes != nil {
		parts = append(parts, fmt.Sprintf("Preferred activity duration: %d minutes", *p.PreferredDurationMinutes))
	}
	if len(p.TypicalSupplies) > 0 {
		supplies := p.TypicalSupplies
		if len(supplies) > 5 {
			supplies = supplies[:5]
		}
		parts = append(parts, "User typically has these supplies: "+strings.Join(supplies, ", "))
	}
	if top := TopKeys(p.FavoriteActivityTypes, 3); len(top) > 0 {
		parts = append(parts, "User frequently requests: "+strings.Join(top, ", ")+" activities")
	}

	if len(parts) == 0 {
		return ""
	}
	return "User Profile:\n- " + strings.Join(parts, "\n- ")
}

// TopKeys returns up to n keys of counts ordered by descending count, ties
// broken alphabetically.
func TopKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k, v := range counts {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] == counts[keys[j]] {
			return keys[i] < keys[j]
		}
		return counts[keys[i]] > counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

const profileColumns = `user_id, default_age_group, program_type, group_size, prefers_low_prep,
	prefers_outdoor, prefers_indoor, preferred_duration_minutes, typical_supplies,
	usual_break_times, typical_activity_length, common_age_groups, favorite_activity_types,
	created_at, updated_at, last_interaction, interaction_count`

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetProfile returns the profile for userID or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return getProfile(ctx, s.db, userID)
}

// UpsertProfile writes the full profile.
func (s *Store) UpsertProfile(ctx context.Context, p *Profile) error {
	if p == nil || strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	return upsertProfile(ctx, s.db, p)
}

// UpdateProfile applies a partial update, creating the profile if needed.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	return s.MutateProfile(ctx, userID, update.Apply)
}

// MutateProfile loads (or creates) the profile for userID, applies fn and
// saves the result in one transaction.
func (s *Store) MutateProfile(ctx context.Context, userID string, fn func(*Profile)) (*Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin profile tx: %w", err)
	}
	defer tx.Rollback()

	p, err := getProfile(ctx, tx, userID)
	if errors.Is(err, ErrNotFound) {
		p = NewProfile(userID)
	} else if err != nil {
		return nil, err
	}

	fn(p)
	p.UpdatedAt = time.Now()

	if err := upsertProfile(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile: %w", err)
	}
	return p, nil
}

func getProfile(ctx context.Context, q rowQuerier, userID string) (*Profile, error) {
	row := q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM user_profiles WHERE user_id = ?`, userID)

	var p Profile
	var groupSize, duration sql.NullInt64
	var outdoor, indoor sql.NullBool
	var supplies, breaks, ageGroups, types string
	var lastInteraction sql.NullTime
	err := row.Scan(
		&p.UserID,
		&p.DefaultAgeGroup,
		&p.ProgramType,
		&groupSize,
		&p.PrefersLowPrep,
		&outdoor,
		&indoor,
		&duration,
		&supplies,
		&breaks,
		&p.TypicalActivityLength,
		&ageGroups,
		&types,
		&p.CreatedAt,
		&p.UpdatedAt,
		&lastInteraction,
		&p.InteractionCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	if groupSize.Valid {
		v := int(groupSize.Int64)
		p.GroupSize = &v
	}
	if duration.Valid {
		v := int(duration.Int64)
		p.PreferredDurationMinutes = &v
	}
	if outdoor.Valid {
		v := outdoor.Bool
		p.PrefersOutdoor = &v
	}
	if indoor.Valid {
		v := indoor.Bool
		p.PrefersIndoor = &v
	}
	if lastInteraction.Valid {
		at := lastInteraction.Time
		p.LastInteraction = &at
	}
	for _, f := range []struct {
		raw  string
		dest any
	}{
		{supplies, &p.TypicalSupplies},
		{breaks, &p.UsualBreakTimes},
		{ageGroups, &p.CommonAgeGroups},
		{types, &p.FavoriteActivityTypes},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("decode profile %s: %w", userID, err)
		}
	}
	if p.TypicalSupplies == nil {
		p.TypicalSupplies = []string{}
	}
	if p.UsualBreakTimes == nil {
		p.UsualBreakTimes = []string{}
	}
	if p.CommonAgeGroups == nil {
		p.CommonAgeGroups = map[string]int{}
	}
	if p.FavoriteActivityTypes == nil {
		p.FavoriteActivityTypes = map[string]int{}
	}
	return &p, nil
}

func upsertProfile(ctx context.Context, ex execer, p *Profile) error {
	encode := func(v any, empty string) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		if string(b) == "null" {
			return empty, nil
		}
		return string(b), nil
	}
	supplies, err := encode(p.TypicalSupplies, "[]")
	if err != nil {
		return fmt.Errorf("encode supplies: %w", err)
	}
	breaks, err := encode(p.UsualBreakTimes, "[]")
	if err != nil {
		return fmt.Errorf("encode break times: %w", err)
	}
	ageGroups, err := encode(p.CommonAgeGroups, "{}")
	if err != nil {
		return fmt.Errorf("encode age groups: %w", err)
	}
	types, err := encode(p.FavoriteActivityTypes, "{}")
	if err != nil {
		return fmt.Errorf("encode activity types: %w", err)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	var lastInteraction sql.NullTime
	if p.LastInteraction != nil {
		lastInteraction = sql.NullTime{Time: *p.LastInteraction, Valid: true}
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO user_profiles(`+profileColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			default_age_group = excluded.default_age_group,
			program_type = excluded.program_type,
			group_size = excluded.group_size,
			prefers_low_prep = excluded.prefers_low_prep,
			prefers_outdoor = excluded.prefers_outdoor,
			prefers_indoor = excluded.prefers_indoor,
			preferred_duration_minutes = excluded.preferred_duration_minutes,
			typical_supplies = excluded.typical_supplies,
			usual_break_times = excluded.usual_break_times,
			typical_activity_length = excluded.typical_activity_length,
			common_age_groups = excluded.common_age_groups,
			favorite_activity_types = excluded.favorite_activity_types,
			updated_at = excluded.updated_at,
			last_interaction = excluded.last_interaction,
			interaction_count = excluded.interaction_count`,
		p.UserID,
		p.DefaultAgeGroup,
		p.ProgramType,
		nullInt(p.GroupSize),
		p.PrefersLowPrep,
		nullBool(p.PrefersOutdoor),
		nullBool(p.PrefersIndoor),
		nullInt(p.PreferredDurationMinutes),
		supplies,
		breaks,
		p.TypicalActivityLength,
		ageGroups,
		types,
		p.CreatedAt,
		p.UpdatedAt,
		lastInteraction,
		p.InteractionCount,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
