package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Slot is one time block of a day schedule.
type Slot struct {
	Time            string `json:"time" validate:"required,max=20"`
	Type            string `json:"type" validate:"required,oneof=activity break"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0,max=480"`
	Title           string `json:"title" validate:"max=200"`
	Description     string `json:"description,omitempty" validate:"max=2000"`
	IndoorOutdoor   string `json:"indoor_outdoor,omitempty"`
	ActivityID      string `json:"activity_id,omitempty"`
	ActivityType    string `json:"activity_type,omitempty"`
	SuppliesNeeded  string `json:"supplies_needed,omitempty"`
	NeedsActivity   bool   `json:"needs_activity,omitempty"`
}

// Schedule is a saved day schedule.
type Schedule struct {
	ID            string    `json:"id"`
	UserID        string    `json:"-"`
	Date          string    `json:"date"`
	Title         string    `json:"title"`
	AgeGroup      string    `json:"age_group"`
	DurationHours int       `json:"duration_hours"`
	Activities    []Slot    `json:"activities,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SaveSchedule inserts a schedule, assigning an id when empty.
func (s *Store) SaveSchedule(ctx context.Context, sch *Schedule) error {
	if sch == nil || strings.TrimSpace(sch.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if sch.ID == "" {
		sch.ID = uuid.NewString()
	}
	if sch.CreatedAt.IsZero() {
		sch.CreatedAt = time.Now()
	}
	slots := sch.Activities
	if slots == nil {
		slots = []Slot{}
	}
	payload, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode schedule activities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules(id, user_id, date, title, age_group, duration_hours, activities, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.UserID, sch.Date, sch.Title, sch.AgeGroup, sch.DurationHours, string(payload), sch.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetSchedule returns a schedule owned by userID or ErrNotFound.
func (s *Store) GetSchedule(ctx context.Context, id, userID string) (*Schedule, error) {
	var sch Schedule
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, title, age_group, duration_hours, activities, created_at
		FROM schedules WHERE id = ? AND user_id = ?`, id, userID).Scan(
		&sch.ID, &sch.UserID, &sch.Date, &sch.Title, &sch.AgeGroup, &sch.DurationHours, &payload, &sch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &sch.Activities); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", id, err)
	}
	return &sch, nil
}

// ListSchedules returns one page of a user's schedules, newest first, without
// their slots, plus the user's total schedule count.
func (s *Store) ListSchedules(ctx context.Context, userID string, limit, offset int) ([]Schedule, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedules WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, title, age_group, duration_hours, created_at
		FROM schedules
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	out := []Schedule{}
	for rows.Next() {
		var sch Schedule
		if err := rows.Scan(&sch.ID, &sch.UserID, &sch.Date, &sch.Title, &sch.AgeGroup, &sch.DurationHours, &sch.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, sch)
	}
	return out, total, rows.Err()
}

// DeleteSchedule removes a schedule owned by userID or returns ErrNotFound.
func (s *Store) DeleteSchedule(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// WeeklySchedule is a themed plan for one program week.
type WeeklySchedule struct {
	UserID     string          `json:"-"`
	WeekNumber int             `json:"week_number"`
	Theme      string          `json:"theme"`
	Activities json.RawMessage `json:"activities"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ActivityCount returns the number of entries in the activities array.
func (w *WeeklySchedule) ActivityCount() int {
	var items []json.RawMessage
	if err := json.Unmarshal(w.Activities, &items); err != nil {
		return 0
	}
	return len(items)
}

// SaveWeekly inserts or replaces a user's week.
func (s *Store) SaveWeekly(ctx context.Context, w *WeeklySchedule) error {
	if w == nil || strings.TrimSpace(w.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(w.Activities) == 0 || string(w.Activities) == "null" {
		w.Activities = json.RawMessage("[]")
	}
	if !json.Valid(w.Activities) {
		return fmt.Errorf("activities must be valid json")
	}
	w.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weekly_schedules(user_id, week_number, theme, activities, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(user_id, week_number) DO UPDATE SET
			theme = excluded.theme,
			activities = excluded.activities,
			updated_at = excluded.updated_at`,
		w.UserID, w.WeekNumber, w.Theme, string(w.Activities), w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save weekly schedule: %w", err)
	}
	return nil
}

// GetWeekly returns a user's week or ErrNotFound.
func (s *Store) GetWeekly(ctx context.Context, userID string, week int) (*WeeklySchedule, error) {
	w := WeeklySchedule{UserID: userID, WeekNumber: week}
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT theme, activities, updated_at FROM weekly_schedules
		WHERE user_id = ? AND week_number = ?`, userID, week).Scan(&w.Theme, &payload, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly schedule: %w", err)
	}
	w.Activities = json.RawMessage(payload)
	return &w, nil
}

// DuplicateWeekly copies fromWeek onto toWeek and returns the copy.
func (s *Store) DuplicateWeekly(ctx context.Context, userID string, fromWeek, toWeek int) (*WeeklySchedule, error) {
	src, err := s.GetWeekly(ctx, userID, fromWeek)
	if err != nil {
		return nil, err
	}
	dst := &WeeklySchedule{
		UserID:     userID,
		WeekNumber: toWeek,
		Theme:      src.Theme,
		Activities: src.Activities,
	}
	if err := s.SaveWeekly(ctx, dst); err != nil {
		return nil, err
	}
	return dst, nil
}
