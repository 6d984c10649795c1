package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Interaction is one recorded user query.
type Interaction struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"-"`
	SessionID     string    `json:"session_id,omitempty"`
	Query         string    `json:"query"`
	ActivityCount int       `json:"activity_count"`
	CreatedAt     time.Time `json:"timestamp"`
}

// AddInteraction records a query.
func (s *Store) AddInteraction(ctx context.Context, in *Interaction) error {
	if in == nil || strings.TrimSpace(in.UserID) == "" {
		return fmt.Errorf("user_id is required")
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions(user_id, session_id, query, activity_count, created_at)
		VALUES(?, ?, ?, ?, ?)`,
		in.UserID, in.SessionID, in.Query, in.ActivityCount, in.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	in.ID, _ = res.LastInsertId()
	return nil
}

// ListInteractions returns the most recent limit interactions for a user in
// chronological order. An empty sessionID spans all sessions.
func (s *Store) ListInteractions(ctx context.Context, userID, sessionID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, query, activity_count, created_at
		FROM (
			SELECT * FROM interactions
			WHERE user_id = ? AND (? = '' OR session_id = ?)
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC`,
		userID, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		if err := rows.Scan(&in.ID, &in.UserID, &in.SessionID, &in.Query, &in.ActivityCount, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// InteractionStats summarizes a user's history.
type InteractionStats struct {
	Total    int        `json:"total_interactions"`
	Sessions int        `json:"sessions"`
	First    *time.Time `json:"first_interaction,omitempty"`
	Last     *time.Time `json:"last_interaction,omitempty"`
}

// CountInteractions returns history totals for a user.
func (s *Store) CountInteractions(ctx context.Context, userID string) (InteractionStats, error) {
	var st InteractionStats
	var first, last *string
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT NULLIF(session_id, '')), MIN(created_at), MAX(created_at)
		FROM interactions WHERE user_id = ?`, userID).Scan(&st.Total, &st.Sessions, &first, &last)
	if err != nil {
		return st, fmt.Errorf("count interactions: %w", err)
	}
	st.First = parseSQLiteTime(first)
	st.Last = parseSQLiteTime(last)
	return st, nil
}

// parseSQLiteTime parses aggregate timestamps, which come back as text
// because MIN/MAX drop the column's declared type.
func parseSQLiteTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	raw := *s
	if i := strings.Index(raw, " m="); i > 0 {
		raw = raw[:i]
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
