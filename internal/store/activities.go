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

	"github.com/kidsclubplans/kcp/internal/embedding"
)

// Activity sources.
const (
	SourceCatalog   = "catalog"
	SourceUser      = "user"
	SourceGenerated = "generated"
)

// Activity is a catalog entry that can be searched and scheduled.
type Activity struct {
	ID              string    `json:"id" yaml:"id"`
	Title           string    `json:"title" yaml:"title"`
	Description     string    `json:"description" yaml:"description"`
	Instructions    string    `json:"instructions,omitempty" yaml:"instructions"`
	Type            string    `json:"type" yaml:"type"`
	AgeGroup        string    `json:"development_age_group,omitempty" yaml:"age_group"`
	Supplies        string    `json:"supplies,omitempty" yaml:"supplies"`
	DurationMinutes int       `json:"duration_minutes,omitempty" yaml:"duration_minutes"`
	IndoorOutdoor   string    `json:"indoor_outdoor,omitempty" yaml:"indoor_outdoor"`
	Source          string    `json:"source,omitempty" yaml:"-"`
	CreatedBy       string    `json:"-" yaml:"-"`
	CreatedAt       time.Time `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"-"`
	Score           float64   `json:"score,omitempty" yaml:"-"`
}

// SearchableText is the text embedded for vector search.
func (a *Activity) SearchableText() string {
	var b strings.Builder
	b.WriteString(a.Title)
	for _, part := range []struct{ label, value string }{
		{"Type", a.Type},
		{"Ages", a.AgeGroup},
		{"Description", a.Description},
		{"Supplies", a.Supplies},
		{"Setting", a.IndoorOutdoor},
	} {
		if strings.TrimSpace(part.value) == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(part.label)
		b.WriteString(": ")
		b.WriteString(part.value)
	}
	return b.String()
}

// SupplyList splits the comma separated supplies field.
func (a *Activity) SupplyList() []string {
	var out []string
	for _, s := range strings.Split(a.Supplies, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (a *Activity) normalize() {
	a.Title = strings.TrimSpace(a.Title)
	if a.Type == "" {
		a.Type = "Other"
	}
	if a.IndoorOutdoor == "" {
		a.IndoorOutdoor = "either"
	}
	if a.Source == "" {
		a.Source = SourceCatalog
	}
}

// ActivityFilter narrows activity listing and vector search.
type ActivityFilter struct {
	Type          string
	IndoorOutdoor string
	Source        string
}

func (f ActivityFilter) clause(alias string) (string, []any) {
	var conds []string
	var args []any
	if f.Type != "" {
		conds = append(conds, "LOWER("+alias+"activity_type) = LOWER(?)")
		args = append(args, f.Type)
	}
	if f.IndoorOutdoor != "" {
		conds = append(conds, alias+"indoor_outdoor = ?")
		args = append(args, f.IndoorOutdoor)
	}
	if f.Source != "" {
		conds = append(conds, alias+"source = ?")
		args = append(args, f.Source)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

const activityColumns = `id, title, description, instructions, activity_type, age_group, supplies,
	duration_minutes, indoor_outdoor, source, created_by, created_at, updated_at`

func prefixed(alias string) string {
	cols := strings.Split(activityColumns, ",")
	for i, c := range cols {
		cols[i] = alias + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// UpsertActivity inserts or replaces an activity, assigning an id when empty.
func (s *Store) UpsertActivity(ctx context.Context, a *Activity) error {
	if a == nil {
		return fmt.Errorf("activity is nil")
	}
	a.normalize()
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	if a.ID == "" {
		a.ID = NewActivityID()
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities(`+activityColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			instructions = excluded.instructions,
			activity_type = excluded.activity_type,
			age_group = excluded.age_group,
			supplies = excluded.supplies,
			duration_minutes = excluded.duration_minutes,
			indoor_outdoor = excluded.indoor_outdoor,
			source = excluded.source,
			created_by = excluded.created_by,
			updated_at = excluded.updated_at`,
		a.ID, a.Title, a.Description, a.Instructions, a.Type, a.AgeGroup, a.Supplies,
		a.DurationMinutes, a.IndoorOutdoor, a.Source, a.CreatedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}
	return nil
}

// GetActivity returns an activity by id or ErrNotFound.
func (s *Store) GetActivity(ctx context.Context, id string) (*Activity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

// FindActivityByTitle returns the first activity whose title matches
// case-insensitively, preferring exact matches over substring matches.
func (s *Store) FindActivityByTitle(ctx context.Context, title string) (*Activity, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE LOWER(title) = LOWER(?) OR INSTR(LOWER(title), LOWER(?)) > 0
		ORDER BY (LOWER(title) = LOWER(?)) DESC, LENGTH(title) ASC
		LIMIT 1`, title, title, title)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find activity: %w", err)
	}
	return a, nil
}

// ListActivities returns activities matching filter ordered by title.
// limit <= 0 returns all.
func (s *Store) ListActivities(ctx context.Context, filter ActivityFilter, limit int) ([]Activity, error) {
	where, args := filter.clause("")
	query := `SELECT ` + activityColumns + ` FROM activities WHERE 1=1` + where + ` ORDER BY title`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CountActivities returns the number of activities matching filter.
func (s *Store) CountActivities(ctx context.Context, filter ActivityFilter) (int, error) {
	where, args := filter.clause("")
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities WHERE 1=1`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}

// UpsertEmbedding inserts or updates an embedding vector for an activity.
func (s *Store) UpsertEmbedding(ctx context.Context, activityID, provider, model string, vec []float64) error {
	activityID = strings.TrimSpace(activityID)
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if activityID == "" {
		return fmt.Errorf("activity_id is required")
	}
	if provider == "" || model == "" {
		return fmt.Errorf("provider and model are required")
	}
	if len(vec) == 0 {
		return fmt.Errorf("vector cannot be empty")
	}

	payload, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("encode embedding vector: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_embeddings(activity_id, provider, model, dimensions, vector, embedded_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(activity_id, provider, model) DO UPDATE SET
			dimensions = excluded.dimensions,
			vector = excluded.vector,
			embedded_at = excluded.embedded_at`,
		activityID, provider, model, len(vec), payload, time.Now())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// CountEmbeddings returns how many activities have vectors for provider/model.
func (s *Store) CountEmbeddings(ctx context.Context, provider, model string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activity_embeddings WHERE provider = ? AND model = ?`,
		provider, model).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// VectorSearch performs a full cosine similarity scan over activity
// embeddings and returns the best limit matches with Score set.
func (s *Store) VectorSearch(ctx context.Context, provider, model string, queryVec []float64, limit int, filter ActivityFilter) ([]Activity, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return nil, fmt.Errorf("provider and model are required")
	}
	if limit <= 0 {
		limit = 5
	}

	where, filterArgs := filter.clause("a.")
	args := append([]any{provider, model, len(queryVec)}, filterArgs...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("a.")+`, e.vector
		FROM activity_embeddings e
		JOIN activities a ON a.id = e.activity_id
		WHERE e.provider = ? AND e.model = ? AND e.dimensions = ?`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search query: %w", err)
	}
	defer rows.Close()

	matches := make([]Activity, 0, limit)
	for rows.Next() {
		var a Activity
		var payload []byte
		if err := rows.Scan(
			&a.ID,
			&a.Title,
			&a.Description,
			&a.Instructions,
			&a.Type,
			&a.AgeGroup,
			&a.Supplies,
			&a.DurationMinutes,
			&a.IndoorOutdoor,
			&a.Source,
			&a.CreatedBy,
			&a.CreatedAt,
			&a.UpdatedAt,
			&payload,
		); err != nil {
			return nil, fmt.Errorf("scan vector search row: %w", err)
		}
		var vec []float64
		if err := json.Unmarshal(payload, &vec); err != nil {
			return nil, fmt.Errorf("decode stored vector for activity %s: %w", a.ID, err)
		}
		a.Score = embedding.CosineSimilarity(queryVec, vec)
		matches = append(matches, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].Title < matches[j].Title
		}
		return matches[i].Score > matches[j].Score
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func scanActivity(scanner interface{ Scan(dest ...any) error }) (*Activity, error) {
	var a Activity
	err := scanner.Scan(
		&a.ID,
		&a.Title,
		&a.Description,
		&a.Instructions,
		&a.Type,
		&a.AgeGroup,
		&a.Supplies,
		&a.DurationMinutes,
		&a.IndoorOutdoor,
		&a.Source,
		&a.CreatedBy,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
