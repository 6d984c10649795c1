package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kidsclubplans/kcp/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist or belongs to another user.
var ErrNotFound = errors.New("not found")

// Config controls store initialization.
type Config struct {
	Path string // Optional DB path override (supports :memory:)
}

// Store persists profiles, interactions, schedules, activities, embeddings
// and cached weather. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id                    TEXT PRIMARY KEY,
    default_age_group          TEXT NOT NULL DEFAULT '',
    program_type               TEXT NOT NULL DEFAULT '',
    group_size                 INTEGER,
    prefers_low_prep           BOOLEAN NOT NULL DEFAULT 0,
    prefers_outdoor            BOOLEAN,
    prefers_indoor             BOOLEAN,
    preferred_duration_minutes INTEGER,
    typical_supplies           TEXT NOT NULL DEFAULT '[]',
    usual_break_times          TEXT NOT NULL DEFAULT '[]',
    typical_activity_length    TEXT NOT NULL DEFAULT '',
    common_age_groups          TEXT NOT NULL DEFAULT '{}',
    favorite_activity_types    TEXT NOT NULL DEFAULT '{}',
    created_at                 DATETIME NOT NULL,
    updated_at                 DATETIME NOT NULL,
    last_interaction           DATETIME,
    interaction_count          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS interactions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id        TEXT NOT NULL,
    session_id     TEXT NOT NULL DEFAULT '',
    query          TEXT NOT NULL,
    activity_count INTEGER NOT NULL DEFAULT 0,
    created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_interactions_session ON interactions(user_id, session_id);

CREATE TABLE IF NOT EXISTS schedules (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    date           TEXT NOT NULL,
    title          TEXT NOT NULL DEFAULT '',
    age_group      TEXT NOT NULL DEFAULT '',
    duration_hours INTEGER NOT NULL DEFAULT 0,
    activities     TEXT NOT NULL,
    created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedules_user_date ON schedules(user_id, date);

CREATE TABLE IF NOT EXISTS weekly_schedules (
    user_id     TEXT NOT NULL,
    week_number INTEGER NOT NULL,
    theme       TEXT NOT NULL DEFAULT '',
    activities  TEXT NOT NULL DEFAULT '[]',
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (user_id, week_number)
);

CREATE TABLE IF NOT EXISTS activities (
    id               TEXT PRIMARY KEY,
    title            TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    instructions     TEXT NOT NULL DEFAULT '',
    activity_type    TEXT NOT NULL DEFAULT 'Other',
    age_group        TEXT NOT NULL DEFAULT '',
    supplies         TEXT NOT NULL DEFAULT '',
    duration_minutes INTEGER NOT NULL DEFAULT 0,
    indoor_outdoor   TEXT NOT NULL DEFAULT 'either',
    source           TEXT NOT NULL DEFAULT 'catalog',
    created_by       TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);

CREATE TABLE IF NOT EXISTS activity_embeddings (
    activity_id TEXT NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
    provider    TEXT NOT NULL,
    model       TEXT NOT NULL,
    dimensions  INTEGER NOT NULL,
    vector      BLOB NOT NULL,
    embedded_at DATETIME NOT NULL,
    PRIMARY KEY (activity_id, provider, model)
);

CREATE TABLE IF NOT EXISTS weather_cache (
    location   TEXT NOT NULL,
    date       TEXT NOT NULL,
    payload    TEXT NOT NULL,
    fetched_at DATETIME NOT NULL,
    PRIMARY KEY (location, date)
);
`

// schemaVersion is the current schema version.
// Fresh databases get the full schema and start here; older databases run
// the pending migrations.
const schemaVersion = 2

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

var migrations = []migration{
	{
		version:     1,
		description: "add activity source columns",
		up: func(db *sql.DB) error {
			for _, stmt := range []string{
				`ALTER TABLE activities ADD COLUMN source TEXT NOT NULL DEFAULT 'catalog'`,
				`ALTER TABLE activities ADD COLUMN created_by TEXT NOT NULL DEFAULT ''`,
			} {
				if _, err := db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
					return err
				}
			}
			return nil
		},
	},
	{
		version:     2,
		description: "scope weekly schedules per user",
		up: func(db *sql.DB) error {
			_, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_weekly_user_week ON weekly_schedules(user_id, week_number)`)
			return err
		},
	},
}

// NewStore opens the database and initializes the schema.
func NewStore(cfg Config) (*Store, error) {
	dbPath, err := ResolveDBPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=mmap_size(134217728)&_pragma=cache_size(-64000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// initSchema creates the schema and runs pending migrations.
// The common case (schema already current) is a single SELECT.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	var hadActivities int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='activities'`).Scan(&hadActivities); err != nil {
		return fmt.Errorf("check activities table: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if versionErr != nil && (errors.Is(versionErr, sql.ErrNoRows) || strings.Contains(versionErr.Error(), "no such table")) {
		if hadActivities > 0 {
			currentVersion = 0
		} else {
			currentVersion = schemaVersion
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if versionErr != nil {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update version to %d: %w", m.version, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") ||
		strings.Contains(errStr, "already exists")
}

// GetDBPath returns the default kcp.db path.
func GetDBPath() (string, error) {
	dataDir, err := config.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "kcp.db"), nil
}

// ResolveDBPath resolves an optional DB path override.
func ResolveDBPath(pathOverride string) (string, error) {
	pathOverride = strings.TrimSpace(pathOverride)
	if pathOverride == "" {
		return GetDBPath()
	}
	if pathOverride == ":memory:" {
		return pathOverride, nil
	}

	pathOverride = os.ExpandEnv(pathOverride)
	if strings.HasPrefix(pathOverride, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		pathOverride = filepath.Join(homeDir, pathOverride[2:])
	}

	abs, err := filepath.Abs(pathOverride)
	if err != nil {
		return "", fmt.Errorf("resolve db path %q: %w", pathOverride, err)
	}
	return abs, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NewActivityID returns a short random activity id.
func NewActivityID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}
