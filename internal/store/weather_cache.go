package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func weatherKey(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}

// GetCachedWeather returns the cached payload for location/date if it was
// fetched within ttl. ok is false on a miss or a stale entry.
func (s *Store) GetCachedWeather(ctx context.Context, location, date string, ttl time.Duration) (payload []byte, ok bool, err error) {
	var raw string
	var fetchedAt time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT payload, fetched_at FROM weather_cache WHERE location = ? AND date = ?`,
		weatherKey(location), date).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached weather: %w", err)
	}
	if ttl > 0 && time.Since(fetchedAt) > ttl {
		return nil, false, nil
	}
	return []byte(raw), true, nil
}

// SetCachedWeather stores a weather payload for location/date.
func (s *Store) SetCachedWeather(ctx context.Context, location, date string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_cache(location, date, payload, fetched_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(location, date) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at`,
		weatherKey(location), date, string(payload), time.Now())
	if err != nil {
		return fmt.Errorf("set cached weather: %w", err)
	}
	return nil
}

// ClearWeatherOlderThan removes cache entries fetched more than age ago.
func (s *Store) ClearWeatherOlderThan(ctx context.Context, age time.Duration) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT location, date, fetched_at FROM weather_cache`)
	if err != nil {
		return 0, fmt.Errorf("scan weather cache: %w", err)
	}
	type key struct{ location, date string }
	var stale []key
	cutoff := time.Now().Add(-age)
	for rows.Next() {
		var k key
		var fetchedAt time.Time
		if err := rows.Scan(&k.location, &k.date, &fetchedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan weather cache row: %w", err)
		}
		if fetchedAt.Before(cutoff) {
			stale = append(stale, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, k := range stale {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM weather_cache WHERE location = ? AND date = ?`, k.location, k.date); err != nil {
			return 0, fmt.Errorf("delete weather cache row: %w", err)
		}
	}
	return len(stale), nil
}
