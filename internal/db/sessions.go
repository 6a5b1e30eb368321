package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/repcount/internal/accumulator"
	"github.com/banshee-data/repcount/internal/session"
)

// ErrSessionNotFound is returned by Session for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// SaveSession inserts or replaces a summary together with its events.
func (db *DB) SaveSession(ctx context.Context, s session.Summary) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM repetitions WHERE session_id = ?`, s.ID); err != nil {
		return fmt.Errorf("clear repetitions: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO sessions (
			session_id, exercise, catalog, facing, started_unix_nanos, ended_unix_nanos,
			repetitions, calories, calorie_increment, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Exercise, s.Catalog, s.Facing, s.StartedAt.UnixNano(), s.EndedAt.UnixNano(),
		s.Count, s.Calories, s.CalorieIncrement, s.Error,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO repetitions (
			session_id, seq, event_unix_nanos, source, count, calories
		) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, ev := range s.Events {
		if _, err := stmt.ExecContext(ctx, s.ID, ev.Seq, ev.Time.UnixNano(), string(ev.Source), ev.Count, ev.Calories); err != nil {
			return fmt.Errorf("insert repetition %d: %w", ev.Seq, err)
		}
	}
	return tx.Commit()
}

const sessionColumns = `session_id, exercise, catalog, facing, started_unix_nanos, ended_unix_nanos,
	repetitions, calories, calorie_increment, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Summary, error) {
	var (
		s              session.Summary
		started, ended int64
	)
	if err := row.Scan(&s.ID, &s.Exercise, &s.Catalog, &s.Facing, &started, &ended,
		&s.Count, &s.Calories, &s.CalorieIncrement, &s.Error); err != nil {
		return session.Summary{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	s.EndedAt = time.Unix(0, ended).UTC()
	return s, nil
}

// Sessions lists the most recent sessions without their events, newest
// first. limit <= 0 means 100.
func (db *DB) Sessions(ctx context.Context, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Summary
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Session returns one session with its events in order.
func (db *DB) Session(ctx context.Context, id string) (session.Summary, error) {
	s, err := scanSession(db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return session.Summary{}, ErrSessionNotFound
	}
	if err != nil {
		return session.Summary{}, err
	}

	rows, err := db.QueryContext(ctx, `SELECT seq, event_unix_nanos, source, count, calories
		FROM repetitions WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return session.Summary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev     accumulator.Event
			ts     int64
			source string
		)
		if err := rows.Scan(&ev.Seq, &ts, &source, &ev.Count, &ev.Calories); err != nil {
			return session.Summary{}, err
		}
		ev.Time = time.Unix(0, ts).UTC()
		ev.Source = accumulator.Source(source)
		s.Events = append(s.Events, ev)
	}
	return s, rows.Err()
}

// DeleteSession removes a session and its events.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DailyTotal aggregates the sessions started on one UTC day.
type DailyTotal struct {
	Day         string  `json:"day"`
	Sessions    int     `json:"sessions"`
	Repetitions float64 `json:"repetitions"`
	Calories    float64 `json:"calories"`
}

// TotalsSince groups sessions started at or after since by UTC day, oldest
// first.
func (db *DB) TotalsSince(ctx context.Context, since time.Time) ([]DailyTotal, error) {
	rows, err := db.QueryContext(ctx, `SELECT
			date(started_unix_nanos / 1000000000, 'unixepoch') AS day,
			COUNT(*), SUM(repetitions), SUM(calories)
		FROM sessions
		WHERE started_unix_nanos >= ?
		GROUP BY day
		ORDER BY day`, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyTotal
	for rows.Next() {
		var d DailyTotal
		if err := rows.Scan(&d.Day, &d.Sessions, &d.Repetitions, &d.Calories); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
