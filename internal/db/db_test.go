package db

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/repcount/internal/accumulator"
	"github.com/banshee-data/repcount/internal/session"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "repcount.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var day1 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func squatSession(id string, start time.Time, reps int) session.Summary {
	s := session.Summary{
		ID:               id,
		Exercise:         "Squat",
		Catalog:          "strength",
		Facing:           "front",
		StartedAt:        start,
		EndedAt:          start.Add(2 * time.Minute),
		CalorieIncrement: 0.5,
	}
	for i := 1; i <= reps; i++ {
		s.Events = append(s.Events, accumulator.Event{
			Seq:      i,
			Time:     start.Add(time.Duration(i) * 3 * time.Second),
			Source:   accumulator.SourceGeometric,
			Count:    float64(i),
			Calories: float64(i) * 0.5,
		})
	}
	s.Count = float64(reps)
	s.Calories = float64(reps) * 0.5
	return s
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", busyTimeout)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestMigrations(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion(Migrations())
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != latest || dirty {
		t.Fatalf("version = %d dirty=%v, want %d clean", version, dirty, latest)
	}

	// Up is idempotent.
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='repetitions'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("repetitions table still present after rolling back one migration")
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp after down: %v", err)
	}
}

func TestOpenDB_SkipsMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	version, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("fresh database at version %d, want 0", version)
	}
}

func TestSaveAndLoadSession(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	want := squatSession("s-1", day1, 3)

	if err := db.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	got, err := db.Session(ctx, "s-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Session mismatch (-want +got):\n%s", diff)
	}

	// Saving again replaces the events rather than appending.
	want.Events = want.Events[:1]
	want.Count, want.Calories = 1, 0.5
	want.Error = "pose source ended"
	if err := db.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession replace: %v", err)
	}
	got, err = db.Session(ctx, "s-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("replaced session mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveSession_RequiresID(t *testing.T) {
	db := newTestDB(t)
	if err := db.SaveSession(context.Background(), session.Summary{Exercise: "Squat"}); err == nil {
		t.Fatal("expected an error for a session without id")
	}
}

func TestSession_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Session(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Session() = %v, want ErrSessionNotFound", err)
	}
	if err := db.DeleteSession(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("DeleteSession() = %v, want ErrSessionNotFound", err)
	}
}

func TestSessions_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		if err := db.SaveSession(ctx, squatSession(id, day1.Add(time.Duration(i)*time.Hour), i+1)); err != nil {
			t.Fatalf("SaveSession(%s): %v", id, err)
		}
	}

	list, err := db.Sessions(ctx, 2)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("Sessions(2) = %+v", list)
	}
	if list[0].Events != nil {
		t.Error("listing should not load events")
	}
}

func TestDeleteSession_CascadesEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.SaveSession(ctx, squatSession("gone", day1, 4)); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteSession(ctx, "gone"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM repetitions WHERE session_id = 'gone'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d repetitions left after delete", n)
	}
}

func TestTotalsSince(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	day2 := day1.Add(24 * time.Hour)
	for _, s := range []session.Summary{
		squatSession("old", day1.Add(-48*time.Hour), 9),
		squatSession("d1a", day1, 2),
		squatSession("d1b", day1.Add(time.Hour), 4),
		squatSession("d2", day2, 1),
	} {
		if err := db.SaveSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.TotalsSince(ctx, day1)
	if err != nil {
		t.Fatalf("TotalsSince: %v", err)
	}
	want := []DailyTotal{
		{Day: "2026-03-01", Sessions: 2, Repetitions: 6, Calories: 3},
		{Day: "2026-03-02", Sessions: 1, Repetitions: 1, Calories: 0.5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TotalsSince mismatch (-want +got):\n%s", diff)
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	if err := db.SaveSession(context.Background(), squatSession("backup-me", day1, 1)); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d: %s", rec.Code, rec.Body.String())
	}

	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 16 || string(data[:15]) != "SQLite format 3" {
		t.Error("backup does not look like a SQLite database")
	}
}
