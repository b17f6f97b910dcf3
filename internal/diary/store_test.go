package diary

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	loc, _ := time.LoadLocation("Asia/Shanghai")
	store, err := NewStore(db, DialectSQLite, loc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	// 2025-03-01 23:30 in Shanghai is still 2025-03-01 15:30 UTC.
	store.now = func() time.Time { return time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC) }
	return store
}

func ptr[T any](v T) *T { return &v }

func TestLogMood_UpsertsByDay(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	first, created, err := store.LogMood(ctx, MoodInput{Mood: "happy", Intensity: 2, Note: "sunny"})
	if err != nil {
		t.Fatalf("log mood: %v", err)
	}
	if !created {
		t.Error("first log should create")
	}
	if first.DateKey != "2025-03-01" {
		t.Errorf("date_key = %q, want local day 2025-03-01", first.DateKey)
	}

	second, created, err := store.LogMood(ctx, MoodInput{Mood: "Tired ", Intensity: 3})
	if err != nil {
		t.Fatalf("log mood again: %v", err)
	}
	if created {
		t.Error("second log on the same day should overwrite")
	}
	if second.ID != first.ID || second.Mood != "tired" || second.Intensity != 3 || second.Note != "" {
		t.Errorf("second = %+v", second)
	}

	moods, _ := store.ListMoods(ctx, 0, "")
	if len(moods) != 1 {
		t.Errorf("moods = %d, want 1", len(moods))
	}
}

func TestLogMood_DefaultsAndValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	m, _, err := store.LogMood(ctx, MoodInput{Mood: "blissful", Date: "2025-02-14"})
	if err != nil {
		t.Fatalf("log mood: %v", err)
	}
	if m.Intensity != 1 || m.DateKey != "2025-02-14" {
		t.Errorf("mood = %+v", m)
	}

	tests := []struct {
		name string
		in   MoodInput
	}{
		{"unknown mood", MoodInput{Mood: "ecstatic"}},
		{"intensity too high", MoodInput{Mood: "happy", Intensity: 4}},
		{"negative intensity", MoodInput{Mood: "happy", Intensity: -1}},
		{"bad date", MoodInput{Mood: "happy", Date: "03/01/2025"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := store.LogMood(ctx, tt.in); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestListMoods(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	for i := 1; i <= 25; i++ {
		date := time.Date(2025, 1, i, 0, 0, 0, 0, time.UTC).Format(DateLayout)
		if _, _, err := store.LogMood(ctx, MoodInput{Mood: "happy", Date: date}); err != nil {
			t.Fatalf("log %s: %v", date, err)
		}
	}

	tests := []struct {
		limit int
		date  string
		want  int
		first string
	}{
		{0, "", 5, "2025-01-25"},
		{3, "", 3, "2025-01-25"},
		{100, "", 20, "2025-01-25"},
		{10, "2025-01-07", 1, "2025-01-07"},
		{10, "2024-12-31", 0, ""},
	}
	for _, tt := range tests {
		got, err := store.ListMoods(ctx, tt.limit, tt.date)
		if err != nil {
			t.Fatalf("list(%d, %q): %v", tt.limit, tt.date, err)
		}
		if len(got) != tt.want {
			t.Errorf("list(%d, %q) = %d entries, want %d", tt.limit, tt.date, len(got), tt.want)
			continue
		}
		if tt.want > 0 && got[0].DateKey != tt.first {
			t.Errorf("list(%d, %q)[0] = %s, want %s", tt.limit, tt.date, got[0].DateKey, tt.first)
		}
	}
}

func TestUpdateMood_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	m, _, _ := store.LogMood(ctx, MoodInput{Mood: "happy", Intensity: 1, Note: "keep"})
	patch := MoodPatch{Mood: ptr("annoyed"), Intensity: ptr(2)}

	for range 2 {
		if _, err := store.UpdateMood(ctx, m.ID, patch); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	got, err := store.GetMood(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Mood != "annoyed" || got.Intensity != 2 || got.Note != "keep" {
		t.Errorf("after update = %+v", got)
	}

	if _, err := store.UpdateMood(ctx, m.ID, MoodPatch{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty patch err = %v", err)
	}
	if _, err := store.UpdateMood(ctx, m.ID, MoodPatch{Intensity: ptr(9)}); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad intensity err = %v", err)
	}
	if _, err := store.UpdateMood(ctx, 999, patch); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestDeleteMood(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	m, _, _ := store.LogMood(ctx, MoodInput{Mood: "angry"})
	if err := store.DeleteMood(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteMood(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
	if _, err := store.GetMood(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted err = %v", err)
	}
}

func TestTrackPeriod(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	p, created, err := store.TrackPeriod(ctx, "")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if !created || p.StartDate != "2025-03-01" {
		t.Errorf("period = %+v created=%v", p, created)
	}

	again, created, err := store.TrackPeriod(ctx, "2025-03-01")
	if err != nil {
		t.Fatalf("track again: %v", err)
	}
	if created || again.ID != p.ID {
		t.Errorf("re-tracking same date should return existing, got %+v created=%v", again, created)
	}

	if _, _, err := store.TrackPeriod(ctx, "yesterday"); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad date err = %v", err)
	}
}

func TestListPeriods(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	for m := 1; m <= 12; m++ {
		for _, d := range []int{1, 28} {
			date := time.Date(2024, time.Month(m), d, 0, 0, 0, 0, time.UTC).Format(DateLayout)
			if _, _, err := store.TrackPeriod(ctx, date); err != nil {
				t.Fatalf("track %s: %v", date, err)
			}
		}
	}

	got, _ := store.ListPeriods(ctx, 0)
	if len(got) != 5 || got[0].StartDate != "2024-12-28" {
		t.Errorf("default list = %d, first %v", len(got), got)
	}
	got, _ = store.ListPeriods(ctx, 50)
	if len(got) != MaxPeriodLimit {
		t.Errorf("capped list = %d, want %d", len(got), MaxPeriodLimit)
	}
}

func TestUpdateAndDeletePeriod(t *testing.T) {
	store := setupTestStore(t)
	ctx := t.Context()

	p, _, _ := store.TrackPeriod(ctx, "2025-02-01")
	updated, err := store.UpdatePeriod(ctx, p.ID, "2025-02-03")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.StartDate != "2025-02-03" {
		t.Errorf("start = %s", updated.StartDate)
	}
	if _, err := store.UpdatePeriod(ctx, 42, "2025-02-03"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing err = %v", err)
	}
	if _, err := store.UpdatePeriod(ctx, p.ID, "2025-2-3"); !errors.Is(err, ErrInvalid) {
		t.Errorf("update bad date err = %v", err)
	}

	if err := store.DeletePeriod(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeletePeriod(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestRebind(t *testing.T) {
	q := `UPDATE moods SET mood = ?, intensity = ? WHERE id = ?`
	if got := DialectPostgres.Rebind(q); got != `UPDATE moods SET mood = $1, intensity = $2 WHERE id = $3` {
		t.Errorf("postgres rebind = %q", got)
	}
	if got := DialectMySQL.Rebind(q); got != q {
		t.Errorf("mysql rebind changed query: %q", got)
	}
	if got := DialectSQLite.Rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in     string
		want   Dialect
		driver string
		err    bool
	}{
		{"", DialectSQLite, "sqlite3", false},
		{"sqlite", DialectSQLite, "sqlite3", false},
		{"MySQL", DialectMySQL, "mysql", false},
		{"postgresql", DialectPostgres, "pgx", false},
		{"oracle", "", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseDialect(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if !tt.err && got.DriverName() != tt.driver {
			t.Errorf("DriverName(%q) = %q, want %q", got, got.DriverName(), tt.driver)
		}
	}
}
