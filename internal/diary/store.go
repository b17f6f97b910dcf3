// Package diary stores the mood and period entries of the diary.
//
// The same queries run against SQLite, MySQL and Postgres. Queries are
// written with ? placeholders and rebound for the active [Dialect].
package diary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DateLayout is the format of day keys and period start dates.
const DateLayout = "2006-01-02"

// List limits.
const (
	DefaultListLimit = 5
	MaxMoodLimit     = 20
	MaxPeriodLimit   = 12
)

var (
	// ErrNotFound is returned when an entry id does not exist.
	ErrNotFound = errors.New("diary entry not found")

	// ErrInvalid wraps every input validation failure.
	ErrInvalid = errors.New("invalid diary input")
)

// Moods lists the accepted mood values in display order.
var Moods = []string{"happy", "blissful", "tired", "annoyed", "angry", "depressed"}

// Mood is one day's mood entry. DateKey is unique: logging twice on
// the same day overwrites.
type Mood struct {
	ID        int64     `json:"id"`
	Mood      string    `json:"mood"`
	Intensity int       `json:"intensity"`
	Note      string    `json:"note"`
	DateKey   string    `json:"date_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Period marks the first day of a cycle.
type Period struct {
	ID        int64     `json:"id"`
	StartDate string    `json:"start_date"`
	CreatedAt time.Time `json:"created_at"`
}

// MoodInput is a new mood entry. Date defaults to today.
type MoodInput struct {
	Mood      string
	Intensity int
	Note      string
	Date      string
}

// MoodPatch changes only the non-nil fields.
type MoodPatch struct {
	Mood      *string
	Intensity *int
	Note      *string
}

// Empty reports whether the patch changes nothing.
func (p MoodPatch) Empty() bool {
	return p.Mood == nil && p.Intensity == nil && p.Note == nil
}

// Store persists diary entries.
type Store struct {
	db      *sql.DB
	dialect Dialect
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
}

// Open connects to the database named by driver and dsn and prepares
// the schema.
func Open(driver, dsn string, loc *time.Location, logger *slog.Logger) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	s, err := NewStore(db, dialect, loc, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates a diary store on an existing connection.
func NewStore(db *sql.DB, dialect Dialect, loc *time.Location, logger *slog.Logger) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, dialect: dialect, loc: loc, now: time.Now, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Today returns the current day key in the store's location.
func (s *Store) Today() string {
	return s.now().In(s.loc).Format(DateLayout)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context, q execQuerier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q execQuerier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// insert runs an INSERT and returns the new row id.
func (s *Store) insert(ctx context.Context, q execQuerier, query string, args ...any) (int64, error) {
	if s.dialect == DialectPostgres {
		var id int64
		err := s.queryRow(ctx, q, query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := s.exec(ctx, q, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func validateMood(mood string, intensity int) error {
	if !slices.Contains(Moods, mood) {
		return fmt.Errorf("%w: mood %q must be one of %s", ErrInvalid, mood, strings.Join(Moods, ", "))
	}
	if intensity < 1 || intensity > 3 {
		return fmt.Errorf("%w: intensity %d must be between 1 and 3", ErrInvalid, intensity)
	}
	return nil
}

func validateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalid, date)
	}
	return nil
}

func clampLimit(limit, ceiling int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, ceiling)
}

// --- Moods ---

const moodColumns = `id, mood, intensity, note, date_key, created_at`

// LogMood records the mood for a day. An existing entry for the same
// day is overwritten; created reports whether a new row was inserted.
func (s *Store) LogMood(ctx context.Context, in MoodInput) (mood *Mood, created bool, err error) {
	in.Mood = strings.ToLower(strings.TrimSpace(in.Mood))
	if in.Intensity == 0 {
		in.Intensity = 1
	}
	if err := validateMood(in.Mood, in.Intensity); err != nil {
		return nil, false, err
	}
	if in.Date == "" {
		in.Date = s.Today()
	} else if err := validateDate(in.Date); err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = s.queryRow(ctx, tx, `SELECT id FROM moods WHERE date_key = ?`, in.Date).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, err = s.insert(ctx, tx,
			`INSERT INTO moods (mood, intensity, note, date_key, created_at) VALUES (?, ?, ?, ?, ?)`,
			in.Mood, in.Intensity, in.Note, in.Date, s.stamp())
		if err != nil {
			return nil, false, fmt.Errorf("insert mood: %w", err)
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("lookup mood: %w", err)
	default:
		if _, err := s.exec(ctx, tx,
			`UPDATE moods SET mood = ?, intensity = ?, note = ? WHERE id = ?`,
			in.Mood, in.Intensity, in.Note, id); err != nil {
			return nil, false, fmt.Errorf("update mood: %w", err)
		}
	}

	mood, err = s.getMood(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("mood logged", "id", mood.ID, "mood", mood.Mood, "date", mood.DateKey, "created", created)
	return mood, created, nil
}

// ListMoods returns the most recent moods, newest day first. A non-empty
// date restricts the result to that day.
func (s *Store) ListMoods(ctx context.Context, limit int, date string) ([]Mood, error) {
	limit = clampLimit(limit, MaxMoodLimit)

	query := `SELECT ` + moodColumns + ` FROM moods`
	var args []any
	if date != "" {
		if err := validateDate(date); err != nil {
			return nil, err
		}
		query += ` WHERE date_key = ?`
		args = append(args, date)
	}
	query += ` ORDER BY date_key DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list moods: %w", err)
	}
	defer rows.Close()

	var out []Mood
	for rows.Next() {
		m, err := scanMood(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetMood returns one mood entry.
func (s *Store) GetMood(ctx context.Context, id int64) (*Mood, error) {
	return s.getMood(ctx, s.db, id)
}

func (s *Store) getMood(ctx context.Context, q execQuerier, id int64) (*Mood, error) {
	m, err := scanMood(s.queryRow(ctx, q, `SELECT `+moodColumns+` FROM moods WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mood %d: %w", id, ErrNotFound)
	}
	return m, err
}

// UpdateMood applies patch to an existing entry. Applying the same patch
// twice leaves the same stored state.
func (s *Store) UpdateMood(ctx context.Context, id int64, patch MoodPatch) (*Mood, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalid)
	}
	m, err := s.GetMood(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Mood != nil {
		m.Mood = strings.ToLower(strings.TrimSpace(*patch.Mood))
	}
	if patch.Intensity != nil {
		m.Intensity = *patch.Intensity
	}
	if patch.Note != nil {
		m.Note = *patch.Note
	}
	if err := validateMood(m.Mood, m.Intensity); err != nil {
		return nil, err
	}

	if _, err := s.exec(ctx, s.db,
		`UPDATE moods SET mood = ?, intensity = ?, note = ? WHERE id = ?`,
		m.Mood, m.Intensity, m.Note, id); err != nil {
		return nil, fmt.Errorf("update mood: %w", err)
	}
	return m, nil
}

// DeleteMood removes a mood entry.
func (s *Store) DeleteMood(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "moods", "mood", id)
}

// --- Periods ---

const periodColumns = `id, start_date, created_at`

// TrackPeriod records a cycle start. An empty startDate means today.
// Tracking an already recorded date returns the existing entry with
// created false.
func (s *Store) TrackPeriod(ctx context.Context, startDate string) (period *Period, created bool, err error) {
	if startDate == "" {
		startDate = s.Today()
	} else if err := validateDate(startDate); err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = s.queryRow(ctx, tx, `SELECT id FROM periods WHERE start_date = ?`, startDate).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id, err = s.insert(ctx, tx,
			`INSERT INTO periods (start_date, created_at) VALUES (?, ?)`, startDate, s.stamp())
		if err != nil {
			return nil, false, fmt.Errorf("insert period: %w", err)
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("lookup period: %w", err)
	}

	period, err = s.getPeriod(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return period, created, nil
}

// ListPeriods returns recent cycle starts, newest first.
func (s *Store) ListPeriods(ctx context.Context, limit int) ([]Period, error) {
	limit = clampLimit(limit, MaxPeriodLimit)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT `+periodColumns+` FROM periods ORDER BY start_date DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetPeriod returns one period entry.
func (s *Store) GetPeriod(ctx context.Context, id int64) (*Period, error) {
	return s.getPeriod(ctx, s.db, id)
}

func (s *Store) getPeriod(ctx context.Context, q execQuerier, id int64) (*Period, error) {
	p, err := scanPeriod(s.queryRow(ctx, q, `SELECT `+periodColumns+` FROM periods WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("period %d: %w", id, ErrNotFound)
	}
	return p, err
}

// UpdatePeriod moves a cycle start to a new date.
func (s *Store) UpdatePeriod(ctx context.Context, id int64, startDate string) (*Period, error) {
	if err := validateDate(startDate); err != nil {
		return nil, err
	}
	p, err := s.GetPeriod(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.exec(ctx, s.db, `UPDATE periods SET start_date = ? WHERE id = ?`, startDate, id); err != nil {
		return nil, fmt.Errorf("update period: %w", err)
	}
	p.StartDate = startDate
	return p, nil
}

// DeletePeriod removes a period entry.
func (s *Store) DeletePeriod(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "periods", "period", id)
}

func (s *Store) deleteByID(ctx context.Context, table, noun string, id int64) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", noun, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", noun, id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMood(row scanner) (*Mood, error) {
	var (
		m       Mood
		created string
	)
	if err := row.Scan(&m.ID, &m.Mood, &m.Intensity, &m.Note, &m.DateKey, &created); err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &m, nil
}

func scanPeriod(row scanner) (*Period, error) {
	var (
		p       Period
		created string
	)
	if err := row.Scan(&p.ID, &p.StartDate, &created); err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &p, nil
}
