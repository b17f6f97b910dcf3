// Package memory stores the long-term diary memories the assistant can
// recall. Each record keeps its text, a small metadata envelope, and an
// embedding vector used for semantic search.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/piggy-diary/piggy/internal/embeddings"
)

// Memory types.
const (
	TypeNote   = "note"
	TypeMood   = "mood"
	TypePeriod = "period"
	TypeChat   = "chat"
)

var (
	// ErrNotFound is returned when a memory id does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrNoEmbedder is returned by semantic operations when no
	// embedding provider is configured.
	ErrNoEmbedder = errors.New("no embedding provider configured")
)

// Metadata describes where a memory came from.
type Metadata struct {
	Type     string    `json:"type"`
	Author   string    `json:"author"`
	Datetime time.Time `json:"datetime"`
	// SourceID links a memory to the diary row it mirrors, if any.
	SourceID string `json:"source_id,omitempty"`
}

// Record is a stored memory.
type Record struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Retrieved is a memory returned by semantic search. Distance is
// 1 - cosine similarity, so smaller is closer.
type Retrieved struct {
	Record
	Distance float64 `json:"distance"`
}

// Store persists memories in SQLite.
type Store struct {
	db       *sql.DB
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewStore creates a memory store on an existing connection. embedder
// may be nil, in which case records are stored without vectors and
// semantic search is unavailable.
func NewStore(db *sql.DB, embedder embeddings.Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, embedder: embedder, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Open opens (or creates) a SQLite memory database at path.
func Open(path string, embedder embeddings.Embedder, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	s, err := NewStore(db, embedder, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			type TEXT NOT NULL,
			author TEXT NOT NULL,
			datetime TEXT NOT NULL,
			source_id TEXT,
			embedding BLOB
		);

		CREATE INDEX IF NOT EXISTS idx_memories_datetime ON memories(datetime DESC);
		CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRecordID builds an id of the form <prefix>-<unix ms>-<random>.
func NewRecordID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, now.UnixMilli(), uuid.NewString()[:8])
}

// Add stores records. Records without an id get one; a zero Datetime
// becomes now. Writes are additive: identical content twice yields two
// records.
func (s *Store) Add(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}

	var vectors [][]float32
	if s.embedder != nil {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Text
		}
		var err error
		vectors, err = s.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed memories: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = NewRecordID("mem", now)
		}
		if r.Metadata.Datetime.IsZero() {
			r.Metadata.Datetime = now
		}
		if r.Metadata.Type == "" {
			r.Metadata.Type = TypeNote
		}

		var blob []byte
		if vectors != nil {
			if blob, err = encodeVector(vectors[i]); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, text, type, author, datetime, source_id, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.Text, r.Metadata.Type, r.Metadata.Author,
			r.Metadata.Datetime.UTC().Format(time.RFC3339Nano), nullString(r.Metadata.SourceID), blob); err != nil {
			return fmt.Errorf("insert memory %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns the k memories closest to query.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Retrieved, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	qv, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, type, author, datetime, source_id, embedding
		FROM memories WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var records []Record
	var vectors [][]float32
	for rows.Next() {
		var blob []byte
		r, err := scanRecord(rows, &blob)
		if err != nil {
			return nil, err
		}
		vec, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping memory with unreadable vector", "id", r.ID, "error", err)
			continue
		}
		records = append(records, *r)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top := embeddings.TopK(qv[0], vectors, k)
	out := make([]Retrieved, 0, len(top))
	for _, sc := range top {
		out = append(out, Retrieved{Record: records[sc.Index], Distance: 1 - float64(sc.Score)})
	}
	return out, nil
}

// List returns up to limit memories. With a query it ranks semantically
// when an embedder is configured and falls back to substring match;
// without one it returns the most recent.
func (s *Store) List(ctx context.Context, query string, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	query = strings.TrimSpace(query)

	if query != "" && s.embedder != nil {
		found, err := s.Search(ctx, query, limit)
		if err == nil {
			out := make([]Record, len(found))
			for i, f := range found {
				out[i] = f.Record
			}
			return out, nil
		}
		s.logger.Warn("semantic list failed, falling back to text match", "error", err)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if query != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, text, type, author, datetime, source_id, NULL
			FROM memories WHERE text LIKE ? ESCAPE '\' ORDER BY datetime DESC LIMIT ?
		`, "%"+likeEscaper.Replace(query)+"%", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, text, type, author, datetime, source_id, NULL
			FROM memories ORDER BY datetime DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var blob []byte
		r, err := scanRecord(rows, &blob)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// likeEscaper makes LIKE wildcards in a query match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Get returns one memory by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var blob []byte
	r, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT id, text, type, author, datetime, source_id, NULL
		FROM memories WHERE id = ?
	`, id), &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Update replaces a memory's text and re-embeds it.
func (s *Store) Update(ctx context.Context, id, text string) (*Record, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var blob []byte
	if s.embedder != nil {
		vecs, err := s.embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed memory: %w", err)
		}
		if blob, err = encodeVector(vecs[0]); err != nil {
			return nil, err
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET text = ?, embedding = ? WHERE id = ?`, text, blob, id); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	existing.Text = text
	return existing, nil
}

// Delete removes a memory.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBySource removes memories mirrored from a diary row.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete memories by source: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, blob *[]byte) (*Record, error) {
	var (
		r        Record
		datetime string
		sourceID sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Text, &r.Metadata.Type, &r.Metadata.Author, &datetime, &sourceID, blob); err != nil {
		return nil, err
	}
	r.Metadata.SourceID = sourceID.String
	if t, err := time.Parse(time.RFC3339Nano, datetime); err == nil {
		r.Metadata.Datetime = t
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeVector(v []float32) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode vector: %w", err)
	}
	return b, nil
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v []float32
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode vector: %w", err)
	}
	return v, nil
}
