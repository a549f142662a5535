package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS corpora (
    name        TEXT PRIMARY KEY,
    language    TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS corpus_lines (
    corpus      TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    line        TEXT NOT NULL,
    PRIMARY KEY (corpus, seq)
);
`

// Info summarises one stored corpus.
type Info struct {
	Name      string    `json:"name"`
	Language  string    `json:"language"`
	Lines     int64     `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is one stored line together with the file it came from, if any.
type Entry struct {
	Source string
	Line   string
}

// SQLiteStore keeps named corpora in a SQLite database so that models can be
// rebuilt from the same lines after a restart.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus database: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create corpus schema: %w", err)
	}
	logger.Info("Opened corpus store", zap.String("path", path))
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append adds entries to the end of the named corpus, creating it if needed.
func (s *SQLiteStore) Append(ctx context.Context, name, language string, entries []Entry) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
        INSERT INTO corpora (name, language, created_at, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET updated_at = ?
    `, name, language, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert corpus %s: %w", name, err)
	}

	var next int64
	err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), -1) + 1 FROM corpus_lines WHERE corpus = ?", name).Scan(&next)
	if err != nil {
		return fmt.Errorf("failed to read corpus %s length: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO corpus_lines (corpus, seq, source, line) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, name, next+int64(i), e.Source, e.Line); err != nil {
			return fmt.Errorf("failed to insert line into %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit corpus %s: %w", name, err)
	}
	s.logger.Debug("Appended corpus lines", zap.String("corpus", name), zap.Int("lines", len(entries)))
	return nil
}

// Delete removes the named corpus and its lines.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM corpus_lines WHERE corpus = ?", name); err != nil {
		return fmt.Errorf("failed to delete lines of %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM corpora WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete corpus %s: %w", name, err)
	}
	return nil
}

// List returns every stored corpus ordered by name.
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.name, c.language, c.created_at, c.updated_at,
               (SELECT COUNT(*) FROM corpus_lines l WHERE l.corpus = c.name)
        FROM corpora c ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list corpora: %w", err)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.Name, &info.Language, &info.CreatedAt, &info.UpdatedAt, &info.Lines); err != nil {
			return nil, fmt.Errorf("failed to scan corpus row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Lookup returns the named corpus. ok is false when it does not exist.
func (s *SQLiteStore) Lookup(ctx context.Context, name string) (info Info, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
        SELECT c.name, c.language, c.created_at, c.updated_at,
               (SELECT COUNT(*) FROM corpus_lines l WHERE l.corpus = c.name)
        FROM corpora c WHERE c.name = ?`, name).
		Scan(&info.Name, &info.Language, &info.CreatedAt, &info.UpdatedAt, &info.Lines)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, fmt.Errorf("failed to look up corpus %s: %w", name, err)
	}
	return info, true, nil
}

// Entries returns the stored lines of a corpus in insertion order.
func (s *SQLiteStore) Entries(ctx context.Context, name string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT source, line FROM corpus_lines WHERE corpus = ? ORDER BY seq", name)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus %s: %w", name, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Source, &e.Line); err != nil {
			return nil, fmt.Errorf("failed to scan corpus line: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Source returns a line source that streams the named corpus from the
// database each time it is opened.
func (s *SQLiteStore) Source(ctx context.Context, name string) LineSource {
	return &storedSource{store: s, ctx: ctx, name: name}
}

type storedSource struct {
	store *SQLiteStore
	ctx   context.Context
	name  string
}

func (src *storedSource) Open() (LineReader, error) {
	rows, err := src.store.db.QueryContext(src.ctx, "SELECT line FROM corpus_lines WHERE corpus = ? ORDER BY seq", src.name)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus %s: %w", src.name, err)
	}
	return &rowReader{rows: rows}, nil
}

type rowReader struct {
	rows *sql.Rows
}

func (r *rowReader) Next() (string, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	var line string
	if err := r.rows.Scan(&line); err != nil {
		return "", err
	}
	return line, nil
}

func (r *rowReader) Close() error {
	return r.rows.Close()
}
