// Package audit keeps a local history of completed scans in SQLite. Only
// metadata is stored: the upload is identified by a BLAKE2b digest and
// never persisted.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Entry is one completed scan.
type Entry struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	SubjectID     string    `json:"subject_id,omitempty"`
	Filename      string    `json:"filename"`
	Format        string    `json:"format"`
	Purpose       string    `json:"purpose,omitempty"`
	Digest        string    `json:"digest"`
	PIIColumns    []string  `json:"pii_columns"`
	RedactedFile  string    `json:"redacted_file"`
	RiskScore     float64   `json:"risk_score"`
	RedactedCount int       `json:"redacted_count"`
	TotalValues   int       `json:"total_values"`
}

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store is a SQLite-backed scan history. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("audit: set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record stores e. ID and CreatedAt are filled in when empty.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.PIIColumns == nil {
		e.PIIColumns = []string{}
	}
	cols, err := json.Marshal(e.PIIColumns)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode columns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (id, created_at, subject_id, filename, format, purpose, digest,
			pii_columns, redacted_file, risk_score, redacted_count, total_values)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt, e.SubjectID, e.Filename, e.Format, e.Purpose, e.Digest,
		string(cols), e.RedactedFile, e.RiskScore, e.RedactedCount, e.TotalValues,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: record: %w", err)
	}
	return e, nil
}

// Recent returns up to limit entries of subjectID, newest first. An empty
// subjectID lists every subject.
func (s *Store) Recent(ctx context.Context, subjectID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, subject_id, filename, format, purpose, digest,
			pii_columns, redacted_file, risk_score, redacted_count, total_values
		FROM scans
		WHERE ? = '' OR subject_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, subjectID, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var cols string
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.SubjectID, &e.Filename, &e.Format, &e.Purpose,
			&e.Digest, &cols, &e.RedactedFile, &e.RiskScore, &e.RedactedCount, &e.TotalValues); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(cols), &e.PIIColumns); err != nil {
			return nil, fmt.Errorf("audit: decode columns: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}

// CountSince returns how many scans subjectID ran at or after since and
// when the earliest of them ran. first is zero when n is.
func (s *Store) CountSince(ctx context.Context, subjectID string, since time.Time) (n int, first time.Time, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scans WHERE subject_id = ? AND created_at >= ?`,
		subjectID, since.UTC(),
	).Scan(&n)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("audit: count: %w", err)
	}
	if n == 0 {
		return 0, time.Time{}, nil
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT created_at FROM scans WHERE subject_id = ? AND created_at >= ?
		ORDER BY created_at LIMIT 1`,
		subjectID, since.UTC(),
	).Scan(&first)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("audit: first scan: %w", err)
	}
	return n, first, nil
}
