// Package storage persists knowledge facts and application runs in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DB is the application database.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" is accepted.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		source TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (subject, source, content)
	);

	CREATE INDEX IF NOT EXISTS idx_facts_subject ON facts(subject);

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		resume TEXT,
		state TEXT NOT NULL,
		result TEXT,
		fit_reasoning TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_applications_url ON applications(url, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Fact is a persisted knowledge fact.
type Fact struct {
	ID        string
	Subject   string
	Source    string
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// InsertFact stores f. It reports false when an identical
// (subject, source, content) fact already exists.
func (d *DB) InsertFact(ctx context.Context, f *Fact) (bool, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO facts (id, subject, source, content, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Subject, f.Source, f.Content, encodeVector(f.Embedding), f.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}
	return n > 0, nil
}

// FillFactEmbedding stores f.Embedding on the existing identical fact when that
// fact has no vector yet. It reports whether a row was updated.
func (d *DB) FillFactEmbedding(ctx context.Context, f *Fact) (bool, error) {
	if len(f.Embedding) == 0 {
		return false, nil
	}

	res, err := d.db.ExecContext(ctx,
		`UPDATE facts SET embedding = ?
		 WHERE subject = ? AND source = ? AND content = ? AND embedding IS NULL`,
		encodeVector(f.Embedding), f.Subject, f.Source, f.Content,
	)
	if err != nil {
		return false, fmt.Errorf("fill fact embedding: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fill fact embedding: %w", err)
	}
	return n > 0, nil
}

// ListFacts returns all facts of subject in insertion order.
func (d *DB) ListFacts(ctx context.Context, subject string) ([]*Fact, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, subject, source, content, embedding, created_at
		 FROM facts WHERE subject = ? ORDER BY created_at, rowid`, subject,
	)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		var f Fact
		var blob []byte
		if err := rows.Scan(&f.ID, &f.Subject, &f.Source, &f.Content, &blob, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Embedding = decodeVector(blob)
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

// Application is one recorded application run.
type Application struct {
	ID           string
	URL          string
	Resume       string
	State        string
	Result       string
	FitReasoning string
	CreatedAt    time.Time
}

// InsertApplication records a run.
func (d *DB) InsertApplication(ctx context.Context, a *Application) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO applications (id, url, resume, state, result, fit_reasoning, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.URL, a.Resume, a.State, a.Result, a.FitReasoning, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// LatestApplication returns the most recent run for url, optionally limited
// to the given state.
func (d *DB) LatestApplication(ctx context.Context, url, state string) (*Application, error) {
	query := `SELECT id, url, resume, state, result, fit_reasoning, created_at
		 FROM applications WHERE url = ?`
	args := []any{url}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT 1`

	var a Application
	var resume, result, reasoning sql.NullString
	err := d.db.QueryRowContext(ctx, query, args...).
		Scan(&a.ID, &a.URL, &resume, &a.State, &result, &reasoning, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest application: %w", err)
	}

	a.Resume = resume.String
	a.Result = result.String
	a.FitReasoning = reasoning.String
	return &a, nil
}

// ListApplications returns the most recent runs, newest first.
func (d *DB) ListApplications(ctx context.Context, limit int) ([]*Application, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, url, resume, state, result, fit_reasoning, created_at
		 FROM applications ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []*Application
	for rows.Next() {
		var a Application
		var resume, result, reasoning sql.NullString
		if err := rows.Scan(&a.ID, &a.URL, &resume, &a.State, &result, &reasoning, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		a.Resume = resume.String
		a.Result = result.String
		a.FitReasoning = reasoning.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
