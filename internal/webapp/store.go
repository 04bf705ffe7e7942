package webapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the SQLite database at path and runs
// migrations. ":memory:" gives a private in-memory database.
func NewStore(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: writes are serialized and an in-memory database
	// stays alive for the life of the pool
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(memory); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordGeneration appends one row to the generations log and adds one to
// the total counter in the same transaction.
func (s *Store) RecordGeneration(ctx context.Context, imageURL string, at time.Time) (Generation, error) {
	if strings.TrimSpace(imageURL) == "" {
		return Generation{}, errors.New("image url is required")
	}
	at = at.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Generation{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO generations (image_url, created_at)
		VALUES (?, ?);
	`, imageURL, at.Format(timeLayout))
	if err != nil {
		return Generation{}, fmt.Errorf("insert generation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Generation{}, err
	}
	if err := incrementCounter(ctx, tx, TotalGenerationsKey, 1); err != nil {
		return Generation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Generation{}, fmt.Errorf("commit generation: %w", err)
	}
	return Generation{ID: id, ImageURL: imageURL, CreatedAt: at}, nil
}

// IncrementCounter adds n to key with a single upsert statement.
func (s *Store) IncrementCounter(ctx context.Context, key string, n int64) error {
	return incrementCounter(ctx, s.db, key, n)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func incrementCounter(ctx context.Context, db execer, key string, n int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO counters (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = value + excluded.value;
	`, key, n)
	if err != nil {
		return fmt.Errorf("increment counter %s: %w", key, err)
	}
	return nil
}

// ListRecent returns up to limit generations, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Generation, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, image_url, created_at
		FROM generations
		ORDER BY created_at DESC, id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Generation, 0, limit)
	for rows.Next() {
		var (
			g       Generation
			created string
		)
		if err := rows.Scan(&g.ID, &g.ImageURL, &created); err != nil {
			return nil, err
		}
		g.CreatedAt, err = time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("generation %d: bad created_at %q: %w", g.ID, created, err)
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

// Total returns the total_generations counter, 0 when the row is absent.
func (s *Store) Total(ctx context.Context) (int64, error) {
	return s.counter(ctx, TotalGenerationsKey)
}

func (s *Store) counter(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		SELECT value
		FROM counters
		WHERE key = ?
		LIMIT 1;
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) CountGenerations(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations;`).Scan(&n)
	return n, err
}

func (s *Store) runMigrations(memory bool) error {
	statements := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image_url TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS counters (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generations_created ON generations(created_at DESC);`,
	}
	if !memory {
		statements = append([]string{`PRAGMA journal_mode = WAL;`}, statements...)
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%s: %w", strings.SplitN(strings.TrimSpace(stmt), "\n", 2)[0], err)
		}
	}
	return nil
}
