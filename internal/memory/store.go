package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SentinelNone is the fact-extraction output meaning "no durable fact
// present". It must never be persisted.
const SentinelNone = "NONE"

// ErrNoFact is returned by Insert for blank or sentinel input.
var ErrNoFact = errors.New("memory: not a storable fact")

// listTimeout bounds ListAll so a wedged backend cannot stall a turn.
const listTimeout = 2 * time.Second

// Fact is one learned, append-only memory entry.
type Fact struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Config controls store initialization.
type Config struct {
	Path   string
	Logger *slog.Logger
}

// Store persists learned facts in SQLite. Facts are append-only: they are
// never updated or deleted once written.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the database and ensures the schema. The caller owns the
// lifecycle and must Close the store on shutdown.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("memory: database path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS memories (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        fact TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("memory: ensure schema: %w", err)
	}
	return nil
}

// Insert appends a learned fact. Blank input and the NONE sentinel are
// rejected with ErrNoFact so callers cannot persist them by accident.
func (s *Store) Insert(ctx context.Context, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" || strings.EqualFold(fact, SentinelNone) {
		return ErrNoFact
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO memories (fact) VALUES (?)`, fact); err != nil {
		return fmt.Errorf("memory: insert fact: %w", err)
	}
	return nil
}

// ListAll returns all facts, most recent first. Memory is an enhancement,
// not a correctness requirement: on any backend failure it logs and returns
// an empty slice instead of propagating, and the query is time-bounded.
func (s *Store) ListAll(ctx context.Context) []Fact {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, fact, created_at FROM memories ORDER BY id DESC`)
	if err != nil {
		s.logger.Warn("memory list failed, continuing without context", "err", err)
		return nil
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Text, &f.CreatedAt); err != nil {
			s.logger.Warn("memory row scan failed", "err", err)
			return nil
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("memory list interrupted", "err", err)
	}
	return facts
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
