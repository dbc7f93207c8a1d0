// Package sqlite keeps a local spool of audit entries that could not be
// written to the primary database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketplace-ledger/internal/core/domain"

	_ "github.com/mattn/go-sqlite3"
)

const createSpoolTableSQL = `
CREATE TABLE IF NOT EXISTS audit_spool (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	payload    TEXT NOT NULL,
	spooled_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// AuditSpool implements ports.AuditSpool on a SQLite file.
type AuditSpool struct {
	db *sql.DB
}

// NewAuditSpool opens (or creates) the spool at path. Use ":memory:" in tests.
func NewAuditSpool(path string) (*AuditSpool, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening audit spool: %w", err)
	}
	// One connection: SQLite has a single writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createSpoolTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit_spool table: %w", err)
	}
	return &AuditSpool{db: db}, nil
}

// Put stores entry. Spooling the same entry twice keeps one copy.
func (s *AuditSpool) Put(ctx context.Context, entry *domain.AuditLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO audit_spool (id, payload, spooled_at) VALUES (?, ?, ?)`,
		entry.ID.String(), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("spooling audit entry: %w", err)
	}
	return nil
}

type spooled struct {
	seq   int64
	entry domain.AuditLog
}

// Drain hands up to limit entries to fn in spool order and deletes the ones it
// accepts. It stops at the first rejection and returns how many were drained.
func (s *AuditSpool) Drain(ctx context.Context, limit int, fn func(*domain.AuditLog) error) (int, error) {
	batch, err := s.peek(ctx, limit)
	if err != nil {
		return 0, err
	}

	drained := 0
	for i := range batch {
		if err := fn(&batch[i].entry); err != nil {
			return drained, err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM audit_spool WHERE seq = ?`, batch[i].seq); err != nil {
			return drained, fmt.Errorf("removing spooled audit entry: %w", err)
		}
		drained++
	}
	return drained, nil
}

// Len returns the number of spooled entries.
func (s *AuditSpool) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_spool`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting audit spool: %w", err)
	}
	return n, nil
}

// Ping verifies the spool file is still usable.
func (s *AuditSpool) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns the dependency name.
func (s *AuditSpool) Name() string {
	return "audit_spool"
}

// Close closes the spool database.
func (s *AuditSpool) Close() error {
	return s.db.Close()
}

// peek reads a batch and closes the cursor before any delete runs on the single connection.
func (s *AuditSpool) peek(ctx context.Context, limit int) ([]spooled, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload FROM audit_spool ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading audit spool: %w", err)
	}
	defer rows.Close()

	var batch []spooled
	for rows.Next() {
		var item spooled
		var payload string
		if err := rows.Scan(&item.seq, &payload); err != nil {
			return nil, fmt.Errorf("scanning audit spool: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &item.entry); err != nil {
			return nil, fmt.Errorf("decoding spooled audit entry %d: %w", item.seq, err)
		}
		batch = append(batch, item)
	}
	return batch, rows.Err()
}
