package postgres

import (
	"context"
	"fmt"

	"marketplace-ledger/internal/core/domain"
)

// AuditRepo implements ports.AuditRepository. audit_logs is append-only;
// inserting an id twice is a no-op so spool replays stay safe.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a PostgreSQL-backed audit repository.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Create(ctx context.Context, e *domain.AuditLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, actor, action, target_type, target_id, before, after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Actor, string(e.Action), e.TargetType, e.TargetID,
		nullJSON(e.Before), nullJSON(e.After), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByTarget returns the audit trail of one target, oldest first.
func (r *AuditRepo) ListByTarget(ctx context.Context, targetType, targetID string) ([]domain.AuditLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, actor, action, target_type, target_id, before, after, created_at
		 FROM audit_logs WHERE target_type = $1 AND target_id = $2 ORDER BY created_at, id`,
		targetType, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var e domain.AuditLog
		var before, after []byte
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.TargetType, &e.TargetID, &before, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.Before, e.After = before, after
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

// nullJSON keeps empty snapshots as SQL NULL rather than invalid JSONB.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
