package memory

import (
	"context"

	"marketplace-ledger/internal/core/domain"
)

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct{ s *Store }

// NewAuditRepo creates an audit repository over s.
func NewAuditRepo(s *Store) *AuditRepo { return &AuditRepo{s: s} }

func (r *AuditRepo) Create(_ context.Context, e *domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.audit {
		if existing.ID == e.ID {
			return nil
		}
	}
	r.s.audit = append(r.s.audit, *e)
	return nil
}

func (r *AuditRepo) ListByTarget(_ context.Context, targetType, targetID string) ([]domain.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []domain.AuditLog
	for _, e := range r.s.audit {
		if e.TargetType == targetType && e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}
