package postgres

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepo(mock)
	entry := &domain.AuditLog{
		ID:         uuid.New(),
		Actor:      "user-42",
		Action:     domain.AuditActionPurchaseCompleted,
		TargetType: domain.TargetTransaction,
		TargetID:   uuid.NewString(),
		After:      []byte(`{"status":"completed"}`),
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, "user-42", string(domain.AuditActionPurchaseCompleted), entry.TargetType, entry.TargetID,
			nil, `{"status":"completed"}`, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_ListByTarget(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepo(mock)
	targetID := uuid.NewString()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT .+ FROM audit_logs WHERE target_type").
		WithArgs(domain.TargetSettlement, targetID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "actor", "action", "target_type", "target_id",
			"before", "after", "created_at"}).
			AddRow(uuid.New(), domain.SystemActor, domain.AuditActionSettlementCreated, domain.TargetSettlement,
				targetID, []byte(nil), []byte(`{"status":"pending"}`), now))

	logs, err := repo.ListByTarget(context.Background(), domain.TargetSettlement, targetID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.AuditActionSettlementCreated, logs[0].Action)
	assert.JSONEq(t, `{"status":"pending"}`, string(logs[0].After))
}
