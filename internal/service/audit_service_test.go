package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marketplace-ledger/internal/adapter/storage/memory"
	"marketplace-ledger/internal/adapter/storage/sqlite"
	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyAuditRepo fails every write while down is set.
type flakyAuditRepo struct {
	mu    sync.Mutex
	down  bool
	saved []domain.AuditLog
}

func (r *flakyAuditRepo) Create(_ context.Context, e *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errors.New("connection refused")
	}
	r.saved = append(r.saved, *e)
	return nil
}

func (r *flakyAuditRepo) ListByTarget(_ context.Context, _, _ string) ([]domain.AuditLog, error) {
	return nil, nil
}

func (r *flakyAuditRepo) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

func (r *flakyAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

// blockingAuditRepo holds every write until release is closed.
type blockingAuditRepo struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingAuditRepo) Create(ctx context.Context, _ *domain.AuditLog) error {
	r.once.Do(func() { close(r.started) })
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *blockingAuditRepo) ListByTarget(_ context.Context, _, _ string) ([]domain.AuditLog, error) {
	return nil, nil
}

// hangingAuditRepo never answers before the caller's deadline.
type hangingAuditRepo struct{}

func (hangingAuditRepo) Create(ctx context.Context, _ *domain.AuditLog) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingAuditRepo) ListByTarget(_ context.Context, _, _ string) ([]domain.AuditLog, error) {
	return nil, nil
}

func newTestSpool(t *testing.T) *sqlite.AuditSpool {
	t.Helper()
	spool, err := sqlite.NewAuditSpool(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = spool.Close() })
	return spool
}

func closeAudit(t *testing.T, svc *AuditServiceImpl) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))
}

func TestAuditService_RecordPersists(t *testing.T) {
	repo := memory.NewAuditRepo(memory.NewStore())
	svc := NewAuditService(repo, nil, 16, 2, newTestLogger())

	targetID := uuid.NewString()
	svc.Record(context.Background(), &domain.AuditLog{
		Action:     domain.AuditActionVoucherIssued,
		TargetType: domain.TargetVoucher,
		TargetID:   targetID,
	})
	closeAudit(t, svc)

	logs, err := repo.ListByTarget(context.Background(), domain.TargetVoucher, targetID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.NotEqual(t, uuid.Nil, logs[0].ID)
	assert.False(t, logs[0].CreatedAt.IsZero())
	assert.Equal(t, domain.SystemActor, logs[0].Actor, "missing actor defaults to system")
}

func TestAuditService_FailedWritesAreSpooledAndReplayed(t *testing.T) {
	ctx := context.Background()
	repo := &flakyAuditRepo{down: true}
	spool := newTestSpool(t)
	svc := NewAuditService(repo, spool, 16, 1, newTestLogger())

	for i := 0; i < 3; i++ {
		svc.Record(ctx, &domain.AuditLog{Action: domain.AuditActionWalletCredit, TargetType: domain.TargetWalletTransaction, TargetID: uuid.NewString()})
	}
	closeAudit(t, svc)

	n, err := spool.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, repo.count())

	// Still down: nothing drains, nothing is lost.
	replayed, err := svc.DrainSpool(ctx)
	require.Error(t, err)
	assert.Equal(t, 0, replayed)

	repo.setDown(false)
	replayed, err = svc.DrainSpool(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, replayed)
	assert.Equal(t, 3, repo.count())

	n, err = spool.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAuditService_RecordAfterCloseIsSpooled(t *testing.T) {
	ctx := context.Background()
	repo := &flakyAuditRepo{}
	spool := newTestSpool(t)
	svc := NewAuditService(repo, spool, 4, 1, newTestLogger())
	closeAudit(t, svc)

	svc.Record(ctx, &domain.AuditLog{Action: domain.AuditActionSettlementPaid, TargetType: domain.TargetSettlement, TargetID: "s-1"})

	n, err := spool.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	replayed, err := svc.DrainSpool(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)
	assert.Equal(t, 1, repo.count())
}

func TestAuditService_FullQueueDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	repo := &blockingAuditRepo{started: make(chan struct{}), release: make(chan struct{})}
	spool := newTestSpool(t)
	svc := NewAuditService(repo, spool, 1, 1, newTestLogger())

	svc.Record(ctx, &domain.AuditLog{Action: domain.AuditActionPurchaseCompleted, TargetID: "t-1"})
	<-repo.started // the only writer is now busy
	svc.Record(ctx, &domain.AuditLog{Action: domain.AuditActionPurchaseCompleted, TargetID: "t-2"}) // fills the queue

	done := make(chan struct{})
	go func() {
		svc.Record(ctx, &domain.AuditLog{Action: domain.AuditActionPurchaseCompleted, TargetID: "t-3"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	n, err := spool.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(repo.release)
	closeAudit(t, svc)
}

func TestAuditService_NilEntryIgnored(t *testing.T) {
	svc := NewAuditService(&flakyAuditRepo{}, nil, 1, 1, newTestLogger())
	svc.Record(context.Background(), nil)
	closeAudit(t, svc)
}

func TestAuditService_StoreTimeoutIsSpooled(t *testing.T) {
	ctx := context.Background()
	spool := newTestSpool(t)
	svc := NewAuditService(hangingAuditRepo{}, spool, 4, 1, newTestLogger())
	svc.writeTimeout = 20 * time.Millisecond

	svc.Record(ctx, &domain.AuditLog{Action: domain.AuditActionWalletDebit, TargetType: domain.TargetWalletTransaction, TargetID: "e-1"})
	closeAudit(t, svc)

	n, err := spool.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "an entry whose store write timed out is kept in the spool")
}
