package postgres

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestTransaction(userID, vendorID uuid.UUID) *domain.Transaction {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Transaction{
		ID:            uuid.New(),
		Kind:          domain.TransactionKindPurchase,
		UserID:        userID,
		VendorID:      vendorID,
		ServiceRef:    "airtime-100",
		Amount:        300,
		PaymentMethod: domain.PaymentMethodWallet,
		Status:        domain.TransactionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func txArgs(t *domain.Transaction) []interface{} {
	return []interface{}{
		t.ID, t.Kind, t.UserID, t.VendorID, t.ServiceRef, t.Amount, t.PaymentMethod,
		t.VoucherID, t.WalletAmount, t.VoucherAmount, t.Status, t.CommissionAmount, t.NetAmount,
		t.VendorReference, t.FailureReason, t.OriginalTransactionID, t.SettlementID,
		t.CreatedAt, t.UpdatedAt, t.ProcessedAt,
	}
}

func txColumns() []string {
	return []string{"id", "kind", "user_id", "vendor_id", "service_ref", "amount", "payment_method",
		"voucher_id", "wallet_amount", "voucher_amount", "status", "commission_amount", "net_amount",
		"vendor_reference", "failure_reason", "original_transaction_id", "settlement_id",
		"created_at", "updated_at", "processed_at"}
}

func txRow(t *domain.Transaction) *pgxmock.Rows {
	return pgxmock.NewRows(txColumns()).AddRow(txArgs(t)...)
}

func TestTransactionRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New(), uuid.New())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(txArgs(txn)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), dbTx, txn)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New(), uuid.New())
	txn.Status = domain.TransactionStatusCompleted
	txn.VendorReference = strPtr("VND-77")
	txn.ProcessedAt = &txn.UpdatedAt

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(txn.ID).
		WillReturnRows(txRow(txn))

	result, err := repo.GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, txn.ID, result.ID)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Status)
	assert.Equal(t, "VND-77", *result.VendorReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(txColumns()))

	result, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Transition(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(txID, domain.TransactionStatusPending, domain.TransactionStatusProcessing, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Transition(context.Background(), dbTx, txID, domain.TransactionStatusPending, domain.TransactionStatusProcessing)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_Transition_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)

	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = repo.Transition(context.Background(), nil, uuid.New(), domain.TransactionStatusPending, domain.TransactionStatusProcessing)
	assert.ErrorIs(t, err, ports.ErrConflict)
}

func TestTransactionRepo_Finalize(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txn := newTestTransaction(uuid.New(), uuid.New())
	txn.Status = domain.TransactionStatusCompleted
	txn.CommissionAmount, txn.NetAmount = 30, 270
	txn.VendorReference = strPtr("VND-1")
	txn.ProcessedAt = &txn.UpdatedAt

	mock.ExpectExec("UPDATE transactions SET status .+ WHERE id .+ AND status = 'processing'").
		WithArgs(txn.ID, txn.Status, int64(30), int64(270), txn.VendorReference, txn.FailureReason,
			txn.UpdatedAt, txn.ProcessedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.Finalize(context.Background(), nil, txn))

	mock.ExpectExec("UPDATE transactions SET status").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, repo.Finalize(context.Background(), nil, txn), ports.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepo_ListSettleable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	vendorID := uuid.New()
	a := newTestTransaction(uuid.New(), vendorID)
	b := newTestTransaction(uuid.New(), vendorID)
	a.Status, b.Status = domain.TransactionStatusCompleted, domain.TransactionStatusCompleted
	period := domain.Period{Start: a.CreatedAt.Add(-time.Hour), End: a.CreatedAt.Add(time.Hour)}

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE vendor_id .+ settlement_id IS NULL").
		WithArgs(vendorID, period.Start, period.End).
		WillReturnRows(pgxmock.NewRows(txColumns()).AddRow(txArgs(a)...).AddRow(txArgs(b)...))

	txns, err := repo.ListSettleable(context.Background(), vendorID, period)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, a.ID, txns[0].ID)
	assert.Equal(t, b.ID, txns[1].ID)
}

func TestTransactionRepo_AttachToSettlement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	settlementID := uuid.New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectExec("UPDATE transactions SET settlement_id").
		WithArgs(settlementID, ids).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := repo.AttachToSettlement(context.Background(), nil, settlementID, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTransactionRepo_ListStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	cutoff := time.Now().UTC()
	stuck := newTestTransaction(uuid.New(), uuid.New())
	stuck.Status = domain.TransactionStatusProcessing

	mock.ExpectQuery("SELECT .+ FROM transactions WHERE status .+ LIMIT").
		WithArgs(domain.TransactionStatusProcessing, cutoff, 50).
		WillReturnRows(txRow(stuck))

	txns, err := repo.ListStale(context.Background(), domain.TransactionStatusProcessing, cutoff, 50)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, stuck.ID, txns[0].ID)
}

func TestTransactionRepo_SetPaymentSplit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewTransactionRepo(mock)
	txID, voucherID := uuid.New(), uuid.New()

	mock.ExpectExec("UPDATE transactions SET wallet_amount").
		WithArgs(txID, int64(100), int64(200), &voucherID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.SetPaymentSplit(context.Background(), nil, txID, 100, 200, &voucherID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
