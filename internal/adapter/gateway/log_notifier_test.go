package gateway

import (
	"bytes"
	"context"
	"testing"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLogNotifier_Notify(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	userID := uuid.New()
	txID := uuid.New()
	n.Notify(context.Background(), domain.Notification{
		Event:         domain.EventPurchaseCompleted,
		UserID:        &userID,
		TransactionID: &txID,
		Amount:        300,
		Message:       "purchase completed",
	})

	out := buf.String()
	assert.Contains(t, out, `"event":"purchase.completed"`)
	assert.Contains(t, out, userID.String())
	assert.Contains(t, out, txID.String())
	assert.Contains(t, out, `"amount":300`)
	assert.NotContains(t, out, "vendor_id")
}
