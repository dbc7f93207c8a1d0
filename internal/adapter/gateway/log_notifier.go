package gateway

import (
	"context"

	"marketplace-ledger/internal/core/domain"

	"github.com/rs/zerolog"
)

// LogNotifier implements ports.Notifier by writing each notification to the log.
// Delivery to users and vendors is owned by another service that tails it.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(_ context.Context, msg domain.Notification) {
	ev := n.log.Info().Str("event", msg.Event).Int64("amount", msg.Amount)
	if msg.UserID != nil {
		ev = ev.Str("user_id", msg.UserID.String())
	}
	if msg.VendorID != nil {
		ev = ev.Str("vendor_id", msg.VendorID.String())
	}
	if msg.TransactionID != nil {
		ev = ev.Str("tx_id", msg.TransactionID.String())
	}
	if msg.SettlementID != nil {
		ev = ev.Str("settlement_id", msg.SettlementID.String())
	}
	ev.Msg(msg.Message)
}
