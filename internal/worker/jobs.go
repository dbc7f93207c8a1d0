package worker

import (
	"context"
	"time"

	"marketplace-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

// Task names.
const (
	TaskSettlementDue    = "settlement_due"
	TaskStalePurchases   = "stale_purchases"
	TaskStaleSettlements = "stale_settlements"
	TaskAuditSpoolDrain  = "audit_spool_drain"
	TaskIdempotencyPurge = "idempotency_purge"
)

// PurchaseMaintainer fails purchases left unfinished by a crash and prunes old idempotency logs.
type PurchaseMaintainer interface {
	ResolveStale(ctx context.Context, olderThan time.Duration) (int, error)
	PurgeIdempotency(ctx context.Context, retention time.Duration) (int64, error)
}

// SpoolDrainer replays locally spooled audit entries.
type SpoolDrainer interface {
	DrainSpool(ctx context.Context) (int, error)
}

// Intervals configures how often each job runs. Zero disables a job.
type Intervals struct {
	Settlement time.Duration
	StaleSweep time.Duration
	StaleAfter time.Duration
	AuditDrain time.Duration

	SettlementStaleAfter time.Duration

	IdempotencyPurge     time.Duration
	IdempotencyRetention time.Duration // zero keeps logs forever
}

// RegisterJobs adds the engine's periodic jobs to s.
func RegisterJobs(s *Scheduler, settlements ports.SettlementService, purchases PurchaseMaintainer, audit SpoolDrainer, iv Intervals, log zerolog.Logger) {
	s.AddTask(TaskSettlementDue, iv.Settlement, func(ctx context.Context) error {
		created, err := settlements.RunDue(ctx, time.Now().UTC())
		if created > 0 {
			log.Info().Int("settlements", created).Msg("scheduled settlements created")
		}
		return err
	})

	s.AddTask(TaskStalePurchases, iv.StaleSweep, func(ctx context.Context) error {
		_, err := purchases.ResolveStale(ctx, iv.StaleAfter)
		return err
	})

	s.AddTask(TaskStaleSettlements, iv.StaleSweep, func(ctx context.Context) error {
		resolved, err := settlements.ResolveStale(ctx, iv.SettlementStaleAfter)
		if resolved > 0 {
			log.Warn().Int("settlements", resolved).Msg("stale settlements marked failed")
		}
		return err
	})

	s.AddTask(TaskAuditSpoolDrain, iv.AuditDrain, func(ctx context.Context) error {
		_, err := audit.DrainSpool(ctx)
		return err
	})

	if iv.IdempotencyRetention > 0 {
		s.AddTask(TaskIdempotencyPurge, iv.IdempotencyPurge, func(ctx context.Context) error {
			_, err := purchases.PurgeIdempotency(ctx, iv.IdempotencyRetention)
			return err
		})
	}
}
