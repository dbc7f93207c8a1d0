package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	auditWriteTimeout = 5 * time.Second
	auditDrainBatch   = 100
)

// AuditServiceImpl is the audit recorder. Record never blocks the caller:
// entries are queued for a fixed pool of writers, and anything that cannot be
// persisted (full queue, closed recorder, failing store) goes to the spool.
type AuditServiceImpl struct {
	repo  ports.AuditRepository
	spool ports.AuditSpool
	queue chan *domain.AuditLog
	log   zerolog.Logger
	now   func() time.Time

	writeTimeout time.Duration

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewAuditService creates the recorder and starts its writers.
func NewAuditService(repo ports.AuditRepository, spool ports.AuditSpool, queueSize, workers int, log zerolog.Logger) *AuditServiceImpl {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	s := &AuditServiceImpl{
		repo:  repo,
		spool: spool,
		queue: make(chan *domain.AuditLog, queueSize),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },

		writeTimeout: auditWriteTimeout,
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Record stamps the entry and hands it to a writer.
func (s *AuditServiceImpl) Record(ctx context.Context, entry *domain.AuditLog) {
	if entry == nil {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.Actor == "" {
		entry.Actor = domain.SystemActor
	}

	s.mu.RLock()
	if !s.closed {
		select {
		case s.queue <- entry:
			s.mu.RUnlock()
			return
		default:
		}
	}
	s.mu.RUnlock()

	s.log.Warn().Str("action", string(entry.Action)).Msg("audit: queue unavailable, spooling entry")
	s.toSpool(context.WithoutCancel(ctx), entry)
}

func (s *AuditServiceImpl) worker() {
	defer s.wg.Done()
	for entry := range s.queue {
		s.persist(entry)
	}
}

func (s *AuditServiceImpl) persist(entry *domain.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.repo.Create(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("action", string(entry.Action)).
			Str("target_id", entry.TargetID).
			Msg("audit: persist failed, spooling entry")
		// ctx may be the deadline that just expired; the spool gets its own.
		spoolCtx, spoolCancel := context.WithTimeout(context.Background(), s.writeTimeout)
		defer spoolCancel()
		s.toSpool(spoolCtx, entry)
		return
	}

	s.log.Debug().
		Str("actor", entry.Actor).
		Str("action", string(entry.Action)).
		Str("target_type", entry.TargetType).
		Str("target_id", entry.TargetID).
		Msg("audit")
}

func (s *AuditServiceImpl) toSpool(ctx context.Context, entry *domain.AuditLog) {
	if s.spool == nil {
		s.log.Error().Str("action", string(entry.Action)).Str("target_id", entry.TargetID).Msg("audit: entry lost, no spool configured")
		return
	}
	if err := s.spool.Put(ctx, entry); err != nil {
		s.log.Error().Err(err).
			Str("action", string(entry.Action)).
			Str("target_id", entry.TargetID).
			Msg("audit: spool write failed, entry lost")
	}
}

// DrainSpool replays spooled entries into the store until the spool is empty
// or the store rejects one. Returns how many were replayed.
func (s *AuditServiceImpl) DrainSpool(ctx context.Context) (int, error) {
	if s.spool == nil {
		return 0, nil
	}
	total := 0
	for {
		n, err := s.spool.Drain(ctx, auditDrainBatch, func(entry *domain.AuditLog) error {
			return s.repo.Create(ctx, entry)
		})
		total += n
		if err != nil {
			return total, fmt.Errorf("drain audit spool: %w", err)
		}
		if n < auditDrainBatch {
			if total > 0 {
				s.log.Info().Int("replayed", total).Msg("audit: spool drained")
			}
			return total, nil
		}
	}
}

// Close stops accepting entries and waits for queued ones to be written.
// Entries recorded after Close go straight to the spool.
func (s *AuditServiceImpl) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("audit: writers did not finish"), ctx.Err())
	}
}
