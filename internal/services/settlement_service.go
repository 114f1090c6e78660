package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/gateway"
	"ledger/internal/log"
	"ledger/internal/metrics"
	"ledger/internal/session"
	"ledger/internal/storage"
)

// DebtRemover is the single ledger API call a repair needs.
type DebtRemover interface {
	DeleteDebt(ctx context.Context, p session.Principal, id int64, accountID *int64) error
}

// RepairPublisher announces new outbox rows to the worker.
type RepairPublisher interface {
	PublishSettlementRepair(ctx context.Context, settlementID string, debtID int64) error
}

// SettlementConfig bounds how long a settlement keeps being retried.
type SettlementConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		MaxAttempts: 10,
		Backoff:     30 * time.Second,
		MaxBackoff:  time.Hour,
	}
}

// RepairResult is what happened to one settlement.
type RepairResult string

const (
	RepairDone    RepairResult = "done"
	RepairRetry   RepairResult = "retry"
	RepairGaveUp  RepairResult = "gave_up"
	RepairSkipped RepairResult = "skipped"
)

// RepairReport sums up a sweep.
type RepairReport struct {
	Done    int
	Retried int
	GaveUp  int
}

// SettlementService owns the settlement outbox: it queues settlements whose
// removal failed and later finishes them.
type SettlementService struct {
	outbox    storage.SettlementOutbox
	remover   DebtRemover
	publisher RepairPublisher
	config    SettlementConfig
	logger    *log.Logger
	now       func() time.Time
}

// NewSettlementService wires the outbox. publisher may be nil; the periodic
// sweep still picks rows up. The caller keeps ownership of both and closes
// them.
func NewSettlementService(outbox storage.SettlementOutbox, remover DebtRemover, publisher RepairPublisher, config SettlementConfig, logger *log.Logger) *SettlementService {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &SettlementService{
		outbox:    outbox,
		remover:   remover,
		publisher: publisher,
		config:    config,
		logger:    logger.WithComponent(log.ComponentSettlement),
		now:       time.Now,
	}
}

// QueueSettlement stores the settlement and announces it. Publishing is best
// effort: the row is already durable.
func (s *SettlementService) QueueSettlement(ctx context.Context, p session.Principal, debt core.DebtRecord, cause error) (string, error) {
	now := s.now()
	ps := storage.PendingSettlement{
		ID:            uuid.NewString(),
		DebtID:        debt.ID,
		Person:        debt.Person,
		Given:         debt.Given,
		Principal:     p,
		Status:        storage.SettlementPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		NextAttemptAt: now.Add(s.config.Backoff),
	}
	if cause != nil {
		ps.LastError = cause.Error()
	}
	if err := s.outbox.EnqueueSettlement(ctx, ps); err != nil {
		return "", fmt.Errorf("queue settlement: %w", err)
	}
	metrics.SettlementsPending.Inc()

	if err := s.publish(ctx, ps.ID, ps.DebtID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish settlement repair",
			log.FieldSettlementID, ps.ID,
			log.FieldError, err)
	}
	return ps.ID, nil
}

func (s *SettlementService) publish(ctx context.Context, id string, debtID int64) error {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP client not available, settlement left to the sweep", log.FieldSettlementID, id)
		return nil
	}
	return s.publisher.PublishSettlementRepair(ctx, id, debtID)
}

// Repair tries to finish one settlement. Rows that are no longer pending are
// skipped, so duplicate deliveries are harmless.
func (s *SettlementService) Repair(ctx context.Context, id string) (RepairResult, error) {
	ps, err := s.outbox.GetSettlement(ctx, id)
	if errors.Is(err, storage.ErrSettlementNotFound) {
		return RepairSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if ps.Status != storage.SettlementPending {
		return RepairSkipped, nil
	}
	return s.repair(ctx, *ps)
}

func (s *SettlementService) repair(ctx context.Context, ps storage.PendingSettlement) (RepairResult, error) {
	now := s.now()
	fields := log.NewFields().
		WithOperation(log.OpRepair).
		WithUser(ps.Principal.Email)
	fields[log.FieldSettlementID] = ps.ID
	fields[log.FieldDebtID] = ps.DebtID
	fields[log.FieldAttempt] = ps.Attempts + 1

	if !ps.Principal.Valid() {
		return s.giveUp(ctx, ps, "credentials unavailable", now, fields)
	}

	err := s.remover.DeleteDebt(ctx, ps.Principal, ps.DebtID, nil)
	switch {
	case err == nil || gateway.IsNotFound(err):
		if err := s.outbox.MarkSettlementDone(ctx, ps.ID, now); err != nil {
			return "", err
		}
		metrics.SettlementRepairs.WithLabelValues(metrics.OutcomeDone).Inc()
		metrics.SettlementsPending.Dec()
		s.logger.InfoContext(ctx, "Settlement completed", fields.ToSlice()...)
		return RepairDone, nil
	case gateway.IsAuthError(err):
		return s.giveUp(ctx, ps, err.Error(), now, fields)
	case ps.Attempts+1 >= s.config.MaxAttempts:
		return s.giveUp(ctx, ps, err.Error(), now, fields)
	}

	next := now.Add(s.backoff(ps.Attempts))
	if rerr := s.outbox.RecordSettlementAttempt(ctx, ps.ID, err.Error(), next); rerr != nil {
		return "", rerr
	}
	metrics.SettlementRepairs.WithLabelValues(metrics.OutcomeRetry).Inc()
	s.logger.WarnContext(ctx, "Settlement removal failed, rescheduled",
		append(fields.WithError(err).ToSlice(), "next_attempt_at", next)...)
	return RepairRetry, nil
}

func (s *SettlementService) giveUp(ctx context.Context, ps storage.PendingSettlement, reason string, now time.Time, fields log.LogFields) (RepairResult, error) {
	if err := s.outbox.MarkSettlementFailed(ctx, ps.ID, reason, now); err != nil {
		return "", err
	}
	metrics.SettlementRepairs.WithLabelValues(metrics.OutcomeGaveUp).Inc()
	metrics.SettlementsPending.Dec()
	s.logger.ErrorContext(ctx, "Settlement repair gave up", append(fields.ToSlice(), "reason", reason)...)
	return RepairGaveUp, nil
}

// backoff doubles per attempt up to MaxBackoff.
func (s *SettlementService) backoff(attempts int) time.Duration {
	d := s.config.Backoff
	for i := 0; i < attempts; i++ {
		d *= 2
		if s.config.MaxBackoff > 0 && d >= s.config.MaxBackoff {
			return s.config.MaxBackoff
		}
	}
	return d
}

// RepairDue works through up to limit due settlements.
func (s *SettlementService) RepairDue(ctx context.Context, limit int) (RepairReport, error) {
	var report RepairReport
	due, err := s.outbox.DueSettlements(ctx, s.now(), limit)
	if err != nil {
		return report, fmt.Errorf("load due settlements: %w", err)
	}
	for _, ps := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		result, err := s.repair(ctx, ps)
		if err != nil {
			s.logger.ErrorContext(ctx, "Settlement repair failed", log.FieldSettlementID, ps.ID, log.FieldError, err)
			continue
		}
		switch result {
		case RepairDone:
			report.Done++
		case RepairRetry:
			report.Retried++
		case RepairGaveUp:
			report.GaveUp++
		}
	}
	return report, nil
}

// RetryFailed puts failed settlements back in the queue.
func (s *SettlementService) RetryFailed(ctx context.Context) (int, error) {
	n, err := s.outbox.RetryFailedSettlements(ctx, s.now())
	if err != nil {
		return 0, err
	}
	metrics.SettlementsPending.Add(float64(n))
	return n, nil
}

// Cleanup drops completed rows older than age.
func (s *SettlementService) Cleanup(ctx context.Context, age time.Duration) (int, error) {
	return s.outbox.CleanupSettlements(ctx, s.now().Add(-age))
}

func (s *SettlementService) Stats(ctx context.Context) (storage.SettlementStats, error) {
	st, err := s.outbox.SettlementStats(ctx)
	if err != nil {
		return st, err
	}
	metrics.SettlementsPending.Set(float64(st.Pending))
	return st, nil
}
