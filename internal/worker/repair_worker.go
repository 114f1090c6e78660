// Package worker runs the settlement repair consumer.
package worker

import (
	"context"
	"fmt"

	"ledger/internal/amqp"
	"ledger/internal/log"
	"ledger/internal/services"
)

// Repairer finishes a single queued settlement.
type Repairer interface {
	Repair(ctx context.Context, id string) (services.RepairResult, error)
}

// RepairWorker handles settlement repair messages. Retries are scheduled in
// the outbox, so a message is only requeued when the outbox itself failed.
type RepairWorker struct {
	repairer Repairer
	sweeper  *services.SettlementProcessor
	logger   *log.Logger
}

func NewRepairWorker(repairer Repairer, sweeper *services.SettlementProcessor, logger *log.Logger) *RepairWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &RepairWorker{
		repairer: repairer,
		sweeper:  sweeper,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleRepairMessage processes one AMQP delivery.
func (w *RepairWorker) HandleRepairMessage(ctx context.Context, msg *amqp.SettlementRepairMessage) error {
	w.logger.InfoContext(ctx, "Processing settlement repair message",
		log.FieldSettlementID, msg.SettlementID,
		log.FieldDebtID, msg.DebtID,
		"message_id", msg.MessageID)

	result, err := w.repairer.Repair(ctx, msg.SettlementID)
	if err != nil {
		return fmt.Errorf("repair settlement %s: %w", msg.SettlementID, err)
	}

	w.logger.InfoContext(ctx, "Settlement repair message handled",
		log.FieldSettlementID, msg.SettlementID,
		"result", string(result))
	return nil
}

// StartupCheck sweeps due settlements once before consuming, to recover
// messages lost while the worker was down.
func (w *RepairWorker) StartupCheck(ctx context.Context) services.RepairReport {
	if w.sweeper == nil {
		return services.RepairReport{}
	}
	report := w.sweeper.Sweep(ctx)
	w.logger.InfoContext(ctx, "Startup settlement check completed",
		"done", report.Done,
		"retried", report.Retried,
		"gave_up", report.GaveUp)
	return report
}
