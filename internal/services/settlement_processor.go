package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger/internal/log"
)

// SettlementProcessorConfig holds configuration for the periodic repair sweep.
type SettlementProcessorConfig struct {
	// PollInterval is how often due settlements are retried (default: 1m)
	PollInterval time.Duration

	// BatchSize is the max number of settlements per sweep (default: 20)
	BatchSize int

	// CleanupInterval is how often completed rows are purged (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed rows must be before purging (default: 7 days)
	CleanupAge time.Duration
}

func DefaultSettlementProcessorConfig() SettlementProcessorConfig {
	return SettlementProcessorConfig{
		PollInterval:    time.Minute,
		BatchSize:       20,
		CleanupInterval: time.Hour,
		CleanupAge:      7 * 24 * time.Hour,
	}
}

// SettlementProcessor retries due settlements on a timer. It is the safety
// net behind the AMQP messages: a lost message only delays a repair.
type SettlementProcessor struct {
	service *SettlementService
	config  SettlementProcessorConfig
	logger  *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSettlementProcessor(service *SettlementService, config SettlementProcessorConfig, logger *log.Logger) *SettlementProcessor {
	if logger == nil {
		logger = log.Discard()
	}
	return &SettlementProcessor{
		service: service,
		config:  config,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *SettlementProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("settlement processor is already running")
	}
	if p.config.PollInterval <= 0 || p.config.CleanupInterval <= 0 {
		p.mu.Unlock()
		return fmt.Errorf("settlement processor intervals must be positive")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Settlement processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (p *SettlementProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Settlement processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Settlement processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

func (p *SettlementProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SettlementProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	// Sweep immediately on startup
	p.Sweep(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.Sweep(ctx)
		case <-cleanupTicker.C:
			p.cleanup(ctx)
		}
	}
}

// Sweep runs one repair pass and refreshes the pending gauge.
func (p *SettlementProcessor) Sweep(ctx context.Context) RepairReport {
	report, err := p.service.RepairDue(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Settlement sweep failed", log.FieldError, err)
	}
	if report.Done+report.Retried+report.GaveUp > 0 {
		p.logger.InfoContext(ctx, "Settlement sweep finished",
			"done", report.Done,
			"retried", report.Retried,
			"gave_up", report.GaveUp)
	}
	if _, err := p.service.Stats(ctx); err != nil {
		p.logger.WarnContext(ctx, "Failed to read settlement stats", log.FieldError, err)
	}
	return report
}

func (p *SettlementProcessor) cleanup(ctx context.Context) {
	n, err := p.service.Cleanup(ctx, p.config.CleanupAge)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to cleanup completed settlements", log.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Completed settlements purged", "count", n)
	}
}
