package services

import (
	"context"
	"testing"
	"time"
)

func TestDefaultSettlementProcessorConfig(t *testing.T) {
	config := DefaultSettlementProcessorConfig()

	if config.PollInterval != time.Minute {
		t.Errorf("expected PollInterval 1m, got %v", config.PollInterval)
	}
	if config.BatchSize != 20 {
		t.Errorf("expected BatchSize 20, got %d", config.BatchSize)
	}
	if config.CleanupInterval != time.Hour {
		t.Errorf("expected CleanupInterval 1h, got %v", config.CleanupInterval)
	}
	if config.CleanupAge != 7*24*time.Hour {
		t.Errorf("expected CleanupAge 7d, got %v", config.CleanupAge)
	}
}

func TestSettlementProcessor_StartStop(t *testing.T) {
	svc, _, _ := newTestSettlementService(&fakeRemover{}, nil, DefaultSettlementConfig())
	config := DefaultSettlementProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	processor := NewSettlementProcessor(svc, config, nil)

	if processor.IsRunning() {
		t.Fatal("processor should not be running initially")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := processor.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := processor.Start(ctx); err == nil {
		t.Error("expected error when starting already running processor")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := processor.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if processor.IsRunning() {
		t.Error("processor should be stopped")
	}
}

func TestSettlementProcessor_StopNotRunning(t *testing.T) {
	processor := NewSettlementProcessor(nil, DefaultSettlementProcessorConfig(), nil)
	if err := processor.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}
}

func TestSettlementProcessor_RejectsZeroInterval(t *testing.T) {
	processor := NewSettlementProcessor(nil, SettlementProcessorConfig{}, nil)
	if err := processor.Start(context.Background()); err == nil {
		t.Error("expected error for zero intervals")
	}
	if processor.IsRunning() {
		t.Error("processor should not be running")
	}
}

func TestSettlementProcessor_SweepRepairsDueRows(t *testing.T) {
	ctx := context.Background()
	remover := &fakeRemover{}
	svc, _, c := newTestSettlementService(remover, nil, DefaultSettlementConfig())
	if _, err := svc.QueueSettlement(ctx, owner, zeroDebt(), nil); err != nil {
		t.Fatal(err)
	}
	c.t = c.t.Add(time.Hour)

	processor := NewSettlementProcessor(svc, DefaultSettlementProcessorConfig(), nil)
	report := processor.Sweep(ctx)
	if report.Done != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(remover.calls) != 1 || remover.calls[0] != 11 {
		t.Errorf("calls = %v", remover.calls)
	}
}
