package guard

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"guardian/internal/config"
)

// ============================================================
// Scheduler Tests
// ============================================================

func newTestScheduler(store *MockPositionStore, gw *MockGateway, partialRatio float64, workers int) *Scheduler {
	audit := NewMockAuditStore()
	return newTestSchedulerWithAudit(store, audit, gw, partialRatio, workers)
}

func newTestSchedulerWithAudit(store *MockPositionStore, audit *MockAuditStore, gw *MockGateway, partialRatio float64, workers int) *Scheduler {
	executor := newTestExecutor(store, audit, gw, partialRatio)

	s := NewScheduler(store, gw, executor,
		executor.cfg,
		config.SchedulerConfig{Interval: time.Hour, Workers: workers},
		zap.NewNop())
	// В тестах без задержек между попытками получения цены
	s.priceRetry.MaxRetries = 1
	s.priceRetry.InitialDelay = time.Millisecond
	return s
}

func TestSchedulerRunOnce(t *testing.T) {
	store := NewMockPositionStore()
	audit := NewMockAuditStore()
	gw := NewMockGateway()

	// Позиция 1: SL пробит
	p1 := openLong(100.0, 90.0, 120.0, 5, time.Now().Add(-time.Minute))
	p1.TradeID = 1
	store.Add(p1)
	gw.SetPrice("BTCUSDT", 89.0)

	// Позиция 2: без событий
	p2 := openLong(3000.0, 2700.0, 3600.0, 5, time.Now().Add(-time.Minute))
	p2.TradeID = 2
	p2.Symbol = "ETHUSDT"
	store.Add(p2)
	gw.SetPrice("ETHUSDT", 3100.0)

	s := newTestSchedulerWithAudit(store, audit, gw, 0, 4)

	stats, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Open != 2 || stats.Evaluated != 2 {
		t.Errorf("open/evaluated = %d/%d, want 2/2", stats.Open, stats.Evaluated)
	}
	if stats.Triggered != 1 {
		t.Errorf("triggered = %d, want 1", stats.Triggered)
	}
	if stats.Failed != 0 {
		t.Errorf("failed = %d, want 0", stats.Failed)
	}

	if p1.IsOpen() {
		t.Error("position 1 must be closed")
	}
	if !p2.IsOpen() {
		t.Error("position 2 must stay open")
	}

	// Каждая оценённая позиция оставляет след в аудите, включая NONE
	if len(audit.Records()) != 2 {
		t.Errorf("audit records = %d, want 2", len(audit.Records()))
	}

	if s.State() != StateIdle {
		t.Errorf("state after cycle = %s, want IDLE", s.State())
	}
	if s.LastCycleAt().IsZero() {
		t.Error("last cycle time must be recorded")
	}
}

func TestSchedulerEmptyCycle(t *testing.T) {
	store := NewMockPositionStore()
	gw := NewMockGateway()
	s := newTestScheduler(store, gw, 0, 4)

	stats, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Open != 0 || stats.Evaluated != 0 {
		t.Errorf("empty cycle stats = %+v", stats)
	}
}

func TestSchedulerFaultIsolation(t *testing.T) {
	store := NewMockPositionStore()
	gw := NewMockGateway()

	// Позиция 1: цена недоступна (символ не известен шлюзу)
	p1 := openLong(100.0, 90.0, 120.0, 5, time.Now().Add(-time.Minute))
	p1.TradeID = 1
	p1.Symbol = "BROKENUSDT"
	store.Add(p1)

	// Позиция 2: SL пробит, должна закрыться несмотря на сбой первой
	p2 := openLong(100.0, 90.0, 120.0, 5, time.Now().Add(-time.Minute))
	p2.TradeID = 2
	store.Add(p2)
	gw.SetPrice("BTCUSDT", 89.0)

	s := newTestScheduler(store, gw, 0, 4)

	stats, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("cycle must not fail because of one position: %v", err)
	}

	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
	if stats.Triggered != 1 {
		t.Errorf("triggered = %d, want 1", stats.Triggered)
	}
	if p2.IsOpen() {
		t.Error("healthy position must still be protected")
	}
	if !p1.IsOpen() {
		t.Error("broken position must stay open")
	}
}

func TestSchedulerOverlappingCyclesSingleClose(t *testing.T) {
	store := NewMockPositionStore()
	gw := NewMockGateway()
	gw.SetPrice("BTCUSDT", 89.0)
	gw.closeDelay = 50 * time.Millisecond

	p := openLong(100.0, 90.0, 120.0, 5, time.Now().Add(-time.Minute))
	store.Add(p)

	s := newTestScheduler(store, gw, 0, 4)

	var wg sync.WaitGroup
	var inProgress int64
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunOnce(context.Background())
			if errors.Is(err, ErrCycleInProgress) {
				mu.Lock()
				inProgress++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Ровно один цикл прошёл, остальные отклонены re-entrancy guard'ом
	if inProgress != 2 {
		t.Errorf("cycles rejected = %d, want 2", inProgress)
	}
	if len(store.ClosedTrades()) != 1 {
		t.Errorf("store closes = %d, want exactly 1", len(store.ClosedTrades()))
	}
	if gw.CloseCalls() != 1 {
		t.Errorf("gateway closes = %d, want exactly 1", gw.CloseCalls())
	}
}

func TestSchedulerFatalStoreErrorStops(t *testing.T) {
	store := NewMockPositionStore()
	store.getOpenErr = driver.ErrBadConn
	gw := NewMockGateway()

	s := newTestScheduler(store, gw, 0, 4)

	_, err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected fatal store error")
	}
	if !errors.Is(err, driver.ErrBadConn) {
		t.Errorf("expected driver.ErrBadConn, got %v", err)
	}
}

func TestSchedulerRunStopsOnContextCancel(t *testing.T) {
	store := NewMockPositionStore()
	gw := NewMockGateway()

	s := newTestScheduler(store, gw, 0, 2)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Первый цикл успевает отработать
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}

	if s.State() != StateStopped {
		t.Errorf("state = %s, want STOPPED", s.State())
	}

	// После остановки циклы не запускаются
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrSchedulerStopped) {
		t.Errorf("expected ErrSchedulerStopped, got %v", err)
	}
}

func TestSchedulerDrainsInFlightCycleOnStop(t *testing.T) {
	store := NewMockPositionStore()
	gw := NewMockGateway()
	gw.SetPrice("BTCUSDT", 89.0)
	gw.closeDelay = 200 * time.Millisecond

	// SL пробит: цикл начнёт закрытие с задержкой на стороне шлюза
	p := openLong(100.0, 90.0, 120.0, 5, time.Now().Add(-time.Minute))
	store.Add(p)

	s := newTestScheduler(store, gw, 0, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Остановка приходит пока закрытие ещё в полёте
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	// Начатый цикл дорабатывает до конца: сработавший stop loss
	// доведён до исполнения и записи, а не брошен на полпути
	if p.IsOpen() {
		t.Error("triggered close must complete before shutdown")
	}
	if len(store.ClosedTrades()) != 1 {
		t.Errorf("store closes = %d, want 1", len(store.ClosedTrades()))
	}
	if gw.CloseCalls() != 1 {
		t.Errorf("gateway closes = %d, want 1", gw.CloseCalls())
	}
}

func TestSchedulerStopIsTerminal(t *testing.T) {
	s := newTestScheduler(NewMockPositionStore(), NewMockGateway(), 0, 2)

	if err := s.stop(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %s, want STOPPED", s.State())
	}

	// Повторная остановка - no-op: из STOPPED переходов нет
	if err := s.stop(nil); err != nil {
		t.Errorf("repeated stop must be a no-op, got %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state after repeated stop = %s, want STOPPED", s.State())
	}
}
