package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"guardian/internal/config"
	"guardian/internal/gateway"
	"guardian/internal/guard"
	"guardian/internal/models"
	"guardian/internal/repository"
	"guardian/internal/service"
)

// ============ Mock PositionStore ============

type mockPositionStore struct {
	mu        sync.Mutex
	positions map[int64]*models.Position
}

func newMockPositionStore() *mockPositionStore {
	return &mockPositionStore{positions: make(map[int64]*models.Position)}
}

func (m *mockPositionStore) add(p *models.Position) {
	if p.RemainingUSDT == 0 {
		p.RemainingUSDT = p.SizeUSDT
	}
	m.positions[p.TradeID] = p
}

func (m *mockPositionStore) GetOpen() ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*models.Position
	for _, p := range m.positions {
		if p.IsOpen() {
			open = append(open, p)
		}
	}
	return open, nil
}

func (m *mockPositionStore) GetByID(tradeID int64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[tradeID]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	return p, nil
}

func (m *mockPositionStore) Close(tradeID int64, exitPrice float64, reason string, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[tradeID]
	if !ok {
		return repository.ErrTradeNotFound
	}
	if !p.IsOpen() {
		return repository.ErrTradeAlreadyClosed
	}
	p.ClosedAt = &closedAt
	p.ExitPrice = &exitPrice
	p.ExitReason = &reason
	return nil
}

func (m *mockPositionStore) RecordPartialExit(tradeID int64, qty, price float64, reason, closeOrderID, newSLOrderID, newTPOrderID string) (*models.PartialExit, error) {
	return &models.PartialExit{TradeID: tradeID}, nil
}

func (m *mockPositionStore) UpdateUnrealizedPnl(tradeID int64, pnlPct float64) error {
	return nil
}

// ============ Mock AuditStore ============

type mockAuditStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (m *mockAuditStore) Append(rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *mockAuditStore) GetByTradeID(tradeID int64) ([]*models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditRecord
	for _, r := range m.records {
		if r.TradeID == tradeID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockAuditStore) GetRecent(limit int) ([]*models.AuditRecord, error) {
	return m.records, nil
}

// ============ Mock StatsStore ============

type mockStatsStore struct {
	summary *models.Summary
	open    int
	byExit  map[string]float64
}

func (m *mockStatsStore) GetSummary(now time.Time) (*models.Summary, error) {
	return m.summary, nil
}

func (m *mockStatsStore) CountOpen() (int, error) { return m.open, nil }

func (m *mockStatsStore) PnlByExitReason() (map[string]float64, error) { return m.byExit, nil }

// ============ Mock Gateway ============

type mockGateway struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newMockGateway() *mockGateway {
	return &mockGateway{prices: map[string]float64{"BTCUSDT": 100.0}}
}

func (m *mockGateway) GetMarkPrice(ctx context.Context, symbol string) (*gateway.MarkPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &gateway.MarkPrice{Symbol: symbol, Price: m.prices[symbol], Time: time.Now()}, nil
}

func (m *mockGateway) ClosePosition(ctx context.Context, symbol string, short bool, qty float64) (*gateway.CloseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &gateway.CloseResult{OrderID: "mock", FilledPrice: m.prices[symbol], FilledQty: qty}, nil
}

func (m *mockGateway) PartialClose(ctx context.Context, symbol string, short bool, qty, newSL, newTP float64) (*gateway.CloseResult, *gateway.ProtectiveOrders, error) {
	result, err := m.ClosePosition(ctx, symbol, short, qty)
	return result, &gateway.ProtectiveOrders{}, err
}

func (m *mockGateway) Ping(ctx context.Context) error { return nil }

func (m *mockGateway) Close() error { return nil }

// ============ Сборка сервисов для тестов ============

func testProtectionConfig() config.ProtectionConfig {
	return config.ProtectionConfig{
		LiquidationSafetyMarginPct: 1.0,
		MaxHoldingMinutes:          120,
	}
}

func newTestPositionService(store *mockPositionStore) *service.PositionService {
	audit := &mockAuditStore{}
	gw := newMockGateway()
	locks := guard.NewTradeLocks()
	executor := guard.NewExecutor(store, audit, gw, testProtectionConfig(), zap.NewNop())
	return service.NewPositionService(store, audit, gw, executor, locks, testProtectionConfig(), zap.NewNop())
}
