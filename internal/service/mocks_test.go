package service

import (
	"context"
	"sync"
	"time"

	"guardian/internal/gateway"
	"guardian/internal/models"
	"guardian/internal/repository"
)

// ============ Mock PositionStore ============

type MockPositionStore struct {
	mu        sync.Mutex
	positions map[int64]*models.Position
}

func NewMockPositionStore() *MockPositionStore {
	return &MockPositionStore{positions: make(map[int64]*models.Position)}
}

func (m *MockPositionStore) Add(p *models.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.RemainingUSDT == 0 {
		p.RemainingUSDT = p.SizeUSDT
	}
	m.positions[p.TradeID] = p
}

func (m *MockPositionStore) GetOpen() ([]*models.Position, error) {
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

func (m *MockPositionStore) GetByID(tradeID int64) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[tradeID]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	return p, nil
}

func (m *MockPositionStore) Close(tradeID int64, exitPrice float64, reason string, closedAt time.Time) error {
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

func (m *MockPositionStore) RecordPartialExit(tradeID int64, qty, price float64, reason, closeOrderID, newSLOrderID, newTPOrderID string) (*models.PartialExit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[tradeID]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	p.RemainingUSDT -= qty
	return &models.PartialExit{TradeID: tradeID, QtyClosed: qty, QtyRemaining: p.RemainingUSDT}, nil
}

func (m *MockPositionStore) UpdateUnrealizedPnl(tradeID int64, pnlPct float64) error {
	return nil
}

// ============ Mock AuditStore ============

type MockAuditStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func NewMockAuditStore() *MockAuditStore {
	return &MockAuditStore{}
}

func (m *MockAuditStore) Append(rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MockAuditStore) GetByTradeID(tradeID int64) ([]*models.AuditRecord, error) {
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

func (m *MockAuditStore) GetRecent(limit int) ([]*models.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]*models.AuditRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// ============ Mock StatsStore ============

type MockStatsStore struct {
	summary *models.Summary
	open    int
	byExit  map[string]float64
}

func (m *MockStatsStore) GetSummary(now time.Time) (*models.Summary, error) {
	return m.summary, nil
}

func (m *MockStatsStore) CountOpen() (int, error) {
	return m.open, nil
}

func (m *MockStatsStore) PnlByExitReason() (map[string]float64, error) {
	return m.byExit, nil
}

// ============ Mock Gateway ============

type MockGateway struct {
	mu     sync.Mutex
	prices map[string]float64
}

func NewMockGateway() *MockGateway {
	return &MockGateway{prices: make(map[string]float64)}
}

func (m *MockGateway) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *MockGateway) GetMarkPrice(ctx context.Context, symbol string) (*gateway.MarkPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[symbol]
	if !ok {
		return nil, &gateway.GatewayError{Op: "premiumIndex", Message: "unknown symbol " + symbol}
	}
	return &gateway.MarkPrice{Symbol: symbol, Price: price, Time: time.Now()}, nil
}

func (m *MockGateway) ClosePosition(ctx context.Context, symbol string, short bool, qty float64) (*gateway.CloseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &gateway.CloseResult{
		OrderID:     "mock-order",
		FilledPrice: m.prices[symbol],
		FilledQty:   qty,
	}, nil
}

func (m *MockGateway) PartialClose(ctx context.Context, symbol string, short bool, qty, newSL, newTP float64) (*gateway.CloseResult, *gateway.ProtectiveOrders, error) {
	result, err := m.ClosePosition(ctx, symbol, short, qty)
	return result, &gateway.ProtectiveOrders{SLOrderID: "mock-sl", TPOrderID: "mock-tp"}, err
}

func (m *MockGateway) Ping(ctx context.Context) error { return nil }

func (m *MockGateway) Close() error { return nil }
