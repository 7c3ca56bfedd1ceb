package guard

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
	partials  map[int64][]*models.PartialExit

	getOpenErr   error
	closeErr     error
	partialErr   error
	updateErr    error
	closeCalls   int
	closedTrades []int64
}

func NewMockPositionStore() *MockPositionStore {
	return &MockPositionStore{
		positions: make(map[int64]*models.Position),
		partials:  make(map[int64][]*models.PartialExit),
	}
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
	if m.getOpenErr != nil {
		return nil, m.getOpenErr
	}
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

	m.closeCalls++

	if m.closeErr != nil {
		return m.closeErr
	}

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
	m.closedTrades = append(m.closedTrades, tradeID)
	return nil
}

func (m *MockPositionStore) RecordPartialExit(tradeID int64, qty, price float64, reason, closeOrderID, newSLOrderID, newTPOrderID string) (*models.PartialExit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.partialErr != nil {
		return nil, m.partialErr
	}

	p, ok := m.positions[tradeID]
	if !ok {
		return nil, repository.ErrTradeNotFound
	}
	if !p.IsOpen() {
		return nil, repository.ErrTradeAlreadyClosed
	}

	pe := &models.PartialExit{
		TradeID:       tradeID,
		PartialNumber: len(m.partials[tradeID]) + 1,
		QtyClosed:     qty,
		QtyRemaining:  p.RemainingUSDT - qty,
		ExitPrice:     price,
		Reason:        reason,
		CloseOrderID:  closeOrderID,
		NewSLOrderID:  newSLOrderID,
		NewTPOrderID:  newTPOrderID,
	}
	m.partials[tradeID] = append(m.partials[tradeID], pe)
	p.RemainingUSDT -= qty
	return pe, nil
}

func (m *MockPositionStore) UpdateUnrealizedPnl(tradeID int64, pnlPct float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if p, ok := m.positions[tradeID]; ok {
		p.UnrealizedPnl = pnlPct
	}
	return nil
}

func (m *MockPositionStore) ClosedTrades() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.closedTrades))
	copy(out, m.closedTrades)
	return out
}

// ============ Mock AuditStore ============

type MockAuditStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord
	err     error
}

func NewMockAuditStore() *MockAuditStore {
	return &MockAuditStore{}
}

func (m *MockAuditStore) Append(rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *MockAuditStore) Records() []*models.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}

// ============ Mock Gateway ============

type MockGateway struct {
	mu sync.Mutex

	prices   map[string]float64
	priceErr error

	closeErr      error
	alreadyClosed bool
	closeCalls    int
	closedSymbols []string
	closeQtys     []float64

	partialErr   error
	partialCalls int
	partialQtys  []float64

	// Задержка закрытия для тестов конкурентности
	closeDelay time.Duration
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		prices: make(map[string]float64),
	}
}

func (m *MockGateway) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

func (m *MockGateway) GetMarkPrice(ctx context.Context, symbol string) (*gateway.MarkPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	price, ok := m.prices[symbol]
	if !ok {
		return nil, &gateway.GatewayError{Op: "premiumIndex", Message: "unknown symbol " + symbol}
	}
	return &gateway.MarkPrice{Symbol: symbol, Price: price, Time: time.Now()}, nil
}

func (m *MockGateway) ClosePosition(ctx context.Context, symbol string, short bool, qty float64) (*gateway.CloseResult, error) {
	m.mu.Lock()
	delay := m.closeDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	m.closeQtys = append(m.closeQtys, qty)

	if m.closeErr != nil {
		return nil, m.closeErr
	}
	if m.alreadyClosed {
		return &gateway.CloseResult{AlreadyClosed: true}, nil
	}

	m.closedSymbols = append(m.closedSymbols, symbol)
	return &gateway.CloseResult{
		OrderID:     "mock-order",
		FilledPrice: m.prices[symbol],
		FilledQty:   qty,
	}, nil
}

func (m *MockGateway) PartialClose(ctx context.Context, symbol string, short bool, qty, newSL, newTP float64) (*gateway.CloseResult, *gateway.ProtectiveOrders, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.partialCalls++
	m.partialQtys = append(m.partialQtys, qty)

	if m.partialErr != nil {
		return nil, nil, m.partialErr
	}
	if m.alreadyClosed {
		return &gateway.CloseResult{AlreadyClosed: true}, nil, nil
	}

	return &gateway.CloseResult{
			OrderID:     "mock-partial",
			FilledPrice: m.prices[symbol],
			FilledQty:   qty,
		}, &gateway.ProtectiveOrders{
			SLOrderID: "mock-sl",
			TPOrderID: "mock-tp",
		}, nil
}

func (m *MockGateway) Ping(ctx context.Context) error { return nil }

func (m *MockGateway) Close() error { return nil }

func (m *MockGateway) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *MockGateway) CloseQtys() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.closeQtys))
	copy(out, m.closeQtys)
	return out
}
