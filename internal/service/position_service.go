package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"guardian/internal/config"
	"guardian/internal/gateway"
	"guardian/internal/guard"
	"guardian/internal/models"
	"guardian/internal/repository"
)

// ErrTradeBusy возвращается когда позицию прямо сейчас обрабатывает
// цикл защиты
var ErrTradeBusy = errors.New("trade is being processed by the protection cycle")

// PositionService - чтение позиций и ручное закрытие для API
type PositionService struct {
	store    PositionStore
	audit    AuditStore
	gateway  gateway.Gateway
	executor *guard.Executor
	locks    *guard.TradeLocks
	cfg      config.ProtectionConfig
	logger   *zap.Logger
}

// NewPositionService создает новый сервис позиций.
//
// locks - общий с планировщиком набор блокировок: ручное закрытие не
// должно пересекаться с автоматическим.
func NewPositionService(
	store PositionStore,
	audit AuditStore,
	gw gateway.Gateway,
	executor *guard.Executor,
	locks *guard.TradeLocks,
	cfg config.ProtectionConfig,
	logger *zap.Logger,
) *PositionService {
	return &PositionService{
		store:    store,
		audit:    audit,
		gateway:  gw,
		executor: executor,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
	}
}

// ListOpen возвращает открытые позиции
func (s *PositionService) ListOpen() ([]*models.Position, error) {
	return s.store.GetOpen()
}

// Get возвращает позицию по trade_id
func (s *PositionService) Get(tradeID int64) (*models.Position, error) {
	return s.store.GetByID(tradeID)
}

// History возвращает историю решений защиты по позиции
func (s *PositionService) History(tradeID int64) ([]*models.AuditRecord, error) {
	if _, err := s.store.GetByID(tradeID); err != nil {
		return nil, err
	}
	return s.audit.GetByTradeID(tradeID)
}

// RecentAudit возвращает последние решения по всем позициям
func (s *PositionService) RecentAudit(limit int) ([]*models.AuditRecord, error) {
	return s.audit.GetRecent(limit)
}

// Close закрывает позицию по запросу оператора.
//
// Идёт через тот же исполнитель, что и автоматическая защита: биржа,
// потом хранилище, потом аудит с причиной MANUAL. Если позицию в этот
// момент обрабатывает цикл защиты, возвращается ErrTradeBusy.
func (s *PositionService) Close(ctx context.Context, tradeID int64) (*models.Position, error) {
	p, err := s.store.GetByID(tradeID)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen() {
		return nil, repository.ErrTradeAlreadyClosed
	}

	if !s.locks.TryLock(tradeID) {
		return nil, ErrTradeBusy
	}
	defer s.locks.Unlock(tradeID)

	price, err := s.gateway.GetMarkPrice(ctx, p.Symbol)
	if err != nil {
		return nil, err
	}

	snapshot := guard.Evaluate(p, price.Price, time.Now().UTC(), s.cfg)

	if err := s.executor.CloseManual(ctx, p, snapshot); err != nil {
		return nil, err
	}

	s.logger.Info("position closed manually",
		zap.Int64("trade_id", tradeID),
		zap.String("symbol", p.Symbol))

	return s.store.GetByID(tradeID)
}
