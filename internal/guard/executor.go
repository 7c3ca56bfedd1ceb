package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guardian/internal/config"
	"guardian/internal/gateway"
	"guardian/internal/models"
	"guardian/internal/repository"
	"guardian/pkg/retry"
)

// PositionStore - операции хранилища позиций, нужные циклу защиты
type PositionStore interface {
	GetOpen() ([]*models.Position, error)
	GetByID(tradeID int64) (*models.Position, error)
	Close(tradeID int64, exitPrice float64, reason string, closedAt time.Time) error
	RecordPartialExit(tradeID int64, qty, price float64, reason, closeOrderID, newSLOrderID, newTPOrderID string) (*models.PartialExit, error)
	UpdateUnrealizedPnl(tradeID int64, pnlPct float64) error
}

// AuditStore - append-only журнал решений
type AuditStore interface {
	Append(rec *models.AuditRecord) error
}

// Executor применяет решение Evaluate к бирже и хранилищу.
//
// Порядок необратимых действий фиксирован: сначала подтверждённое
// исполнение на бирже, потом запись в хранилище. Хранилище никогда
// не помечает позицию закрытой до фактического закрытия.
type Executor struct {
	store   PositionStore
	audit   AuditStore
	gateway gateway.Gateway
	cfg     config.ProtectionConfig
	retry   retry.Config
	logger  *zap.Logger
}

// NewExecutor создает новый исполнитель защитных действий
func NewExecutor(
	store PositionStore,
	audit AuditStore,
	gw gateway.Gateway,
	cfg config.ProtectionConfig,
	logger *zap.Logger,
) *Executor {
	retryCfg := retry.AggressiveConfig()
	retryCfg.RetryIf = retry.IsRetryable
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("gateway call retry",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return &Executor{
		store:   store,
		audit:   audit,
		gateway: gw,
		cfg:     cfg,
		retry:   retryCfg,
		logger:  logger,
	}
}

// Execute применяет решение снапшота к позиции.
//
// Возвращаемая ошибка описывает сбой действия по этой позиции; решение
// при этом уже записано в аудит с текстом ошибки. Ошибка аудита
// логируется, но не блокирует защиту: закрыть позицию важнее, чем
// записать журнал.
func (e *Executor) Execute(ctx context.Context, p *models.Position, s *Snapshot) error {
	if !s.ActionRequired() {
		// Снапшот PNL обновляется best-effort: гонка с параллельным
		// закрытием не ошибка
		if err := e.store.UpdateUnrealizedPnl(p.TradeID, s.UnrealizedPnlPct); err != nil &&
			!errors.Is(err, repository.ErrTradeNotFound) {
			e.logger.Warn("unrealized pnl snapshot update failed",
				zap.Int64("trade_id", p.TradeID), zap.Error(err))
		}
		e.appendAudit(s, RuleNone, false, nil)
		return nil
	}

	RuleTriggers.WithLabelValues(s.Decision).Inc()

	e.logger.Info("protective rule triggered",
		zap.Int64("trade_id", p.TradeID),
		zap.String("symbol", p.Symbol),
		zap.String("rule", s.Decision),
		zap.Float64("mark_price", s.MarkPrice),
		zap.Float64("unrealized_pnl_pct", s.UnrealizedPnlPct),
		zap.Float64("distance_to_liq_pct", s.DistanceToLiqPct))

	var err error
	if e.shouldPartialClose(p, s) {
		err = e.partialClose(ctx, p, s)
	} else {
		err = e.fullClose(ctx, p, s.Decision, s)
	}

	if err != nil {
		ActionFailures.WithLabelValues(s.Decision).Inc()
		e.appendAudit(s, s.Decision, false, err)
		return err
	}

	e.appendAudit(s, s.Decision, true, nil)
	return nil
}

// CloseManual закрывает позицию по запросу оператора, минуя правила.
// Использует тот же путь исполнения, что и автоматическое закрытие.
func (e *Executor) CloseManual(ctx context.Context, p *models.Position, s *Snapshot) error {
	if err := e.fullClose(ctx, p, models.ExitReasonManual, s); err != nil {
		e.appendAudit(s, models.ExitReasonManual, false, err)
		return err
	}
	e.appendAudit(s, models.ExitReasonManual, true, nil)
	return nil
}

// shouldPartialClose: частичное закрытие применяется только к первому
// срабатыванию liquidation guard; повторное срабатывание закрывает
// позицию целиком.
func (e *Executor) shouldPartialClose(p *models.Position, s *Snapshot) bool {
	return s.Decision == RuleLiquidationGuard &&
		e.cfg.PartialCloseRatio > 0 &&
		p.RemainingUSDT >= p.SizeUSDT
}

// fullClose закрывает остаток позиции и фиксирует результат в хранилище
func (e *Executor) fullClose(ctx context.Context, p *models.Position, reason string, s *Snapshot) error {
	// Базовое количество на бирже зафиксировано при входе: нотионал
	// конвертируется по цене входа, не по текущей отметочной
	qty := p.RemainingUSDT / p.EntryPrice

	start := time.Now()
	result, err := retry.DoWithResult(ctx, func() (*gateway.CloseResult, error) {
		return e.gateway.ClosePosition(ctx, p.Symbol, p.IsShort(), qty)
	}, e.retry)
	GatewayCallDuration.WithLabelValues("close_position").Observe(time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("close position %d: %w", p.TradeID, err)
	}

	exitPrice := result.FilledPrice
	if result.AlreadyClosed {
		// Позиции на бирже уже нет: сверяем хранилище по отметочной
		// цене, точная цена исполнения недоступна
		e.logger.Warn("position already closed on exchange, reconciling store",
			zap.Int64("trade_id", p.TradeID),
			zap.String("symbol", p.Symbol))
		exitPrice = s.MarkPrice
	}

	err = e.store.Close(p.TradeID, exitPrice, reason, time.Now().UTC())
	if errors.Is(err, repository.ErrTradeAlreadyClosed) {
		// Кто-то закрыл параллельно - состояние уже корректное
		e.logger.Info("store close was a no-op", zap.Int64("trade_id", p.TradeID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("record close for trade %d: %w", p.TradeID, err)
	}

	e.logger.Info("position closed",
		zap.Int64("trade_id", p.TradeID),
		zap.String("symbol", p.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit_price", exitPrice))

	return nil
}

// partialClose закрывает долю позиции и переставляет защитные ордера
func (e *Executor) partialClose(ctx context.Context, p *models.Position, s *Snapshot) error {
	closeUSDT := p.RemainingUSDT * e.cfg.PartialCloseRatio
	qty := closeUSDT / p.EntryPrice

	start := time.Now()
	result, orders, err := e.gateway.PartialClose(ctx, p.Symbol, p.IsShort(), qty, p.StopLoss, p.TakeProfit)
	GatewayCallDuration.WithLabelValues("partial_close").Observe(time.Since(start).Seconds())

	if err != nil && result == nil {
		return fmt.Errorf("partial close position %d: %w", p.TradeID, err)
	}

	if result.AlreadyClosed {
		if recErr := e.store.Close(p.TradeID, s.MarkPrice, models.ExitReasonLiquidationGuard, time.Now().UTC()); recErr != nil &&
			!errors.Is(recErr, repository.ErrTradeAlreadyClosed) {
			return fmt.Errorf("reconcile trade %d: %w", p.TradeID, recErr)
		}
		return nil
	}

	// Закрытая часть фиксируется даже если перестановка защитных
	// ордеров не удалась: исполнение на бирже уже произошло
	var slID, tpID string
	if orders != nil {
		slID, tpID = orders.SLOrderID, orders.TPOrderID
	}

	_, storeErr := e.store.RecordPartialExit(
		p.TradeID,
		closeUSDT,
		result.FilledPrice,
		models.ExitReasonLiquidationGuard,
		result.OrderID,
		slID,
		tpID,
	)
	if storeErr != nil && !errors.Is(storeErr, repository.ErrTradeAlreadyClosed) {
		return fmt.Errorf("record partial exit for trade %d: %w", p.TradeID, storeErr)
	}

	e.logger.Info("position partially closed",
		zap.Int64("trade_id", p.TradeID),
		zap.String("symbol", p.Symbol),
		zap.Float64("closed_usdt", closeUSDT),
		zap.Float64("exit_price", result.FilledPrice))

	// Сбой защитных ордеров после успешного закрытия части
	return err
}

// appendAudit записывает решение в журнал
func (e *Executor) appendAudit(s *Snapshot, rule string, actionTaken bool, actionErr error) {
	rec := &models.AuditRecord{
		TradeID:          s.TradeID,
		Timestamp:        time.Now().UTC(),
		Rule:             rule,
		UnrealizedPnlPct: s.UnrealizedPnlPct,
		DistanceToLiqPct: s.DistanceToLiqPct,
		ActionTaken:      actionTaken,
	}
	if actionErr != nil {
		rec.Error = actionErr.Error()
	}

	if err := e.audit.Append(rec); err != nil {
		e.logger.Error("audit append failed",
			zap.Int64("trade_id", s.TradeID),
			zap.String("rule", rule),
			zap.Error(err))
	}
}
