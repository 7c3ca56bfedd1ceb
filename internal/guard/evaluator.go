// Package guard реализует цикл защиты открытых позиций: оценку
// защитных правил, принудительное закрытие и аудит решений.
package guard

import (
	"time"

	"guardian/internal/config"
	"guardian/internal/models"
	"guardian/pkg/utils"
)

// Правила защиты в порядке убывания приоритета
const (
	RuleLiquidationGuard = "LIQUIDATION_GUARD"
	RuleStopLoss         = "STOP_LOSS"
	RuleTakeProfit       = "TAKE_PROFIT"
	RuleTimeout          = "TIMEOUT"
	RuleNone             = "NONE"
)

// Snapshot - результат оценки позиции в рамках одного цикла.
//
// Содержит решение и все входы, по которым оно принято: снапшот
// попадает в аудит как есть, чтобы решение можно было восстановить.
type Snapshot struct {
	TradeID   int64
	Symbol    string
	MarkPrice float64

	// Нереализованный PNL в % от нотионала (с учётом направления)
	UnrealizedPnlPct float64

	// Дистанция до цены ликвидации в % от цены входа
	DistanceToLiqPct float64

	// Время удержания позиции в минутах
	HeldMinutes float64

	// Decision - сработавшее правило (RuleNone = действий не требуется)
	Decision string
}

// ActionRequired возвращает true если по снапшоту нужно закрытие
func (s *Snapshot) ActionRequired() bool {
	return s.Decision != RuleNone
}

// Evaluate оценивает позицию против защитных правил. Чистая функция:
// никаких обращений к БД или бирже, все входы передаются явно.
//
// Порядок проверки фиксирован приоритетом правил:
//
//	LIQUIDATION_GUARD > STOP_LOSS > TAKE_PROFIT > TIMEOUT
//
// Stop loss проверяется раньше take profit: при гэпе, накрывшем оба
// уровня, позиция закрывается по защитному сценарию.
func Evaluate(p *models.Position, markPrice float64, now time.Time, cfg config.ProtectionConfig) *Snapshot {
	short := p.IsShort()

	snapshot := &Snapshot{
		TradeID:          p.TradeID,
		Symbol:           p.Symbol,
		MarkPrice:        markPrice,
		UnrealizedPnlPct: utils.PnlPct(p.EntryPrice, markPrice, short),
		DistanceToLiqPct: utils.DistanceToLiquidationPct(p.EntryPrice, markPrice, p.Leverage, short),
		HeldMinutes:      utils.MinutesSince(p.OpenedAt, now),
		Decision:         RuleNone,
	}

	switch {
	case snapshot.DistanceToLiqPct <= cfg.LiquidationSafetyMarginPct:
		snapshot.Decision = RuleLiquidationGuard

	case stopLossHit(p, markPrice, short):
		snapshot.Decision = RuleStopLoss

	case takeProfitHit(p, markPrice, short):
		snapshot.Decision = RuleTakeProfit

	case snapshot.HeldMinutes >= float64(cfg.MaxHoldingMinutes):
		snapshot.Decision = RuleTimeout
	}

	return snapshot
}

// stopLossHit: long закрывается при падении до SL, short - при росте
func stopLossHit(p *models.Position, markPrice float64, short bool) bool {
	if short {
		return markPrice >= p.StopLoss
	}
	return markPrice <= p.StopLoss
}

// takeProfitHit: long закрывается при росте до TP, short - при падении
func takeProfitHit(p *models.Position, markPrice float64, short bool) bool {
	if short {
		return markPrice <= p.TakeProfit
	}
	return markPrice >= p.TakeProfit
}

// ExitReason возвращает причину выхода для trade_log по правилу.
// Для RuleNone причины нет.
func ExitReason(rule string) string {
	switch rule {
	case RuleStopLoss:
		return models.ExitReasonStopLoss
	case RuleTakeProfit:
		return models.ExitReasonTakeProfit
	case RuleLiquidationGuard:
		return models.ExitReasonLiquidationGuard
	case RuleTimeout:
		return models.ExitReasonTimeout
	default:
		return ""
	}
}
