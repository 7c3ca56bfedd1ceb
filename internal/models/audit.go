package models

import "time"

// AuditRecord представляет запись в append-only таблице protection_audit.
//
// Одна запись на каждое решение цикла защиты — включая решения NONE
// (бездействие тоже должно быть аудируемым) и неудавшиеся действия.
// Записи никогда не изменяются и не удаляются, кроме retention-очистки
// по возрасту.
type AuditRecord struct {
	AuditID          int64     `json:"audit_id" db:"audit_id"`
	TradeID          int64     `json:"trade_id" db:"trade_id"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	Rule             string    `json:"rule" db:"rule"` // NONE, STOP_LOSS, TAKE_PROFIT, LIQUIDATION_GUARD, TIMEOUT, MANUAL
	UnrealizedPnlPct float64   `json:"unrealized_pnl_pct" db:"unrealized_pnl_pct"`
	DistanceToLiqPct float64   `json:"distance_to_liquidation_pct" db:"distance_to_liquidation_pct"`
	ActionTaken      bool      `json:"action_taken" db:"action_taken"`
	// Error - текст ошибки если действие не удалось (пусто при успехе)
	Error string `json:"error,omitempty" db:"error_message"`
}

// Summary представляет агрегированную сводку по закрытым позициям.
//
// Реконструируется read-side из trade_log + trade_partial_exits:
// PNL сделки = сумма PNL её частичных закрытий + финальное закрытие,
// каждая сделка считается ровно один раз.
type Summary struct {
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	TotalPnl    float64 `json:"total_pnl"`
	WinRate     float64 `json:"win_rate"` // доля прибыльных сделок, 0..1
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"` // отрицательное значение
	TodayPnl    float64 `json:"today_pnl"`
	WeekPnl     float64 `json:"week_pnl"`
}
