package models

import "time"

// Направление позиции
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Причины закрытия позиции (motivo_saida)
const (
	ExitReasonStopLoss         = "STOP_LOSS"
	ExitReasonTakeProfit       = "TAKE_PROFIT"
	ExitReasonLiquidationGuard = "LIQUIDATION_GUARD"
	ExitReasonTimeout          = "TIMEOUT"
	ExitReasonManual           = "MANUAL"
)

// Position представляет запись о позиции в таблице trade_log.
//
// Имена колонок (включая португальские direcao/timestamp_entrada/
// timestamp_saida/motivo_saida) зафиксированы downstream-инструментами
// и не подлежат изменению.
//
// Инвариант закрытия: timestamp_saida, exit_price и motivo_saida
// заполняются все вместе или никак (атомарный UPDATE в репозитории).
// Закрытые позиции никогда не удаляются физически (аудит).
type Position struct {
	TradeID       int64      `json:"trade_id" db:"trade_id"`
	Symbol        string     `json:"symbol" db:"symbol"`
	Direction     string     `json:"direction" db:"direcao"` // LONG, SHORT
	EntryPrice    float64    `json:"entry_price" db:"entry_price"`
	StopLoss      float64    `json:"stop_loss" db:"stop_loss"`
	TakeProfit    float64    `json:"take_profit" db:"take_profit"`
	Leverage      int        `json:"leverage" db:"leverage"`
	SizeUSDT      float64    `json:"position_size_usdt" db:"position_size_usdt"` // исходный нотионал в USDT
	EntryOrderID  string     `json:"binance_order_id" db:"binance_order_id"`
	SLOrderID     string     `json:"binance_sl_order_id" db:"binance_sl_order_id"`
	TPOrderID     string     `json:"binance_tp_order_id" db:"binance_tp_order_id"`
	OpenedAt      time.Time  `json:"timestamp_entrada" db:"timestamp_entrada"`
	ClosedAt      *time.Time `json:"timestamp_saida,omitempty" db:"timestamp_saida"`
	ExitPrice     *float64   `json:"exit_price,omitempty" db:"exit_price"`
	PnlUSDT       *float64   `json:"pnl_usdt,omitempty" db:"pnl_usdt"`
	PnlPct        *float64   `json:"pnl_pct,omitempty" db:"pnl_pct"`
	ExitReason    *string    `json:"motivo_saida,omitempty" db:"motivo_saida"`
	UnrealizedPnl float64    `json:"unrealized_pnl_at_snapshot" db:"unrealized_pnl_at_snapshot"`

	// RemainingUSDT - нотионал, остающийся открытым после частичных
	// закрытий. Не колонка trade_log: вычисляется репозиторием из
	// последней записи trade_partial_exits (COALESCE на исходный размер).
	RemainingUSDT float64 `json:"remaining_usdt" db:"-"`
}

// IsOpen возвращает true если позиция ещё открыта
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil
}

// IsShort возвращает true для короткой позиции
func (p *Position) IsShort() bool {
	return p.Direction == DirectionShort
}

// ValidExitReason проверяет что причина закрытия из допустимого набора
func ValidExitReason(reason string) bool {
	switch reason {
	case ExitReasonStopLoss, ExitReasonTakeProfit, ExitReasonLiquidationGuard,
		ExitReasonTimeout, ExitReasonManual:
		return true
	}
	return false
}

// PartialExit представляет запись о частичном закрытии в таблице
// trade_partial_exits.
//
// Записи append-only: после вставки никогда не мутируются.
// partial_number монотонно растёт в рамках trade_id; сумма
// quantity_closed по всем записям не превышает исходный размер позиции,
// quantity_remaining последней записи равен текущему открытому нотионалу.
type PartialExit struct {
	PartialID     int64     `json:"partial_id" db:"partial_id"`
	TradeID       int64     `json:"trade_id" db:"trade_id"`
	PartialNumber int       `json:"partial_number" db:"partial_number"`
	QtyClosed     float64   `json:"quantity_closed" db:"quantity_closed"`
	QtyRemaining  float64   `json:"quantity_remaining" db:"quantity_remaining"`
	ExitPrice     float64   `json:"exit_price" db:"exit_price"`
	ExitTime      time.Time `json:"exit_time" db:"exit_time"`
	CloseOrderID  string    `json:"binance_order_id_close" db:"binance_order_id_close"`
	NewSLOrderID  string    `json:"binance_sl_order_id_new" db:"binance_sl_order_id_new"`
	NewTPOrderID  string    `json:"binance_tp_order_id_new" db:"binance_tp_order_id_new"`
	Reason        string    `json:"reason" db:"reason"`
}
