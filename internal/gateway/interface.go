// Package gateway предоставляет интерфейс ордер-шлюза биржи для
// получения цен и принудительного закрытия позиций.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// MarkPrice - отметочная цена символа с моментом получения
type MarkPrice struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// CloseResult - результат закрывающего ордера
type CloseResult struct {
	// OrderID ордера закрытия на бирже
	OrderID string `json:"order_id"`

	// Средняя цена исполнения
	FilledPrice float64 `json:"filled_price"`

	// Исполненное количество в базовом активе
	FilledQty float64 `json:"filled_qty"`

	// AlreadyClosed = true если биржа сообщила что позиции уже нет
	// (reduce-only ордер отклонён). Для вызывающего это не сбой:
	// нужно выполнить reconciliation в хранилище.
	AlreadyClosed bool `json:"already_closed"`
}

// ProtectiveOrders - ссылки на новые защитные ордера после частичного закрытия
type ProtectiveOrders struct {
	SLOrderID string `json:"sl_order_id"`
	TPOrderID string `json:"tp_order_id"`
}

// Gateway определяет операции ордер-шлюза, необходимые циклу защиты.
//
// Все методы принимают context: любой вызов может быть оборван
// таймаутом или остановкой планировщика.
type Gateway interface {
	// GetMarkPrice возвращает текущую отметочную цену символа
	GetMarkPrice(ctx context.Context, symbol string) (*MarkPrice, error)

	// ClosePosition полностью закрывает позицию рыночным reduce-only
	// ордером. qty - количество в базовом активе.
	ClosePosition(ctx context.Context, symbol string, short bool, qty float64) (*CloseResult, error)

	// PartialClose закрывает часть позиции и выставляет новые
	// защитные ордера на остаток.
	PartialClose(ctx context.Context, symbol string, short bool, qty, newSL, newTP float64) (*CloseResult, *ProtectiveOrders, error)

	// Ping проверяет доступность шлюза
	Ping(ctx context.Context) error

	// Close освобождает ресурсы (WS соединения, connection pool)
	Close() error
}

// GatewayError представляет ошибку от биржи
type GatewayError struct {
	Op       string // операция шлюза
	Code     int    // код ошибки биржи (0 если транспортная)
	Message  string
	Original error

	// Transient = true для ошибок, которые имеет смысл повторить
	// (5xx, rate limit, сетевые сбои)
	Transient bool
}

func (e *GatewayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gateway %s: code %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *GatewayError) Unwrap() error {
	return e.Original
}

// Retryable сообщает retry-механизму можно ли повторять вызов
func (e *GatewayError) Retryable() bool {
	return e.Transient
}

func (e *GatewayError) Temporary() bool {
	return e.Transient
}

// Side constants for orders
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)
