package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"guardian/internal/models"
	"guardian/pkg/utils"
)

// Ошибки репозитория позиций
var (
	ErrTradeNotFound      = errors.New("trade not found")
	ErrTradeAlreadyClosed = errors.New("trade already closed")
	ErrOverClose          = errors.New("partial exit exceeds remaining quantity")
	ErrInvalidPosition    = errors.New("invalid position")
	ErrInvalidExitReason  = errors.New("invalid exit reason")
)

// qtyEpsilon - допуск при сравнении объёмов (float64 в USDT)
const qtyEpsilon = 1e-9

// PositionRepository - работа с таблицами trade_log и trade_partial_exits.
//
// Обе таблицы принадлежат одному агрегату: частичное закрытие и финальное
// закрытие должны коммититься одной транзакцией, поэтому репозиторий
// один на обе таблицы.
//
// trade_log никогда не чистится: закрытые позиции остаются для аудита.
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// positionColumns - список колонок trade_log в порядке сканирования
const positionColumns = `trade_id, symbol, direcao, entry_price, stop_loss, take_profit, leverage,
		position_size_usdt, binance_order_id, binance_sl_order_id, binance_tp_order_id,
		timestamp_entrada, timestamp_saida, exit_price, pnl_usdt, pnl_pct, motivo_saida,
		unrealized_pnl_at_snapshot`

func scanPosition(row interface{ Scan(...interface{}) error }, p *models.Position) error {
	return row.Scan(
		&p.TradeID,
		&p.Symbol,
		&p.Direction,
		&p.EntryPrice,
		&p.StopLoss,
		&p.TakeProfit,
		&p.Leverage,
		&p.SizeUSDT,
		&p.EntryOrderID,
		&p.SLOrderID,
		&p.TPOrderID,
		&p.OpenedAt,
		&p.ClosedAt,
		&p.ExitPrice,
		&p.PnlUSDT,
		&p.PnlPct,
		&p.ExitReason,
		&p.UnrealizedPnl,
	)
}

// validate проверяет обязательные поля перед созданием.
// Позиция без SL/TP/leverage защите не подлежит и в trade_log не попадает.
func validate(p *models.Position) error {
	if err := utils.ValidateSymbol(p.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if p.Direction != models.DirectionLong && p.Direction != models.DirectionShort {
		return fmt.Errorf("%w: direction must be LONG or SHORT, got %q", ErrInvalidPosition, p.Direction)
	}
	if err := utils.ValidatePrice("entry_price", p.EntryPrice); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if err := utils.ValidatePrice("stop_loss", p.StopLoss); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if err := utils.ValidatePrice("take_profit", p.TakeProfit); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if err := utils.ValidateLeverage(p.Leverage); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	if err := utils.ValidateQuantity(p.SizeUSDT); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return nil
}

// Create создает запись о позиции и возвращает trade_id
func (r *PositionRepository) Create(p *models.Position) error {
	if err := validate(p); err != nil {
		return err
	}

	query := `
		INSERT INTO trade_log (symbol, direcao, entry_price, stop_loss, take_profit, leverage,
			position_size_usdt, binance_order_id, binance_sl_order_id, binance_tp_order_id,
			timestamp_entrada, unrealized_pnl_at_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING trade_id`

	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}

	err := r.db.QueryRow(
		query,
		p.Symbol,
		p.Direction,
		p.EntryPrice,
		p.StopLoss,
		p.TakeProfit,
		p.Leverage,
		p.SizeUSDT,
		p.EntryOrderID,
		p.SLOrderID,
		p.TPOrderID,
		p.OpenedAt,
		p.UnrealizedPnl,
	).Scan(&p.TradeID)

	if err != nil {
		return err
	}

	p.RemainingUSDT = p.SizeUSDT
	return nil
}

// GetByID возвращает позицию по trade_id
func (r *PositionRepository) GetByID(tradeID int64) (*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `,
			COALESCE((SELECT pe.quantity_remaining FROM trade_partial_exits pe
				WHERE pe.trade_id = trade_log.trade_id
				ORDER BY pe.partial_number DESC LIMIT 1), position_size_usdt)
		FROM trade_log
		WHERE trade_id = $1`

	p := &models.Position{}
	err := r.db.QueryRow(query, tradeID).Scan(
		&p.TradeID, &p.Symbol, &p.Direction, &p.EntryPrice, &p.StopLoss, &p.TakeProfit,
		&p.Leverage, &p.SizeUSDT, &p.EntryOrderID, &p.SLOrderID, &p.TPOrderID,
		&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.PnlUSDT, &p.PnlPct, &p.ExitReason,
		&p.UnrealizedPnl, &p.RemainingUSDT,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return p, nil
}

// GetOpen возвращает все открытые позиции (timestamp_saida IS NULL).
//
// RemainingUSDT вычисляется из последней записи trade_partial_exits;
// для позиции без частичных закрытий равен position_size_usdt.
func (r *PositionRepository) GetOpen() ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `,
			COALESCE((SELECT pe.quantity_remaining FROM trade_partial_exits pe
				WHERE pe.trade_id = trade_log.trade_id
				ORDER BY pe.partial_number DESC LIMIT 1), position_size_usdt)
		FROM trade_log
		WHERE timestamp_saida IS NULL
		ORDER BY trade_id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p := &models.Position{}
		err := rows.Scan(
			&p.TradeID, &p.Symbol, &p.Direction, &p.EntryPrice, &p.StopLoss, &p.TakeProfit,
			&p.Leverage, &p.SizeUSDT, &p.EntryOrderID, &p.SLOrderID, &p.TPOrderID,
			&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.PnlUSDT, &p.PnlPct, &p.ExitReason,
			&p.UnrealizedPnl, &p.RemainingUSDT,
		)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// UpdateUnrealizedPnl обновляет снапшот нереализованного PNL (в %)
func (r *PositionRepository) UpdateUnrealizedPnl(tradeID int64, pnlPct float64) error {
	query := `
		UPDATE trade_log
		SET unrealized_pnl_at_snapshot = $1
		WHERE trade_id = $2 AND timestamp_saida IS NULL`

	result, err := r.db.Exec(query, pnlPct, tradeID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTradeNotFound
	}

	return nil
}

// RecordPartialExit записывает частичное закрытие позиции.
//
// Вся операция - одна транзакция:
//  1. блокировка строки trade_log (FOR UPDATE) и проверка что позиция открыта
//  2. проверка остатка: qty не может превышать remaining (ErrOverClose -
//     сигнал нарушения целостности, молча не обрезаем)
//  3. вставка append-only записи trade_partial_exits с новыми ссылками
//     на защитные ордера
func (r *PositionRepository) RecordPartialExit(
	tradeID int64,
	qty, price float64,
	reason string,
	closeOrderID, newSLOrderID, newTPOrderID string,
) (*models.PartialExit, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %f", ErrInvalidPosition, qty)
	}
	if !models.ValidExitReason(reason) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExitReason, reason)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	var sizeUSDT float64
	var closedAt *time.Time
	err = tx.QueryRow(
		`SELECT position_size_usdt, timestamp_saida FROM trade_log WHERE trade_id = $1 FOR UPDATE`,
		tradeID,
	).Scan(&sizeUSDT, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	if closedAt != nil {
		return nil, ErrTradeAlreadyClosed
	}

	var partialNumber int
	var remaining float64
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(partial_number), 0),
		       COALESCE(MIN(quantity_remaining) FILTER (WHERE partial_number = (
		           SELECT MAX(partial_number) FROM trade_partial_exits WHERE trade_id = $1
		       )), $2)
		FROM trade_partial_exits
		WHERE trade_id = $1`, tradeID, sizeUSDT,
	).Scan(&partialNumber, &remaining)
	if err != nil {
		return nil, err
	}

	if qty > remaining+qtyEpsilon {
		return nil, fmt.Errorf("%w: qty=%f remaining=%f trade_id=%d", ErrOverClose, qty, remaining, tradeID)
	}

	pe := &models.PartialExit{
		TradeID:       tradeID,
		PartialNumber: partialNumber + 1,
		QtyClosed:     qty,
		QtyRemaining:  remaining - qty,
		ExitPrice:     price,
		ExitTime:      time.Now().UTC(),
		CloseOrderID:  closeOrderID,
		NewSLOrderID:  newSLOrderID,
		NewTPOrderID:  newTPOrderID,
		Reason:        reason,
	}

	err = tx.QueryRow(`
		INSERT INTO trade_partial_exits (trade_id, partial_number, quantity_closed, quantity_remaining,
			exit_price, exit_time, binance_order_id_close, binance_sl_order_id_new, binance_tp_order_id_new, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING partial_id`,
		pe.TradeID, pe.PartialNumber, pe.QtyClosed, pe.QtyRemaining,
		pe.ExitPrice, pe.ExitTime, pe.CloseOrderID, pe.NewSLOrderID, pe.NewTPOrderID, pe.Reason,
	).Scan(&pe.PartialID)
	if err != nil {
		return nil, err
	}

	// Новые защитные ордера заменяют старые ссылки в trade_log
	_, err = tx.Exec(`
		UPDATE trade_log SET binance_sl_order_id = $1, binance_tp_order_id = $2
		WHERE trade_id = $3`,
		newSLOrderID, newTPOrderID, tradeID,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return pe, nil
}

// Close закрывает позицию.
//
// Идемпотентно: повторный вызов для уже закрытой позиции возвращает
// ErrTradeAlreadyClosed (информационный no-op для вызывающего, не сбой).
//
// Инвариант "всё или ничего": timestamp_saida, exit_price, motivo_saida
// и PNL выставляются одним UPDATE с WHERE timestamp_saida IS NULL;
// ссылки на устаревшие SL/TP ордера очищаются в той же транзакции.
//
// pnl_usdt считается по остатку нотионала (частичные закрытия уже
// зафиксировали свой PNL в trade_partial_exits).
func (r *PositionRepository) Close(tradeID int64, exitPrice float64, reason string, closedAt time.Time) error {
	if !models.ValidExitReason(reason) {
		return fmt.Errorf("%w: %q", ErrInvalidExitReason, reason)
	}
	if exitPrice <= 0 {
		return fmt.Errorf("%w: exit price must be positive, got %f", ErrInvalidPosition, exitPrice)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	var entryPrice, sizeUSDT float64
	var direction string
	var alreadyClosed *time.Time
	err = tx.QueryRow(
		`SELECT entry_price, direcao, position_size_usdt, timestamp_saida
		 FROM trade_log WHERE trade_id = $1 FOR UPDATE`,
		tradeID,
	).Scan(&entryPrice, &direction, &sizeUSDT, &alreadyClosed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTradeNotFound
		}
		return err
	}
	if alreadyClosed != nil {
		return ErrTradeAlreadyClosed
	}

	var remaining float64
	err = tx.QueryRow(`
		SELECT COALESCE((SELECT quantity_remaining FROM trade_partial_exits
			WHERE trade_id = $1 ORDER BY partial_number DESC LIMIT 1), $2)`,
		tradeID, sizeUSDT,
	).Scan(&remaining)
	if err != nil {
		return err
	}

	pnlPct := utils.PnlPct(entryPrice, exitPrice, direction == models.DirectionShort)
	pnlUSDT := remaining * pnlPct / 100

	result, err := tx.Exec(`
		UPDATE trade_log
		SET timestamp_saida = $1, exit_price = $2, motivo_saida = $3,
		    pnl_usdt = $4, pnl_pct = $5,
		    binance_sl_order_id = '', binance_tp_order_id = ''
		WHERE trade_id = $6 AND timestamp_saida IS NULL`,
		closedAt.UTC(), exitPrice, reason, pnlUSDT, pnlPct, tradeID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		// Гонка: кто-то закрыл между SELECT и UPDATE
		return ErrTradeAlreadyClosed
	}

	return tx.Commit()
}

// IsFatalStoreError возвращает true если ошибка означает недоступность
// хранилища (а не проблему конкретной записи). Такая ошибка останавливает
// планировщик целиком.
func IsFatalStoreError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 - Connection Exception, Class 57 - Operator Intervention,
		// Class 53 - Insufficient Resources
		switch pqErr.Code.Class() {
		case "08", "57", "53":
			return true
		}
	}

	return false
}
