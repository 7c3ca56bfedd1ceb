package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"guardian/internal/models"
)

var (
	ErrAuditNotFound = errors.New("audit record not found")
)

// AuditRepository - append-only журнал решений цикла защиты
// (таблица protection_audit).
//
// Записи не обновляются и не удаляются по одной; единственная мутация
// кроме вставки - retention-очистка по возрасту.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository создает новый экземпляр репозитория
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append добавляет запись о решении. Решение NONE тоже записывается:
// бездействие должно быть видно в аудите.
func (r *AuditRepository) Append(rec *models.AuditRecord) error {
	if rec.TradeID <= 0 {
		return fmt.Errorf("audit record requires trade_id, got %d", rec.TradeID)
	}
	if rec.Rule == "" {
		return fmt.Errorf("audit record requires rule")
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO protection_audit (trade_id, timestamp, rule, unrealized_pnl_pct,
			distance_to_liquidation_pct, action_taken, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING audit_id`

	return r.db.QueryRow(
		query,
		rec.TradeID,
		rec.Timestamp,
		rec.Rule,
		rec.UnrealizedPnlPct,
		rec.DistanceToLiqPct,
		rec.ActionTaken,
		rec.Error,
	).Scan(&rec.AuditID)
}

const auditColumns = `audit_id, trade_id, timestamp, rule, unrealized_pnl_pct,
		distance_to_liquidation_pct, action_taken, error_message`

func scanAuditRows(rows *sql.Rows) ([]*models.AuditRecord, error) {
	var records []*models.AuditRecord
	for rows.Next() {
		rec := &models.AuditRecord{}
		err := rows.Scan(
			&rec.AuditID,
			&rec.TradeID,
			&rec.Timestamp,
			&rec.Rule,
			&rec.UnrealizedPnlPct,
			&rec.DistanceToLiqPct,
			&rec.ActionTaken,
			&rec.Error,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// GetByTradeID возвращает историю решений по сделке (старые первыми)
func (r *AuditRepository) GetByTradeID(tradeID int64) ([]*models.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM protection_audit
		WHERE trade_id = $1
		ORDER BY audit_id`

	rows, err := r.db.Query(query, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// GetRecent возвращает последние limit записей (новые первыми)
func (r *AuditRepository) GetRecent(limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + auditColumns + `
		FROM protection_audit
		ORDER BY audit_id DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// CountActionsTaken возвращает число реально выполненных действий
// (action_taken = true) начиная с момента since
func (r *AuditRepository) CountActionsTaken(since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM protection_audit
		WHERE action_taken = true AND timestamp >= $1`

	var count int
	if err := r.db.QueryRow(query, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteOlderThan удаляет записи старше cutoff (retention).
// Возвращает число удаленных записей.
func (r *AuditRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM protection_audit WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
