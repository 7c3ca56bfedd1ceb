package repository

import (
	"database/sql"
	"time"

	"guardian/internal/models"
	"guardian/pkg/utils"
)

// StatsRepository - read-side агрегаты по закрытым сделкам.
//
// PNL сделки восстанавливается из двух источников: частичные закрытия
// (trade_partial_exits, PNL считается по цене выхода каждой части) и
// финальное закрытие (pnl_usdt в trade_log покрывает только остаток).
// Каждая сделка учитывается ровно один раз.
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository создает новый экземпляр репозитория
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// summaryQuery агрегирует полный PNL по закрытым сделкам.
// Знак PNL частичного закрытия учитывает направление: для SHORT
// прибыль при падении цены.
const summaryQuery = `
	WITH partial_pnl AS (
		SELECT pe.trade_id,
			SUM(pe.quantity_closed
				* (pe.exit_price - t.entry_price) / t.entry_price
				* (CASE WHEN t.direcao = 'SHORT' THEN -1 ELSE 1 END)) AS pnl
		FROM trade_partial_exits pe
		JOIN trade_log t ON t.trade_id = pe.trade_id
		GROUP BY pe.trade_id
	),
	closed AS (
		SELECT t.trade_id, t.timestamp_saida,
			COALESCE(t.pnl_usdt, 0) + COALESCE(pp.pnl, 0) AS total_pnl
		FROM trade_log t
		LEFT JOIN partial_pnl pp ON pp.trade_id = t.trade_id
		WHERE t.timestamp_saida IS NOT NULL
	)
	SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE total_pnl > 0),
		COUNT(*) FILTER (WHERE total_pnl < 0),
		COALESCE(SUM(total_pnl), 0),
		COALESCE(AVG(total_pnl) FILTER (WHERE total_pnl > 0), 0),
		COALESCE(AVG(total_pnl) FILTER (WHERE total_pnl < 0), 0),
		COALESCE(SUM(total_pnl) FILTER (WHERE timestamp_saida >= $1), 0),
		COALESCE(SUM(total_pnl) FILTER (WHERE timestamp_saida >= $2), 0)
	FROM closed`

// GetSummary возвращает сводку по всем закрытым сделкам.
// Сделки с нулевым итоговым PNL входят в total, но не в wins/losses.
func (r *StatsRepository) GetSummary(now time.Time) (*models.Summary, error) {
	dayStart := utils.GetDayStartFrom(now)
	weekStart := utils.GetWeekStartFrom(now)

	s := &models.Summary{}
	err := r.db.QueryRow(summaryQuery, dayStart, weekStart).Scan(
		&s.TotalTrades,
		&s.Wins,
		&s.Losses,
		&s.TotalPnl,
		&s.AvgWin,
		&s.AvgLoss,
		&s.TodayPnl,
		&s.WeekPnl,
	)
	if err != nil {
		return nil, err
	}

	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	}

	return s, nil
}

// CountOpen возвращает число открытых позиций (для healthz и метрик)
func (r *StatsRepository) CountOpen() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM trade_log WHERE timestamp_saida IS NULL`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// PnlByExitReason возвращает суммарный PNL финальных закрытий по причинам
// выхода (для операционного API)
func (r *StatsRepository) PnlByExitReason() (map[string]float64, error) {
	rows, err := r.db.Query(`
		SELECT motivo_saida, COALESCE(SUM(pnl_usdt), 0)
		FROM trade_log
		WHERE timestamp_saida IS NOT NULL
		GROUP BY motivo_saida`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var reason string
		var pnl float64
		if err := rows.Scan(&reason, &pnl); err != nil {
			return nil, err
		}
		result[reason] = pnl
	}

	return result, rows.Err()
}
