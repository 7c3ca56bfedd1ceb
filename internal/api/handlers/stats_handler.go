package handlers

import (
	"net/http"

	"guardian/internal/service"
)

// StatsHandler обрабатывает HTTP запросы для сводки PNL.
//
// Endpoints:
// - GET /api/v1/summary - агрегированная сводка по закрытым сделкам
// - GET /api/v1/summary/by-exit-reason - распределение PNL по причинам выхода
type StatsHandler struct {
	stats *service.StatsService
}

// NewStatsHandler создает новый StatsHandler
func NewStatsHandler(stats *service.StatsService) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// GetSummary возвращает сводку по закрытым сделкам.
//
// GET /api/v1/summary
//
// Response 200 OK:
//
//	{
//	  "total_trades": 150,
//	  "wins": 90,
//	  "losses": 55,
//	  "total_pnl": 1250.50,
//	  "win_rate": 0.6,
//	  "avg_win": 30.0,
//	  "avg_loss": -18.2,
//	  "today_pnl": 45.20,
//	  "week_pnl": 180.75
//	}
func (h *StatsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.GetSummary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get summary", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// GetPnlByExitReason возвращает распределение PNL по причинам выхода.
//
// GET /api/v1/summary/by-exit-reason
func (h *StatsHandler) GetPnlByExitReason(w http.ResponseWriter, r *http.Request) {
	byReason, err := h.stats.PnlByExitReason()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get pnl by exit reason", err)
		return
	}

	if byReason == nil {
		byReason = map[string]float64{}
	}

	writeJSON(w, http.StatusOK, byReason)
}
