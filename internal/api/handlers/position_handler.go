package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"guardian/internal/models"
	"guardian/internal/repository"
	"guardian/internal/service"
)

// PositionHandler обрабатывает HTTP запросы по позициям.
//
// Endpoints:
// - GET /api/v1/positions - открытые позиции
// - GET /api/v1/positions/{id} - позиция по trade_id
// - GET /api/v1/positions/{id}/audit - история решений защиты
// - POST /api/v1/positions/{id}/close - ручное закрытие
type PositionHandler struct {
	positions *service.PositionService
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(positions *service.PositionService) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// tradeID извлекает trade_id из пути
func tradeID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// ListOpen возвращает открытые позиции.
//
// GET /api/v1/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListOpen()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list positions", err)
		return
	}

	// Пустой список возвращается как [], а не null
	if positions == nil {
		positions = []*models.Position{}
	}

	writeJSON(w, http.StatusOK, positions)
}

// Get возвращает позицию по trade_id.
//
// GET /api/v1/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := tradeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trade id", err)
		return
	}

	p, err := h.positions.Get(id)
	if err != nil {
		if errors.Is(err, repository.ErrTradeNotFound) {
			writeError(w, http.StatusNotFound, "trade not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get position", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// Audit возвращает историю решений защиты по позиции.
//
// GET /api/v1/positions/{id}/audit
func (h *PositionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	id, err := tradeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trade id", err)
		return
	}

	records, err := h.positions.History(id)
	if err != nil {
		if errors.Is(err, repository.ErrTradeNotFound) {
			writeError(w, http.StatusNotFound, "trade not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get audit history", err)
		return
	}

	if records == nil {
		records = []*models.AuditRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

// Close закрывает позицию по запросу оператора.
//
// POST /api/v1/positions/{id}/close
//
// Response 200 OK: закрытая позиция
// Response 404: позиция не найдена
// Response 409: позиция уже закрыта или занята циклом защиты
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := tradeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trade id", err)
		return
	}

	p, err := h.positions.Close(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTradeNotFound):
			writeError(w, http.StatusNotFound, "trade not found", nil)
		case errors.Is(err, repository.ErrTradeAlreadyClosed):
			writeError(w, http.StatusConflict, "trade already closed", nil)
		case errors.Is(err, service.ErrTradeBusy):
			writeError(w, http.StatusConflict, "trade is busy, retry later", nil)
		default:
			writeError(w, http.StatusInternalServerError, "failed to close position", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, p)
}
