package handlers

import (
	"context"
	"net/http"
	"time"

	"guardian/internal/gateway"
	"guardian/internal/guard"
	"guardian/internal/service"
)

// StatusHandler обрабатывает запросы о состоянии сервиса.
//
// Endpoints:
// - GET /healthz - проверка живости (планировщик + шлюз + БД)
type StatusHandler struct {
	scheduler *guard.Scheduler
	gateway   gateway.Gateway
	stats     *service.StatsService
}

// NewStatusHandler создает новый StatusHandler
func NewStatusHandler(scheduler *guard.Scheduler, gw gateway.Gateway, stats *service.StatsService) *StatusHandler {
	return &StatusHandler{scheduler: scheduler, gateway: gw, stats: stats}
}

// healthResponse - тело ответа /healthz
type healthResponse struct {
	Status          string `json:"status"` // ok | degraded
	SchedulerState  string `json:"scheduler_state"`
	SchedulerDetail string `json:"scheduler_detail"`
	LastCycleAt     string `json:"last_cycle_at,omitempty"`
	OpenPositions   int    `json:"open_positions"`
	GatewayOK       bool   `json:"gateway_ok"`
	StoreOK         bool   `json:"store_ok"`
}

// Healthz возвращает состояние сервиса.
//
// GET /healthz
//
// 200 - планировщик работает, шлюз и хранилище отвечают
// 503 - любой из компонентов недоступен
func (h *StatusHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{
		SchedulerState: h.scheduler.State(),
		GatewayOK:      h.gateway.Ping(ctx) == nil,
	}
	resp.SchedulerDetail = guard.StateInfo(resp.SchedulerState)

	open, err := h.stats.CountOpen()
	resp.StoreOK = err == nil
	resp.OpenPositions = open

	if last := h.scheduler.LastCycleAt(); !last.IsZero() {
		resp.LastCycleAt = last.UTC().Format(time.RFC3339)
	}

	status := http.StatusOK
	resp.Status = "ok"
	if !resp.GatewayOK || !resp.StoreOK || !guard.IsRunning(resp.SchedulerState) {
		status = http.StatusServiceUnavailable
		resp.Status = "degraded"
	}

	writeJSON(w, status, resp)
}
