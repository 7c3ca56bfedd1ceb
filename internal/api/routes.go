// Package api настраивает операционный HTTP интерфейс сервиса.
package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"guardian/internal/api/handlers"
	"guardian/internal/api/middleware"
	"guardian/internal/gateway"
	"guardian/internal/guard"
	"guardian/internal/service"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	PositionService *service.PositionService
	StatsService    *service.StatsService
	Scheduler       *guard.Scheduler
	Gateway         gateway.Gateway
	Logger          *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения.
//
// Структура маршрутов:
//
// /healthz - проверка живости
// /metrics - Prometheus метрики
// /api/v1/
//
//	├── /positions
//	│   ├── GET / - открытые позиции
//	│   ├── GET /{id} - позиция по trade_id
//	│   ├── GET /{id}/audit - история решений защиты
//	│   └── POST /{id}/close - ручное закрытие
//	└── /summary
//	    ├── GET / - сводка PNL по закрытым сделкам
//	    └── GET /by-exit-reason - PNL по причинам выхода
//
// Middleware: Recovery, затем Logging - для всех маршрутов.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))

	statusHandler := handlers.NewStatusHandler(deps.Scheduler, deps.Gateway, deps.StatsService)
	router.HandleFunc("/healthz", statusHandler.Healthz).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	positionHandler := handlers.NewPositionHandler(deps.PositionService)
	api.HandleFunc("/positions", positionHandler.ListOpen).Methods("GET")
	api.HandleFunc("/positions/{id}", positionHandler.Get).Methods("GET")
	api.HandleFunc("/positions/{id}/audit", positionHandler.Audit).Methods("GET")
	api.HandleFunc("/positions/{id}/close", positionHandler.Close).Methods("POST")

	statsHandler := handlers.NewStatsHandler(deps.StatsService)
	api.HandleFunc("/summary", statsHandler.GetSummary).Methods("GET")
	api.HandleFunc("/summary/by-exit-reason", statsHandler.GetPnlByExitReason).Methods("GET")

	return router
}
