package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики цикла защиты
// ============================================================
//
// Использование:
// - Grafana дашборды: частота срабатываний правил, длительность циклов
// - Alertmanager: рост protection_action_failures - сигнал что
//   позиции не закрываются

// CyclesTotal - количество выполненных циклов защиты
var CyclesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "protection",
		Name:      "cycles_total",
		Help:      "Number of protection cycles by outcome",
	},
	[]string{"outcome"}, // completed, skipped, failed
)

// CycleDuration - длительность цикла защиты
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "guardian",
		Subsystem: "protection",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full protection cycle",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

// PositionsEvaluated - количество оценённых позиций
var PositionsEvaluated = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "protection",
		Name:      "positions_evaluated_total",
		Help:      "Number of position evaluations performed",
	},
)

// RuleTriggers - срабатывания защитных правил
var RuleTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "protection",
		Name:      "rule_triggers_total",
		Help:      "Number of protective rule triggers by rule",
	},
	[]string{"rule"},
)

// ActionFailures - неудавшиеся защитные действия
var ActionFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "guardian",
		Subsystem: "protection",
		Name:      "action_failures_total",
		Help:      "Number of failed protective actions by rule",
	},
	[]string{"rule"},
)

// OpenPositions - открытые позиции на момент последнего цикла
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "guardian",
		Subsystem: "protection",
		Name:      "open_positions",
		Help:      "Open positions observed by the last protection cycle",
	},
)

// GatewayCallDuration - длительность вызовов ордер-шлюза
var GatewayCallDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "guardian",
		Subsystem: "gateway",
		Name:      "call_duration_seconds",
		Help:      "Duration of order gateway calls",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{"op"},
)
