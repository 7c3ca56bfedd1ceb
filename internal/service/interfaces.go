// Package service содержит прикладную логику поверх репозиториев:
// чтение позиций и сводок для API и ручное закрытие.
package service

import (
	"time"

	"guardian/internal/models"
	"guardian/internal/repository"
)

// PositionStore - операции хранилища позиций, нужные сервисам
type PositionStore interface {
	GetOpen() ([]*models.Position, error)
	GetByID(tradeID int64) (*models.Position, error)
	Close(tradeID int64, exitPrice float64, reason string, closedAt time.Time) error
	RecordPartialExit(tradeID int64, qty, price float64, reason, closeOrderID, newSLOrderID, newTPOrderID string) (*models.PartialExit, error)
	UpdateUnrealizedPnl(tradeID int64, pnlPct float64) error
}

// AuditStore - чтение и пополнение журнала решений
type AuditStore interface {
	Append(rec *models.AuditRecord) error
	GetByTradeID(tradeID int64) ([]*models.AuditRecord, error)
	GetRecent(limit int) ([]*models.AuditRecord, error)
}

// StatsStore - read-side агрегаты
type StatsStore interface {
	GetSummary(now time.Time) (*models.Summary, error)
	CountOpen() (int, error)
	PnlByExitReason() (map[string]float64, error)
}

// Проверка соответствия конкретных репозиториев интерфейсам
var (
	_ PositionStore = (*repository.PositionRepository)(nil)
	_ AuditStore    = (*repository.AuditRepository)(nil)
	_ StatsStore    = (*repository.StatsRepository)(nil)
)
