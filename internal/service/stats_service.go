package service

import (
	"time"

	"guardian/internal/models"
)

// StatsService - агрегированная сводка PNL для API
type StatsService struct {
	stats StatsStore
}

// NewStatsService создает новый сервис статистики
func NewStatsService(stats StatsStore) *StatsService {
	return &StatsService{stats: stats}
}

// GetSummary возвращает сводку по закрытым сделкам
func (s *StatsService) GetSummary() (*models.Summary, error) {
	return s.stats.GetSummary(time.Now().UTC())
}

// CountOpen возвращает число открытых позиций
func (s *StatsService) CountOpen() (int, error) {
	return s.stats.CountOpen()
}

// PnlByExitReason возвращает распределение PNL по причинам выхода
func (s *StatsService) PnlByExitReason() (map[string]float64, error) {
	return s.stats.PnlByExitReason()
}
