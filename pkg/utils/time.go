package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Вспомогательные функции для временных операций, используемые
// для агрегации PNL по периодам и очистки старых записей аудита.
//
// Функции:
// - GetDayStart: начало текущего дня (00:00:00)
// - GetWeekStart: начало текущей недели (понедельник 00:00:00)
// - GetMonthStart: начало текущего месяца (1-е число 00:00:00)
//
// Использование:
// - Агрегация сводки PNL по периодам (day/week/month)
// - Очистка старых записей из protection_audit

// GetDayStart возвращает начало текущего дня (00:00:00) в UTC
func GetDayStart() time.Time {
	return GetDayStartFrom(time.Now().UTC())
}

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetWeekStart возвращает начало текущей недели (понедельник 00:00:00) в UTC
func GetWeekStart() time.Time {
	return GetWeekStartFrom(time.Now().UTC())
}

// GetWeekStartFrom возвращает начало недели для указанного времени в UTC.
// Неделя начинается с понедельника (ISO 8601).
func GetWeekStartFrom(t time.Time) time.Time {
	t = GetDayStartFrom(t)
	weekday := int(t.Weekday())
	// time.Sunday == 0, сдвигаем чтобы понедельник был началом
	if weekday == 0 {
		weekday = 7
	}
	return t.AddDate(0, 0, -(weekday - 1))
}

// GetMonthStart возвращает начало текущего месяца (1-е число 00:00:00) в UTC
func GetMonthStart() time.Time {
	return GetMonthStartFrom(time.Now().UTC())
}

// GetMonthStartFrom возвращает начало месяца для указанного времени в UTC
func GetMonthStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MinutesSince возвращает количество полных минут, прошедших между
// двумя моментами времени. Используется для проверки max holding time.
func MinutesSince(from, now time.Time) float64 {
	return now.Sub(from).Minutes()
}
