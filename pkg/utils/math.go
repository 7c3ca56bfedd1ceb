package utils

import (
	"math"
)

// math.go - математические утилиты для защиты позиций
//
// Назначение:
// Вспомогательные функции для расчёта PNL, цены ликвидации и дистанции
// до неё. Все функции являются чистыми (pure functions) без побочных
// эффектов.
//
// Функции:
// - PnlPct: процентный PNL позиции с учётом направления
// - LiquidationPrice: расчётная цена принудительной ликвидации
// - DistanceToLiquidationPct: дистанция от mark price до ликвидации
// - RoundToLotSize: округление объёма до lot size биржи

// PnlPct возвращает нереализованный PNL позиции в процентах.
//
// Знаковая конвенция: убыток ВСЕГДА отрицательный, независимо от
// направления позиции (long/short).
//
// Параметры:
//   - entryPrice: цена входа
//   - markPrice: текущая mark price
//   - short: true для короткой позиции
//
// Примеры:
//   - PnlPct(100, 110, false) = +10.0  (long, цена выросла)
//   - PnlPct(100, 110, true)  = -10.0  (short, цена выросла)
//   - PnlPct(100, 95, true)   = +5.0   (short, цена упала)
func PnlPct(entryPrice, markPrice float64, short bool) float64 {
	if entryPrice <= 0 {
		return 0
	}
	pct := (markPrice - entryPrice) / entryPrice * 100
	if short {
		return -pct
	}
	return pct
}

// LiquidationPrice возвращает расчётную цену ликвидации позиции.
//
// Упрощённая модель изолированной маржи без учёта maintenance margin:
//   - long:  entry * (1 - 1/leverage)
//   - short: entry * (1 + 1/leverage)
//
// Пример: entry=100, leverage=10, long → 90.0
func LiquidationPrice(entryPrice float64, leverage int, short bool) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	step := entryPrice / float64(leverage)
	if short {
		return entryPrice + step
	}
	return entryPrice - step
}

// DistanceToLiquidationPct возвращает дистанцию от mark price до цены
// ликвидации, выраженную в процентах от цены входа.
//
// Если mark price пересекла цену ликвидации, возвращается отрицательное
// значение (позиция фактически уже должна быть ликвидирована биржей).
func DistanceToLiquidationPct(entryPrice, markPrice float64, leverage int, short bool) float64 {
	if entryPrice <= 0 {
		return 0
	}
	liq := LiquidationPrice(entryPrice, leverage, short)
	dist := markPrice - liq
	if short {
		dist = liq - markPrice
	}
	return dist / entryPrice * 100
}

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Используется для округления объёма закрывающего ордера до минимального
// шага биржи. Округление вниз гарантирует, что мы не закроем больше,
// чем открыто.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}
