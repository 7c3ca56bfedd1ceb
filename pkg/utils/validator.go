package utils

import (
	"fmt"
	"regexp"
)

// validator.go - валидация данных
//
// Назначение:
// Проверка корректности входных данных перед записью в БД
// и перед отправкой на биржу.
//
// Возвращает error с описанием проблемы или nil.

// symbolPattern - формат фьючерсного символа (BTCUSDT, 1000PEPEUSDT)
var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ValidateSymbol проверяет формат торгового символа
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol format: %q", symbol)
	}
	return nil
}

// ValidatePrice проверяет что цена положительная
func ValidatePrice(name string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, price)
	}
	return nil
}

// ValidateQuantity проверяет что объём положительный
func ValidateQuantity(qty float64) error {
	if qty <= 0 {
		return fmt.Errorf("quantity must be positive, got %f", qty)
	}
	return nil
}

// ValidateLeverage проверяет плечо (1..125, лимит Binance futures)
func ValidateLeverage(leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("leverage must be at least 1, got %d", leverage)
	}
	if leverage > 125 {
		return fmt.Errorf("leverage must not exceed 125, got %d", leverage)
	}
	return nil
}
