package utils

import "testing"

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name      string
		symbol    string
		expectErr bool
	}{
		{"valid", "BTCUSDT", false},
		{"valid with digits", "1000PEPEUSDT", false},
		{"empty", "", true},
		{"lowercase", "btcusdt", true},
		{"too short", "B", true},
		{"special chars", "BTC-USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if tt.expectErr && err == nil {
				t.Errorf("expected error for %q, got nil", tt.symbol)
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected error for %q: %v", tt.symbol, err)
			}
		})
	}
}

func TestValidatePrice(t *testing.T) {
	if err := ValidatePrice("entry_price", 0.004609); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePrice("entry_price", 0); err == nil {
		t.Error("expected error for zero price")
	}
	if err := ValidatePrice("stop_loss", -1); err == nil {
		t.Error("expected error for negative price")
	}
}

func TestValidateQuantity(t *testing.T) {
	if err := ValidateQuantity(0.01); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateQuantity(0); err == nil {
		t.Error("expected error for zero quantity")
	}
}

func TestValidateLeverage(t *testing.T) {
	tests := []struct {
		leverage  int
		expectErr bool
	}{
		{1, false},
		{10, false},
		{125, false},
		{0, true},
		{-1, true},
		{126, true},
	}

	for _, tt := range tests {
		err := ValidateLeverage(tt.leverage)
		if tt.expectErr && err == nil {
			t.Errorf("expected error for leverage %d", tt.leverage)
		}
		if !tt.expectErr && err != nil {
			t.Errorf("unexpected error for leverage %d: %v", tt.leverage, err)
		}
	}
}
