package utils

import (
	"math"
	"testing"
)

// ============================================================
// PnlPct Tests
// ============================================================

func TestPnlPct(t *testing.T) {
	tests := []struct {
		name       string
		entryPrice float64
		markPrice  float64
		short      bool
		expected   float64
	}{
		{"long profit", 100, 110, false, 10.0},
		{"long loss", 100, 95, false, -5.0},
		{"short profit", 100, 95, true, 5.0},
		{"short loss", 100, 110, true, -10.0},
		{"flat long", 100, 100, false, 0.0},
		{"flat short", 100, 100, true, 0.0},
		{"zero entry", 0, 110, false, 0.0},
		{"negative entry", -1, 110, false, 0.0},
		{"small prices long", 0.004609, 0.0050699, false, 10.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PnlPct(tt.entryPrice, tt.markPrice, tt.short)
			if math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("PnlPct(%f, %f, %v) = %f, want %f",
					tt.entryPrice, tt.markPrice, tt.short, got, tt.expected)
			}
		})
	}
}

// Убыток всегда отрицателен, для обоих направлений
func TestPnlPctLossAlwaysNegative(t *testing.T) {
	// long в минусе
	if pnl := PnlPct(100, 90, false); pnl >= 0 {
		t.Errorf("long loss must be negative, got %f", pnl)
	}
	// short в минусе
	if pnl := PnlPct(100, 110, true); pnl >= 0 {
		t.Errorf("short loss must be negative, got %f", pnl)
	}
}

// ============================================================
// LiquidationPrice Tests
// ============================================================

func TestLiquidationPrice(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		leverage int
		short    bool
		expected float64
	}{
		{"long 10x", 100, 10, false, 90.0},
		{"short 10x", 100, 10, true, 110.0},
		{"long 1x", 100, 1, false, 0.0},
		{"long 20x", 50000, 20, false, 47500.0},
		{"zero leverage treated as 1x", 100, 0, false, 0.0},
		{"negative leverage treated as 1x", 100, -5, true, 200.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LiquidationPrice(tt.entry, tt.leverage, tt.short)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("LiquidationPrice(%f, %d, %v) = %f, want %f",
					tt.entry, tt.leverage, tt.short, got, tt.expected)
			}
		})
	}
}

func TestDistanceToLiquidationPct(t *testing.T) {
	// entry=100, lev=10, long → liq=90
	// mark=90.5 → дистанция (90.5-90)/100 = 0.5%
	got := DistanceToLiquidationPct(100, 90.5, 10, false)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %f", got)
	}

	// short: entry=100, lev=10 → liq=110; mark=109 → 1%
	got = DistanceToLiquidationPct(100, 109, 10, true)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("expected 1.0, got %f", got)
	}

	// mark пересёк ликвидацию → отрицательная дистанция
	got = DistanceToLiquidationPct(100, 89, 10, false)
	if got >= 0 {
		t.Errorf("expected negative distance, got %f", got)
	}
}

// ============================================================
// RoundToLotSize Tests
// ============================================================

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"basic rounding", 0.123456, 0.001, 0.123},
		{"round down", 1.999, 0.01, 1.99},
		{"whole lot", 100.5, 1.0, 100.0},
		{"zero lot size", 0.12345, 0, 0.12345},
		{"negative lot size", 0.12345, -1, 0.12345},
		{"exact multiple", 0.5, 0.1, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundToLotSize(tt.value, tt.lotSize)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("RoundToLotSize(%f, %f) = %f, want %f",
					tt.value, tt.lotSize, got, tt.expected)
			}
		})
	}
}
