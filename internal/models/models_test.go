package models

import (
	"testing"
	"time"
)

func TestPositionIsOpen(t *testing.T) {
	p := &Position{TradeID: 1}
	if !p.IsOpen() {
		t.Error("position without timestamp_saida must be open")
	}

	now := time.Now()
	p.ClosedAt = &now
	if p.IsOpen() {
		t.Error("position with timestamp_saida must be closed")
	}
}

func TestPositionIsShort(t *testing.T) {
	long := &Position{Direction: DirectionLong}
	if long.IsShort() {
		t.Error("LONG must not be short")
	}

	short := &Position{Direction: DirectionShort}
	if !short.IsShort() {
		t.Error("SHORT must be short")
	}
}

func TestValidExitReason(t *testing.T) {
	valid := []string{
		ExitReasonStopLoss,
		ExitReasonTakeProfit,
		ExitReasonLiquidationGuard,
		ExitReasonTimeout,
		ExitReasonManual,
	}
	for _, r := range valid {
		if !ValidExitReason(r) {
			t.Errorf("%s must be valid", r)
		}
	}

	invalid := []string{"", "NONE", "stop_loss", "LIQUIDATED"}
	for _, r := range invalid {
		if ValidExitReason(r) {
			t.Errorf("%q must be invalid", r)
		}
	}
}
