package cost

import (
	"math"
	"testing"
)

func TestEstimateChargesMaxImpactWithoutADV(t *testing.T) {
	e := NewEstimator()

	f := Features{SpreadBps: 10, Volatility: 0.02}
	est := e.Estimate("BUY", 10, 100, "venueA", "US", 0.01, f)

	// Zero ADV must hit the conservative cap, not a zero size impact.
	floor := slippageStress * maxSizeImpact
	if est.Breakdown.Slippage < floor {
		t.Fatalf("slippage=%v, expected at least the stressed max size impact %v", est.Breakdown.Slippage, floor)
	}
	if est.EVAfterCosts >= 0 {
		t.Fatalf("EVAfterCosts=%v, a 1%% edge cannot survive max impact", est.EVAfterCosts)
	}
}

func TestEstimateEVAfterCosts(t *testing.T) {
	e := NewEstimator()

	f := Features{SpreadBps: 2, ADV: 100_000_000, Volatility: 0.01}
	est := e.Estimate("BUY", 1, 1000, "venueA", "US", 0.02, f)

	if est.EVAfterCosts <= 0 {
		t.Fatalf("EVAfterCosts=%v, a 2%% edge on a liquid book should stay positive", est.EVAfterCosts)
	}
	want := 0.02 - est.Breakdown.Total
	if math.Abs(est.EVAfterCosts-want) > 1e-12 {
		t.Fatalf("EVAfterCosts=%v, want edge minus total = %v", est.EVAfterCosts, want)
	}
}

func TestEstimateBreakdownTotal(t *testing.T) {
	e := NewEstimator()
	f := Features{SpreadBps: 4, ADV: 50_000_000, Volatility: 0.015, FundingRate: 0.0001, FXSpreadBps: 2}
	est := e.Estimate("SELL", 5, 200, "venueB", "IN", 0.03, f)

	b := est.Breakdown
	sum := b.Fees + b.HalfSpread + b.Slippage + b.Funding + b.Tax + b.FX
	if math.Abs(b.Total-sum) > 1e-12 {
		t.Fatalf("Total=%v, sum of components=%v", b.Total, sum)
	}
	if b.Tax != 0.001 {
		t.Fatalf("Tax=%v, IN applies 0.001 both sides", b.Tax)
	}
}

func TestTaxByJurisdiction(t *testing.T) {
	tests := []struct {
		jurisdiction string
		side         string
		want         float64
	}{
		{"UK", "BUY", 0.005},
		{"UK", "SELL", 0},
		{"GB", "BUY", 0.005},
		{"IN", "BUY", 0.001},
		{"IN", "SELL", 0.001},
		{"FR", "BUY", 0.003},
		{"FR", "SELL", 0},
		{"US", "BUY", 0},
		{"", "SELL", 0},
	}
	for _, tt := range tests {
		if got := taxFor(tt.jurisdiction, tt.side); got != tt.want {
			t.Fatalf("taxFor(%q,%q)=%v, want %v", tt.jurisdiction, tt.side, got, tt.want)
		}
	}
}

func TestSlippageImbalanceIsDirectional(t *testing.T) {
	e := NewEstimator()
	// Ask-heavy book (negative imbalance) is adverse for a buyer.
	f := Features{SpreadBps: 10, ADV: 100_000_000, Imbalance: -0.8}

	buy := e.Estimate("BUY", 1, 100, "v", "US", 0.01, f)
	sell := e.Estimate("SELL", 1, 100, "v", "US", 0.01, f)

	if buy.Breakdown.Slippage <= sell.Breakdown.Slippage {
		t.Fatalf("buy slippage %v should exceed sell slippage %v against an ask-heavy book",
			buy.Breakdown.Slippage, sell.Breakdown.Slippage)
	}
}

func TestVenueFeeOverride(t *testing.T) {
	e := NewEstimator()
	e.FeeBpsByVenue["cheapvenue"] = 1

	f := Features{ADV: 100_000_000}
	cheap := e.Estimate("BUY", 1, 100, "CheapVenue", "US", 0.01, f)
	def := e.Estimate("BUY", 1, 100, "other", "US", 0.01, f)

	if cheap.Breakdown.Fees != 0.0001 {
		t.Fatalf("Fees=%v, want 1 bps for configured venue", cheap.Breakdown.Fees)
	}
	if def.Breakdown.Fees != 0.001 {
		t.Fatalf("Fees=%v, want 10 bps default", def.Breakdown.Fees)
	}
}
