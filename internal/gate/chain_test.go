package gate

import (
	"math"
	"testing"
	"time"

	"risk-core/internal/cost"
	"risk-core/internal/risk"
)

// testState returns a healthy FULL-mode account.
func testState(mode risk.TradingMode) risk.AccountState {
	return risk.AccountState{
		ID:            "acct1",
		Equity:        50_000,
		PeakEquity:    50_000,
		Mode:          mode,
		SymbolRisk:    map[string]float64{},
		VenueExposure: map[string]float64{},
	}
}

// candidateWithVaR builds a candidate whose 99% VaR is the given amount.
func candidateWithVaR(v float64) *risk.OrderCandidate {
	vol := 0.01
	price := 100.0
	size := v / (price * vol * risk.VaRConfidenceZ)
	return &risk.OrderCandidate{
		AccountID:    "acct1",
		Symbol:       "BTCUSDT",
		Side:         "BUY",
		Size:         size,
		Price:        price,
		Venue:        "venueA",
		Route:        "venueA",
		Jurisdiction: "US",
		TokenAgeDays: 365,
		TravelRule:   risk.TravelRule{Originator: "alice", Beneficiary: "bob"},
		Features:     cost.Features{SpreadBps: 2, ADV: 1e9, Volatility: vol},
		Estimate: &cost.Estimate{
			Breakdown:    cost.Breakdown{Total: 0.001},
			EVAfterCosts: 0.01,
		},
	}
}

func testInput(mode risk.TradingMode, c *risk.OrderCandidate) Input {
	p := risk.DefaultProfiles()
	return Input{
		State:     testState(mode),
		Limits:    p.For(mode),
		Rules:     p.Compliance,
		Candidate: c,
		Canary:    CanaryStatus{Passed: true, P95: 0.001, Samples: 500},
		Now:       time.Now(),
	}
}

func TestAdmitsCleanOrder(t *testing.T) {
	res := Evaluate(testInput(risk.ModeFull, candidateWithVaR(10)))
	if !res.Admitted {
		t.Fatalf("clean order rejected: %s", res.Reason)
	}
	if len(res.Outcomes) != 9 {
		t.Fatalf("outcomes=%d, every gate should report on an admit", len(res.Outcomes))
	}
	for _, o := range res.Outcomes {
		if !o.Pass {
			t.Fatalf("gate %s failed on an admitted order", o.Gate)
		}
	}
}

// The per-trade limit is 0.1% of a $50k account: exactly $50 of VaR must
// admit, $51 must not.
func TestPerTradeVaRBoundary(t *testing.T) {
	res := Evaluate(testInput(risk.ModeFull, candidateWithVaR(50)))
	if !res.Admitted {
		t.Fatalf("order at exactly the VaR limit rejected: %s", res.Reason)
	}

	res = Evaluate(testInput(risk.ModeFull, candidateWithVaR(51)))
	if res.Admitted {
		t.Fatal("order over the VaR limit admitted")
	}
	if res.Failed != KindPerTradeRisk {
		t.Fatalf("failed gate=%s, want %s", res.Failed, KindPerTradeRisk)
	}
}

func TestEVGateRejectsNonPositive(t *testing.T) {
	c := candidateWithVaR(10)
	c.Estimate.EVAfterCosts = -0.001
	res := Evaluate(testInput(risk.ModeFull, c))
	if res.Admitted || res.Failed != KindEV {
		t.Fatalf("admitted=%v failed=%s, want EV rejection", res.Admitted, res.Failed)
	}

	c = candidateWithVaR(10)
	c.Estimate = nil
	res = Evaluate(testInput(risk.ModeFull, c))
	if res.Admitted || res.Failed != KindEV {
		t.Fatalf("candidate without estimate must fail the EV gate, got failed=%s", res.Failed)
	}
}

func TestEVGateShortCircuits(t *testing.T) {
	c := candidateWithVaR(10)
	c.Estimate.EVAfterCosts = -1
	res := Evaluate(testInput(risk.ModeBlocked, c))
	if len(res.Outcomes) != 1 {
		t.Fatalf("outcomes=%d, evaluation must stop at the first failure", len(res.Outcomes))
	}
	if res.Failed != KindEV {
		t.Fatalf("failed=%s, EV runs before the mode gate", res.Failed)
	}
}

func TestPoorLiquidityRaisesEVMultiple(t *testing.T) {
	c := candidateWithVaR(10)
	c.Features.ADV = 0 // unknown liquidity counts as poor
	c.Estimate.Breakdown.Total = 0.001
	c.Estimate.EVAfterCosts = 0.0025 // clears 2x, not 3x

	res := Evaluate(testInput(risk.ModeFull, c))
	if res.Admitted || res.Failed != KindEV {
		t.Fatalf("poor liquidity must demand 3x costs, got admitted=%v failed=%s", res.Admitted, res.Failed)
	}

	c.Estimate.EVAfterCosts = 0.0031
	res = Evaluate(testInput(risk.ModeFull, c))
	if !res.Admitted {
		t.Fatalf("3x costs cleared but rejected: %s", res.Reason)
	}
}

func TestDailyLossGate(t *testing.T) {
	in := testInput(risk.ModeFull, candidateWithVaR(10))
	in.State.DailyPnL = -499 // limit is 1% of 50k
	if res := Evaluate(in); !res.Admitted {
		t.Fatalf("under the daily loss cap but rejected: %s", res.Reason)
	}

	in.State.DailyPnL = -501
	res := Evaluate(in)
	if res.Admitted || res.Failed != KindDailyLoss {
		t.Fatalf("admitted=%v failed=%s, want daily loss rejection", res.Admitted, res.Failed)
	}
}

func TestRollingDrawdownGate(t *testing.T) {
	in := testInput(risk.ModeFull, candidateWithVaR(10))
	in.State.RollingDrawdown = 0.013 // stop is 1.25%
	res := Evaluate(in)
	if res.Admitted || res.Failed != KindRollingDrawdown {
		t.Fatalf("admitted=%v failed=%s, want drawdown rejection", res.Admitted, res.Failed)
	}
}

func TestSymbolConcentrationGate(t *testing.T) {
	in := testInput(risk.ModeFull, candidateWithVaR(50))
	in.State.SymbolRisk["BTCUSDT"] = 990 // cap is 2% of 50k = 1000
	res := Evaluate(in)
	if res.Admitted || res.Failed != KindSymbolConcentration {
		t.Fatalf("admitted=%v failed=%s, want symbol concentration rejection", res.Admitted, res.Failed)
	}

	// Risk parked in another symbol does not count against this one.
	in = testInput(risk.ModeFull, candidateWithVaR(50))
	in.State.SymbolRisk["ETHUSDT"] = 990
	if res := Evaluate(in); !res.Admitted {
		t.Fatalf("unrelated symbol risk caused rejection: %s", res.Reason)
	}
}

func TestVenueConcentrationGate(t *testing.T) {
	in := testInput(risk.ModeFull, candidateWithVaR(50))
	in.State.VenueExposure["venueA"] = 2480 // cap is 5% of 50k = 2500
	res := Evaluate(in)
	if res.Admitted || res.Failed != KindVenueConcentration {
		t.Fatalf("admitted=%v failed=%s, want venue concentration rejection", res.Admitted, res.Failed)
	}
}

func TestSlippageModelGateNeedsSamples(t *testing.T) {
	in := testInput(risk.ModeFull, candidateWithVaR(10))
	in.Canary = CanaryStatus{Passed: true, P95: 0.5, Samples: 199}
	if res := Evaluate(in); !res.Admitted {
		t.Fatalf("slippage gate bound with insufficient samples: %s", res.Reason)
	}

	in.Canary = CanaryStatus{Passed: true, P95: 0.021, Samples: 200}
	res := Evaluate(in)
	if res.Admitted || res.Failed != KindSlippageModel {
		t.Fatalf("admitted=%v failed=%s, want slippage model rejection", res.Admitted, res.Failed)
	}

	in.Canary = CanaryStatus{Passed: true, P95: 0.02, Samples: 200}
	if res := Evaluate(in); !res.Admitted {
		t.Fatalf("p95 exactly at threshold must admit: %s", res.Reason)
	}
}

func TestPaperModeFlagsCandidate(t *testing.T) {
	c := candidateWithVaR(10)
	res := Evaluate(testInput(risk.ModePaper, c))
	if !res.Admitted {
		t.Fatalf("paper order rejected: %s", res.Reason)
	}
	if !c.Paper {
		t.Fatal("paper flag not set on the candidate")
	}
}

func TestBlockedModeAlwaysRejects(t *testing.T) {
	res := Evaluate(testInput(risk.ModeBlocked, candidateWithVaR(1)))
	if res.Admitted || res.Failed != KindTradingMode {
		t.Fatalf("admitted=%v failed=%s, BLOCKED must reject everything", res.Admitted, res.Failed)
	}
}

func TestMicroModeCapsSize(t *testing.T) {
	c := candidateWithVaR(8) // inside the 0.02% per-trade limit ($10), over the $5 cap
	in := testInput(risk.ModeMicro, c)
	in.Canary = CanaryStatus{Passed: false}

	res := Evaluate(in)
	if !res.Admitted {
		t.Fatalf("micro order rejected: %s", res.Reason)
	}
	if c.AdjustedSize <= 0 || c.AdjustedSize >= c.Size {
		t.Fatalf("AdjustedSize=%v, want a reduction below %v", c.AdjustedSize, c.Size)
	}
	adjVaR := c.AdjustedSize * c.Price * c.Features.Volatility * risk.VaRConfidenceZ
	if math.Abs(adjVaR-5) > 1e-9 {
		t.Fatalf("adjusted VaR=%v, want the $5 micro cap", adjVaR)
	}
	if !c.CanarySized {
		t.Fatal("unpassed canary pair must mark the order canary-sized")
	}
}

func TestMicroModeSkipsCanarySizingWhenPassed(t *testing.T) {
	c := candidateWithVaR(2)
	in := testInput(risk.ModeMicro, c)
	in.Canary = CanaryStatus{Passed: true, P95: 0.001, Samples: 500}

	res := Evaluate(in)
	if !res.Admitted {
		t.Fatalf("micro order rejected: %s", res.Reason)
	}
	if c.CanarySized {
		t.Fatal("passed canary pair should not be canary-sized")
	}
	if c.AdjustedSize != 0 {
		t.Fatalf("AdjustedSize=%v, VaR under the cap needs no adjustment", c.AdjustedSize)
	}
}
