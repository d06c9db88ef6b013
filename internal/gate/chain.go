package gate

import (
	"fmt"
	"math"
	"time"

	"risk-core/internal/risk"
)

const (
	// EV multiple demanded when the book looks thin.
	poorLiquidityEVRatio       = 3.0
	poorLiquiditySpreadBps     = 30
	poorLiquidityParticipation = 0.0025 // size/ADV

	// MICRO mode hard cap on per-trade VaR, in account currency.
	microVaRCapAbs  = 5.0
	microVaRCapFrac = 0.0002 // 0.02% of equity

	// Minimum sample count before the slippage-model gate binds.
	slippageModelMinSamples = 200

	// Relative tolerance for limit comparisons; keeps exact-boundary orders
	// on the admit side despite float arithmetic.
	limitEps = 1e-9
)

// Input bundles the immutable snapshots one evaluation reads.
type Input struct {
	State     risk.AccountState
	Limits    risk.Limits
	Rules     risk.ComplianceRules
	Candidate *risk.OrderCandidate
	Canary    CanaryStatus
	Now       time.Time
}

// Evaluate runs the gates in fixed order, short-circuiting on the first
// failure. The only writes are the paper/canary side-effect flags on the
// candidate; account state is never mutated here.
func Evaluate(in Input) Result {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	gates := []func(Input) Outcome{
		evGate,
		complianceGate,
		perTradeRiskGate,
		dailyLossGate,
		rollingDrawdownGate,
		symbolConcentrationGate,
		venueConcentrationGate,
		slippageModelGate,
		tradingModeGate,
	}

	res := Result{Admitted: true, Outcomes: make([]Outcome, 0, len(gates))}
	for _, g := range gates {
		out := g(in)
		res.Outcomes = append(res.Outcomes, out)
		if !out.Pass {
			res.Admitted = false
			res.Failed = out.Gate
			res.Reason = out.Reason
			return res
		}
	}
	return res
}

func exceeds(value, limit float64) bool {
	return value > limit+limitEps*math.Max(1, math.Abs(limit))
}

// evGate requires positive EV and a multiple of total costs, raised when
// liquidity looks poor.
func evGate(in Input) Outcome {
	c := in.Candidate
	est := c.Estimate
	if est == nil {
		return Outcome{Gate: KindEV, Pass: false, Reason: "ev gate: no cost estimate"}
	}
	if est.EVAfterCosts <= 0 {
		return Outcome{Gate: KindEV, Pass: false,
			Reason: fmt.Sprintf("ev gate: ev_after_costs %.6f <= 0", est.EVAfterCosts)}
	}

	ratio := in.Limits.MinEVRatio
	poor := c.Features.SpreadBps > poorLiquiditySpreadBps
	if c.Features.ADV > 0 && c.Notional()/c.Features.ADV > poorLiquidityParticipation {
		poor = true
	}
	if c.Features.ADV <= 0 {
		poor = true
	}
	if poor && ratio < poorLiquidityEVRatio {
		ratio = poorLiquidityEVRatio
	}

	required := est.Breakdown.Total * ratio
	if est.EVAfterCosts < required {
		return Outcome{Gate: KindEV, Pass: false,
			Reason: fmt.Sprintf("ev gate: ev %.6f below %.1fx costs %.6f", est.EVAfterCosts, ratio, est.Breakdown.Total)}
	}
	return Outcome{Gate: KindEV, Pass: true}
}

// perTradeRiskGate bounds the candidate's VaR by the per-mode fraction of
// equity.
func perTradeRiskGate(in Input) Outcome {
	limit := in.State.Equity * in.Limits.PerTradeVaR
	v := in.Candidate.PositionVaR()
	if exceeds(v, limit) {
		return Outcome{Gate: KindPerTradeRisk, Pass: false,
			Reason: fmt.Sprintf("per-trade risk gate: position VaR %.2f exceeds limit %.2f", v, limit)}
	}
	return Outcome{Gate: KindPerTradeRisk, Pass: true}
}

// dailyLossGate halts admissions once the day's realized loss hits the cap.
// Existing positions are not touched here.
func dailyLossGate(in Input) Outcome {
	limit := -(in.State.Equity * in.Limits.MaxDailyLoss)
	if in.State.DailyPnL < limit {
		return Outcome{Gate: KindDailyLoss, Pass: false,
			Reason: fmt.Sprintf("daily loss gate: daily pnl %.2f below limit %.2f", in.State.DailyPnL, limit)}
	}
	return Outcome{Gate: KindDailyLoss, Pass: true}
}

func rollingDrawdownGate(in Input) Outcome {
	if exceeds(in.State.RollingDrawdown, in.Limits.RollingDrawdownStop) {
		return Outcome{Gate: KindRollingDrawdown, Pass: false,
			Reason: fmt.Sprintf("rolling drawdown gate: drawdown %.4f exceeds stop %.4f",
				in.State.RollingDrawdown, in.Limits.RollingDrawdownStop)}
	}
	return Outcome{Gate: KindRollingDrawdown, Pass: true}
}

func symbolConcentrationGate(in Input) Outcome {
	existing := in.State.SymbolRisk[in.Candidate.Symbol]
	cap := in.State.Equity * in.Limits.SymbolRiskCap
	if exceeds(existing+in.Candidate.PositionVaR(), cap) {
		return Outcome{Gate: KindSymbolConcentration, Pass: false,
			Reason: fmt.Sprintf("symbol concentration gate: %s risk %.2f + new %.2f exceeds cap %.2f",
				in.Candidate.Symbol, existing, in.Candidate.PositionVaR(), cap)}
	}
	return Outcome{Gate: KindSymbolConcentration, Pass: true}
}

func venueConcentrationGate(in Input) Outcome {
	existing := in.State.VenueExposure[in.Candidate.Venue]
	cap := in.State.Equity * in.Limits.VenueRiskCap
	if exceeds(existing+in.Candidate.PositionVaR(), cap) {
		return Outcome{Gate: KindVenueConcentration, Pass: false,
			Reason: fmt.Sprintf("venue concentration gate: %s exposure %.2f + new %.2f exceeds cap %.2f",
				in.Candidate.Venue, existing, in.Candidate.PositionVaR(), cap)}
	}
	return Outcome{Gate: KindVenueConcentration, Pass: true}
}

// slippageModelGate binds only once enough history exists for the
// (symbol, route) pair.
func slippageModelGate(in Input) Outcome {
	if in.Canary.Samples < slippageModelMinSamples {
		return Outcome{Gate: KindSlippageModel, Pass: true}
	}
	if exceeds(in.Canary.P95, in.Limits.SlippageP95Threshold) {
		return Outcome{Gate: KindSlippageModel, Pass: false,
			Reason: fmt.Sprintf("slippage model gate: realized p95 %.4f exceeds threshold %.4f",
				in.Canary.P95, in.Limits.SlippageP95Threshold)}
	}
	return Outcome{Gate: KindSlippageModel, Pass: true}
}

// tradingModeGate applies mode semantics and sets the executor side-effect
// flags. BLOCKED always fails.
func tradingModeGate(in Input) Outcome {
	c := in.Candidate
	switch in.State.Mode {
	case risk.ModePaper:
		c.Paper = true
		return Outcome{Gate: KindTradingMode, Pass: true, Reason: "paper execution"}

	case risk.ModeMicro:
		cap := math.Min(in.State.Equity*microVaRCapFrac, microVaRCapAbs)
		v := c.PositionVaR()
		if exceeds(v, cap) {
			unit := c.Price * c.Features.Volatility * risk.VaRConfidenceZ
			if unit <= 0 {
				return Outcome{Gate: KindTradingMode, Pass: false,
					Reason: "trading mode gate: micro cap requires priced volatility"}
			}
			c.AdjustedSize = cap / unit
		}
		if !in.Canary.Passed {
			c.CanarySized = true
		}
		return Outcome{Gate: KindTradingMode, Pass: true}

	case risk.ModeFull:
		return Outcome{Gate: KindTradingMode, Pass: true}

	case risk.ModeBlocked:
		return Outcome{Gate: KindTradingMode, Pass: false, Reason: "trading mode gate: account is BLOCKED"}

	default:
		return Outcome{Gate: KindTradingMode, Pass: false,
			Reason: fmt.Sprintf("trading mode gate: unknown mode %q", in.State.Mode)}
	}
}
