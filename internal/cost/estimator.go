// Package cost models per-order transaction costs and expected value.
// All rates are decimal fractions of order notional (0.0001 = 1 bps).
package cost

import (
	"math"
	"strings"
)

// Features carries the microstructure snapshot used for cost estimation.
type Features struct {
	SpreadBps      float64 `json:"spread_bps"`     // full quoted spread
	DepthNotional  float64 `json:"depth_notional"` // top-of-book depth, quote units
	Imbalance      float64 `json:"imbalance"`      // -1..1, positive = bid-heavy
	Volatility     float64 `json:"volatility"`     // daily volatility, decimal
	ADV            float64 `json:"adv"`            // average daily volume, quote units
	VenueLatencyMs float64 `json:"venue_latency_ms"`
	FundingRate    float64 `json:"funding_rate"`  // per holding period, decimal
	FXSpreadBps    float64 `json:"fx_spread_bps"` // 0 when no currency conversion
}

// Breakdown itemizes the modeled cost of one order, as fractions of notional.
type Breakdown struct {
	Fees       float64 `json:"fees"`
	HalfSpread float64 `json:"half_spread"`
	Slippage   float64 `json:"slippage"`
	Funding    float64 `json:"funding"`
	Tax        float64 `json:"tax"`
	FX         float64 `json:"fx"`
	Total      float64 `json:"total"`
}

// Estimate is the EV result attached to an order candidate.
type Estimate struct {
	Breakdown    Breakdown `json:"breakdown"`
	EVAfterCosts float64   `json:"ev_after_costs"` // signal edge minus total; may be negative
}

const (
	// Stress multiplier applied to modeled slippage.
	slippageStress = 1.5

	// Size impact when ADV is unknown or zero. Large enough that the EV gate
	// rejects anything but a trivial edge.
	maxSizeImpact = 0.05

	sizeImpactCoeff      = 0.10
	volatilityImpactCoef = 0.10
)

// Estimator computes cost breakdowns and EV after costs. Fee schedules are
// keyed by venue; unknown venues use the taker default.
type Estimator struct {
	FeeBpsByVenue map[string]float64
	DefaultFeeBps float64
}

// NewEstimator returns an estimator with a flat default taker fee.
func NewEstimator() *Estimator {
	return &Estimator{
		FeeBpsByVenue: map[string]float64{},
		DefaultFeeBps: 10,
	}
}

// Estimate models the all-in cost of the order and the edge left after it.
func (e *Estimator) Estimate(side string, size, price float64, venue, jurisdiction string, signalEdge float64, f Features) Estimate {
	notional := size * price
	halfSpread := f.SpreadBps / 2 / 10000

	var b Breakdown
	b.Fees = e.feeFor(venue)
	b.HalfSpread = halfSpread
	b.Slippage = e.slippage(side, notional, halfSpread, f)
	b.Funding = math.Max(0, f.FundingRate)
	b.Tax = taxFor(jurisdiction, side)
	b.FX = f.FXSpreadBps / 10000
	b.Total = b.Fees + b.HalfSpread + b.Slippage + b.Funding + b.Tax + b.FX

	return Estimate{
		Breakdown:    b,
		EVAfterCosts: signalEdge - b.Total,
	}
}

// slippage is a parametric impact model:
// half_spread*0.5 + size_impact(size/ADV) + volatility_impact + latency_impact
// + imbalance_impact, scaled by a conservative stress buffer.
func (e *Estimator) slippage(side string, notional, halfSpread float64, f Features) float64 {
	base := halfSpread * 0.5

	sizeImpact := maxSizeImpact
	if f.ADV > 0 {
		participation := notional / f.ADV
		sizeImpact = math.Min(maxSizeImpact, sizeImpactCoeff*math.Sqrt(participation))
	}

	volImpact := volatilityImpactCoef * f.Volatility

	// Latency exposes the order to price motion for latency/day of a daily vol.
	latencyImpact := 0.0
	if f.VenueLatencyMs > 0 && f.Volatility > 0 {
		latencyImpact = f.Volatility * math.Sqrt(f.VenueLatencyMs/86_400_000)
	}

	// Book imbalance against the order direction widens effective spread.
	adverse := f.Imbalance
	if strings.EqualFold(side, "BUY") {
		adverse = -f.Imbalance
	}
	imbalanceImpact := math.Max(0, adverse) * halfSpread

	return slippageStress * (base + sizeImpact + volImpact + latencyImpact + imbalanceImpact)
}

func (e *Estimator) feeFor(venue string) float64 {
	if bps, ok := e.FeeBpsByVenue[strings.ToLower(venue)]; ok {
		return bps / 10000
	}
	return e.DefaultFeeBps / 10000
}

// taxFor applies approximate transaction taxes by jurisdiction. These are
// deliberately coarse; exact legal treatment is out of scope.
func taxFor(jurisdiction, side string) float64 {
	switch strings.ToUpper(jurisdiction) {
	case "UK", "GB":
		// Stamp duty on purchases only.
		if strings.EqualFold(side, "BUY") {
			return 0.005
		}
		return 0
	case "IN":
		// Securities transaction tax, both sides.
		return 0.001
	case "FR":
		if strings.EqualFold(side, "BUY") {
			return 0.003
		}
		return 0
	default:
		return 0
	}
}
