package risk

import (
	"time"

	"risk-core/internal/cost"
)

// TradingMode is the capital graduation state of an account. Transitions only
// happen through the mode state machine.
type TradingMode string

const (
	ModePaper   TradingMode = "PAPER"
	ModeMicro   TradingMode = "MICRO"
	ModeFull    TradingMode = "FULL"
	ModeBlocked TradingMode = "BLOCKED"
)

// Valid reports whether m is one of the defined modes.
func (m TradingMode) Valid() bool {
	switch m {
	case ModePaper, ModeMicro, ModeFull, ModeBlocked:
		return true
	}
	return false
}

// Limits is the per-mode risk limit profile. Replaced wholesale on mode
// transition; read as an immutable snapshot per evaluation.
type Limits struct {
	PerTradeVaR          float64 `yaml:"per_trade_var" json:"per_trade_var"`                     // fraction of equity
	MaxDailyLoss         float64 `yaml:"max_daily_loss" json:"max_daily_loss"`                   // fraction of equity
	RollingDrawdownStop  float64 `yaml:"rolling_drawdown_stop" json:"rolling_drawdown_stop"`     // fraction of peak equity
	SymbolRiskCap        float64 `yaml:"symbol_risk_cap" json:"symbol_risk_cap"`                 // fraction of equity
	VenueRiskCap         float64 `yaml:"venue_risk_cap" json:"venue_risk_cap"`                   // fraction of equity
	SlippageP95Threshold float64 `yaml:"slippage_p95_threshold" json:"slippage_p95_threshold"`   // decimal fraction
	MinEVRatio           float64 `yaml:"min_ev_ratio" json:"min_ev_ratio"`                       // EV must exceed costs x ratio
}

// TravelRule carries originator/beneficiary data required by the compliance
// gate for qualifying transfers.
type TravelRule struct {
	Originator  string `json:"originator"`
	Beneficiary string `json:"beneficiary"`
}

// OrderCandidate is a proposed trade flowing through admission. The estimator
// and gate chain fill in the computed fields; nothing here mutates account
// state.
type OrderCandidate struct {
	AccountID    string        `json:"account_id"`
	Symbol       string        `json:"symbol"`
	Side         string        `json:"side"` // BUY or SELL
	Size         float64       `json:"size"`
	Price        float64       `json:"price"`
	Venue        string        `json:"venue"`
	Route        string        `json:"route"`
	Jurisdiction string        `json:"jurisdiction"`
	SignalEdge   float64       `json:"signal_edge"` // decimal fraction of notional
	TokenAgeDays float64       `json:"token_age_days"`
	TravelRule   TravelRule    `json:"travel_rule"`
	Features     cost.Features `json:"features"`

	// Computed during admission.
	Estimate *cost.Estimate `json:"estimate,omitempty"`

	// Side-effect flags for the executor; set by the trading-mode gate.
	Paper        bool    `json:"paper"`
	CanarySized  bool    `json:"canary_sized"`
	AdjustedSize float64 `json:"adjusted_size,omitempty"`
}

// Notional returns size x price.
func (c OrderCandidate) Notional() float64 { return c.Size * c.Price }

// PositionVaR is the 99%-confidence value-at-risk of the candidate.
func (c OrderCandidate) PositionVaR() float64 {
	return c.Size * c.Price * c.Features.Volatility * VaRConfidenceZ
}

// VaRConfidenceZ is the z-score for ~99% one-tailed confidence.
const VaRConfidenceZ = 2.33

// Position is a live position contributing to open risk.
type Position struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Venue      string  `json:"venue"`
	Qty        float64 `json:"qty"`
	EntryPrice float64 `json:"entry_price"`
	VaR        float64 `json:"var"`
}

// PendingOrder is an order submitted but not yet filled; cancelled during
// emergency stop.
type PendingOrder struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Venue  string  `json:"venue"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"`
}

// Fill is an execution confirmation from a venue. Account mutation happens
// only on fills, never at admission time.
type Fill struct {
	OrderID          string    `json:"order_id"`
	AccountID        string    `json:"account_id"`
	Symbol           string    `json:"symbol"`
	Venue            string    `json:"venue"`
	Route            string    `json:"route"`
	Side             string    `json:"side"`
	FilledQty        float64   `json:"filled_qty"`
	FillPrice        float64   `json:"fill_price"`
	RealizedSlippage float64   `json:"realized_slippage"` // decimal fraction
	ModeledSlippage  float64   `json:"modeled_slippage"`  // estimator's figure at admission
	RealizedPnL      float64   `json:"realized_pnl"`
	VaR              float64   `json:"var"`            // VaR the fill adds (or removes, when negative)
	EVAtAdmission    float64   `json:"ev_at_admission"` // modeled EV when admitted
	At               time.Time `json:"at"`
}

// TrackRecord accumulates the measurable graduation criteria for an account.
type TrackRecord struct {
	TrackingSince    time.Time `json:"tracking_since"`
	FillCount        int       `json:"fill_count"`
	EVPositiveFills  int       `json:"ev_positive_fills"`
	CostModelP95Err  float64   `json:"cost_model_p95_err"` // |modeled - realized| p95
	RealizedPnL      float64   `json:"realized_pnl"`
	StressEV         float64   `json:"stress_ev"`
	MatchedWindows   int       `json:"matched_windows"` // consecutive 200-fill windows within model
	ActiveStrategies int       `json:"active_strategies"`
	SubsystemsGreen  bool      `json:"subsystems_green"`
}

// WalkForwardWeeks is how long the account has been accumulating live results.
func (t TrackRecord) WalkForwardWeeks(now time.Time) float64 {
	if t.TrackingSince.IsZero() {
		return 0
	}
	return now.Sub(t.TrackingSince).Hours() / (24 * 7)
}

// EVPositiveRate is the share of fills whose admission-time EV was positive.
func (t TrackRecord) EVPositiveRate() float64 {
	if t.FillCount == 0 {
		return 0
	}
	return float64(t.EVPositiveFills) / float64(t.FillCount)
}
