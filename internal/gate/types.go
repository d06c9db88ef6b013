// Package gate implements the ordered risk admission chain. Evaluation is a
// pure function of immutable snapshots; rejections are data, never errors.
package gate

// Kind is the closed set of admission gates, in evaluation order.
type Kind string

const (
	KindEV                  Kind = "ev"
	KindCompliance          Kind = "compliance"
	KindPerTradeRisk        Kind = "per_trade_risk"
	KindDailyLoss           Kind = "daily_loss"
	KindRollingDrawdown     Kind = "rolling_drawdown"
	KindSymbolConcentration Kind = "symbol_concentration"
	KindVenueConcentration  Kind = "venue_concentration"
	KindSlippageModel       Kind = "slippage_model"
	KindTradingMode         Kind = "trading_mode"
)

// Pre-chain rejection sources. These never appear in chain outcomes; the
// admission layer uses them when a candidate is turned away before any gate
// runs.
const (
	KindValidation Kind = "validation"
	KindState      Kind = "state"
	KindHalt       Kind = "halt"
)

// Outcome is one gate's verdict.
type Outcome struct {
	Gate   Kind   `json:"gate"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// Result is the chain verdict: the ordered outcomes up to and including the
// first failure, plus the overall admit decision.
type Result struct {
	Admitted bool      `json:"admitted"`
	Reason   string    `json:"reason,omitempty"`
	Failed   Kind      `json:"failed_gate,omitempty"`
	Outcomes []Outcome `json:"outcomes"`
}

// CanaryStatus is the probation snapshot the chain evaluates against.
type CanaryStatus struct {
	Passed  bool    `json:"passed"`
	P95     float64 `json:"p95"`
	Samples int     `json:"samples"`
}
