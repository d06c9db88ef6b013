package risk

import (
	"math"
	"strings"
	"time"
)

// AccountState is the full per-account risk picture. Created at onboarding,
// updated on every fill and mark-to-market tick, never deleted. Every field
// that influences admission is persisted, so a reload reproduces identical
// gate decisions.
type AccountState struct {
	ID              string  `json:"id"`
	Equity          float64 `json:"equity"`
	PeakEquity      float64 `json:"peak_equity"`
	DailyPnL        float64 `json:"daily_pnl"`
	RollingDrawdown float64 `json:"rolling_drawdown"` // >= 0 always
	OpenRisk        float64 `json:"open_risk"`        // sum of live position VaR

	SymbolRisk    map[string]float64 `json:"symbol_risk"`
	VenueExposure map[string]float64 `json:"venue_exposure"`

	Mode               TradingMode `json:"mode"`
	ComplianceBreaches int         `json:"compliance_breaches"`
	DayTrades          int         `json:"day_trades"`
	HaltedUntil        time.Time   `json:"halted_until"`
	EmergencyMode      bool        `json:"emergency_mode"`

	Track     TrackRecord    `json:"track"`
	Positions []Position     `json:"positions"`
	Pending   []PendingOrder `json:"pending"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccountState creates a fresh PAPER-mode account.
func NewAccountState(id string, equity float64) *AccountState {
	now := time.Now()
	return &AccountState{
		ID:            id,
		Equity:        equity,
		PeakEquity:    equity,
		Mode:          ModePaper,
		SymbolRisk:    make(map[string]float64),
		VenueExposure: make(map[string]float64),
		Track:         TrackRecord{TrackingSince: now},
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (s *AccountState) Clone() AccountState {
	out := *s
	out.SymbolRisk = make(map[string]float64, len(s.SymbolRisk))
	for k, v := range s.SymbolRisk {
		out.SymbolRisk[k] = v
	}
	out.VenueExposure = make(map[string]float64, len(s.VenueExposure))
	for k, v := range s.VenueExposure {
		out.VenueExposure[k] = v
	}
	out.Positions = append([]Position(nil), s.Positions...)
	out.Pending = append([]PendingOrder(nil), s.Pending...)
	return out
}

// Halted reports whether new admissions are halted (daily-loss breach).
func (s *AccountState) Halted(now time.Time) bool {
	return now.Before(s.HaltedUntil)
}

// applyFill folds an execution confirmation into the state. The fill's VaR
// contribution is signed: opening adds risk, closing removes it.
func (s *AccountState) applyFill(f Fill) {
	s.DailyPnL += f.RealizedPnL
	s.Equity += f.RealizedPnL
	if s.Equity > s.PeakEquity {
		s.PeakEquity = s.Equity
	}
	s.refreshDrawdown()

	s.OpenRisk = math.Max(0, s.OpenRisk+f.VaR)
	s.SymbolRisk[f.Symbol] = math.Max(0, s.SymbolRisk[f.Symbol]+f.VaR)
	s.VenueExposure[f.Venue] = math.Max(0, s.VenueExposure[f.Venue]+f.VaR)

	s.upsertPosition(f)
	s.removePending(f.OrderID)
	s.DayTrades++

	s.Track.FillCount++
	if f.EVAtAdmission > 0 {
		s.Track.EVPositiveFills++
	}
	s.Track.RealizedPnL += f.RealizedPnL

	s.UpdatedAt = time.Now()
}

func (s *AccountState) upsertPosition(f Fill) {
	signed := f.FilledQty
	if strings.EqualFold(f.Side, "SELL") {
		signed = -f.FilledQty
	}
	for i := range s.Positions {
		p := &s.Positions[i]
		if p.Symbol == f.Symbol && p.Venue == f.Venue {
			p.Qty += signed
			p.VaR = math.Max(0, p.VaR+f.VaR)
			if math.Abs(p.Qty) < 1e-12 {
				s.Positions = append(s.Positions[:i], s.Positions[i+1:]...)
			}
			return
		}
	}
	s.Positions = append(s.Positions, Position{
		ID:         f.OrderID,
		Symbol:     f.Symbol,
		Venue:      f.Venue,
		Qty:        signed,
		EntryPrice: f.FillPrice,
		VaR:        math.Max(0, f.VaR),
	})
}

func (s *AccountState) removePending(orderID string) {
	for i, p := range s.Pending {
		if p.ID == orderID {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
			return
		}
	}
}

// markToMarket updates equity from a valuation tick.
func (s *AccountState) markToMarket(equity float64) {
	s.Equity = equity
	if equity > s.PeakEquity {
		s.PeakEquity = equity
	}
	s.refreshDrawdown()
	s.UpdatedAt = time.Now()
}

func (s *AccountState) refreshDrawdown() {
	if s.PeakEquity <= 0 {
		s.RollingDrawdown = 0
		return
	}
	s.RollingDrawdown = math.Max(0, (s.PeakEquity-s.Equity)/s.PeakEquity)
}

// dayRollover resets the daily counters (called at EOD).
func (s *AccountState) dayRollover() {
	s.DailyPnL = 0
	s.DayTrades = 0
	s.HaltedUntil = time.Time{}
	s.UpdatedAt = time.Now()
}

// checkInvariants returns an InvariantViolation for states that must never
// occur. Callers treat this as fatal for the account only.
func (s *AccountState) checkInvariants() error {
	if s.Equity < 0 {
		return &InvariantViolation{AccountID: s.ID, Field: "equity", Value: s.Equity}
	}
	if math.IsNaN(s.Equity) || math.IsInf(s.Equity, 0) {
		return &InvariantViolation{AccountID: s.ID, Field: "equity", Value: s.Equity}
	}
	if math.IsNaN(s.RollingDrawdown) || s.RollingDrawdown < 0 {
		return &InvariantViolation{AccountID: s.ID, Field: "rolling_drawdown", Value: s.RollingDrawdown}
	}
	return nil
}
