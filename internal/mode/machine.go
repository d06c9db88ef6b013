// Package mode implements the capital graduation state machine:
// PAPER -> MICRO -> FULL, with BLOCKED reachable from any state and only an
// explicit authorized unlock leading back out of it.
package mode

import (
	"context"
	"fmt"
	"log"
	"time"

	"risk-core/internal/alert"
	"risk-core/internal/events"
	"risk-core/internal/risk"
)

// Store is the persistence the machine needs beyond account state itself.
type Store interface {
	LockAccount(ctx context.Context, accountID, reason string) error
	UnlockAccount(ctx context.Context, accountID, actor string) error
	CancelActiveTargets(ctx context.Context, accountID string) (int64, error)
}

// Criterion is one independently reportable graduation check.
type Criterion struct {
	Name   string `json:"name"`
	Met    bool   `json:"met"`
	Detail string `json:"detail"`
}

// Checklist is the full evaluation of one candidate transition.
type Checklist struct {
	From     risk.TradingMode `json:"from"`
	To       risk.TradingMode `json:"to"`
	Criteria []Criterion      `json:"criteria"`
	AllMet   bool             `json:"all_met"`
}

// FailedCriteria lists the names of unmet criteria.
func (c Checklist) FailedCriteria() []string {
	var out []string
	for _, cr := range c.Criteria {
		if !cr.Met {
			out = append(out, cr.Name)
		}
	}
	return out
}

// Machine evaluates and applies mode transitions. Limits are derived from the
// profile for the account's current mode at every evaluation, so a transition
// swaps the whole limit set implicitly.
type Machine struct {
	Accounts *risk.Manager
	Store    Store
	Alerts   *alert.Dispatcher
	Bus      *events.Bus
}

// New creates a machine.
func New(accounts *risk.Manager, store Store, alerts *alert.Dispatcher, bus *events.Bus) *Machine {
	return &Machine{Accounts: accounts, Store: store, Alerts: alerts, Bus: bus}
}

// EvaluatePaperToMicro checks the five graduation criteria. Every criterion
// reports independently; a single miss names itself.
func EvaluatePaperToMicro(s risk.AccountState, g risk.GraduationRules, now time.Time) Checklist {
	weeks := s.Track.WalkForwardWeeks(now)
	evRate := s.Track.EVPositiveRate()
	cl := Checklist{
		From: risk.ModePaper,
		To:   risk.ModeMicro,
		Criteria: []Criterion{
			{
				Name:   "equity",
				Met:    s.Equity >= g.MinEquity,
				Detail: fmt.Sprintf("equity %.2f, need >= %.2f", s.Equity, g.MinEquity),
			},
			{
				Name:   "walk_forward_weeks",
				Met:    weeks >= g.MinWalkForwardWeeks,
				Detail: fmt.Sprintf("%.1f weeks, need >= %.1f", weeks, g.MinWalkForwardWeeks),
			},
			{
				Name:   "ev_positive_rate",
				Met:    evRate >= g.MinEVPositiveRate,
				Detail: fmt.Sprintf("rate %.3f, need >= %.3f", evRate, g.MinEVPositiveRate),
			},
			{
				Name:   "cost_model_error",
				Met:    s.Track.CostModelP95Err <= g.MaxCostModelP95Err,
				Detail: fmt.Sprintf("p95 error %.3f, need <= %.3f", s.Track.CostModelP95Err, g.MaxCostModelP95Err),
			},
			{
				Name:   "compliance_breaches",
				Met:    s.ComplianceBreaches == 0,
				Detail: fmt.Sprintf("%d breaches, need 0", s.ComplianceBreaches),
			},
		},
	}
	cl.AllMet = allMet(cl.Criteria)
	return cl
}

// EvaluateMicroToFull checks the full-capital criteria.
func EvaluateMicroToFull(s risk.AccountState, g risk.GraduationRules) Checklist {
	cl := Checklist{
		From: risk.ModeMicro,
		To:   risk.ModeFull,
		Criteria: []Criterion{
			{
				Name:   "realized_pnl",
				Met:    s.Track.RealizedPnL >= g.MinRealizedPnL,
				Detail: fmt.Sprintf("pnl %.2f, need >= %.2f", s.Track.RealizedPnL, g.MinRealizedPnL),
			},
			{
				Name:   "stress_ev",
				Met:    s.Track.StressEV >= g.MinStressEV,
				Detail: fmt.Sprintf("stress EV %.3f, need >= %.3f", s.Track.StressEV, g.MinStressEV),
			},
			{
				Name:   "slippage_windows",
				Met:    s.Track.MatchedWindows >= g.MinMatchedWindows,
				Detail: fmt.Sprintf("%d matched windows, need >= %d", s.Track.MatchedWindows, g.MinMatchedWindows),
			},
			{
				Name:   "active_strategies",
				Met:    s.Track.ActiveStrategies >= g.MinActiveStrategies,
				Detail: fmt.Sprintf("%d strategies, need >= %d", s.Track.ActiveStrategies, g.MinActiveStrategies),
			},
			{
				Name:   "subsystems_green",
				Met:    s.Track.SubsystemsGreen,
				Detail: fmt.Sprintf("subsystems green: %v", s.Track.SubsystemsGreen),
			},
		},
	}
	cl.AllMet = allMet(cl.Criteria)
	return cl
}

func allMet(cs []Criterion) bool {
	for _, c := range cs {
		if !c.Met {
			return false
		}
	}
	return true
}

// CheckAndAdvance evaluates the account's next graduation and applies it via
// compare-and-swap. Returns the checklist and whether a transition happened.
func (m *Machine) CheckAndAdvance(ctx context.Context, accountID string) (Checklist, bool, error) {
	s, err := m.Accounts.Snapshot(ctx, accountID)
	if err != nil {
		return Checklist{}, false, err
	}
	g := m.Accounts.Profiles().Graduation

	var cl Checklist
	switch s.Mode {
	case risk.ModePaper:
		cl = EvaluatePaperToMicro(s, g, time.Now())
	case risk.ModeMicro:
		cl = EvaluateMicroToFull(s, g)
	default:
		// FULL has nowhere to graduate; BLOCKED only leaves via unlock.
		return Checklist{From: s.Mode}, false, nil
	}

	if !cl.AllMet {
		return cl, false, nil
	}

	applied, err := m.Accounts.ApplyMode(ctx, accountID, s.Version, cl.To)
	if err != nil || !applied {
		return cl, false, err
	}
	m.announce(accountID, cl.From, cl.To)
	return cl, true, nil
}

// Block forces BLOCKED by explicit operator action, cancelling active targets
// and persisting a lock.
func (m *Machine) Block(ctx context.Context, accountID, reason string) error {
	s, err := m.Accounts.Snapshot(ctx, accountID)
	if err != nil {
		return err
	}
	if s.Mode == risk.ModeBlocked {
		return nil
	}
	applied, err := m.Accounts.ApplyMode(ctx, accountID, s.Version, risk.ModeBlocked)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("block %s: concurrent mode change, retry", accountID)
	}
	if m.Store != nil {
		if err := m.Store.LockAccount(ctx, accountID, reason); err != nil {
			log.Printf("mode: persist lock for %s: %v", accountID, err)
		}
		if _, err := m.Store.CancelActiveTargets(ctx, accountID); err != nil {
			log.Printf("mode: cancel targets for %s: %v", accountID, err)
		}
	}
	m.announce(accountID, s.Mode, risk.ModeBlocked)
	return nil
}

// Unlock is the only path out of BLOCKED, and it is never automatic: actor is
// the authenticated operator performing it. The account re-enters PAPER.
func (m *Machine) Unlock(ctx context.Context, accountID, actor string) error {
	s, err := m.Accounts.Snapshot(ctx, accountID)
	if err != nil {
		return err
	}
	if s.Mode != risk.ModeBlocked {
		return fmt.Errorf("unlock %s: account is %s, not BLOCKED", accountID, s.Mode)
	}

	applied, err := m.Accounts.ApplyMode(ctx, accountID, s.Version, risk.ModePaper)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("unlock %s: concurrent mode change, retry", accountID)
	}

	if err := m.Accounts.WithLock(ctx, accountID, func(st *risk.AccountState) error {
		st.EmergencyMode = false
		st.HaltedUntil = time.Time{}
		return nil
	}); err != nil {
		return err
	}

	if m.Store != nil {
		if err := m.Store.UnlockAccount(ctx, accountID, actor); err != nil {
			log.Printf("mode: record unlock for %s: %v", accountID, err)
		}
	}
	log.Printf("mode: account %s unlocked to PAPER by %s", accountID, actor)
	m.announce(accountID, risk.ModeBlocked, risk.ModePaper)
	return nil
}

func (m *Machine) announce(accountID string, from, to risk.TradingMode) {
	log.Printf("mode: account %s %s -> %s", accountID, from, to)
	if m.Alerts != nil {
		m.Alerts.Notify(alert.Alert{
			Level:     alert.LevelInfo,
			AccountID: accountID,
			Message:   fmt.Sprintf("trading mode %s -> %s", from, to),
		})
	}
	if m.Bus != nil {
		m.Bus.Publish(events.EventModeChanged, map[string]string{
			"account_id": accountID,
			"from":       string(from),
			"to":         string(to),
		})
	}
}
