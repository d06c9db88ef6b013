// Package admission is the synchronous front door for order flow. Every
// candidate passes validation, cost estimation and the gate chain before an
// executor is allowed to see it; fills come back through the same package so
// account state, canary buckets and the cost-model track record stay in step.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"risk-core/internal/canary"
	"risk-core/internal/cost"
	"risk-core/internal/emergency"
	"risk-core/internal/events"
	"risk-core/internal/gate"
	"risk-core/internal/monitor"
	"risk-core/internal/risk"
	"risk-core/pkg/db"
)

// modelWindowSize is the fill count per cost-model comparison window.
const modelWindowSize = 200

// ValidationError reports a malformed candidate rejected before any gate ran.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid candidate: %s %s", e.Field, e.Msg)
}

// Result is the admission verdict returned to callers. Rejections carry the
// failing gate and its reason; admissions carry the order id registered as
// pending plus the candidate with its computed fields filled in.
type Result struct {
	Admitted      bool                 `json:"admitted"`
	OrderID       string               `json:"order_id,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	FailedGate    gate.Kind            `json:"failed_gate,omitempty"`
	Outcomes      []gate.Outcome       `json:"outcomes,omitempty"`
	AdjustedOrder *risk.OrderCandidate `json:"adjusted_order,omitempty"`
}

// CanaryStore persists probation buckets so restarts keep probation progress.
type CanaryStore interface {
	SaveCanary(ctx context.Context, c db.CanarySeed) error
}

// Engine wires the admission path together.
type Engine struct {
	Accounts  *risk.Manager
	Estimator *cost.Estimator
	Canary    *canary.Tracker
	Stop      *emergency.Coordinator
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Store     CanaryStore

	modelErrs *modelErrTracker
}

// New builds an engine. Stop, Bus, Metrics and Store are optional; a nil
// value disables the corresponding side effect.
func New(accounts *risk.Manager, est *cost.Estimator, tracker *canary.Tracker) *Engine {
	return &Engine{
		Accounts:  accounts,
		Estimator: est,
		Canary:    tracker,
		modelErrs: newModelErrTracker(),
	}
}

// Evaluate runs one candidate through the full admission path. It never
// mutates account state; the only writes are the computed fields on the
// candidate copy it returns. A store read failure rejects fail-closed.
func (e *Engine) Evaluate(ctx context.Context, c risk.OrderCandidate) Result {
	if err := validate(&c); err != nil {
		return e.reject(c, gate.KindValidation, err.Error(), nil)
	}

	st, err := e.Accounts.Snapshot(ctx, c.AccountID)
	if err != nil {
		if errors.Is(err, risk.ErrAccountNotFound) {
			return e.reject(c, gate.KindValidation, fmt.Sprintf("unknown account %q", c.AccountID), nil)
		}
		// Cannot see current risk state: stand down rather than guess.
		log.Printf("admission: account %s snapshot failed, rejecting fail-closed: %v", c.AccountID, err)
		return e.reject(c, gate.KindState, "account state unavailable", nil)
	}

	now := time.Now()
	if st.Halted(now) {
		return e.reject(c, gate.KindHalt,
			fmt.Sprintf("trading halted until %s", st.HaltedUntil.UTC().Format(time.RFC3339)), nil)
	}

	est := e.Estimator.Estimate(c.Side, c.Size, c.Price, c.Venue, c.Jurisdiction, c.SignalEdge, c.Features)
	c.Estimate = &est

	key := canary.Key{Symbol: c.Symbol, Route: c.Route}
	p95, samples := e.Canary.SlippageP95(key)
	status := gate.CanaryStatus{Passed: e.Canary.Passed(key), P95: p95, Samples: samples}

	profiles := e.Accounts.Profiles()
	res := gate.Evaluate(gate.Input{
		State:     st,
		Limits:    profiles.For(st.Mode),
		Rules:     profiles.Compliance,
		Candidate: &c,
		Canary:    status,
		Now:       now,
	})
	if !res.Admitted {
		if res.Failed == gate.KindCompliance {
			e.Accounts.IncrementComplianceBreach(ctx, c.AccountID)
		}
		return e.reject(c, res.Failed, res.Reason, res.Outcomes)
	}

	orderID := uuid.NewString()
	if !c.Paper {
		size := c.Size
		if c.AdjustedSize > 0 {
			size = c.AdjustedSize
		}
		pending := risk.PendingOrder{
			ID:     orderID,
			Symbol: c.Symbol,
			Venue:  c.Venue,
			Side:   c.Side,
			Qty:    size,
			Price:  c.Price,
		}
		if err := e.Accounts.AddPending(ctx, c.AccountID, pending); err != nil {
			log.Printf("admission: account %s pending register failed, rejecting fail-closed: %v", c.AccountID, err)
			return e.reject(c, gate.KindState, "account state unavailable", res.Outcomes)
		}
	}

	if e.Metrics != nil {
		e.Metrics.Admissions.WithLabelValues(c.AccountID, string(st.Mode)).Inc()
	}
	out := Result{Admitted: true, OrderID: orderID, Outcomes: res.Outcomes, AdjustedOrder: &c}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderAdmitted, out)
	}
	return out
}

func (e *Engine) reject(c risk.OrderCandidate, failed gate.Kind, reason string, outcomes []gate.Outcome) Result {
	if e.Metrics != nil {
		e.Metrics.Rejections.WithLabelValues(c.AccountID, string(failed)).Inc()
	}
	out := Result{
		Admitted:      false,
		Reason:        reason,
		FailedGate:    failed,
		Outcomes:      outcomes,
		AdjustedOrder: &c,
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderRejected, out)
	}
	return out
}

// RecordFill applies an execution confirmation: account state first, then the
// canary bucket and the cost-model track record. An invariant violation in
// the resulting state triggers the emergency stop for the account.
func (e *Engine) RecordFill(ctx context.Context, f risk.Fill) (risk.AccountState, error) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	st, err := e.Accounts.RecordFill(ctx, f)
	if err != nil {
		var inv *risk.InvariantViolation
		if errors.As(err, &inv) && e.Stop != nil {
			log.Printf("admission: fill on account %s violated %s, triggering emergency stop", f.AccountID, inv.Field)
			e.Stop.Trigger(ctx, f.AccountID, fmt.Sprintf("invariant violation: %s", inv.Field))
		}
		return st, err
	}

	key := canary.Key{Symbol: f.Symbol, Route: f.Route}
	e.Canary.RecordFill(key, f.RealizedSlippage)
	e.persistCanary(ctx, key)
	e.updateModelTrack(ctx, f)

	if e.Bus != nil {
		e.Bus.Publish(events.EventOrderFilled, f)
	}
	return st, nil
}

func (e *Engine) persistCanary(ctx context.Context, key canary.Key) {
	if e.Store == nil {
		return
	}
	fills, samples, passed, ok := e.Canary.Export(key)
	if !ok {
		return
	}
	seed := db.CanarySeed{
		Symbol:    key.Symbol,
		Route:     key.Route,
		FillCount: fills,
		Samples:   samples,
		Passed:    passed,
	}
	if err := e.Store.SaveCanary(ctx, seed); err != nil {
		log.Printf("admission: canary persist %s/%s failed: %v", key.Symbol, key.Route, err)
	}
}

// updateModelTrack compares modeled against realized slippage in fixed-size
// windows. A window whose p95 error stays inside the graduation tolerance
// extends the matched streak; a miss resets it.
func (e *Engine) updateModelTrack(ctx context.Context, f risk.Fill) {
	tol := e.Accounts.Profiles().Graduation.WindowMatchTolerance
	full, errP95 := e.modelErrs.add(f.AccountID, absDiff(f.ModeledSlippage, f.RealizedSlippage))

	err := e.Accounts.WithLock(ctx, f.AccountID, func(s *risk.AccountState) error {
		s.Track.CostModelP95Err = errP95
		if full {
			if errP95 <= tol {
				s.Track.MatchedWindows++
			} else {
				s.Track.MatchedWindows = 0
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("admission: track update for account %s failed: %v", f.AccountID, err)
	}
}

func absDiff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

func validate(c *risk.OrderCandidate) error {
	switch {
	case c.AccountID == "":
		return &ValidationError{Field: "account_id", Msg: "required"}
	case c.Symbol == "":
		return &ValidationError{Field: "symbol", Msg: "required"}
	case c.Side != "BUY" && c.Side != "SELL":
		return &ValidationError{Field: "side", Msg: "must be BUY or SELL"}
	case c.Size <= 0:
		return &ValidationError{Field: "size", Msg: "must be positive"}
	case c.Price <= 0:
		return &ValidationError{Field: "price", Msg: "must be positive"}
	case c.Venue == "":
		return &ValidationError{Field: "venue", Msg: "required"}
	}
	if c.Route == "" {
		c.Route = c.Venue
	}
	return nil
}
