// Package emergency implements the cascading stop protocol: flatten, cancel,
// lock, record, notify. Every step is best-effort; a failing step is logged
// and the sequence continues.
package emergency

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"risk-core/internal/alert"
	"risk-core/internal/events"
	"risk-core/internal/risk"
	"risk-core/internal/venue"
)

// Store is the persistence the coordinator needs: the durable lock, the
// append-only event log, and target cancellation on BLOCKED.
type Store interface {
	AppendEmergencyEvent(ctx context.Context, e risk.EmergencyEvent) error
	LockAccount(ctx context.Context, accountID, reason string) error
	CancelActiveTargets(ctx context.Context, accountID string) (int64, error)
}

// Outcome summarizes one coordinator run. The coordinator never returns an
// error; partial failures are itemized here.
type Outcome struct {
	AccountID         string              `json:"account_id"`
	Trigger           string              `json:"trigger"`
	AlreadyInProgress bool                `json:"already_in_progress"`
	AlreadyStopped    bool                `json:"already_stopped"`
	Event             risk.EmergencyEvent `json:"event"`
	StepErrors        []string            `json:"step_errors,omitempty"`
}

// Coordinator executes emergency stops. One run per account at a time; a
// second concurrent trigger returns immediately with AlreadyInProgress and no
// duplicate event or lock.
type Coordinator struct {
	Accounts *risk.Manager
	Venue    venue.Venue
	Store    Store
	Alerts   *alert.Dispatcher
	Bus      *events.Bus

	// CallTimeout bounds each outbound venue call. A slow venue fails that
	// step and the sequence moves on.
	CallTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a coordinator with the default 5s per-call timeout.
func New(accounts *risk.Manager, v venue.Venue, store Store, alerts *alert.Dispatcher, bus *events.Bus) *Coordinator {
	return &Coordinator{
		Accounts:    accounts,
		Venue:       v,
		Store:       store,
		Alerts:      alerts,
		Bus:         bus,
		CallTimeout: 5 * time.Second,
		inflight:    make(map[string]bool),
	}
}

func (c *Coordinator) begin(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[accountID] {
		return false
	}
	c.inflight[accountID] = true
	return true
}

func (c *Coordinator) finish(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, accountID)
}

// Trigger runs the full stop sequence for the account. It holds the account
// lock for the whole duration so no order can be admitted mid-flatten. The
// admission block (BLOCKED mode) stays until an explicit authorized unlock.
func (c *Coordinator) Trigger(ctx context.Context, accountID, reason string) Outcome {
	out := Outcome{AccountID: accountID, Trigger: reason}

	if !c.begin(accountID) {
		out.AlreadyInProgress = true
		return out
	}
	defer c.finish(accountID)

	err := c.Accounts.WithLock(ctx, accountID, func(s *risk.AccountState) error {
		if s.EmergencyMode && s.Mode == risk.ModeBlocked {
			out.AlreadyStopped = true
			return nil
		}
		c.run(ctx, s, &out)
		return nil
	})
	if err != nil {
		// Account lookup failed; nothing to flatten but record the attempt.
		out.StepErrors = append(out.StepErrors, fmt.Sprintf("acquire account: %v", err))
		log.Printf("emergency: trigger %s: %v", accountID, err)
	}
	return out
}

// run executes the sequence with the account lock held.
func (c *Coordinator) run(ctx context.Context, s *risk.AccountState, out *Outcome) {
	// 1. Block new admissions immediately.
	s.EmergencyMode = true
	s.Mode = risk.ModeBlocked
	s.Version++
	log.Printf("emergency: account %s entering emergency stop: %s", s.ID, out.Trigger)

	ev := risk.EmergencyEvent{
		ID:        uuid.NewString(),
		AccountID: s.ID,
		Trigger:   out.Trigger,
		At:        time.Now(),
	}

	// 2. Market-close every open position; individual failures do not stop
	// the sweep.
	remaining := s.Positions[:0]
	for _, p := range s.Positions {
		res, err := c.closeWithTimeout(ctx, s.ID, p)
		if err != nil || !res.Closed {
			ev.PositionsFailed++
			out.StepErrors = append(out.StepErrors, fmt.Sprintf("close %s: %v", p.ID, err))
			remaining = append(remaining, p)
			continue
		}
		ev.PositionsClosed++
		// 4. Loss aggregates from successfully closed positions only.
		ev.TotalLoss += res.RealizedLoss
	}
	s.Positions = append([]risk.Position(nil), remaining...)

	// 3. Cancel every pending order.
	pendingLeft := s.Pending[:0]
	for _, o := range s.Pending {
		res, err := c.cancelWithTimeout(ctx, s.ID, o)
		if err != nil || !res.Cancelled {
			ev.OrdersFailed++
			out.StepErrors = append(out.StepErrors, fmt.Sprintf("cancel %s: %v", o.ID, err))
			pendingLeft = append(pendingLeft, o)
			continue
		}
		ev.OrdersCancelled++
	}
	s.Pending = append([]risk.PendingOrder(nil), pendingLeft...)

	// Exposure now covers only what failed to close.
	s.OpenRisk = 0
	s.SymbolRisk = make(map[string]float64)
	s.VenueExposure = make(map[string]float64)
	for _, p := range s.Positions {
		s.OpenRisk += p.VaR
		s.SymbolRisk[p.Symbol] += p.VaR
		s.VenueExposure[p.Venue] += p.VaR
	}

	// 5. Persist the durable lock.
	if c.Store != nil {
		if err := c.Store.LockAccount(ctx, s.ID, "emergency_stop"); err != nil {
			out.StepErrors = append(out.StepErrors, fmt.Sprintf("lock: %v", err))
		} else {
			ev.AccountLocked = true
		}

		// BLOCKED cancels all active trading targets.
		if n, err := c.Store.CancelActiveTargets(ctx, s.ID); err != nil {
			out.StepErrors = append(out.StepErrors, fmt.Sprintf("cancel targets: %v", err))
		} else if n > 0 {
			log.Printf("emergency: account %s cancelled %d targets", s.ID, n)
		}

		// 6. Append the immutable event.
		if err := c.Store.AppendEmergencyEvent(ctx, ev); err != nil {
			out.StepErrors = append(out.StepErrors, fmt.Sprintf("append event: %v", err))
		}
	} else {
		ev.AccountLocked = true
	}
	out.Event = ev

	// 7. Notify; delivery failure does not roll anything back.
	if c.Alerts != nil {
		c.Alerts.Notify(alert.Alert{
			Level:     alert.LevelCritical,
			AccountID: s.ID,
			Message:   fmt.Sprintf("emergency stop: %s", out.Trigger),
			Metrics: map[string]float64{
				"positions_closed": float64(ev.PositionsClosed),
				"positions_failed": float64(ev.PositionsFailed),
				"total_loss":       ev.TotalLoss,
			},
		})
	}
	if c.Bus != nil {
		c.Bus.Publish(events.EventEmergencyStop, ev)
	}
	log.Printf("emergency: account %s stopped: closed=%d failed=%d cancelled=%d loss=%.2f",
		s.ID, ev.PositionsClosed, ev.PositionsFailed, ev.OrdersCancelled, ev.TotalLoss)
}

func (c *Coordinator) closeWithTimeout(ctx context.Context, accountID string, p risk.Position) (venue.CloseResult, error) {
	if c.Venue == nil {
		return venue.CloseResult{}, fmt.Errorf("no venue configured")
	}
	cctx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	return c.Venue.ClosePosition(cctx, accountID, p)
}

func (c *Coordinator) cancelWithTimeout(ctx context.Context, accountID string, o risk.PendingOrder) (venue.CancelResult, error) {
	if c.Venue == nil {
		return venue.CancelResult{}, fmt.Errorf("no venue configured")
	}
	cctx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	return c.Venue.CancelOrder(cctx, accountID, o)
}
