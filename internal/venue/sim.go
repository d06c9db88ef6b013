package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"risk-core/internal/risk"
)

// Sim is an in-process venue used for paper execution and tests. Latency and
// per-target failures are configurable so partial-failure paths can be
// exercised.
type Sim struct {
	mu         sync.Mutex
	latency    time.Duration
	lossFrac   float64         // realized loss as fraction of position notional
	failClose  map[string]bool // position ID -> fail
	failCancel map[string]bool // order ID -> fail
}

// NewSim creates a simulator closing positions at a fixed loss fraction.
func NewSim(latency time.Duration, lossFrac float64) *Sim {
	return &Sim{
		latency:    latency,
		lossFrac:   lossFrac,
		failClose:  make(map[string]bool),
		failCancel: make(map[string]bool),
	}
}

// FailClose marks a position ID whose close attempts will error.
func (s *Sim) FailClose(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failClose[positionID] = true
}

// FailCancel marks an order ID whose cancel attempts will error.
func (s *Sim) FailCancel(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCancel[orderID] = true
}

func (s *Sim) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.latency):
		return nil
	}
}

// ClosePosition market-closes the position at the configured loss.
func (s *Sim) ClosePosition(ctx context.Context, accountID string, p risk.Position) (CloseResult, error) {
	if err := s.wait(ctx); err != nil {
		return CloseResult{PositionID: p.ID}, &Error{Venue: p.Venue, Op: "close", Err: err}
	}
	s.mu.Lock()
	fail := s.failClose[p.ID]
	s.mu.Unlock()
	if fail {
		return CloseResult{PositionID: p.ID}, &Error{Venue: p.Venue, Op: "close", Err: fmt.Errorf("simulated close failure")}
	}
	loss := absQtyNotional(p) * s.lossFrac
	return CloseResult{PositionID: p.ID, Closed: true, RealizedLoss: loss}, nil
}

// CancelOrder cancels a pending order.
func (s *Sim) CancelOrder(ctx context.Context, accountID string, o risk.PendingOrder) (CancelResult, error) {
	if err := s.wait(ctx); err != nil {
		return CancelResult{OrderID: o.ID}, &Error{Venue: o.Venue, Op: "cancel", Err: err}
	}
	s.mu.Lock()
	fail := s.failCancel[o.ID]
	s.mu.Unlock()
	if fail {
		return CancelResult{OrderID: o.ID}, &Error{Venue: o.Venue, Op: "cancel", Err: fmt.Errorf("simulated cancel failure")}
	}
	return CancelResult{OrderID: o.ID, Cancelled: true}, nil
}

func absQtyNotional(p risk.Position) float64 {
	q := p.Qty
	if q < 0 {
		q = -q
	}
	return q * p.EntryPrice
}
