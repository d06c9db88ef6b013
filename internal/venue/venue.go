// Package venue defines the execution-venue boundary. Real broker clients
// live outside this module; callers depend only on these interfaces.
package venue

import (
	"context"
	"fmt"

	"risk-core/internal/risk"
)

// Error marks a failed venue call. During emergency stop these are logged and
// aggregated, never fatal to the remaining steps.
type Error struct {
	Venue string
	Op    string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("venue %s %s: %v", e.Venue, e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// CloseResult reports one position-close attempt.
type CloseResult struct {
	PositionID   string  `json:"position_id"`
	Closed       bool    `json:"closed"`
	RealizedLoss float64 `json:"realized_loss"` // positive = loss
}

// CancelResult reports one order-cancel attempt.
type CancelResult struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
}

// Venue executes market closes and cancels with bounded-time awaits; callers
// pass a context with deadline.
type Venue interface {
	ClosePosition(ctx context.Context, accountID string, p risk.Position) (CloseResult, error)
	CancelOrder(ctx context.Context, accountID string, o risk.PendingOrder) (CancelResult, error)
}
