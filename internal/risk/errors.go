package risk

import "fmt"

// StoreError wraps a state-store failure. Reads during gate evaluation are
// fail-closed; writes after a decision leave the decision standing and
// surface as consistency warnings.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("state store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// InvariantViolation marks account state that must never occur (negative
// equity, NaN drawdown). Fatal for that account only: it forces BLOCKED and
// an emergency stop, never a process crash.
type InvariantViolation struct {
	AccountID string
	Field     string
	Value     float64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on account %s: %s=%v", e.AccountID, e.Field, e.Value)
}
