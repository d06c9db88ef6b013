package risk

import "time"

// TargetStatus is the closed lifecycle of a trading target.
type TargetStatus string

const (
	TargetPending    TargetStatus = "pending"
	TargetInProgress TargetStatus = "in_progress"
	TargetAchieved   TargetStatus = "achieved"
	TargetFailed     TargetStatus = "failed"
	TargetCancelled  TargetStatus = "cancelled"
	TargetPaused     TargetStatus = "paused"
)

// Valid reports whether s is a defined status.
func (s TargetStatus) Valid() bool {
	switch s {
	case TargetPending, TargetInProgress, TargetAchieved, TargetFailed, TargetCancelled, TargetPaused:
		return true
	}
	return false
}

// Active reports whether the target still counts as open work. BLOCKED
// cancels all active targets.
func (s TargetStatus) Active() bool {
	return s == TargetPending || s == TargetInProgress
}

// Target is an operator- or mode-logic-created trading objective. Achieving
// one triggers a mode-transition check.
type Target struct {
	ID        string       `json:"id"`
	AccountID string       `json:"account_id"`
	Type      string       `json:"type"` // e.g. pnl, win_rate, volume
	Value     float64      `json:"value"`
	Timeframe string       `json:"timeframe"`
	Status    TargetStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// EmergencyEvent is the immutable record of one emergency stop. Append-only:
// once written it is never modified.
type EmergencyEvent struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Trigger         string    `json:"trigger"`
	At              time.Time `json:"at"`
	PositionsClosed int       `json:"positions_closed"`
	PositionsFailed int       `json:"positions_failed"`
	OrdersCancelled int       `json:"orders_cancelled"`
	OrdersFailed    int       `json:"orders_failed"`
	TotalLoss       float64   `json:"total_loss"`
	AccountLocked   bool      `json:"account_locked"`
}
