package mode

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"risk-core/internal/events"
	"risk-core/internal/risk"
)

// TargetStore persists trading targets.
type TargetStore interface {
	UpsertTarget(ctx context.Context, t risk.Target) error
	ListTargets(ctx context.Context, accountID string) ([]risk.Target, error)
}

// Targets manages operator- and mode-created trading targets. Achieving one
// triggers a graduation check.
type Targets struct {
	Store   TargetStore
	Machine *Machine
	Bus     *events.Bus
}

// Create registers a new pending target.
func (t *Targets) Create(ctx context.Context, accountID, typ, timeframe string, value float64) (risk.Target, error) {
	tg := risk.Target{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Type:      typ,
		Value:     value,
		Timeframe: timeframe,
		Status:    risk.TargetPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if t.Store != nil {
		if err := t.Store.UpsertTarget(ctx, tg); err != nil {
			return tg, err
		}
	}
	return tg, nil
}

// List returns the account's targets.
func (t *Targets) List(ctx context.Context, accountID string) ([]risk.Target, error) {
	if t.Store == nil {
		return nil, nil
	}
	return t.Store.ListTargets(ctx, accountID)
}

// SetStatus moves a target through its lifecycle. Marking a target achieved
// also runs a mode-transition check.
func (t *Targets) SetStatus(ctx context.Context, tg risk.Target, status risk.TargetStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid target status %q", status)
	}
	tg.Status = status
	tg.UpdatedAt = time.Now()
	if t.Store != nil {
		if err := t.Store.UpsertTarget(ctx, tg); err != nil {
			return err
		}
	}

	if status == risk.TargetAchieved {
		if t.Bus != nil {
			t.Bus.Publish(events.EventTargetAchieved, tg)
		}
		if t.Machine != nil {
			if _, _, err := t.Machine.CheckAndAdvance(ctx, tg.AccountID); err != nil {
				return fmt.Errorf("post-achievement mode check: %w", err)
			}
		}
	}
	return nil
}
