package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"risk-core/internal/risk"
)

// LoadAccount reads an account risk state. Returns risk.ErrAccountNotFound
// for unknown ids.
func (d *Database) LoadAccount(ctx context.Context, id string) (*risk.AccountState, error) {
	var blob string
	err := d.DB.QueryRowContext(ctx,
		`SELECT state FROM accounts WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, risk.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}

	var st risk.AccountState
	if err := json.Unmarshal([]byte(blob), &st); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &st, nil
}

// ListAccountIDs returns every persisted account id, for warming the manager
// and restarting monitor loops after a process restart.
func (d *Database) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveAccount upserts the full state blob plus the mode/version columns the
// CAS path depends on.
func (d *Database) SaveAccount(ctx context.Context, s *risk.AccountState) error {
	blob, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode account %s: %w", s.ID, err)
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO accounts (id, mode, version, state, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			version = excluded.version,
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP
	`, s.ID, string(s.Mode), s.Version, string(blob))
	if err != nil {
		return fmt.Errorf("save account %s: %w", s.ID, err)
	}
	return nil
}

// CASMode atomically swaps the account's mode iff the version is unchanged.
// Returns false without error when another writer won.
func (d *Database) CASMode(ctx context.Context, id string, fromVersion int64, to risk.TradingMode) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE accounts SET mode = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`, string(to), id, fromVersion)
	if err != nil {
		return false, fmt.Errorf("cas mode %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CanarySeed is one persisted canary bucket.
type CanarySeed struct {
	Symbol    string
	Route     string
	FillCount int
	Samples   []float64
	Passed    bool
}

// SaveCanary upserts a canary bucket.
func (d *Database) SaveCanary(ctx context.Context, c CanarySeed) error {
	blob, err := json.Marshal(c.Samples)
	if err != nil {
		return err
	}
	_, err = d.DB.ExecContext(ctx, `
		INSERT INTO canary_records (symbol, route, fill_count, samples, passed, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol, route) DO UPDATE SET
			fill_count = excluded.fill_count,
			samples = excluded.samples,
			passed = excluded.passed,
			updated_at = CURRENT_TIMESTAMP
	`, c.Symbol, c.Route, c.FillCount, string(blob), boolToInt(c.Passed))
	if err != nil {
		return fmt.Errorf("save canary %s/%s: %w", c.Symbol, c.Route, err)
	}
	return nil
}

// LoadCanaries returns all persisted canary buckets for startup seeding.
func (d *Database) LoadCanaries(ctx context.Context) ([]CanarySeed, error) {
	rows, err := d.DB.QueryContext(ctx,
		`SELECT symbol, route, fill_count, samples, passed FROM canary_records`)
	if err != nil {
		return nil, fmt.Errorf("load canaries: %w", err)
	}
	defer rows.Close()

	var out []CanarySeed
	for rows.Next() {
		var c CanarySeed
		var blob string
		var passed int
		if err := rows.Scan(&c.Symbol, &c.Route, &c.FillCount, &blob, &passed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blob), &c.Samples); err != nil {
			return nil, fmt.Errorf("decode canary samples %s/%s: %w", c.Symbol, c.Route, err)
		}
		c.Passed = passed == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertTarget writes a trading target.
func (d *Database) UpsertTarget(ctx context.Context, t risk.Target) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trading_targets (id, account_id, type, value, timeframe, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			value = excluded.value,
			timeframe = excluded.timeframe,
			updated_at = CURRENT_TIMESTAMP
	`, t.ID, t.AccountID, t.Type, t.Value, t.Timeframe, string(t.Status), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert target %s: %w", t.ID, err)
	}
	return nil
}

// ListTargets returns all targets for an account.
func (d *Database) ListTargets(ctx context.Context, accountID string) ([]risk.Target, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, type, value, timeframe, status, created_at, updated_at
		FROM trading_targets WHERE account_id = ? ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []risk.Target
	for rows.Next() {
		var t risk.Target
		var status string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Value, &t.Timeframe, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = risk.TargetStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CancelActiveTargets marks all pending/in-progress targets cancelled.
func (d *Database) CancelActiveTargets(ctx context.Context, accountID string) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trading_targets SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND status IN (?, ?)
	`, string(risk.TargetCancelled), accountID, string(risk.TargetPending), string(risk.TargetInProgress))
	if err != nil {
		return 0, fmt.Errorf("cancel targets for %s: %w", accountID, err)
	}
	return res.RowsAffected()
}

// AppendEmergencyEvent inserts an immutable event record. There is no update
// path by design of the table's usage here.
func (d *Database) AppendEmergencyEvent(ctx context.Context, e risk.EmergencyEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO emergency_events
			(id, account_id, trigger_reason, at, positions_closed, positions_failed,
			 orders_cancelled, orders_failed, total_loss, account_locked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.Trigger, e.At, e.PositionsClosed, e.PositionsFailed,
		e.OrdersCancelled, e.OrdersFailed, e.TotalLoss, boolToInt(e.AccountLocked))
	if err != nil {
		return fmt.Errorf("append emergency event: %w", err)
	}
	return nil
}

// ListEmergencyEvents returns events for an account, newest first.
func (d *Database) ListEmergencyEvents(ctx context.Context, accountID string) ([]risk.EmergencyEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, trigger_reason, at, positions_closed, positions_failed,
		       orders_cancelled, orders_failed, total_loss, account_locked
		FROM emergency_events WHERE account_id = ? ORDER BY at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list emergency events: %w", err)
	}
	defer rows.Close()

	var out []risk.EmergencyEvent
	for rows.Next() {
		var e risk.EmergencyEvent
		var locked int
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Trigger, &e.At, &e.PositionsClosed,
			&e.PositionsFailed, &e.OrdersCancelled, &e.OrdersFailed, &e.TotalLoss, &locked); err != nil {
			return nil, err
		}
		e.AccountLocked = locked == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// LockAccount persists an account lock that survives restart.
func (d *Database) LockAccount(ctx context.Context, accountID, reason string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO account_locks (account_id, reason, locked_at, unlocked_at, unlocked_by)
		VALUES (?, ?, CURRENT_TIMESTAMP, NULL, NULL)
		ON CONFLICT(account_id) DO UPDATE SET
			reason = excluded.reason,
			locked_at = CURRENT_TIMESTAMP,
			unlocked_at = NULL,
			unlocked_by = NULL
	`, accountID, reason)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}
	return nil
}

// UnlockAccount records an authorized unlock, keeping the row for audit.
func (d *Database) UnlockAccount(ctx context.Context, accountID, actor string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE account_locks SET unlocked_at = CURRENT_TIMESTAMP, unlocked_by = ?
		WHERE account_id = ? AND unlocked_at IS NULL
	`, actor, accountID)
	if err != nil {
		return fmt.Errorf("unlock account %s: %w", accountID, err)
	}
	return nil
}

// IsLocked reports whether the account has an active lock.
func (d *Database) IsLocked(ctx context.Context, accountID string) (bool, string, error) {
	var reason string
	var lockedAt time.Time
	err := d.DB.QueryRowContext(ctx, `
		SELECT reason, locked_at FROM account_locks
		WHERE account_id = ? AND unlocked_at IS NULL
	`, accountID).Scan(&reason, &lockedAt)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("check lock %s: %w", accountID, err)
	}
	return true, reason, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
