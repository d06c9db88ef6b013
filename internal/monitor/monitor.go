// Package monitor runs the continuous per-account risk watch, independent of
// the admission path. It classifies drawdown into levels, raises alerts, and
// invokes the emergency stop when the account crosses the emergency line.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"risk-core/internal/alert"
	"risk-core/internal/emergency"
	"risk-core/internal/events"
	"risk-core/internal/risk"
)

// Level is the drawdown classification.
type Level int

const (
	LevelSafe Level = iota
	LevelNormal
	LevelWarning
	LevelCritical
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelSafe:
		return "SAFE"
	case LevelNormal:
		return "NORMAL"
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "EMERGENCY"
	}
}

// Classify maps a drawdown fraction onto a level given the configured
// warning and emergency lines.
func Classify(drawdown, warningLevel, emergencyLevel float64) Level {
	switch {
	case drawdown < 0.005:
		return LevelSafe
	case drawdown < 0.01:
		return LevelNormal
	case drawdown < warningLevel:
		return LevelWarning
	case drawdown < emergencyLevel:
		return LevelCritical
	default:
		return LevelEmergency
	}
}

// EquitySource supplies mark-to-market equity for an account. Nil means the
// monitor reads stored equity only.
type EquitySource func(ctx context.Context, accountID string) (float64, error)

// Monitor polls one account per supervised task.
type Monitor struct {
	Accounts *risk.Manager
	Stop     *emergency.Coordinator
	Alerts   *alert.Dispatcher
	Bus      *events.Bus
	Rules    risk.MonitorRules
	Metrics  *Metrics
	Equity   EquitySource
}

const (
	restartBackoffInitial = time.Second
	restartBackoffMax     = 30 * time.Second
	restartHealthyReset   = time.Minute
)

// RunAccount polls the account until ctx is cancelled. The loop is
// crash-proof: a panic or error restarts it with bounded exponential backoff.
func (m *Monitor) RunAccount(ctx context.Context, accountID string) {
	backoff := restartBackoffInitial
	for {
		started := time.Now()
		err := m.poll(ctx, accountID)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > restartHealthyReset {
			backoff = restartBackoffInitial
		}
		log.Printf("monitor: account %s loop restarting in %s: %v", accountID, backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

func (m *Monitor) poll(ctx context.Context, accountID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor panic: %v", r)
		}
	}()

	interval := time.Duration(m.Rules.PollMs) * time.Millisecond
	if interval < 500*time.Millisecond || interval > time.Second {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if terr := m.tick(ctx, accountID); terr != nil {
				return terr
			}
		}
	}
}

// tick runs one evaluation. Invariant violations force an emergency stop as
// the safety fallback instead of propagating.
func (m *Monitor) tick(ctx context.Context, accountID string) error {
	st, err := m.refresh(ctx, accountID)

	var inv *risk.InvariantViolation
	if errors.As(err, &inv) {
		log.Printf("monitor: %v; forcing emergency stop", inv)
		m.Stop.Trigger(ctx, accountID, fmt.Sprintf("invariant violation: %s", inv.Field))
		if m.Metrics != nil {
			m.Metrics.EmergencyStops.Inc()
		}
		return nil
	}
	if err != nil {
		return err
	}

	level := Classify(st.RollingDrawdown, m.Rules.WarningLevel, m.Rules.EmergencyLevel)

	if m.Metrics != nil {
		m.Metrics.Drawdown.WithLabelValues(accountID).Set(st.RollingDrawdown)
		m.Metrics.Equity.WithLabelValues(accountID).Set(st.Equity)
		m.Metrics.RiskLevel.WithLabelValues(accountID).Set(float64(level))
	}

	switch level {
	case LevelWarning, LevelCritical:
		m.notify(accountID, alert.LevelWarning, st, level)
	case LevelEmergency:
		if !st.EmergencyMode {
			// Synchronous: the coordinator guards against concurrent re-entry.
			m.Stop.Trigger(ctx, accountID, fmt.Sprintf("drawdown %.4f >= emergency level %.4f",
				st.RollingDrawdown, m.Rules.EmergencyLevel))
			if m.Metrics != nil {
				m.Metrics.EmergencyStops.Inc()
			}
		}
	}

	m.checkDailyLoss(ctx, accountID, st)
	return nil
}

// refresh marks to market when an equity source is wired, otherwise snapshots.
func (m *Monitor) refresh(ctx context.Context, accountID string) (risk.AccountState, error) {
	if m.Equity != nil {
		eq, err := m.Equity(ctx, accountID)
		if err != nil {
			log.Printf("monitor: equity source for %s: %v", accountID, err)
			return m.Accounts.Snapshot(ctx, accountID)
		}
		return m.Accounts.MarkToMarket(ctx, accountID, eq)
	}
	return m.Accounts.Snapshot(ctx, accountID)
}

// checkDailyLoss applies the lighter halt: new orders stop until end of day,
// open positions are left alone.
func (m *Monitor) checkDailyLoss(ctx context.Context, accountID string, st risk.AccountState) {
	limits := m.Accounts.LimitsFor(st.Mode)
	breach := st.DailyPnL < -(st.Equity * limits.MaxDailyLoss)
	if !breach || st.Halted(time.Now()) {
		return
	}
	until := endOfDay(time.Now())
	if err := m.Accounts.Halt(ctx, accountID, until); err != nil {
		log.Printf("monitor: halt %s: %v", accountID, err)
		return
	}
	log.Printf("monitor: account %s halted until %s: daily pnl %.2f breached limit", accountID, until.Format(time.RFC3339), st.DailyPnL)
	if m.Bus != nil {
		m.Bus.Publish(events.EventAccountHalted, accountID)
	}
	m.notify(accountID, alert.LevelWarning, st, LevelWarning)
}

func (m *Monitor) notify(accountID string, lvl alert.Level, st risk.AccountState, riskLevel Level) {
	if m.Alerts == nil {
		return
	}
	m.Alerts.Notify(alert.Alert{
		Level:     lvl,
		AccountID: accountID,
		Message:   fmt.Sprintf("risk level %s", riskLevel),
		Metrics: map[string]float64{
			"rolling_drawdown": st.RollingDrawdown,
			"equity":           st.Equity,
			"daily_pnl":        st.DailyPnL,
			"open_risk":        st.OpenRisk,
		},
	})
}

func endOfDay(now time.Time) time.Time {
	y, mo, d := now.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
