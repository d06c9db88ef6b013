// Package risk holds the per-account risk state, limit profiles, and the
// multi-account manager that serializes mutations.
package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Store is the persistence boundary for account risk state. Implementations
// must provide atomic compare-and-swap on the account's version for mode
// transitions.
type Store interface {
	LoadAccount(ctx context.Context, id string) (*AccountState, error)
	SaveAccount(ctx context.Context, s *AccountState) error
	CASMode(ctx context.Context, id string, fromVersion int64, to TradingMode) (bool, error)
}

// ErrAccountNotFound is returned by stores for unknown accounts.
var ErrAccountNotFound = fmt.Errorf("account not found")

// Manager owns the in-memory account states. One mutex per account: fills,
// marks, mode changes, and the emergency coordinator all serialize on it,
// while independent accounts proceed in parallel.
type Manager struct {
	mu       sync.RWMutex
	handles  map[string]*handle
	store    Store
	profiles Profiles
}

type handle struct {
	mu    sync.Mutex
	state *AccountState
}

// NewManager creates a manager backed by the store.
func NewManager(store Store, profiles Profiles) *Manager {
	return &Manager{
		handles:  make(map[string]*handle),
		store:    store,
		profiles: profiles,
	}
}

// Profiles returns the configured limit profiles.
func (m *Manager) Profiles() Profiles { return m.profiles }

// LimitsFor returns the immutable Limits snapshot for the account's mode.
func (m *Manager) LimitsFor(mode TradingMode) Limits { return m.profiles.For(mode) }

// Onboard creates and persists a fresh PAPER account. Existing accounts are
// returned unchanged.
func (m *Manager) Onboard(ctx context.Context, id string, equity float64) (AccountState, error) {
	h, err := m.handleFor(ctx, id, false)
	if err == nil {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.state.Clone(), nil
	}

	st := NewAccountState(id, equity)
	if m.store != nil {
		if err := m.store.SaveAccount(ctx, st); err != nil {
			return AccountState{}, &StoreError{Op: "save", Err: err}
		}
	}
	m.mu.Lock()
	m.handles[id] = &handle{state: st}
	m.mu.Unlock()
	log.Printf("risk: onboarded account %s equity=%.2f mode=%s", id, equity, st.Mode)
	return st.Clone(), nil
}

// handleFor returns the handle for an account, loading it from the store on
// first access. Load failures surface as StoreError so admission fails closed.
func (m *Manager) handleFor(ctx context.Context, id string, create bool) (*handle, error) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	if m.store == nil {
		if !create {
			return nil, ErrAccountNotFound
		}
		h = &handle{state: NewAccountState(id, 0)}
	} else {
		st, err := m.store.LoadAccount(ctx, id)
		if err != nil {
			if err == ErrAccountNotFound {
				return nil, err
			}
			return nil, &StoreError{Op: "load", Err: err}
		}
		h = &handle{state: st}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.handles[id]; ok {
		return existing, nil
	}
	m.handles[id] = h
	return h, nil
}

// Snapshot returns a deep copy of the account state for evaluation. A store
// read failure is returned as StoreError; the admission engine fails closed.
func (m *Manager) Snapshot(ctx context.Context, id string) (AccountState, error) {
	h, err := m.handleFor(ctx, id, false)
	if err != nil {
		return AccountState{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Clone(), nil
}

// AccountIDs lists all accounts currently managed.
func (m *Manager) AccountIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	return ids
}

// WithLock runs fn while holding the account's mutex, then persists the
// state. The emergency coordinator uses this to keep the lock for its full
// duration so no order is admitted mid-flatten. A persist failure does not
// undo fn; it is logged as a consistency warning.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(*AccountState) error) error {
	h, err := m.handleFor(ctx, id, false)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := fn(h.state); err != nil {
		return err
	}
	m.persist(ctx, h.state)
	return nil
}

// RecordFill applies an execution confirmation. This is the only place
// admission-relevant exposure numbers change. Returns InvariantViolation when
// the resulting state is impossible; the caller must block the account.
func (m *Manager) RecordFill(ctx context.Context, f Fill) (AccountState, error) {
	h, err := m.handleFor(ctx, f.AccountID, false)
	if err != nil {
		return AccountState{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.applyFill(f)
	if err := h.state.checkInvariants(); err != nil {
		return h.state.Clone(), err
	}
	m.persist(ctx, h.state)
	return h.state.Clone(), nil
}

// MarkToMarket updates equity from a valuation tick.
func (m *Manager) MarkToMarket(ctx context.Context, id string, equity float64) (AccountState, error) {
	h, err := m.handleFor(ctx, id, false)
	if err != nil {
		return AccountState{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state.markToMarket(equity)
	if err := h.state.checkInvariants(); err != nil {
		return h.state.Clone(), err
	}
	m.persist(ctx, h.state)
	return h.state.Clone(), nil
}

// AddPending registers a submitted order for later cancel accounting.
func (m *Manager) AddPending(ctx context.Context, id string, o PendingOrder) error {
	return m.WithLock(ctx, id, func(s *AccountState) error {
		s.Pending = append(s.Pending, o)
		return nil
	})
}

// Halt blocks new admissions until the given time (daily-loss breach). Open
// positions are untouched.
func (m *Manager) Halt(ctx context.Context, id string, until time.Time) error {
	return m.WithLock(ctx, id, func(s *AccountState) error {
		s.HaltedUntil = until
		return nil
	})
}

// DayRollover resets daily counters for all accounts.
func (m *Manager) DayRollover(ctx context.Context) {
	for _, id := range m.AccountIDs() {
		if err := m.WithLock(ctx, id, func(s *AccountState) error {
			s.dayRollover()
			return nil
		}); err != nil {
			log.Printf("risk: day rollover for %s: %v", id, err)
		}
	}
}

// ApplyMode performs a CAS-protected mode transition: the store swap succeeds
// only when the version is unchanged, preventing double application under
// concurrent evaluation.
func (m *Manager) ApplyMode(ctx context.Context, id string, fromVersion int64, to TradingMode) (bool, error) {
	h, err := m.handleFor(ctx, id, false)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Version != fromVersion {
		return false, nil
	}
	if m.store != nil {
		ok, err := m.store.CASMode(ctx, id, fromVersion, to)
		if err != nil {
			return false, &StoreError{Op: "cas", Err: err}
		}
		if !ok {
			return false, nil
		}
	}
	h.state.Mode = to
	h.state.Version++
	h.state.UpdatedAt = time.Now()
	m.persist(ctx, h.state)
	return true, nil
}

// IncrementComplianceBreach bumps the breach counter.
func (m *Manager) IncrementComplianceBreach(ctx context.Context, id string) {
	_ = m.WithLock(ctx, id, func(s *AccountState) error {
		s.ComplianceBreaches++
		return nil
	})
}

// persist writes the state back; callers hold the account lock. Decisions
// already made stand even when the write fails.
func (m *Manager) persist(ctx context.Context, s *AccountState) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveAccount(ctx, s); err != nil {
		log.Printf("risk: consistency warning: persist account %s failed: %v", s.ID, err)
	}
}
