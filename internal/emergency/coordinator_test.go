package emergency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"risk-core/internal/risk"
	"risk-core/internal/venue"
	"risk-core/pkg/db"
)

func testSetup(t *testing.T) (*risk.Manager, *venue.Sim, *db.Database, *Coordinator) {
	t.Helper()
	d, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, db.ApplyMigrations(d))

	accounts := risk.NewManager(d, risk.DefaultProfiles())
	sim := venue.NewSim(0, 0.01)
	c := New(accounts, sim, d, nil, nil)
	return accounts, sim, d, c
}

func seedAccount(t *testing.T, accounts *risk.Manager) {
	t.Helper()
	ctx := context.Background()
	_, err := accounts.Onboard(ctx, "a1", 100_000)
	require.NoError(t, err)
	require.NoError(t, accounts.WithLock(ctx, "a1", func(s *risk.AccountState) error {
		s.Positions = []risk.Position{
			{ID: "p1", Symbol: "BTCUSDT", Venue: "venueA", Qty: 1, EntryPrice: 50_000, VaR: 40},
			{ID: "p2", Symbol: "ETHUSDT", Venue: "venueA", Qty: 10, EntryPrice: 3_000, VaR: 30},
		}
		s.Pending = []risk.PendingOrder{
			{ID: "o1", Symbol: "BTCUSDT", Venue: "venueA", Side: "BUY", Qty: 0.5, Price: 49_000},
			{ID: "o2", Symbol: "ETHUSDT", Venue: "venueA", Side: "SELL", Qty: 5, Price: 3_100},
		}
		return nil
	}))
}

func TestTriggerFlattensAndBlocks(t *testing.T) {
	ctx := context.Background()
	accounts, _, d, c := testSetup(t)
	seedAccount(t, accounts)

	out := c.Trigger(ctx, "a1", "drawdown breach")
	require.False(t, out.AlreadyInProgress)
	require.False(t, out.AlreadyStopped)
	require.Empty(t, out.StepErrors)

	require.Equal(t, 2, out.Event.PositionsClosed)
	require.Equal(t, 2, out.Event.OrdersCancelled)
	require.True(t, out.Event.AccountLocked)
	// Sim loss is 1% of each position's notional: 500 + 300.
	require.InDelta(t, 800, out.Event.TotalLoss, 1e-9)

	st, err := accounts.Snapshot(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, risk.ModeBlocked, st.Mode)
	require.True(t, st.EmergencyMode)
	require.Empty(t, st.Positions)
	require.Empty(t, st.Pending)
	require.Zero(t, st.OpenRisk, "flattened book carries no open risk")

	locked, reason, err := d.IsLocked(ctx, "a1")
	require.NoError(t, err)
	require.True(t, locked)
	require.Equal(t, "emergency_stop", reason)

	evs, err := d.ListEmergencyEvents(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "drawdown breach", evs[0].Trigger)
}

func TestPartialFailureCountsOnlySuccesses(t *testing.T) {
	ctx := context.Background()
	accounts, sim, d, c := testSetup(t)
	seedAccount(t, accounts)
	sim.FailClose("p1")
	sim.FailCancel("o2")

	out := c.Trigger(ctx, "a1", "operator")

	require.Equal(t, 1, out.Event.PositionsClosed)
	require.Equal(t, 1, out.Event.PositionsFailed)
	require.Equal(t, 1, out.Event.OrdersCancelled)
	require.Equal(t, 1, out.Event.OrdersFailed)
	require.Len(t, out.StepErrors, 2)
	// Only p2 closed: 1% of 30k.
	require.InDelta(t, 300, out.Event.TotalLoss, 1e-9)

	// The failed position and order stay on the books for the operator.
	st, err := accounts.Snapshot(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, st.Positions, 1)
	require.Equal(t, "p1", st.Positions[0].ID)
	require.Len(t, st.Pending, 1)
	require.Equal(t, "o2", st.Pending[0].ID)
	require.InDelta(t, 40, st.OpenRisk, 1e-9, "only the unclosed position's risk remains")

	// Partial failure still blocks and still records the event.
	require.Equal(t, risk.ModeBlocked, st.Mode)
	evs, err := d.ListEmergencyEvents(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestConcurrentTriggersProduceOneEvent(t *testing.T) {
	ctx := context.Background()
	accounts, sim, d, c := testSetup(t)
	seedAccount(t, accounts)
	_ = sim

	const n = 8
	outs := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = c.Trigger(ctx, "a1", "concurrent")
		}(i)
	}
	wg.Wait()

	ran := 0
	for _, out := range outs {
		if !out.AlreadyInProgress && !out.AlreadyStopped {
			ran++
		}
	}
	require.Equal(t, 1, ran, "exactly one trigger may run the sequence")

	evs, err := d.ListEmergencyEvents(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestSecondTriggerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	accounts, _, d, c := testSetup(t)
	seedAccount(t, accounts)

	first := c.Trigger(ctx, "a1", "first")
	require.False(t, first.AlreadyStopped)

	second := c.Trigger(ctx, "a1", "second")
	require.True(t, second.AlreadyStopped)

	evs, err := d.ListEmergencyEvents(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestTriggerUnknownAccount(t *testing.T) {
	_, _, _, c := testSetup(t)
	out := c.Trigger(context.Background(), "ghost", "whatever")
	require.NotEmpty(t, out.StepErrors)
	require.Zero(t, out.Event.PositionsClosed)
}

func TestVenueTimeoutFailsStep(t *testing.T) {
	ctx := context.Background()
	d, err := db.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, db.ApplyMigrations(d))

	accounts := risk.NewManager(d, risk.DefaultProfiles())
	slow := venue.NewSim(200*time.Millisecond, 0.01)
	c := New(accounts, slow, d, nil, nil)
	c.CallTimeout = 20 * time.Millisecond
	seedAccount(t, accounts)

	out := c.Trigger(ctx, "a1", "slow venue")
	require.Equal(t, 2, out.Event.PositionsFailed)
	require.Equal(t, 2, out.Event.OrdersFailed)
	require.Zero(t, out.Event.TotalLoss)
	// The sequence still completes: lock and event are recorded.
	require.True(t, out.Event.AccountLocked)
}
