package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"risk-core/internal/risk"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	d, err := NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return d
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)

	s := risk.NewAccountState("a1", 10_000)
	s.Mode = risk.ModeMicro
	s.DailyPnL = -42
	s.SymbolRisk["BTCUSDT"] = 25
	s.Pending = append(s.Pending, risk.PendingOrder{ID: "o1", Symbol: "BTCUSDT"})
	s.Version = 3

	if err := d.SaveAccount(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := d.LoadAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got.Mode != risk.ModeMicro || got.DailyPnL != -42 || got.Version != 3 {
		t.Fatalf("loaded %+v, fields lost in round trip", got)
	}
	if got.SymbolRisk["BTCUSDT"] != 25 || len(got.Pending) != 1 {
		t.Fatal("maps or pending orders lost in round trip")
	}
}

func TestListAccountIDs(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)

	for _, id := range []string{"b2", "a1", "c3"} {
		if err := d.SaveAccount(ctx, risk.NewAccountState(id, 1_000)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	ids, err := d.ListAccountIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a1" || ids[1] != "b2" || ids[2] != "c3" {
		t.Fatalf("ids %v, want sorted a1 b2 c3", ids)
	}
}

func TestLoadMissingAccount(t *testing.T) {
	d := testDB(t)
	_, err := d.LoadAccount(context.Background(), "nobody")
	if !errors.Is(err, risk.ErrAccountNotFound) {
		t.Fatalf("error %v, want ErrAccountNotFound", err)
	}
}

func TestCASModeVersionCheck(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)

	s := risk.NewAccountState("a1", 10_000)
	s.Version = 4
	if err := d.SaveAccount(ctx, s); err != nil {
		t.Fatal(err)
	}

	ok, err := d.CASMode(ctx, "a1", 4, risk.ModeMicro)
	if err != nil || !ok {
		t.Fatalf("cas with current version: ok=%v err=%v", ok, err)
	}

	// The stored version moved to 5; the stale swap must refuse.
	ok, err = d.CASMode(ctx, "a1", 4, risk.ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("stale CAS applied")
	}
}

func TestEmergencyEventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)

	first := risk.EmergencyEvent{
		ID: "e1", AccountID: "a1", Trigger: "drawdown", At: time.Now().UTC(),
		PositionsClosed: 2, TotalLoss: 120.5, AccountLocked: true,
	}
	if err := d.AppendEmergencyEvent(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Same primary key again: the record must not be silently replaced.
	dup := first
	dup.TotalLoss = 0
	if err := d.AppendEmergencyEvent(ctx, dup); err == nil {
		t.Fatal("duplicate event id accepted, events must be immutable")
	}

	evs, err := d.ListEmergencyEvents(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].TotalLoss != 120.5 || !evs[0].AccountLocked {
		t.Fatalf("events=%+v, original record must stand unmodified", evs)
	}
}

func TestAccountLockLifecycle(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)

	locked, _, err := d.IsLocked(ctx, "a1")
	if err != nil || locked {
		t.Fatalf("fresh account locked=%v err=%v", locked, err)
	}

	if err := d.LockAccount(ctx, "a1", "emergency_stop"); err != nil {
		t.Fatal(err)
	}
	locked, reason, err := d.IsLocked(ctx, "a1")
	if err != nil || !locked || reason != "emergency_stop" {
		t.Fatalf("locked=%v reason=%q err=%v", locked, reason, err)
	}

	if err := d.UnlockAccount(ctx, "a1", "operator-7"); err != nil {
		t.Fatal(err)
	}
	locked, _, err = d.IsLocked(ctx, "a1")
	if err != nil || locked {
		t.Fatalf("still locked after unlock: %v %v", locked, err)
	}

	// Lock survives a previous unlock by rewriting the row.
	if err := d.LockAccount(ctx, "a1", "manual"); err != nil {
		t.Fatal(err)
	}
	locked, reason, _ = d.IsLocked(ctx, "a1")
	if !locked || reason != "manual" {
		t.Fatalf("relock: locked=%v reason=%q", locked, reason)
	}
}

func TestCanaryPersistence(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)

	seed := CanarySeed{
		Symbol: "BTCUSDT", Route: "venueA",
		FillCount: 42, Samples: []float64{0.001, 0.002}, Passed: false,
	}
	if err := d.SaveCanary(ctx, seed); err != nil {
		t.Fatal(err)
	}
	seed.FillCount = 200
	seed.Passed = true
	if err := d.SaveCanary(ctx, seed); err != nil {
		t.Fatal(err)
	}

	got, err := d.LoadCanaries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("buckets=%d, upsert must not duplicate", len(got))
	}
	if got[0].FillCount != 200 || !got[0].Passed || len(got[0].Samples) != 2 {
		t.Fatalf("loaded %+v", got[0])
	}
}

func TestTargetsLifecycle(t *testing.T) {
	ctx := context.Background()
	d := testDB(t)
	now := time.Now().UTC()

	targets := []risk.Target{
		{ID: "t1", AccountID: "a1", Type: "pnl", Value: 1000, Timeframe: "1w", Status: risk.TargetPending, CreatedAt: now},
		{ID: "t2", AccountID: "a1", Type: "win_rate", Value: 0.6, Timeframe: "1m", Status: risk.TargetInProgress, CreatedAt: now.Add(time.Second)},
		{ID: "t3", AccountID: "a1", Type: "volume", Value: 5, Timeframe: "1d", Status: risk.TargetAchieved, CreatedAt: now.Add(2 * time.Second)},
	}
	for _, tg := range targets {
		if err := d.UpsertTarget(ctx, tg); err != nil {
			t.Fatal(err)
		}
	}

	n, err := d.CancelActiveTargets(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("cancelled %d targets, want the 2 active ones", n)
	}

	got, err := d.ListTargets(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	byID := map[string]risk.TargetStatus{}
	for _, tg := range got {
		byID[tg.ID] = tg.Status
	}
	if byID["t1"] != risk.TargetCancelled || byID["t2"] != risk.TargetCancelled {
		t.Fatalf("statuses %v, active targets must be cancelled", byID)
	}
	if byID["t3"] != risk.TargetAchieved {
		t.Fatalf("statuses %v, achieved target must be untouched", byID)
	}
}
