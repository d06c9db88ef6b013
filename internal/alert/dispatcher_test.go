package alert

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"risk-core/internal/events"
)

type captureSink struct {
	mu    sync.Mutex
	got   []Alert
	fail  bool
}

func (s *captureSink) Notify(a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.got = append(s.got, a)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestDispatcherFansOutToAllSinks(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	d := NewDispatcher(10, 10, a)
	d.Register(b)

	d.Notify(Alert{Level: LevelWarning, AccountID: "a1", Message: "drawdown rising"})

	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())
	require.False(t, a.got[0].At.IsZero(), "dispatch stamps the time")
}

func TestDispatcherThrottlesRepeats(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(1, 2, sink)

	for i := 0; i < 10; i++ {
		d.Notify(Alert{Level: LevelWarning, AccountID: "a1", Message: "flap"})
	}
	// Burst of 2, everything after is dropped.
	require.Equal(t, 2, sink.count())
}

func TestDispatcherThrottlesPerAccount(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(1, 1, sink)

	d.Notify(Alert{Level: LevelWarning, AccountID: "a1", Message: "flap"})
	d.Notify(Alert{Level: LevelWarning, AccountID: "a1", Message: "flap"})
	d.Notify(Alert{Level: LevelWarning, AccountID: "a2", Message: "flap"})

	require.Equal(t, 2, sink.count(), "each account has its own budget")
}

func TestCriticalBypassesThrottle(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(1, 1, sink)

	for i := 0; i < 5; i++ {
		d.Notify(Alert{Level: LevelCritical, AccountID: "a1", Message: "emergency stop"})
	}
	require.Equal(t, 5, sink.count())
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &captureSink{fail: true}
	good := &captureSink{}
	d := NewDispatcher(10, 10, bad, good)

	d.Notify(Alert{Level: LevelInfo, AccountID: "a1", Message: "mode change"})
	require.Equal(t, 1, good.count())
}

func TestBusNotifierPublishesRiskAlert(t *testing.T) {
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventRiskAlert, 1)
	defer unsub()

	d := NewDispatcher(10, 10, BusNotifier{Bus: bus})
	d.Notify(Alert{Level: LevelCritical, AccountID: "a1", Message: "halted"})

	select {
	case got := <-ch:
		a, ok := got.(Alert)
		require.True(t, ok)
		require.Equal(t, "a1", a.AccountID)
	default:
		t.Fatal("expected alert on bus")
	}
}
