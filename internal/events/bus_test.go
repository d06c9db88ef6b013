package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventOrderAdmitted, 4)
	defer unsub()

	b.Publish(EventOrderAdmitted, "o1")
	b.Publish(EventOrderAdmitted, "o2")

	require.Equal(t, "o1", <-ch)
	require.Equal(t, "o2", <-ch)
}

func TestPublishOnlyMatchingEvent(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventOrderAdmitted, 4)
	defer unsub()

	b.Publish(EventOrderRejected, "nope")

	select {
	case v := <-ch:
		t.Fatalf("unexpected payload %v", v)
	default:
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventRiskAlert, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(EventRiskAlert, i)
		}
	}()
	<-done

	// Only the first payload fit; the rest were dropped.
	require.Equal(t, 0, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected payload %v", v)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventModeChanged, 1)
	unsub()

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe is a no-op, not a panic.
	b.Publish(EventModeChanged, "x")
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := NewBus()
	ch1, unsub1 := b.Subscribe(EventOrderFilled, 1)
	defer unsub1()
	ch2, unsub2 := b.Subscribe(EventOrderFilled, 1)
	defer unsub2()

	b.Publish(EventOrderFilled, "f1")

	require.Equal(t, "f1", <-ch1)
	require.Equal(t, "f1", <-ch2)
}
