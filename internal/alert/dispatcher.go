package alert

import (
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Dispatcher fans alerts out to all registered sinks. A per-account rate
// limiter caps repeated alerts so a flapping monitor cannot flood operators;
// CRITICAL alerts always go through.
type Dispatcher struct {
	mu       sync.RWMutex
	sinks    []Notifier
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewDispatcher creates a dispatcher allowing perSec alerts per account with
// the given burst.
func NewDispatcher(perSec float64, burst int, sinks ...Notifier) *Dispatcher {
	if perSec <= 0 {
		perSec = 1
	}
	if burst <= 0 {
		burst = 5
	}
	return &Dispatcher{
		sinks:    sinks,
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(perSec),
		burst:    burst,
	}
}

// Register adds a sink.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, n)
}

func (d *Dispatcher) limiter(accountID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[accountID]
	if !ok {
		lim = rate.NewLimiter(d.perSec, d.burst)
		d.limiters[accountID] = lim
	}
	return lim
}

// Notify delivers the alert to every sink. At-least-once on success, silently
// dropped when throttled, never an error to the caller.
func (d *Dispatcher) Notify(a Alert) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	if a.Level != LevelCritical && !d.limiter(a.AccountID).Allow() {
		return
	}

	d.mu.RLock()
	sinks := make([]Notifier, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Notify(a); err != nil {
			log.Printf("alert: sink delivery failed: %v", err)
		}
	}
}
