package mode

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Checker periodically evaluates graduation for every account. It is a
// supervised, cancellable task: a panicking or erroring pass restarts with
// bounded exponential backoff instead of spinning.
type Checker struct {
	Machine  *Machine
	Interval time.Duration
}

const (
	backoffInitial    = time.Second
	backoffMax        = 30 * time.Second
	backoffResetAfter = time.Minute
)

// Run blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	backoff := backoffInitial
	for {
		started := time.Now()
		err := c.runLoop(ctx, interval)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > backoffResetAfter {
			backoff = backoffInitial
		}
		log.Printf("mode: checker restarting in %s: %v", backoff, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < backoffMax {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
	}
}

func (c *Checker) runLoop(ctx context.Context, interval time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicErr(r)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, id := range c.Machine.Accounts.AccountIDs() {
				if cl, moved, cerr := c.Machine.CheckAndAdvance(ctx, id); cerr != nil {
					log.Printf("mode: check %s: %v", id, cerr)
				} else if !moved && len(cl.FailedCriteria()) > 0 {
					log.Printf("mode: account %s holding at %s, unmet: %v", id, cl.From, cl.FailedCriteria())
				}
			}
		}
	}
}

type recoveredPanic struct{ v any }

func (p recoveredPanic) Error() string { return fmt.Sprintf("checker panic: %v", p.v) }

func panicErr(v any) error {
	if e, ok := v.(error); ok {
		return e
	}
	return recoveredPanic{v}
}
