// Package canary tracks probation for (symbol, route) pairs. A pair must
// accumulate enough clean fills before normal sizing is allowed.
package canary

import (
	"sort"
	"sync"
	"time"
)

// Key identifies one probation bucket.
type Key struct {
	Symbol string `json:"symbol"`
	Route  string `json:"route"`
}

// Record is the externally visible state of one bucket.
type Record struct {
	Key       Key       `json:"key"`
	FillCount int       `json:"fill_count"`
	Samples   int       `json:"samples"`
	P95       float64   `json:"p95"`
	Passed    bool      `json:"passed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker keeps sliding-window slippage samples per (symbol, route). Passing
// is monotonic: once a bucket passes it stays passed until Reset.
type Tracker struct {
	mu         sync.RWMutex
	buckets    map[Key]*bucket
	windowSize int
	passFills  int
	passP95    float64
}

type bucket struct {
	mu        sync.Mutex
	fillCount int
	samples   []float64
	passed    bool
	updatedAt time.Time
}

// NewTracker creates a tracker. windowSize is the number of slippage samples
// retained per bucket (>=200 per the pass rule), passP95 the maximum p95
// realized slippage (decimal fraction) for the bucket to pass.
func NewTracker(windowSize int, passP95 float64) *Tracker {
	if windowSize < 200 {
		windowSize = 200
	}
	if passP95 <= 0 {
		passP95 = 0.02
	}
	return &Tracker{
		buckets:    make(map[Key]*bucket),
		windowSize: windowSize,
		passFills:  200,
		passP95:    passP95,
	}
}

func (t *Tracker) bucket(k Key) *bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[k]
	if !ok {
		b = &bucket{samples: make([]float64, 0, t.windowSize)}
		t.buckets[k] = b
	}
	return b
}

// Passed reports whether the bucket has cleared probation. Unseen keys have
// not passed.
func (t *Tracker) Passed(k Key) bool {
	t.mu.RLock()
	b, ok := t.buckets[k]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passed
}

// RecordFill appends a realized-slippage sample for the bucket and
// re-evaluates the pass rule. A bucket that has already passed never reverts.
func (t *Tracker) RecordFill(k Key, slippage float64) Record {
	b := t.bucket(k)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fillCount++
	if len(b.samples) >= t.windowSize {
		b.samples = b.samples[1:]
	}
	b.samples = append(b.samples, slippage)
	b.updatedAt = time.Now()

	if !b.passed && b.fillCount >= t.passFills && len(b.samples) >= t.passFills {
		if p95(b.samples) <= t.passP95 {
			b.passed = true
		}
	}
	return t.snapshotLocked(k, b)
}

// Seed restores a bucket from persisted state on startup.
func (t *Tracker) Seed(k Key, fillCount int, samples []float64, passed bool) {
	b := t.bucket(k)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillCount = fillCount
	if len(samples) > t.windowSize {
		samples = samples[len(samples)-t.windowSize:]
	}
	b.samples = append(b.samples[:0], samples...)
	b.passed = passed
	b.updatedAt = time.Now()
}

// Export returns the raw bucket contents for persistence. The samples slice
// is a copy.
func (t *Tracker) Export(k Key) (fillCount int, samples []float64, passed bool, ok bool) {
	t.mu.RLock()
	b, found := t.buckets[k]
	t.mu.RUnlock()
	if !found {
		return 0, nil, false, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	samples = make([]float64, len(b.samples))
	copy(samples, b.samples)
	return b.fillCount, samples, b.passed, true
}

// Reset clears a bucket back to probation. This is the only way a passed
// bucket reverts.
func (t *Tracker) Reset(k Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, k)
}

// Snapshot returns the current state of a bucket.
func (t *Tracker) Snapshot(k Key) (Record, bool) {
	t.mu.RLock()
	b, ok := t.buckets[k]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return t.snapshotLocked(k, b), true
}

// SlippageP95 returns the p95 of the bucket's samples and how many samples
// back it. Used by the slippage-model gate.
func (t *Tracker) SlippageP95(k Key) (float64, int) {
	t.mu.RLock()
	b, ok := t.buckets[k]
	t.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return 0, 0
	}
	return p95(b.samples), len(b.samples)
}

// All returns snapshots of every bucket.
func (t *Tracker) All() []Record {
	t.mu.RLock()
	keys := make([]Key, 0, len(t.buckets))
	for k := range t.buckets {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		if r, ok := t.Snapshot(k); ok {
			out = append(out, r)
		}
	}
	return out
}

func (t *Tracker) snapshotLocked(k Key, b *bucket) Record {
	r := Record{
		Key:       k,
		FillCount: b.fillCount,
		Samples:   len(b.samples),
		Passed:    b.passed,
		UpdatedAt: b.updatedAt,
	}
	if len(b.samples) > 0 {
		r.P95 = p95(b.samples)
	}
	return r
}

func p95(samples []float64) float64 {
	n := len(samples)
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(n) * 0.95)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
