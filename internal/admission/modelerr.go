package admission

import (
	"sort"
	"sync"
)

// modelErrTracker accumulates |modeled - realized| slippage errors per
// account in fixed-size windows. In-memory only: the derived figures land on
// the account's track record, which is what persists.
type modelErrTracker struct {
	mu      sync.Mutex
	windows map[string][]float64
}

func newModelErrTracker() *modelErrTracker {
	return &modelErrTracker{windows: make(map[string][]float64)}
}

// add appends one error sample and returns the p95 of the current window plus
// whether the window just filled. A filled window is cleared for the next one.
func (t *modelErrTracker) add(accountID string, err float64) (full bool, p95 float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := append(t.windows[accountID], err)
	p95 = errP95(w)
	if len(w) >= modelWindowSize {
		t.windows[accountID] = w[:0]
		return true, p95
	}
	t.windows[accountID] = w
	return false, p95
}

func errP95(samples []float64) float64 {
	n := len(samples)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(float64(n) * 0.95)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
