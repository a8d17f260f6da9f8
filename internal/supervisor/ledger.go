package supervisor

import (
	"sync"
	"time"
)

// Ledger tracks restart timestamps inside a sliding window. Entries
// older than the window are pruned before every decision, so an old
// crash burst never counts against a later one.
type Ledger struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	stamps []time.Time
	now    func() time.Time
}

func NewLedger(window time.Duration, max int) *Ledger {
	return &Ledger{window: window, max: max, now: time.Now}
}

// Record notes one restart at the current time.
func (l *Ledger) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	l.stamps = append(l.stamps, l.now())
}

// Allowed reports whether another restart fits inside the window.
func (l *Ledger) Allowed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return len(l.stamps) <= l.max
}

// Count returns the number of restarts currently inside the window.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return len(l.stamps)
}

func (l *Ledger) pruneLocked() {
	cutoff := l.now().Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
