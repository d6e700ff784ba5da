package service

import (
	"sync"
	"time"
)

// lockTable serializes heartbeat processing per bucket.
//
// The read-decide-write sequence in Heartbeat is not atomic against
// storage: two concurrent heartbeats for the same bucket could both read
// the same last event, both decide to merge, and one replace would
// clobber the other. Each bucket gets its own cell so different buckets
// proceed fully in parallel.
//
// Acquisition has a bounded wait. The caller treats a timeout as a
// recoverable condition, not a fatal one.
type lockTable struct {
	mu    sync.Mutex
	cells map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{cells: make(map[string]chan struct{})}
}

func (t *lockTable) cell(key string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cells[key]
	if !ok {
		c = make(chan struct{}, 1)
		t.cells[key] = c
	}
	return c
}

// Acquire takes the bucket's lock, waiting at most timeout. Returns false
// if the lock could not be taken in time; the caller must then not call
// Release.
func (t *lockTable) Acquire(key string, timeout time.Duration) bool {
	c := t.cell(key)
	select {
	case c <- struct{}{}:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Release frees the bucket's lock. Must pair with a successful Acquire.
func (t *lockTable) Release(key string) {
	<-t.cell(key)
}
