package service

import (
	"sync"

	"github.com/ackaraca/PeakActivity/pkg/model"
)

// lastEventCache remembers the most recent event per bucket so the
// heartbeat path does not have to hit storage on every probe.
//
// It is an accelerator, never an authority: entries are seeded lazily
// from the store on first use and dropped whenever a non-heartbeat write
// could change which event is newest. Correctness must hold with the
// cache empty on every call.
type lastEventCache struct {
	mu sync.RWMutex
	m  map[string]*model.Event
}

func newLastEventCache() *lastEventCache {
	return &lastEventCache{m: make(map[string]*model.Event)}
}

// Get returns the cached last event for a bucket, or nil.
func (c *lastEventCache) Get(bucketID string) *model.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[bucketID]
}

// Set records e as the bucket's latest event.
func (c *lastEventCache) Set(bucketID string, e model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[bucketID] = &e
}

// Invalidate drops the bucket's entry; the next heartbeat re-reads the
// store.
func (c *lastEventCache) Invalidate(bucketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, bucketID)
}
