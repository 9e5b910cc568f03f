package storage

import "sync"

// Gate is the store-wide exclusion primitive shared by scheduler passes and
// the restore path. A restore must never run while a pass is reading or
// writing the store, and vice versa.
type Gate struct {
	mu sync.Mutex
}

// NewGate constructs a Gate.
func NewGate() *Gate {
	return &Gate{}
}

// TryAcquire attempts to take the gate without blocking. On success the
// returned release func must be called exactly once.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	if !g.mu.TryLock() {
		return nil, false
	}
	return g.mu.Unlock, true
}
