package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// storeLock serializes store-bound calls. The goroutine holding it may take
// it again, which is what a host function calling back into its own store
// does.
type storeLock struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
}

func (l *storeLock) lock() {
	id := goid.Get()
	if l.owner.Load() == id {
		l.depth++
		return
	}
	l.mu.Lock()
	l.owner.Store(id)
	l.depth = 1
}

func (l *storeLock) unlock() {
	l.depth--
	if l.depth == 0 {
		l.owner.Store(0)
		l.mu.Unlock()
	}
}
