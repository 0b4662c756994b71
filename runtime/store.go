package runtime

import (
	"io"
	"sync"

	"github.com/petermattis/goid"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// Store owns a wasm_store_t. Modules, instances, host functions, globals,
// memories and traps created through it are closed with it.
//
// A store is meant for one goroutine at a time. Calls from several
// goroutines are serialized rather than run in parallel.
type Store struct {
	engine *Engine
	h      *handle
	// lock and owned are allocated apart from the Store so release
	// callbacks can use them without keeping the Store reachable.
	lock  *storeLock
	owned *children
}

// Engine returns the engine the store belongs to.
func (s *Store) Engine() *Engine {
	return s.engine
}

// Raw returns the native store, or 0 after Close.
func (s *Store) Raw() abi.Store {
	addr, _ := s.h.get(errors.PhaseRuntime)
	return abi.Store(addr)
}

func (s *Store) lib() *abi.Library {
	return s.engine.lib
}

func (s *Store) addr(phase errors.Phase) (abi.Store, error) {
	addr, err := s.h.get(phase)
	return abi.Store(addr), err
}

func (s *Store) own(kind abi.ResourceKind, addr uintptr, del func(uintptr)) *handle {
	return own(s.engine.log, kind, addr, del)
}

// releaser releases h under the store lock.
func (s *Store) releaser(h *handle) func() error {
	lock := s.lock
	return func() error {
		lock.lock()
		defer lock.unlock()
		h.release()
		return nil
	}
}

// adopt registers x, owned through h, to be closed with s.
func adopt[T any, P interface {
	*T
	io.Closer
}](s *Store, x P, h *handle) {
	track(s.owned, x, h, s.releaser(h))
	if s.engine.leaks {
		watch((*T)(x), h)
	}
}

// active maps a goroutine id to the innermost store it is calling into.
var active sync.Map

// run calls fn under the store lock on a pinned thread and returns the
// native error it left, if any.
func (s *Store) run(fn func()) (string, bool) {
	s.lock.lock()
	defer s.lock.unlock()

	id := goid.Get()
	prev, nested := active.Swap(id, s)
	defer func() {
		if nested {
			active.Store(id, prev)
		} else {
			active.Delete(id)
		}
	}()
	return s.engine.bridge.run(fn)
}

// activeStore returns the store the calling goroutine is inside, if any.
func activeStore() *Store {
	if s, ok := active.Load(goid.Get()); ok {
		return s.(*Store)
	}
	return nil
}

// Close closes what the store still owns, then deletes the store. Native
// host functions are finalized by the delete.
func (s *Store) Close() error {
	if !s.h.alive() {
		return nil
	}
	err := s.owned.closeAll()

	s.lock.lock()
	released := s.h.release()
	s.lock.unlock()
	if released {
		s.engine.stores.remove(s)
	}
	return err
}
