package runtime

import (
	"io"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"weak"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// handle tracks one native address and whether this side must free it.
//
// An owned handle calls del exactly once, on the first release. A borrowed
// handle never frees; it keeps its owner reachable and reports itself
// released as soon as its parent is.
type handle struct {
	addr     uintptr
	kind     abi.ResourceKind
	owns     bool
	parent   *handle
	owner    any
	del      func(uintptr)
	log      *zap.Logger
	released atomic.Bool
}

func own(log *zap.Logger, kind abi.ResourceKind, addr uintptr, del func(uintptr)) *handle {
	h := &handle{addr: addr, kind: kind, owns: true, del: del, log: log}
	log.Debug("resource created", zap.Stringer("resource", h.native()), zap.Bool("owns", true))
	return h
}

// watch warns when x is collected while h, the handle x releases on Close,
// is still unreleased. h must not reference x.
func watch[T any](x *T, h *handle) {
	goruntime.AddCleanup(x, (*handle).leaked, h)
}

// borrow wraps addr, which belongs to owner. parent may be nil when the
// owner has no handle of its own.
func borrow(parent *handle, owner any, kind abi.ResourceKind, addr uintptr) (*handle, error) {
	if addr == 0 {
		return nil, errors.InvalidHandle(errors.PhaseRuntime, "borrowed "+kind.String()+" is null")
	}
	return &handle{addr: addr, kind: kind, parent: parent, owner: owner}, nil
}

func (h *handle) native() abi.Handle {
	return abi.Handle{Addr: h.addr, Kind: h.kind}
}

func (h *handle) leaked() {
	if !h.released.Load() {
		h.log.Warn("resource leaked: collected before Close", zap.Stringer("resource", h.native()))
	}
}

// get returns the address while h and every handle it borrows from are
// alive.
func (h *handle) get(phase errors.Phase) (uintptr, error) {
	for p := h; p != nil; p = p.parent {
		if p.released.Load() {
			return 0, errors.Released(phase, h.kind.String())
		}
	}
	return h.addr, nil
}

func (h *handle) alive() bool {
	_, err := h.get(errors.PhaseRuntime)
	return err == nil
}

// release frees an owned address and detaches a borrowed one. Only the
// first call has an effect; it reports whether it was that call.
func (h *handle) release() bool {
	if !h.released.CompareAndSwap(false, true) {
		return false
	}
	if h.owns && h.del != nil {
		h.del(h.addr)
		h.log.Debug("resource released", zap.Stringer("resource", h.native()))
	}
	return true
}

// disown gives the address to a native consumer. The handle is released
// without calling del.
func (h *handle) disown(phase errors.Phase) (uintptr, error) {
	if !h.owns {
		return 0, errors.InvalidHandle(phase, "cannot transfer a borrowed "+h.kind.String())
	}
	if !h.released.CompareAndSwap(false, true) {
		return 0, errors.Released(phase, h.kind.String())
	}
	if h.log != nil {
		h.log.Debug("resource transferred", zap.Stringer("resource", h.native()))
	}
	return h.addr, nil
}

// children tracks the resources an owner created, so the owner can close
// them, newest first, when it closes before them. Entries hold their
// wrappers weakly: a wrapper collected unreleased is released through its
// handle instead.
type children struct {
	mu    sync.Mutex
	items []child
}

type child struct {
	get     func() io.Closer
	h       *handle
	release func() error
}

// track adds x, owned through h, to c. release frees the native side once x
// itself is gone; nil means releasing h. Neither may reference x.
func track[T any, P interface {
	*T
	io.Closer
}](c *children, x P, h *handle, release func() error) {
	wp := weak.Make((*T)(x))
	get := func() io.Closer {
		if p := wp.Value(); p != nil {
			return P(p)
		}
		return nil
	}
	c.mu.Lock()
	c.items = append(c.items, child{get: get, h: h, release: release})
	c.mu.Unlock()
}

// remove drops x, and any collected entry whose handle is already released.
func (c *children) remove(x io.Closer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	for _, item := range c.items {
		cur := item.get()
		if cur == x || (cur == nil && item.h != nil && !item.h.alive()) {
			continue
		}
		kept = append(kept, item)
	}
	clear(c.items[len(kept):])
	c.items = kept
}

func (c *children) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *children) closeAll() error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()

	var err error
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		switch x := item.get(); {
		case x != nil:
			err = multierr.Append(err, x.Close())
		case item.release != nil:
			err = multierr.Append(err, item.release())
		case item.h != nil:
			item.h.release()
		}
	}
	return err
}
