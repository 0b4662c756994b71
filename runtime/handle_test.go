package runtime

import (
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/abi/emul"
	"github.com/wippyai/wasm-capi/errors"
)

func TestHandle_ReleaseOnce(t *testing.T) {
	var deletes atomic.Int32
	h := own(zap.NewNop(), abi.KindModule, 0x1000, func(addr uintptr) {
		require.Equal(t, uintptr(0x1000), addr)
		deletes.Add(1)
	})

	var wg sync.WaitGroup
	var first atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.release() {
				first.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), deletes.Load())
	require.Equal(t, int32(1), first.Load())
	_, err := h.get(errors.PhaseCall)
	e := requireKind(t, err, errors.KindReleased)
	require.Equal(t, errors.PhaseCall, e.Phase)
}

func TestHandle_Borrow(t *testing.T) {
	parent := own(zap.NewNop(), abi.KindVec, 0x2000, func(uintptr) {})
	child, err := borrow(parent, parent, abi.KindExtern, 0x2008)
	require.NoError(t, err)
	grandchild, err := borrow(child, child, abi.KindFunc, 0x2008)
	require.NoError(t, err)

	addr, err := grandchild.get(errors.PhaseRuntime)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x2008), addr)

	_, err = borrow(parent, parent, abi.KindExtern, 0)
	requireKind(t, err, errors.KindInvalidHandle)

	_, err = child.disown(errors.PhaseHost)
	requireKind(t, err, errors.KindInvalidHandle)

	parent.release()
	require.False(t, child.alive())
	_, err = grandchild.get(errors.PhaseRuntime)
	requireKind(t, err, errors.KindReleased)
}

func TestHandle_Disown(t *testing.T) {
	deleted := false
	h := own(zap.NewNop(), abi.KindTrap, 0x3000, func(uintptr) { deleted = true })

	addr, err := h.disown(errors.PhaseHost)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x3000), addr)
	require.False(t, h.release(), "already released by the transfer")
	require.False(t, deleted)

	_, err = h.disown(errors.PhaseHost)
	requireKind(t, err, errors.KindReleased)
}

type closer struct {
	name  string
	order *[]string
	err   error
}

func (c *closer) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestChildren_CloseAll(t *testing.T) {
	var order []string
	var c children
	a := &closer{name: "a", order: &order}
	b := &closer{name: "b", order: &order, err: fmt.Errorf("b failed")}
	x := &closer{name: "x", order: &order}
	d := &closer{name: "d", order: &order, err: fmt.Errorf("d failed")}
	track(&c, a, nil, nil)
	track(&c, b, nil, nil)
	track(&c, x, nil, nil)
	track(&c, d, nil, nil)
	c.remove(x)
	require.Equal(t, 3, c.len())

	err := c.closeAll()
	require.ErrorContains(t, err, "b failed")
	require.ErrorContains(t, err, "d failed")
	require.Equal(t, []string{"d", "b", "a"}, order, "newest first")
	require.Zero(t, c.len())
	require.NoError(t, c.closeAll())
}

func TestChildren_CollectedEntryReleased(t *testing.T) {
	var c children
	var released atomic.Bool
	h := own(zap.NewNop(), abi.KindModule, 0x4000, func(uintptr) { released.Store(true) })
	func() {
		var order []string
		track(&c, &closer{name: "dropped", order: &order}, h, nil)
	}()

	require.Eventually(t, func() bool {
		goruntime.GC()
		return c.items[0].get() == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.closeAll())
	require.True(t, released.Load(), "handle released in place of the collected wrapper")
}

func TestStoreLock_Reentrant(t *testing.T) {
	var l storeLock
	l.lock()
	l.lock()

	acquired := make(chan struct{})
	go func() {
		l.lock()
		close(acquired)
		l.unlock()
	}()

	l.unlock()
	select {
	case <-acquired:
		t.Fatal("lock taken while still held")
	case <-time.After(20 * time.Millisecond):
	}

	l.unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("lock not handed over")
	}
}

func TestBridge(t *testing.T) {
	lib := emul.New()
	defer lib.Close()
	b := bridge{lib: lib, log: zap.NewNop()}

	_, ok := b.lastError()
	require.False(t, ok)

	msg, failed := b.run(func() {
		var in, out abi.Vec
		lib.Wat2Wasm(&in, &out)
	})
	require.True(t, failed)
	require.Equal(t, "wat2wasm is not supported by the emulated backend", msg)

	_, ok = b.lastError()
	require.False(t, ok, "reading clears the slot")

	msg, failed = b.run(func() {})
	require.False(t, failed)
	require.Empty(t, msg)

	b.lib = &abi.Library{}
	_, ok = b.lastError()
	require.False(t, ok)
}
