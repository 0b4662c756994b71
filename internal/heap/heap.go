// Package heap emulates a native allocator for the pure-Go backend.
//
// Blocks never move and stay reachable from the heap's block table until
// Free, so their addresses can travel through uintptr fields the same way
// native pointers do. Free of an unknown or already freed address is
// reported instead of corrupting state.
package heap

import (
	"fmt"
	"sync"
	"unsafe"
)

// ErrBadFree is wrapped by Free when the address was never allocated or was
// already freed.
var ErrBadFree = fmt.Errorf("heap: free of unallocated address")

// Stats counts allocator activity.
type Stats struct {
	Allocs uint64
	Frees  uint64
	Live   int
	Bytes  int
}

// Heap is a goroutine-safe block allocator.
type Heap struct {
	blocks map[uintptr][]uint64
	sizes  map[uintptr]int
	stats  Stats
	mu     sync.Mutex
}

// New creates an empty heap.
func New() *Heap {
	return &Heap{
		blocks: make(map[uintptr][]uint64),
		sizes:  make(map[uintptr]int),
	}
}

// Alloc returns the address of a zeroed, 8-byte aligned block of size
// bytes. Alloc(0) returns 0, the NULL address.
func (h *Heap) Alloc(size int) uintptr {
	if size <= 0 {
		return 0
	}
	block := make([]uint64, (size+7)/8)
	addr := uintptr(unsafe.Pointer(&block[0]))

	h.mu.Lock()
	h.blocks[addr] = block
	h.sizes[addr] = size
	h.stats.Allocs++
	h.stats.Bytes += size
	h.mu.Unlock()
	return addr
}

// Free releases the block at addr. Free(0) is a no-op.
func (h *Heap) Free(addr uintptr) error {
	if addr == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.blocks[addr]; !ok {
		return fmt.Errorf("%w %#x", ErrBadFree, addr)
	}
	h.stats.Bytes -= h.sizes[addr]
	delete(h.blocks, addr)
	delete(h.sizes, addr)
	h.stats.Frees++
	return nil
}

// Size returns the size the block at addr was allocated with.
func (h *Heap) Size(addr uintptr) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.sizes[addr]
	return n, ok
}

// Contains reports whether addr is the start of a live block.
func (h *Heap) Contains(addr uintptr) bool {
	_, ok := h.Size(addr)
	return ok
}

// Stats returns a snapshot of allocator counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.stats
	s.Live = len(h.blocks)
	return s
}

// Bytes views n bytes starting at addr. The view is valid until the block
// containing it is freed.
func Bytes(addr uintptr, n int) []byte {
	if addr == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// Copy writes src to addr.
func Copy(addr uintptr, src []byte) {
	copy(Bytes(addr, len(src)), src)
}
