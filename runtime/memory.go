package runtime

import (
	"encoding/binary"
	"unsafe"

	wasmcapi "github.com/wippyai/wasm-capi"
	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

var (
	_ wasmcapi.Memory      = (*Memory)(nil)
	_ wasmcapi.MemorySizer = (*Memory)(nil)
)

// PageSize is the size of one linear memory page.
const PageSize = 65536

// Memory is a linear memory: borrowed when it comes from an export, owned
// when it was created with Store.NewMemory. Reads and writes are bounds
// checked and little-endian.
type Memory struct {
	store *Store
	h     *handle
}

// NewMemory creates a memory of min pages that may grow to max pages. Use
// abi.LimitsMaxDefault for no maximum.
func (s *Store) NewMemory(min, max uint32) (*Memory, error) {
	if max < min {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "memory maximum below minimum")
	}
	sa, err := s.addr(errors.PhaseRuntime)
	if err != nil {
		return nil, err
	}
	lib := s.lib()
	if lib.MemoryNew == nil || lib.MemoryTypeNew == nil {
		return nil, errors.Unsupported(errors.PhaseRuntime, "library has no wasm_memory_new")
	}
	limits := abi.Limits{Min: min, Max: max}
	mt := lib.MemoryTypeNew(&limits)
	if mt == 0 {
		return nil, errors.AllocationFailed(errors.PhaseRuntime, "wasm_memorytype_new", "")
	}
	defer lib.MemoryTypeDelete(mt)

	var m abi.Memory
	msg, _ := s.run(func() { m = lib.MemoryNew(sa, mt) })
	if m == 0 {
		return nil, errors.AllocationFailed(errors.PhaseRuntime, "wasm_memory_new", msg)
	}
	mem := &Memory{
		store: s,
		h:     s.own(abi.KindMemory, uintptr(m), func(a uintptr) { lib.MemoryDelete(abi.Memory(a)) }),
	}
	adopt(s, mem, mem.h)
	return mem, nil
}

// Raw returns the native memory, or 0 once released.
func (m *Memory) Raw() abi.Memory {
	addr, _ := m.h.get(errors.PhaseRuntime)
	return abi.Memory(addr)
}

// Pages returns the current size in pages.
func (m *Memory) Pages() (uint32, error) {
	addr, err := m.h.get(errors.PhaseRuntime)
	if err != nil {
		return 0, err
	}
	m.store.lock.lock()
	defer m.store.lock.unlock()
	return m.store.lib().MemorySize(abi.Memory(addr)), nil
}

// Size returns the current size in bytes, or 0 once released.
func (m *Memory) Size() uint32 {
	addr, err := m.h.get(errors.PhaseRuntime)
	if err != nil {
		return 0
	}
	m.store.lock.lock()
	defer m.store.lock.unlock()
	return uint32(m.store.lib().MemoryDataSize(abi.Memory(addr)))
}

// Grow adds delta pages. Views returned by Data before Grow are invalid
// afterwards.
func (m *Memory) Grow(delta uint32) error {
	addr, err := m.h.get(errors.PhaseRuntime)
	if err != nil {
		return err
	}
	lib := m.store.lib()
	var ok bool
	msg, _ := m.store.run(func() { ok = lib.MemoryGrow(abi.Memory(addr), delta) })
	if !ok {
		return growFailed("memory", delta, msg)
	}
	return nil
}

// Data returns the memory's bytes without copying. The slice aliases native
// memory and is valid until the memory grows or is released.
func (m *Memory) Data() ([]byte, error) {
	var out []byte
	err := m.access(errors.PhaseRuntime, 0, 0, func(data []byte, _ uint32) { out = data })
	return out, err
}

// access calls fn with the whole memory while holding the store lock, once
// [offset, offset+n) is known to be in bounds.
func (m *Memory) access(phase errors.Phase, offset, n uint32, fn func(data []byte, offset uint32)) error {
	addr, err := m.h.get(phase)
	if err != nil {
		return err
	}
	m.store.lock.lock()
	defer m.store.lock.unlock()

	lib := m.store.lib()
	base := lib.MemoryData(abi.Memory(addr))
	size := lib.MemoryDataSize(abi.Memory(addr))
	if uint64(offset)+uint64(n) > uint64(size) {
		return errors.New(phase, errors.KindOutOfBounds).
			Path("memory").
			Value(offset).
			Detail("range [%d, %d) exceeds memory size %d", offset, uint64(offset)+uint64(n), size).
			Build()
	}
	var data []byte
	if base != 0 && size > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(base)), int(size))
	}
	fn(data, offset)
	return nil
}

// Read copies length bytes starting at offset.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	out := make([]byte, length)
	err := m.access(errors.PhaseDecode, offset, length, func(data []byte, off uint32) {
		copy(out, data[off:])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write copies p to offset.
func (m *Memory) Write(offset uint32, p []byte) error {
	if uint64(len(p)) > uint64(^uint32(0)) {
		return errors.InvalidInput(errors.PhaseEncode, "write larger than 4GiB")
	}
	return m.access(errors.PhaseEncode, offset, uint32(len(p)), func(data []byte, off uint32) {
		copy(data[off:], p)
	})
}

func (m *Memory) ReadU8(offset uint32) (uint8, error) {
	var v uint8
	err := m.access(errors.PhaseDecode, offset, 1, func(data []byte, off uint32) { v = data[off] })
	return v, err
}

func (m *Memory) ReadU16(offset uint32) (uint16, error) {
	var v uint16
	err := m.access(errors.PhaseDecode, offset, 2, func(data []byte, off uint32) {
		v = binary.LittleEndian.Uint16(data[off:])
	})
	return v, err
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	var v uint32
	err := m.access(errors.PhaseDecode, offset, 4, func(data []byte, off uint32) {
		v = binary.LittleEndian.Uint32(data[off:])
	})
	return v, err
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	var v uint64
	err := m.access(errors.PhaseDecode, offset, 8, func(data []byte, off uint32) {
		v = binary.LittleEndian.Uint64(data[off:])
	})
	return v, err
}

func (m *Memory) WriteU8(offset uint32, v uint8) error {
	return m.access(errors.PhaseEncode, offset, 1, func(data []byte, off uint32) { data[off] = v })
}

func (m *Memory) WriteU16(offset uint32, v uint16) error {
	return m.access(errors.PhaseEncode, offset, 2, func(data []byte, off uint32) {
		binary.LittleEndian.PutUint16(data[off:], v)
	})
}

func (m *Memory) WriteU32(offset uint32, v uint32) error {
	return m.access(errors.PhaseEncode, offset, 4, func(data []byte, off uint32) {
		binary.LittleEndian.PutUint32(data[off:], v)
	})
}

func (m *Memory) WriteU64(offset uint32, v uint64) error {
	return m.access(errors.PhaseEncode, offset, 8, func(data []byte, off uint32) {
		binary.LittleEndian.PutUint64(data[off:], v)
	})
}

func (m *Memory) externAddr(phase errors.Phase) (abi.Extern, error) {
	addr, err := m.h.get(phase)
	if err != nil {
		return 0, err
	}
	lib := m.store.lib()
	if lib.MemoryAsExtern == nil {
		return 0, errors.Unsupported(phase, "library has no wasm_memory_as_extern")
	}
	return lib.MemoryAsExtern(abi.Memory(addr)), nil
}

// Close deletes an owned memory and detaches a borrowed one.
func (m *Memory) Close() error {
	if !m.h.owns {
		m.h.release()
		return nil
	}
	m.store.lock.lock()
	released := m.h.release()
	m.store.lock.unlock()
	if released {
		m.store.owned.remove(m)
	}
	return nil
}
