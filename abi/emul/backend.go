package emul

import (
	"context"
	"sync"
	"unsafe"

	"github.com/petermattis/goid"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/internal/heap"
	"github.com/wippyai/wasm-capi/resource"
)

const (
	kindEngine resource.Kind = iota + 1
	kindStore
	kindModule
	kindInstance
	kindExtern
	kindTrap
	kindFrame
	kindValType
	kindFuncType
	kindGlobalType
	kindMemoryType
	kindExternType
	kindExportType
	kindImportType
	kindCallback
)

var kindNames = map[resource.Kind]string{
	kindEngine:     "engine",
	kindStore:      "store",
	kindModule:     "module",
	kindInstance:   "instance",
	kindExtern:     "extern",
	kindTrap:       "trap",
	kindFrame:      "frame",
	kindValType:    "valtype",
	kindFuncType:   "functype",
	kindGlobalType: "globaltype",
	kindMemoryType: "memorytype",
	kindExternType: "externtype",
	kindExportType: "exporttype",
	kindImportType: "importtype",
	kindCallback:   "callback",
}

// Stats counts objects and deletes seen by a Backend.
type Stats struct {
	// Live is the number of live objects by kind name.
	Live map[string]int
	// Created and Deleted count objects over the backend's lifetime.
	Created uint64
	Deleted uint64
	// BadDeletes counts deletes of addresses that were not live objects or
	// heap blocks of the expected kind.
	BadDeletes uint64
	Heap       heap.Stats
}

// Backend is the state behind one emulated library.
type Backend struct {
	heap    *heap.Heap
	objects *resource.Table
	ctx     context.Context

	errMu sync.Mutex
	errs  map[int64]string

	statsMu sync.Mutex
	live    map[resource.Kind]int
	created uint64
	deleted uint64
	bad     uint64
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	b := &Backend{
		heap:    heap.New(),
		objects: resource.NewTable(),
		ctx:     context.Background(),
		errs:    make(map[int64]string),
		live:    make(map[resource.Kind]int),
	}
	b.objects.Subscribe(b)
	return b
}

// New returns a Library backed by a fresh Backend.
func New() *abi.Library {
	return NewBackend().Library()
}

// OnResourceEvent keeps the per-kind counters.
func (b *Backend) OnResourceEvent(e resource.Event) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	switch e.Type {
	case resource.EventCreated:
		b.live[e.Kind]++
		b.created++
	case resource.EventDropped:
		b.live[e.Kind]--
		b.deleted++
	}
}

// Stats returns a snapshot of the counters.
func (b *Backend) Stats() Stats {
	b.statsMu.Lock()
	s := Stats{
		Live:       make(map[string]int, len(b.live)),
		Created:    b.created,
		Deleted:    b.deleted,
		BadDeletes: b.bad,
	}
	for k, n := range b.live {
		if n != 0 {
			s.Live[kindNames[k]] = n
		}
	}
	b.statsMu.Unlock()
	s.Heap = b.heap.Stats()
	return s
}

// LiveObjects returns the number of live objects, callbacks excluded.
func (b *Backend) LiveObjects() int {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	n := 0
	for k, c := range b.live {
		if k != kindCallback {
			n += c
		}
	}
	return n
}

func (b *Backend) badDelete() {
	b.statsMu.Lock()
	b.bad++
	b.statsMu.Unlock()
}

// alloc registers obj and returns its address. The address is an 8-byte
// heap cell holding the object's table handle.
func (b *Backend) alloc(kind resource.Kind, obj any) uintptr {
	h := b.objects.Insert(kind, obj)
	if h == 0 {
		return 0
	}
	addr := b.heap.Alloc(8)
	*(*resource.Handle)(unsafe.Pointer(addr)) = h
	return addr
}

func (b *Backend) lookup(addr uintptr, kind resource.Kind) (any, bool) {
	if addr == 0 || !b.heap.Contains(addr) {
		return nil, false
	}
	h := *(*resource.Handle)(unsafe.Pointer(addr))
	return b.objects.GetTyped(h, kind)
}

// free removes the object at addr. A stale or mistyped address counts as a
// bad delete.
func (b *Backend) free(addr uintptr, kind resource.Kind) (any, bool) {
	if addr == 0 {
		return nil, false
	}
	obj, ok := b.lookup(addr, kind)
	if !ok {
		b.badDelete()
		return nil, false
	}
	h := *(*resource.Handle)(unsafe.Pointer(addr))
	b.objects.Remove(h)
	if err := b.heap.Free(addr); err != nil {
		b.badDelete()
	}
	return obj, true
}

func get[T any](b *Backend, addr uintptr, kind resource.Kind) T {
	obj, _ := b.lookup(addr, kind)
	t, _ := obj.(T)
	return t
}

func (b *Backend) setError(msg string) {
	b.errMu.Lock()
	b.errs[goid.Get()] = msg
	b.errMu.Unlock()
}

func (b *Backend) lastErrorLength() int32 {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	msg, ok := b.errs[goid.Get()]
	if !ok {
		return 0
	}
	return int32(len(msg) + 1)
}

func (b *Backend) lastErrorMessage(buf uintptr, length int32) int32 {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	id := goid.Get()
	msg, ok := b.errs[id]
	if !ok {
		return 0
	}
	n := int32(len(msg) + 1)
	if buf == 0 || length < n {
		return -1
	}
	heap.Copy(buf, append([]byte(msg), 0))
	delete(b.errs, id)
	return n
}

// newName allocates a wasm_name_t struct followed by its bytes and returns
// the struct's address. freeName releases both.
func (b *Backend) newName(s string) uintptr {
	addr := b.heap.Alloc(int(abi.VecSize))
	v := (*abi.Vec)(unsafe.Pointer(addr))
	v.Size = uint64(len(s))
	v.Data = b.heap.Alloc(len(s))
	heap.Copy(v.Data, []byte(s))
	return addr
}

func (b *Backend) freeName(addr uintptr) {
	if addr == 0 {
		return
	}
	v := (*abi.Vec)(unsafe.Pointer(addr))
	if err := b.heap.Free(v.Data); err != nil {
		b.badDelete()
	}
	if err := b.heap.Free(addr); err != nil {
		b.badDelete()
	}
}

func readString(v *abi.Vec) string {
	if v == nil || v.Size == 0 {
		return ""
	}
	return string(heap.Bytes(v.Data, int(v.Size)))
}

func vals(v *abi.Vec) []abi.Val {
	if v == nil || v.Size == 0 || v.Data == 0 {
		return nil
	}
	return unsafe.Slice((*abi.Val)(unsafe.Pointer(v.Data)), int(v.Size))
}

func ptrs(v *abi.Vec) []uintptr {
	if v == nil || v.Size == 0 || v.Data == 0 {
		return nil
	}
	return unsafe.Slice((*uintptr)(unsafe.Pointer(v.Data)), int(v.Size))
}

// Library returns the function table for this backend.
func (b *Backend) Library() *abi.Library {
	lib := &abi.Library{
		Name: "emul",

		EngineNew:    b.engineNew,
		EngineDelete: b.engineDelete,
		StoreNew:     b.storeNew,
		StoreDelete:  b.storeDelete,

		ModuleNew:      b.moduleNew,
		ModuleDelete:   b.moduleDelete,
		ModuleValidate: b.moduleValidate,
		ModuleExports:  b.moduleExports,
		ModuleImports:  b.moduleImports,

		ExportTypeName:   b.exportTypeName,
		ExportTypeType:   b.exportTypeType,
		ImportTypeModule: b.importTypeModule,
		ImportTypeName:   b.importTypeName,
		ImportTypeType:   b.importTypeType,
		ExternTypeKind:   b.externTypeKind,

		ValTypeNew:    b.valTypeNew,
		ValTypeDelete: b.valTypeDelete,
		ValTypeKind:   b.valTypeKind,

		FuncTypeNew:     b.funcTypeNew,
		FuncTypeDelete:  b.funcTypeDelete,
		FuncTypeParams:  b.funcTypeParams,
		FuncTypeResults: b.funcTypeResults,

		GlobalTypeNew:        b.globalTypeNew,
		GlobalTypeDelete:     b.globalTypeDelete,
		GlobalTypeContent:    b.globalTypeContent,
		GlobalTypeMutability: b.globalTypeMutability,

		MemoryTypeNew:    b.memoryTypeNew,
		MemoryTypeDelete: b.memoryTypeDelete,

		InstanceNew:     b.instanceNew,
		InstanceDelete:  b.instanceDelete,
		InstanceExports: b.instanceExports,

		ExternKind:     b.externKind,
		ExternDelete:   b.externDelete,
		ExternAsFunc:   func(e abi.Extern) abi.Func { return abi.Func(b.externAs(e, abi.ExternFunc)) },
		ExternAsGlobal: func(e abi.Extern) abi.Global { return abi.Global(b.externAs(e, abi.ExternGlobal)) },
		ExternAsTable:  func(e abi.Extern) abi.Table { return abi.Table(b.externAs(e, abi.ExternTable)) },
		ExternAsMemory: func(e abi.Extern) abi.Memory { return abi.Memory(b.externAs(e, abi.ExternMemory)) },
		FuncAsExtern:   func(f abi.Func) abi.Extern { return abi.Extern(f) },
		GlobalAsExtern: func(g abi.Global) abi.Extern { return abi.Extern(g) },
		MemoryAsExtern: func(m abi.Memory) abi.Extern { return abi.Extern(m) },

		FuncNewWithEnv:  b.funcNewWithEnv,
		FuncDelete:      func(f abi.Func) { b.externDelete(abi.Extern(f)) },
		FuncType:        b.funcType,
		FuncParamArity:  b.funcParamArity,
		FuncResultArity: b.funcResultArity,
		FuncCall:        b.funcCall,

		GlobalNew:    b.globalNew,
		GlobalDelete: func(g abi.Global) { b.externDelete(abi.Extern(g)) },
		GlobalType:   b.globalType,
		GlobalGet:    b.globalGet,
		GlobalSet:    b.globalSet,

		TableDelete: func(t abi.Table) { b.externDelete(abi.Extern(t)) },
		TableSize:   b.tableSize,
		TableGrow:   b.tableGrow,

		MemoryNew:      b.memoryNew,
		MemoryDelete:   func(m abi.Memory) { b.externDelete(abi.Extern(m)) },
		MemoryData:     b.memoryData,
		MemoryDataSize: b.memoryDataSize,
		MemorySize:     b.memorySize,
		MemoryGrow:     b.memoryGrow,

		TrapNew:     b.trapNew,
		TrapDelete:  b.trapDelete,
		TrapMessage: b.trapMessage,
		TrapOrigin:  b.trapOrigin,
		TrapTrace:   b.trapTrace,

		FrameDelete:       b.frameDelete,
		FrameFuncIndex:    b.frameFuncIndex,
		FrameFuncOffset:   func(abi.Frame) uintptr { return 0 },
		FrameModuleOffset: func(abi.Frame) uintptr { return 0 },

		ValCopy:   func(out, src *abi.Val) { *out = *src },
		ValDelete: func(*abi.Val) {},

		LastErrorLength:  b.lastErrorLength,
		LastErrorMessage: b.lastErrorMessage,

		Wat2Wasm: b.wat2wasm,

		NewHostCallback:      b.newHostCallback,
		NewFinalizerCallback: b.newFinalizerCallback,

		Close: b.close,
	}

	lib.ByteVec = b.vecFamily(1, nil)
	lib.ValVec = b.vecFamily(int(abi.ValSize), nil)
	lib.ExternVec = b.vecFamily(int(abi.PtrSize), &elemOps{
		dup: func(p uintptr) uintptr { return b.externDup(abi.Extern(p)) },
		del: func(p uintptr) { b.externDelete(abi.Extern(p)) },
	})
	lib.FrameVec = b.vecFamily(int(abi.PtrSize), &elemOps{
		dup: func(p uintptr) uintptr { return uintptr(b.frameCopy(abi.Frame(p))) },
		del: func(p uintptr) { b.frameDelete(abi.Frame(p)) },
	})
	lib.ValTypeVec = b.vecFamily(int(abi.PtrSize), &elemOps{
		dup: func(p uintptr) uintptr { return uintptr(b.valTypeNew(b.valTypeKind(abi.ValType(p)))) },
		del: func(p uintptr) { b.valTypeDelete(abi.ValType(p)) },
	})
	lib.ExportTypeVec = b.vecFamily(int(abi.PtrSize), &elemOps{
		dup: func(p uintptr) uintptr { return uintptr(b.exportTypeCopy(abi.ExportType(p))) },
		del: func(p uintptr) { b.exportTypeDelete(abi.ExportType(p)) },
	})
	lib.ImportTypeVec = b.vecFamily(int(abi.PtrSize), &elemOps{
		dup: func(p uintptr) uintptr { return uintptr(b.importTypeCopy(abi.ImportType(p))) },
		del: func(p uintptr) { b.importTypeDelete(abi.ImportType(p)) },
	})
	return lib
}

func (b *Backend) wat2wasm(_ *abi.Vec, out *abi.Vec) {
	*out = abi.Vec{}
	b.setError("wat2wasm is not supported by the emulated backend")
}

func (b *Backend) close() error {
	return b.objects.Close()
}
