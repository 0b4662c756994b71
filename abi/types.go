package abi

import (
	"fmt"
	"unsafe"
)

// Vec is wasm_X_vec_t for any element type X.
type Vec struct {
	Size uint64
	Data uintptr
}

// Empty reports whether the vector holds no elements.
func (v *Vec) Empty() bool {
	return v.Size == 0
}

// ValKind is wasm_valkind_t.
type ValKind uint8

const (
	I32     ValKind = 0
	I64     ValKind = 1
	F32     ValKind = 2
	F64     ValKind = 3
	AnyRef  ValKind = 128
	FuncRef ValKind = 129
)

func (k ValKind) String() string {
	switch k {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case AnyRef:
		return "anyref"
	case FuncRef:
		return "funcref"
	}
	return fmt.Sprintf("valkind(%d)", uint8(k))
}

// IsNum reports whether k is one of the four numeric kinds.
func (k ValKind) IsNum() bool {
	return k <= F64
}

// IsRef reports whether k is a reference kind.
func (k ValKind) IsRef() bool {
	return k == AnyRef || k == FuncRef
}

// Val is wasm_val_t. Of is the 8-byte payload union; only the slot matching
// Kind is meaningful.
type Val struct {
	Kind ValKind
	_    [7]byte
	Of   uint64
}

func (v *Val) I32() int32   { return *(*int32)(unsafe.Pointer(&v.Of)) }
func (v *Val) I64() int64   { return *(*int64)(unsafe.Pointer(&v.Of)) }
func (v *Val) F32() float32 { return *(*float32)(unsafe.Pointer(&v.Of)) }
func (v *Val) F64() float64 { return *(*float64)(unsafe.Pointer(&v.Of)) }
func (v *Val) Ref() uintptr { return *(*uintptr)(unsafe.Pointer(&v.Of)) }
func (v *Val) Bits() uint64 { return v.Of }

func (v *Val) SetI32(x int32) {
	v.Of = 0
	*(*int32)(unsafe.Pointer(&v.Of)) = x
}

func (v *Val) SetI64(x int64) {
	*(*int64)(unsafe.Pointer(&v.Of)) = x
}

func (v *Val) SetF32(x float32) {
	v.Of = 0
	*(*float32)(unsafe.Pointer(&v.Of)) = x
}

func (v *Val) SetF64(x float64) {
	*(*float64)(unsafe.Pointer(&v.Of)) = x
}

func (v *Val) SetRef(p uintptr) {
	v.Of = 0
	*(*uintptr)(unsafe.Pointer(&v.Of)) = p
}

// ExternKind is wasm_externkind_t.
type ExternKind uint8

const (
	ExternFunc   ExternKind = 0
	ExternGlobal ExternKind = 1
	ExternTable  ExternKind = 2
	ExternMemory ExternKind = 3
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternGlobal:
		return "global"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	}
	return fmt.Sprintf("externkind(%d)", uint8(k))
}

// Mutability is wasm_mutability_t.
type Mutability uint8

const (
	Const Mutability = 0
	Var   Mutability = 1
)

// Limits is wasm_limits_t.
type Limits struct {
	Min uint32
	Max uint32
}

// LimitsMaxDefault is wasm_limits_max_default.
const LimitsMaxDefault uint32 = 0xffffffff

// Native handles. Each is an opaque address owned by the native runtime or
// by whoever created it; zero is NULL.
type (
	Engine     uintptr
	Store      uintptr
	Module     uintptr
	Instance   uintptr
	Extern     uintptr
	Func       uintptr
	Global     uintptr
	Table      uintptr
	Memory     uintptr
	Trap       uintptr
	Frame      uintptr
	FuncType   uintptr
	GlobalType uintptr
	MemoryType uintptr
	ValType    uintptr
	ExternType uintptr
	ExportType uintptr
	ImportType uintptr
	Ref        uintptr
)

// ResourceKind names the kind of native resource behind a Handle.
type ResourceKind uint8

const (
	KindEngine ResourceKind = iota
	KindStore
	KindModule
	KindInstance
	KindExtern
	KindFunc
	KindGlobal
	KindTable
	KindMemory
	KindTrap
	KindFrame
	KindFuncType
	KindGlobalType
	KindMemoryType
	KindValType
	KindExportType
	KindImportType
	KindVec
)

var resourceKindNames = [...]string{
	KindEngine:     "engine",
	KindStore:      "store",
	KindModule:     "module",
	KindInstance:   "instance",
	KindExtern:     "extern",
	KindFunc:       "func",
	KindGlobal:     "global",
	KindTable:      "table",
	KindMemory:     "memory",
	KindTrap:       "trap",
	KindFrame:      "frame",
	KindFuncType:   "functype",
	KindGlobalType: "globaltype",
	KindMemoryType: "memorytype",
	KindValType:    "valtype",
	KindExportType: "exporttype",
	KindImportType: "importtype",
	KindVec:        "vec",
}

func (k ResourceKind) String() string {
	if int(k) < len(resourceKindNames) {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("resource(%d)", uint8(k))
}

// Handle is a native address tagged with its resource kind.
type Handle struct {
	Addr uintptr
	Kind ResourceKind
}

// IsNull reports whether the handle is the NULL address.
func (h Handle) IsNull() bool {
	return h.Addr == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%s@%#x", h.Kind, h.Addr)
}

const (
	// VecSize is sizeof(wasm_X_vec_t).
	VecSize = unsafe.Sizeof(Vec{})
	// ValSize is sizeof(wasm_val_t).
	ValSize = unsafe.Sizeof(Val{})
	// PtrSize is sizeof(void*).
	PtrSize = unsafe.Sizeof(uintptr(0))
)
