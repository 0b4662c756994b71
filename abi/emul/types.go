package emul

import (
	"unsafe"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-capi/abi"
)

// wazero's api package has no funcref value type constant.
const valueTypeFuncref api.ValueType = 0x70

func ptrAt(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

func toValueType(k abi.ValKind) api.ValueType {
	switch k {
	case abi.I32:
		return api.ValueTypeI32
	case abi.I64:
		return api.ValueTypeI64
	case abi.F32:
		return api.ValueTypeF32
	case abi.F64:
		return api.ValueTypeF64
	case abi.FuncRef:
		return valueTypeFuncref
	}
	return api.ValueTypeExternref
}

func fromValueType(t api.ValueType) abi.ValKind {
	switch t {
	case api.ValueTypeI32:
		return abi.I32
	case api.ValueTypeI64:
		return abi.I64
	case api.ValueTypeF32:
		return abi.F32
	case api.ValueTypeF64:
		return abi.F64
	case valueTypeFuncref:
		return abi.FuncRef
	}
	return abi.AnyRef
}

func toValueTypes(ks []abi.ValKind) []api.ValueType {
	out := make([]api.ValueType, len(ks))
	for i, k := range ks {
		out[i] = toValueType(k)
	}
	return out
}

func fromValueTypes(ts []api.ValueType) []abi.ValKind {
	out := make([]abi.ValKind, len(ts))
	for i, t := range ts {
		out[i] = fromValueType(t)
	}
	return out
}

type valType struct {
	kind abi.ValKind
}

func (b *Backend) valTypeNew(k abi.ValKind) abi.ValType {
	return abi.ValType(b.alloc(kindValType, &valType{kind: k}))
}

func (b *Backend) valTypeDelete(v abi.ValType) {
	b.free(uintptr(v), kindValType)
}

func (b *Backend) valTypeKind(v abi.ValType) abi.ValKind {
	if vt := get[*valType](b, uintptr(v), kindValType); vt != nil {
		return vt.kind
	}
	return abi.I32
}

// funcType owns two heap cells, each holding a wasm_valtype_vec_t.
type funcType struct {
	params  uintptr
	results uintptr
}

func (b *Backend) funcTypeNew(params, results *abi.Vec) abi.FuncType {
	ft := &funcType{
		params:  b.heap.Alloc(int(abi.VecSize)),
		results: b.heap.Alloc(int(abi.VecSize)),
	}
	*(*abi.Vec)(ptrAt(ft.params)) = *params
	*(*abi.Vec)(ptrAt(ft.results)) = *results
	return abi.FuncType(b.alloc(kindFuncType, ft))
}

// newFuncType builds a functype from kinds, the way a caller would.
func (b *Backend) newFuncType(params, results []abi.ValKind) abi.FuncType {
	mk := func(ks []abi.ValKind) abi.Vec {
		addrs := make([]uintptr, len(ks))
		for i, k := range ks {
			addrs[i] = uintptr(b.valTypeNew(k))
		}
		var v abi.Vec
		b.newPtrVec(&v, addrs)
		return v
	}
	p, r := mk(params), mk(results)
	return b.funcTypeNew(&p, &r)
}

func (b *Backend) deleteValTypeVec(cell uintptr) {
	v := (*abi.Vec)(ptrAt(cell))
	for _, p := range ptrs(v) {
		b.valTypeDelete(abi.ValType(p))
	}
	if v.Data != 0 {
		if err := b.heap.Free(v.Data); err != nil {
			b.badDelete()
		}
	}
	if err := b.heap.Free(cell); err != nil {
		b.badDelete()
	}
}

func (b *Backend) funcTypeDelete(f abi.FuncType) {
	obj, ok := b.free(uintptr(f), kindFuncType)
	if !ok {
		return
	}
	ft := obj.(*funcType)
	b.deleteValTypeVec(ft.params)
	b.deleteValTypeVec(ft.results)
}

func (b *Backend) funcTypeParams(f abi.FuncType) uintptr {
	if ft := get[*funcType](b, uintptr(f), kindFuncType); ft != nil {
		return ft.params
	}
	return 0
}

func (b *Backend) funcTypeResults(f abi.FuncType) uintptr {
	if ft := get[*funcType](b, uintptr(f), kindFuncType); ft != nil {
		return ft.results
	}
	return 0
}

// funcTypeKinds reads both sides of a functype.
func (b *Backend) funcTypeKinds(f abi.FuncType) (params, results []abi.ValKind, ok bool) {
	ft := get[*funcType](b, uintptr(f), kindFuncType)
	if ft == nil {
		return nil, nil, false
	}
	read := func(cell uintptr) []abi.ValKind {
		elems := ptrs((*abi.Vec)(ptrAt(cell)))
		out := make([]abi.ValKind, len(elems))
		for i, p := range elems {
			out[i] = b.valTypeKind(abi.ValType(p))
		}
		return out
	}
	return read(ft.params), read(ft.results), true
}

type globalType struct {
	content abi.ValType
	mut     abi.Mutability
}

func (b *Backend) globalTypeNew(content abi.ValType, mut abi.Mutability) abi.GlobalType {
	if get[*valType](b, uintptr(content), kindValType) == nil {
		b.setError("invalid valtype")
		return 0
	}
	return abi.GlobalType(b.alloc(kindGlobalType, &globalType{content: content, mut: mut}))
}

func (b *Backend) globalTypeDelete(g abi.GlobalType) {
	obj, ok := b.free(uintptr(g), kindGlobalType)
	if !ok {
		return
	}
	b.valTypeDelete(obj.(*globalType).content)
}

func (b *Backend) globalTypeContent(g abi.GlobalType) abi.ValType {
	if gt := get[*globalType](b, uintptr(g), kindGlobalType); gt != nil {
		return gt.content
	}
	return 0
}

func (b *Backend) globalTypeMutability(g abi.GlobalType) abi.Mutability {
	if gt := get[*globalType](b, uintptr(g), kindGlobalType); gt != nil {
		return gt.mut
	}
	return abi.Const
}

type memoryType struct {
	limits abi.Limits
}

func (b *Backend) memoryTypeNew(l *abi.Limits) abi.MemoryType {
	return abi.MemoryType(b.alloc(kindMemoryType, &memoryType{limits: *l}))
}

func (b *Backend) memoryTypeDelete(m abi.MemoryType) {
	b.free(uintptr(m), kindMemoryType)
}
