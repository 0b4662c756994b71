package emul

import (
	"math"
	"sync"
	"unsafe"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-capi/abi"
)

const (
	pageSize = 65536
	maxPages = 65536
)

// instanceRuntime is the wazero runtime behind one instance. It stays open
// while the instance or any extern taken from it is alive.
type instanceRuntime struct {
	rt   wazero.Runtime
	refs int
}

// extern is the object behind wasm_extern_t and every concrete extern
// type; the casts between them return the same address.
type extern struct {
	kind   abi.ExternKind
	store  *store
	owner  *instanceRuntime
	fn     *funcImpl
	global *globalImpl
	table  *tableImpl
	memory memoryImpl
}

type globalImpl struct {
	kind    abi.ValKind
	mutable bool
	live    api.Global

	mu   sync.Mutex
	bits uint64
}

func (g *globalImpl) get() uint64 {
	if g.live != nil {
		return g.live.Get()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

type tableImpl struct {
	size uint32
}

type memoryImpl interface {
	data() []byte
	pages() uint32
	grow(delta uint32) bool
}

type liveMemory struct {
	mem api.Memory
}

func (m liveMemory) data() []byte {
	buf, _ := m.mem.Read(0, m.mem.Size())
	return buf
}

func (m liveMemory) pages() uint32 {
	return m.mem.Size() / pageSize
}

func (m liveMemory) grow(delta uint32) bool {
	_, ok := m.mem.Grow(delta)
	return ok
}

type hostMemory struct {
	mu  sync.Mutex
	buf []byte
	max uint32
}

func (m *hostMemory) data() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf
}

func (m *hostMemory) pages() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.buf) / pageSize)
}

func (m *hostMemory) grow(delta uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := uint32(len(m.buf) / pageSize)
	if uint64(cur)+uint64(delta) > uint64(m.max) {
		return false
	}
	grown := make([]byte, (int(cur)+int(delta))*pageSize)
	copy(grown, m.buf)
	m.buf = grown
	return true
}

func (st *store) retain(owner *instanceRuntime, hf *hostFunc) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if owner != nil {
		owner.refs++
	}
	if hf != nil {
		hf.refs++
	}
}

// release drops one reference from owner and hf. It closes a runtime that
// nothing references and returns a host func whose finalizer is due.
func (b *Backend) release(st *store, owner *instanceRuntime, hf *hostFunc) {
	var closeRT wazero.Runtime
	var finalize *hostFunc

	st.mu.Lock()
	if owner != nil {
		owner.refs--
		if owner.refs == 0 {
			closeRT = owner.rt
			for i, r := range st.runtimes {
				if r == owner.rt {
					st.runtimes = append(st.runtimes[:i], st.runtimes[i+1:]...)
					break
				}
			}
		}
	}
	if hf != nil {
		hf.refs--
		if hf.refs == 0 {
			if _, pending := st.funcs[hf]; pending {
				delete(st.funcs, hf)
				finalize = hf
			}
		}
	}
	st.mu.Unlock()

	if closeRT != nil {
		_ = closeRT.Close(b.ctx)
	}
	if finalize != nil {
		b.finalize(finalize)
	}
}

func (e *extern) hostFunc() *hostFunc {
	if e.fn != nil {
		return e.fn.host
	}
	return nil
}

func (b *Backend) newExtern(e *extern) uintptr {
	e.store.retain(e.owner, e.hostFunc())
	return b.alloc(kindExtern, e)
}

func (b *Backend) externDup(e abi.Extern) uintptr {
	ext := get[*extern](b, uintptr(e), kindExtern)
	if ext == nil {
		return 0
	}
	dup := *ext
	return b.newExtern(&dup)
}

func (b *Backend) externDelete(e abi.Extern) {
	obj, ok := b.free(uintptr(e), kindExtern)
	if !ok {
		return
	}
	ext := obj.(*extern)
	b.release(ext.store, ext.owner, ext.hostFunc())
}

func (b *Backend) externKind(e abi.Extern) abi.ExternKind {
	if ext := get[*extern](b, uintptr(e), kindExtern); ext != nil {
		return ext.kind
	}
	return abi.ExternFunc
}

func (b *Backend) externAs(e abi.Extern, kind abi.ExternKind) uintptr {
	ext := get[*extern](b, uintptr(e), kindExtern)
	if ext == nil || ext.kind != kind {
		return 0
	}
	return uintptr(e)
}

func (b *Backend) externOf(addr uintptr, kind abi.ExternKind) *extern {
	ext := get[*extern](b, addr, kindExtern)
	if ext == nil || ext.kind != kind {
		return nil
	}
	return ext
}

func toStack(v *abi.Val) uint64 {
	switch v.Kind {
	case abi.I32:
		return uint64(uint32(v.I32()))
	case abi.F32:
		return uint64(math.Float32bits(v.F32()))
	}
	return v.Bits()
}

func fromStack(kind abi.ValKind, x uint64) abi.Val {
	v := abi.Val{Kind: kind}
	switch kind {
	case abi.I32:
		v.SetI32(int32(uint32(x)))
	case abi.I64:
		v.SetI64(int64(x))
	case abi.F32:
		v.SetF32(math.Float32frombits(uint32(x)))
	case abi.F64:
		v.SetF64(math.Float64frombits(x))
	default:
		v.SetRef(uintptr(x))
	}
	return v
}

func (b *Backend) globalNew(s abi.Store, gt abi.GlobalType, init *abi.Val) abi.Global {
	st := get[*store](b, uintptr(s), kindStore)
	t := get[*globalType](b, uintptr(gt), kindGlobalType)
	if st == nil || t == nil {
		b.setError("invalid store or global type")
		return 0
	}
	kind := b.valTypeKind(t.content)
	if init.Kind != kind {
		b.setError("global initializer is " + init.Kind.String() + ", expected " + kind.String())
		return 0
	}
	return abi.Global(b.newExtern(&extern{
		kind:  abi.ExternGlobal,
		store: st,
		global: &globalImpl{
			kind:    kind,
			mutable: t.mut == abi.Var,
			bits:    toStack(init),
		},
	}))
}

func (b *Backend) globalType(g abi.Global) abi.GlobalType {
	ext := b.externOf(uintptr(g), abi.ExternGlobal)
	if ext == nil {
		return 0
	}
	mut := abi.Const
	if ext.global.mutable {
		mut = abi.Var
	}
	return b.globalTypeNew(b.valTypeNew(ext.global.kind), mut)
}

func (b *Backend) globalGet(g abi.Global, out *abi.Val) {
	ext := b.externOf(uintptr(g), abi.ExternGlobal)
	if ext == nil {
		b.setError("invalid global")
		return
	}
	*out = fromStack(ext.global.kind, ext.global.get())
}

func (b *Backend) globalSet(g abi.Global, v *abi.Val) {
	ext := b.externOf(uintptr(g), abi.ExternGlobal)
	if ext == nil {
		b.setError("invalid global")
		return
	}
	gl := ext.global
	if v.Kind != gl.kind {
		b.setError("cannot set " + gl.kind.String() + " global to " + v.Kind.String())
		return
	}
	if !gl.mutable {
		b.setError("cannot set immutable global")
		return
	}
	if gl.live != nil {
		mg, ok := gl.live.(api.MutableGlobal)
		if !ok {
			b.setError("cannot set immutable global")
			return
		}
		mg.Set(toStack(v))
		return
	}
	gl.mu.Lock()
	gl.bits = toStack(v)
	gl.mu.Unlock()
}

func (b *Backend) tableSize(t abi.Table) uint32 {
	if ext := b.externOf(uintptr(t), abi.ExternTable); ext != nil {
		return ext.table.size
	}
	return 0
}

func (b *Backend) tableGrow(t abi.Table, delta uint32, _ abi.Ref) bool {
	if b.externOf(uintptr(t), abi.ExternTable) == nil {
		return false
	}
	if delta == 0 {
		return true
	}
	b.setError("table.grow is not supported by the emulated backend")
	return false
}

func (b *Backend) memoryNew(s abi.Store, mt abi.MemoryType) abi.Memory {
	st := get[*store](b, uintptr(s), kindStore)
	t := get[*memoryType](b, uintptr(mt), kindMemoryType)
	if st == nil || t == nil {
		b.setError("invalid store or memory type")
		return 0
	}
	limit := t.limits.Max
	if limit == abi.LimitsMaxDefault || limit > maxPages {
		limit = maxPages
	}
	if t.limits.Min > limit {
		b.setError("memory minimum exceeds maximum")
		return 0
	}
	return abi.Memory(b.newExtern(&extern{
		kind:   abi.ExternMemory,
		store:  st,
		memory: &hostMemory{buf: make([]byte, int(t.limits.Min)*pageSize), max: limit},
	}))
}

func (b *Backend) memoryData(m abi.Memory) uintptr {
	ext := b.externOf(uintptr(m), abi.ExternMemory)
	if ext == nil {
		return 0
	}
	buf := ext.memory.data()
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func (b *Backend) memoryDataSize(m abi.Memory) uintptr {
	if ext := b.externOf(uintptr(m), abi.ExternMemory); ext != nil {
		return uintptr(len(ext.memory.data()))
	}
	return 0
}

func (b *Backend) memorySize(m abi.Memory) uint32 {
	if ext := b.externOf(uintptr(m), abi.ExternMemory); ext != nil {
		return ext.memory.pages()
	}
	return 0
}

func (b *Backend) memoryGrow(m abi.Memory, delta uint32) bool {
	if ext := b.externOf(uintptr(m), abi.ExternMemory); ext != nil {
		return ext.memory.grow(delta)
	}
	return false
}
