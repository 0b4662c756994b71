package emul

import (
	"sync"

	"github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/wasm"
	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/internal/heap"
)

type engine struct {
	config wazero.RuntimeConfig
	cache  wazero.CompilationCache
}

// store compiles modules in its own runtime and gives every instance a
// runtime of its own, so host modules never collide on import names.
type store struct {
	engine  *engine
	runtime wazero.Runtime

	mu       sync.Mutex
	runtimes []wazero.Runtime
	funcs    map[*hostFunc]struct{}
}

type exportDesc struct {
	name  string
	kind  abi.ExternKind
	index uint32
}

type importDesc struct {
	module, name string
	kind         abi.ExternKind
	params       []abi.ValKind
	results      []abi.ValKind
}

type module struct {
	store    *store
	binary   []byte
	compiled wazero.CompiledModule
	decoded  *wasm.Module
	exports  []exportDesc
	imports  []importDesc
	names    map[string]uint32
}

// importCount returns how many imports of kind precede the module's own
// definitions in that index space.
func (m *module) importCount(kind abi.ExternKind) int {
	n := 0
	for _, imp := range m.imports {
		if imp.kind == kind {
			n++
		}
	}
	return n
}

func externKindOf(t byte) abi.ExternKind {
	switch t {
	case 0x01:
		return abi.ExternTable
	case 0x02:
		return abi.ExternMemory
	case 0x03:
		return abi.ExternGlobal
	}
	return abi.ExternFunc
}

func (b *Backend) engineNew() abi.Engine {
	cache := wazero.NewCompilationCache()
	config := wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithCloseOnContextDone(false)
	return abi.Engine(b.alloc(kindEngine, &engine{config: config, cache: cache}))
}

func (b *Backend) engineDelete(e abi.Engine) {
	obj, ok := b.free(uintptr(e), kindEngine)
	if !ok {
		return
	}
	_ = obj.(*engine).cache.Close(b.ctx)
}

func (b *Backend) storeNew(e abi.Engine) abi.Store {
	eng := get[*engine](b, uintptr(e), kindEngine)
	if eng == nil {
		b.setError("invalid engine")
		return 0
	}
	s := &store{
		engine:  eng,
		runtime: wazero.NewRuntimeWithConfig(b.ctx, eng.config),
		funcs:   make(map[*hostFunc]struct{}),
	}
	return abi.Store(b.alloc(kindStore, s))
}

func (b *Backend) storeDelete(s abi.Store) {
	obj, ok := b.free(uintptr(s), kindStore)
	if !ok {
		return
	}
	st := obj.(*store)

	st.mu.Lock()
	runtimes := st.runtimes
	funcs := st.funcs
	st.runtimes, st.funcs = nil, nil
	st.mu.Unlock()

	for _, rt := range runtimes {
		_ = rt.Close(b.ctx)
	}
	_ = st.runtime.Close(b.ctx)
	for hf := range funcs {
		b.finalize(hf)
	}
}

// compile decodes and compiles bin, reporting failures through the error
// slot.
func (b *Backend) compile(st *store, bin []byte) (*module, bool) {
	decoded, err := binary.DecodeModule(bin, wasm.CoreFeaturesV2)
	if err != nil {
		b.setError(err.Error())
		return nil, false
	}
	compiled, err := st.runtime.CompileModule(b.ctx, bin)
	if err != nil {
		b.setError(err.Error())
		return nil, false
	}

	m := &module{
		store:    st,
		binary:   bin,
		compiled: compiled,
		decoded:  decoded,
		names:    make(map[string]uint32),
	}

	for i := range decoded.ExportSection {
		e := decoded.ExportSection[i]
		m.exports = append(m.exports, exportDesc{
			name:  e.Name,
			kind:  externKindOf(byte(e.Type)),
			index: uint32(e.Index),
		})
	}

	funcs := compiled.ImportedFunctions()
	next := 0
	for i := range decoded.ImportSection {
		imp := decoded.ImportSection[i]
		d := importDesc{module: imp.Module, name: imp.Name, kind: externKindOf(byte(imp.Type))}
		if d.kind == abi.ExternFunc && next < len(funcs) {
			def := funcs[next]
			next++
			d.params = fromValueTypes(def.ParamTypes())
			d.results = fromValueTypes(def.ResultTypes())
		}
		m.imports = append(m.imports, d)
	}

	if decoded.NameSection != nil {
		for _, na := range decoded.NameSection.FunctionNames {
			m.names[na.Name] = uint32(na.Index)
		}
	}
	return m, true
}

func (b *Backend) moduleNew(s abi.Store, bin *abi.Vec) abi.Module {
	st := get[*store](b, uintptr(s), kindStore)
	if st == nil {
		b.setError("invalid store")
		return 0
	}
	buf := make([]byte, bin.Size)
	copy(buf, heap.Bytes(bin.Data, int(bin.Size)))

	m, ok := b.compile(st, buf)
	if !ok {
		return 0
	}
	return abi.Module(b.alloc(kindModule, m))
}

func (b *Backend) moduleDelete(m abi.Module) {
	obj, ok := b.free(uintptr(m), kindModule)
	if !ok {
		return
	}
	_ = obj.(*module).compiled.Close(b.ctx)
}

func (b *Backend) moduleValidate(s abi.Store, bin *abi.Vec) bool {
	st := get[*store](b, uintptr(s), kindStore)
	if st == nil {
		b.setError("invalid store")
		return false
	}
	buf := make([]byte, bin.Size)
	copy(buf, heap.Bytes(bin.Data, int(bin.Size)))

	m, ok := b.compile(st, buf)
	if !ok {
		return false
	}
	_ = m.compiled.Close(b.ctx)
	return true
}

type externType struct {
	kind abi.ExternKind
}

type exportType struct {
	name uintptr
	typ  abi.ExternType
}

type importType struct {
	module uintptr
	name   uintptr
	typ    abi.ExternType
}

func (b *Backend) newExternType(kind abi.ExternKind) abi.ExternType {
	return abi.ExternType(b.alloc(kindExternType, &externType{kind: kind}))
}

func (b *Backend) moduleExports(m abi.Module, out *abi.Vec) {
	mod := get[*module](b, uintptr(m), kindModule)
	if mod == nil {
		*out = abi.Vec{}
		return
	}
	addrs := make([]uintptr, len(mod.exports))
	for i, e := range mod.exports {
		addrs[i] = uintptr(b.newExportType(e.name, e.kind))
	}
	b.newPtrVec(out, addrs)
}

func (b *Backend) newExportType(name string, kind abi.ExternKind) abi.ExportType {
	return abi.ExportType(b.alloc(kindExportType, &exportType{
		name: b.newName(name),
		typ:  b.newExternType(kind),
	}))
}

func (b *Backend) moduleImports(m abi.Module, out *abi.Vec) {
	mod := get[*module](b, uintptr(m), kindModule)
	if mod == nil {
		*out = abi.Vec{}
		return
	}
	addrs := make([]uintptr, len(mod.imports))
	for i, imp := range mod.imports {
		addrs[i] = uintptr(b.newImportType(imp.module, imp.name, imp.kind))
	}
	b.newPtrVec(out, addrs)
}

func (b *Backend) newImportType(moduleName, name string, kind abi.ExternKind) abi.ImportType {
	return abi.ImportType(b.alloc(kindImportType, &importType{
		module: b.newName(moduleName),
		name:   b.newName(name),
		typ:    b.newExternType(kind),
	}))
}

func (b *Backend) exportTypeName(e abi.ExportType) uintptr {
	if et := get[*exportType](b, uintptr(e), kindExportType); et != nil {
		return et.name
	}
	return 0
}

func (b *Backend) exportTypeType(e abi.ExportType) abi.ExternType {
	if et := get[*exportType](b, uintptr(e), kindExportType); et != nil {
		return et.typ
	}
	return 0
}

func (b *Backend) exportTypeCopy(e abi.ExportType) abi.ExportType {
	et := get[*exportType](b, uintptr(e), kindExportType)
	if et == nil {
		return 0
	}
	name := readString((*abi.Vec)(ptrAt(et.name)))
	return b.newExportType(name, b.externTypeKind(et.typ))
}

func (b *Backend) exportTypeDelete(e abi.ExportType) {
	obj, ok := b.free(uintptr(e), kindExportType)
	if !ok {
		return
	}
	et := obj.(*exportType)
	b.freeName(et.name)
	b.free(uintptr(et.typ), kindExternType)
}

func (b *Backend) importTypeModule(i abi.ImportType) uintptr {
	if it := get[*importType](b, uintptr(i), kindImportType); it != nil {
		return it.module
	}
	return 0
}

func (b *Backend) importTypeName(i abi.ImportType) uintptr {
	if it := get[*importType](b, uintptr(i), kindImportType); it != nil {
		return it.name
	}
	return 0
}

func (b *Backend) importTypeType(i abi.ImportType) abi.ExternType {
	if it := get[*importType](b, uintptr(i), kindImportType); it != nil {
		return it.typ
	}
	return 0
}

func (b *Backend) importTypeCopy(i abi.ImportType) abi.ImportType {
	it := get[*importType](b, uintptr(i), kindImportType)
	if it == nil {
		return 0
	}
	return b.newImportType(
		readString((*abi.Vec)(ptrAt(it.module))),
		readString((*abi.Vec)(ptrAt(it.name))),
		b.externTypeKind(it.typ),
	)
}

func (b *Backend) importTypeDelete(i abi.ImportType) {
	obj, ok := b.free(uintptr(i), kindImportType)
	if !ok {
		return
	}
	it := obj.(*importType)
	b.freeName(it.module)
	b.freeName(it.name)
	b.free(uintptr(it.typ), kindExternType)
}

func (b *Backend) externTypeKind(t abi.ExternType) abi.ExternKind {
	if et := get[*externType](b, uintptr(t), kindExternType); et != nil {
		return et.kind
	}
	return abi.ExternFunc
}
