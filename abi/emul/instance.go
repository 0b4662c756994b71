package emul

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-capi/abi"
)

type instance struct {
	store   *store
	module  *module
	runtime *instanceRuntime
	guest   api.Module
	linked  []*extern
}

func sameKinds(a, b []abi.ValKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isTrap tells a trap raised while instantiating (the start function) from
// a link or validation failure.
func isTrap(err error) bool {
	return strings.Contains(err.Error(), "wasm stack trace:")
}

func (b *Backend) instanceNew(s abi.Store, m abi.Module, imports *abi.Vec, trapOut *abi.Trap) abi.Instance {
	st := get[*store](b, uintptr(s), kindStore)
	mod := get[*module](b, uintptr(m), kindModule)
	if st == nil || mod == nil {
		b.setError("invalid store or module")
		return 0
	}

	given := ptrs(imports)
	if len(given) != len(mod.imports) {
		b.setError(fmt.Sprintf("module requires %d imports, %d provided", len(mod.imports), len(given)))
		return 0
	}

	rt := wazero.NewRuntimeWithConfig(b.ctx, st.engine.config)
	linkedOK := false
	defer func() {
		if !linkedOK {
			_ = rt.Close(b.ctx)
		}
	}()

	builders := make(map[string]wazero.HostModuleBuilder)
	var order []string
	linked := make([]*extern, 0, len(given))
	for i, imp := range mod.imports {
		qualified := imp.module + "." + imp.name
		ext := get[*extern](b, given[i], kindExtern)
		if ext == nil {
			b.setError(fmt.Sprintf("import %s: invalid extern", qualified))
			return 0
		}
		if imp.kind != abi.ExternFunc {
			b.setError(fmt.Sprintf("import %s: %s imports are not supported by the emulated backend", qualified, imp.kind))
			return 0
		}
		if ext.kind != imp.kind {
			b.setError(fmt.Sprintf("import %s: expected %s, got %s", qualified, imp.kind, ext.kind))
			return 0
		}
		fn := ext.fn
		if !sameKinds(fn.params, imp.params) || !sameKinds(fn.results, imp.results) {
			b.setError(fmt.Sprintf("import %s: signature mismatch", qualified))
			return 0
		}

		hb, ok := builders[imp.module]
		if !ok {
			hb = rt.NewHostModuleBuilder(imp.module)
			builders[imp.module] = hb
			order = append(order, imp.module)
		}
		hb.NewFunctionBuilder().
			WithGoModuleFunction(b.goModuleFunc(fn), toValueTypes(fn.params), toValueTypes(fn.results)).
			Export(imp.name)
		linked = append(linked, ext)
	}

	for _, name := range order {
		if _, err := builders[name].Instantiate(b.ctx); err != nil {
			b.setError(err.Error())
			return 0
		}
	}

	compiled, err := rt.CompileModule(b.ctx, mod.binary)
	if err != nil {
		b.setError(err.Error())
		return 0
	}
	guest, err := rt.InstantiateModule(b.ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		if isTrap(err) && trapOut != nil {
			*trapOut = b.trapFromError(err, mod)
			return 0
		}
		b.setError(err.Error())
		return 0
	}
	linkedOK = true

	owner := &instanceRuntime{rt: rt}
	st.mu.Lock()
	st.runtimes = append(st.runtimes, rt)
	st.mu.Unlock()

	st.retain(owner, nil)
	for _, ext := range linked {
		st.retain(ext.owner, ext.hostFunc())
	}

	return abi.Instance(b.alloc(kindInstance, &instance{
		store:   st,
		module:  mod,
		runtime: owner,
		guest:   guest,
		linked:  linked,
	}))
}

func (b *Backend) instanceDelete(i abi.Instance) {
	obj, ok := b.free(uintptr(i), kindInstance)
	if !ok {
		return
	}
	inst := obj.(*instance)
	for _, ext := range inst.linked {
		b.release(inst.store, ext.owner, ext.hostFunc())
	}
	b.release(inst.store, inst.runtime, nil)
}

func (b *Backend) instanceExports(i abi.Instance, out *abi.Vec) {
	inst := get[*instance](b, uintptr(i), kindInstance)
	if inst == nil {
		*out = abi.Vec{}
		return
	}
	addrs := make([]uintptr, 0, len(inst.module.exports))
	for _, e := range inst.module.exports {
		ext := b.exportExtern(inst, e)
		if ext == nil {
			continue
		}
		addrs = append(addrs, b.newExtern(ext))
	}
	b.newPtrVec(out, addrs)
}

func (b *Backend) exportExtern(inst *instance, e exportDesc) *extern {
	ext := &extern{kind: e.kind, store: inst.store, owner: inst.runtime}
	decoded := inst.module.decoded

	switch e.kind {
	case abi.ExternFunc:
		fn := inst.guest.ExportedFunction(e.name)
		if fn == nil {
			return nil
		}
		def := fn.Definition()
		ext.fn = &funcImpl{
			params:  fromValueTypes(def.ParamTypes()),
			results: fromValueTypes(def.ResultTypes()),
			guest:   fn,
			module:  inst.module,
		}
	case abi.ExternGlobal:
		g := inst.guest.ExportedGlobal(e.name)
		if g == nil {
			return nil
		}
		_, mutable := g.(api.MutableGlobal)
		if idx := int(e.index) - inst.module.importCount(abi.ExternGlobal); idx >= 0 && idx < len(decoded.GlobalSection) {
			mutable = decoded.GlobalSection[idx].Type.Mutable
		}
		ext.global = &globalImpl{kind: fromValueType(g.Type()), mutable: mutable, live: g}
	case abi.ExternMemory:
		mem := inst.guest.ExportedMemory(e.name)
		if mem == nil {
			return nil
		}
		ext.memory = liveMemory{mem: mem}
	case abi.ExternTable:
		ext.table = &tableImpl{}
		if idx := int(e.index) - inst.module.importCount(abi.ExternTable); idx >= 0 && idx < len(decoded.TableSection) {
			ext.table.size = decoded.TableSection[idx].Min
		}
	}
	return ext
}
