package abi

import "sort"

// VecFuncs is the constructor/destructor family every wasm_X_vec_t has.
//
//	void wasm_X_vec_new_empty(own wasm_X_vec_t* out);
//	void wasm_X_vec_new_uninitialized(own wasm_X_vec_t* out, size_t);
//	void wasm_X_vec_new(own wasm_X_vec_t* out, size_t, own wasm_X_t const[]);
//	void wasm_X_vec_copy(own wasm_X_vec_t* out, const wasm_X_vec_t*);
//	void wasm_X_vec_delete(own wasm_X_vec_t*);
//
// For vectors of owned pointers (externs, frames, valtypes, export and
// import types) delete also deletes every element.
type VecFuncs struct {
	NewEmpty         func(out *Vec)
	NewUninitialized func(out *Vec, size uintptr)
	New              func(out *Vec, size uintptr, data uintptr)
	Copy             func(out *Vec, src *Vec)
	Delete           func(v *Vec)
}

// HostCallback is the Go shape of
//
//	own wasm_trap_t* (*wasm_func_callback_with_env_t)(
//	    void* env, const wasm_val_vec_t* args, wasm_val_vec_t* results);
type HostCallback func(env uintptr, args *Vec, results *Vec) Trap

// FinalizerCallback is the Go shape of void (*)(void* env).
type FinalizerCallback func(env uintptr)

// Library holds every native entry point the binding consumes. Function
// fields match the C signatures; pointer-returning const accessors return
// the raw address. A nil field means the backend does not export the symbol.
type Library struct {
	// Name identifies the backend for logs.
	Name string

	ByteVec       VecFuncs
	ValVec        VecFuncs
	ExternVec     VecFuncs
	FrameVec      VecFuncs
	ValTypeVec    VecFuncs
	ExportTypeVec VecFuncs
	ImportTypeVec VecFuncs

	EngineNew    func() Engine
	EngineDelete func(Engine)

	StoreNew    func(Engine) Store
	StoreDelete func(Store)

	ModuleNew      func(Store, *Vec) Module
	ModuleDelete   func(Module)
	ModuleValidate func(Store, *Vec) bool
	ModuleExports  func(Module, *Vec)
	ModuleImports  func(Module, *Vec)

	// ExportTypeName returns const wasm_name_t*.
	ExportTypeName func(ExportType) uintptr
	ExportTypeType func(ExportType) ExternType
	// ImportTypeModule and ImportTypeName return const wasm_name_t*.
	ImportTypeModule func(ImportType) uintptr
	ImportTypeName   func(ImportType) uintptr
	ImportTypeType   func(ImportType) ExternType
	ExternTypeKind   func(ExternType) ExternKind

	ValTypeNew    func(ValKind) ValType
	ValTypeDelete func(ValType)
	ValTypeKind   func(ValType) ValKind

	// FuncTypeNew takes ownership of both vectors.
	FuncTypeNew    func(params *Vec, results *Vec) FuncType
	FuncTypeDelete func(FuncType)
	// FuncTypeParams and FuncTypeResults return const wasm_valtype_vec_t*.
	FuncTypeParams  func(FuncType) uintptr
	FuncTypeResults func(FuncType) uintptr

	// GlobalTypeNew takes ownership of the valtype.
	GlobalTypeNew        func(ValType, Mutability) GlobalType
	GlobalTypeDelete     func(GlobalType)
	GlobalTypeContent    func(GlobalType) ValType
	GlobalTypeMutability func(GlobalType) Mutability

	MemoryTypeNew    func(*Limits) MemoryType
	MemoryTypeDelete func(MemoryType)

	InstanceNew     func(Store, Module, *Vec, *Trap) Instance
	InstanceDelete  func(Instance)
	InstanceExports func(Instance, *Vec)

	ExternKind     func(Extern) ExternKind
	ExternDelete   func(Extern)
	ExternAsFunc   func(Extern) Func
	ExternAsGlobal func(Extern) Global
	ExternAsTable  func(Extern) Table
	ExternAsMemory func(Extern) Memory
	FuncAsExtern   func(Func) Extern
	GlobalAsExtern func(Global) Extern
	MemoryAsExtern func(Memory) Extern

	FuncNewWithEnv  func(Store, FuncType, uintptr, uintptr, uintptr) Func
	FuncDelete      func(Func)
	FuncType        func(Func) FuncType
	FuncParamArity  func(Func) uintptr
	FuncResultArity func(Func) uintptr
	FuncCall        func(Func, *Vec, *Vec) Trap

	GlobalNew    func(Store, GlobalType, *Val) Global
	GlobalDelete func(Global)
	GlobalType   func(Global) GlobalType
	GlobalGet    func(Global, *Val)
	GlobalSet    func(Global, *Val)

	TableDelete func(Table)
	TableSize   func(Table) uint32
	TableGrow   func(Table, uint32, Ref) bool

	MemoryNew      func(Store, MemoryType) Memory
	MemoryDelete   func(Memory)
	MemoryData     func(Memory) uintptr
	MemoryDataSize func(Memory) uintptr
	MemorySize     func(Memory) uint32
	MemoryGrow     func(Memory, uint32) bool

	TrapNew     func(Store, *Vec) Trap
	TrapDelete  func(Trap)
	TrapMessage func(Trap, *Vec)
	TrapOrigin  func(Trap) Frame
	TrapTrace   func(Trap, *Vec)

	FrameDelete       func(Frame)
	FrameFuncIndex    func(Frame) uint32
	FrameFuncOffset   func(Frame) uintptr
	FrameModuleOffset func(Frame) uintptr

	ValCopy   func(out *Val, src *Val)
	ValDelete func(*Val)

	// LastErrorLength includes the trailing NUL; 0 means no pending error.
	LastErrorLength func() int32
	// LastErrorMessage copies and clears the pending error. It returns the
	// number of bytes written or -1 when buf is too small.
	LastErrorMessage func(buf uintptr, length int32) int32

	Wat2Wasm func(wat *Vec, out *Vec)

	// NewHostCallback and NewFinalizerCallback turn Go functions into
	// function pointers the backend can hand to FuncNewWithEnv.
	NewHostCallback      func(HostCallback) uintptr
	NewFinalizerCallback func(FinalizerCallback) uintptr

	// Close unloads the backend. Every handle obtained from it is invalid
	// afterwards.
	Close func() error
}

// Missing lists the names of required fields a backend left nil.
func (l *Library) Missing() []string {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	for name, v := range map[string]*VecFuncs{
		"ByteVec":    &l.ByteVec,
		"ValVec":     &l.ValVec,
		"ExternVec":  &l.ExternVec,
		"FrameVec":   &l.FrameVec,
		"ValTypeVec": &l.ValTypeVec,
	} {
		check(name+".New", v.New != nil)
		check(name+".NewEmpty", v.NewEmpty != nil)
		check(name+".NewUninitialized", v.NewUninitialized != nil)
		check(name+".Delete", v.Delete != nil)
	}
	check("EngineNew", l.EngineNew != nil)
	check("EngineDelete", l.EngineDelete != nil)
	check("StoreNew", l.StoreNew != nil)
	check("StoreDelete", l.StoreDelete != nil)
	check("ModuleNew", l.ModuleNew != nil)
	check("ModuleDelete", l.ModuleDelete != nil)
	check("InstanceNew", l.InstanceNew != nil)
	check("InstanceDelete", l.InstanceDelete != nil)
	check("InstanceExports", l.InstanceExports != nil)
	check("ExternKind", l.ExternKind != nil)
	check("ExternAsFunc", l.ExternAsFunc != nil)
	check("FuncCall", l.FuncCall != nil)
	check("FuncNewWithEnv", l.FuncNewWithEnv != nil)
	check("FuncDelete", l.FuncDelete != nil)
	check("GlobalGet", l.GlobalGet != nil)
	check("GlobalSet", l.GlobalSet != nil)
	check("TrapNew", l.TrapNew != nil)
	check("TrapDelete", l.TrapDelete != nil)
	check("TrapMessage", l.TrapMessage != nil)
	check("ValCopy", l.ValCopy != nil)
	check("ValDelete", l.ValDelete != nil)
	check("LastErrorLength", l.LastErrorLength != nil)
	check("LastErrorMessage", l.LastErrorMessage != nil)
	check("NewHostCallback", l.NewHostCallback != nil)
	check("NewFinalizerCallback", l.NewFinalizerCallback != nil)
	sort.Strings(missing)
	return missing
}
