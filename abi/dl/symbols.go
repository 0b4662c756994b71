package dl

import (
	"github.com/wippyai/wasm-capi/abi"
)

// symbol pairs a C symbol with the address of the Library field bound to it.
type symbol struct {
	name string
	fn   any
}

var vecFamilies = []struct {
	prefix string
	field  func(*abi.Library) *abi.VecFuncs
}{
	{"wasm_byte_vec", func(l *abi.Library) *abi.VecFuncs { return &l.ByteVec }},
	{"wasm_val_vec", func(l *abi.Library) *abi.VecFuncs { return &l.ValVec }},
	{"wasm_extern_vec", func(l *abi.Library) *abi.VecFuncs { return &l.ExternVec }},
	{"wasm_frame_vec", func(l *abi.Library) *abi.VecFuncs { return &l.FrameVec }},
	{"wasm_valtype_vec", func(l *abi.Library) *abi.VecFuncs { return &l.ValTypeVec }},
	{"wasm_exporttype_vec", func(l *abi.Library) *abi.VecFuncs { return &l.ExportTypeVec }},
	{"wasm_importtype_vec", func(l *abi.Library) *abi.VecFuncs { return &l.ImportTypeVec }},
}

// symbols lists every native entry point of l.
func symbols(l *abi.Library) []symbol {
	syms := []symbol{
		{"wasm_engine_new", &l.EngineNew},
		{"wasm_engine_delete", &l.EngineDelete},
		{"wasm_store_new", &l.StoreNew},
		{"wasm_store_delete", &l.StoreDelete},

		{"wasm_module_new", &l.ModuleNew},
		{"wasm_module_delete", &l.ModuleDelete},
		{"wasm_module_validate", &l.ModuleValidate},
		{"wasm_module_exports", &l.ModuleExports},
		{"wasm_module_imports", &l.ModuleImports},

		{"wasm_exporttype_name", &l.ExportTypeName},
		{"wasm_exporttype_type", &l.ExportTypeType},
		{"wasm_importtype_module", &l.ImportTypeModule},
		{"wasm_importtype_name", &l.ImportTypeName},
		{"wasm_importtype_type", &l.ImportTypeType},
		{"wasm_externtype_kind", &l.ExternTypeKind},

		{"wasm_valtype_new", &l.ValTypeNew},
		{"wasm_valtype_delete", &l.ValTypeDelete},
		{"wasm_valtype_kind", &l.ValTypeKind},

		{"wasm_functype_new", &l.FuncTypeNew},
		{"wasm_functype_delete", &l.FuncTypeDelete},
		{"wasm_functype_params", &l.FuncTypeParams},
		{"wasm_functype_results", &l.FuncTypeResults},

		{"wasm_globaltype_new", &l.GlobalTypeNew},
		{"wasm_globaltype_delete", &l.GlobalTypeDelete},
		{"wasm_globaltype_content", &l.GlobalTypeContent},
		{"wasm_globaltype_mutability", &l.GlobalTypeMutability},

		{"wasm_memorytype_new", &l.MemoryTypeNew},
		{"wasm_memorytype_delete", &l.MemoryTypeDelete},

		{"wasm_instance_new", &l.InstanceNew},
		{"wasm_instance_delete", &l.InstanceDelete},
		{"wasm_instance_exports", &l.InstanceExports},

		{"wasm_extern_kind", &l.ExternKind},
		{"wasm_extern_delete", &l.ExternDelete},
		{"wasm_extern_as_func", &l.ExternAsFunc},
		{"wasm_extern_as_global", &l.ExternAsGlobal},
		{"wasm_extern_as_table", &l.ExternAsTable},
		{"wasm_extern_as_memory", &l.ExternAsMemory},
		{"wasm_func_as_extern", &l.FuncAsExtern},
		{"wasm_global_as_extern", &l.GlobalAsExtern},
		{"wasm_memory_as_extern", &l.MemoryAsExtern},

		{"wasm_func_new_with_env", &l.FuncNewWithEnv},
		{"wasm_func_delete", &l.FuncDelete},
		{"wasm_func_type", &l.FuncType},
		{"wasm_func_param_arity", &l.FuncParamArity},
		{"wasm_func_result_arity", &l.FuncResultArity},
		{"wasm_func_call", &l.FuncCall},

		{"wasm_global_new", &l.GlobalNew},
		{"wasm_global_delete", &l.GlobalDelete},
		{"wasm_global_type", &l.GlobalType},
		{"wasm_global_get", &l.GlobalGet},
		{"wasm_global_set", &l.GlobalSet},

		{"wasm_table_delete", &l.TableDelete},
		{"wasm_table_size", &l.TableSize},
		{"wasm_table_grow", &l.TableGrow},

		{"wasm_memory_new", &l.MemoryNew},
		{"wasm_memory_delete", &l.MemoryDelete},
		{"wasm_memory_data", &l.MemoryData},
		{"wasm_memory_data_size", &l.MemoryDataSize},
		{"wasm_memory_size", &l.MemorySize},
		{"wasm_memory_grow", &l.MemoryGrow},

		{"wasm_trap_new", &l.TrapNew},
		{"wasm_trap_delete", &l.TrapDelete},
		{"wasm_trap_message", &l.TrapMessage},
		{"wasm_trap_origin", &l.TrapOrigin},
		{"wasm_trap_trace", &l.TrapTrace},

		{"wasm_frame_delete", &l.FrameDelete},
		{"wasm_frame_func_index", &l.FrameFuncIndex},
		{"wasm_frame_func_offset", &l.FrameFuncOffset},
		{"wasm_frame_module_offset", &l.FrameModuleOffset},

		{"wasm_val_copy", &l.ValCopy},
		{"wasm_val_delete", &l.ValDelete},

		{"wasmer_last_error_length", &l.LastErrorLength},
		{"wasmer_last_error_message", &l.LastErrorMessage},

		{"wat2wasm", &l.Wat2Wasm},
	}
	for _, fam := range vecFamilies {
		fns := fam.field(l)
		syms = append(syms,
			symbol{fam.prefix + "_new_empty", &fns.NewEmpty},
			symbol{fam.prefix + "_new_uninitialized", &fns.NewUninitialized},
			symbol{fam.prefix + "_new", &fns.New},
			symbol{fam.prefix + "_copy", &fns.Copy},
			symbol{fam.prefix + "_delete", &fns.Delete},
		)
	}
	return syms
}
