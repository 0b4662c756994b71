package wasmtest

import (
	"github.com/tetratelabs/wabin/wasm"
)

// AddOne exports add_one(i32) -> i32.
func AddOne() []byte {
	m := &wasm.Module{
		ExportSection: []*wasm.Export{{Name: "add_one", Type: wasm.ExternTypeFunc, Index: 0}},
	}
	return encode(m, fn{
		params:  []wasm.ValueType{i32},
		results: []wasm.ValueType{i32},
		body:    concat(localGet(0), i32Const(1), []byte{wasm.OpcodeI32Add}),
	})
}

// Trap exports trap(), which calls inner (function 1) which executes
// unreachable. Function names are in a name section.
func Trap() []byte {
	m := &wasm.Module{
		ExportSection: []*wasm.Export{{Name: "trap", Type: wasm.ExternTypeFunc, Index: 0}},
	}
	return encode(m,
		fn{name: "trap", body: call(1)},
		fn{name: "inner", body: []byte{wasm.OpcodeUnreachable}},
	)
}

// Globals exports a mutable i32 "counter" initialized to 0 and an immutable
// i32 "answer" initialized to 42, plus get_counter() -> i32.
func Globals() []byte {
	m := &wasm.Module{
		GlobalSection: []*wasm.Global{
			{Type: &wasm.GlobalType{ValType: i32, Mutable: true}, Init: constI32(0)},
			{Type: &wasm.GlobalType{ValType: i32}, Init: constI32(42)},
		},
		ExportSection: []*wasm.Export{
			{Name: "counter", Type: wasm.ExternTypeGlobal, Index: 0},
			{Name: "answer", Type: wasm.ExternTypeGlobal, Index: 1},
			{Name: "get_counter", Type: wasm.ExternTypeFunc, Index: 0},
		},
	}
	return encode(m, fn{results: []wasm.ValueType{i32}, body: globalGet(0)})
}

// CallHost imports env.host(i32) -> i32 and exports call_host(i32) -> i32,
// which forwards its argument.
func CallHost() []byte {
	m := &wasm.Module{
		TypeSection: []*wasm.FunctionType{{Params: []wasm.ValueType{i32}, Results: []wasm.ValueType{i32}}},
		ImportSection: []*wasm.Import{{
			Type: wasm.ExternTypeFunc, Module: "env", Name: "host", DescFunc: 0,
		}},
		ExportSection: []*wasm.Export{{Name: "call_host", Type: wasm.ExternTypeFunc, Index: 1}},
	}
	return encode(m, fn{
		name:    "call_host",
		params:  []wasm.ValueType{i32},
		results: []wasm.ValueType{i32},
		body:    concat(localGet(0), call(0)),
	})
}

// Numeric exports add_i64(i64, i64) -> i64, add_f32, add_f64 and
// swap(i32, i64) -> (i64, i32).
func Numeric() []byte {
	m := &wasm.Module{
		ExportSection: []*wasm.Export{
			{Name: "add_i64", Type: wasm.ExternTypeFunc, Index: 0},
			{Name: "add_f32", Type: wasm.ExternTypeFunc, Index: 1},
			{Name: "add_f64", Type: wasm.ExternTypeFunc, Index: 2},
			{Name: "swap", Type: wasm.ExternTypeFunc, Index: 3},
		},
	}
	binop := func(t wasm.ValueType, op wasm.Opcode) fn {
		return fn{
			params:  []wasm.ValueType{t, t},
			results: []wasm.ValueType{t},
			body:    concat(localGet(0), localGet(1), []byte{op}),
		}
	}
	return encode(m,
		binop(i64, wasm.OpcodeI64Add),
		binop(f32, wasm.OpcodeF32Add),
		binop(f64, wasm.OpcodeF64Add),
		fn{
			params:  []wasm.ValueType{i32, i64},
			results: []wasm.ValueType{i64, i32},
			body:    concat(localGet(1), localGet(0)),
		},
	)
}

// Memory exports a memory of one page (max two), a table of three funcref
// slots and load(i32) -> i32.
func Memory() []byte {
	m := &wasm.Module{
		TableSection:  []*wasm.Table{{Min: 3, Type: wasm.RefTypeFuncref}},
		MemorySection: &wasm.Memory{Min: 1, Max: 2, IsMaxEncoded: true},
		ExportSection: []*wasm.Export{
			{Name: "memory", Type: wasm.ExternTypeMemory, Index: 0},
			{Name: "table", Type: wasm.ExternTypeTable, Index: 0},
			{Name: "load", Type: wasm.ExternTypeFunc, Index: 0},
		},
	}
	return encode(m, fn{
		params:  []wasm.ValueType{i32},
		results: []wasm.ValueType{i32},
		body:    concat(localGet(0), i32Load),
	})
}

// StartTrap has a start function that executes unreachable.
func StartTrap() []byte {
	start := wasm.Index(0)
	m := &wasm.Module{StartSection: &start}
	return encode(m, fn{body: []byte{wasm.OpcodeUnreachable}})
}

// Invalid is not a WebAssembly binary.
func Invalid() []byte {
	return []byte("\x00asm\x02\x00\x00\x00garbage")
}
