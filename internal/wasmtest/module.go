// Package wasmtest builds small WebAssembly binaries for tests.
//
// Modules are described with wabin's wasm.Module and encoded with its binary
// encoder, so tests do not depend on a text-format translator.
package wasmtest

import (
	"github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/leb128"
	"github.com/tetratelabs/wabin/wasm"
)

const (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
	f32 = wasm.ValueTypeF32
	f64 = wasm.ValueTypeF64
)

// fn is a function defined by a test module. Body holds the instructions
// without the final end opcode.
type fn struct {
	name            string
	params, results []wasm.ValueType
	body            []byte
}

// encode defines funcs after any imported functions of m, one type each,
// and returns the binary. Named funcs go to the name section.
func encode(m *wasm.Module, funcs ...fn) []byte {
	base := m.ImportFuncCount()
	for i, f := range funcs {
		m.FunctionSection = append(m.FunctionSection, wasm.Index(len(m.TypeSection)))
		m.TypeSection = append(m.TypeSection, &wasm.FunctionType{Params: f.params, Results: f.results})
		m.CodeSection = append(m.CodeSection, &wasm.Code{Body: concat(f.body, []byte{wasm.OpcodeEnd})})
		if f.name == "" {
			continue
		}
		if m.NameSection == nil {
			m.NameSection = &wasm.NameSection{}
		}
		m.NameSection.FunctionNames = append(m.NameSection.FunctionNames,
			&wasm.NameAssoc{Index: base + wasm.Index(i), Name: f.name})
	}
	return binary.EncodeModule(m)
}

func localGet(i uint32) []byte { return concat([]byte{wasm.OpcodeLocalGet}, leb128.EncodeUint32(i)) }
func call(i uint32) []byte { return concat([]byte{wasm.OpcodeCall}, leb128.EncodeUint32(i)) }
func globalGet(i uint32) []byte { return concat([]byte{wasm.OpcodeGlobalGet}, leb128.EncodeUint32(i)) }
func i32Const(v int32) []byte { return concat([]byte{wasm.OpcodeI32Const}, leb128.EncodeInt32(v)) }

// i32.load with natural alignment and no offset.
var i32Load = []byte{wasm.OpcodeI32Load, 0x02, 0x00}

func constI32(v int32) *wasm.ConstantExpression {
	return &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(v)}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
