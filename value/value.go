// Package value converts between Go values and wasm_val_t.
//
// Value is a tagged variant. Encode writes only the payload slot that
// matches the tag, and Decode reads only that slot; an unknown tag is an
// error, never a guess. Numeric kinds round-trip bit-exact, NaN payloads
// included. Reference kinds carry a native address without ownership and
// must be duplicated with Copy, not by assignment.
package value

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-capi/abi"
)

// Kind is the value tag.
type Kind = abi.ValKind

const (
	KindI32     = abi.I32
	KindI64     = abi.I64
	KindF32     = abi.F32
	KindF64     = abi.F64
	KindAnyRef  = abi.AnyRef
	KindFuncRef = abi.FuncRef
)

// Value is one WebAssembly value.
type Value struct {
	bits uint64
	kind Kind
}

func I32(x int32) Value { return Value{kind: KindI32, bits: uint64(uint32(x))} }
func I64(x int64) Value { return Value{kind: KindI64, bits: uint64(x)} }
func F32(x float32) Value { return Value{kind: KindF32, bits: uint64(math.Float32bits(x))} }
func F64(x float64) Value { return Value{kind: KindF64, bits: math.Float64bits(x)} }
func AnyRef(p uintptr) Value { return Value{kind: KindAnyRef, bits: uint64(p)} }
func FuncRef(p uintptr) Value { return Value{kind: KindFuncRef, bits: uint64(p)} }

// Kind returns the tag.
func (v Value) Kind() Kind { return v.kind }

// Bits returns the raw payload, zero-extended for 32-bit kinds.
func (v Value) Bits() uint64 { return v.bits }

func (v Value) I32() int32 { return int32(uint32(v.bits)) }
func (v Value) I64() int64 { return int64(v.bits) }
func (v Value) F32() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }
func (v Value) Ref() uintptr { return uintptr(v.bits) }
func (v Value) IsNullRef() bool { return v.kind.IsRef() && v.bits == 0 }

// Equal compares tag and payload bits, so NaN equals a NaN with the same
// bit pattern.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.bits == o.bits
}

// Unwrap returns the Go value: int32, int64, float32, float64 or uintptr.
func (v Value) Unwrap() any {
	switch v.kind {
	case KindI32:
		return v.I32()
	case KindI64:
		return v.I64()
	case KindF32:
		return v.F32()
	case KindF64:
		return v.F64()
	default:
		return v.Ref()
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case KindI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case KindF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case KindF64:
		return fmt.Sprintf("f64:%g", v.F64())
	}
	return fmt.Sprintf("%s:%#x", v.kind, v.bits)
}

// Kinds returns the tags of vs.
func Kinds(vs []Value) []Kind {
	out := make([]Kind, len(vs))
	for i, v := range vs {
		out[i] = v.kind
	}
	return out
}
