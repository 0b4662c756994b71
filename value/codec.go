package value

import (
	"strconv"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// Encode converts v to its native form.
func Encode(v Value) abi.Val {
	var out abi.Val
	EncodeTo(&out, v)
	return out
}

// EncodeTo writes v into out, touching only the matching payload slot.
func EncodeTo(out *abi.Val, v Value) {
	out.Kind = v.kind
	switch v.kind {
	case KindI32:
		out.SetI32(v.I32())
	case KindI64:
		out.SetI64(v.I64())
	case KindF32:
		out.SetF32(v.F32())
	case KindF64:
		out.SetF64(v.F64())
	default:
		out.SetRef(v.Ref())
	}
}

// Decode converts a native value. Unknown tags are rejected.
func Decode(in abi.Val) (Value, error) {
	switch in.Kind {
	case abi.I32:
		return I32(in.I32()), nil
	case abi.I64:
		return I64(in.I64()), nil
	case abi.F32:
		return F32(in.F32()), nil
	case abi.F64:
		return F64(in.F64()), nil
	case abi.AnyRef:
		return AnyRef(in.Ref()), nil
	case abi.FuncRef:
		return FuncRef(in.Ref()), nil
	}
	return Value{}, errors.InvalidEnum(errors.PhaseDecode, nil, uint8(in.Kind), "valkind")
}

// DecodeAll decodes every element, stopping at the first unknown tag.
func DecodeAll(in []abi.Val) ([]Value, error) {
	out := make([]Value, len(in))
	for i := range in {
		v, err := Decode(in[i])
		if err != nil {
			if e, ok := err.(*errors.Error); ok {
				e.Path = []string{strconv.Itoa(i)}
			}
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// EncodeAll encodes every element into a new slice.
func EncodeAll(vs []Value) []abi.Val {
	out := make([]abi.Val, len(vs))
	for i, v := range vs {
		EncodeTo(&out[i], v)
	}
	return out
}

// Copy duplicates src into dst. Reference kinds go through wasm_val_copy so
// the runtime can account for the new reference.
func Copy(lib *abi.Library, dst, src *abi.Val) error {
	switch {
	case src.Kind.IsNum():
		*dst = *src
		return nil
	case src.Kind.IsRef():
		if lib.ValCopy == nil {
			return errors.Unsupported(errors.PhaseRuntime, "wasm_val_copy")
		}
		lib.ValCopy(dst, src)
		return nil
	}
	return errors.InvalidEnum(errors.PhaseRuntime, nil, uint8(src.Kind), "valkind")
}

// Delete releases a reference held by v. Numeric values hold nothing.
func Delete(lib *abi.Library, v *abi.Val) {
	if v.Kind.IsRef() && lib.ValDelete != nil {
		lib.ValDelete(v)
	}
}
