package value

import (
	"fmt"
	"math"

	"github.com/wippyai/wasm-capi/errors"
)

// FromGo converts a Go number to a Value of kind k. Integers are range
// checked against the target width; floats convert to integers only when
// they are whole and in range.
func FromGo(x any, k Kind) (Value, error) {
	if v, ok := x.(Value); ok {
		if v.kind != k {
			return Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, v.kind.String(), k.String())
		}
		return v, nil
	}

	switch k {
	case KindI32:
		n, err := toInt(x, math.MinInt32, math.MaxUint32, k)
		if err != nil {
			return Value{}, err
		}
		return I32(int32(uint32(n))), nil
	case KindI64:
		if u, ok := x.(uint64); ok {
			return I64(int64(u)), nil
		}
		if u, ok := x.(uint); ok {
			return I64(int64(u)), nil
		}
		n, err := toInt(x, math.MinInt64, math.MaxInt64, k)
		if err != nil {
			return Value{}, err
		}
		return I64(n), nil
	case KindF32:
		f, err := toFloat(x, k)
		if err != nil {
			return Value{}, err
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return Value{}, errors.Overflow(errors.PhaseEncode, nil, x, k.String())
		}
		if f32, ok := x.(float32); ok {
			return F32(f32), nil
		}
		return F32(float32(f)), nil
	case KindF64:
		f, err := toFloat(x, k)
		if err != nil {
			return Value{}, err
		}
		return F64(f), nil
	case KindAnyRef, KindFuncRef:
		p, ok := x.(uintptr)
		if !ok && x != nil {
			return Value{}, errors.TypeMismatch(errors.PhaseEncode, nil, fmt.Sprintf("%T", x), k.String())
		}
		return Value{kind: k, bits: uint64(p)}, nil
	}
	return Value{}, errors.InvalidEnum(errors.PhaseEncode, nil, uint8(k), "valkind")
}

// toInt accepts unsigned values up to max so that uint32 bit patterns fit
// an i32.
func toInt(x any, lo, hi int64, k Kind) (int64, error) {
	var n int64
	switch v := x.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint:
		if uint64(v) > uint64(hi) {
			return 0, errors.Overflow(errors.PhaseEncode, nil, x, k.String())
		}
		n = int64(v)
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint64:
		if v > uint64(hi) {
			return 0, errors.Overflow(errors.PhaseEncode, nil, x, k.String())
		}
		n = int64(v)
	case bool:
		if v {
			n = 1
		}
	case float32, float64:
		f, _ := toFloat(x, k)
		if f != math.Trunc(f) || f < float64(lo) || f >= float64(hi)+1 {
			return 0, errors.Overflow(errors.PhaseEncode, nil, x, k.String())
		}
		n = int64(f)
	default:
		return 0, errors.TypeMismatch(errors.PhaseEncode, nil, fmt.Sprintf("%T", x), k.String())
	}
	if n < lo || n > hi {
		return 0, errors.Overflow(errors.PhaseEncode, nil, x, k.String())
	}
	return n, nil
}

func toFloat(x any, k Kind) (float64, error) {
	switch v := x.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	}
	return 0, errors.TypeMismatch(errors.PhaseEncode, nil, fmt.Sprintf("%T", x), k.String())
}
