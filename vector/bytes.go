package vector

import (
	"github.com/wippyai/wasm-capi/abi"
)

// FromString copies s into a new native byte vector.
func FromString(fns *abi.VecFuncs, s string) (*Vector[byte], error) {
	return New(fns, []byte(s))
}

// String copies a byte vector into a Go string, dropping one trailing NUL
// the way C strings carried in wasm_name_t and wasm_message_t end.
func String(v *Vector[byte]) (string, error) {
	b, err := v.View()
	if err != nil {
		return "", err
	}
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b), nil
}

// NameAt reads the const wasm_name_t* at addr into a Go string.
func NameAt(addr uintptr) (string, error) {
	v, err := Borrowed[byte](addr)
	if err != nil {
		return "", err
	}
	return String(v)
}
