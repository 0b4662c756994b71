package vector

import (
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
)

// Elem is any element type a native vector can hold.
type Elem interface {
	~uint8 | abi.Val | ~uintptr
}

type mode uint8

const (
	modeOwned mode = iota
	modeExternal
	modeBorrowed
)

// Vector is a wasm_X_vec_t with its release state.
type Vector[T Elem] struct {
	raw      abi.Vec
	fns      *abi.VecFuncs
	keep     []T
	released atomic.Bool
	mode     mode
}

// New copies seq into a freshly allocated native vector.
func New[T Elem](fns *abi.VecFuncs, seq []T) (*Vector[T], error) {
	if len(seq) == 0 {
		return Empty[T](fns), nil
	}
	v := &Vector[T]{fns: fns}
	fns.New(&v.raw, uintptr(len(seq)), uintptr(unsafe.Pointer(&seq[0])))
	if v.raw.Data == 0 {
		return nil, errors.AllocationFailed(errors.PhaseEncode, "wasm_vec_new", "")
	}
	return v, nil
}

// Empty returns a zero-length native vector.
func Empty[T Elem](fns *abi.VecFuncs) *Vector[T] {
	v := &Vector[T]{fns: fns}
	fns.NewEmpty(&v.raw)
	return v
}

// Uninitialized allocates a native vector of n zeroed elements.
func Uninitialized[T Elem](fns *abi.VecFuncs, n int) (*Vector[T], error) {
	if n == 0 {
		return Empty[T](fns), nil
	}
	v := &Vector[T]{fns: fns}
	fns.NewUninitialized(&v.raw, uintptr(n))
	if v.raw.Data == 0 {
		return nil, errors.AllocationFailed(errors.PhaseEncode, "wasm_vec_new_uninitialized", "")
	}
	return v, nil
}

// Out returns an empty vector for a native call to fill through Raw. The
// filled vector is released with the family's delete.
func Out[T Elem](fns *abi.VecFuncs) *Vector[T] {
	return &Vector[T]{fns: fns}
}

// External wraps buf without copying. The vector keeps buf reachable and
// never releases it natively.
func External[T Elem](buf []T) *Vector[T] {
	v := &Vector[T]{keep: buf, mode: modeExternal}
	if len(buf) > 0 {
		v.raw = abi.Vec{Size: uint64(len(buf)), Data: uintptr(unsafe.Pointer(&buf[0]))}
	}
	return v
}

// Borrowed views the const vector at addr, which belongs to another native
// object and must outlive the view.
func Borrowed[T Elem](addr uintptr) (*Vector[T], error) {
	if addr == 0 {
		return nil, errors.InvalidHandle(errors.PhaseDecode, "vector address is null")
	}
	v := &Vector[T]{mode: modeBorrowed}
	v.raw = *(*abi.Vec)(unsafe.Pointer(addr))
	return v, nil
}

// Len returns the element count.
func (v *Vector[T]) Len() int {
	return int(v.raw.Size)
}

// Raw returns the native struct for passing to the Library. It is valid
// until Release or Disown.
func (v *Vector[T]) Raw() *abi.Vec {
	return &v.raw
}

// Released reports whether Release or Disown has run.
func (v *Vector[T]) Released() bool {
	return v.released.Load()
}

// Owned reports whether Release will call the native delete.
func (v *Vector[T]) Owned() bool {
	return v.mode == modeOwned && !v.released.Load()
}

// View returns the elements without copying. The slice aliases native
// memory and is valid only while the vector is alive.
func (v *Vector[T]) View() ([]T, error) {
	if v.released.Load() {
		return nil, errors.Released(errors.PhaseDecode, "vector")
	}
	if v.raw.Size == 0 || v.raw.Data == 0 {
		return nil, nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(v.raw.Data)), int(v.raw.Size)), nil
}

// At returns element i.
func (v *Vector[T]) At(i int) (T, error) {
	var zero T
	if v.released.Load() {
		return zero, errors.Released(errors.PhaseDecode, "vector")
	}
	if i < 0 || i >= int(v.raw.Size) {
		return zero, errors.OutOfBounds(errors.PhaseDecode, nil, i, int(v.raw.Size))
	}
	p := unsafe.Add(unsafe.Pointer(v.raw.Data), uintptr(i)*unsafe.Sizeof(zero))
	return *(*T)(p), nil
}

// Set writes element i. Only vectors sized by the caller are meant to be
// written, such as Uninitialized or a runtime-sized result vector.
func (v *Vector[T]) Set(i int, x T) error {
	if v.released.Load() {
		return errors.Released(errors.PhaseEncode, "vector")
	}
	if i < 0 || i >= int(v.raw.Size) {
		return errors.OutOfBounds(errors.PhaseEncode, nil, i, int(v.raw.Size))
	}
	p := unsafe.Add(unsafe.Pointer(v.raw.Data), uintptr(i)*unsafe.Sizeof(x))
	*(*T)(p) = x
	return nil
}

// Slice copies the elements into Go memory.
func (v *Vector[T]) Slice() ([]T, error) {
	view, err := v.View()
	if err != nil || view == nil {
		return nil, err
	}
	out := make([]T, len(view))
	copy(out, view)
	return out, nil
}

// Copy duplicates the vector through wasm_X_vec_copy. External and borrowed
// vectors have no native family to copy with.
func (v *Vector[T]) Copy() (*Vector[T], error) {
	if v.released.Load() {
		return nil, errors.Released(errors.PhaseRuntime, "vector")
	}
	if v.fns == nil || v.fns.Copy == nil {
		return nil, errors.Unsupported(errors.PhaseRuntime, "copy of a vector without a native family")
	}
	c := &Vector[T]{fns: v.fns}
	v.fns.Copy(&c.raw, &v.raw)
	if c.raw.Size > 0 && c.raw.Data == 0 {
		return nil, errors.AllocationFailed(errors.PhaseRuntime, "wasm_vec_copy", "")
	}
	return c, nil
}

// Release deletes an owned vector. Calls after the first are no-ops, and
// external or borrowed vectors are only marked released.
func (v *Vector[T]) Release() {
	if !v.released.CompareAndSwap(false, true) {
		return
	}
	if v.mode == modeOwned && v.fns != nil {
		v.fns.Delete(&v.raw)
	}
	v.raw = abi.Vec{}
	v.keep = nil
}

// Close releases the vector.
func (v *Vector[T]) Close() error {
	v.Release()
	return nil
}

// Disown hands the vector to a native consumer that takes ownership and
// returns the struct to pass it. The vector is released without a native
// delete.
func (v *Vector[T]) Disown() (*abi.Vec, error) {
	if !v.released.CompareAndSwap(false, true) {
		return nil, errors.Released(errors.PhaseEncode, "vector")
	}
	raw := v.raw
	v.raw = abi.Vec{}
	return &raw, nil
}
