package emul

import (
	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/internal/heap"
)

// elemOps duplicates and deletes the elements of a vector of owned pointers.
type elemOps struct {
	dup func(uintptr) uintptr
	del func(uintptr)
}

// vecFamily implements wasm_X_vec_* for elements of elemSize bytes. With
// ops set, copy duplicates each element and delete releases each element.
func (b *Backend) vecFamily(elemSize int, ops *elemOps) abi.VecFuncs {
	return abi.VecFuncs{
		NewEmpty: func(out *abi.Vec) {
			*out = abi.Vec{}
		},
		NewUninitialized: func(out *abi.Vec, size uintptr) {
			*out = abi.Vec{Size: uint64(size), Data: b.heap.Alloc(int(size) * elemSize)}
		},
		New: func(out *abi.Vec, size uintptr, data uintptr) {
			n := int(size) * elemSize
			addr := b.heap.Alloc(n)
			heap.Copy(addr, heap.Bytes(data, n))
			*out = abi.Vec{Size: uint64(size), Data: addr}
		},
		Copy: func(out *abi.Vec, src *abi.Vec) {
			n := int(src.Size) * elemSize
			addr := b.heap.Alloc(n)
			heap.Copy(addr, heap.Bytes(src.Data, n))
			*out = abi.Vec{Size: src.Size, Data: addr}
			if ops != nil {
				elems := ptrs(out)
				for i, p := range elems {
					if p != 0 {
						elems[i] = ops.dup(p)
					}
				}
			}
		},
		Delete: func(v *abi.Vec) {
			if v.Data == 0 {
				*v = abi.Vec{}
				return
			}
			if ops != nil {
				for _, p := range ptrs(v) {
					if p != 0 {
						ops.del(p)
					}
				}
			}
			if err := b.heap.Free(v.Data); err != nil {
				b.badDelete()
			}
			*v = abi.Vec{}
		},
	}
}

// newPtrVec fills out with a heap vector holding addrs.
func (b *Backend) newPtrVec(out *abi.Vec, addrs []uintptr) {
	if len(addrs) == 0 {
		*out = abi.Vec{}
		return
	}
	*out = abi.Vec{Size: uint64(len(addrs)), Data: b.heap.Alloc(len(addrs) * int(abi.PtrSize))}
	copy(ptrs(out), addrs)
}
