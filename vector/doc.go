// Package vector marshals Go slices to and from wasm_X_vec_t.
//
// A Vector tracks who releases its buffer:
//
//   - New, Empty, Uninitialized and Copy allocate through the native
//     constructors; Release calls the matching delete once.
//   - Out is filled by a native call and is native-owned afterwards; Release
//     deletes it the same way.
//   - External points at a Go slice. Release never calls delete, so the
//     elements stay with the caller.
//   - Borrowed views a const vector owned by another native object.
//   - Disown hands the vector to a native consumer that takes ownership.
//
// Every vector of owned pointers (externs, frames, valtypes, export and
// import types) deletes its elements together with the buffer.
package vector
