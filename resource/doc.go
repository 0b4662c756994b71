// Package resource maps small integer handles to Go values.
//
// Native code cannot hold Go pointers, so anything the native side must refer
// back to (host closures behind a function pointer, callbacks registered with
// a backend) is parked in a table and the handle travels across the boundary
// instead, usually as the void* env argument.
//
// # Handle Table
//
// The Table maps integer handles to Go values:
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle := table.Insert(KindHostFunc, entry)
//
//	// Retrieve value by handle
//	value, ok := table.Get(handle)
//
//	// Remove and get value when the native side is done with it
//	value, ok := table.Remove(handle)
//
// Handle 0 is never issued, so it can double as NULL on the native side.
// Freed handles are recycled.
//
// # Kinds
//
// Each value is inserted with a kind; GetTyped refuses a handle of another
// kind, which keeps a stale env pointer from being read as the wrong entry.
//
// # Observers
//
// Observers receive lifecycle events; the runtime package uses one to log
// callback registration and release:
//
//	table.Subscribe(observer)
//
// # Borrows
//
// A borrowed handle cannot be dropped. Borrow while a value is in use from
// native code and return the borrow afterwards; a Remove that lands during
// the borrow is deferred until the last borrow returns.
package resource
