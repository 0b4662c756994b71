package runtime

import (
	goruntime "runtime"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/abi"
)

// bridge reads the native library's thread-local error slot. The slot
// belongs to the OS thread, so a fallible call and the query that follows
// it must run on the same thread.
type bridge struct {
	lib *abi.Library
	log *zap.Logger
}

// lastError copies and clears the pending message.
func (b bridge) lastError() (string, bool) {
	if b.lib.LastErrorLength == nil || b.lib.LastErrorMessage == nil {
		return "", false
	}
	n := b.lib.LastErrorLength()
	if n <= 0 {
		return "", false
	}
	buf := make([]byte, n)
	written := b.lib.LastErrorMessage(uintptr(unsafe.Pointer(&buf[0])), n)
	goruntime.KeepAlive(buf)
	if written <= 0 {
		return "", false
	}
	buf = buf[:written]
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf), true
}

// run calls fn pinned to one OS thread and returns the error fn left
// behind, if any. A message pending before fn is logged and dropped.
func (b bridge) run(fn func()) (string, bool) {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	if stale, ok := b.lastError(); ok {
		b.log.Debug("dropped stale native error", zap.String("message", stale))
	}
	fn()
	return b.lastError()
}
