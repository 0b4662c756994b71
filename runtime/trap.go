package runtime

import (
	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/vector"
)

// Frame is one entry of a trap's stack trace.
type Frame struct {
	FuncIndex    uint32
	FuncOffset   uintptr
	ModuleOffset uintptr
}

// Trap is a guest trap. It is an error and owns the native wasm_trap_t
// until Close, or until a host function returns it to the runtime.
//
// The message and frames are read when the trap is created, so they stay
// available after Close.
type Trap struct {
	store   *Store
	h       *handle
	message string
	origin  *Frame
	trace   []Frame
}

// NewTrap creates a trap carrying message. Host functions return it to
// trap their caller.
func (s *Store) NewTrap(message string) (*Trap, error) {
	if _, err := s.addr(errors.PhaseHost); err != nil {
		return nil, err
	}
	var addr abi.Trap
	s.lock.lock()
	addr = s.newTrapAddr(message)
	s.lock.unlock()
	if addr == 0 {
		return nil, errors.AllocationFailed(errors.PhaseHost, "wasm_trap_new", "")
	}
	return s.adoptTrap(addr), nil
}

// adoptTrap takes ownership of a trap returned by the runtime.
func (s *Store) adoptTrap(addr abi.Trap) *Trap {
	lib := s.lib()
	t := &Trap{
		store: s,
		h:     s.own(abi.KindTrap, uintptr(addr), func(a uintptr) { lib.TrapDelete(abi.Trap(a)) }),
	}

	msg := vector.Out[byte](&lib.ByteVec)
	lib.TrapMessage(addr, msg.Raw())
	t.message, _ = vector.String(msg)
	msg.Release()

	if lib.TrapOrigin != nil {
		if f := lib.TrapOrigin(addr); f != 0 {
			origin := readFrame(lib, f)
			t.origin = &origin
			lib.FrameDelete(f)
		}
	}
	if lib.TrapTrace != nil {
		trace := vector.Out[abi.Frame](&lib.FrameVec)
		lib.TrapTrace(addr, trace.Raw())
		if frames, err := trace.View(); err == nil {
			t.trace = make([]Frame, len(frames))
			for i, f := range frames {
				t.trace[i] = readFrame(lib, f)
			}
		}
		trace.Release()
	}

	adopt(s, t, t.h)
	return t
}

func readFrame(lib *abi.Library, f abi.Frame) Frame {
	fr := Frame{FuncIndex: lib.FrameFuncIndex(f)}
	if lib.FrameFuncOffset != nil {
		fr.FuncOffset = lib.FrameFuncOffset(f)
	}
	if lib.FrameModuleOffset != nil {
		fr.ModuleOffset = lib.FrameModuleOffset(f)
	}
	return fr
}

func (t *Trap) Error() string {
	return "wasm trap: " + t.message
}

// Is matches errors.ErrGuestTrap.
func (t *Trap) Is(target error) bool {
	e, ok := target.(*errors.Error)
	return ok && e.Kind == errors.KindGuestTrap
}

// Message returns the trap message without its trailing NUL.
func (t *Trap) Message() string {
	return t.message
}

// Origin returns the frame the trap was raised in, if the runtime reported
// one.
func (t *Trap) Origin() (Frame, bool) {
	if t.origin == nil {
		return Frame{}, false
	}
	return *t.origin, true
}

// Trace returns the stack at the trap, innermost frame first.
func (t *Trap) Trace() []Frame {
	return t.trace
}

// Raw returns the native trap, or 0 after Close or hand-off.
func (t *Trap) Raw() abi.Trap {
	addr, _ := t.h.get(errors.PhaseRuntime)
	return abi.Trap(addr)
}

// Close deletes the native trap.
func (t *Trap) Close() error {
	if t.h.release() {
		t.store.owned.remove(t)
	}
	return nil
}
