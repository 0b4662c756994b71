package emul

import (
	"errors"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-capi/abi"
	"github.com/wippyai/wasm-capi/internal/heap"
)

type frame struct {
	funcIndex uint32
}

type trap struct {
	message string
	frames  []frame
}

// hostTrap carries a trap returned by a host callback through wazero's
// panic recovery back to funcCall, which hands the same trap to the caller.
type hostTrap struct {
	addr abi.Trap
	msg  string
}

func (h *hostTrap) Error() string {
	return h.msg
}

func (b *Backend) newTrap(msg string, frames []frame) abi.Trap {
	return abi.Trap(b.alloc(kindTrap, &trap{message: msg, frames: frames}))
}

func (b *Backend) trapNew(s abi.Store, msg *abi.Vec) abi.Trap {
	if get[*store](b, uintptr(s), kindStore) == nil {
		b.setError("invalid store")
		return 0
	}
	return b.newTrap(strings.TrimSuffix(readString(msg), "\x00"), nil)
}

func (b *Backend) trapDelete(t abi.Trap) {
	b.free(uintptr(t), kindTrap)
}

func (b *Backend) trapText(t abi.Trap) string {
	if tr := get[*trap](b, uintptr(t), kindTrap); tr != nil {
		return tr.message
	}
	return "invalid trap"
}

// trapMessage fills out with the message and a terminating NUL, as
// wasm_message_t carries it.
func (b *Backend) trapMessage(t abi.Trap, out *abi.Vec) {
	tr := get[*trap](b, uintptr(t), kindTrap)
	if tr == nil {
		*out = abi.Vec{}
		return
	}
	msg := append([]byte(tr.message), 0)
	*out = abi.Vec{Size: uint64(len(msg)), Data: b.heap.Alloc(len(msg))}
	heap.Copy(out.Data, msg)
}

func (b *Backend) trapOrigin(t abi.Trap) abi.Frame {
	tr := get[*trap](b, uintptr(t), kindTrap)
	if tr == nil || len(tr.frames) == 0 {
		return 0
	}
	return b.newFrame(tr.frames[0])
}

func (b *Backend) trapTrace(t abi.Trap, out *abi.Vec) {
	tr := get[*trap](b, uintptr(t), kindTrap)
	if tr == nil {
		*out = abi.Vec{}
		return
	}
	addrs := make([]uintptr, len(tr.frames))
	for i, f := range tr.frames {
		addrs[i] = uintptr(b.newFrame(f))
	}
	b.newPtrVec(out, addrs)
}

func (b *Backend) newFrame(f frame) abi.Frame {
	return abi.Frame(b.alloc(kindFrame, &frame{funcIndex: f.funcIndex}))
}

func (b *Backend) frameCopy(f abi.Frame) abi.Frame {
	if fr := get[*frame](b, uintptr(f), kindFrame); fr != nil {
		return b.newFrame(*fr)
	}
	return 0
}

func (b *Backend) frameDelete(f abi.Frame) {
	b.free(uintptr(f), kindFrame)
}

func (b *Backend) frameFuncIndex(f abi.Frame) uint32 {
	if fr := get[*frame](b, uintptr(f), kindFrame); fr != nil {
		return fr.funcIndex
	}
	return 0
}

// trapFromError converts a failed call into a trap. A trap raised by a host
// callback is passed through with the guest frames attached.
func (b *Backend) trapFromError(err error, mod *module) abi.Trap {
	frames := parseTrace(err.Error(), mod)

	var ht *hostTrap
	if errors.As(err, &ht) {
		if tr := get[*trap](b, uintptr(ht.addr), kindTrap); tr != nil {
			if len(tr.frames) == 0 {
				tr.frames = frames
			}
			return ht.addr
		}
	}
	return b.newTrap(trapText(err), frames)
}

// trapText is the first line of a wazero error without its decorations.
func trapText(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	msg = strings.TrimSuffix(msg, " (recovered by wazero)")
	if i := strings.LastIndex(msg, "wasm error: "); i >= 0 {
		msg = msg[i+len("wasm error: "):]
	}
	return msg
}

const traceHeader = "wasm stack trace:\n"

// parseTrace reads the frames of a wazero stack trace, innermost first.
// Frame lines are tab-indented "module.func(params) results"; source lines
// are indented twice and skipped.
func parseTrace(msg string, mod *module) []frame {
	i := strings.Index(msg, traceHeader)
	if i < 0 {
		return nil
	}
	var frames []frame
	for _, line := range strings.Split(msg[i+len(traceHeader):], "\n") {
		if !strings.HasPrefix(line, "\t") {
			break
		}
		if strings.HasPrefix(line, "\t\t") {
			continue
		}
		name := line[1:]
		if p := strings.IndexByte(name, '('); p >= 0 {
			name = name[:p]
		}
		frames = append(frames, frame{funcIndex: funcIndex(name, mod)})
	}
	return frames
}

// funcIndex resolves a wazero debug name. Guest functions are anonymous
// (".$3" or ".name"); host functions carry their import module name.
func funcIndex(name string, mod *module) uint32 {
	if fn, ok := strings.CutPrefix(name, "."); ok {
		if n, found := strings.CutPrefix(fn, "$"); found {
			if idx, err := strconv.ParseUint(n, 10, 32); err == nil {
				return uint32(idx)
			}
		}
		if mod != nil {
			if idx, found := mod.names[fn]; found {
				return idx
			}
		}
		return 0
	}
	if mod == nil {
		return 0
	}
	idx := uint32(0)
	for _, imp := range mod.imports {
		if imp.kind != abi.ExternFunc {
			continue
		}
		if imp.module+"."+imp.name == name {
			return idx
		}
		idx++
	}
	return 0
}
