package disasm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Mode is the processor mode instructions are decoded in.
type Mode int

// Supported processor modes.
const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

func (m Mode) String() string {
	switch m {
	case Mode32:
		return "x86"
	case Mode64:
		return "x64"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ErrInvalid is returned by a Decoder when the leading bytes do not form
// a valid instruction.
var ErrInvalid = errors.New("invalid instruction")

// Inst is a single decoded instruction.
type Inst struct {
	Len  int    // number of bytes consumed
	Text string // formatted instruction text
}

// Decoder decodes one instruction from the start of src. pc is the
// virtual address of src[0] and is used to render relative targets.
type Decoder interface {
	Decode(src []byte, pc uint64) (Inst, error)
}

// Factory opens a Decoder for the given mode.
type Factory func(mode Mode) (Decoder, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Factory)
)

// Register makes a decoder backend available by name. It panics if the
// name is registered twice.
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if f == nil {
		panic("disasm: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("disasm: Register called twice for backend " + name)
	}
	backends[name] = f
}

// defaultBackend is the strongest backend compiled in.
var defaultBackend = BackendX86asm

// DefaultBackend returns the name of the backend used when none is
// configured: zydis when built with the zydis tag, x86asm otherwise.
func DefaultBackend() string {
	return defaultBackend
}

// Open returns a decoder from the named backend.
func Open(name string, mode Mode) (Decoder, error) {
	backendsMu.RLock()
	f, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown decoder backend %q (available: %v)", name, Backends())
	}
	return f(mode)
}

// Backends returns the sorted names of the registered backends.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
