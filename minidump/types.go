package minidump

import "time"

// Arch is the processor architecture recorded in the system info stream.
type Arch uint16

// Processor architectures (PROCESSOR_ARCHITECTURE_*).
const (
	ArchX86     Arch = 0
	ArchARM     Arch = 5
	ArchAMD64   Arch = 9
	ArchARM64   Arch = 12
	ArchUnknown Arch = 0xffff
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchARM:
		return "arm"
	case ArchAMD64:
		return "amd64"
	case ArchARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

// PointerSize returns the pointer width in bytes, or 0 for architectures
// the stack walker does not handle.
func (a Arch) PointerSize() int {
	switch a {
	case ArchX86:
		return 4
	case ArchAMD64:
		return 8
	default:
		return 0
	}
}

// Trust is how confident the stack walker is in a frame's address.
type Trust string

const (
	TrustNone         Trust = "none"
	TrustScan         Trust = "scan"
	TrustFramePointer Trust = "frame_pointer"
	TrustContext      Trust = "context"
)

// CallStackInfo describes the outcome of walking a thread's stack.
type CallStackInfo string

const (
	CallStackOK             CallStackInfo = "ok"
	CallStackMissingContext CallStackInfo = "missing-context"
	CallStackMissingStack   CallStackInfo = "missing-stack"
	CallStackUnsupportedCPU CallStackInfo = "unsupported-cpu"
)

// Process is the parsed state of a crashed process.
type Process struct {
	ProcessID         *uint32
	ProcessCreateTime *time.Time
	Time              time.Time
	System            SystemInfo
	// Modules in dump order. The first one is the main executable.
	Modules   []Module
	Exception *Exception
	Threads   []Thread
	// RequestingThread is the id of the thread that triggered the dump.
	RequestingThread *uint32
}

// SystemInfo describes the machine the dump was written on.
type SystemInfo struct {
	Arch         Arch
	OSVersion    *string
	OSBuild      *string
	CPUInfo      *string
	CPUMicrocode *uint64
	CPUCount     uint32
}

// Module is a loaded executable image.
type Module struct {
	Name      string
	Base      uint64
	Size      uint32
	Checksum  uint32
	Timestamp uint32
}

// Exception is the fault that caused the dump.
type Exception struct {
	ThreadID uint32
	Code     uint32
	Reason   string
	Address  uint64
}

// Thread is a thread with its walked call stack.
type Thread struct {
	ID     uint32
	Name   *string
	Info   CallStackInfo
	Frames []Frame
}

// Frame is one entry of a call stack. For the context frame Instruction
// and ResumeAddress are equal; caller frames point one byte before the
// return address.
type Frame struct {
	Instruction   uint64
	ResumeAddress uint64
	// Module owning Instruction, or nil.
	Module *Module
	Trust  Trust
}
