package minidump

import "fmt"

type rawException struct {
	ExceptionCode        uint32
	ExceptionFlags       uint32
	ExceptionRecord      uint64
	ExceptionAddress     uint64
	NumberParameters     uint32
	_                    uint32
	ExceptionInformation [15]uint64
}

type rawExceptionStream struct {
	ThreadID      uint32
	_             uint32
	Record        rawException
	ThreadContext rawLocation
}

// Windows exception codes.
const (
	codeAccessViolation = 0xc0000005
	codeInPageError     = 0xc0000006
)

var exceptionNames = map[uint32]string{
	0x80000002: "EXCEPTION_DATATYPE_MISALIGNMENT",
	0x80000003: "EXCEPTION_BREAKPOINT",
	0x80000004: "EXCEPTION_SINGLE_STEP",
	0xc0000005: "EXCEPTION_ACCESS_VIOLATION",
	0xc0000006: "EXCEPTION_IN_PAGE_ERROR",
	0xc0000008: "EXCEPTION_INVALID_HANDLE",
	0xc000001d: "EXCEPTION_ILLEGAL_INSTRUCTION",
	0xc0000025: "EXCEPTION_NONCONTINUABLE_EXCEPTION",
	0xc0000026: "EXCEPTION_INVALID_DISPOSITION",
	0xc000008c: "EXCEPTION_ARRAY_BOUNDS_EXCEEDED",
	0xc000008d: "EXCEPTION_FLT_DENORMAL_OPERAND",
	0xc000008e: "EXCEPTION_FLT_DIVIDE_BY_ZERO",
	0xc000008f: "EXCEPTION_FLT_INEXACT_RESULT",
	0xc0000090: "EXCEPTION_FLT_INVALID_OPERATION",
	0xc0000091: "EXCEPTION_FLT_OVERFLOW",
	0xc0000092: "EXCEPTION_FLT_STACK_CHECK",
	0xc0000093: "EXCEPTION_FLT_UNDERFLOW",
	0xc0000094: "EXCEPTION_INT_DIVIDE_BY_ZERO",
	0xc0000095: "EXCEPTION_INT_OVERFLOW",
	0xc0000096: "EXCEPTION_PRIV_INSTRUCTION",
	0xc00000fd: "EXCEPTION_STACK_OVERFLOW",
	0xc0000374: "EXCEPTION_HEAP_CORRUPTION",
	0xc0000409: "EXCEPTION_STACK_BUFFER_OVERRUN",
}

// accessKinds maps the first access violation parameter to a suffix.
var accessKinds = map[uint64]string{
	0: "_READ",
	1: "_WRITE",
	8: "_EXEC",
}

func (d *dump) exception() (*Exception, error) {
	loc, ok := d.stream(streamException)
	if !ok {
		return nil, nil
	}
	var raw rawExceptionStream
	if err := d.read(loc.Rva, &raw); err != nil {
		return nil, err
	}
	rec := raw.Record
	reason, address := exceptionReason(rec)
	return &Exception{
		ThreadID: raw.ThreadID,
		Code:     rec.ExceptionCode,
		Reason:   reason,
		Address:  address,
	}, nil
}

// exceptionReason names the exception and picks the faulting address.
// Memory faults report the accessed address rather than the
// instruction's.
func exceptionReason(rec rawException) (string, uint64) {
	name, ok := exceptionNames[rec.ExceptionCode]
	if !ok {
		name = fmt.Sprintf("0x%08x", rec.ExceptionCode)
	}
	address := rec.ExceptionAddress

	switch rec.ExceptionCode {
	case codeAccessViolation, codeInPageError:
		if rec.NumberParameters >= 2 {
			name += accessKinds[rec.ExceptionInformation[0]]
			address = rec.ExceptionInformation[1]
		}
	}
	return name, address
}

// exceptionContext returns the location of the faulting thread's context
// at the time of the exception.
func (d *dump) exceptionContext() (uint32, rawLocation, bool) {
	loc, ok := d.stream(streamException)
	if !ok {
		return 0, rawLocation{}, false
	}
	var raw rawExceptionStream
	if err := d.read(loc.Rva, &raw); err != nil || raw.ThreadContext.DataSize == 0 {
		return 0, rawLocation{}, false
	}
	return raw.ThreadID, raw.ThreadContext, true
}
