package minidump

import (
	"encoding/binary"
	"fmt"
)

// registers holds the part of a thread context the stack walker uses.
type registers struct {
	ip uint64
	sp uint64
	bp uint64
}

// Register offsets inside CONTEXT (x86) and CONTEXT (AMD64).
const (
	x86Ebp = 0xb4
	x86Eip = 0xb8
	x86Esp = 0xc4

	amd64Rsp = 0x98
	amd64Rbp = 0xa0
	amd64Rip = 0xf8
)

func parseContext(arch Arch, ctx []byte) (registers, error) {
	switch arch {
	case ArchX86:
		if len(ctx) < x86Esp+4 {
			return registers{}, fmt.Errorf("%w: x86 context of %d bytes", ErrTruncated, len(ctx))
		}
		return registers{
			ip: uint64(binary.LittleEndian.Uint32(ctx[x86Eip:])),
			sp: uint64(binary.LittleEndian.Uint32(ctx[x86Esp:])),
			bp: uint64(binary.LittleEndian.Uint32(ctx[x86Ebp:])),
		}, nil
	case ArchAMD64:
		if len(ctx) < amd64Rip+8 {
			return registers{}, fmt.Errorf("%w: amd64 context of %d bytes", ErrTruncated, len(ctx))
		}
		return registers{
			ip: binary.LittleEndian.Uint64(ctx[amd64Rip:]),
			sp: binary.LittleEndian.Uint64(ctx[amd64Rsp:]),
			bp: binary.LittleEndian.Uint64(ctx[amd64Rbp:]),
		}, nil
	default:
		return registers{}, fmt.Errorf("unsupported cpu %s", arch)
	}
}
