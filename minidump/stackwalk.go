package minidump

import "encoding/binary"

const (
	maxFrames    = 128
	maxScanWords = 1024
)

// stackMemory is a captured copy of a thread's stack.
type stackMemory struct {
	base uint64
	data []byte
}

func (m stackMemory) word(addr uint64, size int) (uint64, bool) {
	if addr < m.base {
		return 0, false
	}
	off := addr - m.base
	if off+uint64(size) > uint64(len(m.data)) || off+uint64(size) < off {
		return 0, false
	}
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(m.data[off:])), true
	}
	return binary.LittleEndian.Uint64(m.data[off:]), true
}

// walker unwinds one thread without unwind tables: the frame pointer
// chain while it yields addresses inside loaded modules, otherwise a scan
// of the stack for such addresses. Every step strictly raises the stack
// pointer, so walks terminate.
type walker struct {
	p       *Process
	stack   stackMemory
	ptrSize int
}

func (w *walker) walk(regs registers) []Frame {
	frames := []Frame{{
		Instruction:   regs.ip,
		ResumeAddress: regs.ip,
		Module:        w.p.ModuleAt(regs.ip),
		Trust:         TrustContext,
	}}
	if len(w.stack.data) == 0 {
		return frames
	}

	ptr := uint64(w.ptrSize)
	sp, bp := regs.sp, regs.bp
	for len(frames) < maxFrames {
		if ret, savedBP, ok := w.framePointer(sp, bp); ok {
			frames = append(frames, w.caller(ret, TrustFramePointer))
			sp = bp + 2*ptr
			bp = savedBP
			continue
		}

		ret, at, ok := w.scan(sp)
		if !ok {
			break
		}
		frames = append(frames, w.caller(ret, TrustScan))
		sp = at + ptr
	}
	return frames
}

func (w *walker) caller(ret uint64, trust Trust) Frame {
	return Frame{
		Instruction:   ret - 1,
		ResumeAddress: ret,
		Module:        w.p.ModuleAt(ret - 1),
		Trust:         trust,
	}
}

// framePointer follows [bp] = caller's bp, [bp+ptr] = return address.
func (w *walker) framePointer(sp, bp uint64) (uint64, uint64, bool) {
	if bp < sp {
		return 0, 0, false
	}
	savedBP, ok := w.stack.word(bp, w.ptrSize)
	if !ok {
		return 0, 0, false
	}
	ret, ok := w.stack.word(bp+uint64(w.ptrSize), w.ptrSize)
	if !ok || !w.plausible(ret) {
		return 0, 0, false
	}
	return ret, savedBP, true
}

// scan searches upwards from sp for a word pointing into a module.
func (w *walker) scan(sp uint64) (uint64, uint64, bool) {
	addr := sp
	for i := 0; i < maxScanWords; i++ {
		v, ok := w.stack.word(addr, w.ptrSize)
		if !ok {
			return 0, 0, false
		}
		if w.plausible(v) {
			return v, addr, true
		}
		addr += uint64(w.ptrSize)
	}
	return 0, 0, false
}

func (w *walker) plausible(ret uint64) bool {
	return ret != 0 && w.p.ModuleAt(ret-1) != nil
}
