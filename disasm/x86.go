package disasm

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// BackendX86asm is the name of the pure Go decoder backend.
const BackendX86asm = "x86asm"

func init() {
	Register(BackendX86asm, func(mode Mode) (Decoder, error) {
		return NewX86(mode)
	})
}

// X86 decodes instructions with golang.org/x/arch/x86/x86asm and formats
// them in Intel syntax. Memory operands carry their size when they have
// one, operands are separated by ", " and immediates are printed with a
// 0x prefix.
//
// x86asm knows nothing of the VEX, EVEX and XOP encodings and of the CET
// markers. X86 measures those itself and renders vector instructions as
// their encoding kind followed by the instruction bytes.
type X86 struct {
	mode int
}

// NewX86 returns an x86asm decoder for mode.
func NewX86(mode Mode) (*X86, error) {
	switch mode {
	case Mode32, Mode64:
		return &X86{mode: int(mode)}, nil
	default:
		return nil, fmt.Errorf("x86asm: unsupported mode %s", mode)
	}
}

// Decode implements Decoder.
func (d *X86) Decode(src []byte, pc uint64) (Inst, error) {
	if len(src) == 0 {
		return Inst{}, ErrInvalid
	}
	if inst, ok := decodeEndbr(src); ok {
		return inst, nil
	}
	if n, kind, err := d.decodeVector(src); kind != vectorNone {
		if err != nil {
			return Inst{}, err
		}
		return Inst{
			Len:  n,
			Text: fmt.Sprintf("%s % x", kind, src[:n]),
		}, nil
	}

	inst, err := x86asm.Decode(src, d.mode)
	// A bare prefix comes back without an opcode and without an error
	// when the bytes after it do not decode or run out.
	if err != nil || inst.Op == 0 || inst.Len <= 0 {
		return Inst{}, ErrInvalid
	}
	return Inst{
		Len:  inst.Len,
		Text: stripBarePtr(x86asm.IntelSyntax(inst, pc, nil)),
	}, nil
}

func decodeEndbr(src []byte) (Inst, bool) {
	if len(src) < 4 || src[0] != 0xf3 || src[1] != 0x0f || src[2] != 0x1e {
		return Inst{}, false
	}
	switch src[3] {
	case 0xfa:
		return Inst{Len: 4, Text: "endbr64"}, true
	case 0xfb:
		return Inst{Len: 4, Text: "endbr32"}, true
	}
	return Inst{}, false
}

// memSizes are the operand size keywords IntelSyntax puts before "ptr".
var memSizes = map[string]bool{
	"byte":    true,
	"word":    true,
	"dword":   true,
	"fword":   true,
	"qword":   true,
	"tword":   true,
	"xmmword": true,
	"ymmword": true,
	"zmmword": true,
}

// stripBarePtr drops a "ptr" that has no size in front of it, as
// IntelSyntax prints for lea and other sizeless memory operands.
func stripBarePtr(text string) string {
	if !strings.Contains(text, "ptr ") {
		return text
	}
	words := strings.Split(text, " ")
	out := words[:0]
	for i, w := range words {
		if w == "ptr" && (i == 0 || !memSizes[words[i-1]]) {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

const maxInstLen = 15

type vectorKind int

const (
	vectorNone vectorKind = iota
	vectorVEX2
	vectorVEX3
	vectorEVEX
	vectorXOP
)

func (k vectorKind) String() string {
	switch k {
	case vectorVEX2, vectorVEX3:
		return "vex"
	case vectorEVEX:
		return "evex"
	case vectorXOP:
		return "xop"
	default:
		return "none"
	}
}

// decodeVector measures an instruction with a VEX, EVEX or XOP prefix.
// kind is vectorNone when src does not start with one and x86asm should
// decode it.
func (d *X86) decodeVector(src []byte) (int, vectorKind, error) {
	pos, addr16, barred := d.skipPrefixes(src)
	if pos >= len(src) {
		return 0, vectorNone, nil
	}
	kind := d.vectorKind(src[pos:])
	if kind == vectorNone {
		return 0, vectorNone, nil
	}
	// Operand size, lock, rep and REX prefixes cannot precede these
	// encodings.
	if barred {
		return 0, kind, ErrInvalid
	}
	n, ok := vectorLength(src[pos:], kind, addr16)
	if !ok || pos+n > maxInstLen || pos+n > len(src) {
		return 0, kind, ErrInvalid
	}
	return pos + n, kind, nil
}

// skipPrefixes returns the index of the first byte past the legacy and
// REX prefixes of src, whether the address size is 16 bits, and whether
// a prefix other than a segment override or address size is present in
// front of the opcode.
func (d *X86) skipPrefixes(src []byte) (pos int, addr16, barred bool) {
	var rex bool
	for pos < len(src) && pos < maxInstLen {
		switch b := src[pos]; {
		case b == 0x26 || b == 0x2e || b == 0x36 || b == 0x3e || b == 0x64 || b == 0x65:
			rex = false
		case b == 0x67:
			addr16 = d.mode == 32
			rex = false
		case b == 0x66 || b == 0xf0 || b == 0xf2 || b == 0xf3:
			barred = true
			rex = false
		case d.mode == 64 && b&0xf0 == 0x40:
			rex = true
		default:
			return pos, addr16, barred || rex
		}
		pos++
	}
	return pos, addr16, barred || rex
}

// vectorKind reports the encoding introduced by the first byte of src.
// Outside long mode c4, c5 and 62 are LES, LDS and BOUND unless the next
// byte would be a register ModRM, which those opcodes do not accept.
func (d *X86) vectorKind(src []byte) vectorKind {
	if len(src) < 2 {
		return vectorNone
	}
	long := d.mode == 64 || src[1]>>6 == 3
	switch src[0] {
	case 0xc5:
		if long {
			return vectorVEX2
		}
	case 0xc4:
		if long {
			return vectorVEX3
		}
	case 0x62:
		if long {
			return vectorEVEX
		}
	case 0x8f:
		// POP r/m only uses map select values below 8.
		if src[1]&0x1f >= 8 {
			return vectorXOP
		}
	}
	return vectorNone
}

// vectorLength measures the instruction at src, which starts with a
// prefix of the given kind.
func vectorLength(src []byte, kind vectorKind, addr16 bool) (int, bool) {
	var pos, opmap int
	switch kind {
	case vectorVEX2:
		pos, opmap = 2, 1
	case vectorVEX3:
		if len(src) < 3 {
			return 0, false
		}
		pos, opmap = 3, int(src[1]&0x1f)
		if opmap < 1 || opmap > 3 {
			return 0, false
		}
	case vectorEVEX:
		if len(src) < 4 || src[2]&0x04 == 0 {
			return 0, false
		}
		pos, opmap = 4, int(src[1]&0x07)
		if opmap == 0 || opmap == 4 || opmap == 7 {
			return 0, false
		}
	case vectorXOP:
		if len(src) < 3 {
			return 0, false
		}
		pos, opmap = 3, int(src[1]&0x1f)
		if opmap > 10 {
			return 0, false
		}
	}
	if pos >= len(src) {
		return 0, false
	}
	op := src[pos]
	pos++

	// vzeroupper and vzeroall have no ModRM.
	if kind != vectorXOP && opmap == 1 && op == 0x77 {
		if kind == vectorEVEX {
			return 0, false
		}
		return pos, true
	}

	if pos >= len(src) {
		return 0, false
	}
	n, ok := modrmLength(src[pos:], addr16)
	if !ok {
		return 0, false
	}
	pos += n

	return pos + vectorImmediate(kind, opmap, op), true
}

// vectorImmediate returns the immediate size of a vector opcode.
func vectorImmediate(kind vectorKind, opmap int, op byte) int {
	if kind == vectorXOP {
		switch opmap {
		case 8:
			return 1
		case 10:
			return 4
		}
		return 0
	}
	switch opmap {
	case 3:
		return 1
	case 1:
		switch op {
		case 0x70, 0x71, 0x72, 0x73, 0xc2, 0xc4, 0xc5, 0xc6:
			return 1
		}
	}
	return 0
}

// modrmLength returns the size of the ModRM byte and the SIB and
// displacement bytes it implies.
func modrmLength(src []byte, addr16 bool) (int, bool) {
	if len(src) == 0 {
		return 0, false
	}
	modrm := src[0]
	mod, rm := modrm>>6, modrm&7
	if mod == 3 {
		return 1, true
	}

	if addr16 {
		switch {
		case mod == 0 && rm == 6:
			return 3, true
		case mod == 1:
			return 2, true
		case mod == 2:
			return 3, true
		}
		return 1, true
	}

	n := 1
	base := rm
	if rm == 4 {
		if len(src) < 2 {
			return 0, false
		}
		base = src[1] & 7
		n++
	}
	switch {
	case mod == 0 && (rm == 5 || (rm == 4 && base == 5)):
		n += 4
	case mod == 1:
		n++
	case mod == 2:
		n += 4
	}
	return n, true
}
