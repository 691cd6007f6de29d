//go:build zydis && cgo

package disasm

import (
	"fmt"
	"strings"

	"github.com/jpap/go-zydis"
)

// BackendZydis is the name of the cgo Zydis decoder backend.
const BackendZydis = "zydis"

func init() {
	Register(BackendZydis, func(mode Mode) (Decoder, error) {
		return NewZydis(mode)
	})
	defaultBackend = BackendZydis
}

// Zydis decodes instructions with the Zydis library and formats them in
// Intel style.
type Zydis struct {
	decoder   *zydis.Decoder
	formatter *zydis.Formatter
}

// NewZydis returns a Zydis decoder for mode.
func NewZydis(mode Mode) (*Zydis, error) {
	var decoder *zydis.Decoder
	switch mode {
	case Mode64:
		decoder = zydis.NewDecoder(zydis.MachineMode64, zydis.AddressWidth64)
	case Mode32:
		decoder = zydis.NewDecoder(zydis.MachineModeLegacy32, zydis.AddressWidth32)
	default:
		return nil, fmt.Errorf("zydis: unsupported mode %s", mode)
	}
	formatter, err := zydis.NewFormatter(zydis.FormatterStyleIntel)
	if err != nil {
		return nil, fmt.Errorf("zydis: unable to make formatter: %w", err)
	}
	return &Zydis{
		decoder:   decoder,
		formatter: formatter,
	}, nil
}

// Decode implements Decoder.
func (d *Zydis) Decode(src []byte, pc uint64) (Inst, error) {
	if len(src) == 0 {
		return Inst{}, ErrInvalid
	}
	instr, err := d.decoder.Decode(src)
	if err != nil || instr.Length == 0 {
		return Inst{}, ErrInvalid
	}
	text, err := d.formatter.FormatInstruction(instr, pc)
	if err != nil {
		return Inst{}, ErrInvalid
	}
	return Inst{
		Len:  int(instr.Length),
		Text: strings.Trim(text, "\x00"),
	}, nil
}
