package disasm

// Line is one decoded instruction of a listing. Offset is relative to the
// start of the decoded window.
type Line struct {
	Offset int    `json:"offset"`
	Text   string `json:"text"`
}

// Listing is an ordered instruction listing with strictly increasing
// offsets.
type Listing []Line

// At returns the line starting at offset, if any.
func (l Listing) At(offset int) (Line, bool) {
	for _, line := range l {
		if line.Offset == offset {
			return line, true
		}
	}
	return Line{}, false
}

// Resync decodes a byte window that likely begins mid-instruction. The
// instruction starting at target is known to be real; everything before
// it is speculative.
type Resync struct {
	dec    Decoder
	window []byte
	target int
}

// NewResync returns a resynchronizer for window whose known instruction
// boundary is target.
func NewResync(dec Decoder, window []byte, target int) *Resync {
	return &Resync{
		dec:    dec,
		window: window,
		target: target,
	}
}

// FirstValidOffset returns the smallest start offset below the target
// from which sequential decoding only yields valid instructions and
// lands exactly on the target. An instruction straddling the target
// rejects the offset.
func (r *Resync) FirstValidOffset() (int, bool) {
	if r.target <= 0 || r.target > len(r.window) {
		return 0, false
	}
	for offset := 0; offset < r.target; offset++ {
		if r.reaches(offset) {
			return offset, true
		}
	}
	return 0, false
}

func (r *Resync) reaches(offset int) bool {
	pos := offset
	for pos < r.target {
		inst, err := r.dec.Decode(r.window[pos:], 0)
		if err != nil {
			return false
		}
		pos += inst.Len
	}
	return pos == r.target
}

// FormatValid decodes from the first valid offset until the window is
// exhausted or an invalid instruction is hit. base is the virtual
// address of window[0]. It reports false when no start offset lands on
// the target.
func (r *Resync) FormatValid(base uint64) (Listing, bool) {
	offset, ok := r.FirstValidOffset()
	if !ok {
		return nil, false
	}

	var listing Listing
	for pos := offset; pos < len(r.window); {
		inst, err := r.dec.Decode(r.window[pos:], base+uint64(pos))
		if err != nil {
			break
		}
		listing = append(listing, Line{Offset: pos, Text: inst.Text})
		pos += inst.Len
	}
	return listing, true
}
