package crashdigest

import (
	"fmt"
	"time"

	"github.com/codecat/crashdigest/disasm"
	"github.com/codecat/crashdigest/minidump"
	"github.com/codecat/crashdigest/peimage"
)

// Bytes taken before and after a frame's resume address for disassembly.
const (
	windowBefore = 16
	windowAfter  = 20
)

// BuildFromBytes parses a minidump and the main executable it was written
// for and builds their digest.
func BuildFromBytes(crash, exe []byte, opts Options) (*Digest, error) {
	p, err := minidump.Parse(crash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshotParse, err)
	}
	img, err := peimage.Parse(exe)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageParse, err)
	}
	return Build(p, img, opts)
}

// Build assembles the digest of p against img. Neither input is modified
// and the digest keeps no references into them. No digest is returned
// alongside an error.
func Build(p *minidump.Process, img *peimage.File, opts Options) (*Digest, error) {
	opts = opts.withDefaults()

	main := p.MainModule()
	if main == nil {
		return nil, ErrMissingMainModule
	}
	code := img.CodeSection()
	if code == nil {
		return nil, ErrMissingCodeSection
	}
	if opts.ValidateChecksum && img.Checksum != main.Checksum {
		return nil, fmt.Errorf("%w: dump has 0x%08x, executable has 0x%08x", ErrChecksumMismatch, main.Checksum, img.Checksum)
	}

	mode := disasm.Mode32
	if img.Is64 {
		mode = disasm.Mode64
	}
	dec, err := disasm.Open(opts.Decoder, mode)
	if err != nil {
		return nil, err
	}

	b := &builder{
		opts: opts,
		p:    p,
		img:  img,
		main: main,
		code: code,
		dec:  dec,
	}

	d := &Digest{
		Metadata:   b.metadata(),
		System:     b.system(),
		Modules:    b.modules(),
		Exception:  b.exception(),
		Threads:    b.threads(),
		Executable: b.executable(),
	}
	if p.RequestingThread != nil {
		id := uint64(*p.RequestingThread)
		d.ThreadID = &id
	}

	for _, i := range b.enrichTargets(d) {
		if err := b.enrich(&d.Threads[i]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

type builder struct {
	opts Options
	p    *minidump.Process
	img  *peimage.File
	main *minidump.Module
	code *peimage.Section
	dec  disasm.Decoder
}

// unixMillis converts t to milliseconds since the epoch. Zero and
// pre-epoch times become 0.
func unixMillis(t time.Time) uint64 {
	if t.IsZero() || t.Before(time.Unix(0, 0)) {
		return 0
	}
	return uint64(t.UnixMilli())
}

func (b *builder) metadata() Metadata {
	m := Metadata{
		ModuleName:     b.main.Name,
		ModuleBase:     b.main.Base,
		ModuleChecksum: b.main.Checksum,
		DumpTimestamp:  unixMillis(b.p.Time),
	}
	if b.p.ProcessID != nil {
		pid := *b.p.ProcessID
		m.ProcessID = &pid
	}
	if b.p.ProcessCreateTime != nil {
		ts := unixMillis(*b.p.ProcessCreateTime)
		m.ProcessTimestamp = &ts
	}
	return m
}

func (b *builder) system() System {
	sys := b.p.System
	s := System{
		OSBuild:   b.opts.field(sys.OSBuild),
		OSVersion: b.opts.field(sys.OSVersion),
		CPUIdent:  b.opts.field(sys.CPUInfo),
		CPUCount:  uint64(sys.CPUCount),
	}
	if sys.CPUMicrocode != nil {
		s.CPUMicrocode = *sys.CPUMicrocode
	}
	return s
}

func (b *builder) modules() []Module {
	mods := make([]Module, 0, len(b.p.Modules))
	for _, m := range b.p.Modules {
		mods = append(mods, Module{
			Name:      m.Name,
			ImageBase: m.Base,
			ImageSize: m.Size,
			Checksum:  m.Checksum,
		})
	}
	return mods
}

func (b *builder) exception() *Exception {
	if b.p.Exception == nil {
		return nil
	}
	return &Exception{
		Reason:  b.p.Exception.Reason,
		Address: b.p.Exception.Address,
	}
}

func (b *builder) threads() []Thread {
	threads := make([]Thread, 0, len(b.p.Threads))
	for _, t := range b.p.Threads {
		thread := Thread{
			ID:      t.ID,
			Name:    b.opts.field(t.Name),
			DbgInfo: string(t.Info),
			Frames:  make([]Frame, 0, len(t.Frames)),
		}
		for _, f := range t.Frames {
			frame := Frame{
				Instruction:   f.Instruction,
				ResumeAddress: f.ResumeAddress,
				Trust:         string(f.Trust),
			}
			if f.Module != nil {
				name := f.Module.Name
				frame.ModuleName = &name
			}
			if rva, ok := ResolveRVA(f.Module, f.ResumeAddress, b.main); ok {
				frame.ResolvedRVA = &rva
			}
			if !KeepFrame(frame.ResolvedRVA, b.code) {
				continue
			}
			thread.Frames = append(thread.Frames, frame)
		}
		threads = append(threads, thread)
	}
	return threads
}

func (b *builder) executable() Executable {
	img := b.img
	exe := Executable{
		Is64:       img.Is64,
		EntryPoint: img.Entry,
		ImageBase:  img.ImageBase,
		Checksum:   img.Checksum,
		Exports:    make([]ExeExport, 0, len(img.Exports)),
		Imports:    make([]ExeImport, 0, len(img.Imports)),
		Sections:   make([]ExeSection, 0, len(img.Sections)),
	}
	if img.Name != nil {
		name := *img.Name
		exe.Name = &name
	}
	for _, e := range img.Exports {
		exp := ExeExport{RVA: e.RVA, Size: e.Size}
		if e.Name != nil {
			name := *e.Name
			exp.Name = &name
		}
		if e.Offset != nil {
			off := *e.Offset
			exp.Offset = &off
		}
		exe.Exports = append(exe.Exports, exp)
	}
	for _, i := range img.Imports {
		exe.Imports = append(exe.Imports, ExeImport{
			Name:    i.Name,
			DLLName: i.DLL,
			Ordinal: i.Ordinal,
			Offset:  i.Offset,
			RVA:     i.RVA,
			Size:    i.Size,
		})
	}
	for _, s := range img.Sections {
		exe.Sections = append(exe.Sections, ExeSection{
			Name:   s.Name,
			Size:   uint64(s.VirtualSize),
			Offset: uint64(s.VirtualAddress),
			PtrRaw: uint64(s.PointerToRawData),
		})
	}
	return exe
}

// enrichTargets returns the indices of the digest threads that get
// disassembly.
func (b *builder) enrichTargets(d *Digest) []int {
	if len(d.Threads) == 0 {
		return nil
	}
	switch b.opts.Enrich {
	case EnrichAll:
		all := make([]int, len(d.Threads))
		for i := range all {
			all[i] = i
		}
		return all
	case EnrichTriggering:
		if b.p.RequestingThread != nil {
			for i, t := range d.Threads {
				if t.ID == *b.p.RequestingThread {
					return []int{i}
				}
			}
		}
	}
	return []int{0}
}

// enrich attaches a disassembly listing to every main module frame of t.
func (b *builder) enrich(t *Thread) error {
	// File offset = RVA - delta for addresses in the code section.
	delta := int64(b.code.VirtualAddress) - int64(b.code.PointerToRawData)

	for i := range t.Frames {
		f := &t.Frames[i]
		if f.ResolvedRVA == nil {
			continue
		}
		off := int64(*f.ResolvedRVA) - delta
		start, end := off-windowBefore, off+windowAfter
		if start < 0 || end > int64(len(b.img.Raw)) {
			return fmt.Errorf("%w: frame 0x%X of thread %d needs bytes [%d, %d) of %d",
				ErrWindowOutOfBounds, f.ResumeAddress, t.ID, start, end, len(b.img.Raw))
		}

		r := disasm.NewResync(b.dec, b.img.Raw[start:end], windowBefore)
		// No alignment leaves the listing absent; the build goes on.
		if listing, ok := r.FormatValid(f.ResumeAddress - windowBefore); ok {
			f.ResolvedDisasm = listing
		}
		f.ResolvedDisasmSel = windowBefore
	}
	return nil
}
