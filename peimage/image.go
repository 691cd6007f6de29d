// Package peimage reads the parts of a PE32 or PE32+ executable needed
// to line it up with a crash dump: sections, exports, imports and the
// raw bytes backing them.
//
// Attribute certificates are never parsed.
package peimage

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/saferwall/pe"
	pelog "github.com/saferwall/pe/log"
)

var (
	ErrNotPE            = errors.New("not a PE image")
	ErrNoOptionalHeader = fmt.Errorf("%w: no optional header", ErrNotPE)
	ErrBadRVA           = errors.New("RVA not backed by file data")
)

// Section characteristics.
const scnCntCode = 0x00000020

// Data directory indices.
const (
	dirExport = 0
	dirImport = 1
)

// File is a parsed executable image.
type File struct {
	// Name is the DLL name recorded in the export directory.
	Name      *string
	Is64      bool
	Entry     uint64
	ImageBase uint64
	Checksum  uint32
	Exports   []Export
	Imports   []Import
	Sections  []Section
	// Raw is the image file as passed to Parse.
	Raw []byte
}

// Section is a section header.
type Section struct {
	Name             string
	VirtualAddress   uint32
	VirtualSize      uint32
	PointerToRawData uint32
	SizeOfRawData    uint32
	Characteristics  uint32
}

// Export is an exported function or forwarder.
type Export struct {
	Name *string
	// Offset is the file offset of RVA, absent for forwarders and RVAs
	// without file data.
	Offset *uint64
	RVA    uint64
	Size   uint64
}

// Import is one imported symbol.
type Import struct {
	// Name is the symbol name, or "ORDINAL n" for imports by ordinal.
	Name string
	DLL  string
	// Ordinal is the ordinal for imports by ordinal, the hint otherwise.
	Ordinal uint16
	// Offset and RVA locate the import address table entry.
	Offset uint64
	RVA    uint64
	Size   uint64
}

// Parse reads a PE image from data.
func Parse(data []byte) (*File, error) {
	p, err := pe.NewBytes(data, &pe.Options{
		OmitSecurityDirectory: true,
		Logger:                pelog.NewStdLogger(io.Discard),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPE, err)
	}
	if err := p.Parse(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPE, err)
	}
	if p.NtHeader.FileHeader.SizeOfOptionalHeader == 0 {
		return nil, ErrNoOptionalHeader
	}

	img := &File{Raw: data}

	var dirs [16]pe.DataDirectory
	switch oh := p.NtHeader.OptionalHeader.(type) {
	case pe.ImageOptionalHeader32:
		img.ImageBase = uint64(oh.ImageBase)
		img.Entry = uint64(oh.AddressOfEntryPoint)
		img.Checksum = oh.CheckSum
		dirs = oh.DataDirectory
	case pe.ImageOptionalHeader64:
		img.Is64 = true
		img.ImageBase = oh.ImageBase
		img.Entry = uint64(oh.AddressOfEntryPoint)
		img.Checksum = oh.CheckSum
		dirs = oh.DataDirectory
	default:
		return nil, ErrNoOptionalHeader
	}

	for _, s := range p.Sections {
		h := s.Header
		img.Sections = append(img.Sections, Section{
			Name:             string(bytes.TrimRight(h.Name[:], "\x00")),
			VirtualAddress:   h.VirtualAddress,
			VirtualSize:      h.VirtualSize,
			PointerToRawData: h.PointerToRawData,
			SizeOfRawData:    h.SizeOfRawData,
			Characteristics:  h.Characteristics,
		})
	}

	// The directory parsers only log what they cannot read; a directory
	// that points outside the file fails the whole image here.
	for _, d := range []struct {
		name  string
		index int
	}{{"export", dirExport}, {"import", dirImport}} {
		if rva := dirs[d.index].VirtualAddress; rva != 0 {
			if _, ok := img.RVAToOffset(rva); !ok {
				return nil, fmt.Errorf("%s directory: %w: %#x", d.name, ErrBadRVA, rva)
			}
		}
	}

	if dirs[dirExport].VirtualAddress != 0 {
		img.addExports(p.Export, dirs[dirExport])
	}
	img.addImports(p.Imports)
	return img, nil
}

// Section returns the first section with the given name.
func (f *File) Section(name string) *Section {
	for i := range f.Sections {
		if f.Sections[i].Name == name {
			return &f.Sections[i]
		}
	}
	return nil
}

// CodeSection returns the .text section, or the first section flagged as
// containing code when there is none.
func (f *File) CodeSection() *Section {
	if s := f.Section(".text"); s != nil {
		return s
	}
	for i := range f.Sections {
		if f.Sections[i].Characteristics&scnCntCode != 0 {
			return &f.Sections[i]
		}
	}
	return nil
}

// sectionAt returns the section whose virtual range contains rva.
func (f *File) sectionAt(rva uint32) *Section {
	for i := range f.Sections {
		s := &f.Sections[i]
		size := s.VirtualSize
		if size == 0 {
			size = s.SizeOfRawData
		}
		if rva >= s.VirtualAddress && uint64(rva) < uint64(s.VirtualAddress)+uint64(size) {
			return s
		}
	}
	return nil
}

// RVAToOffset translates rva to a file offset inside Raw.
func (f *File) RVAToOffset(rva uint32) (uint64, bool) {
	s := f.sectionAt(rva)
	if s == nil {
		return 0, false
	}
	delta := rva - s.VirtualAddress
	if delta >= s.SizeOfRawData {
		return 0, false
	}
	off := uint64(s.PointerToRawData) + uint64(delta)
	if off >= uint64(len(f.Raw)) {
		return 0, false
	}
	return off, true
}
