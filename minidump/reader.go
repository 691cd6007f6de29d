package minidump

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/codecat/go-libs/log"
)

const signature = 0x504d444d // "MDMP"

// Stream types.
const (
	streamThreadList    = 3
	streamModuleList    = 4
	streamException     = 6
	streamSystemInfo    = 7
	streamMiscInfo      = 15
	streamThreadNames   = 24
	streamBreakpadInfo  = 0x47670001
	streamLinuxCPUInfo  = 0x47670003
	maxStringCharacters = 0x8000
)

var (
	ErrBadSignature  = errors.New("bad minidump signature")
	ErrTruncated     = errors.New("minidump truncated")
	ErrMissingStream = errors.New("required stream missing")
)

type rawHeader struct {
	Signature          uint32
	Version            uint32
	NumberOfStreams    uint32
	StreamDirectoryRva uint32
	CheckSum           uint32
	TimeDateStamp      uint32
	Flags              uint64
}

type rawDirectory struct {
	StreamType uint32
	DataSize   uint32
	Rva        uint32
}

type rawLocation struct {
	DataSize uint32
	Rva      uint32
}

type dump struct {
	data    []byte
	header  rawHeader
	streams map[uint32]rawLocation
}

// Parse reads a minidump from data and walks every thread's stack. The
// returned Process holds no references into data.
func Parse(data []byte) (*Process, error) {
	d := &dump{
		data:    data,
		streams: make(map[uint32]rawLocation),
	}
	if err := d.read(0, &d.header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if d.header.Signature != signature {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadSignature, d.header.Signature)
	}
	for i := uint32(0); i < d.header.NumberOfStreams; i++ {
		var dir rawDirectory
		rva := uint64(d.header.StreamDirectoryRva) + uint64(i)*12
		if err := d.readAt(rva, &dir); err != nil {
			return nil, fmt.Errorf("reading stream directory entry %d: %w", i, err)
		}
		// First stream of a type wins.
		if _, dup := d.streams[dir.StreamType]; !dup {
			d.streams[dir.StreamType] = rawLocation{DataSize: dir.DataSize, Rva: dir.Rva}
		}
	}

	p := &Process{
		Time: unixSeconds(d.header.TimeDateStamp),
	}

	var err error
	if p.System, err = d.systemInfo(); err != nil {
		return nil, fmt.Errorf("reading system info: %w", err)
	}
	if p.Modules, err = d.moduleList(); err != nil {
		return nil, fmt.Errorf("reading module list: %w", err)
	}
	if p.Exception, err = d.exception(); err != nil {
		return nil, fmt.Errorf("reading exception: %w", err)
	}
	d.miscInfo(p)

	if p.Exception != nil {
		id := p.Exception.ThreadID
		p.RequestingThread = &id
	} else if id, ok := d.breakpadRequestingThread(); ok {
		p.RequestingThread = &id
	}

	if p.Threads, err = d.threadList(p); err != nil {
		return nil, fmt.Errorf("reading thread list: %w", err)
	}
	return p, nil
}

func unixSeconds(s uint32) time.Time {
	return time.Unix(int64(s), 0).UTC()
}

func (d *dump) slice(rva, size uint64) ([]byte, error) {
	end := rva + size
	if end < rva || end > uint64(len(d.data)) {
		return nil, fmt.Errorf("%w: %d bytes at %#x, have %d", ErrTruncated, size, rva, len(d.data))
	}
	return d.data[rva:end], nil
}

func (d *dump) location(loc rawLocation) ([]byte, error) {
	return d.slice(uint64(loc.Rva), uint64(loc.DataSize))
}

func (d *dump) read(rva uint32, v interface{}) error {
	return d.readAt(uint64(rva), v)
}

func (d *dump) readAt(rva uint64, v interface{}) error {
	b, err := d.slice(rva, uint64(binary.Size(v)))
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

// stream returns the location of a stream type, if present.
func (d *dump) stream(typ uint32) (rawLocation, bool) {
	loc, ok := d.streams[typ]
	return loc, ok
}

// list reads the element count that prefixes list streams and checks the
// elements fit in the stream.
func (d *dump) list(loc rawLocation, elemSize uint64) (uint32, error) {
	var count uint32
	if err := d.read(loc.Rva, &count); err != nil {
		return 0, err
	}
	if 4+uint64(count)*elemSize > uint64(loc.DataSize) {
		return 0, fmt.Errorf("%w: %d entries of %d bytes in a %d byte stream", ErrTruncated, count, elemSize, loc.DataSize)
	}
	return count, nil
}

// str reads a MINIDUMP_STRING.
func (d *dump) str(rva uint32) (string, error) {
	var length uint32
	if err := d.read(rva, &length); err != nil {
		return "", err
	}
	if length/2 > maxStringCharacters {
		return "", fmt.Errorf("string at %#x too long (%d bytes)", rva, length)
	}
	b, err := d.slice(uint64(rva)+4, uint64(length&^1))
	if err != nil {
		return "", err
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// skipped reports an optional stream that could not be read. The dump
// stays usable without it.
func skipped(name string, err error) {
	if err != nil {
		log.Warn("Skipping malformed %s stream: %s", name, err.Error())
	}
}
