package crashdigest_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecat/crashdigest"
	"github.com/codecat/crashdigest/disasm"
	"github.com/codecat/crashdigest/minidump"
	"github.com/codecat/crashdigest/peimage"
)

func u64(v uint64) *uint64 { return &v }
func str(v string) *string { return &v }

const (
	mainBase     = 0x1000
	mainChecksum = 0xc0ffee
	otherBase    = 0x7ff000
)

// testImage is a 64-bit image whose code section maps RVA to file offset
// one to one. The code is all nops except "mov rax, [rbp-8]; ret" at
// 0x50.
func testImage() *peimage.File {
	raw := make([]byte, 0x600)
	for i := range raw {
		raw[i] = 0x90
	}
	copy(raw[0x50:], []byte{0x48, 0x8b, 0x45, 0xf8, 0xc3})

	return &peimage.File{
		Name:      str("app.exe"),
		Is64:      true,
		Entry:     0x40,
		ImageBase: 0x140000000,
		Checksum:  mainChecksum,
		Exports: []peimage.Export{
			{Name: str("Run"), Offset: u64(0x60), RVA: 0x60, Size: 0x10},
			{RVA: 0x70},
		},
		Imports: []peimage.Import{
			{Name: "ExitProcess", DLL: "KERNEL32.dll", Ordinal: 0x120, Offset: 0x580, RVA: 0x580, Size: 8},
		},
		Sections: []peimage.Section{
			{Name: ".text", VirtualAddress: 0x40, VirtualSize: 0x500, PointerToRawData: 0x40, SizeOfRawData: 0x500, Characteristics: 0x60000020},
			{Name: ".rdata", VirtualAddress: 0x540, VirtualSize: 0xc0, PointerToRawData: 0x540, SizeOfRawData: 0xc0, Characteristics: 0x40000040},
		},
		Raw: raw,
	}
}

func testProcess() *minidump.Process {
	p := &minidump.Process{
		ProcessID:         func() *uint32 { v := uint32(4242); return &v }(),
		ProcessCreateTime: func() *time.Time { t := time.UnixMilli(1600000000123); return &t }(),
		Time:              time.UnixMilli(1600000100456),
		System: minidump.SystemInfo{
			Arch:      minidump.ArchAMD64,
			OSVersion: str("10.0.19045"),
			CPUInfo:   str("GenuineIntel family 6 model 158 stepping 10"),
			CPUCount:  8,
		},
		Modules: []minidump.Module{
			{Name: `C:\app\app.exe`, Base: mainBase, Size: 0x2000, Checksum: mainChecksum},
			{Name: `C:\Windows\System32\ntdll.dll`, Base: otherBase, Size: 0x1000, Checksum: 0x1234},
		},
		Exception: &minidump.Exception{
			ThreadID: 2,
			Code:     0xc0000005,
			Reason:   "EXCEPTION_ACCESS_VIOLATION_READ",
			Address:  0x8,
		},
	}
	main, other := &p.Modules[0], &p.Modules[1]

	p.Threads = []minidump.Thread{
		{
			ID:   1,
			Name: str("worker"),
			Info: minidump.CallStackOK,
			Frames: []minidump.Frame{
				{Instruction: otherBase + 0x10, ResumeAddress: otherBase + 0x10, Module: other, Trust: minidump.TrustContext},
			},
		},
		{
			ID:   2,
			Info: minidump.CallStackOK,
			Frames: []minidump.Frame{
				{Instruction: 0x1050, ResumeAddress: 0x1050, Module: main, Trust: minidump.TrustContext},
				{Instruction: 0x1fff, ResumeAddress: 0x2000, Module: main, Trust: minidump.TrustScan},
				{Instruction: otherBase + 0x233, ResumeAddress: otherBase + 0x234, Module: other, Trust: minidump.TrustFramePointer},
				{Instruction: 0xdead, ResumeAddress: 0xdeae, Trust: minidump.TrustScan},
			},
		},
	}
	id := uint32(2)
	p.RequestingThread = &id
	return p
}

// listingAt50 is the listing of the window around RVA 0x50.
func listingAt50() disasm.Listing {
	var l disasm.Listing
	for i := 0; i < 16; i++ {
		l = append(l, disasm.Line{Offset: i, Text: "nop"})
	}
	l = append(l,
		disasm.Line{Offset: 16, Text: "mov rax, qword ptr [rbp-0x8]"},
		disasm.Line{Offset: 20, Text: "ret"},
	)
	for i := 21; i < 36; i++ {
		l = append(l, disasm.Line{Offset: i, Text: "nop"})
	}
	return l
}

func TestBuild(t *testing.T) {
	d, err := crashdigest.Build(testProcess(), testImage(), crashdigest.DefaultOptions())
	require.NoError(t, err)

	want := &crashdigest.Digest{
		Metadata: crashdigest.Metadata{
			ModuleName:       `C:\app\app.exe`,
			ModuleBase:       mainBase,
			ModuleChecksum:   mainChecksum,
			ProcessID:        func() *uint32 { v := uint32(4242); return &v }(),
			ProcessTimestamp: u64(1600000000123),
			DumpTimestamp:    1600000100456,
		},
		System: crashdigest.System{
			OSVersion: str("10.0.19045"),
			CPUIdent:  str("GenuineIntel family 6 model 158 stepping 10"),
			CPUCount:  8,
		},
		Modules: []crashdigest.Module{
			{Name: `C:\app\app.exe`, ImageBase: mainBase, ImageSize: 0x2000, Checksum: mainChecksum},
			{Name: `C:\Windows\System32\ntdll.dll`, ImageBase: otherBase, ImageSize: 0x1000, Checksum: 0x1234},
		},
		Exception: &crashdigest.Exception{Reason: "EXCEPTION_ACCESS_VIOLATION_READ", Address: 0x8},
		Threads: []crashdigest.Thread{
			{
				ID:      1,
				Name:    str("worker"),
				DbgInfo: "ok",
				Frames: []crashdigest.Frame{
					{Instruction: otherBase + 0x10, ResumeAddress: otherBase + 0x10, ModuleName: str(`C:\Windows\System32\ntdll.dll`), Trust: "context"},
				},
			},
			{
				ID:      2,
				DbgInfo: "ok",
				Frames: []crashdigest.Frame{
					{
						Instruction:       0x1050,
						ResumeAddress:     0x1050,
						ModuleName:        str(`C:\app\app.exe`),
						Trust:             "context",
						ResolvedRVA:       u64(0x50),
						ResolvedDisasm:    listingAt50(),
						ResolvedDisasmSel: 16,
					},
					{Instruction: otherBase + 0x233, ResumeAddress: otherBase + 0x234, ModuleName: str(`C:\Windows\System32\ntdll.dll`), Trust: "frame_pointer"},
					{Instruction: 0xdead, ResumeAddress: 0xdeae, Trust: "scan"},
				},
			},
		},
		ThreadID: u64(2),
		Executable: crashdigest.Executable{
			Name:       str("app.exe"),
			Is64:       true,
			EntryPoint: 0x40,
			ImageBase:  0x140000000,
			Checksum:   mainChecksum,
			Exports: []crashdigest.ExeExport{
				{Name: str("Run"), Offset: u64(0x60), RVA: 0x60, Size: 0x10},
				{RVA: 0x70},
			},
			Imports: []crashdigest.ExeImport{
				{Name: "ExitProcess", DLLName: "KERNEL32.dll", Ordinal: 0x120, Offset: 0x580, RVA: 0x580, Size: 8},
			},
			Sections: []crashdigest.ExeSection{
				{Name: ".text", Size: 0x500, Offset: 0x40, PtrRaw: 0x40},
				{Name: ".rdata", Size: 0xc0, Offset: 0x540, PtrRaw: 0x540},
			},
		},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildFrameFilter(t *testing.T) {
	d, err := crashdigest.Build(testProcess(), testImage(), crashdigest.DefaultOptions())
	require.NoError(t, err)

	frames := d.Threads[1].Frames
	for _, f := range frames {
		assert.NotEqual(t, uint64(0x2000), f.ResumeAddress, "frame past the code section is dropped")
	}
	require.Len(t, frames, 3)
	assert.Equal(t, uint64(0x1050), frames[0].ResumeAddress)
	assert.Equal(t, uint64(otherBase+0x234), frames[1].ResumeAddress)
	assert.Nil(t, frames[1].ResolvedRVA)
	assert.Nil(t, frames[1].ResolvedDisasm)
	assert.Zero(t, frames[1].ResolvedDisasmSel)
}

func TestBuildIdempotent(t *testing.T) {
	p, img := testProcess(), testImage()
	first, err := crashdigest.Build(p, img, crashdigest.DefaultOptions())
	require.NoError(t, err)
	second, err := crashdigest.Build(p, img, crashdigest.DefaultOptions())
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second build differs (-first +second):\n%s", diff)
	}
	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestBuildOwnsOutput(t *testing.T) {
	p, img := testProcess(), testImage()
	d, err := crashdigest.Build(p, img, crashdigest.DefaultOptions())
	require.NoError(t, err)

	*p.Threads[0].Name = "renamed"
	*img.Name = "other.exe"
	for i := range img.Raw {
		img.Raw[i] = 0
	}
	p.Modules[0].Name = "moved.exe"

	assert.Equal(t, "worker", *d.Threads[0].Name)
	assert.Equal(t, "app.exe", *d.Executable.Name)
	assert.Equal(t, `C:\app\app.exe`, *d.Threads[1].Frames[0].ModuleName)
	assert.Equal(t, listingAt50(), d.Threads[1].Frames[0].ResolvedDisasm)
}

func TestBuildJSON(t *testing.T) {
	d, err := crashdigest.Build(testProcess(), testImage(), crashdigest.DefaultOptions())
	require.NoError(t, err)
	out, err := json.Marshal(d)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, float64(2), doc["thread_id"])
	assert.Nil(t, doc["system"].(map[string]interface{})["os_build"])

	threads := doc["threads"].([]interface{})
	frame := threads[1].(map[string]interface{})["frames"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, float64(0x50), frame["resolved_rva"])
	assert.Equal(t, float64(16), frame["resolved_disasm_sel"])
	line := frame["resolved_disasm"].([]interface{})[16].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"offset": float64(16), "text": "mov rax, qword ptr [rbp-0x8]"}, line)
}

func TestBuildEnrichTarget(t *testing.T) {
	enriched := func(d *crashdigest.Digest) []uint32 {
		var ids []uint32
		for _, th := range d.Threads {
			for _, f := range th.Frames {
				if f.ResolvedDisasm != nil {
					ids = append(ids, th.ID)
					break
				}
			}
		}
		return ids
	}

	// Both threads get a main module frame so enrichment is observable.
	withMainFrames := func() *minidump.Process {
		p := testProcess()
		p.Threads[0].Frames = append(p.Threads[0].Frames, minidump.Frame{
			Instruction: 0x1050, ResumeAddress: 0x1050, Module: &p.Modules[0], Trust: minidump.TrustScan,
		})
		return p
	}

	tests := []struct {
		name   string
		target crashdigest.EnrichTarget
		setup  func(p *minidump.Process)
		want   []uint32
	}{
		{name: "triggering", target: crashdigest.EnrichTriggering, want: []uint32{2}},
		{name: "first", target: crashdigest.EnrichFirst, want: []uint32{1}},
		{name: "all", target: crashdigest.EnrichAll, want: []uint32{1, 2}},
		{
			name:   "triggering without requesting thread",
			target: crashdigest.EnrichTriggering,
			setup:  func(p *minidump.Process) { p.RequestingThread = nil },
			want:   []uint32{1},
		},
		{
			name:   "triggering with unknown thread",
			target: crashdigest.EnrichTriggering,
			setup: func(p *minidump.Process) {
				id := uint32(99)
				p.RequestingThread = &id
			},
			want: []uint32{1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := withMainFrames()
			if tt.setup != nil {
				tt.setup(p)
			}
			opts := crashdigest.DefaultOptions()
			opts.Enrich = tt.target
			d, err := crashdigest.Build(p, testImage(), opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, enriched(d))
		})
	}
}

func TestBuildFieldPolicy(t *testing.T) {
	opts := crashdigest.DefaultOptions()
	opts.Fields = crashdigest.FieldsSentinel
	d, err := crashdigest.Build(testProcess(), testImage(), opts)
	require.NoError(t, err)

	assert.Equal(t, str("unknown"), d.System.OSBuild)
	assert.Equal(t, str("10.0.19045"), d.System.OSVersion)
	assert.Equal(t, str("worker"), d.Threads[0].Name)
	assert.Equal(t, str("unknown"), d.Threads[1].Name)

	opts.Sentinel = "n/a"
	d, err = crashdigest.Build(testProcess(), testImage(), opts)
	require.NoError(t, err)
	assert.Equal(t, str("n/a"), d.System.OSBuild)

	d, err = crashdigest.Build(testProcess(), testImage(), crashdigest.DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, d.System.OSBuild)
	assert.Nil(t, d.Threads[1].Name)
}

func TestBuildTimestamps(t *testing.T) {
	p := testProcess()
	before := time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC)
	p.ProcessCreateTime = &before
	p.Time = time.Time{}

	d, err := crashdigest.Build(p, testImage(), crashdigest.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, u64(0), d.Metadata.ProcessTimestamp)
	assert.Zero(t, d.Metadata.DumpTimestamp)

	p.ProcessCreateTime = nil
	d, err = crashdigest.Build(p, testImage(), crashdigest.DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, d.Metadata.ProcessTimestamp)
}

func TestBuildNoAlignment(t *testing.T) {
	img := testImage()
	// Invalid opcodes up to and including the resume address.
	for i := 0x40; i < 0x54; i++ {
		img.Raw[i] = 0xd6
	}

	d, err := crashdigest.Build(testProcess(), img, crashdigest.DefaultOptions())
	require.NoError(t, err)
	frame := d.Threads[1].Frames[0]
	assert.Equal(t, u64(0x50), frame.ResolvedRVA)
	assert.Nil(t, frame.ResolvedDisasm)
	assert.Equal(t, 16, frame.ResolvedDisasmSel)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		process func() *minidump.Process
		image   func() *peimage.File
		opts    func(o *crashdigest.Options)
		err     error
	}{
		{
			name: "no modules",
			process: func() *minidump.Process {
				p := testProcess()
				p.Modules = nil
				p.Threads = nil
				return p
			},
			err: crashdigest.ErrMissingMainModule,
		},
		{
			name: "no code section",
			image: func() *peimage.File {
				img := testImage()
				img.Sections = img.Sections[1:]
				return img
			},
			err: crashdigest.ErrMissingCodeSection,
		},
		{
			name: "checksum mismatch",
			image: func() *peimage.File {
				img := testImage()
				img.Checksum = 0xbad
				return img
			},
			opts: func(o *crashdigest.Options) { o.ValidateChecksum = true },
			err:  crashdigest.ErrChecksumMismatch,
		},
		{
			name: "window before file start",
			process: func() *minidump.Process {
				p := testProcess()
				p.Threads[1].Frames[0].ResumeAddress = mainBase + 0x8
				return p
			},
			err: crashdigest.ErrWindowOutOfBounds,
		},
		{
			name: "window past file end",
			image: func() *peimage.File {
				img := testImage()
				img.Raw = img.Raw[:0x60]
				return img
			},
			err: crashdigest.ErrWindowOutOfBounds,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, img, opts := testProcess(), testImage(), crashdigest.DefaultOptions()
			if tt.process != nil {
				p = tt.process()
			}
			if tt.image != nil {
				img = tt.image()
			}
			if tt.opts != nil {
				tt.opts(&opts)
			}
			d, err := crashdigest.Build(p, img, opts)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, d)
		})
	}
}

func TestBuildChecksumValidationPasses(t *testing.T) {
	opts := crashdigest.DefaultOptions()
	opts.ValidateChecksum = true
	_, err := crashdigest.Build(testProcess(), testImage(), opts)
	assert.NoError(t, err)
}

func TestBuildUnknownDecoder(t *testing.T) {
	opts := crashdigest.DefaultOptions()
	opts.Decoder = "capstone"
	_, err := crashdigest.Build(testProcess(), testImage(), opts)
	assert.ErrorContains(t, err, "capstone")
}

func TestBuildFromBytesErrors(t *testing.T) {
	_, err := crashdigest.BuildFromBytes([]byte("not a dump"), nil, crashdigest.DefaultOptions())
	assert.ErrorIs(t, err, crashdigest.ErrSnapshotParse)
	assert.ErrorIs(t, err, minidump.ErrTruncated, "reader error stays in the chain")

	_, err = crashdigest.BuildFromBytes(minimalDump(), []byte("not an image"), crashdigest.DefaultOptions())
	assert.ErrorIs(t, err, crashdigest.ErrImageParse)
	assert.ErrorIs(t, err, peimage.ErrNotPE, "image error stays in the chain")
}
