package crashdigest

import "github.com/codecat/crashdigest/disasm"

// Digest is the combined view of a crash dump and its executable. It
// shares no memory with the inputs it was built from.
type Digest struct {
	Metadata   Metadata   `json:"metadata"`
	System     System     `json:"system"`
	Modules    []Module   `json:"modules"`
	Exception  *Exception `json:"exception"`
	Threads    []Thread   `json:"threads"`
	ThreadID   *uint64    `json:"thread_id"`
	Executable Executable `json:"executable"`
}

// Metadata describes the dump and its main module. Timestamps are unix
// milliseconds.
type Metadata struct {
	ModuleName       string  `json:"module_name"`
	ModuleBase       uint64  `json:"module_base"`
	ModuleChecksum   uint32  `json:"module_checksum"`
	ProcessID        *uint32 `json:"process_id"`
	ProcessTimestamp *uint64 `json:"process_timestamp"`
	DumpTimestamp    uint64  `json:"dump_timestamp"`
}

type System struct {
	OSBuild      *string `json:"os_build"`
	OSVersion    *string `json:"os_version"`
	CPUIdent     *string `json:"cpu_ident"`
	CPUMicrocode uint64  `json:"cpu_microcode"`
	CPUCount     uint64  `json:"cpu_count"`
}

type Module struct {
	Name      string `json:"name"`
	ImageBase uint64 `json:"image_base"`
	ImageSize uint32 `json:"image_size"`
	Checksum  uint32 `json:"checksum"`
}

type Exception struct {
	Reason  string `json:"reason"`
	Address uint64 `json:"address"`
}

type Thread struct {
	ID uint32 `json:"id"`
	// Name is the thread description, if the dump recorded one.
	Name *string `json:"name"`
	// DbgInfo is the outcome of the stack walk.
	DbgInfo string  `json:"dbg_info"`
	Frames  []Frame `json:"frames"`
}

type Frame struct {
	Instruction   uint64  `json:"instruction"`
	ResumeAddress uint64  `json:"resume_address"`
	ModuleName    *string `json:"module_name"`
	Trust         string  `json:"trust"`

	// ResolvedRVA is ResumeAddress relative to the main module, set only
	// for main module frames.
	ResolvedRVA *uint64 `json:"resolved_rva"`
	// ResolvedDisasm is the listing of the window around the resume
	// address; ResolvedDisasmSel is the window offset of the resume
	// address instruction.
	ResolvedDisasm    disasm.Listing `json:"resolved_disasm"`
	ResolvedDisasmSel int            `json:"resolved_disasm_sel"`
}

// Executable describes the image the digest was built against.
type Executable struct {
	Name       *string      `json:"name"`
	Is64       bool         `json:"is_64bit"`
	EntryPoint uint64       `json:"entry_point"`
	ImageBase  uint64       `json:"image_base"`
	Checksum   uint32       `json:"checksum"`
	Exports    []ExeExport  `json:"exports"`
	Imports    []ExeImport  `json:"imports"`
	Sections   []ExeSection `json:"sections"`
}

type ExeExport struct {
	Name   *string `json:"name"`
	Offset *uint64 `json:"offset"`
	RVA    uint64  `json:"rva"`
	Size   uint64  `json:"size"`
}

type ExeImport struct {
	Name    string `json:"name"`
	DLLName string `json:"dll_name"`
	Ordinal uint16 `json:"ordinal"`
	Offset  uint64 `json:"offset"`
	RVA     uint64 `json:"rva"`
	Size    uint64 `json:"size"`
}

// ExeSection is a section header. Size is the virtual size and Offset the
// virtual address.
type ExeSection struct {
	Name   string `json:"name"`
	Size   uint64 `json:"size"`
	Offset uint64 `json:"offset"`
	PtrRaw uint64 `json:"ptr_raw"`
}
