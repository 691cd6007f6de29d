// Package disasm decodes short x86 and x64 byte windows into instruction
// listings.
//
// The window handed to [Resync] usually starts in the middle of an
// instruction. [Resync.FirstValidOffset] finds the earliest start offset
// from which sequential decoding lands exactly on a known instruction
// boundary, and [Resync.FormatValid] renders the listing from there.
//
// Decoding itself goes through the [Decoder] interface. The pure Go
// backend is built on golang.org/x/arch/x86/x86asm. Building with the
// zydis tag and cgo adds a Zydis backend and makes it the default.
package disasm
