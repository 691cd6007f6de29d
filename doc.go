// Package crashdigest correlates a Windows minidump with the main
// executable of the crashed process.
//
// [Build] turns a parsed [minidump.Process] and [peimage.File] into a
// [Digest]: metadata, system info, modules, the exception, every thread's
// frames with main module offsets, and a listing of the executable's
// exports, imports and sections. Frames of the enriched thread that fall
// in the main module get a disassembly listing around their resume
// address.
//
// [BuildFromBytes] does the same starting from the raw dump and
// executable bytes.
package crashdigest
