package crashdigest

import (
	"github.com/codecat/crashdigest/minidump"
	"github.com/codecat/crashdigest/peimage"
)

// ResolveRVA returns address relative to the main module's base. Modules
// are matched by checksum; any other module has no RVA.
func ResolveRVA(module *minidump.Module, address uint64, main *minidump.Module) (uint64, bool) {
	if module == nil || main == nil || module.Checksum != main.Checksum {
		return 0, false
	}
	return address - main.Base, true
}

// KeepFrame reports whether a frame with the given RVA stays in the
// digest. Frames without an RVA are always kept; main module frames must
// fall within the code section's virtual size.
func KeepFrame(rva *uint64, code *peimage.Section) bool {
	if rva == nil {
		return true
	}
	return *rva <= uint64(code.VirtualSize)
}
