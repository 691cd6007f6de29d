package peimage

import (
	"fmt"

	"github.com/saferwall/pe"
)

// addImports flattens the parsed import descriptors into one record per
// imported symbol, located by its import address table entry.
func (f *File) addImports(dlls []pe.Import) {
	size := uint64(4)
	if f.Is64 {
		size = 8
	}
	for _, dll := range dlls {
		for _, fn := range dll.Functions {
			imp := Import{
				DLL:  dll.Name,
				RVA:  uint64(fn.ThunkRVA),
				Size: size,
			}
			if off, ok := f.RVAToOffset(fn.ThunkRVA); ok {
				imp.Offset = off
			}
			if fn.ByOrdinal {
				imp.Ordinal = uint16(fn.Ordinal)
				imp.Name = fmt.Sprintf("ORDINAL %d", imp.Ordinal)
			} else {
				imp.Ordinal = fn.Hint
				imp.Name = fn.Name
			}
			f.Imports = append(f.Imports, imp)
		}
	}
}
