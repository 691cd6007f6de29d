package peimage

import (
	"sort"

	"github.com/saferwall/pe"
)

// addExports records the functions of the parsed export directory dir in
// ordinal order. Functions with a zero RVA are unused slots.
func (f *File) addExports(exp pe.Export, dir pe.DataDirectory) {
	if exp.Name != "" {
		name := exp.Name
		f.Name = &name
	}

	funcs := append([]pe.ExportFunction(nil), exp.Functions...)
	sort.SliceStable(funcs, func(a, b int) bool {
		return funcs[a].Ordinal < funcs[b].Ordinal
	})

	seen := make(map[uint32]bool, len(funcs))
	for _, fn := range funcs {
		if fn.FunctionRVA == 0 || seen[fn.Ordinal] {
			continue
		}
		seen[fn.Ordinal] = true

		e := Export{RVA: uint64(fn.FunctionRVA)}
		if fn.Name != "" {
			name := fn.Name
			e.Name = &name
		}
		if !inDirectory(e.RVA, dir) {
			if off, ok := f.RVAToOffset(fn.FunctionRVA); ok {
				e.Offset = &off
			}
		}
		f.Exports = append(f.Exports, e)
	}
	f.sizeExports(dir)
}

// inDirectory reports whether rva lies in dir. Export RVAs that do are
// forwarder strings.
func inDirectory(rva uint64, dir pe.DataDirectory) bool {
	return rva >= uint64(dir.VirtualAddress) && rva < uint64(dir.VirtualAddress)+uint64(dir.Size)
}

// sizeExports sets each export's size to the distance to the next export
// in the same section, or to the section end.
func (f *File) sizeExports(dir pe.DataDirectory) {
	order := make([]int, len(f.Exports))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return f.Exports[order[a]].RVA < f.Exports[order[b]].RVA
	})

	for n, i := range order {
		exp := &f.Exports[i]
		if inDirectory(exp.RVA, dir) {
			continue
		}
		s := f.sectionAt(uint32(exp.RVA))
		if s == nil {
			continue
		}
		end := uint64(s.VirtualAddress) + uint64(s.VirtualSize)
		for _, j := range order[n+1:] {
			if next := f.Exports[j].RVA; next > exp.RVA {
				if next < end {
					end = next
				}
				break
			}
		}
		if end > exp.RVA {
			exp.Size = end - exp.RVA
		}
	}
}
