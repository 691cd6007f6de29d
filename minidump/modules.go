package minidump

import "fmt"

type rawModule struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	CheckSum      uint32
	TimeDateStamp uint32
	ModuleNameRva uint32
	VersionInfo   [13]uint32
	CvRecord      rawLocation
	MiscRecord    rawLocation
	Reserved0     uint64
	Reserved1     uint64
}

const rawModuleSize = 108

func (d *dump) moduleList() ([]Module, error) {
	loc, ok := d.stream(streamModuleList)
	if !ok {
		return nil, fmt.Errorf("%w: module list", ErrMissingStream)
	}
	count, err := d.list(loc, rawModuleSize)
	if err != nil {
		return nil, err
	}

	modules := make([]Module, 0, count)
	for i := uint32(0); i < count; i++ {
		var raw rawModule
		if err := d.readAt(uint64(loc.Rva)+4+uint64(i)*rawModuleSize, &raw); err != nil {
			return nil, fmt.Errorf("module %d: %w", i, err)
		}
		name, err := d.str(raw.ModuleNameRva)
		if err != nil {
			return nil, fmt.Errorf("module %d name: %w", i, err)
		}
		modules = append(modules, Module{
			Name:      name,
			Base:      raw.BaseOfImage,
			Size:      raw.SizeOfImage,
			Checksum:  raw.CheckSum,
			Timestamp: raw.TimeDateStamp,
		})
	}
	return modules, nil
}

// End returns the first address past the module image.
func (m *Module) End() uint64 {
	return m.Base + uint64(m.Size)
}

// Contains reports whether addr falls inside the module image.
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr < m.End()
}

// OffsetOf returns addr relative to the module base.
func (m *Module) OffsetOf(addr uint64) uint64 {
	return addr - m.Base
}

// MainModule returns the process's main executable module.
func (p *Process) MainModule() *Module {
	if len(p.Modules) == 0 {
		return nil
	}
	return &p.Modules[0]
}

// ModuleAt returns the module whose image contains addr.
func (p *Process) ModuleAt(addr uint64) *Module {
	for i := range p.Modules {
		if p.Modules[i].Contains(addr) {
			return &p.Modules[i]
		}
	}
	return nil
}
