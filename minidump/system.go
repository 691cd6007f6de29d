package minidump

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

type rawSystemInfo struct {
	ProcessorArchitecture uint16
	ProcessorLevel        uint16
	ProcessorRevision     uint16
	NumberOfProcessors    uint8
	ProductType           uint8
	MajorVersion          uint32
	MinorVersion          uint32
	BuildNumber           uint32
	PlatformID            uint32
	CSDVersionRva         uint32
	SuiteMask             uint16
	Reserved2             uint16
	CPU                   [24]byte
}

type rawMiscInfo struct {
	SizeOfInfo        uint32
	Flags1            uint32
	ProcessID         uint32
	ProcessCreateTime uint32
	ProcessUserTime   uint32
	ProcessKernelTime uint32
}

const (
	miscProcessID    = 0x1
	miscProcessTimes = 0x2
)

type rawBreakpadInfo struct {
	Validity           uint32
	DumpThreadID       uint32
	RequestingThreadID uint32
}

const breakpadRequestingThreadValid = 0x2

func (d *dump) systemInfo() (SystemInfo, error) {
	loc, ok := d.stream(streamSystemInfo)
	if !ok {
		return SystemInfo{}, fmt.Errorf("%w: system info", ErrMissingStream)
	}
	var raw rawSystemInfo
	if err := d.read(loc.Rva, &raw); err != nil {
		return SystemInfo{}, err
	}

	info := SystemInfo{
		Arch:     Arch(raw.ProcessorArchitecture),
		CPUCount: uint32(raw.NumberOfProcessors),
	}
	version := fmt.Sprintf("%d.%d.%d", raw.MajorVersion, raw.MinorVersion, raw.BuildNumber)
	info.OSVersion = &version

	if raw.CSDVersionRva != 0 {
		csd, err := d.str(raw.CSDVersionRva)
		if err != nil {
			skipped("CSD version", err)
		} else if csd != "" {
			info.OSBuild = &csd
		}
	}

	if info.Arch == ArchX86 || info.Arch == ArchAMD64 {
		info.CPUInfo = x86CPUInfo(raw.CPU)
	}

	if microcode, ok, err := d.linuxMicrocode(); err != nil {
		skipped("Linux cpuinfo", err)
	} else if ok {
		info.CPUMicrocode = &microcode
	}
	return info, nil
}

// x86CPUInfo renders the CPUID vendor and signature, as in
// "GenuineIntel family 6 model 158 stepping 10".
func x86CPUInfo(cpu [24]byte) *string {
	// The three vendor words are stored in the order that spells the
	// vendor string.
	vendor := bytes.TrimRight(cpu[:12], "\x00")
	if len(vendor) == 0 {
		return nil
	}

	sig := binary.LittleEndian.Uint32(cpu[12:])
	family := (sig >> 8) & 0xf
	model := (sig >> 4) & 0xf
	stepping := sig & 0xf
	if family == 0xf {
		family += (sig >> 20) & 0xff
	}
	if family == 0x6 || family >= 0xf {
		model += ((sig >> 16) & 0xf) << 4
	}

	s := fmt.Sprintf("%s family %d model %d stepping %d", vendor, family, model, stepping)
	return &s
}

// linuxMicrocode looks for the microcode revision in a Breakpad copy of
// /proc/cpuinfo.
func (d *dump) linuxMicrocode() (uint64, bool, error) {
	loc, ok := d.stream(streamLinuxCPUInfo)
	if !ok {
		return 0, false, nil
	}
	data, err := d.location(loc)
	if err != nil {
		return 0, false, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found || strings.TrimSpace(key) != "microcode" {
			continue
		}
		rev, err := strconv.ParseUint(strings.TrimSpace(value), 0, 64)
		if err != nil {
			return 0, false, err
		}
		return rev, true, nil
	}
	return 0, false, scanner.Err()
}

func (d *dump) miscInfo(p *Process) {
	loc, ok := d.stream(streamMiscInfo)
	if !ok {
		return
	}
	var raw rawMiscInfo
	if err := d.read(loc.Rva, &raw); err != nil {
		skipped("misc info", err)
		return
	}
	if raw.Flags1&miscProcessID != 0 {
		pid := raw.ProcessID
		p.ProcessID = &pid
	}
	if raw.Flags1&miscProcessTimes != 0 {
		created := unixSeconds(raw.ProcessCreateTime)
		p.ProcessCreateTime = &created
	}
}

func (d *dump) breakpadRequestingThread() (uint32, bool) {
	loc, ok := d.stream(streamBreakpadInfo)
	if !ok {
		return 0, false
	}
	var raw rawBreakpadInfo
	if err := d.read(loc.Rva, &raw); err != nil {
		skipped("Breakpad info", err)
		return 0, false
	}
	if raw.Validity&breakpadRequestingThreadValid == 0 {
		return 0, false
	}
	return raw.RequestingThreadID, true
}
