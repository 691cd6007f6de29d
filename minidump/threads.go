package minidump

import "fmt"

type rawMemoryDescriptor struct {
	StartOfMemoryRange uint64
	Memory             rawLocation
}

type rawThread struct {
	ThreadID      uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	Teb           uint64
	Stack         rawMemoryDescriptor
	ThreadContext rawLocation
}

const rawThreadSize = 48

type rawThreadName struct {
	ThreadID        uint32
	RvaOfThreadName uint64
}

const rawThreadNameSize = 12

func (d *dump) threadList(p *Process) ([]Thread, error) {
	loc, ok := d.stream(streamThreadList)
	if !ok {
		return nil, nil
	}
	count, err := d.list(loc, rawThreadSize)
	if err != nil {
		return nil, err
	}

	names, err := d.threadNames()
	if err != nil {
		skipped("thread names", err)
	}
	excThread, excContext, hasExcContext := d.exceptionContext()

	threads := make([]Thread, 0, count)
	for i := uint32(0); i < count; i++ {
		var raw rawThread
		if err := d.readAt(uint64(loc.Rva)+4+uint64(i)*rawThreadSize, &raw); err != nil {
			return nil, fmt.Errorf("thread %d: %w", i, err)
		}
		thread := Thread{ID: raw.ThreadID}
		if name, ok := names[raw.ThreadID]; ok {
			thread.Name = &name
		}

		ctxLoc := raw.ThreadContext
		if hasExcContext && raw.ThreadID == excThread {
			ctxLoc = excContext
		}
		thread.Info, thread.Frames = d.callStack(p, ctxLoc, raw.Stack)
		threads = append(threads, thread)
	}
	return threads, nil
}

func (d *dump) callStack(p *Process, ctxLoc rawLocation, stack rawMemoryDescriptor) (CallStackInfo, []Frame) {
	ptrSize := p.System.Arch.PointerSize()
	if ptrSize == 0 {
		return CallStackUnsupportedCPU, nil
	}
	if ctxLoc.DataSize == 0 {
		return CallStackMissingContext, nil
	}
	ctx, err := d.location(ctxLoc)
	if err != nil {
		return CallStackMissingContext, nil
	}
	regs, err := parseContext(p.System.Arch, ctx)
	if err != nil {
		return CallStackMissingContext, nil
	}

	info := CallStackOK
	mem, err := d.location(stack.Memory)
	if err != nil || len(mem) == 0 {
		info = CallStackMissingStack
		mem = nil
	}
	w := &walker{
		p:       p,
		stack:   stackMemory{base: stack.StartOfMemoryRange, data: mem},
		ptrSize: ptrSize,
	}
	return info, w.walk(regs)
}

func (d *dump) threadNames() (map[uint32]string, error) {
	loc, ok := d.stream(streamThreadNames)
	if !ok {
		return nil, nil
	}
	count, err := d.list(loc, rawThreadNameSize)
	if err != nil {
		return nil, err
	}
	names := make(map[uint32]string, count)
	for i := uint32(0); i < count; i++ {
		var raw rawThreadName
		if err := d.readAt(uint64(loc.Rva)+4+uint64(i)*rawThreadNameSize, &raw); err != nil {
			return names, err
		}
		if raw.RvaOfThreadName > 0xffffffff {
			return names, fmt.Errorf("thread %d name beyond 4GiB", raw.ThreadID)
		}
		name, err := d.str(uint32(raw.RvaOfThreadName))
		if err != nil {
			return names, err
		}
		names[raw.ThreadID] = name
	}
	return names, nil
}
