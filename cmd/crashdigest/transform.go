package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codecat/go-libs/log"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/codecat/crashdigest"
	"github.com/codecat/crashdigest/internal/config"
)

func replaceExtension(fnm, new string) string {
	old := filepath.Ext(fnm)
	return fnm[:len(fnm)-len(old)] + new
}

// outputPath returns where the rendering of dump goes.
func outputPath(dump string, out config.OutputConfig) string {
	ext := ".decoded.txt"
	if out.Format == config.FormatJSON {
		ext = ".digest.json"
	}
	if out.Dir == "" {
		return replaceExtension(dump, ext)
	}
	return filepath.Join(out.Dir, replaceExtension(filepath.Base(dump), ext))
}

type transformer struct {
	exe  []byte
	opts crashdigest.Options
	out  config.OutputConfig
}

func (t *transformer) transformDump(path string) error {
	crash, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read dump: %s", err)
	}

	digest, err := crashdigest.BuildFromBytes(crash, t.exe, t.opts)
	if err != nil {
		return err
	}

	toStdout := t.out.Dir == "-"

	var buf bytes.Buffer
	if t.out.Format == config.FormatJSON {
		err = writeJSON(&buf, digest)
	} else {
		colored := toStdout && isatty.IsTerminal(os.Stdout.Fd())
		err = writeText(&buf, digest, colored)
	}
	if err != nil {
		return fmt.Errorf("unable to render digest: %s", err)
	}

	if toStdout {
		stdoutMu.Lock()
		defer stdoutMu.Unlock()
		_, err = os.Stdout.Write(buf.Bytes())
		return err
	}

	outPath := outputPath(path, t.out)
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("unable to make output file: %s", err)
	}
	log.Info("Decoded %s to %s", path, outPath)
	return nil
}

func writeJSON(w io.Writer, d *crashdigest.Digest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")
	return enc.Encode(d)
}

type palette struct {
	heading *color.Color
	marker  *color.Color
	dim     *color.Color
}

func newPalette(colored bool) palette {
	p := palette{
		heading: color.New(color.Bold),
		marker:  color.New(color.FgRed, color.Bold),
		dim:     color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{p.heading, p.marker, p.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func formatMillis(ms uint64) string {
	return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339)
}

// moduleFile strips the directory from a module path recorded on Windows.
func moduleFile(name string) string {
	return name[strings.LastIndexAny(name, `\/`)+1:]
}

func optional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// writeText renders d in the annotated text format. Main module addresses
// are shown as +0x offsets; the requesting thread's faulting instruction
// is marked.
func writeText(w io.Writer, d *crashdigest.Digest, colored bool) error {
	p := newPalette(colored)
	ew := &errWriter{w: w}

	m := d.Metadata
	p.heading.Fprintf(ew, "Crash in %s", m.ModuleName)
	fmt.Fprintf(ew, " (base 0x%X, checksum 0x%08X)\n", m.ModuleBase, m.ModuleChecksum)
	if m.ProcessID != nil {
		fmt.Fprintf(ew, "Process %d", *m.ProcessID)
		if m.ProcessTimestamp != nil {
			fmt.Fprintf(ew, " started %s", formatMillis(*m.ProcessTimestamp))
		}
		fmt.Fprintf(ew, "\n")
	}
	fmt.Fprintf(ew, "Dumped %s\n\n", formatMillis(m.DumpTimestamp))

	s := d.System
	p.heading.Fprintln(ew, "System:")
	fmt.Fprintf(ew, "\tOS version: %s\n", optional(s.OSVersion))
	fmt.Fprintf(ew, "\tOS build: %s\n", optional(s.OSBuild))
	fmt.Fprintf(ew, "\tCPU: %s\n", optional(s.CPUIdent))
	if s.CPUMicrocode != 0 {
		fmt.Fprintf(ew, "\tMicrocode: 0x%X\n", s.CPUMicrocode)
	}
	fmt.Fprintf(ew, "\tCPU count: %d\n\n", s.CPUCount)

	if e := d.Exception; e != nil {
		p.heading.Fprintln(ew, "Exception:")
		fmt.Fprintf(ew, "\t%s at address 0x%X\n\n", e.Reason, e.Address)
	}

	p.heading.Fprintln(ew, "Modules:")
	for _, mod := range d.Modules {
		fmt.Fprintf(ew, "%016X-%016X: %s\n", mod.ImageBase, mod.ImageBase+uint64(mod.ImageSize), mod.Name)
	}
	fmt.Fprintf(ew, "\n")

	for _, t := range d.Threads {
		requesting := d.ThreadID != nil && uint64(t.ID) == *d.ThreadID
		writeThread(ew, p, t, requesting)
	}
	return ew.err
}

func writeThread(w io.Writer, p palette, t crashdigest.Thread, requesting bool) {
	p.heading.Fprintf(w, "Thread %d", t.ID)
	if t.Name != nil {
		fmt.Fprintf(w, " (%s)", *t.Name)
	}
	if requesting {
		p.marker.Fprint(w, " <---- CRASHED")
	}
	if t.DbgInfo != "ok" {
		p.dim.Fprintf(w, " [%s]", t.DbgInfo)
	}
	fmt.Fprintf(w, "\n")

	for i, f := range t.Frames {
		fmt.Fprintf(w, "\t#%d 0x%X", i, f.Instruction)
		if f.ModuleName != nil {
			fmt.Fprintf(w, " %s", moduleFile(*f.ModuleName))
		}
		if f.ResolvedRVA != nil {
			fmt.Fprintf(w, " +0x%X", *f.ResolvedRVA)
		}
		p.dim.Fprintf(w, " (%s)", f.Trust)
		fmt.Fprintf(w, "\n")

		if f.ResolvedDisasm == nil || f.ResolvedRVA == nil {
			continue
		}
		windowRVA := *f.ResolvedRVA - uint64(f.ResolvedDisasmSel)
		for _, line := range f.ResolvedDisasm {
			fmt.Fprintf(w, "\t\t+0x%X: %s", windowRVA+uint64(line.Offset), line.Text)
			if line.Offset == f.ResolvedDisasmSel {
				// Only the register context pins the faulting instruction.
				if requesting && f.Trust == "context" {
					p.marker.Fprint(w, "  <---- CRASHED HERE")
				} else {
					p.dim.Fprint(w, "  <---- RETURNS HERE")
				}
			}
			fmt.Fprintf(w, "\n")
		}
	}
	fmt.Fprintf(w, "\n")
}

// errWriter remembers the first write error so rendering code can ignore
// individual Fprintf results.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(b []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(b)
	ew.err = err
	return n, err
}
