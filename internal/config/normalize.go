// internal/config/normalize.go
package config

import (
	"runtime"

	"github.com/codecat/crashdigest"
	"github.com/codecat/crashdigest/disasm"
)

// Normalize fills in defaults.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	d := &cfg.Digest
	if d.Fields == "" {
		d.Fields = crashdigest.FieldsAbsent.String()
	}
	if d.Enrich == "" {
		d.Enrich = crashdigest.EnrichTriggering.String()
	}
	if d.Fields == crashdigest.FieldsSentinel.String() && d.Sentinel == "" {
		d.Sentinel = crashdigest.DefaultSentinel
	}
	if d.Decoder == "" {
		d.Decoder = disasm.DefaultBackend()
	}

	o := &cfg.Output
	if o.Format == "" {
		o.Format = FormatText
	}
	if o.Jobs == 0 {
		o.Jobs = runtime.NumCPU()
	}
}
