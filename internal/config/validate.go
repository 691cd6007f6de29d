// internal/config/validate.go
package config

import (
	"fmt"

	"github.com/codecat/crashdigest"
	"github.com/codecat/crashdigest/disasm"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	d := cfg.Digest
	if d.Fields != "" {
		if _, err := crashdigest.ParseFieldPolicy(d.Fields); err != nil {
			return fmt.Errorf("digest.fields: %w", err)
		}
	}
	if d.Enrich != "" {
		if _, err := crashdigest.ParseEnrichTarget(d.Enrich); err != nil {
			return fmt.Errorf("digest.enrich: %w", err)
		}
	}
	if d.Sentinel != "" && d.Fields != crashdigest.FieldsSentinel.String() {
		return fmt.Errorf("digest.sentinel is set but digest.fields is %q", d.Fields)
	}
	if d.Decoder != "" && !registered(d.Decoder) {
		return fmt.Errorf("digest.decoder: unknown backend %q (available: %v)", d.Decoder, disasm.Backends())
	}

	o := cfg.Output
	switch o.Format {
	case "", FormatJSON, FormatText:
	default:
		return fmt.Errorf("output.format must be %q or %q, got %q", FormatJSON, FormatText, o.Format)
	}
	if o.Jobs < 0 {
		return fmt.Errorf("output.jobs must be non-negative")
	}
	return nil
}

func registered(name string) bool {
	for _, b := range disasm.Backends() {
		if b == name {
			return true
		}
	}
	return false
}
