package crashdigest

import (
	"fmt"

	"github.com/codecat/crashdigest/disasm"
)

// FieldPolicy decides how optional system and thread fields the dump
// does not carry are rendered.
type FieldPolicy int

const (
	// FieldsAbsent leaves unknown fields nil.
	FieldsAbsent FieldPolicy = iota
	// FieldsSentinel replaces unknown fields with Options.Sentinel.
	FieldsSentinel
)

var fieldPolicyNames = map[FieldPolicy]string{
	FieldsAbsent:   "absent",
	FieldsSentinel: "sentinel",
}

func (p FieldPolicy) String() string {
	if name, ok := fieldPolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("FieldPolicy(%d)", int(p))
}

// ParseFieldPolicy parses "absent" or "sentinel".
func ParseFieldPolicy(s string) (FieldPolicy, error) {
	for p, name := range fieldPolicyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown field policy %q", s)
}

// EnrichTarget selects which threads get disassembly listings.
type EnrichTarget int

const (
	// EnrichTriggering enriches the thread that triggered the dump, or the
	// first thread when the dump names none.
	EnrichTriggering EnrichTarget = iota
	// EnrichFirst enriches the first thread in dump order.
	EnrichFirst
	// EnrichAll enriches every thread.
	EnrichAll
)

var enrichTargetNames = map[EnrichTarget]string{
	EnrichTriggering: "triggering",
	EnrichFirst:      "first",
	EnrichAll:        "all",
}

func (t EnrichTarget) String() string {
	if name, ok := enrichTargetNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EnrichTarget(%d)", int(t))
}

// ParseEnrichTarget parses "triggering", "first" or "all".
func ParseEnrichTarget(s string) (EnrichTarget, error) {
	for t, name := range enrichTargetNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown enrich target %q", s)
}

// DefaultSentinel is the placeholder used by FieldsSentinel when
// Options.Sentinel is empty.
const DefaultSentinel = "unknown"

// Options control how a Digest is built.
type Options struct {
	Fields   FieldPolicy
	Sentinel string
	Enrich   EnrichTarget
	// ValidateChecksum rejects executables whose optional header checksum
	// differs from the main module's.
	ValidateChecksum bool
	// Decoder is a disasm backend name.
	Decoder string
}

// DefaultOptions returns the options used by BuildFromBytes callers that
// have no opinion.
func DefaultOptions() Options {
	return Options{
		Fields:   FieldsAbsent,
		Sentinel: DefaultSentinel,
		Enrich:   EnrichTriggering,
		Decoder:  disasm.DefaultBackend(),
	}
}

func (o Options) withDefaults() Options {
	if o.Sentinel == "" {
		o.Sentinel = DefaultSentinel
	}
	if o.Decoder == "" {
		o.Decoder = disasm.DefaultBackend()
	}
	return o
}

// field renders an optional string. The result never aliases s.
func (o Options) field(s *string) *string {
	if s != nil {
		v := *s
		return &v
	}
	if o.Fields == FieldsSentinel {
		v := o.Sentinel
		return &v
	}
	return nil
}
