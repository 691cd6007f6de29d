// internal/config/config.go
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/codecat/crashdigest"
)

type Config struct {
	Digest DigestConfig `yaml:"digest"`
	Output OutputConfig `yaml:"output"`
}

// ---- DIGEST ----

type DigestConfig struct {
	Fields           string `yaml:"fields"`   // absent | sentinel
	Sentinel         string `yaml:"sentinel"` // placeholder for fields=sentinel
	Enrich           string `yaml:"enrich"`   // triggering | first | all
	ValidateChecksum bool   `yaml:"validate_checksum"`
	Decoder          string `yaml:"decoder"` // disasm backend
}

// ---- OUTPUT ----

type OutputConfig struct {
	Format string `yaml:"format"` // json | text
	Dir    string `yaml:"dir"`    // empty = next to the dump, "-" = stdout
	Jobs   int    `yaml:"jobs"`   // dumps processed in parallel, 0 = one per CPU
}

// Load reads a YAML configuration file. Unknown keys are rejected. An
// empty file yields a zero Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := new(Config)
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Options converts the digest section into build options. It MUST be
// called only after Validate().
func (c *Config) Options() crashdigest.Options {
	opts := crashdigest.DefaultOptions()
	if p, err := crashdigest.ParseFieldPolicy(c.Digest.Fields); err == nil {
		opts.Fields = p
	}
	if t, err := crashdigest.ParseEnrichTarget(c.Digest.Enrich); err == nil {
		opts.Enrich = t
	}
	if c.Digest.Sentinel != "" {
		opts.Sentinel = c.Digest.Sentinel
	}
	if c.Digest.Decoder != "" {
		opts.Decoder = c.Digest.Decoder
	}
	opts.ValidateChecksum = c.Digest.ValidateChecksum
	return opts
}
