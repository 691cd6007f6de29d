package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/codecat/go-libs/log"
	"golang.org/x/sync/errgroup"

	"github.com/codecat/crashdigest/internal/config"
)

var (
	flagExe      = flag.String("exe", "", "main executable the dumps were written for")
	flagConfig   = flag.String("config", "", "YAML configuration file")
	flagFormat   = flag.String("format", "", "output format: json or text (default text)")
	flagOut      = flag.String("out", "", "output directory, or - for stdout (default: next to each dump)")
	flagJobs     = flag.Int("jobs", 0, "dumps processed in parallel (default: one per CPU)")
	flagChecksum = flag.Bool("validate-checksum", false, "reject dumps whose main module checksum differs from the executable's")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: crashdigest -exe app.exe [flags] crash.dmp...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *flagExe == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error("%s", err.Error())
		os.Exit(1)
	}

	exe, err := os.ReadFile(*flagExe)
	if err != nil {
		log.Error("Unable to read executable: %s", err.Error())
		os.Exit(1)
	}

	t := &transformer{
		exe:  exe,
		opts: cfg.Options(),
		out:  cfg.Output,
	}

	var failed atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(cfg.Output.Jobs)
	for _, p := range flag.Args() {
		p := p
		g.Go(func() error {
			if err := t.transformDump(p); err != nil {
				log.Error("Unable to decode %s: %s", p, err.Error())
				failed.Store(true)
			}
			return nil
		})
	}
	g.Wait()

	if failed.Load() {
		os.Exit(1)
	}
}

// loadConfig reads the -config file, applies flags on top and validates
// the result.
func loadConfig() (*config.Config, error) {
	cfg := new(config.Config)
	if *flagConfig != "" {
		var err error
		if cfg, err = config.Load(*flagConfig); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "format":
			cfg.Output.Format = *flagFormat
		case "out":
			cfg.Output.Dir = *flagOut
		case "jobs":
			cfg.Output.Jobs = *flagJobs
		case "validate-checksum":
			cfg.Digest.ValidateChecksum = *flagChecksum
		}
	})

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

// stdoutMu serializes whole documents written to stdout.
var stdoutMu sync.Mutex
