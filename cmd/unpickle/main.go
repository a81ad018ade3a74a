// Package main provides the unpickle CLI, which prints the object graph of
// pickle and joblib files.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/born-ml/unpickle/loader"
)

const version = "v0.1.0-dev"

type config struct {
	verbose     bool
	depth       int
	items       int
	workers     int
	maxBytes    int64
	registry    string
	showVersion bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var cfg config
	fs := flag.NewFlagSet("unpickle", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&cfg.verbose, "v", false, "log debug messages")
	fs.IntVar(&cfg.depth, "depth", 6, "maximum nesting depth to print (0 for no limit)")
	fs.IntVar(&cfg.items, "items", 20, "maximum items per container to print (0 for all)")
	fs.IntVar(&cfg.workers, "workers", 0, "files loaded concurrently (0 for one per CPU)")
	fs.Int64Var(&cfg.maxBytes, "max-array-bytes", 0, "reject array payloads larger than this (0 for no limit)")
	fs.StringVar(&cfg.registry, "registry", "", "INI file with additional type registrations")
	fs.BoolVar(&cfg.showVersion, "version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: unpickle [flags] file...\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if cfg.showVersion {
		fmt.Fprintf(stdout, "unpickle %s\n", version)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	level := zerolog.WarnLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	opts := loader.Options{MaxArrayBytes: cfg.maxBytes}
	if cfg.registry != "" {
		reg, err := registryWith(ctx, cfg.registry)
		if err != nil {
			logger.Error().Err(err).Str("file", cfg.registry).Msg("failed to load registrations")
			return 1
		}
		opts.Registry = reg
	}

	pc := loader.DefaultParallelConfig()
	if cfg.workers > 0 {
		pc.NumWorkers = cfg.workers
		pc.Enabled = cfg.workers > 1
	}

	status := 0
	results := loader.LoadFiles(ctx, fs.Args(), opts, pc)
	for i, res := range results {
		if len(results) > 1 {
			if i > 0 {
				fmt.Fprintln(stdout)
			}
			fmt.Fprintf(stdout, "== %s ==\n", res.Path)
		}
		if res.Err != nil {
			logger.Error().Err(res.Err).Msg("load failed")
			status = 1
			continue
		}
		err := loader.Dump(stdout, res.Value, loader.DumpOptions{MaxDepth: cfg.depth, MaxItems: cfg.items})
		if err != nil {
			logger.Error().Err(err).Msg("write failed")
			return 1
		}
	}
	return status
}

// registryWith returns the default registrations extended by those in path.
func registryWith(ctx context.Context, path string) (*loader.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	extra, err := loader.LoadRegistry(ctx, f)
	if err != nil {
		return nil, err
	}
	reg := loader.DefaultRegistry()
	for _, id := range extra.Identities() {
		s, err := extra.Resolve(id)
		if err != nil {
			return nil, err
		}
		reg.Register(id, s)
	}
	return reg, nil
}
