package loader

import (
	"context"
	"fmt"
	"os"

	"github.com/born-ml/unpickle/internal/parallel"
	"github.com/born-ml/unpickle/internal/unpickle"
)

// LoadFile opens path and reconstructs the object graph it holds.
//
// Example:
//
//	est, err := loader.LoadFile(ctx, "tree.pkl", unpickle.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
func LoadFile(ctx context.Context, path string, opts unpickle.Options) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	// unpickle.Load closes f.
	v, err := unpickle.Load(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Result is the outcome of loading one file with LoadFiles.
type Result struct {
	Path  string
	Value any
	Err   error
}

// LoadFiles loads paths concurrently, at most cfg.NumWorkers at a time. The
// results are in the order of paths; a failed file does not stop the others.
func LoadFiles(ctx context.Context, paths []string, opts unpickle.Options, cfg parallel.Config) []Result {
	results := make([]Result, len(paths))
	errs := parallel.For(ctx, len(paths), func(ctx context.Context, i int) error {
		v, err := LoadFile(ctx, paths[i], opts)
		results[i].Value = v
		return err
	}, cfg)

	for i, path := range paths {
		results[i].Path = path
		results[i].Err = errs[i]
	}
	return results
}
