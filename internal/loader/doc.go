// Package loader opens pickled and joblib-dumped model files and renders the
// reconstructed object graphs.
//
// Files are recognized by content, not by extension: plain pickles, zlib
// streams and the legacy joblib zfile container all load through LoadFile.
//
// Example:
//
//	model, err := loader.LoadFile(ctx, "model.joblib", unpickle.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	loader.Dump(os.Stdout, model, loader.DumpOptions{MaxDepth: 4})
//
// Several files load concurrently with LoadFiles; each load runs in its own
// session, so registrations made for one file never affect another.
package loader
