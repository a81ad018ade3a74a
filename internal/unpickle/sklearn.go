package unpickle

import (
	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/object"
)

// treeArgs names the positional arguments of sklearn's
// Tree(n_features, n_classes, n_outputs).
var treeArgs = []string{"n_features", "n_classes", "n_outputs"}

func newTree(id object.TypeIdentity, args ogorek.Tuple) (*object.Object, error) {
	if len(args) != len(treeArgs) {
		return nil, shapeErr(id, args, "want (n_features, n_classes, n_outputs)")
	}
	t := object.New(id, args)
	for i, name := range treeArgs {
		t.Set(name, args[i])
	}
	return t, nil
}
