package unpickle

import (
	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
	"github.com/born-ml/unpickle/internal/registry"
)

// blockType is the type given to blocks rebuilt from manager state.
var blockType = object.Identity("pandas.core.internals.blocks", "Block")

// managerStateKey marks the block manager state layout written since
// pandas 0.14.1.
const managerStateKey = "0.14.1"

func (s *Session) callObject(id object.TypeIdentity, shape string, args ogorek.Tuple) (any, error) {
	switch shape {
	case registry.ShapeTree:
		return newTree(id, args)
	case registry.ShapeBlock:
		return newBlock(id, args)
	case registry.ShapeNewIndex:
		return s.newIndex(id, args)
	}
	return object.New(id, args), nil
}

func (s *Session) buildObject(o *object.Object, state any) error {
	st, err := s.resolver.Resolve(o.Type())
	if err != nil {
		return err
	}

	switch st.Shape {
	case registry.ShapeDataFrame, registry.ShapeSeries:
		return buildFrame(o, state)
	case registry.ShapeBlockManager:
		return buildManager(o, state)
	}
	return o.SetState(state)
}

// buildFrame applies NDFrame.__setstate__. Older pandas stored the block
// manager under "_data", newer versions under "_mgr"; both end up as
// "_mgr".
func buildFrame(o *object.Object, state any) error {
	d, ok := state.(*pickle.Dict)
	if !ok {
		return shapeErr(o.Type(), state, "frame state is not a dict")
	}
	if err := o.MergeState(d); err != nil {
		return err
	}
	if data, ok := o.Value("_data"); ok {
		if !o.Has("_mgr") {
			o.Set("_mgr", data)
		}
		o.Delete("_data")
	}
	if !o.Has("_mgr") {
		return shapeErr(o.Type(), state, "frame state has no block manager")
	}
	return nil
}

// buildManager applies BlockManager.__setstate__ with the
// (axes, values, items, extra) tuple. Only the extra state is read, as
// pandas itself does.
func buildManager(o *object.Object, state any) error {
	st, ok := state.(ogorek.Tuple)
	if !ok || len(st) < 4 {
		return shapeErr(o.Type(), state, "manager state is not a 4-tuple")
	}
	extra, ok := st[3].(*pickle.Dict)
	if !ok {
		return shapeErr(o.Type(), state, "manager state predates pandas %s", managerStateKey)
	}
	v, ok := extra.Get(managerStateKey)
	if !ok {
		return shapeErr(o.Type(), state, "manager state predates pandas %s", managerStateKey)
	}
	ms, ok := v.(*pickle.Dict)
	if !ok {
		return shapeErr(o.Type(), state, "manager state is %s", object.TypeName(v))
	}

	axes, ok := ms.Get("axes")
	if !ok {
		return shapeErr(o.Type(), state, "manager state has no axes")
	}
	axisList, _, err := object.Sequence(axes)
	if err != nil {
		return err
	}

	raw, _ := ms.Get("blocks")
	blockList, ok, err := object.Sequence(raw)
	if err != nil {
		return err
	}
	if !ok {
		return shapeErr(o.Type(), state, "manager blocks are %s", object.TypeName(raw))
	}

	blocks := make([]any, len(blockList))
	for i, b := range blockList {
		bd, ok := b.(*pickle.Dict)
		if !ok {
			return shapeErr(o.Type(), state, "block %d is %s", i, object.TypeName(b))
		}
		blk := object.New(blockType, nil)
		values, _ := bd.Get("values")
		locs, _ := bd.Get("mgr_locs")
		blk.Set("values", values)
		blk.Set("mgr_locs", locs)
		blk.Set("ndim", int64(len(axisList)))
		blocks[i] = blk
	}

	o.Set("axes", pickle.NewList(axisList...))
	o.Set("blocks", pickle.NewList(blocks...))
	return nil
}

// newBlock implements _unpickle_block(values, placement, ndim).
func newBlock(id object.TypeIdentity, args ogorek.Tuple) (*object.Object, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, shapeErr(id, args, "want (values, placement[, ndim])")
	}
	blk := object.New(blockType, args)
	blk.Set("values", args[0])
	blk.Set("mgr_locs", args[1])
	if len(args) == 3 {
		blk.Set("ndim", args[2])
	}
	return blk, nil
}

// newIndex implements _new_Index(cls, d): an index of type cls whose
// attributes are the entries of d.
func (s *Session) newIndex(id object.TypeIdentity, args ogorek.Tuple) (*object.Object, error) {
	if len(args) != 2 {
		return nil, shapeErr(id, args, "want (cls, state)")
	}
	cls, ok := args[0].(object.TypeIdentity)
	if !ok {
		return nil, shapeErr(id, args, "index class is %s", object.TypeName(args[0]))
	}
	if _, err := s.resolver.Resolve(cls); err != nil {
		return nil, err
	}
	d, ok := args[1].(*pickle.Dict)
	if !ok {
		return nil, shapeErr(id, args, "index state is %s", object.TypeName(args[1]))
	}
	idx := object.New(cls, nil)
	if err := idx.Init(d); err != nil {
		return nil, err
	}
	return idx, nil
}
