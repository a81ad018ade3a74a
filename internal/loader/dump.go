package loader

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	ogorek "github.com/kisielk/og-rek"

	"github.com/born-ml/unpickle/internal/dtype"
	"github.com/born-ml/unpickle/internal/ndarray"
	"github.com/born-ml/unpickle/internal/object"
	"github.com/born-ml/unpickle/internal/pickle"
)

// DumpOptions controls Dump.
type DumpOptions struct {
	MaxDepth int // Containers deeper than this are summarized. Zero means no limit.
	MaxItems int // Items shown per container. Zero means all.
}

// Dump writes an indented outline of the object graph rooted at v: type
// names, attribute names, container sizes and array dtypes and shapes.
// Array contents are not decoded. Values reachable more than once are shown
// in full the first time and as a back reference afterwards.
func Dump(w io.Writer, v any, opts DumpOptions) error {
	d := &dumper{w: w, opts: opts, seen: make(map[uintptr]int)}
	d.value("", v, 0)
	return d.err
}

type dumper struct {
	w    io.Writer
	opts DumpOptions
	seen map[uintptr]int
	next int
	err  error
}

func (d *dumper) line(depth int, label, text string) {
	if d.err != nil {
		return
	}
	indent := strings.Repeat("  ", depth)
	if label != "" {
		_, d.err = fmt.Fprintf(d.w, "%s%s: %s\n", indent, label, text)
		return
	}
	_, d.err = fmt.Fprintf(d.w, "%s%s\n", indent, text)
}

// visit reports whether v was already shown, registering it otherwise.
func (d *dumper) visit(v any) (id int, seen bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return 0, false
	}
	p := rv.Pointer()
	if id, ok := d.seen[p]; ok {
		return id, true
	}
	d.next++
	d.seen[p] = d.next
	return d.next, false
}

func (d *dumper) value(label string, v any, depth int) {
	switch x := v.(type) {
	case *object.Object, *pickle.List, *pickle.Dict, *pickle.Set:
		id, seen := d.visit(x)
		if seen {
			d.line(depth, label, fmt.Sprintf("<ref #%d>", id))
			return
		}
		d.container(label, x, depth, id)
	case ogorek.Tuple:
		d.line(depth, label, fmt.Sprintf("tuple (%d items)", len(x)))
		d.items(x, depth+1)
	default:
		d.line(depth, label, summary(v))
	}
}

func (d *dumper) container(label string, v any, depth, id int) {
	ref := " #" + strconv.Itoa(id)
	deep := d.opts.MaxDepth > 0 && depth >= d.opts.MaxDepth

	switch x := v.(type) {
	case *object.Object:
		d.line(depth, label, fmt.Sprintf("%s (%d attributes)%s", x.Type(), x.Len(), ref))
		if deep {
			return
		}
		n := 0
		for name, attr := range x.All() {
			if d.opts.MaxItems > 0 && n == d.opts.MaxItems {
				d.line(depth+1, "", fmt.Sprintf("... %d more", x.Len()-n))
				break
			}
			d.value(name, attr, depth+1)
			n++
		}
		if items := x.Items(); len(items) > 0 {
			d.line(depth+1, "", fmt.Sprintf("items (%d)", len(items)))
			d.items(items, depth+2)
		}
		if m := x.Mapping(); m != nil && m.Len() > 0 {
			d.line(depth+1, "", fmt.Sprintf("mapping (%d)", m.Len()))
			d.entries(m, depth+2)
		}
	case *pickle.List:
		d.line(depth, label, fmt.Sprintf("list (%d items)%s", x.Len(), ref))
		if !deep {
			d.items(x.Items, depth+1)
		}
	case *pickle.Dict:
		d.line(depth, label, fmt.Sprintf("dict (%d items)%s", x.Len(), ref))
		if !deep {
			d.entries(x, depth+1)
		}
	case *pickle.Set:
		kind := "set"
		if x.Frozen {
			kind = "frozenset"
		}
		d.line(depth, label, fmt.Sprintf("%s (%d items)%s", kind, x.Len(), ref))
		if !deep {
			d.items(x.Items(), depth+1)
		}
	}
}

func (d *dumper) items(items []any, depth int) {
	if d.opts.MaxDepth > 0 && depth > d.opts.MaxDepth {
		return
	}
	for i, item := range items {
		if d.opts.MaxItems > 0 && i == d.opts.MaxItems {
			d.line(depth, "", fmt.Sprintf("... %d more", len(items)-i))
			return
		}
		d.value("["+strconv.Itoa(i)+"]", item, depth)
	}
}

func (d *dumper) entries(m *pickle.Dict, depth int) {
	for i, e := range m.Entries() {
		if d.opts.MaxItems > 0 && i == d.opts.MaxItems {
			d.line(depth, "", fmt.Sprintf("... %d more", m.Len()-i))
			return
		}
		d.value(keyLabel(e.Key), e.Value, depth)
	}
}

func keyLabel(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return summary(k)
}

// summary renders a leaf value on one line.
func summary(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return strconv.Quote(x)
	case ogorek.Bytes:
		return fmt.Sprintf("bytes (%d)", len(x))
	case []byte:
		return fmt.Sprintf("bytearray (%d)", len(x))
	case *ndarray.Array:
		return fmt.Sprintf("ndarray %s shape=%s order=%s", x.Descr(), shapeString(x.Shape()), x.Order())
	case *ndarray.MaskedArray:
		return fmt.Sprintf("masked ndarray %s shape=%s", x.Descr(), shapeString(x.Shape()))
	case *ndarray.Scalar:
		return fmt.Sprintf("scalar %s %v", x.Descr, x.Value)
	case *dtype.Descr:
		return "dtype " + x.String()
	case object.TypeIdentity:
		return "class " + x.String()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(shape) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
