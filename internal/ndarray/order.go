package ndarray

// Order is the memory layout of an array payload.
type Order byte

// Memory layouts.
const (
	OrderC       Order = 'C'
	OrderFortran Order = 'F'
)

// String returns "C" or "F".
func (o Order) String() string {
	if o == OrderFortran {
		return "F"
	}
	return "C"
}

// OrderOf maps numpy's is_fortran flag to an Order.
func OrderOf(fortran bool) Order {
	if fortran {
		return OrderFortran
	}
	return OrderC
}

// fortranToC permutes values read in column-major storage order into
// row-major logical order. Each storage index is decomposed into a
// multi-index with the first axis varying fastest, then re-linearized with
// the last axis varying fastest.
func fortranToC(values []any, shape []int) []any {
	if len(shape) < 2 {
		return values
	}

	rank := len(shape)
	strides := make([]int, rank)
	stride := 1
	for k := rank - 1; k >= 0; k-- {
		strides[k] = stride
		stride *= shape[k]
	}

	out := make([]any, len(values))
	for i, v := range values {
		rem := i
		pos := 0
		for k := 0; k < rank; k++ {
			idx := rem % shape[k]
			rem /= shape[k]
			pos += idx * strides[k]
		}
		out[pos] = v
	}
	return out
}

// Nest reshapes row-major content into nested []any slices following shape.
// A zero-dimensional shape returns the single element.
func Nest(content []any, shape []int) any {
	if len(shape) == 0 {
		if len(content) == 0 {
			return nil
		}
		return content[0]
	}
	if len(shape) == 1 {
		return content
	}

	inner := 1
	for _, dim := range shape[1:] {
		inner *= dim
	}
	out := make([]any, shape[0])
	for i := range out {
		out[i] = Nest(content[i*inner:(i+1)*inner], shape[1:])
	}
	return out
}
