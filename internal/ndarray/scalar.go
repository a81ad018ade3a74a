package ndarray

import (
	"fmt"

	"github.com/born-ml/unpickle/internal/dtype"
)

// Scalar is a boxed numpy scalar such as numpy.float64(0.5).
type Scalar struct {
	Descr *dtype.Descr
	Value any
}

// NewScalar decodes a scalar from its stored bytes.
func NewScalar(descr *dtype.Descr, data []byte) (*Scalar, error) {
	v, err := DecodeOne(data, descr)
	if err != nil {
		return nil, fmt.Errorf("scalar %s: %w", descr, err)
	}
	return &Scalar{Descr: descr, Value: v}, nil
}

// ScalarValue returns the bare value.
func (s *Scalar) ScalarValue() any {
	return s.Value
}

// String formats the bare value.
func (s *Scalar) String() string {
	return fmt.Sprint(s.Value)
}
