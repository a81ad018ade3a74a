package dtype

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v2"
)

//go:embed orderings.yaml
var defaultOrderings []byte

// Orderings maps the set of field names of a record dtype to the field
// order it was declared with.
//
// Two orderings of the same name set cannot be told apart; the one
// registered last wins.
type Orderings struct {
	mu     sync.RWMutex
	byKeys map[string][]string
}

// NewOrderings creates an empty ordering registry.
func NewOrderings() *Orderings {
	return &Orderings{byKeys: make(map[string][]string)}
}

// Register records names as the field order for its name set.
func (o *Orderings) Register(names ...string) {
	ordered := append([]string(nil), names...)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.byKeys[setKey(names)] = ordered
}

// Lookup returns the registered order for the given field names, which may
// be in any order.
func (o *Orderings) Lookup(names []string) ([]string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ordered, ok := o.byKeys[setKey(names)]
	if !ok {
		return nil, false
	}
	return append([]string(nil), ordered...), true
}

// Len returns the number of registered orderings.
func (o *Orderings) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.byKeys)
}

// Clone returns an independent copy of o.
func (o *Orderings) Clone() *Orderings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c := NewOrderings()
	for k, v := range o.byKeys {
		c.byKeys[k] = append([]string(nil), v...)
	}
	return c
}

func setKey(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// OrderingConfig is the YAML document listing known record layouts.
type OrderingConfig struct {
	Orderings []OrderingEntry `yaml:"orderings"`
}

// OrderingEntry is one named record layout.
type OrderingEntry struct {
	Name   string   `yaml:"name"`
	Fields []string `yaml:"fields"`
}

// LoadOrderings reads an ordering registry from a YAML document.
func LoadOrderings(data io.Reader) (*Orderings, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &OrderingConfig{}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parse orderings: %w", err)
	}

	o := NewOrderings()
	for _, e := range cfg.Orderings {
		if len(e.Fields) == 0 {
			return nil, fmt.Errorf("ordering %q has no fields", e.Name)
		}
		o.Register(e.Fields...)
	}
	return o, nil
}

var (
	builtinOnce      sync.Once
	builtinOrderings *Orderings
	builtinErr       error
)

// DefaultOrderings returns a fresh copy of the built-in record layouts of
// scikit-learn's tree and histogram-gradient-boosting node arrays.
func DefaultOrderings() *Orderings {
	builtinOnce.Do(func() {
		builtinOrderings, builtinErr = LoadOrderings(bytes.NewReader(defaultOrderings))
	})
	if builtinErr != nil {
		panic(fmt.Sprintf("dtype: embedded orderings: %v", builtinErr))
	}
	return builtinOrderings.Clone()
}
