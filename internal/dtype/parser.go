package dtype

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse parses a descriptor string such as "<i8" or "|S10".
//
// A missing byte-order marker means native order. For the Unicode kind the
// size digits count code points and the resulting Size is in bytes.
func Parse(s string) (*Descr, error) {
	p := &parser{s: strings.TrimSpace(s)}
	d, err := p.parse()
	if err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// MustParse is like Parse but panics on error. It is intended for
// descriptors known at compile time.
func MustParse(s string) *Descr {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

type parser struct {
	s   string
	pos int
}

func (p *parser) parse() (*Descr, error) {
	if p.s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidDescr)
	}

	d := &Descr{Order: OrderNative}

	switch ByteOrder(p.s[0]) {
	case OrderNative, OrderLittle, OrderBig, OrderNotApplicable:
		d.Order = ByteOrder(p.s[0])
		p.pos++
	}

	if p.pos >= len(p.s) {
		return nil, fmt.Errorf("%w: %q has no kind", ErrInvalidDescr, p.s)
	}
	kind, ok := parseKind(p.s[p.pos])
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q in %q", ErrInvalidDescr, p.s[p.pos], p.s)
	}
	d.Kind = kind
	p.pos++

	size, hasSize, err := p.digits()
	if err != nil {
		return nil, err
	}
	if !hasSize {
		size, ok = defaultSize(kind)
		if !ok {
			return nil, fmt.Errorf("%w: %q has no element size", ErrInvalidDescr, p.s)
		}
	}
	if kind == Unicode {
		size *= 4
	}
	d.Size = size

	if kind == Datetime || kind == Timedelta {
		if err := p.unit(d); err != nil {
			return nil, err
		}
	}

	if p.pos != len(p.s) {
		return nil, fmt.Errorf("%w: trailing characters %q in %q", ErrInvalidDescr, p.s[p.pos:], p.s)
	}
	return d, nil
}

func (p *parser) digits() (int, bool, error) {
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		return 0, false, nil
	}
	n, err := strconv.Atoi(p.s[start:p.pos])
	if err != nil {
		return 0, false, fmt.Errorf("%w: size %q: %w", ErrInvalidDescr, p.s[start:p.pos], err)
	}
	return n, true, nil
}

// unit parses an optional "[unit]" or "[<n>unit]" suffix.
func (p *parser) unit(d *Descr) error {
	if p.pos >= len(p.s) || p.s[p.pos] != '[' {
		d.Unit = UnitGeneric
		return nil
	}
	end := strings.IndexByte(p.s[p.pos:], ']')
	if end < 0 {
		return fmt.Errorf("%w: unterminated unit in %q", ErrInvalidDescr, p.s)
	}
	body := p.s[p.pos+1 : p.pos+end]
	p.pos += end + 1

	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	if i > 0 {
		step, err := strconv.Atoi(body[:i])
		if err != nil {
			return fmt.Errorf("%w: unit step %q: %w", ErrInvalidDescr, body[:i], err)
		}
		d.Step = step
	}

	u, err := ParseUnit(body[i:])
	if err != nil {
		return err
	}
	d.Unit = u
	return nil
}

func defaultSize(k Kind) (int, bool) {
	switch k {
	case Bool:
		return 1, true
	case Object:
		return 8, true
	case String, Unicode, Void:
		return 0, true
	}
	return 0, false
}
