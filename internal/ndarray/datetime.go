package ndarray

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/born-ml/unpickle/internal/dtype"
)

// NaT is the int64 value numpy uses for "not a time".
const NaT int64 = math.MinInt64

var errOverflow = errors.New("datetime value overflows int64")

// Date is a calendar date without a time zone, produced for datetime64
// values of year, month, week or day resolution.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// String returns the ISO 8601 form of d.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func dateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// millisPerUnit holds exact conversion factors to milliseconds.
var millisPerUnit = map[dtype.Unit]int64{
	dtype.UnitHour:   3_600_000,
	dtype.UnitMinute: 60_000,
	dtype.UnitSecond: 1_000,
	dtype.UnitMilli:  1,
}

// nanosPerUnit holds exact conversion factors to nanoseconds.
var nanosPerUnit = map[dtype.Unit]int64{
	dtype.UnitWeek:   7 * 24 * int64(time.Hour),
	dtype.UnitDay:    24 * int64(time.Hour),
	dtype.UnitHour:   int64(time.Hour),
	dtype.UnitMinute: int64(time.Minute),
	dtype.UnitSecond: int64(time.Second),
	dtype.UnitMilli:  int64(time.Millisecond),
	dtype.UnitMicro:  int64(time.Microsecond),
	dtype.UnitNano:   1,
}

// subNanosPerUnit holds divisors for units finer than a nanosecond.
var subNanosPerUnit = map[dtype.Unit]int64{
	dtype.UnitPico:  1_000,
	dtype.UnitFemto: 1_000_000,
	dtype.UnitAtto:  1_000_000_000,
}

// EpochMillis converts a count of units since the Unix epoch to
// milliseconds using exact integer arithmetic. Units finer than a
// millisecond are floored.
func EpochMillis(v int64, unit dtype.Unit) (int64, error) {
	if f, ok := millisPerUnit[unit]; ok {
		return mulExact(v, f)
	}
	switch unit {
	case dtype.UnitMicro:
		return floorDiv(v, 1_000), nil
	case dtype.UnitNano:
		return floorDiv(v, 1_000_000), nil
	case dtype.UnitPico:
		return floorDiv(v, 1_000_000_000), nil
	case dtype.UnitFemto:
		return floorDiv(v, 1_000_000_000_000), nil
	case dtype.UnitAtto:
		return floorDiv(v, 1_000_000_000_000_000), nil
	}
	return 0, fmt.Errorf("unit %q has no fixed length in milliseconds", unit)
}

// datetimeValue converts a datetime64 count into a Date for calendar units
// or a UTC time.Time for finer units. NaT becomes nil.
func datetimeValue(v int64, d *dtype.Descr) (any, error) {
	if v == NaT {
		return nil, nil
	}
	v, err := mulExact(v, d.UnitStep())
	if err != nil {
		return nil, err
	}

	switch d.Unit {
	case dtype.UnitYear:
		return Date{Year: 1970 + int(v), Month: time.January, Day: 1}, nil
	case dtype.UnitMonth:
		return Date{Year: 1970 + int(floorDiv(v, 12)), Month: time.Month(floorMod(v, 12) + 1), Day: 1}, nil
	case dtype.UnitWeek:
		days, err := mulExact(v, 7)
		if err != nil {
			return nil, err
		}
		return dateOf(time.Unix(0, 0).UTC().AddDate(0, 0, int(days))), nil
	case dtype.UnitDay:
		return dateOf(time.Unix(0, 0).UTC().AddDate(0, 0, int(v))), nil
	case dtype.UnitHour, dtype.UnitMinute, dtype.UnitSecond, dtype.UnitMilli:
		ms, err := EpochMillis(v, d.Unit)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case dtype.UnitMicro:
		return time.Unix(floorDiv(v, 1_000_000), floorMod(v, 1_000_000)*1_000).UTC(), nil
	case dtype.UnitNano:
		return time.Unix(floorDiv(v, 1_000_000_000), floorMod(v, 1_000_000_000)).UTC(), nil
	case dtype.UnitPico, dtype.UnitFemto, dtype.UnitAtto:
		ns := floorDiv(v, subNanosPerUnit[d.Unit])
		return time.Unix(0, ns).UTC(), nil
	}
	return nil, fmt.Errorf("datetime64 with unit %q", d.Unit)
}

// timedeltaValue converts a timedelta64 count into a time.Duration. NaT
// becomes nil. Year and month deltas have no fixed length and are rejected.
func timedeltaValue(v int64, d *dtype.Descr) (any, error) {
	if v == NaT {
		return nil, nil
	}
	v, err := mulExact(v, d.UnitStep())
	if err != nil {
		return nil, err
	}

	if f, ok := nanosPerUnit[d.Unit]; ok {
		ns, err := mulExact(v, f)
		if err != nil {
			return nil, err
		}
		return time.Duration(ns), nil
	}
	if div, ok := subNanosPerUnit[d.Unit]; ok {
		return time.Duration(floorDiv(v, div)), nil
	}
	return nil, fmt.Errorf("timedelta64 with unit %q", d.Unit)
}

func mulExact(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, errOverflow
	}
	return c, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
