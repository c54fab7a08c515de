// Package bucket splits a time range into consecutive rollup periods.
//
// Buckets are produced lazily, never overlap and together cover exactly
// [from, to). The final bucket is truncated to the end of the range.
package bucket

import (
	"math"
	"time"

	"github.com/vjranagit/historian/pkg/types"
)

// Calculator yields buckets in increasing start order. It cannot be rewound;
// build a new one to iterate again.
type Calculator interface {
	// Next returns the next bucket, or false once the range is exhausted
	Next() (types.Bucket, bool)
}

// New creates a calculator for the range. Calendar calculators align
// boundaries to the start of the interval unit in loc; fixed calculators
// step by the interval duration from the range start.
func New(r types.TimeRange, interval types.Interval, loc *time.Location, calendar bool) (Calculator, error) {
	if r.To < r.From {
		return nil, &types.Error{
			Message:       "to is before from",
			Kind:          types.RangeInvalid,
			PropertyName:  "to",
			PropertyValue: r.To,
		}
	}
	if interval.Count <= 0 {
		return nil, types.ConfigError("rollupInterval", interval.String(), "interval must be positive")
	}
	if loc == nil {
		loc = time.UTC
	}
	if calendar || interval.Unit.IsCalendar() {
		return NewCalendar(r, interval, loc), nil
	}
	return NewFixed(r, interval.Duration()), nil
}

// Fixed produces buckets of a constant width starting at the range start
type Fixed struct {
	r     types.TimeRange
	width int64
	next  int64
	index int
}

// NewFixed creates a fixed width calculator. width is rounded to whole
// milliseconds and must be at least one millisecond.
func NewFixed(r types.TimeRange, width time.Duration) *Fixed {
	w := width.Milliseconds()
	if w < 1 {
		w = 1
	}
	return &Fixed{r: r, width: w, next: r.From}
}

// Next implements Calculator
func (f *Fixed) Next() (types.Bucket, bool) {
	if f.next >= f.r.To {
		return types.Bucket{}, false
	}
	end := f.next + f.width
	if end > f.r.To || end < f.next {
		end = f.r.To
	}
	b := types.Bucket{Start: f.next, End: end, Index: f.index}
	f.next = end
	f.index++
	return b, true
}

// Calendar produces buckets whose boundaries fall on calendar unit starts in
// a time zone. Day and longer units step in wall-clock time, so DST days are
// 23 or 25 hours long.
type Calendar struct {
	r        types.TimeRange
	interval types.Interval
	origin   time.Time
	step     int
	next     int64
	index    int
}

// NewCalendar creates a calendar aligned calculator
func NewCalendar(r types.TimeRange, interval types.Interval, loc *time.Location) *Calendar {
	c := &Calendar{
		r:        r,
		interval: interval,
		origin:   align(time.UnixMilli(r.From).In(loc), interval),
		next:     r.From,
		step:     1,
	}
	for c.boundary(c.step) <= r.From {
		c.step++
	}
	return c
}

// Next implements Calculator
func (c *Calendar) Next() (types.Bucket, bool) {
	if c.next >= c.r.To {
		return types.Bucket{}, false
	}
	end := c.boundary(c.step)
	if end > c.r.To {
		end = c.r.To
	}
	b := types.Bucket{Start: c.next, End: end, Index: c.index}
	c.next = end
	c.step++
	c.index++
	return b, true
}

// boundary returns the k-th boundary after the origin in epoch millis.
// Each boundary is computed from the origin so month ends never drift.
func (c *Calendar) boundary(k int) int64 {
	n := k * c.interval.Count
	var t time.Time
	switch c.interval.Unit {
	case types.Years:
		t = c.origin.AddDate(n, 0, 0)
	case types.Months:
		t = c.origin.AddDate(0, n, 0)
	case types.Weeks:
		t = c.origin.AddDate(0, 0, 7*n)
	case types.Days:
		t = c.origin.AddDate(0, 0, n)
	default:
		d := c.interval.Duration() * time.Duration(k)
		if d < 0 {
			return math.MaxInt64
		}
		t = c.origin.Add(d)
	}
	return t.UnixMilli()
}

// align truncates t to the start of the calendar unit containing it
func align(t time.Time, interval types.Interval) time.Time {
	loc := t.Location()
	y, m, d := t.Date()
	switch interval.Unit {
	case types.Years:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	case types.Months:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case types.Weeks:
		// weeks start on Monday
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, m, d-offset, 0, 0, 0, 0, loc)
	case types.Days:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	case types.Hours:
		h := t.Hour()
		return time.Date(y, m, d, h-h%clampCount(interval.Count, 24), 0, 0, 0, loc)
	case types.Minutes:
		mm := t.Minute()
		return time.Date(y, m, d, t.Hour(), mm-mm%clampCount(interval.Count, 60), 0, 0, loc)
	case types.Seconds:
		s := t.Second()
		return time.Date(y, m, d, t.Hour(), t.Minute(), s-s%clampCount(interval.Count, 60), 0, loc)
	default:
		ms := t.Nanosecond() / int(time.Millisecond)
		ms -= ms % clampCount(interval.Count, 1000)
		return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), ms*int(time.Millisecond), loc)
	}
}

// clampCount keeps alignment inside the enclosing unit; counts that do not
// fit align to the enclosing unit start
func clampCount(count, limit int) int {
	if count <= 0 || count > limit {
		return limit
	}
	return count
}
