// Package stats accumulates per-bucket statistics over a time ordered stream
// of samples.
//
// Values are treated as a step function: each sample holds until the next one
// (or the bucket end). Numeric series get count, sum, min/max, first/last,
// integral and averages. Multistate, binary and alphanumeric series get
// per-state counts and durations.
package stats

import (
	"fmt"

	"github.com/vjranagit/historian/pkg/types"
)

// StateStats is the time spent in, and number of samples of, one discrete state
type StateStats struct {
	Value    types.Value `json:"value"`
	Count    int         `json:"count"`
	Duration int64       `json:"duration"`
}

// Record is the summary of one closed bucket. Pointer fields are nil when the
// statistic is undefined for the bucket.
type Record struct {
	Kind  types.Kind `json:"kind"`
	Start int64      `json:"start"`
	End   int64      `json:"end"`
	Count int        `json:"count"`

	StartValue *types.Value `json:"start_value,omitempty"`
	First      *types.Value `json:"first,omitempty"`
	FirstTime  *int64       `json:"first_time,omitempty"`
	Last       *types.Value `json:"last,omitempty"`
	LastTime   *int64       `json:"last_time,omitempty"`

	Minimum        *float64 `json:"minimum,omitempty"`
	MinimumTime    *int64   `json:"minimum_time,omitempty"`
	Maximum        *float64 `json:"maximum,omitempty"`
	MaximumTime    *int64   `json:"maximum_time,omitempty"`
	Sum            *float64 `json:"sum,omitempty"`
	Integral       *float64 `json:"integral,omitempty"`
	Average        *float64 `json:"average,omitempty"`
	ArithmeticMean *float64 `json:"arithmetic_mean,omitempty"`

	States  []StateStats `json:"states,omitempty"`
	Changes int          `json:"changes"`
}

// Accumulator collects the samples of one bucket. The variant logic is
// selected by the series kind.
type Accumulator struct {
	kind   types.Kind
	bucket types.Bucket
	closed bool

	count     int
	opening   *types.Value
	hasPrev   bool
	prev      types.Value
	prevTime  int64
	first     types.Value
	firstTime int64
	last      types.Value
	lastTime  int64

	// numeric
	sum      float64
	min      float64
	minTime  int64
	max      float64
	maxTime  int64
	integral float64
	covered  int64

	// discrete
	states  map[types.Value]*StateStats
	order   []types.Value
	changes int
}

// New creates an accumulator for bucket b. opening, when not nil, is the
// value in effect at the bucket start; it contributes to durations and the
// integral but is not counted as a sample.
func New(kind types.Kind, b types.Bucket, opening *types.Value) *Accumulator {
	a := &Accumulator{kind: kind, bucket: b}
	if kind != types.KindNumeric {
		a.states = make(map[types.Value]*StateStats)
	}
	if opening != nil && !opening.IsZero() {
		v := *opening
		a.opening = &v
		a.hasPrev = true
		a.prev = v
		a.prevTime = b.Start
		if a.states != nil {
			a.state(v)
		}
	}
	return a
}

// Bucket returns the bucket being accumulated
func (a *Accumulator) Bucket() types.Bucket {
	return a.bucket
}

// Accept adds one sample. Samples must fall inside the bucket and arrive in
// non-decreasing timestamp order.
func (a *Accumulator) Accept(s types.Sample) error {
	if a.closed {
		return &types.Error{Message: "accept after close", Kind: types.StateInvalid}
	}
	if s.Timestamp < a.bucket.Start || s.Timestamp >= a.bucket.End {
		return &types.Error{
			Message:       fmt.Sprintf("sample outside bucket [%d, %d)", a.bucket.Start, a.bucket.End),
			Kind:          types.ArgumentInvalid,
			PropertyName:  "timestamp",
			PropertyValue: s.Timestamp,
		}
	}
	if a.hasPrev && s.Timestamp < a.prevTime {
		return &types.Error{
			Message:       "sample out of order",
			Kind:          types.ArgumentInvalid,
			PropertyName:  "timestamp",
			PropertyValue: s.Timestamp,
		}
	}
	if s.Value.Kind() != a.kind {
		return &types.Error{
			Message:       fmt.Sprintf("expected %s value", a.kind),
			Kind:          types.ArgumentInvalid,
			PropertyName:  "kind",
			PropertyValue: s.Value.Kind().String(),
		}
	}

	a.advance(s.Timestamp)

	switch a.kind {
	case types.KindNumeric:
		a.acceptNumeric(s)
	default:
		a.acceptDiscrete(s)
	}

	if a.count == 0 {
		a.first = s.Value
		a.firstTime = s.Timestamp
	}
	a.count++
	a.last = s.Value
	a.lastTime = s.Timestamp
	a.hasPrev = true
	a.prev = s.Value
	a.prevTime = s.Timestamp
	return nil
}

// advance credits the previous value with the time until t
func (a *Accumulator) advance(t int64) {
	if !a.hasPrev {
		return
	}
	dt := t - a.prevTime
	if dt <= 0 {
		return
	}
	switch a.kind {
	case types.KindNumeric:
		a.integral += a.prev.Numeric() * float64(dt)
		a.covered += dt
	default:
		a.state(a.prev).Duration += dt
	}
}

func (a *Accumulator) acceptNumeric(s types.Sample) {
	v := s.Value.Numeric()
	a.sum += v
	// strict comparisons: the first occurrence of an extreme wins
	if a.count == 0 || v < a.min {
		a.min = v
		a.minTime = s.Timestamp
	}
	if a.count == 0 || v > a.max {
		a.max = v
		a.maxTime = s.Timestamp
	}
}

func (a *Accumulator) acceptDiscrete(s types.Sample) {
	if a.hasPrev && a.prev != s.Value {
		a.changes++
	}
	a.state(s.Value).Count++
}

func (a *Accumulator) state(v types.Value) *StateStats {
	st, ok := a.states[v]
	if !ok {
		st = &StateStats{Value: v}
		a.states[v] = st
		a.order = append(a.order, v)
	}
	return st
}

// Close finalizes the bucket. It must be called exactly once.
func (a *Accumulator) Close() Record {
	if a.closed {
		panic("stats: accumulator closed twice")
	}
	a.closed = true
	a.advance(a.bucket.End)

	r := Record{
		Kind:       a.kind,
		Start:      a.bucket.Start,
		End:        a.bucket.End,
		Count:      a.count,
		StartValue: a.opening,
		Changes:    a.changes,
	}
	if a.count > 0 {
		r.First = ptr(a.first)
		r.FirstTime = ptr(a.firstTime)
		r.Last = ptr(a.last)
		r.LastTime = ptr(a.lastTime)
	}

	switch a.kind {
	case types.KindNumeric:
		if a.count > 0 {
			r.Minimum = ptr(a.min)
			r.MinimumTime = ptr(a.minTime)
			r.Maximum = ptr(a.max)
			r.MaximumTime = ptr(a.maxTime)
			r.Sum = ptr(a.sum)
			r.ArithmeticMean = ptr(a.sum / float64(a.count))
		}
		if a.covered > 0 {
			r.Integral = ptr(a.integral)
			r.Average = ptr(a.integral / float64(a.covered))
		}
	default:
		r.States = make([]StateStats, 0, len(a.order))
		for _, v := range a.order {
			r.States = append(r.States, *a.states[v])
		}
	}
	return r
}

// LastValue returns the value in effect at the end of the bucket, if any
func (a *Accumulator) LastValue() (types.Value, bool) {
	return a.prev, a.hasPrev
}

// Select returns the statistic a rollup asks for. ok is false when the
// statistic is undefined for the bucket or the kind.
func (r Record) Select(rollup types.Rollup) (v types.Value, ok bool) {
	switch rollup {
	case types.RollupCount:
		return types.NumericValue(float64(r.Count)), true
	case types.RollupFirst:
		return deref(r.First)
	case types.RollupLast:
		return deref(r.Last)
	}
	if r.Kind != types.KindNumeric {
		return types.Value{}, false
	}
	var f *float64
	switch rollup {
	case types.RollupAverage:
		f = r.Average
	case types.RollupMin:
		f = r.Minimum
	case types.RollupMax:
		f = r.Maximum
	case types.RollupSum:
		f = r.Sum
	case types.RollupIntegral:
		f = r.Integral
	case types.RollupArithmeticMean:
		f = r.ArithmeticMean
	}
	if f == nil {
		return types.Value{}, false
	}
	return types.NumericValue(*f), true
}

func deref(v *types.Value) (types.Value, bool) {
	if v == nil {
		return types.Value{}, false
	}
	return *v, true
}

func ptr[T any](v T) *T {
	return &v
}
