// Package quantize rolls a time ordered sample stream up into one statistics
// record per bucket.
package quantize

import (
	"fmt"

	"github.com/vjranagit/historian/pkg/bucket"
	"github.com/vjranagit/historian/pkg/stats"
	"github.com/vjranagit/historian/pkg/types"
)

// Sink receives each closed bucket
type Sink func(seriesID int32, r stats.Record) error

// Factory opens the accumulator for a bucket
type Factory func(b types.Bucket, opening *types.Value) *stats.Accumulator

// AccumulatorFactory returns a Factory for series of the given kind
func AccumulatorFactory(kind types.Kind) Factory {
	return func(b types.Bucket, opening *types.Value) *stats.Accumulator {
		return stats.New(kind, b, opening)
	}
}

// Quantizer drives one series through its buckets
type Quantizer struct {
	seriesID int32
	calc     bucket.Calculator
	factory  Factory
	sink     Sink
	current  *stats.Accumulator
	accepted bool
	done     bool
}

// New creates a quantizer and opens its first bucket
func New(seriesID int32, calc bucket.Calculator, factory Factory, sink Sink) *Quantizer {
	q := &Quantizer{
		seriesID: seriesID,
		calc:     calc,
		factory:  factory,
		sink:     sink,
	}
	q.open(nil)
	return q
}

func (q *Quantizer) open(opening *types.Value) {
	q.accepted = false
	b, ok := q.calc.Next()
	if !ok {
		q.current = nil
		return
	}
	q.current = q.factory(b, opening)
}

// Data feeds one sample. Buckets ending at or before the sample are closed
// first, each handing its last value to the next bucket as opening value.
func (q *Quantizer) Data(s types.Sample) error {
	if q.done {
		return &types.Error{Message: "data after done", Kind: types.StateInvalid}
	}
	if q.current == nil {
		// past the last bucket, e.g. the end bookend
		return nil
	}

	start := q.current.Bucket().Start
	if s.Bookend {
		if s.Timestamp <= start && !q.accepted {
			v := s.Value
			q.current = q.factory(q.current.Bucket(), &v)
		}
		return nil
	}
	if s.Timestamp < start {
		return &types.Error{
			Message:       fmt.Sprintf("sample before current bucket start %d", start),
			Kind:          types.ArgumentInvalid,
			PropertyName:  "timestamp",
			PropertyValue: s.Timestamp,
		}
	}

	for q.current != nil && q.current.Bucket().End <= s.Timestamp {
		if err := q.closeCurrent(); err != nil {
			return err
		}
	}
	if q.current == nil {
		return nil
	}
	if err := q.current.Accept(s); err != nil {
		return err
	}
	q.accepted = true
	return nil
}

// Done closes the current bucket and every remaining bucket of the range,
// carrying the last known value through empty trailing buckets.
func (q *Quantizer) Done() error {
	if q.done {
		return nil
	}
	q.done = true
	for q.current != nil {
		if err := q.closeCurrent(); err != nil {
			return err
		}
	}
	return nil
}

func (q *Quantizer) closeCurrent() error {
	acc := q.current
	rec := acc.Close()

	var carry *types.Value
	if v, ok := acc.LastValue(); ok {
		carry = &v
	}
	q.open(carry)

	if err := q.sink(q.seriesID, rec); err != nil {
		return fmt.Errorf("bucket sink failed: %w", err)
	}
	return nil
}

// Multi fans samples from a merged multi-series stream out to one Quantizer
// per series
type Multi struct {
	quantizers map[int32]*Quantizer
	order      []int32
}

// NewMulti creates one quantizer per series, each with its own calculator
func NewMulti(series []types.Series, newCalc func() (bucket.Calculator, error), sink Sink) (*Multi, error) {
	m := &Multi{quantizers: make(map[int32]*Quantizer, len(series))}
	for _, s := range series {
		if _, dup := m.quantizers[s.ID]; dup {
			return nil, &types.Error{
				Message:       "duplicate series",
				Kind:          types.ArgumentInvalid,
				PropertyName:  "series",
				PropertyValue: s.ID,
			}
		}
		calc, err := newCalc()
		if err != nil {
			return nil, err
		}
		m.quantizers[s.ID] = New(s.ID, calc, AccumulatorFactory(s.Kind), sink)
		m.order = append(m.order, s.ID)
	}
	return m, nil
}

// Data routes a sample to its series quantizer
func (m *Multi) Data(s types.Sample) error {
	q, ok := m.quantizers[s.SeriesID]
	if !ok {
		return &types.Error{
			Message:       "sample for unknown series",
			Kind:          types.ArgumentInvalid,
			PropertyName:  "series",
			PropertyValue: s.SeriesID,
		}
	}
	return q.Data(s)
}

// DoneSeries flushes the quantizer of one series
func (m *Multi) DoneSeries(id int32) error {
	q, ok := m.quantizers[id]
	if !ok {
		return nil
	}
	return q.Done()
}

// Done flushes every quantizer in series order
func (m *Multi) Done() error {
	for _, id := range m.order {
		if err := m.quantizers[id].Done(); err != nil {
			return err
		}
	}
	return nil
}
