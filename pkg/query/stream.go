package query

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/vjranagit/historian/pkg/stats"
	"github.com/vjranagit/historian/pkg/types"
)

type streamState int

const (
	notStarted streamState = iota
	streaming
	finished
)

func (s streamState) String() string {
	switch s {
	case notStarted:
		return "not started"
	case streaming:
		return "streaming"
	default:
		return "finished"
	}
}

// strategy turns incoming samples into output entries
type strategy interface {
	write(s types.Sample) error
	// seriesDone is called in per-series output once a series has no more samples
	seriesDone(id int32) error
	finish() error
}

// entry is one output element: a sample or a bucket record
type entry struct {
	seriesID  int32
	timestamp int64
	sample    *types.Sample
	record    *stats.Record
}

// Stream is the start/value/finish state machine of one query. It is not
// safe for concurrent use.
type Stream struct {
	q        *Query
	log      *zap.Logger
	state    streamState
	w        Writer
	strategy strategy
	series   map[int32]types.Series

	sectionOpen bool
	section     int32
	lastSeries  int32
	seenSeries  bool
	ended       map[int32]bool

	group []entry

	written int
}

// NewStream validates the query and selects the strategy
func NewStream(q *Query, log *zap.Logger) (*Stream, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Stream{
		q:      q,
		log:    log,
		series: make(map[int32]types.Series, len(q.Series)),
		ended:  make(map[int32]bool, len(q.Series)),
	}
	for _, sr := range q.Series {
		s.series[sr.ID] = sr
	}

	switch q.Mode() {
	case "rollup":
		st, err := newQuantizeStrategy(s)
		if err != nil {
			return nil, err
		}
		s.strategy = st
	case "simplify":
		s.strategy = newSimplifyStrategy(s)
	default:
		s.strategy = rawStrategy{s}
	}
	return s, nil
}

// Written returns the number of entries emitted so far
func (s *Stream) Written() int {
	return s.written
}

// Start emits the opening token. It must be called exactly once.
func (s *Stream) Start(w Writer) error {
	if s.state != notStarted {
		panic(fmt.Sprintf("query: start called while %s", s.state))
	}
	s.state = streaming
	s.w = w
	if s.q.SingleArray {
		return w.StartArray()
	}
	return w.StartObject()
}

// WriteValue routes one sample to the active strategy. Calling it before
// Start or after Finish panics.
func (s *Stream) WriteValue(sample types.Sample) error {
	if s.state != streaming {
		panic(fmt.Sprintf("query: write value called while %s", s.state))
	}
	if _, ok := s.series[sample.SeriesID]; !ok {
		return &types.Error{
			Message:       "sample for series not in query",
			Kind:          types.ArgumentInvalid,
			PropertyName:  "series",
			PropertyValue: sample.SeriesID,
		}
	}
	if !s.q.SingleArray {
		if s.ended[sample.SeriesID] {
			return &types.Error{
				Message:       "sample for a series that already ended",
				Kind:          types.StateInvalid,
				PropertyName:  "series",
				PropertyValue: sample.SeriesID,
			}
		}
		// samples of one series are contiguous, so a switch ends the previous one
		if s.seenSeries && sample.SeriesID != s.lastSeries && !s.ended[s.lastSeries] {
			if err := s.endSeries(s.lastSeries); err != nil {
				return err
			}
		}
	}
	s.seenSeries = true
	s.lastSeries = sample.SeriesID
	return s.strategy.write(sample)
}

// Finish flushes buffered state and emits the closing token. It must be
// called exactly once, after Start.
func (s *Stream) Finish(w Writer) error {
	if s.state != streaming {
		panic(fmt.Sprintf("query: finish called while %s", s.state))
	}
	s.w = w
	if !s.q.SingleArray {
		// the series in progress first, then those that never had a sample
		if s.seenSeries && !s.ended[s.lastSeries] {
			if err := s.endSeries(s.lastSeries); err != nil {
				return err
			}
		}
		for _, sr := range s.q.Series {
			if s.ended[sr.ID] {
				continue
			}
			if err := s.endSeries(sr.ID); err != nil {
				return err
			}
		}
	}
	if err := s.strategy.finish(); err != nil {
		return err
	}
	s.state = finished
	if err := s.flushGroup(); err != nil {
		return err
	}
	if s.sectionOpen {
		s.sectionOpen = false
		if err := w.EndArray(); err != nil {
			return err
		}
	}
	if s.q.SingleArray {
		return w.EndArray()
	}
	return w.EndObject()
}

// EndSeries marks the end of the samples of one series in per-series output.
// The strategy flushes what it holds for the series and its named array is
// closed; a series without entries gets an empty array. It is a no-op in
// single array output and for a series that already ended.
func (s *Stream) EndSeries(id int32) error {
	if s.state != streaming {
		panic(fmt.Sprintf("query: end series called while %s", s.state))
	}
	if _, ok := s.series[id]; !ok {
		return &types.Error{
			Message:       "series not in query",
			Kind:          types.ArgumentInvalid,
			PropertyName:  "series",
			PropertyValue: id,
		}
	}
	if s.q.SingleArray || s.ended[id] {
		return nil
	}
	return s.endSeries(id)
}

func (s *Stream) endSeries(id int32) error {
	if err := s.strategy.seriesDone(id); err != nil {
		return err
	}
	s.ended[id] = true
	if !s.sectionOpen || s.section != id {
		if err := s.openSection(id); err != nil {
			return err
		}
	}
	s.sectionOpen = false
	return s.w.EndArray()
}

// openSection closes the current named array and opens the one of series id
func (s *Stream) openSection(id int32) error {
	if s.sectionOpen {
		if err := s.w.EndArray(); err != nil {
			return err
		}
	}
	if err := s.w.StartNamedArray(s.series[id].XID); err != nil {
		return err
	}
	s.sectionOpen = true
	s.section = id
	return nil
}

// emit writes one entry, grouping same timestamp entries when multiple
// points share an array element
func (s *Stream) emit(e entry) error {
	s.written++
	if s.q.SingleArray {
		if s.q.MultiplePointsPerArray {
			if len(s.group) > 0 && s.group[0].timestamp != e.timestamp {
				if err := s.flushGroup(); err != nil {
					return err
				}
			}
			s.group = append(s.group, e)
			return nil
		}
		return s.writeEntry(e, true)
	}

	if !s.sectionOpen || s.section != e.seriesID {
		if s.ended[e.seriesID] {
			return &types.Error{
				Message:       "output for a series that already ended",
				Kind:          types.StateInvalid,
				PropertyName:  "series",
				PropertyValue: e.seriesID,
			}
		}
		if err := s.openSection(e.seriesID); err != nil {
			return err
		}
	}
	return s.writeEntry(e, false)
}

func (s *Stream) flushGroup() error {
	if len(s.group) == 0 {
		return nil
	}
	w := s.w
	if err := w.StartObject(); err != nil {
		return err
	}
	if err := w.Long("timestamp", s.group[0].timestamp); err != nil {
		return err
	}
	for _, e := range s.group {
		if err := w.StartNamedObject(s.series[e.seriesID].XID); err != nil {
			return err
		}
		if err := s.writeFields(e); err != nil {
			return err
		}
		if err := w.EndObject(); err != nil {
			return err
		}
	}
	s.group = s.group[:0]
	return w.EndObject()
}

func (s *Stream) writeEntry(e entry, withXID bool) error {
	w := s.w
	if err := w.StartObject(); err != nil {
		return err
	}
	if withXID {
		if err := w.String("xid", s.series[e.seriesID].XID); err != nil {
			return err
		}
	}
	if err := w.Long("timestamp", e.timestamp); err != nil {
		return err
	}
	if err := s.writeFields(e); err != nil {
		return err
	}
	return w.EndObject()
}

func (s *Stream) writeFields(e entry) error {
	w := s.w
	if e.sample != nil {
		if err := writeValue(w, "value", e.sample.Value); err != nil {
			return err
		}
		if e.sample.Bookend {
			return w.Boolean("bookend", true)
		}
		return nil
	}

	r := e.record
	if s.q.Rollup == types.RollupCalendar {
		return writeStatistics(w, r)
	}
	v, ok := r.Select(s.q.Rollup)
	if !ok {
		return w.Null("value")
	}
	return writeValue(w, "value", v)
}

func writeValue(w Writer, name string, v types.Value) error {
	switch v.Kind() {
	case types.KindNumeric:
		return w.Double(name, v.Numeric())
	case types.KindMultistate:
		return w.Integer(name, v.State())
	case types.KindBinary:
		return w.Boolean(name, v.Bool())
	case types.KindAlphanumeric:
		return w.String(name, v.Text())
	default:
		return w.Null(name)
	}
}

func writeOptionalDouble(w Writer, name string, f *float64) error {
	if f == nil {
		return w.Null(name)
	}
	return w.Double(name, *f)
}

func writeOptionalValue(w Writer, name string, v *types.Value) error {
	if v == nil {
		return w.Null(name)
	}
	return writeValue(w, name, *v)
}

// writeStatistics writes the whole record of a bucket
func writeStatistics(w Writer, r *stats.Record) error {
	if err := w.Long("periodEnd", r.End); err != nil {
		return err
	}
	if err := w.Integer("count", int32(r.Count)); err != nil {
		return err
	}
	if err := writeOptionalValue(w, "startValue", r.StartValue); err != nil {
		return err
	}
	if err := writeOptionalValue(w, "first", r.First); err != nil {
		return err
	}
	if err := writeOptionalValue(w, "last", r.Last); err != nil {
		return err
	}

	if r.Kind == types.KindNumeric {
		fields := []struct {
			name string
			v    *float64
		}{
			{"minimum", r.Minimum},
			{"maximum", r.Maximum},
			{"sum", r.Sum},
			{"integral", r.Integral},
			{"average", r.Average},
			{"arithmeticMean", r.ArithmeticMean},
		}
		for _, f := range fields {
			if err := writeOptionalDouble(w, f.name, f.v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := w.Integer("changes", int32(r.Changes)); err != nil {
		return err
	}
	if err := w.StartNamedArray("states"); err != nil {
		return err
	}
	for _, st := range r.States {
		if err := w.StartObject(); err != nil {
			return err
		}
		if err := writeValue(w, "value", st.Value); err != nil {
			return err
		}
		if err := w.Integer("count", int32(st.Count)); err != nil {
			return err
		}
		if err := w.Long("duration", st.Duration); err != nil {
			return err
		}
		if err := w.EndObject(); err != nil {
			return err
		}
	}
	return w.EndArray()
}
