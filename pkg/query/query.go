// Package query streams point values for one or more series through an
// optional rollup or simplification step into a token based Writer.
package query

import (
	"context"
	"iter"
	"time"

	"github.com/vjranagit/historian/pkg/bucket"
	"github.com/vjranagit/historian/pkg/simplify"
	"github.com/vjranagit/historian/pkg/types"
)

// Source is the point value store the pipeline reads from
type Source interface {
	// Values yields samples of the series in [from, to) in non-decreasing
	// timestamp order. Series are interleaved; equal timestamps follow the
	// order of seriesIDs. A positive limit caps the number of samples.
	Values(ctx context.Context, seriesIDs []int32, from, to int64, limit int) iter.Seq2[types.Sample, error]

	// Latest returns the last sample strictly before the given time
	Latest(ctx context.Context, seriesID int32, before int64) (types.Sample, bool, error)

	// First returns the first sample in [from, to)
	First(ctx context.Context, seriesID int32, from, to int64) (types.Sample, bool, error)
}

// Writer receives the structural tokens and typed fields of the output. JSON
// and CSV writers both honor this protocol.
type Writer interface {
	StartArray() error
	StartNamedArray(name string) error
	EndArray() error
	StartObject() error
	StartNamedObject(name string) error
	EndObject() error

	String(name, value string) error
	Double(name string, value float64) error
	Integer(name string, value int32) error
	Long(name string, value int64) error
	Boolean(name string, value bool) error
	Null(name string) error
}

// Query holds the parameters of one point value query
type Query struct {
	Series   []types.Series
	Range    types.TimeRange
	Location *time.Location

	Rollup   types.Rollup
	Interval types.Interval
	Limit    int

	Bookend                bool
	SingleArray            bool
	MultiplePointsPerArray bool

	// Simplify, when set, runs Douglas-Peucker over each raw series
	Simplify *simplify.Options
}

// Validate rejects queries that cannot run. It is called before any output
// is written.
func (q *Query) Validate() error {
	if q.Range.To < q.Range.From {
		return &types.Error{
			Message:       "to is before from",
			Kind:          types.RangeInvalid,
			PropertyName:  "to",
			PropertyValue: q.Range.To,
		}
	}
	if len(q.Series) == 0 {
		return types.ConfigError("series", 0, "at least one series is required")
	}
	seen := make(map[int32]bool, len(q.Series))
	for _, s := range q.Series {
		if seen[s.ID] {
			return types.ConfigError("series", s.ID, "duplicate series")
		}
		seen[s.ID] = true
	}
	if q.Limit < 0 {
		return types.ConfigError("limit", q.Limit, "limit must not be negative")
	}
	if q.Rollup < types.RollupNone || q.Rollup > types.RollupCalendar {
		return types.ConfigError("rollup", q.Rollup, "unknown rollup")
	}
	if q.Rollup != types.RollupNone {
		if q.Interval.Count <= 0 {
			return types.ConfigError("rollupInterval", q.Interval.String(), "a rollup requires a positive interval")
		}
		if q.Simplify != nil {
			return types.ConfigError("simplify", true, "simplification cannot be combined with a rollup")
		}
	}
	if q.Simplify != nil {
		if err := q.Simplify.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Mode names the strategy the query runs with
func (q *Query) Mode() string {
	switch {
	case q.Rollup != types.RollupNone:
		return "rollup"
	case q.Simplify != nil:
		return "simplify"
	default:
		return "raw"
	}
}

func (q *Query) location() *time.Location {
	if q.Location == nil {
		return time.UTC
	}
	return q.Location
}

func (q *Query) newCalculator() (bucket.Calculator, error) {
	return bucket.New(q.Range, q.Interval, q.location(), q.Rollup == types.RollupCalendar)
}

func (q *Query) seriesIDs() []int32 {
	ids := make([]int32, len(q.Series))
	for i, s := range q.Series {
		ids[i] = s.ID
	}
	return ids
}
