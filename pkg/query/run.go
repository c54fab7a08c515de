package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vjranagit/historian/pkg/metrics"
	"github.com/vjranagit/historian/pkg/types"
)

// Run executes a query against the source and writes the result. Options are
// validated before anything is written. On cancellation Run stops reading,
// skips Finish and returns a Cancellation error; the caller discards the
// partial output.
func Run(ctx context.Context, src Source, q *Query, w Writer, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	stream, err := NewStream(q, log)
	if err != nil {
		return err
	}

	mode := q.Mode()
	log = log.With(zap.String("query_id", uuid.NewString()), zap.String("mode", mode))
	started := time.Now()
	log.Debug("query started",
		zap.Int("series", len(q.Series)),
		zap.Int64("from", q.Range.From),
		zap.Int64("to", q.Range.To),
		zap.Stringer("rollup", q.Rollup),
		zap.Int("limit", q.Limit))

	read, err := run(ctx, src, q, stream, w)
	metrics.SamplesRead.WithLabelValues(mode).Add(float64(read))
	metrics.QueryDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())

	if err != nil {
		status := "error"
		var te *types.Error
		if errors.As(err, &te) {
			status = te.Kind.String()
		}
		metrics.QueriesTotal.WithLabelValues(mode, status).Inc()
		if types.IsKind(err, types.Cancellation) {
			log.Info("query cancelled", zap.Int("read", read))
		} else {
			log.Warn("query failed", zap.Error(err))
		}
		return err
	}

	metrics.QueriesTotal.WithLabelValues(mode, "ok").Inc()
	log.Debug("query finished",
		zap.Int("read", read),
		zap.Int("written", stream.Written()),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

func run(ctx context.Context, src Source, q *Query, stream *Stream, w Writer) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, types.Cancelled(err)
	}
	if err := stream.Start(w); err != nil {
		return 0, err
	}

	read := 0
	if q.SingleArray {
		n, err := feed(ctx, src, q, q.Series, stream)
		read += n
		if err != nil {
			return read, err
		}
	} else {
		// one pass per series so each series is written as its own array
		for _, sr := range q.Series {
			n, err := feed(ctx, src, q, []types.Series{sr}, stream)
			read += n
			if err != nil {
				return read, err
			}
			if err := stream.EndSeries(sr.ID); err != nil {
				return read, err
			}
		}
	}

	if err := stream.Finish(w); err != nil {
		return read, err
	}
	return read, nil
}

// feed streams the samples of the given series, surrounded by bookends when
// requested
func feed(ctx context.Context, src Source, q *Query, series []types.Series, stream *Stream) (int, error) {
	withBookends := q.Bookend && !q.Range.Empty()
	last := make(map[int32]types.Value, len(series))

	if withBookends {
		for _, sr := range series {
			b, ok, err := startBookend(ctx, src, q.Range, sr.ID)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			if err := stream.WriteValue(b); err != nil {
				return 0, err
			}
			last[sr.ID] = b.Value
		}
	}

	ids := make([]int32, len(series))
	for i, sr := range series {
		ids[i] = sr.ID
	}

	read := 0
	for sample, err := range src.Values(ctx, ids, q.Range.From, q.Range.To, q.Limit) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return read, types.Cancelled(ctxErr)
			}
			return read, types.StorageError(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return read, types.Cancelled(ctxErr)
		}
		read++
		if err := stream.WriteValue(sample); err != nil {
			return read, err
		}
		last[sample.SeriesID] = sample.Value
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return read, types.Cancelled(ctxErr)
	}

	limitHit := q.Limit > 0 && read >= q.Limit
	if !withBookends || limitHit {
		return read, nil
	}
	for _, sr := range series {
		v, ok := last[sr.ID]
		if !ok {
			continue
		}
		end := types.Sample{SeriesID: sr.ID, Timestamp: q.Range.To, Value: v, Bookend: true}
		if err := stream.WriteValue(end); err != nil {
			return read, err
		}
	}
	return read, nil
}

// startBookend returns the value in effect at the range start: the last
// value before it, else the first value inside the range. No bookend is
// produced when a real sample sits exactly at the start.
func startBookend(ctx context.Context, src Source, r types.TimeRange, id int32) (types.Sample, bool, error) {
	first, hasFirst, err := src.First(ctx, id, r.From, r.To)
	if err != nil {
		return types.Sample{}, false, types.StorageError(err)
	}
	if hasFirst && first.Timestamp == r.From {
		return types.Sample{}, false, nil
	}

	prior, hasPrior, err := src.Latest(ctx, id, r.From)
	if err != nil {
		return types.Sample{}, false, types.StorageError(err)
	}
	switch {
	case hasPrior:
		return types.Sample{SeriesID: id, Timestamp: r.From, Value: prior.Value, Bookend: true}, true, nil
	case hasFirst:
		return types.Sample{SeriesID: id, Timestamp: r.From, Value: first.Value, Bookend: true}, true, nil
	default:
		return types.Sample{}, false, nil
	}
}
