package query

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/historian/pkg/quantize"
	"github.com/vjranagit/historian/pkg/simplify"
	"github.com/vjranagit/historian/pkg/stats"
	"github.com/vjranagit/historian/pkg/types"
)

// rawStrategy passes samples straight through
type rawStrategy struct {
	s *Stream
}

func (r rawStrategy) write(sample types.Sample) error {
	return r.s.emit(entry{seriesID: sample.SeriesID, timestamp: sample.Timestamp, sample: &sample})
}

func (r rawStrategy) seriesDone(int32) error { return nil }

func (r rawStrategy) finish() error { return nil }

// quantizeStrategy rolls each series up into buckets. In single array output
// records are released bucket by bucket across all series, in series order.
type quantizeStrategy struct {
	s       *Stream
	multi   *quantize.Multi
	order   []int32
	pending map[int32][]stats.Record
}

func newQuantizeStrategy(s *Stream) (*quantizeStrategy, error) {
	qs := &quantizeStrategy{
		s:       s,
		pending: make(map[int32][]stats.Record, len(s.q.Series)),
	}
	for _, sr := range s.q.Series {
		qs.order = append(qs.order, sr.ID)
	}
	multi, err := quantize.NewMulti(s.q.Series, s.q.newCalculator, qs.collect)
	if err != nil {
		return nil, err
	}
	qs.multi = multi
	return qs, nil
}

func (qs *quantizeStrategy) collect(id int32, r stats.Record) error {
	if !qs.s.q.SingleArray {
		return qs.s.emit(entry{seriesID: id, timestamp: r.Start, record: &r})
	}
	qs.pending[id] = append(qs.pending[id], r)
	return qs.drain()
}

// drain emits every bucket that all series have closed
func (qs *quantizeStrategy) drain() error {
	for {
		for _, id := range qs.order {
			if len(qs.pending[id]) == 0 {
				return nil
			}
		}
		for _, id := range qs.order {
			r := qs.pending[id][0]
			qs.pending[id] = qs.pending[id][1:]
			if err := qs.s.emit(entry{seriesID: id, timestamp: r.Start, record: &r}); err != nil {
				return err
			}
		}
	}
}

func (qs *quantizeStrategy) write(sample types.Sample) error {
	return qs.multi.Data(sample)
}

func (qs *quantizeStrategy) seriesDone(id int32) error {
	return qs.multi.DoneSeries(id)
}

func (qs *quantizeStrategy) finish() error {
	if err := qs.multi.Done(); err != nil {
		return err
	}
	return qs.drain()
}

// seriesBuffer holds one series of a simplify query
type seriesBuffer struct {
	start  *types.Sample
	end    *types.Sample
	values []types.Sample
}

// simplifyStrategy buffers each series and simplifies it when the series
// ends, or at finish for single array output
type simplifyStrategy struct {
	s       *Stream
	opts    simplify.Options
	buffers map[int32]*seriesBuffer
}

func newSimplifyStrategy(s *Stream) *simplifyStrategy {
	return &simplifyStrategy{
		s:       s,
		opts:    *s.q.Simplify,
		buffers: make(map[int32]*seriesBuffer, len(s.q.Series)),
	}
}

func (ss *simplifyStrategy) buffer(id int32) *seriesBuffer {
	b, ok := ss.buffers[id]
	if !ok {
		b = &seriesBuffer{}
		ss.buffers[id] = b
	}
	return b
}

func (ss *simplifyStrategy) write(sample types.Sample) error {
	b := ss.buffer(sample.SeriesID)
	if !sample.Bookend {
		b.values = append(b.values, sample)
		return nil
	}
	if sample.Timestamp == ss.s.q.Range.From {
		b.start = &sample
	} else {
		b.end = &sample
	}
	return nil
}

// seriesDone simplifies and writes one series of per-series output
func (ss *simplifyStrategy) seriesDone(id int32) error {
	b, ok := ss.buffers[id]
	if !ok {
		return nil
	}
	delete(ss.buffers, id)
	out, err := ss.simplify(id, b)
	if err != nil {
		return err
	}
	return ss.emitAll(out)
}

// simplify runs one series and restores its bookends
func (ss *simplifyStrategy) simplify(id int32, b *seriesBuffer) ([]types.Sample, error) {
	simplified, err := simplify.Simplify(b.values, ss.opts)
	if err != nil {
		return nil, fmt.Errorf("simplify series %d: %w", id, err)
	}
	out := make([]types.Sample, 0, len(simplified)+2)
	if b.start != nil {
		out = append(out, *b.start)
	}
	out = append(out, simplified...)
	// a missing end bookend means the limit was hit; never synthesize it
	if b.end != nil {
		out = append(out, *b.end)
	}
	ss.s.log.Debug("series simplified",
		zap.Int32("series_id", id),
		zap.Int("in", len(b.values)),
		zap.Int("out", len(simplified)))
	return out, nil
}

// finish simplifies every series of single array output concurrently and
// merges the results by timestamp. Per-series output is already written.
func (ss *simplifyStrategy) finish() error {
	if !ss.s.q.SingleArray {
		return nil
	}
	series := ss.s.q.Series
	results := make([][]types.Sample, len(series))

	// each series writes only its own slot, so the merge below is deterministic
	var g errgroup.Group
	for i, sr := range series {
		b, ok := ss.buffers[sr.ID]
		if !ok {
			continue
		}
		g.Go(func() error {
			out, err := ss.simplify(sr.ID, b)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var merged []types.Sample
	for _, r := range results {
		merged = append(merged, r...)
	}
	// stable: equal timestamps keep series order
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return ss.emitAll(merged)
}

func (ss *simplifyStrategy) emitAll(samples []types.Sample) error {
	for i := range samples {
		sample := samples[i]
		if err := ss.s.emit(entry{seriesID: sample.SeriesID, timestamp: sample.Timestamp, sample: &sample}); err != nil {
			return err
		}
	}
	return nil
}
