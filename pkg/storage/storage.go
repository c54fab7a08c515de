package storage

import (
	"container/heap"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vjranagit/historian/pkg/metrics"
	"github.com/vjranagit/historian/pkg/types"
)

// blockSpan is the time covered by one stored block, in milliseconds
const blockSpan = int64(time.Hour / time.Millisecond)

var indexKey = []byte("m/series")

// Storage interface defines the contract for point value storage
type Storage interface {
	// Write writes samples to storage. A sample at an existing timestamp
	// replaces the stored one.
	Write(ctx context.Context, req *types.WriteRequest) error

	// Series lists every known series ordered by ID
	Series() []types.Series

	// SeriesByXID looks a series up by external identifier
	SeriesByXID(xid string) (types.Series, bool)

	// Values streams the samples of the given series in [from, to) ordered
	// by timestamp, ties broken by the order of ids. A positive limit caps
	// the number of samples yielded.
	Values(ctx context.Context, ids []int32, from, to int64, limit int) iter.Seq2[types.Sample, error]

	// Latest returns the last sample strictly before the timestamp
	Latest(ctx context.Context, id int32, before int64) (types.Sample, bool, error)

	// First returns the first sample in [from, to)
	First(ctx context.Context, id int32, from, to int64) (types.Sample, bool, error)

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	RetentionDays    int
	CompressionLevel int
	Codec            string
	EnableWAL        bool
	SyncWrites       bool
	BlockCacheSize   int
	BlockCacheTTL    time.Duration
	// InMemory keeps everything in memory; Path and the WAL are ignored
	InMemory bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    0,
		CompressionLevel: 3,
		Codec:            "zstd",
		EnableWAL:        true,
		BlockCacheSize:   1024,
		BlockCacheTTL:    10 * time.Minute,
	}
}

// badgerStorage implements Storage using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	cache      *BlockCache
	wal        *WAL
	log        *zap.Logger
	mu         sync.RWMutex
}

// badgerLogger routes badger's own logging through zap
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// NewStorage creates a new storage instance
func NewStorage(cfg *Config, log *zap.Logger) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("storage")

	codec, err := ParseCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	// Initialize BadgerDB
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(cfg.Path, "badger")).WithSyncWrites(cfg.SyncWrites)
	}
	opts = opts.WithLogger(badgerLogger{log.Named("badger").WithOptions(zap.IncreaseLevel(zapcore.WarnLevel)).Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	// Create compressor
	compressor, err := NewCompressor(codec, cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		compressor: compressor,
		cache:      NewBlockCache(cfg.BlockCacheSize, cfg.BlockCacheTTL),
		log:        log,
	}

	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.EnableWAL && !cfg.InMemory {
		replayed, err := ReplayWAL(cfg.Path, log, func(req *types.WriteRequest) error {
			return s.writeDirect(context.Background(), req)
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		if replayed > 0 {
			log.Info("replayed WAL", zap.Int("entries", replayed))
		}

		wal, err := NewWAL(cfg.Path, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.wal = wal
	}

	log.Info("storage opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Stringer("codec", codec),
		zap.Int("series", s.index.SeriesCount()))

	return s, nil
}

func (s *badgerStorage) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			s.index = NewIndex()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read series index: %w", err)
		}
		return item.Value(func(val []byte) error {
			idx, err := DeserializeIndex(val)
			if err != nil {
				return fmt.Errorf("failed to decode series index: %w", err)
			}
			s.index = idx
			return nil
		})
	})
}

// Write implements Storage.Write
func (s *badgerStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a rejected request must never reach the WAL
	if err := s.validate(req); err != nil {
		return err
	}
	if s.wal != nil {
		if err := s.wal.Append(req); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}
	return s.writeLocked(ctx, req)
}

// writeDirect applies a request without logging it, used by WAL replay
func (s *badgerStorage) writeDirect(ctx context.Context, req *types.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(req); err != nil {
		return err
	}
	return s.writeLocked(ctx, req)
}

func (s *badgerStorage) validate(req *types.WriteRequest) error {
	pending := make(map[int32]types.Series, len(req.Data))
	for _, sd := range req.Data {
		err := s.index.CheckSeries(sd.Series)
		if prev, ok := pending[sd.Series.ID]; err == nil && ok && prev != sd.Series {
			err = fmt.Errorf("series %d listed twice with different metadata", sd.Series.ID)
		}
		if err != nil {
			return &types.Error{
				Message:       "invalid series",
				Kind:          types.ArgumentInvalid,
				PropertyName:  "series",
				PropertyValue: sd.Series.ID,
				NestedError:   err,
			}
		}
		pending[sd.Series.ID] = sd.Series

		for _, smp := range sd.Samples {
			if smp.Value.Kind() != sd.Series.Kind {
				return &types.Error{
					Message:       fmt.Sprintf("sample kind %s does not match series kind %s", smp.Value.Kind(), sd.Series.Kind),
					Kind:          types.ArgumentInvalid,
					PropertyName:  "series",
					PropertyValue: sd.Series.XID,
				}
			}
		}
	}
	return nil
}

func (s *badgerStorage) writeLocked(ctx context.Context, req *types.WriteRequest) error {
	written := 0
	for _, sd := range req.Data {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.index.AddSeries(sd.Series); err != nil {
			return fmt.Errorf("failed to index series: %w", err)
		}

		minTime, maxTime := int64(0), int64(0)
		for i, smp := range sd.Samples {
			if i == 0 || smp.Timestamp < minTime {
				minTime = smp.Timestamp
			}
			if i == 0 || smp.Timestamp > maxTime {
				maxTime = smp.Timestamp
			}
		}

		// Write each block
		blocks := groupSamplesByBlock(sd.Samples)
		for blockTime, samples := range blocks {
			if err := s.writeBlock(sd.Series, blockTime, samples); err != nil {
				return fmt.Errorf("failed to write block: %w", err)
			}
		}
		if len(sd.Samples) > 0 {
			if err := s.index.UpdateTimeRange(sd.Series.ID, minTime, maxTime); err != nil {
				return err
			}
		}
		written += len(sd.Samples)
	}

	if err := s.saveIndex(); err != nil {
		return err
	}
	metrics.SamplesWritten.Add(float64(written))
	return nil
}

func (s *badgerStorage) saveIndex() error {
	data, err := s.index.Serialize()
	if err != nil {
		return fmt.Errorf("failed to encode series index: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexKey, data)
	})
}

// blockStart returns the start of the block holding ts
func blockStart(ts int64) int64 {
	b := ts / blockSpan * blockSpan
	if ts < 0 && b != ts {
		b -= blockSpan
	}
	return b
}

// groupSamplesByBlock groups samples into 1-hour blocks
func groupSamplesByBlock(samples []types.Sample) map[int64][]types.Sample {
	blocks := make(map[int64][]types.Sample)
	for _, sample := range samples {
		blockTime := blockStart(sample.Timestamp)
		blocks[blockTime] = append(blocks[blockTime], sample)
	}
	return blocks
}

// mergeSamples merges incoming samples into a stored block. For equal
// timestamps the incoming sample wins, and within the incoming samples the
// later one wins.
func mergeSamples(existing, incoming []types.Sample) []types.Sample {
	merged := make([]types.Sample, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	out := merged[:0]
	for _, smp := range merged {
		smp.Bookend = false
		if n := len(out); n > 0 && out[n-1].Timestamp == smp.Timestamp {
			out[n-1] = smp
			continue
		}
		out = append(out, smp)
	}
	return out
}

// writeBlock merges samples into the stored block and writes it back
func (s *badgerStorage) writeBlock(sr types.Series, blockTime int64, samples []types.Sample) error {
	key := generateKey(sr.ID, blockTime)

	err := s.db.Update(func(txn *badger.Txn) error {
		var existing []types.Sample
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			existing, err = s.decodeBlock(sr.ID, raw)
			if err != nil {
				return err
			}
		}

		payload, err := s.encodeBlock(sr.Kind, mergeSamples(existing, samples))
		if err != nil {
			return err
		}

		entry := badger.NewEntry(key, payload)
		if s.cfg.RetentionDays > 0 {
			entry = entry.WithTTL(time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		}
		return txn.SetEntry(entry)
	})
	s.cache.Invalidate(sr.ID, blockTime)
	return err
}

type blockPayload struct {
	Kind              types.Kind
	Count             int
	CompressedTS      []byte
	CompressedValues  []byte
	CompressedStrings []byte `json:",omitempty"`
}

func (s *badgerStorage) encodeBlock(kind types.Kind, samples []types.Sample) ([]byte, error) {
	timestamps := make([]int64, len(samples))
	for i, sample := range samples {
		timestamps[i] = sample.Timestamp
	}

	compressedTS, err := s.compressor.CompressTimestamps(timestamps)
	if err != nil {
		return nil, fmt.Errorf("failed to compress timestamps: %w", err)
	}

	payload := &blockPayload{
		Kind:         kind,
		Count:        len(samples),
		CompressedTS: compressedTS,
	}

	if kind == types.KindAlphanumeric {
		texts := make([]string, len(samples))
		for i, sample := range samples {
			texts[i] = sample.Value.Text()
		}
		if payload.CompressedStrings, err = s.compressor.CompressStrings(texts); err != nil {
			return nil, fmt.Errorf("failed to compress strings: %w", err)
		}
	} else {
		values := make([]float64, len(samples))
		for i, sample := range samples {
			values[i], _ = sample.Value.Float()
		}
		if payload.CompressedValues, err = s.compressor.CompressValues(values); err != nil {
			return nil, fmt.Errorf("failed to compress values: %w", err)
		}
	}

	return json.Marshal(payload)
}

func (s *badgerStorage) decodeBlock(seriesID int32, raw []byte) ([]types.Sample, error) {
	var payload blockPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	timestamps, err := s.compressor.DecompressTimestamps(payload.CompressedTS, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress timestamps: %w", err)
	}

	samples := make([]types.Sample, payload.Count)
	for i := range samples {
		samples[i] = types.Sample{SeriesID: seriesID, Timestamp: timestamps[i]}
	}

	if payload.Kind == types.KindAlphanumeric {
		texts, err := s.compressor.DecompressStrings(payload.CompressedStrings, payload.Count)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress strings: %w", err)
		}
		for i, t := range texts {
			samples[i].Value = types.AlphanumericValue(t)
		}
		return samples, nil
	}

	values, err := s.compressor.DecompressValues(payload.CompressedValues, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress values: %w", err)
	}
	for i, v := range values {
		switch payload.Kind {
		case types.KindMultistate:
			samples[i].Value = types.MultistateValue(int32(v))
		case types.KindBinary:
			samples[i].Value = types.BinaryValue(v != 0)
		default:
			samples[i].Value = types.NumericValue(v)
		}
	}
	return samples, nil
}

// loadBlock decodes the block under the iterator, going through the cache
func (s *badgerStorage) loadBlock(item *badger.Item, seriesID int32, blockTime int64) ([]types.Sample, error) {
	version := item.Version()
	if samples, ok := s.cache.Get(seriesID, blockTime, version); ok {
		return samples, nil
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	samples, err := s.decodeBlock(seriesID, raw)
	if err != nil {
		return nil, err
	}
	s.cache.Put(seriesID, blockTime, version, samples)
	return samples, nil
}

// Series implements Storage.Series
func (s *badgerStorage) Series() []types.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.All()
}

// SeriesByXID implements Storage.SeriesByXID
func (s *badgerStorage) SeriesByXID(xid string) (types.Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.FindByXID(xid)
}

// seriesCursor walks the blocks of one series in timestamp order
type seriesCursor struct {
	s        *badgerStorage
	it       *badger.Iterator
	id       int32
	order    int
	from, to int64
	block    []types.Sample
	pos      int
	current  types.Sample
}

func (s *badgerStorage) newCursor(txn *badger.Txn, id int32, order int, from, to int64) *seriesCursor {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = seriesPrefix(id)
	it := txn.NewIterator(opts)
	it.Seek(generateKey(id, blockStart(from)))
	return &seriesCursor{s: s, it: it, id: id, order: order, from: from, to: to}
}

// next moves to the next sample in range
func (c *seriesCursor) next() (bool, error) {
	for {
		for c.pos < len(c.block) {
			smp := c.block[c.pos]
			c.pos++
			if smp.Timestamp < c.from {
				continue
			}
			if smp.Timestamp >= c.to {
				return false, nil
			}
			c.current = smp
			return true, nil
		}

		if !c.it.Valid() {
			return false, nil
		}
		item := c.it.Item()
		blockTime := decodeBlockTime(item.Key())
		if blockTime >= c.to {
			return false, nil
		}
		samples, err := c.s.loadBlock(item, c.id, blockTime)
		if err != nil {
			return false, fmt.Errorf("series %d block %d: %w", c.id, blockTime, err)
		}
		c.it.Next()
		c.block, c.pos = samples, 0
	}
}

func (c *seriesCursor) close() {
	c.it.Close()
}

// cursorHeap orders cursors by current timestamp, then by series order
type cursorHeap []*seriesCursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if h[i].current.Timestamp != h[j].current.Timestamp {
		return h[i].current.Timestamp < h[j].current.Timestamp
	}
	return h[i].order < h[j].order
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(*seriesCursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Values implements Storage.Values
func (s *badgerStorage) Values(ctx context.Context, ids []int32, from, to int64, limit int) iter.Seq2[types.Sample, error] {
	return func(yield func(types.Sample, error) bool) {
		if to <= from || len(ids) == 0 {
			return
		}

		// the read transaction is a consistent snapshot for the whole query
		txn := s.db.NewTransaction(false)
		defer txn.Discard()

		h := make(cursorHeap, 0, len(ids))
		cursors := make([]*seriesCursor, 0, len(ids))
		defer func() {
			for _, c := range cursors {
				c.close()
			}
		}()

		for order, id := range ids {
			c := s.newCursor(txn, id, order, from, to)
			cursors = append(cursors, c)
			ok, err := c.next()
			if err != nil {
				yield(types.Sample{}, err)
				return
			}
			if ok {
				h = append(h, c)
			}
		}
		heap.Init(&h)

		emitted := 0
		for h.Len() > 0 {
			if err := ctx.Err(); err != nil {
				yield(types.Sample{}, err)
				return
			}

			c := h[0]
			if !yield(c.current, nil) {
				return
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return
			}

			ok, err := c.next()
			if err != nil {
				yield(types.Sample{}, err)
				return
			}
			if ok {
				heap.Fix(&h, 0)
			} else {
				heap.Pop(&h)
			}
		}
	}
}

// Latest implements Storage.Latest
func (s *badgerStorage) Latest(ctx context.Context, id int32, before int64) (types.Sample, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Sample{}, false, err
	}

	var (
		found  types.Sample
		exists bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = seriesPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse seek lands on the last block starting at or before the seek key
		for it.Seek(generateKey(id, blockStart(before-1))); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			samples, err := s.loadBlock(item, id, decodeBlockTime(item.Key()))
			if err != nil {
				return err
			}
			for i := len(samples) - 1; i >= 0; i-- {
				if samples[i].Timestamp < before {
					found, exists = samples[i], true
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return types.Sample{}, false, err
	}
	return found, exists, nil
}

// First implements Storage.First
func (s *badgerStorage) First(ctx context.Context, id int32, from, to int64) (types.Sample, bool, error) {
	for smp, err := range s.Values(ctx, []int32{id}, from, to, 1) {
		if err != nil {
			return types.Sample{}, false, err
		}
		return smp, true, nil
	}
	return types.Sample{}, false, nil
}

// Close implements Storage.Close
func (s *badgerStorage) Close() error {
	var errs []error
	if s.wal != nil {
		errs = append(errs, s.wal.Close())
	}
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// seriesPrefix is the key prefix of every block of a series
func seriesPrefix(seriesID int32) []byte {
	key := make([]byte, 5)
	key[0] = 'd'
	binary.BigEndian.PutUint32(key[1:], uint32(seriesID))
	return key
}

// generateKey generates a storage key for a time block. The sign bit of the
// block time is flipped so negative times sort before positive ones.
func generateKey(seriesID int32, blockTime int64) []byte {
	key := make([]byte, 13)
	copy(key, seriesPrefix(seriesID))
	binary.BigEndian.PutUint64(key[5:], uint64(blockTime)^(1<<63))
	return key
}

func decodeBlockTime(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[5:]) ^ (1 << 63))
}
