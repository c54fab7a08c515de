package storage

import (
	"context"
	"fmt"

	"github.com/vjranagit/historian/pkg/types"
)

// BatchWriter buffers series data and writes it to storage in batches
type BatchWriter struct {
	storage    Storage
	buffer     []types.SeriesData
	pending    int
	bufferSize int
	written    int
}

// NewBatchWriter creates a new batch writer flushing every bufferSize samples
func NewBatchWriter(storage Storage, bufferSize int) *BatchWriter {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &BatchWriter{
		storage:    storage,
		bufferSize: bufferSize,
	}
}

// Write buffers samples of one series
func (bw *BatchWriter) Write(ctx context.Context, sd types.SeriesData) error {
	if len(sd.Samples) == 0 {
		return nil
	}

	// Merge into the previous entry when the series repeats
	if n := len(bw.buffer); n > 0 && bw.buffer[n-1].Series == sd.Series {
		bw.buffer[n-1].Samples = append(bw.buffer[n-1].Samples, sd.Samples...)
	} else {
		bw.buffer = append(bw.buffer, types.SeriesData{
			Series:  sd.Series,
			Samples: append([]types.Sample(nil), sd.Samples...),
		})
	}
	bw.pending += len(sd.Samples)

	// Flush if buffer is full
	if bw.pending >= bw.bufferSize {
		return bw.Flush(ctx)
	}

	return nil
}

// Flush writes the buffer
func (bw *BatchWriter) Flush(ctx context.Context) error {
	if len(bw.buffer) == 0 {
		return nil
	}

	if err := bw.storage.Write(ctx, &types.WriteRequest{Data: bw.buffer}); err != nil {
		return fmt.Errorf("batch write failed: %w", err)
	}

	bw.written += bw.pending
	bw.buffer = nil
	bw.pending = 0

	return nil
}

// Written returns the number of samples written so far
func (bw *BatchWriter) Written() int {
	return bw.written
}

// Close flushes any remaining samples
func (bw *BatchWriter) Close(ctx context.Context) error {
	return bw.Flush(ctx)
}
