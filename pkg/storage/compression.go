package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the general purpose compression applied to encoded columns
type Codec byte

const (
	CodecNone Codec = iota
	CodecZstd
	CodecS2
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecS2:
		return "s2"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// ParseCodec parses a codec name. The empty string selects zstd.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return CodecZstd, nil
	case "s2":
		return CodecS2, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return CodecNone, fmt.Errorf("unknown codec %q", name)
	}
}

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// Compressor handles data compression for time-series data
type Compressor struct {
	codec   Codec
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor. level only applies to zstd.
func NewCompressor(codec Codec, level int) (*Compressor, error) {
	// Create encoder with specified compression level
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	// blocks written with another codec must stay readable
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		codec:   codec,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Codec returns the codec used for new data
func (c *Compressor) Codec() Codec {
	return c.codec
}

// compress prefixes the payload with its codec so any codec can decode it
func (c *Compressor) compress(raw []byte) ([]byte, error) {
	switch c.codec {
	case CodecZstd:
		out := []byte{byte(CodecZstd)}
		return c.encoder.EncodeAll(raw, out), nil
	case CodecS2:
		return append([]byte{byte(CodecS2)}, s2.Encode(nil, raw)...), nil
	case CodecLZ4:
		lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
		defer lz4CompressorPool.Put(lc)

		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lc.CompressBlock(raw, dst)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// incompressible
			return append([]byte{byte(CodecNone)}, raw...), nil
		}
		out := binary.AppendUvarint([]byte{byte(CodecLZ4)}, uint64(len(raw)))
		return append(out, dst[:n]...), nil
	default:
		return append([]byte{byte(CodecNone)}, raw...), nil
	}
}

func (c *Compressor) decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	payload := data[1:]
	switch Codec(data[0]) {
	case CodecNone:
		return payload, nil
	case CodecZstd:
		return c.decoder.DecodeAll(payload, nil)
	case CodecS2:
		return s2.Decode(nil, payload)
	case CodecLZ4:
		size, n := binary.Uvarint(payload)
		if n <= 0 {
			return nil, errors.New("invalid lz4 size header")
		}
		out := make([]byte, size)
		m, err := lz4.UncompressBlock(payload[n:], out)
		if err != nil {
			return nil, err
		}
		return out[:m], nil
	default:
		return nil, fmt.Errorf("unknown codec %d", data[0])
	}
}

// CompressTimestamps stores the first timestamp followed by zig-zag varint
// delta-of-deltas. Regular sampling collapses to a run of zero bytes.
func (c *Compressor) CompressTimestamps(timestamps []int64) ([]byte, error) {
	if len(timestamps) == 0 {
		return nil, nil
	}

	raw := binary.AppendVarint(make([]byte, 0, len(timestamps)+8), timestamps[0])
	var prevDelta int64
	for i := 1; i < len(timestamps); i++ {
		delta := timestamps[i] - timestamps[i-1]
		raw = binary.AppendVarint(raw, delta-prevDelta)
		prevDelta = delta
	}
	return c.compress(raw)
}

// DecompressTimestamps reverses CompressTimestamps
func (c *Compressor) DecompressTimestamps(data []byte, count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	timestamps := make([]int64, count)
	var prevDelta int64
	for i := range timestamps {
		v, n := binary.Varint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("truncated timestamp %d", i)
		}
		raw = raw[n:]
		if i == 0 {
			timestamps[0] = v
			continue
		}
		prevDelta += v
		timestamps[i] = timestamps[i-1] + prevDelta
	}
	return timestamps, nil
}

// CompressValues XORs each value with its predecessor and stores the result
// as a uvarint; repeated values take one byte
func (c *Compressor) CompressValues(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	raw := make([]byte, 0, len(values)*2)
	var prevBits uint64
	for _, v := range values {
		bits := math.Float64bits(v)
		raw = binary.AppendUvarint(raw, bits^prevBits)
		prevBits = bits
	}
	return c.compress(raw)
}

// DecompressValues reverses CompressValues
func (c *Compressor) DecompressValues(data []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	values := make([]float64, count)
	var prevBits uint64
	for i := range values {
		xor, n := binary.Uvarint(raw)
		if n <= 0 {
			return nil, fmt.Errorf("truncated value %d", i)
		}
		raw = raw[n:]
		prevBits ^= xor
		values[i] = math.Float64frombits(prevBits)
	}
	return values, nil
}

// CompressStrings compresses alphanumeric values as length prefixed strings
func (c *Compressor) CompressStrings(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	var raw []byte
	for _, v := range values {
		raw = binary.AppendUvarint(raw, uint64(len(v)))
		raw = append(raw, v...)
	}
	return c.compress(raw)
}

// DecompressStrings decompresses alphanumeric values
func (c *Compressor) DecompressStrings(data []byte, count int) ([]string, error) {
	if count == 0 {
		return nil, nil
	}

	raw, err := c.decompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	values := make([]string, count)
	for i := 0; i < count; i++ {
		size, n := binary.Uvarint(raw)
		if n <= 0 || uint64(len(raw)-n) < size {
			return nil, fmt.Errorf("truncated string %d", i)
		}
		values[i] = string(raw[n : n+int(size)])
		raw = raw[n+int(size):]
	}
	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
