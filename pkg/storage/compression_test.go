package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCodecs = []Codec{CodecNone, CodecZstd, CodecS2, CodecLZ4}

func TestCompressTimestamps(t *testing.T) {
	// Create regular interval timestamps
	start := int64(1700000000000)
	timestamps := make([]int64, 100)
	for i := 0; i < 100; i++ {
		timestamps[i] = start + int64(i*60000) // 1 minute intervals
	}

	for _, codec := range allCodecs {
		t.Run(codec.String(), func(t *testing.T) {
			comp, err := NewCompressor(codec, 2)
			require.NoError(t, err)
			defer comp.Close()

			compressed, err := comp.CompressTimestamps(timestamps)
			require.NoError(t, err)
			assert.Equal(t, byte(codec), compressed[0])

			// regular intervals encode to about one byte per timestamp
			assert.Less(t, len(compressed), len(timestamps)*2)

			decompressed, err := comp.DecompressTimestamps(compressed, len(timestamps))
			require.NoError(t, err)
			assert.Equal(t, timestamps, decompressed)
		})
	}
}

func TestDecompressTruncated(t *testing.T) {
	comp, err := NewCompressor(CodecNone, 0)
	require.NoError(t, err)
	defer comp.Close()

	compressed, err := comp.CompressTimestamps([]int64{1, 2, 3})
	require.NoError(t, err)
	_, err = comp.DecompressTimestamps(compressed, 4)
	assert.Error(t, err)

	compressed, err = comp.CompressValues([]float64{1.5, 1.5})
	require.NoError(t, err)
	assert.Len(t, compressed, 1+9+1, "a repeated value costs one byte")
	_, err = comp.DecompressValues(compressed, 3)
	assert.Error(t, err)
}

func TestCompressValues(t *testing.T) {
	// Create values with small variations
	values := make([]float64, 100)
	for i := 0; i < 100; i++ {
		values[i] = 100.0 + math.Sin(float64(i)*0.1)*10
	}
	values[10] = math.NaN()
	values[11] = math.Inf(-1)

	for _, codec := range allCodecs {
		t.Run(codec.String(), func(t *testing.T) {
			comp, err := NewCompressor(codec, 2)
			require.NoError(t, err)
			defer comp.Close()

			compressed, err := comp.CompressValues(values)
			require.NoError(t, err)

			decompressed, err := comp.DecompressValues(compressed, len(values))
			require.NoError(t, err)
			require.Len(t, decompressed, len(values))

			for i := range values {
				assert.Equal(t, math.Float64bits(values[i]), math.Float64bits(decompressed[i]), "index %d", i)
			}
		})
	}
}

func TestCompressStrings(t *testing.T) {
	values := []string{"RUNNING", "", "STOPPED", "fault: pump 3 überhitzt", "RUNNING"}

	for _, codec := range allCodecs {
		t.Run(codec.String(), func(t *testing.T) {
			comp, err := NewCompressor(codec, 3)
			require.NoError(t, err)
			defer comp.Close()

			compressed, err := comp.CompressStrings(values)
			require.NoError(t, err)

			decompressed, err := comp.DecompressStrings(compressed, len(values))
			require.NoError(t, err)
			assert.Equal(t, values, decompressed)

			_, err = comp.DecompressStrings(compressed, len(values)+1)
			assert.Error(t, err)
		})
	}
}

func TestDecompressAcrossCodecs(t *testing.T) {
	writer, err := NewCompressor(CodecLZ4, 0)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewCompressor(CodecZstd, 0)
	require.NoError(t, err)
	defer reader.Close()

	timestamps := []int64{0, 1000, 2000, 3000, 4000, 5000, 6000, 7000}
	compressed, err := writer.CompressTimestamps(timestamps)
	require.NoError(t, err)

	decompressed, err := reader.DecompressTimestamps(compressed, len(timestamps))
	require.NoError(t, err)
	assert.Equal(t, timestamps, decompressed)

	_, err = reader.DecompressValues([]byte{0x7f, 1, 2}, 1)
	assert.Error(t, err)
	_, err = reader.DecompressValues(nil, 1)
	assert.Error(t, err)
}

func TestCompressionLevels(t *testing.T) {
	testCases := []struct {
		level       int
		description string
	}{
		{1, "fastest"},
		{2, "default"},
		{3, "better"},
		{4, "best"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			comp, err := NewCompressor(CodecZstd, tc.level)
			require.NoError(t, err)
			defer comp.Close()

			values := []float64{1.0, 2.0, 3.0, 4.0, 5.0}
			compressed, err := comp.CompressValues(values)
			require.NoError(t, err)

			decompressed, err := comp.DecompressValues(compressed, len(values))
			require.NoError(t, err)
			assert.Equal(t, values, decompressed)
		})
	}
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"": CodecZstd, "ZSTD": CodecZstd, "s2": CodecS2, "lz4": CodecLZ4, "none": CodecNone} {
		got, err := ParseCodec(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseCodec("gzip")
	assert.Error(t, err)
}

func BenchmarkCompressTimestamps(b *testing.B) {
	comp, _ := NewCompressor(CodecZstd, 2)
	defer comp.Close()

	timestamps := make([]int64, 1000)
	for i := 0; i < 1000; i++ {
		timestamps[i] = 1700000000000 + int64(i*60000)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = comp.CompressTimestamps(timestamps)
	}
}

func BenchmarkCompressValues(b *testing.B) {
	for _, codec := range []Codec{CodecZstd, CodecS2, CodecLZ4} {
		b.Run(codec.String(), func(b *testing.B) {
			comp, _ := NewCompressor(codec, 2)
			defer comp.Close()

			values := make([]float64, 1000)
			for i := 0; i < 1000; i++ {
				values[i] = 100.0 + math.Sin(float64(i)*0.1)*10
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = comp.CompressValues(values)
			}
		})
	}
}
