package backup

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorRoundTrip(t *testing.T) {
	c := NewCompressor()
	data := bytes.Repeat([]byte(sampleBackup), 20)

	for _, algorithm := range []CompressionType{CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd} {
		t.Run(string(algorithm), func(t *testing.T) {
			compressed, stats, err := c.Compress(data, algorithm, 0)
			require.NoError(t, err)
			assert.Equal(t, algorithm, stats.Algorithm)
			assert.Equal(t, int64(len(data)), stats.OriginalSize)
			assert.Equal(t, int64(len(compressed)), stats.CompressedSize)

			if algorithm != CompressionTypeNone {
				assert.Less(t, len(compressed), len(data))
				assert.Less(t, stats.CompressionRatio, 1.0)
			}

			restored, err := c.Decompress(compressed, algorithm)
			require.NoError(t, err)
			assert.Equal(t, data, restored)
		})
	}
}

func TestCompressorLevels(t *testing.T) {
	c := NewCompressor()
	data := bytes.Repeat([]byte("marketplace "), 500)

	_, stats, err := c.Compress(data, CompressionTypeGzip, 99)
	require.NoError(t, err)
	assert.NotEqual(t, 99, stats.Level)

	compressed, stats, err := c.Compress(data, CompressionTypeLZ4, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, stats.Level)
	restored, err := c.Decompress(compressed, CompressionTypeLZ4)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestCompressorErrors(t *testing.T) {
	c := NewCompressor()

	_, _, err := c.Compress([]byte("x"), CompressionType("BROTLI"), 0)
	require.Error(t, err)

	_, err = c.Decompress([]byte("definitely not gzip"), CompressionTypeGzip)
	require.Error(t, err)

	var backupErr *BackupError
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, BackupErrorTypeCompression, backupErr.Type)
}

func TestParseCompressionType(t *testing.T) {
	tests := map[string]CompressionType{
		"":     CompressionTypeNone,
		"none": CompressionTypeNone,
		"gzip": CompressionTypeGzip,
		"Lz4":  CompressionTypeLZ4,
		"ZSTD": CompressionTypeZstd,
	}
	for name, want := range tests {
		got, err := ParseCompressionType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseCompressionType("rar")
	assert.Error(t, err)
}

func TestCalculateCompressionRatio(t *testing.T) {
	assert.Equal(t, 1.0, CalculateCompressionRatio(0, 0))
	assert.Equal(t, 0.25, CalculateCompressionRatio(400, 100))
}
