package backup

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionStats describes one compression pass
type CompressionStats struct {
	OriginalSize     int64           `json:"original_size"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Level            int             `json:"level"`
	Duration         time.Duration   `json:"duration"`
}

// ParseCompressionType accepts algorithm names in any case. An empty name means none.
func ParseCompressionType(name string) (CompressionType, error) {
	switch t := CompressionType(strings.ToUpper(strings.TrimSpace(name))); t {
	case "", CompressionTypeNone:
		return CompressionTypeNone, nil
	case CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return t, nil
	default:
		return "", NewConfigurationError(fmt.Sprintf("unsupported compression algorithm: %s", name), nil)
	}
}

// codec compresses archive payloads with one algorithm
type codec interface {
	compress(data []byte, level int) ([]byte, error)
	decompress(data []byte) ([]byte, error)
	levels() (min, def, max int)
}

// Compressor compresses and decompresses archive payloads
type Compressor struct {
	codecs map[CompressionType]codec
}

// NewCompressor registers the gzip, lz4 and zstd codecs
func NewCompressor() *Compressor {
	return &Compressor{
		codecs: map[CompressionType]codec{
			CompressionTypeGzip: gzipCodec{},
			CompressionTypeLZ4:  lz4Codec{},
			CompressionTypeZstd: zstdCodec{},
		},
	}
}

// Compress compresses data. Out-of-range levels fall back to the codec default.
func (c *Compressor) Compress(data []byte, algorithm CompressionType, level int) ([]byte, *CompressionStats, error) {
	stats := &CompressionStats{OriginalSize: int64(len(data)), Algorithm: algorithm, Level: level}
	if algorithm == CompressionTypeNone || algorithm == "" {
		stats.Algorithm = CompressionTypeNone
		stats.CompressedSize = stats.OriginalSize
		stats.CompressionRatio = 1.0
		return data, stats, nil
	}

	cd, ok := c.codecs[algorithm]
	if !ok {
		return nil, nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	if lo, def, hi := cd.levels(); level < lo || level > hi {
		level = def
		stats.Level = def
	}

	start := time.Now()
	out, err := cd.compress(data, level)
	if err != nil {
		return nil, nil, NewCompressionError(fmt.Sprintf("%s compression failed", algorithm), err)
	}
	stats.Duration = time.Since(start)
	stats.CompressedSize = int64(len(out))
	stats.CompressionRatio = CalculateCompressionRatio(stats.OriginalSize, stats.CompressedSize)
	return out, stats, nil
}

// Decompress reverses Compress
func (c *Compressor) Decompress(data []byte, algorithm CompressionType) ([]byte, error) {
	if algorithm == CompressionTypeNone || algorithm == "" {
		return data, nil
	}
	cd, ok := c.codecs[algorithm]
	if !ok {
		return nil, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	out, err := cd.decompress(data)
	if err != nil {
		return nil, NewCompressionError(fmt.Sprintf("%s decompression failed", algorithm), err)
	}
	return out, nil
}

// CalculateCompressionRatio returns compressed/original, 1.0 for empty input
func CalculateCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(compressedSize) / float64(originalSize)
}

type gzipCodec struct{}

func (gzipCodec) levels() (int, int, int) {
	return gzip.BestSpeed, gzip.DefaultCompression, gzip.BestCompression
}

func (gzipCodec) compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

type lz4Codec struct{}

func (lz4Codec) levels() (int, int, int) { return 1, 1, 12 }

func (lz4Codec) compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	// levels above 6 switch to the high compression mode
	if level > 6 {
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

type zstdCodec struct{}

func (zstdCodec) levels() (int, int, int) { return 1, 3, 22 }

func (zstdCodec) compress(data []byte, level int) ([]byte, error) {
	speed := zstd.SpeedBestCompression
	switch {
	case level <= 1:
		speed = zstd.SpeedFastest
	case level <= 3:
		speed = zstd.SpeedDefault
	case level <= 6:
		speed = zstd.SpeedBetterCompression
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (zstdCodec) decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
