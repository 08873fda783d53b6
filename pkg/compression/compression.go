// Package compression wraps table files in streaming compressors.
//
// # Overview
//
// Table files may be stored compressed. The algorithm is taken from the file
// extension unless it is forced by configuration:
//
//	.gz   gzip
//	.zst  zstd
//	.s2   s2
//	.sz   snappy (framed)
//	.lz4  lz4 (frame format)
//
// # Basic Usage
//
//	alg, _ := compression.FromPath("energies.csv.zst")
//	w, err := compression.NewWriter(f, alg, compression.Default)
//	...
//	r, err := compression.NewReader(f, alg)
//
// Speed (fastest to slowest): LZ4 > Snappy/S2 > Zstd > Gzip.
// Compression ratio (best to worst): Zstd > Gzip > Snappy/S2 > LZ4.
package compression

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case Fastest:
		return "fastest"
	case Default:
		return "default"
	case Better:
		return "better"
	case Best:
		return "best"
	default:
		return "unknown"
	}
}

// ParseLevel accepts a level name. The empty string means Default.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, nil
	case "fastest":
		return Fastest, nil
	case "better":
		return Better, nil
	case "best":
		return Best, nil
	}
	return Default, fmt.Errorf("unsupported compression level: %s", s)
}

var extensions = map[string]Algorithm{
	".gz":  Gzip,
	".zst": Zstd,
	".s2":  S2,
	".sz":  Snappy,
	".lz4": LZ4,
}

// ParseAlgorithm accepts an algorithm name or file extension. The empty
// string means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if alg, ok := extensions[name]; ok {
		return alg, nil
	}
	switch alg := Algorithm(name); alg {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2:
		return alg, nil
	case "gz":
		return Gzip, nil
	case "zst":
		return Zstd, nil
	}
	return None, fmt.Errorf("unsupported compression algorithm: %s", s)
}

// FromPath detects the algorithm from the last extension of path and
// returns the path with that extension removed. Paths without a known
// extension yield None and the path unchanged.
func FromPath(path string) (Algorithm, string) {
	ext := strings.ToLower(filepath.Ext(path))
	if alg, ok := extensions[ext]; ok {
		return alg, path[:len(path)-len(ext)]
	}
	return None, path
}

// Extension returns the file extension of an algorithm, or "" for None.
func Extension(alg Algorithm) string {
	for ext, a := range extensions {
		if a == alg {
			return ext
		}
	}
	return ""
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewWriter wraps w in a compressor. Closing the returned writer flushes
// the compressed stream but does not close w.
func NewWriter(w io.Writer, alg Algorithm, level Level) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, mapGzipLevel(level))
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case S2:
		return s2.NewWriter(w, mapS2Level(level)...), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		return lw, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// zstdReadCloser adapts the decoder, whose Close returns nothing.
type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// NewReader wraps r in a decompressor. Closing the returned reader
// releases decoder resources but does not close r.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{dec}, nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapS2Level(level Level) []s2.WriterOption {
	switch level {
	case Better:
		return []s2.WriterOption{s2.WriterBetterCompression()}
	case Best:
		return []s2.WriterOption{s2.WriterBestCompression()}
	default:
		return nil
	}
}
