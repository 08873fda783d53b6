package formats

import (
	"io"
	"os"

	"github.com/ajitpratap0/alchemsub/pkg/compression"
	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// FileOptions selects the format and compression of a table file. Zero
// values are detected from the path.
type FileOptions struct {
	Format      Format
	Compression compression.Algorithm
	Level       compression.Level
}

func (o FileOptions) resolve(path string) (Format, compression.Algorithm, error) {
	f, alg, err := FromPath(path)
	if o.Compression != "" {
		alg = o.Compression
	}
	if o.Format != "" {
		return o.Format, alg, nil
	}
	return f, alg, err
}

// Read decodes a table from r, decompressing it first.
func Read(r io.Reader, f Format, alg compression.Algorithm, opts ReadOptions) (*table.Table, error) {
	codec, err := Lookup(f)
	if err != nil {
		return nil, err
	}
	zr, err := compression.NewReader(r, alg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open decompressor").
			WithDetail("compression", string(alg))
	}
	defer zr.Close()
	return codec.Decode(zr, opts)
}

// Write encodes t to w, compressing it with alg.
func Write(w io.Writer, t *table.Table, f Format, alg compression.Algorithm, level compression.Level, opts WriteOptions) error {
	codec, err := Lookup(f)
	if err != nil {
		return err
	}
	zw, err := compression.NewWriter(w, alg, level)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to open compressor").
			WithDetail("compression", string(alg))
	}
	if err := codec.Encode(zw, t, opts); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to flush compressor")
	}
	return nil
}

// ReadFile reads a table file.
func ReadFile(path string, fo FileOptions, opts ReadOptions) (*table.Table, error) {
	f, alg, err := fo.resolve(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open table file").WithDetail("path", path)
	}
	defer file.Close()
	return Read(file, f, alg, opts)
}

// WriteFile writes a table file, replacing any existing file.
func WriteFile(path string, t *table.Table, fo FileOptions, opts WriteOptions) error {
	f, alg, err := fo.resolve(path)
	if err != nil {
		return err
	}
	level := fo.Level
	if level == 0 {
		level = compression.Default
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create table file").WithDetail("path", path)
	}
	if err := Write(file, t, f, alg, level, opts); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close table file").WithDetail("path", path)
	}
	return nil
}
