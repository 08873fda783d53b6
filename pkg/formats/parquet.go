package formats

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// parquetCodec stores the same schema as arrowCodec through pqarrow. The
// Arrow schema, metadata included, is embedded in the file.
type parquetCodec struct{}

func (parquetCodec) Format() Format { return Parquet }

func (parquetCodec) Decode(r io.Reader, opts ReadOptions) (*table.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, dataError(err, Parquet, "failed to read Parquet data")
	}

	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, dataError(err, Parquet, "failed to read Parquet table")
	}
	defer tbl.Release()

	schema := tbl.Schema()
	f := &frame{names: fieldNames(schema), cols: make([][]float64, tbl.NumCols())}
	for c := 0; c < int(tbl.NumCols()); c++ {
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			if f.cols[c], err = appendColumn(f.cols[c], chunk); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "unsupported Parquet column").
					WithDetail("column", f.names[c])
			}
		}
	}

	meta, err := schemaMeta(schema)
	if err != nil {
		return nil, err
	}
	return build(f, meta, opts)
}

func (parquetCodec) Encode(w io.Writer, t *table.Table, opts WriteOptions) error {
	codec, err := parquetCompression(opts.Compression)
	if err != nil {
		return err
	}
	f, err := flatten(t)
	if err != nil {
		return err
	}
	schema, err := arrowSchema(f, t)
	if err != nil {
		return err
	}

	pool := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(false),
		parquet.WithAllocator(pool),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(pool),
		pqarrow.WithStoreSchema(),
	)

	// Closing the parquet writer closes its sink, which belongs to the caller.
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, props, arrowProps)
	if err != nil {
		return dataError(err, Parquet, "failed to create Parquet writer")
	}

	rb := array.NewRecordBuilder(pool, schema)
	defer rb.Release()

	batch := opts.batchSize()
	for start := 0; start < f.rows(); start += batch {
		end := min(start+batch, f.rows())
		rec := buildRecord(rb, f, start, end)
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			return dataError(err, Parquet, "failed to write row group")
		}
	}

	if err := fw.Close(); err != nil {
		return dataError(err, Parquet, "failed to close Parquet writer")
	}
	return nil
}

func parquetCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	}
	return compress.Codecs.Uncompressed, unsupportedCompression(Parquet, name)
}
