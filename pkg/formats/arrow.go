package formats

import (
	"bytes"
	"io"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// arrowCodec reads and writes Arrow IPC files with one float64 field per
// frame column and the table layout in the schema metadata.
type arrowCodec struct{}

func (arrowCodec) Format() Format { return Arrow }

func (arrowCodec) Decode(r io.Reader, opts ReadOptions) (*table.Table, error) {
	// The IPC file footer sits at the end, so the reader needs random access.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, dataError(err, Arrow, "failed to read Arrow data")
	}
	fr, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, dataError(err, Arrow, "failed to create Arrow reader")
	}
	defer fr.Close()

	schema := fr.Schema()
	f := &frame{names: fieldNames(schema), cols: make([][]float64, schema.NumFields())}
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			return nil, dataError(err, Arrow, "failed to read record batch")
		}
		for c := 0; c < int(rec.NumCols()); c++ {
			if f.cols[c], err = appendColumn(f.cols[c], rec.Column(c)); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "unsupported Arrow column").
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

func (arrowCodec) Encode(w io.Writer, t *table.Table, opts WriteOptions) error {
	f, err := flatten(t)
	if err != nil {
		return err
	}
	schema, err := arrowSchema(f, t)
	if err != nil {
		return err
	}

	pool := memory.NewGoAllocator()
	ipcOpts := []ipc.Option{ipc.WithSchema(schema), ipc.WithAllocator(pool)}
	switch strings.ToLower(opts.Compression) {
	case "", "none":
	case "zstd":
		ipcOpts = append(ipcOpts, ipc.WithZstd())
	case "lz4":
		ipcOpts = append(ipcOpts, ipc.WithLZ4())
	default:
		return unsupportedCompression(Arrow, opts.Compression)
	}

	fw, err := ipc.NewFileWriter(w, ipcOpts...)
	if err != nil {
		return dataError(err, Arrow, "failed to create Arrow writer")
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
			return dataError(err, Arrow, "failed to write record batch")
		}
	}

	if err := fw.Close(); err != nil {
		return dataError(err, Arrow, "failed to close Arrow writer")
	}
	return nil
}

// arrowSchema describes the frame as non-nullable float64 fields. NaN
// carries missing observables, so nulls are never written.
func arrowSchema(f *frame, t *table.Table) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(f.names))
	for i, n := range f.names {
		fields[i] = arrow.Field{Name: n, Type: arrow.PrimitiveTypes.Float64}
	}
	encoded, err := metaOf(t).encode()
	if err != nil {
		return nil, err
	}
	md := arrow.NewMetadata([]string{metadataKey}, []string{encoded})
	return arrow.NewSchema(fields, &md), nil
}

func buildRecord(rb *array.RecordBuilder, f *frame, start, end int) arrow.Record {
	for c := range f.cols {
		b := rb.Field(c).(*array.Float64Builder)
		b.AppendValues(f.cols[c][start:end], nil)
	}
	return rb.NewRecord()
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, fd := range schema.Fields() {
		names[i] = fd.Name
	}
	return names
}

func schemaMeta(schema *arrow.Schema) (*tableMeta, error) {
	md := schema.Metadata()
	idx := md.FindKey(metadataKey)
	if idx < 0 {
		return nil, nil
	}
	return decodeMeta(md.Values()[idx])
}

// appendColumn converts a numeric Arrow array to float64 with nulls as NaN.
func appendColumn(dst []float64, col arrow.Array) ([]float64, error) {
	n := col.Len()
	for i := 0; i < n; i++ {
		if col.IsNull(i) {
			dst = append(dst, math.NaN())
			continue
		}
		switch c := col.(type) {
		case *array.Float64:
			dst = append(dst, c.Value(i))
		case *array.Float32:
			dst = append(dst, float64(c.Value(i)))
		case *array.Int64:
			dst = append(dst, float64(c.Value(i)))
		case *array.Int32:
			dst = append(dst, float64(c.Value(i)))
		default:
			return nil, errors.Newf(errors.ErrorTypeData, "column type %s is not numeric", col.DataType())
		}
	}
	return dst, nil
}
