// Package formats reads and writes lambda-indexed tables in row and
// columnar file formats.
//
// Every format stores the table as flat float64 columns: the key columns
// (time first, then one column per lambda dimension) followed by the
// observable columns. Formats with a metadata section (Arrow, Parquet,
// Avro) also record the key names, column labels, form and attributes so
// a table survives a round trip unchanged. For formats without metadata
// the key columns are detected by name, see DetectKeys.
package formats

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/alchemsub/pkg/compression"
	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// Format represents a table file format
type Format string

const (
	// CSV is comma separated text with a header row
	CSV Format = "csv"
	// JSON is a split-oriented JSON document
	JSON Format = "json"
	// Arrow is the Apache Arrow IPC file format
	Arrow Format = "arrow"
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
	// Avro is an Apache Avro object container file
	Avro Format = "avro"
)

// ReadOptions configures decoding.
type ReadOptions struct {
	// KeyColumns names the key columns explicitly, time first. It
	// overrides both stored metadata and name-based detection.
	KeyColumns []string
	// Form overrides the stored or inferred form.
	Form table.Form
}

// WriteOptions configures encoding.
type WriteOptions struct {
	// Compression is the format-internal codec: parquet page compression
	// (snappy, zstd, gzip, lz4, none), Arrow IPC body compression (zstd,
	// lz4) or the Avro block codec (deflate, snappy, null).
	Compression string
	// BatchSize is the number of rows per Arrow record batch.
	BatchSize int
}

// DefaultWriteOptions returns default writer configuration
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{BatchSize: 10000}
}

func (o WriteOptions) batchSize() int {
	if o.BatchSize <= 0 {
		return 10000
	}
	return o.BatchSize
}

// Codec encodes and decodes one format.
type Codec interface {
	// Format returns the format handled by the codec
	Format() Format
	// Decode reads a whole table from r
	Decode(r io.Reader, opts ReadOptions) (*table.Table, error)
	// Encode writes the whole table to w
	Encode(w io.Writer, t *table.Table, opts WriteOptions) error
}

var (
	registryMu sync.RWMutex
	registry   = map[Format]Codec{}
)

// Register adds a codec, replacing any codec for the same format.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Format()] = c
}

// Lookup returns the codec for a format.
func Lookup(f Format) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[f]
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, "unsupported table format").WithDetail("format", string(f))
	}
	return c, nil
}

// Formats lists the registered formats in name order.
func Formats() []Format {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Format, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	Register(csvCodec{})
	Register(jsonCodec{})
	Register(arrowCodec{})
	Register(parquetCodec{})
	Register(avroCodec{})
}

// ParseFormat accepts a format name or extension.
func ParseFormat(s string) (Format, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	switch name {
	case "csv", "txt":
		return CSV, nil
	case "json":
		return JSON, nil
	case "arrow", "ipc", "feather":
		return Arrow, nil
	case "parquet", "pq":
		return Parquet, nil
	case "avro":
		return Avro, nil
	}
	return "", errors.New(errors.ErrorTypeConfig, "unsupported table format").WithDetail("format", s)
}

// FromPath detects the table format and compression of a file name such
// as "u_nk.csv.gz".
func FromPath(path string) (Format, compression.Algorithm, error) {
	alg, base := compression.FromPath(path)
	ext := filepath.Ext(base)
	if ext == "" {
		return "", alg, errors.New(errors.ErrorTypeConfig, "cannot detect table format").WithDetail("path", path)
	}
	f, err := ParseFormat(ext)
	return f, alg, err
}

// FormatInfo provides information about table formats
type FormatInfo struct {
	Format         Format
	Name           string
	FileExtension  string
	MIMEType       string
	StoresMetadata bool
}

// GetFormatInfo returns information about a format
func GetFormatInfo(format Format) *FormatInfo {
	switch format {
	case CSV:
		return &FormatInfo{Format: CSV, Name: "Comma separated values", FileExtension: ".csv", MIMEType: "text/csv"}
	case JSON:
		return &FormatInfo{Format: JSON, Name: "JSON (split orientation)", FileExtension: ".json", MIMEType: "application/json", StoresMetadata: true}
	case Arrow:
		return &FormatInfo{Format: Arrow, Name: "Apache Arrow IPC", FileExtension: ".arrow", MIMEType: "application/x-arrow", StoresMetadata: true}
	case Parquet:
		return &FormatInfo{Format: Parquet, Name: "Apache Parquet", FileExtension: ".parquet", MIMEType: "application/x-parquet", StoresMetadata: true}
	case Avro:
		return &FormatInfo{Format: Avro, Name: "Apache Avro", FileExtension: ".avro", MIMEType: "application/x-avro", StoresMetadata: true}
	default:
		return nil
	}
}

// IsLambdaName reports whether a column name denotes a lambda key.
func IsLambdaName(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return n == "lambda" || strings.HasSuffix(n, "-lambda") || strings.HasSuffix(n, "_lambda")
}

// DetectKeys splits column names into key names and observable labels.
// With an override the named columns are the keys, in the given order.
// Otherwise the first column is time and any later column whose name is
// "lambda" or ends in "-lambda" or "_lambda" is a lambda key.
func DetectKeys(names []string, override []string) (keys []string, columns []string, err error) {
	if len(names) == 0 {
		return nil, nil, errors.New(errors.ErrorTypeData, "table has no columns")
	}
	if len(override) > 0 {
		isKey := make(map[string]bool, len(override))
		present := make(map[string]bool, len(names))
		for _, n := range names {
			present[n] = true
		}
		for _, k := range override {
			if !present[k] {
				return nil, nil, errors.New(errors.ErrorTypeConfig, "key column not found").WithDetail("column", k)
			}
			isKey[k] = true
		}
		for _, n := range names {
			if !isKey[n] {
				columns = append(columns, n)
			}
		}
		return append([]string(nil), override...), columns, nil
	}

	keys = []string{names[0]}
	for _, n := range names[1:] {
		if IsLambdaName(n) {
			keys = append(keys, n)
		} else {
			columns = append(columns, n)
		}
	}
	return keys, columns, nil
}

// metadataKey is the schema metadata key holding the encoded tableMeta.
const metadataKey = "alchemsub.table"

// tableMeta is the layout stored next to columnar data.
type tableMeta struct {
	Keys    []string          `json:"keys"`
	Columns []string          `json:"columns"`
	Form    string            `json:"form,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

func metaOf(t *table.Table) tableMeta {
	return tableMeta{Keys: t.KeyNames, Columns: t.ColumnNames(), Form: string(t.Form), Attrs: t.Attrs}
}

func (m tableMeta) encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to encode table metadata")
	}
	return string(b), nil
}

func decodeMeta(s string) (*tableMeta, error) {
	var m tableMeta
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode table metadata")
	}
	return &m, nil
}

// frame is a table flattened to named float64 columns, keys first.
type frame struct {
	names []string
	cols  [][]float64
}

func (f *frame) rows() int {
	if len(f.cols) == 0 {
		return 0
	}
	return len(f.cols[0])
}

// flatten lays t out as keys followed by observable columns.
func flatten(t *table.Table) (*frame, error) {
	names := append(append([]string(nil), t.KeyNames...), t.ColumnNames()...)
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return nil, errors.New(errors.ErrorTypeData, "duplicate column name").WithDetail("column", n)
		}
		seen[n] = true
	}

	nk := len(t.KeyNames)
	f := &frame{names: names, cols: make([][]float64, len(names))}
	for i := range f.cols {
		f.cols[i] = make([]float64, t.Len())
	}
	for r, row := range t.Rows {
		f.cols[0][r] = row.Time
		for d := 1; d < nk; d++ {
			f.cols[d][r] = row.State[d-1]
		}
		for c, v := range row.Values {
			f.cols[nk+c][r] = v
		}
	}
	return f, nil
}

// build turns a frame into a table. Stored metadata names the keys and
// labels unless opts overrides the keys. Positions in the frame follow the
// stored layout, so sanitized field names are replaced by the labels.
func build(f *frame, meta *tableMeta, opts ReadOptions) (*table.Table, error) {
	names := f.names
	var keys, columns []string
	var err error
	switch {
	case len(opts.KeyColumns) == 0 && meta != nil && len(meta.Keys)+len(meta.Columns) == len(names):
		names = append(append([]string(nil), meta.Keys...), meta.Columns...)
		keys, columns = meta.Keys, meta.Columns
	default:
		keys, columns, err = DetectKeys(names, opts.KeyColumns)
		if err != nil {
			return nil, err
		}
	}

	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	keyIdx := make([]int, len(keys))
	for i, k := range keys {
		keyIdx[i] = pos[k]
	}
	colIdx := make([]int, len(columns))
	for i, c := range columns {
		colIdx[i] = pos[c]
	}

	t := table.New(keys, columns)
	n := f.rows()
	t.Rows = make([]table.Row, 0, n)
	for r := 0; r < n; r++ {
		tm := f.cols[keyIdx[0]][r]
		if math.IsNaN(tm) {
			return nil, errors.New(errors.ErrorTypeData, "missing time value").WithDetail("row", r)
		}
		state := make(table.State, len(keys)-1)
		for d := 1; d < len(keys); d++ {
			state[d-1] = f.cols[keyIdx[d]][r]
		}
		vals := make([]float64, len(columns))
		for c, idx := range colIdx {
			vals[c] = f.cols[idx][r]
		}
		t.Rows = append(t.Rows, table.Row{Time: tm, State: state, Values: vals})
	}

	if meta != nil {
		if form, ok := table.ParseForm(meta.Form); ok {
			t.Form = form
		}
		for k, v := range meta.Attrs {
			t.Attrs[k] = v
		}
	}
	if opts.Form != table.FormUnknown {
		t.Form = opts.Form
	}
	return t, nil
}

func dataError(err error, f Format, message string) error {
	return errors.Wrap(err, errors.ErrorTypeData, message).WithDetail("format", string(f))
}

func unsupportedCompression(f Format, name string) error {
	return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported %s compression", f)).WithDetail("compression", name)
}
