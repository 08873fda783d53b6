package formats

import (
	"fmt"
	"io"
	"math"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// avroCodec writes an object container file of flat records. Avro field
// names are restricted, so labels such as "0.5" are sanitized and the real
// layout is kept in the file metadata.
type avroCodec struct{}

func (avroCodec) Format() Format { return Avro }

const avroRecordName = "LambdaRow"

func (avroCodec) Decode(r io.Reader, opts ReadOptions) (*table.Table, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, dataError(err, Avro, "failed to create Avro reader")
	}

	names, err := avroFieldNames(ocf.Codec().Schema())
	if err != nil {
		return nil, err
	}
	f := &frame{names: names, cols: make([][]float64, len(names))}
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, dataError(err, Avro, "failed to read Avro record")
		}
		rec, ok := datum.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "avro datum is %T, want record", datum)
		}
		for c, n := range names {
			v, err := avroFloat(rec[n])
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid Avro value").WithDetail("field", n)
			}
			f.cols[c] = append(f.cols[c], v)
		}
	}
	if err := ocf.Err(); err != nil {
		return nil, dataError(err, Avro, "failed to scan Avro records")
	}

	var meta *tableMeta
	if raw, ok := ocf.MetaData()[metadataKey]; ok {
		if meta, err = decodeMeta(string(raw)); err != nil {
			return nil, err
		}
	}
	return build(f, meta, opts)
}

func (avroCodec) Encode(w io.Writer, t *table.Table, opts WriteOptions) error {
	compressionName, err := avroCompression(opts.Compression)
	if err != nil {
		return err
	}
	f, err := flatten(t)
	if err != nil {
		return err
	}
	fieldNames := sanitizeNames(f.names)
	schema, err := avroSchema(fieldNames)
	if err != nil {
		return err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return dataError(err, Avro, "failed to create Avro codec")
	}
	encoded, err := metaOf(t).encode()
	if err != nil {
		return err
	}

	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: compressionName,
		MetaData:        map[string][]byte{metadataKey: []byte(encoded)},
	})
	if err != nil {
		return dataError(err, Avro, "failed to create Avro writer")
	}

	batch := opts.batchSize()
	buf := make([]interface{}, 0, min(batch, f.rows()))
	for r := 0; r < f.rows(); r++ {
		rec := make(map[string]interface{}, len(fieldNames))
		for c, n := range fieldNames {
			rec[n] = f.cols[c][r]
		}
		buf = append(buf, rec)
		if len(buf) == batch {
			if err := ocf.Append(buf); err != nil {
				return dataError(err, Avro, "failed to write Avro block")
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		if err := ocf.Append(buf); err != nil {
			return dataError(err, Avro, "failed to write Avro block")
		}
	}
	return nil
}

type avroField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type avroRecord struct {
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	Fields []avroField `json:"fields"`
}

func avroSchema(names []string) (string, error) {
	rec := avroRecord{Type: "record", Name: avroRecordName, Fields: make([]avroField, len(names))}
	for i, n := range names {
		rec.Fields[i] = avroField{Name: n, Type: "double"}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to build Avro schema")
	}
	return string(b), nil
}

func avroFieldNames(schema string) ([]string, error) {
	var rec avroRecord
	if err := json.Unmarshal([]byte(schema), &rec); err != nil {
		return nil, dataError(err, Avro, "failed to parse Avro schema")
	}
	if rec.Type != "record" {
		return nil, errors.New(errors.ErrorTypeData, "avro schema is not a record").WithDetail("type", rec.Type)
	}
	names := make([]string, len(rec.Fields))
	for i, fd := range rec.Fields {
		names[i] = fd.Name
	}
	return names, nil
}

// sanitizeNames maps labels onto valid, unique Avro names: characters
// outside [A-Za-z0-9_] become '_' and a leading digit gets a '_' prefix.
func sanitizeNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, n := range names {
		var sb strings.Builder
		for j, r := range n {
			switch {
			case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
				sb.WriteRune(r)
			case r >= '0' && r <= '9':
				if j == 0 {
					sb.WriteByte('_')
				}
				sb.WriteRune(r)
			default:
				sb.WriteByte('_')
			}
		}
		s := sb.String()
		if s == "" {
			s = "_"
		}
		base := s
		for k := 1; used[s]; k++ {
			s = fmt.Sprintf("%s_%d", base, k)
		}
		used[s] = true
		out[i] = s
	}
	return out
}

func avroFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case nil:
		return math.NaN(), nil
	case map[string]interface{}:
		// union encoding of a nullable field
		for _, inner := range x {
			return avroFloat(inner)
		}
		return math.NaN(), nil
	}
	return 0, errors.Newf(errors.ErrorTypeData, "value of type %T is not numeric", v)
}

func avroCompression(name string) (string, error) {
	switch strings.ToLower(name) {
	case "", "null", "none":
		return goavro.CompressionNullLabel, nil
	case "deflate":
		return goavro.CompressionDeflateLabel, nil
	case "snappy":
		return goavro.CompressionSnappyLabel, nil
	}
	return "", unsupportedCompression(Avro, name)
}
