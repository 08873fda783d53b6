package formats

import (
	"io"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// splitDocument is the split orientation: index rows hold the key values,
// data rows the observables. NaN is stored as null and infinities as the
// strings "inf" and "-inf".
type splitDocument struct {
	Form       string            `json:"form,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	IndexNames []string          `json:"index_names"`
	Index      [][]float64       `json:"index"`
	Columns    []string          `json:"columns"`
	Data       [][]cell          `json:"data"`
}

// cell is one observable value of a data row.
type cell float64

func (c cell) MarshalJSON() ([]byte, error) {
	v := float64(c)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (c *cell) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*c = cell(math.NaN())
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		switch strings.ToLower(s[1 : len(s)-1]) {
		case "inf", "+inf", "infinity":
			*c = cell(math.Inf(1))
		case "-inf", "-infinity":
			*c = cell(math.Inf(-1))
		case "nan", "":
			*c = cell(math.NaN())
		default:
			return errors.Newf(errors.ErrorTypeData, "json cell %s is not a number", s)
		}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "json cell is not a number")
	}
	*c = cell(v)
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Format() Format { return JSON }

func (jsonCodec) Decode(r io.Reader, opts ReadOptions) (*table.Table, error) {
	var doc splitDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, dataError(err, JSON, "failed to decode json table")
	}
	if len(doc.IndexNames) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "json table has no index names")
	}
	if len(doc.Index) != len(doc.Data) {
		return nil, errors.New(errors.ErrorTypeData, "json index and data differ in length").
			WithDetail("index", len(doc.Index)).
			WithDetail("data", len(doc.Data))
	}

	nk := len(doc.IndexNames)
	f := &frame{
		names: append(append([]string(nil), doc.IndexNames...), doc.Columns...),
		cols:  make([][]float64, nk+len(doc.Columns)),
	}
	for r := range doc.Index {
		if len(doc.Index[r]) != nk || len(doc.Data[r]) != len(doc.Columns) {
			return nil, errors.New(errors.ErrorTypeData, "json row has the wrong width").WithDetail("row", r)
		}
		for k, v := range doc.Index[r] {
			f.cols[k] = append(f.cols[k], v)
		}
		for c, v := range doc.Data[r] {
			f.cols[nk+c] = append(f.cols[nk+c], float64(v))
		}
	}

	meta := &tableMeta{Keys: doc.IndexNames, Columns: doc.Columns, Form: doc.Form, Attrs: doc.Attrs}
	return build(f, meta, opts)
}

func (jsonCodec) Encode(w io.Writer, t *table.Table, _ WriteOptions) error {
	doc := splitDocument{
		Form:       string(t.Form),
		Attrs:      t.Attrs,
		IndexNames: t.KeyNames,
		Index:      make([][]float64, t.Len()),
		Columns:    t.ColumnNames(),
		Data:       make([][]cell, t.Len()),
	}
	for r, row := range t.Rows {
		idx := make([]float64, 0, 1+len(row.State))
		idx = append(idx, row.Time)
		idx = append(idx, row.State...)
		doc.Index[r] = idx

		data := make([]cell, len(row.Values))
		for c, v := range row.Values {
			data[c] = cell(v)
		}
		doc.Data[r] = data
	}
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		return dataError(err, JSON, "failed to encode json table")
	}
	return nil
}
