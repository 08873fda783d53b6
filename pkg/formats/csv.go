package formats

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// csvCodec reads and writes a header row of key names and column labels
// followed by one line per row. Missing values are empty cells.
type csvCodec struct{}

func (csvCodec) Format() Format { return CSV }

func (csvCodec) Decode(r io.Reader, opts ReadOptions) (*table.Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New(errors.ErrorTypeData, "empty csv input")
	}
	if err != nil {
		return nil, dataError(err, CSV, "failed to read csv header")
	}
	f := &frame{names: make([]string, len(header)), cols: make([][]float64, len(header))}
	for i, h := range header {
		f.names[i] = strings.TrimSpace(h)
	}

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dataError(err, CSV, "failed to read csv record")
		}
		line++
		for i, cell := range rec {
			v, err := parseCell(cell)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid csv value").
					WithDetail("line", line).
					WithDetail("column", f.names[i])
			}
			f.cols[i] = append(f.cols[i], v)
		}
	}
	return build(f, nil, opts)
}

func (csvCodec) Encode(w io.Writer, t *table.Table, _ WriteOptions) error {
	f, err := flatten(t)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(f.names); err != nil {
		return dataError(err, CSV, "failed to write csv header")
	}
	rec := make([]string, len(f.names))
	for r := 0; r < f.rows(); r++ {
		for c := range f.cols {
			rec[c] = formatCell(f.cols[c][r])
		}
		if err := cw.Write(rec); err != nil {
			return dataError(err, CSV, "failed to write csv record")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return dataError(err, CSV, "failed to flush csv")
	}
	return nil
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "na":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
