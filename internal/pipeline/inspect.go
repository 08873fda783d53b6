package pipeline

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ajitpratap0/alchemsub/pkg/config"
	"github.com/ajitpratap0/alchemsub/pkg/formats"
	"github.com/ajitpratap0/alchemsub/pkg/observability"
	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// GroupSummary describes one lambda-state group of a table.
type GroupSummary struct {
	State     string  `json:"state"`
	Rows      int     `json:"rows"`
	FirstTime float64 `json:"first_time"`
	LastTime  float64 `json:"last_time"`
	// DuplicateTimes counts rows repeating an earlier time of the group
	DuplicateTimes int `json:"duplicate_times"`
}

// Summary describes a table without subsampling it.
type Summary struct {
	Format  formats.Format    `json:"format"`
	Form    table.Form        `json:"form"`
	Rows    int               `json:"rows"`
	Keys    []string          `json:"keys"`
	Columns []string          `json:"columns"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Groups  []GroupSummary    `json:"groups"`
}

// Inspect reads the input described by in and summarises it. A "-" path
// reads from stdin, or from r when it is not nil.
func Inspect(ctx context.Context, in config.InputConfig, r io.Reader, logger *zap.Logger) (*Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fo, err := inputFileOptions(in)
	if err != nil {
		return nil, err
	}

	var t *table.Table
	err = observability.Trace(ctx, "inspect", func(context.Context) error {
		var err error
		if in.Path == config.StdStream {
			if r == nil {
				r = os.Stdin
			}
			t, err = formats.Read(r, fo.Format, fo.Compression, readOptions(in))
		} else {
			t, err = formats.ReadFile(in.Path, fo, readOptions(in))
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Format:  fo.Format,
		Form:    table.InferForm(t),
		Rows:    t.Len(),
		Keys:    t.KeyNames,
		Columns: t.ColumnNames(),
		Attrs:   t.Attrs,
	}
	for _, g := range t.GroupByState() {
		times := g.Table.Times()
		gs := GroupSummary{State: g.State.String(), Rows: g.Len()}
		if len(times) > 0 {
			gs.FirstTime, gs.LastTime = times[0], times[len(times)-1]
		}
		for i := 1; i < len(times); i++ {
			// times are sorted within a group
			if times[i] == times[i-1] {
				gs.DuplicateTimes++
			}
		}
		s.Groups = append(s.Groups, gs)
	}
	logger.Debug("table inspected", zap.String("path", in.Path), zap.Int("groups", len(s.Groups)))
	return s, nil
}
