package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/alchemsub/pkg/compression"
	"github.com/ajitpratap0/alchemsub/pkg/config"
	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/formats"
	"github.com/ajitpratap0/alchemsub/pkg/metrics"
	"github.com/ajitpratap0/alchemsub/pkg/subsampling"
	"github.com/ajitpratap0/alchemsub/pkg/table"
	"github.com/ajitpratap0/alchemsub/pkg/testutil"
)

var states = []float64{0, 0.5, 1}

type JobTestSuite struct {
	testutil.IntegrationTestSuite
}

func TestJobSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(JobTestSuite))
}

func (s *JobTestSuite) writeTable(name string, tb *table.Table) string {
	path := s.Path(name)
	s.Require().NoError(formats.WriteFile(path, tb, formats.FileOptions{}, formats.DefaultWriteOptions()))
	return path
}

func (s *JobTestSuite) runJob(cfg *config.Config, opts ...JobOption) (*Report, error) {
	job, err := NewJob(cfg, testutil.TestLogger(s.T()), opts...)
	s.Require().NoError(err)
	return job.Run(s.Context())
}

func (s *JobTestSuite) TestStatisticalInefficiencyParquetToCSV() {
	in := testutil.EnergyMatrixTable(s.T(), states, 300, 0.9, 11)
	cfg := config.Default()
	cfg.Input.Path = s.writeTable("u_nk.parquet", in)
	cfg.Output.Path = s.Path("u_nk_sub.csv.gz")
	cfg.Output.Diagnostics = s.Path("diagnostics.json")
	cfg.Observability.MetricsFile = s.Path("alchemsub.prom")

	report, err := s.runJob(cfg)
	s.Require().NoError(err)
	s.Equal(subsampling.ModeStatisticalInefficiency, report.Mode)
	s.Equal(table.FormEnergyMatrix, report.Form)
	s.Equal(3, report.Groups)
	s.Equal(900, report.RowsIn)
	s.Less(report.RowsOut, report.RowsIn)
	s.Empty(report.Warnings)

	out, err := formats.ReadFile(cfg.Output.Path, formats.FileOptions{}, formats.ReadOptions{})
	s.Require().NoError(err)
	s.Equal(report.RowsOut, out.Len())
	s.Equal(in.ColumnNames(), out.ColumnNames())

	data, err := os.ReadFile(cfg.Output.Diagnostics)
	s.Require().NoError(err)
	var diag []map[string]interface{}
	s.Require().NoError(json.Unmarshal(data, &diag))
	s.Len(diag, 3)
	s.Equal("0.5", diag[1]["label"])
	s.GreaterOrEqual(diag[1]["statistical_inefficiency"].(float64), 1.0)

	prom, err := os.ReadFile(cfg.Observability.MetricsFile)
	s.Require().NoError(err)
	s.Contains(string(prom), `alchemsub_groups_processed_total{mode="statistical_inefficiency",status="ok"} 3`)
}

func (s *JobTestSuite) TestSlicingStdinToStdout() {
	in := testutil.GradientTable(s.T(), states, 20, 0.5, 0, 3)
	var src bytes.Buffer
	s.Require().NoError(formats.Write(&src, in, formats.CSV, compression.None, compression.Default, formats.DefaultWriteOptions()))

	cfg := config.Default()
	cfg.Input.Path = config.StdStream
	cfg.Input.Format = "csv"
	cfg.Subsample.Mode = "slice"
	cfg.Subsample.Step = 4
	cfg.Output.Format = "json"
	// slicing has no diagnostics, so the file is skipped
	cfg.Output.Diagnostics = s.Path("slice-diag.json")

	var dst bytes.Buffer
	report, err := s.runJob(cfg, WithStdin(&src), WithStdout(&dst))
	s.Require().NoError(err)
	s.Equal(15, report.RowsOut)
	s.Nil(report.Diagnostics)
	s.NoFileExists(cfg.Output.Diagnostics)

	out, err := formats.Read(&dst, formats.JSON, compression.None, formats.ReadOptions{})
	s.Require().NoError(err)
	s.Equal([]float64{0, 4, 8, 12, 16, 0, 4, 8, 12, 16, 0, 4, 8, 12, 16}, out.Times())
}

func (s *JobTestSuite) TestEquilibriumDetectionKeepsInputFormat() {
	in := testutil.GradientTable(s.T(), states, 400, 0.3, 25, 5)
	cfg := config.Default()
	cfg.Input.Path = s.writeTable("dhdl.avro", in)
	cfg.Subsample.Mode = "equil"
	cfg.Subsample.Workers = 3
	cfg.Output.Path = s.Path("dhdl_equil.out")

	report, err := s.runJob(cfg)
	s.Require().NoError(err)
	s.Equal(subsampling.ModeEquilibriumDetection, report.Mode)
	s.Equal(table.FormGradient, report.Form)

	// no extension: the input format is reused
	out, err := formats.ReadFile(cfg.Output.Path, formats.FileOptions{Format: formats.Avro}, formats.ReadOptions{})
	s.Require().NoError(err)
	s.Equal(report.RowsOut, out.Len())
	for _, g := range out.GroupByState() {
		s.Greater(g.Table.Times()[0], 0.0, "transient kept for state %s", g.State)
	}
}

func (s *JobTestSuite) TestFailureWritesNothing() {
	in := testutil.GradientTable(s.T(), states, 50, 0.5, 0, 9)
	s.Require().NoError(in.Append(10, table.State{0.5}, []float64{1}))
	cfg := config.Default()
	cfg.Input.Path = s.writeTable("dup.csv", in)
	cfg.Output.Path = s.Path("dup_out.csv")

	_, err := s.runJob(cfg)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeValidation))
	s.NoFileExists(cfg.Output.Path)

	cfg.Subsample.Force = true
	_, err = s.runJob(cfg)
	s.NoError(err)
	s.FileExists(cfg.Output.Path)
}

func (s *JobTestSuite) TestSideFileFailureLeavesNoOutput() {
	in := testutil.EnergyMatrixTable(s.T(), states, 100, 0.5, 4)
	inPath := s.writeTable("side.csv", in)

	for name, set := range map[string]func(cfg *config.Config){
		"diagnostics": func(cfg *config.Config) { cfg.Output.Diagnostics = s.Path("missing/diag.json") },
		"metrics":     func(cfg *config.Config) { cfg.Observability.MetricsFile = s.Path("missing/alchemsub.prom") },
	} {
		s.Run(name, func() {
			cfg := config.Default()
			cfg.Input.Path = inPath
			cfg.Output.Path = s.Path("side_" + name + ".csv")
			cfg.Output.Diagnostics = s.Path("side_" + name + ".json")
			set(cfg)

			_, err := s.runJob(cfg)
			s.Require().Error(err)
			s.True(errors.IsType(err, errors.ErrorTypeFile), "%v", err)
			s.NoFileExists(cfg.Output.Path)
			s.NoFileExists(s.Path("side_" + name + ".json"))

			leftovers, err := filepath.Glob(s.Path(".side_" + name + "*"))
			s.Require().NoError(err)
			s.Empty(leftovers)
		})
	}
}

func (s *JobTestSuite) TestStdoutWithFailedDiagnosticsPrintsNothing() {
	in := testutil.GradientTable(s.T(), states, 60, 0.5, 0, 8)
	cfg := config.Default()
	cfg.Input.Path = s.writeTable("stdout_fail.csv", in)
	cfg.Output.Format = "csv"
	cfg.Output.Diagnostics = s.Path("missing/diag.json")

	var stdout bytes.Buffer
	_, err := s.runJob(cfg, WithStdout(&stdout))
	s.Require().Error(err)
	s.Zero(stdout.Len())
}

func (s *JobTestSuite) TestInspect() {
	in := testutil.EnergyMatrixTable(s.T(), states, 30, 0.5, 1)
	s.Require().NoError(in.Append(5, table.State{1}, []float64{0, 1, 2}))
	path := s.writeTable("inspect.arrow.zst", in)

	sum, err := Inspect(s.Context(), config.InputConfig{Path: path}, nil, testutil.TestLogger(s.T()))
	s.Require().NoError(err)
	s.Equal(formats.Arrow, sum.Format)
	s.Equal(table.FormEnergyMatrix, sum.Form)
	s.Equal(91, sum.Rows)
	s.Equal([]string{"time", "fep-lambda"}, sum.Keys)
	s.Equal("300", sum.Attrs["temperature"])
	s.Require().Len(sum.Groups, 3)
	s.Equal(GroupSummary{State: "1", Rows: 31, FirstTime: 0, LastTime: 29, DuplicateTimes: 1}, sum.Groups[2])
	s.Zero(sum.Groups[0].DuplicateTimes)
}

func (s *JobTestSuite) TestSharedCollector() {
	path := s.writeTable("dhdl.csv", testutil.GradientTable(s.T(), states, 40, 0.3, 0, 5))
	c := metrics.NewCollector()
	for i := 0; i < 2; i++ {
		cfg := config.Default()
		cfg.Input.Path = path
		cfg.Output.Path = s.Path("dhdl_sub.csv")
		cfg.Subsample.Mode = string(subsampling.ModeSlicing)

		job, err := NewJob(cfg, testutil.TestLogger(s.T()), WithCollector(c))
		s.Require().NoError(err)
		s.Same(c, job.Metrics())
		_, err = job.Run(s.Context())
		s.Require().NoError(err)
	}

	expected := `
# HELP alchemsub_rows_total Rows read and written by subsampling calls
# TYPE alchemsub_rows_total counter
alchemsub_rows_total{direction="in",mode="slicing"} 240
alchemsub_rows_total{direction="out",mode="slicing"} 240
`
	s.NoError(promtest.GatherAndCompare(c.Registry(), strings.NewReader(expected), "alchemsub_rows_total"))
}

func TestNewJobRejectsInvalidConfig(t *testing.T) {
	_, err := NewJob(nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg := config.Default()
	_, err = NewJob(cfg, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestOutputFileOptions(t *testing.T) {
	cases := []struct {
		name   string
		output config.OutputConfig
		format formats.Format
		alg    compression.Algorithm
	}{
		{"from path", config.OutputConfig{Path: "out.parquet"}, formats.Parquet, compression.None},
		{"compressed path", config.OutputConfig{Path: "out.json.zst"}, formats.JSON, compression.Zstd},
		{"explicit format", config.OutputConfig{Path: "out.bin.gz", Format: "avro"}, formats.Avro, compression.Gzip},
		{"stdout inherits input", config.OutputConfig{Path: "-"}, formats.CSV, compression.None},
		{"unknown extension", config.OutputConfig{Path: "out.dat"}, formats.CSV, compression.None},
		{"explicit compression", config.OutputConfig{Path: "-", Format: "arrow", Compression: "lz4"}, formats.Arrow, compression.LZ4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Input.Path = "in.csv.gz"
			cfg.Output = tc.output
			fo, err := outputFileOptions(cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.format, fo.Format)
			assert.Equal(t, tc.alg, fo.Compression)
			assert.Equal(t, compression.Default, fo.Level)
		})
	}
}

func TestInputFileOptions(t *testing.T) {
	fo, err := inputFileOptions(config.InputConfig{Path: "dhdl.csv.s2"})
	require.NoError(t, err)
	assert.Equal(t, formats.CSV, fo.Format)
	assert.Equal(t, compression.S2, fo.Compression)

	fo, err = inputFileOptions(config.InputConfig{Path: "-", Format: "parquet"})
	require.NoError(t, err)
	assert.Equal(t, formats.Parquet, fo.Format)
	assert.Equal(t, compression.None, fo.Compression)

	_, err = inputFileOptions(config.InputConfig{Path: "table"})
	assert.Error(t, err)
}
