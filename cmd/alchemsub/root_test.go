package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/alchemsub/internal/pipeline"
	"github.com/ajitpratap0/alchemsub/pkg/compression"
	"github.com/ajitpratap0/alchemsub/pkg/errors"
	"github.com/ajitpratap0/alchemsub/pkg/formats"
	"github.com/ajitpratap0/alchemsub/pkg/table"
	"github.com/ajitpratap0/alchemsub/pkg/testutil"
)

var states = []float64{0, 0.5, 1}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(bytes.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func writeInput(t *testing.T, name string, tb *table.Table) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, formats.WriteFile(path, tb, formats.FileOptions{}, formats.DefaultWriteOptions()))
	return path
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "alchemsub v"+version)
	assert.Contains(t, out, "OS/Arch:")
}

func TestAliases(t *testing.T) {
	root := newRootCmd()
	for alias, name := range map[string]string{
		"statistical-inefficiency": "statinef",
		"equilibrium-detection":    "equil",
		"slice":                    "slice",
	} {
		cmd, _, err := root.Find([]string{alias})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestStatinefCommand(t *testing.T) {
	in := writeInput(t, "u_nk.parquet", testutil.EnergyMatrixTable(t, states, 200, 0.8, 21))
	dir := t.TempDir()
	outPath := filepath.Join(dir, "u_nk_sub.parquet")
	diagPath := filepath.Join(dir, "diag.json")
	promPath := filepath.Join(dir, "alchemsub.prom")

	_, _, err := execute(t, nil, "statinef", "-i", in, "-o", outPath,
		"--how", "random", "--seed", "3", "--workers", "2",
		"--diagnostics", diagPath, "--metrics-file", promPath)
	require.NoError(t, err)

	got, err := formats.ReadFile(outPath, formats.FileOptions{}, formats.ReadOptions{})
	require.NoError(t, err)
	assert.Less(t, got.Len(), 600)
	assert.Equal(t, "300", got.Attrs["temperature"])

	data, err := os.ReadFile(diagPath)
	require.NoError(t, err)
	var diag []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &diag))
	assert.Len(t, diag, 3)
	assert.FileExists(t, promPath)
}

func TestSliceStdinToStdout(t *testing.T) {
	src := testutil.GradientTable(t, states, 10, 0.5, 0, 4)
	var buf bytes.Buffer
	require.NoError(t, formats.Write(&buf, src, formats.CSV, compression.None, compression.Default, formats.DefaultWriteOptions()))

	out, _, err := execute(t, buf.Bytes(), "slice", "-i", "-", "--format", "csv", "--step", "2", "--lower", "2")
	require.NoError(t, err)

	got, err := formats.Read(strings.NewReader(out), formats.CSV, compression.None, formats.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6, 8, 2, 4, 6, 8, 2, 4, 6, 8}, got.Times())
}

func TestConfigFileWithEnvOverride(t *testing.T) {
	in := writeInput(t, "dhdl.csv", testutil.GradientTable(t, states, 20, 0.5, 0, 8))
	outPath := filepath.Join(t.TempDir(), "sliced.json")
	job := "input:\n  path: " + in + "\noutput:\n  path: " + outPath + "\nsubsample:\n  step: 5\n"
	cfgPath := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(job), 0o600))

	_, _, err := execute(t, nil, "slice", "--config", cfgPath)
	require.NoError(t, err)
	got, err := formats.ReadFile(outPath, formats.FileOptions{}, formats.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 12, got.Len())

	t.Setenv("ALCHEMSUB_SUBSAMPLE_STEP", "10")
	_, _, err = execute(t, nil, "slice", "--config", cfgPath)
	require.NoError(t, err)
	got, err = formats.ReadFile(outPath, formats.FileOptions{}, formats.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, got.Len())

	// flags beat the environment
	_, _, err = execute(t, nil, "slice", "--config", cfgPath, "--step", "20")
	require.NoError(t, err)
	got, err = formats.ReadFile(outPath, formats.FileOptions{}, formats.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())
}

func TestInspectCommand(t *testing.T) {
	in := writeInput(t, "u_nk.avro", testutil.EnergyMatrixTable(t, states, 15, 0.5, 2))

	out, _, err := execute(t, nil, "inspect", "-i", in, "--json")
	require.NoError(t, err)
	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, formats.Avro, summary.Format)
	assert.Equal(t, table.FormEnergyMatrix, summary.Form)
	assert.Equal(t, 45, summary.Rows)
	assert.Len(t, summary.Groups, 3)

	out, _, err = execute(t, nil, "inspect", "-i", in)
	require.NoError(t, err)
	assert.Contains(t, out, "form:    u_nk")
	assert.Contains(t, out, "STATE")
	assert.Contains(t, out, "0.5")
}

func TestTraceFlag(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	in := writeInput(t, "dhdl.csv", testutil.GradientTable(t, states, 100, 0.5, 10, 6))
	dir := t.TempDir()
	tracePath := filepath.Join(dir, "spans.json")

	_, _, err := execute(t, nil, "equil", "-i", in, "-o", filepath.Join(dir, "out.csv"),
		"--trace", "--trace-output", tracePath)
	require.NoError(t, err)

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"alchemsub.job"`)
	assert.Contains(t, string(data), `"Name":"subsample"`)
}

func TestInvalidOptions(t *testing.T) {
	in := writeInput(t, "dhdl.csv", testutil.GradientTable(t, states, 10, 0.5, 0, 1))

	_, _, err := execute(t, nil, "statinef", "-i", in, "--how", "up")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, _, err = execute(t, nil, "statinef")
	assert.Error(t, err)

	_, _, err = execute(t, nil, "slice", "-i", in, "extra-arg")
	assert.Error(t, err)
}
