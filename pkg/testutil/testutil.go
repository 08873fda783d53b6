// Package testutil provides testing utilities for alchemsub
package testutil

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/alchemsub/pkg/table"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// AR1 returns n samples of x[i] = phi*x[i-1] + N(0,1).
func AR1(rng *rand.Rand, n int, phi float64) []float64 {
	x := make([]float64, n)
	for i := 1; i < n; i++ {
		x[i] = phi*x[i-1] + rng.NormFloat64()
	}
	return x
}

// EnergyMatrixTable builds a one-dimensional energy-matrix table with one
// column per state and n uniformly spaced times per state. Every column is
// an independent AR(1) series with coefficient phi.
func EnergyMatrixTable(t *testing.T, states []float64, n int, phi float64, seed uint64) *table.Table {
	t.Helper()
	labels := make([]string, len(states))
	for i, s := range states {
		labels[i] = table.State{s}.String()
	}
	tb := table.New([]string{"time", "fep-lambda"}, labels)
	rng := rand.New(rand.NewPCG(seed, 1))
	for _, s := range states {
		cols := make([][]float64, len(states))
		for j := range cols {
			cols[j] = AR1(rng, n, phi)
		}
		for i := 0; i < n; i++ {
			vals := make([]float64, len(states))
			for j := range cols {
				vals[j] = float64(j) + cols[j][i]
			}
			require.NoError(t, tb.Append(float64(i), table.State{s}, vals))
		}
	}
	tb.Form = table.FormEnergyMatrix
	tb.Attrs["temperature"] = "300"
	tb.Attrs["energy_unit"] = "kT"
	return tb
}

// GradientTable builds a one-dimensional gradient table with a single
// "fep" column. transient adds amplitude*exp(-i/30) to the start of every
// group, which equilibration detection should drop.
func GradientTable(t *testing.T, states []float64, n int, phi, transient float64, seed uint64) *table.Table {
	t.Helper()
	tb := table.New([]string{"time", "fep-lambda"}, []string{"fep"})
	rng := rand.New(rand.NewPCG(seed, 2))
	for _, s := range states {
		x := AR1(rng, n, phi)
		for i := 0; i < n; i++ {
			v := x[i] + transient*math.Exp(-float64(i)/30)
			require.NoError(t, tb.Append(float64(i), table.State{s}, []float64{v}))
		}
	}
	tb.Form = table.FormGradient
	return tb
}

// Shuffle returns a copy of tb with its rows in random order.
func Shuffle(tb *table.Table, seed uint64) *table.Table {
	out := tb.Clone()
	rng := rand.New(rand.NewPCG(seed, 3))
	rng.Shuffle(len(out.Rows), func(i, j int) {
		out.Rows[i], out.Rows[j] = out.Rows[j], out.Rows[i]
	})
	return out
}
