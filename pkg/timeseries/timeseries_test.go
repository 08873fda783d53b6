package timeseries

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func whiteNoise(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	return x
}

func ar1(n int, phi float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	for i := 1; i < n; i++ {
		x[i] = phi*x[i-1] + rng.NormFloat64()
	}
	return x
}

func TestStatisticalInefficiencyWhiteNoise(t *testing.T) {
	g, err := StatisticalInefficiency(whiteNoise(5000, 1), DefaultOptions())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, g, 1.0)
	assert.Less(t, g, 1.5)
}

func TestStatisticalInefficiencyCorrelated(t *testing.T) {
	// AR(1) with phi = 0.9 has g = (1+phi)/(1-phi) = 19
	x := ar1(20000, 0.9, 7)

	g, err := StatisticalInefficiency(x, DefaultOptions())
	require.NoError(t, err)
	assert.Greater(t, g, 10.0)
	assert.Less(t, g, 30.0)

	fast, err := StatisticalInefficiency(x, Options{Fast: true, MinTime: 3})
	require.NoError(t, err)
	assert.Greater(t, fast, 5.0)
}

func TestStatisticalInefficiencyNeverBelowOne(t *testing.T) {
	x := make([]float64, 200)
	for i := range x {
		x[i] = float64(1 - 2*(i%2))
	}
	g, err := StatisticalInefficiency(x, DefaultOptions())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, g, 1.0)
}

func TestStatisticalInefficiencyErrors(t *testing.T) {
	_, err := StatisticalInefficiency(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = StatisticalInefficiency([]float64{1}, DefaultOptions())
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = StatisticalInefficiency([]float64{0.1, 0.1, 0.1, 0.1}, DefaultOptions())
	assert.ErrorIs(t, err, ErrZeroVariance)

	_, err = StatisticalInefficiency([]float64{1, math.NaN(), 2}, DefaultOptions())
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestSubsampleIndices(t *testing.T) {
	tests := []struct {
		name         string
		n            int
		g            float64
		conservative bool
		want         []int
	}{
		{"conservative fractional", 10, 2.5, true, []int{0, 3, 6, 9}},
		{"exact fractional", 10, 2.5, false, []int{0, 2, 5, 8}},
		{"conservative small g", 10, 1.5, true, []int{0, 2, 4, 6, 8}},
		{"exact small g", 10, 1.5, false, []int{0, 2, 3, 4, 6, 8, 9}},
		{"unit g", 4, 1, true, []int{0, 1, 2, 3}},
		{"nan g keeps everything", 3, math.NaN(), false, []int{0, 1, 2}},
		{"empty", 0, 3, true, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubsampleIndices(tt.n, tt.g, tt.conservative))
		})
	}
}

func TestConservativeNeverKeepsMore(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(2000)
		g := 1 + rng.Float64()*20
		cons := SubsampleIndices(n, g, true)
		exact := SubsampleIndices(n, g, false)
		require.LessOrEqual(t, len(cons), len(exact), "n=%d g=%f", n, g)
		for j := 1; j < len(exact); j++ {
			require.Less(t, exact[j-1], exact[j])
		}
		require.Less(t, exact[len(exact)-1], n)
	}
}

func TestDetectEquilibration(t *testing.T) {
	x := whiteNoise(1000, 11)
	for i := range x {
		x[i] += 20 * math.Exp(-float64(i)/30)
	}

	eq, err := DetectEquilibration(x, DefaultEquilibrationOptions())
	require.NoError(t, err)
	assert.Greater(t, eq.Cutoff, 0)
	assert.Less(t, eq.Cutoff, 400)
	assert.GreaterOrEqual(t, eq.StatisticalInefficiency, 1.0)
	assert.InDelta(t, float64(len(x)-eq.Cutoff+1)/eq.StatisticalInefficiency, eq.EffectiveSamples, 1e-9)
}

func TestDetectEquilibrationConstant(t *testing.T) {
	eq, err := DetectEquilibration([]float64{2, 2, 2, 2, 2}, DefaultEquilibrationOptions())
	require.NoError(t, err)
	assert.Equal(t, Equilibration{Cutoff: 0, StatisticalInefficiency: 1, EffectiveSamples: 1}, eq)

	// the analyzer keeps every sample of a constant series at g = 1
	a := NewAnalyzer()
	eq, err = a.DetectEquilibration([]float64{-3, -3, -3})
	require.NoError(t, err)
	assert.Equal(t, 1.0, eq.EffectiveSamples)
	assert.Equal(t, []int{0, 1, 2}, a.SubsampleIndices([]float64{-3, -3, -3}, eq.StatisticalInefficiency, true))
}

func TestDetectEquilibrationErrors(t *testing.T) {
	_, err := DetectEquilibration([]float64{1}, DefaultEquilibrationOptions())
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = DetectEquilibration([]float64{1, math.Inf(1)}, DefaultEquilibrationOptions())
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestAnalyzer(t *testing.T) {
	a := NewAnalyzer()
	x := ar1(2000, 0.5, 5)

	g, err := a.StatisticalInefficiency(x)
	require.NoError(t, err)
	idx := a.SubsampleIndices(x, g, true)
	assert.NotEmpty(t, idx)
	assert.Less(t, len(idx), len(x))

	eq, err := a.DetectEquilibration(x)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, eq.Cutoff, 0)
}
