// Package timeseries estimates autocorrelation properties of a scalar time
// series: the statistical inefficiency g, the subsample positions that make
// a correlated series approximately uncorrelated, and the equilibration
// cutoff that maximizes the number of effectively uncorrelated samples.
//
// The estimators follow Chodera et al., "Use of the weighted histogram
// analysis method for the analysis of simulated and parallel tempering
// simulations", JCTC 3:26, 2007, and Chodera, "A simple method for automated
// equilibration detection in molecular simulations", JCTC 12:1799, 2016.
package timeseries

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientData is returned for series with fewer than two samples.
	ErrInsufficientData = errors.New("timeseries: at least two samples are required")
	// ErrZeroVariance is returned when the series is constant, so the
	// normalized autocorrelation is undefined.
	ErrZeroVariance = errors.New("timeseries: sample variance is zero, cannot compute statistical inefficiency")
	// ErrNonFinite is returned when the series contains NaN or Inf.
	ErrNonFinite = errors.New("timeseries: series contains non-finite values")
)

// Options tunes the estimators.
type Options struct {
	// Fast grows the lag increment by one after every step, trading accuracy
	// for speed on long series.
	Fast bool
	// MinTime is the lag below which a non-positive autocorrelation does
	// not terminate the sum.
	MinTime int
	// Nskip is the stride between candidate equilibration cutoffs.
	Nskip int
}

// DefaultOptions returns the settings used for statistical inefficiency:
// exact summation with a minimum lag of 3.
func DefaultOptions() Options {
	return Options{Fast: false, MinTime: 3, Nskip: 1}
}

// DefaultEquilibrationOptions returns the settings used for equilibration
// detection, which evaluates g once per candidate cutoff and therefore
// uses the fast summation.
func DefaultEquilibrationOptions() Options {
	return Options{Fast: true, MinTime: 3, Nskip: 1}
}

// Equilibration is the result of equilibration detection.
type Equilibration struct {
	// Cutoff is the first position considered equilibrated.
	Cutoff int
	// StatisticalInefficiency is g of the series from Cutoff on.
	StatisticalInefficiency float64
	// EffectiveSamples is the effective number of uncorrelated samples
	// from Cutoff on.
	EffectiveSamples float64
}

// StatisticalInefficiency estimates g = 1 + 2 * sum_t (1 - t/N) C(t) where
// C is the normalized fluctuation autocorrelation. The sum stops at the
// first lag past MinTime where C drops to zero or below. The result is
// never less than 1.
func StatisticalInefficiency(x []float64, opts Options) (float64, error) {
	n := len(x)
	if n < 2 {
		return 0, ErrInsufficientData
	}
	if !allFinite(x) {
		return 0, ErrNonFinite
	}
	if floats.Max(x) == floats.Min(x) {
		return 0, ErrZeroVariance
	}

	mu := stat.Mean(x, nil)
	dx := make([]float64, n)
	copy(dx, x)
	floats.AddConst(-mu, dx)

	sigma2 := floats.Dot(dx, dx) / float64(n)
	if sigma2 == 0 {
		return 0, ErrZeroVariance
	}

	g := 1.0
	t, increment := 1, 1
	for t < n-1 {
		c := floats.Dot(dx[:n-t], dx[t:]) / (float64(n-t) * sigma2)
		if c <= 0 && t > opts.MinTime {
			break
		}
		g += 2 * c * (1 - float64(t)/float64(n)) * float64(increment)
		t += increment
		if opts.Fast {
			increment++
		}
	}

	if g < 1 {
		g = 1
	}
	return g, nil
}

// SubsampleIndices returns the positions to keep from a series of length n
// with statistical inefficiency g. Conservative subsampling uses the uniform
// stride ceil(g); otherwise positions round(k*g) are taken, which keeps
// more samples for fractional g at the price of non-uniform spacing.
// Positions are strictly increasing. A g below 1 or NaN is treated as 1.
func SubsampleIndices(n int, g float64, conservative bool) []int {
	if n <= 0 {
		return []int{}
	}
	if math.IsNaN(g) || g < 1 {
		g = 1
	}

	if conservative {
		stride := int(math.Ceil(g))
		out := make([]int, 0, (n+stride-1)/stride)
		for i := 0; i < n; i += stride {
			out = append(out, i)
		}
		return out
	}

	out := make([]int, 0, int(float64(n)/g)+1)
	for k := 0; ; k++ {
		t := int(math.RoundToEven(float64(k) * g))
		if t >= n {
			break
		}
		if len(out) == 0 || t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// DetectEquilibration finds the cutoff t that maximizes the effective
// number of samples (T-t+1)/g_t of x[t:]. A constant series is considered
// equilibrated from the start with g = 1 and carries a single effective
// sample, since every value repeats the first.
func DetectEquilibration(x []float64, opts Options) (Equilibration, error) {
	n := len(x)
	if n < 2 {
		return Equilibration{}, ErrInsufficientData
	}
	if !allFinite(x) {
		return Equilibration{}, ErrNonFinite
	}
	if floats.Max(x) == floats.Min(x) {
		return Equilibration{Cutoff: 0, StatisticalInefficiency: 1, EffectiveSamples: 1}, nil
	}

	nskip := opts.Nskip
	if nskip < 1 {
		nskip = 1
	}

	var (
		cutoffs []int
		gs      []float64
		neffs   []float64
	)
	for t := 0; t < n-1; t += nskip {
		remaining := float64(n - t + 1)
		g, err := StatisticalInefficiency(x[t:], opts)
		if err != nil {
			g = remaining
		}
		cutoffs = append(cutoffs, t)
		gs = append(gs, g)
		neffs = append(neffs, remaining/g)
	}

	best := floats.MaxIdx(neffs)
	return Equilibration{
		Cutoff:                  cutoffs[best],
		StatisticalInefficiency: gs[best],
		EffectiveSamples:        neffs[best],
	}, nil
}

// Analyzer bundles the estimators behind the interface the subsampling core
// consumes.
type Analyzer struct {
	Inefficiency  Options
	Equilibration Options
}

// NewAnalyzer returns an Analyzer with default options.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		Inefficiency:  DefaultOptions(),
		Equilibration: DefaultEquilibrationOptions(),
	}
}

// StatisticalInefficiency estimates g for the series.
func (a *Analyzer) StatisticalInefficiency(series []float64) (float64, error) {
	return StatisticalInefficiency(series, a.Inefficiency)
}

// SubsampleIndices returns the positions of series to keep.
func (a *Analyzer) SubsampleIndices(series []float64, g float64, conservative bool) []int {
	return SubsampleIndices(len(series), g, conservative)
}

// DetectEquilibration finds the equilibration cutoff of the series.
func (a *Analyzer) DetectEquilibration(series []float64) (Equilibration, error) {
	return DetectEquilibration(series, a.Equilibration)
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
