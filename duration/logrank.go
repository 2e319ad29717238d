package duration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/statmodel"
)

// LogRankConfig configures a k-sample log-rank test.
type LogRankConfig struct {

	// Rho selects the Fleming-Harrington G(rho) weights S(t-)^rho,
	// where S is the pooled Kaplan-Meier curve.  Rho = 0 gives the
	// ordinary log-rank test.
	Rho float64
}

// DefaultLogRankConfig returns the configuration of the ordinary
// log-rank test.
func DefaultLogRankConfig() *LogRankConfig {
	return &LogRankConfig{}
}

// LogRankResult holds the outcome of a log-rank test.
type LogRankResult struct {

	// Observed and (weighted) expected number of events per group.
	Observed []float64
	Expected []float64

	// The (weighted) variance-covariance matrix of O-E, vectorized
	// row-major over all groups.
	VCov []float64

	// Chi-squared statistic, its degrees of freedom and p-value.
	Chi2   float64
	DF     int
	PValue float64
}

// LogRank compares the survival distributions of ngroup groups.  group[i]
// is the group (0, ..., ngroup-1) of subject i.  The returned error wraps
// statmodel.ErrInsufficientData when there are fewer than two groups or
// some group has no events.
func LogRank(time, status []float64, group []int, ngroup int, config *LogRankConfig) (*LogRankResult, error) {

	if config == nil {
		config = DefaultLogRankConfig()
	}

	if len(time) != len(status) || len(time) != len(group) {
		return nil, fmt.Errorf("LogRank: time, status and group lengths differ")
	}
	if ngroup < 2 {
		return nil, fmt.Errorf("LogRank: %d groups: %w", ngroup, statmodel.ErrInsufficientData)
	}

	n := len(time)
	ii := make([]int, n)
	st := make([]float64, n)
	copy(st, time)
	floats.Argsort(st, ii)

	// Risk set size per group
	nrisk := make([]float64, ngroup)
	for _, g := range group {
		if g < 0 || g >= ngroup {
			return nil, fmt.Errorf("LogRank: group index %d out of range", g)
		}
		nrisk[g]++
	}

	obs := make([]float64, ngroup)
	exp := make([]float64, ngroup)
	oe := make([]float64, ngroup)
	vcov := make([]float64, ngroup*ngroup)
	dg := make([]float64, ngroup)
	leave := make([]float64, ngroup)

	// Pooled Kaplan-Meier just before the current time
	skm := 1.0

	for i := 0; i < n; {

		// The block of subjects sharing this time
		j := i
		for j < n && st[j] == st[i] {
			j++
		}

		zero(dg)
		zero(leave)
		var d float64
		for _, k := range ii[i:j] {
			g := group[k]
			leave[g]++
			if status[k] == 1 {
				dg[g]++
				obs[g]++
				d++
			}
		}

		nr := floats.Sum(nrisk)
		if d > 0 {
			w := 1.0
			if config.Rho != 0 {
				w = math.Pow(skm, config.Rho)
			}
			for g := 0; g < ngroup; g++ {
				e := d * nrisk[g] / nr
				exp[g] += w * e
				oe[g] += w * (dg[g] - e)
			}
			if nr > 1 {
				f := w * w * d * (nr - d) / (nr - 1)
				for g := 0; g < ngroup; g++ {
					for h := 0; h < ngroup; h++ {
						var u float64
						if g == h {
							u = 1
						}
						vcov[g*ngroup+h] += f * nrisk[g] / nr * (u - nrisk[h]/nr)
					}
				}
			}
			skm *= 1 - d/nr
		}

		for g := range nrisk {
			nrisk[g] -= leave[g]
		}
		i = j
	}

	for g, o := range obs {
		if o == 0 {
			return nil, fmt.Errorf("LogRank: group %d has no events: %w", g, statmodel.ErrInsufficientData)
		}
	}

	// Drop the last group, the remaining variance matrix is
	// non-singular in non-degenerate cases.
	q := ngroup - 1
	vm := mat.NewDense(q, q, nil)
	for g := 0; g < q; g++ {
		for h := 0; h < q; h++ {
			vm.Set(g, h, vcov[g*ngroup+h])
		}
	}
	u := mat.NewVecDense(q, append([]float64(nil), oe[0:q]...))
	var x mat.VecDense
	if err := x.SolveVec(vm, u); err != nil {
		return nil, fmt.Errorf("LogRank: %v: %w", err, statmodel.ErrSingularInformation)
	}
	chi2 := mat.Dot(u, &x)

	return &LogRankResult{
		Observed: obs,
		Expected: exp,
		VCov:     vcov,
		Chi2:     chi2,
		DF:       q,
		PValue:   distuv.ChiSquared{K: float64(q)}.Survival(chi2),
	}, nil
}
