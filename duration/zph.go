package duration

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/statmodel"
)

// TimeTransform is the time scale against which Schoenfeld residuals
// are tested.
type TimeTransform string

// The supported time transforms.  KMTransform uses one minus the pooled
// Kaplan-Meier estimate just before each event time.
const (
	KMTransform       TimeTransform = "km"
	RankTransform     TimeTransform = "rank"
	IdentityTransform TimeTransform = "identity"
	LogTransform      TimeTransform = "log"
)

// ZPHConfig configures the proportional hazards test.
type ZPHConfig struct {
	Transform TimeTransform
}

// DefaultZPHConfig returns a test configuration using the Kaplan-Meier
// time scale.
func DefaultZPHConfig() *ZPHConfig {
	return &ZPHConfig{
		Transform: KMTransform,
	}
}

// SchoenfeldResiduals holds one residual vector per event.
type SchoenfeldResiduals struct {

	// Time is the event time of each residual.
	Time []float64

	// Row is the row of the fitted data holding the event.
	Row []int

	// Stratum is the stratum index of the event.
	Stratum []int

	// Resid[j][i] is the residual of covariate j at event i.
	Resid [][]float64
}

// Schoenfeld returns the Schoenfeld residuals of the fitted model: for
// each event, the covariate vector minus its mean over the risk set,
// weighted by exp(x'b).  With Efron ties the mean is averaged over the
// Efron-adjusted risk sets of the tied events, so that the residuals
// sum to the score.
func (rslt *PHResults) Schoenfeld() *SchoenfeldResiduals {

	ph := rslt.ph
	params := rslt.Params()
	p := len(ph.xpos)

	lp := ph.getNslice()
	elp := ph.getNslice()
	ph.expLinpred(params, lp, elp)

	sr := &SchoenfeldResiduals{
		Resid: make([][]float64, p),
	}

	rlpv := make([]float64, p)
	tlpv := make([]float64, p)
	xbar := make([]float64, p)
	for s := range ph.stratumix {

		rlp := float64(0)
		zero(rlpv)
		for k, t := range ph.etimes[s] {

			for _, i := range ph.enter[s][k] {
				rlp += elp[i]
				for j, c := range ph.xpos {
					rlpv[j] += elp[i] * ph.data[c][i]
				}
			}

			var tlp float64
			zero(tlpv)
			for _, i := range ph.event[s][k] {
				tlp += elp[i]
				for j, c := range ph.xpos {
					tlpv[j] += elp[i] * ph.data[c][i]
				}
			}

			// Risk set mean, averaged over the Efron weights of the
			// tied events.
			d := len(ph.event[s][k])
			zero(xbar)
			for l := 0; l < d; l++ {
				f := ph.tieFrac(l, d)
				a0 := rlp - f*tlp
				for j := range xbar {
					xbar[j] += (rlpv[j] - f*tlpv[j]) / a0
				}
			}
			floats.Scale(1/float64(d), xbar)

			for _, i := range ph.event[s][k] {
				sr.Time = append(sr.Time, t)
				sr.Row = append(sr.Row, ph.rowix[i])
				sr.Stratum = append(sr.Stratum, s)
				for j, c := range ph.xpos {
					sr.Resid[j] = append(sr.Resid[j], ph.data[c][i]-xbar[j])
				}
			}

			for _, i := range ph.exit[s][k] {
				rlp -= elp[i]
				for j, c := range ph.xpos {
					rlpv[j] -= elp[i] * ph.data[c][i]
				}
			}
		}
	}

	ph.putNslice(lp)
	ph.putNslice(elp)

	return sr
}

// ZPHResult holds the outcome of a test of proportional hazards.
type ZPHResult struct {

	// Names of the covariates
	Names []string

	Transform TimeTransform

	// Correlation between the transformed time and the scaled
	// residuals of each covariate
	Rho []float64

	// Per-covariate chi-squared statistics (1 df) and p-values
	Chi2   []float64
	PValue []float64

	// Global test on NumParams degrees of freedom
	GlobalChi2   float64
	GlobalDF     int
	GlobalPValue float64

	// Time holds the transformed event times and Scaled[j] the
	// scaled Schoenfeld residuals of covariate j.
	Time   []float64
	Scaled [][]float64
}

// averageRanks returns the 1-based ranks of x, averaging over ties.
func averageRanks(x []float64) []float64 {

	n := len(x)
	ii := make([]int, n)
	for i := range ii {
		ii[i] = i
	}
	sort.SliceStable(ii, func(a, b int) bool { return x[ii[a]] < x[ii[b]] })

	rk := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && x[ii[j]] == x[ii[i]] {
			j++
		}
		r := float64(i+j+1) / 2
		for _, k := range ii[i:j] {
			rk[k] = r
		}
		i = j
	}

	return rk
}

// transformTimes places the requested time scale into g.
func (ph *PHReg) transformTimes(tr TimeTransform, times []float64) ([]float64, error) {

	g := make([]float64, len(times))

	switch tr {
	case IdentityTransform:
		copy(g, times)
	case LogTransform:
		for i, t := range times {
			if t <= 0 {
				return nil, fmt.Errorf("log time transform requires positive event times")
			}
			g[i] = math.Log(t)
		}
	case RankTransform:
		g = averageRanks(times)
	case KMTransform, "":
		sf, err := survfuncFromArrays(ph.data[ph.timepos], ph.data[ph.statuspos])
		if err != nil {
			return nil, err
		}
		for i, t := range times {
			// Left-continuous: the estimate just before t
			g[i] = 1 - sf.At(math.Nextafter(t, math.Inf(-1)))
		}
	default:
		return nil, fmt.Errorf("unknown time transform '%s'", tr)
	}

	return g, nil
}

// ZPH tests the proportional hazards assumption for each covariate and
// globally, by relating the Schoenfeld residuals to a transformation of
// time.  The error wraps statmodel.ErrSingularInformation if the fit has
// no covariance matrix, and statmodel.ErrInsufficientData if there are
// too few events or the transformed times do not vary.
func (rslt *PHResults) ZPH(config *ZPHConfig) (*ZPHResult, error) {

	if config == nil {
		config = DefaultZPHConfig()
	}

	vcov := rslt.VCov()
	if vcov == nil {
		return nil, fmt.Errorf("ZPH: fit has no covariance matrix: %w", statmodel.ErrSingularInformation)
	}

	ph := rslt.ph
	p := len(ph.xpos)
	sr := rslt.Schoenfeld()
	nev := len(sr.Time)
	if nev < 2 {
		return nil, fmt.Errorf("ZPH: %d events: %w", nev, statmodel.ErrInsufficientData)
	}

	g, err := ph.transformTimes(config.Transform, sr.Time)
	if err != nil {
		return nil, fmt.Errorf("ZPH: %w", err)
	}
	floats.AddConst(-floats.Sum(g)/float64(nev), g)
	sgg := floats.Dot(g, g)
	if sgg == 0 {
		return nil, fmt.Errorf("ZPH: transformed event times do not vary: %w", statmodel.ErrInsufficientData)
	}

	d := float64(nev)
	vm := mat.NewSymDense(p, vcov)

	// U = sum_i g_i r_i
	u := mat.NewVecDense(p, nil)
	for j := 0; j < p; j++ {
		u.SetVec(j, floats.Dot(g, sr.Resid[j]))
	}
	var vu mat.VecDense
	vu.MulVec(vm, u)

	zr := &ZPHResult{
		Names:     rslt.Names(),
		Transform: config.Transform,
		Rho:       make([]float64, p),
		Chi2:      make([]float64, p),
		PValue:    make([]float64, p),
		GlobalDF:  p,
		Time:      g,
		Scaled:    make([][]float64, p),
	}
	if zr.Transform == "" {
		zr.Transform = KMTransform
	}

	chi1 := distuv.ChiSquared{K: 1}
	for j := 0; j < p; j++ {
		zr.Chi2[j] = d * vu.AtVec(j) * vu.AtVec(j) / (vm.At(j, j) * sgg)
		zr.PValue[j] = chi1.Survival(zr.Chi2[j])
	}
	zr.GlobalChi2 = d * mat.Dot(u, &vu) / sgg
	zr.GlobalPValue = distuv.ChiSquared{K: float64(p)}.Survival(zr.GlobalChi2)

	// Scaled residuals d * V r_i + b
	params := rslt.Params()
	r := mat.NewVecDense(p, nil)
	var vr mat.VecDense
	for j := range zr.Scaled {
		zr.Scaled[j] = make([]float64, nev)
	}
	for i := 0; i < nev; i++ {
		for j := 0; j < p; j++ {
			r.SetVec(j, sr.Resid[j][i])
		}
		vr.MulVec(vm, r)
		for j := 0; j < p; j++ {
			zr.Scaled[j][i] = d*vr.AtVec(j) + params[j]
		}
	}

	for j := 0; j < p; j++ {
		zr.Rho[j], err = stats.Correlation(g, zr.Scaled[j])
		if err != nil {
			zr.Rho[j] = math.NaN()
		}
	}

	return zr, nil
}

// String returns a summary table of the test.
func (zr *ZPHResult) String() string {

	names := append(append([]string(nil), zr.Names...), "GLOBAL")
	rho := append(append([]float64(nil), zr.Rho...), math.NaN())
	chi2 := append(append([]float64(nil), zr.Chi2...), zr.GlobalChi2)
	pv := append(append([]float64(nil), zr.PValue...), zr.GlobalPValue)

	sum := &statmodel.SummaryTable{
		Title:    "Test of proportional hazards",
		Top:      []string{fmt.Sprintf("  Transform: %s", zr.Transform)},
		ColNames: []string{"Variable   ", "rho", "Chi-square", "P-value"},
		ColFmt:   []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats},
		Cols:     []interface{}{names, rho, chi2, pv},
	}

	return sum.String()
}
