// Package duration supports various methods for statistical analysis
// of duration data (survival analysis).
package duration

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/statmodel"
)

// Ties selects how tied event times are handled in the partial
// likelihood.
type Ties int

// Breslow treats all events at a time as facing the full risk set.
// Efron removes an increasing fraction of the tied events from the risk
// set denominator.
const (
	Breslow Ties = iota
	Efron
)

func (t Ties) String() string {
	switch t {
	case Breslow:
		return "Breslow"
	case Efron:
		return "Efron"
	default:
		return fmt.Sprintf("Ties(%d)", int(t))
	}
}

// ParseTies converts "breslow" or "efron" (any case) to a Ties value.
// An empty string selects Breslow.
func ParseTies(s string) (Ties, error) {
	switch strings.ToLower(s) {
	case "breslow", "":
		return Breslow, nil
	case "efron":
		return Efron, nil
	default:
		return 0, fmt.Errorf("unknown ties method '%s'", s)
	}
}

// PHParameter contains a parameter value for a proportional hazards
// regression model.
type PHParameter struct {
	coeff []float64
}

// GetCoeff returns the array of model coefficients from a parameter value.
func (p *PHParameter) GetCoeff() []float64 {
	return p.coeff
}

// SetCoeff sets the array of model coefficients for a parameter value.
func (p *PHParameter) SetCoeff(x []float64) {
	p.coeff = x
}

// Clone returns a deep copy of the parameter value.
func (p *PHParameter) Clone() statmodel.Parameter {
	q := make([]float64, len(p.coeff))
	copy(q, p.coeff)
	return &PHParameter{q}
}

// PHReg describes a proportional hazards regression model for right
// censored data.
type PHReg struct {

	// The names of the variables.  The order agrees with the order of 'data'.
	varnames []string

	// The data to which the model is fit, a private copy of the
	// caller's columns sorted by stratum.
	data [][]statmodel.Dtype

	// rowix[i] is the row of the caller's data that row i of data
	// came from.
	rowix []int

	// Starting values, optional
	start []float64

	// Position of the event variable
	statuspos int

	// Position of the time variable
	timepos int

	// Position of an offset variable
	offsetpos int

	// Position of a stratum variable
	stratapos int

	// Start and end position of the strata
	stratumix [][2]int

	// The sorted times at which events occur in each stratum
	etimes [][]float64

	// enter[i][j] are the row indices that enter the risk set at
	// the jth distinct time in stratum i
	enter [][][]int

	// event[i][j] are the row indices that have an event at
	// the jth distinct time in stratum i
	event [][][]int

	// exit[i][j] are the row indices that exit the risk set at
	// the jth distinct time in stratum i
	exit [][][]int

	// L2 (ridge) weights for each variable
	l2wgtMap map[string]float64
	l2wgt    []float64

	// L1 (lasso) weights for each variable
	l1wgtMap map[string]float64
	l1wgt    []float64

	// The positions of the covariates in data
	xpos []int

	// If skip[i] is true, case i is skipped since it is censored before the first event.
	skip []bool

	// The number of cases that are skipped because they are censored before the first event
	skipEarlyCensor int

	ties Ties

	// Internal scale factors, the optimizer works with coeff * xscale.
	xscale []float64

	// Standard deviations of the covariates
	xsd []float64

	maxiter int
	tol     float64

	// Optimization settings
	optsettings *optimize.Settings

	// Optimization method
	optmethod optimize.Method

	log *slog.Logger

	nslices [][]float64
}

// NumObs returns the number of observations in the data set.
func (ph *PHReg) NumObs() int {
	return len(ph.data[0])
}

// NumParams returns the number of model parameters (regression coefficients).
func (ph *PHReg) NumParams() int {
	return len(ph.xpos)
}

// Dataset returns the data columns that are used to fit the model.
func (ph *PHReg) Dataset() [][]statmodel.Dtype {
	return ph.data
}

// Xpos return the positions of the covariates in the model's data.
func (ph *PHReg) Xpos() []int {
	return ph.xpos
}

// Ties returns the method used to handle tied event times.
func (ph *PHReg) Ties() Ties {
	return ph.ties
}

// NumStrata returns the number of strata.
func (ph *PHReg) NumStrata() int {
	return len(ph.stratumix)
}

// StratumCodes returns the distinct values of the stratum variable in
// the order of the strata.  It is nil for an unstratified model.
func (ph *PHReg) StratumCodes() []float64 {
	if ph.stratapos == -1 {
		return nil
	}
	var c []float64
	for _, ix := range ph.stratumix {
		c = append(c, ph.data[ph.stratapos][ix[0]])
	}
	return c
}

// PHRegConfig defines configuration parameters for a proportional hazards regression.
type PHRegConfig struct {

	// A logger to which logging information is written, optional.
	Log *slog.Logger

	// Start contains starting values for the regression parameter estimates
	Start []float64

	// OffsetVar is the name of a variable that defines an offset.
	OffsetVar string

	// StrataVar is the name of a variable that defines strata.
	StrataVar string

	// Ties selects the tie handling method.
	Ties Ties

	// ScaleType determines the internal scaling of the covariates
	// during optimization.  Results are always reported on the
	// original scale.
	ScaleType statmodel.ScaleType

	L1Penalty map[string]float64
	L2Penalty map[string]float64

	// MaxIter bounds the number of optimizer iterations.
	MaxIter int

	// Tol is the convergence tolerance for the maximum absolute
	// value of the (scaled) score vector.
	Tol float64

	// OptMethod is the Gonum optimization used to fit the model,
	// Newton-Raphson if nil.
	OptMethod optimize.Method

	// OptSettings configures the Gonum optimization routine.  If set
	// it overrides MaxIter and Tol.
	OptSettings *optimize.Settings
}

// DefaultPHRegConfig returns a default configuration struct for a proportional hazards regression.
func DefaultPHRegConfig() *PHRegConfig {

	return &PHRegConfig{
		Ties:      Breslow,
		ScaleType: statmodel.Variance,
		MaxIter:   100,
		Tol:       1e-6,
	}
}

// NewPHReg returns a PHReg value that can be used to fit a
// proportional hazards regression model.
func NewPHReg(data statmodel.Dataset, time, status string, predictors []string, config *PHRegConfig) (*PHReg, error) {

	if config == nil {
		config = DefaultPHRegConfig()
	}

	pos := make(map[string]int)
	for i, v := range data.Names() {
		pos[v] = i
	}
	da := data.Data()

	getpos := func(vn, what string) (int, error) {
		loc, ok := pos[vn]
		if !ok {
			return -1, fmt.Errorf("PHReg: %s variable '%s' not found in dataset", what, vn)
		}
		return loc, nil
	}

	var cols [][]statmodel.Dtype
	var varnames []string
	add := func(vn, what string) (int, error) {
		if vn == "" {
			return -1, nil
		}
		loc, err := getpos(vn, what)
		if err != nil {
			return -1, err
		}
		c := make([]statmodel.Dtype, len(da[loc]))
		copy(c, da[loc])
		cols = append(cols, c)
		varnames = append(varnames, vn)
		return len(cols) - 1, nil
	}

	timepos, err := add(time, "Time")
	if err != nil {
		return nil, err
	}
	statuspos, err := add(status, "Status")
	if err != nil {
		return nil, err
	}

	if len(predictors) == 0 {
		return nil, fmt.Errorf("PHReg: no predictors")
	}
	var xpos []int
	for _, xna := range predictors {
		xp, err := add(xna, "Predictor")
		if err != nil {
			return nil, err
		}
		xpos = append(xpos, xp)
	}

	offsetpos, err := add(config.OffsetVar, "Offset")
	if err != nil {
		return nil, err
	}
	stratapos, err := add(config.StrataVar, "Strata")
	if err != nil {
		return nil, err
	}

	penToSlice := func(m map[string]float64) []float64 {
		if len(m) == 0 {
			return nil
		}
		v := make([]float64, len(xpos))
		for j, k := range xpos {
			v[j] = m[varnames[k]]
		}
		return v
	}

	maxiter := config.MaxIter
	if maxiter <= 0 {
		maxiter = 100
	}
	tol := config.Tol
	if tol <= 0 {
		tol = 1e-6
	}

	ph := &PHReg{
		data:        cols,
		varnames:    varnames,
		timepos:     timepos,
		statuspos:   statuspos,
		xpos:        xpos,
		offsetpos:   offsetpos,
		stratapos:   stratapos,
		start:       config.Start,
		ties:        config.Ties,
		l1wgt:       penToSlice(config.L1Penalty),
		l2wgt:       penToSlice(config.L2Penalty),
		l1wgtMap:    config.L1Penalty,
		l2wgtMap:    config.L2Penalty,
		maxiter:     maxiter,
		tol:         tol,
		log:         config.Log,
		optsettings: config.OptSettings,
		optmethod:   config.OptMethod,
	}

	if ph.start != nil && len(ph.start) != len(xpos) {
		return nil, fmt.Errorf("PHReg: %d starting values for %d predictors", len(ph.start), len(xpos))
	}

	if err := ph.init(config.ScaleType); err != nil {
		return nil, err
	}

	return ph, nil
}

func (ph *PHReg) init(scaletype statmodel.ScaleType) error {
	if err := ph.checkData(); err != nil {
		return err
	}
	ph.sortByStratum()
	ph.setupTimes()

	var err error
	ph.xsd, err = statmodel.ScaleFactors(ph.data, ph.xpos, ph.varnames, statmodel.Variance)
	if err != nil {
		return fmt.Errorf("PHReg: %w", err)
	}
	ph.xscale, err = statmodel.ScaleFactors(ph.data, ph.xpos, ph.varnames, scaletype)
	if err != nil {
		return fmt.Errorf("PHReg: %w", err)
	}

	return nil
}

func (ph *PHReg) checkData() error {

	time := ph.data[ph.timepos]
	status := ph.data[ph.statuspos]

	if len(time) == 0 {
		return fmt.Errorf("PHReg: no observations")
	}

	for i := range time {
		if time[i] < 0 || math.IsNaN(time[i]) {
			return fmt.Errorf("PHReg: times cannot be negative (row %d)", i)
		}
		if status[i] != 0 && status[i] != 1 {
			return fmt.Errorf("PHReg: status variable '%s' has values other than 0 and 1",
				ph.varnames[ph.statuspos])
		}
	}

	return nil
}

func (ph *PHReg) sortByStratum() {

	time := ph.data[ph.timepos]
	nobs := len(time)

	ph.rowix = make([]int, nobs)
	for i := range ph.rowix {
		ph.rowix[i] = i
	}

	if ph.stratapos == -1 {
		ph.stratumix = [][2]int{{0, nobs}}
		return
	}

	strata := ph.data[ph.stratapos]

	inds := ph.rowix
	sort.SliceStable(inds, func(i, j int) bool {
		return strata[inds[i]] < strata[inds[j]]
	})

	tmp := make([]statmodel.Dtype, nobs)
	for k, x := range ph.data {
		for i, j := range inds {
			tmp[i] = x[j]
		}
		ph.data[k], tmp = tmp, x
	}

	strata = ph.data[ph.stratapos]
	var i0 int
	for i := 0; i <= len(strata); i++ {
		if i == len(strata) || (i > 0 && strata[i-1] != strata[i]) {
			ph.stratumix = append(ph.stratumix, [2]int{i0, i})
			i0 = i
		}
	}
}

func (ph *PHReg) setupTimes() {

	ph.skipEarlyCensor = 0

	time := ph.data[ph.timepos]
	status := ph.data[ph.statuspos]
	nobs := len(time)

	// Track cases that are omitted since they are
	// censored before the first event in their stratum.
	ph.skip = make([]bool, nobs)

	// Get the sorted distinct times where events occur
	for _, ix := range ph.stratumix {

		var et []float64

		for i := ix[0]; i < ix[1]; i++ {
			if status[i] == 1 {
				et = append(et, float64(time[i]))
			}
		}

		if len(et) > 0 {
			sort.Float64s(et)

			// Deduplicate
			j := 0
			for i := 1; i < len(et); i++ {
				if et[i] != et[j] {
					j++
					et[j] = et[i]
				}
			}
			et = et[0 : j+1]
		}
		ph.etimes = append(ph.etimes, et)

		// Indices of cases that enter or exit the risk set,
		// or have an event at each time point.
		enter := make([][]int, len(et))
		exit := make([][]int, len(et))
		event := make([][]int, len(et))
		ph.enter = append(ph.enter, enter)
		ph.exit = append(ph.exit, exit)
		ph.event = append(ph.event, event)

		// No events in this stratum
		if len(et) == 0 {
			for i := ix[0]; i < ix[1]; i++ {
				ph.skip[i] = true
				ph.skipEarlyCensor++
			}
			continue
		}

		// Risk set exit times
		for i := ix[0]; i < ix[1]; i++ {
			ii := sort.SearchFloat64s(et, float64(time[i]))
			switch {
			case ii == len(et):
				// Censored after last event, never exits
			case et[ii] == float64(time[i]):
				// Event or censored at an event time
				exit[ii] = append(exit[ii], i)
			case ii == 0:
				// Censored before first event, never enters
				ph.skip[i] = true
				ph.skipEarlyCensor++
			default:
				// Censored between event times
				exit[ii-1] = append(exit[ii-1], i)
			}
		}

		// Event times
		for i := ix[0]; i < ix[1]; i++ {
			if status[i] == 0 || ph.skip[i] {
				continue
			}
			ii := sort.SearchFloat64s(et, float64(time[i]))
			event[ii] = append(event[ii], i)
		}

		// Everyone enters at time 0
		for i := ix[0]; i < ix[1]; i++ {
			if !ph.skip[i] {
				enter[0] = append(enter[0], i)
			}
		}
	}
}

func (ph *PHReg) putNslice(x []float64) {
	ph.nslices = append(ph.nslices, x)
}

func (ph *PHReg) getNslice() []float64 {

	if len(ph.nslices) == 0 {
		return make([]float64, ph.NumObs())
	}
	q := len(ph.nslices) - 1
	x := ph.nslices[q]
	zero(x)
	ph.nslices = ph.nslices[0:q]

	return x
}

func zero(x []float64) {
	for i := range x {
		x[i] = 0
	}
}

// linpred places the linear predictor, including any offset, into lp.
func (ph *PHReg) linpred(params, lp []float64) {

	zero(lp)
	for j, k := range ph.xpos {
		floats.AddScaled(lp, params[j], ph.data[k])
	}

	if ph.offsetpos != -1 {
		floats.Add(lp, ph.data[ph.offsetpos])
	}
}

// expLinpred places exp(lp - m) into elp, where lp is the linear
// predictor and m is its maximum within each stratum.  We can subtract
// any constant within a stratum due to invariance in the partial
// likelihood.
func (ph *PHReg) expLinpred(params, lp, elp []float64) {

	ph.linpred(params, lp)

	for _, ix := range ph.stratumix {
		if ix[1] == ix[0] {
			continue
		}
		mx := floats.Max(lp[ix[0]:ix[1]])
		for i := ix[0]; i < ix[1]; i++ {
			lp[i] -= mx
			elp[i] = math.Exp(lp[i])
		}
	}
}

// tieFrac is the fraction of the tied events' risk weight that is
// removed from the denominator for the l'th of d tied events.
func (ph *PHReg) tieFrac(l, d int) float64 {
	if ph.ties == Efron {
		return float64(l) / float64(d)
	}
	return 0
}

// LogLike returns the log-likelihood at the given parameter value. The 'exact'
// parameter is ignored here.
func (ph *PHReg) LogLike(param statmodel.Parameter, exact bool) float64 {

	coeff := param.GetCoeff()

	ll := ph.logLike(coeff)

	// Account for L2 weights if present.
	if len(ph.l2wgt) > 0 {
		for j, x := range coeff {
			ll -= ph.l2wgt[j] * x * x
		}
	}

	return ll
}

// logLike returns the log partial likelihood for the proportional
// hazards regression model at the given parameter values.
func (ph *PHReg) logLike(params []float64) float64 {

	lp := ph.getNslice()
	elp := ph.getNslice()
	ph.expLinpred(params, lp, elp)

	ql := float64(0)
	for s := range ph.stratumix {

		rlp := float64(0)
		for k := 0; k < len(ph.etimes[s]); k++ {

			// Update for new entries
			for _, i := range ph.enter[s][k] {
				rlp += elp[i]
			}

			var tlp float64
			for _, i := range ph.event[s][k] {
				ql += lp[i]
				tlp += elp[i]
			}

			d := len(ph.event[s][k])
			for l := 0; l < d; l++ {
				ql -= math.Log(rlp - ph.tieFrac(l, d)*tlp)
			}

			// Update for new exits
			for _, i := range ph.exit[s][k] {
				rlp -= elp[i]
			}
		}
	}

	ph.putNslice(lp)
	ph.putNslice(elp)

	return ql
}

// Score computes the score vector for the proportional hazards
// regression model at the given parameter setting.
func (ph *PHReg) Score(params statmodel.Parameter, score []float64) {

	coeff := params.GetCoeff()
	ph.score(coeff, score)

	// Account for L2 weights if present.
	if len(ph.l2wgt) > 0 {
		for j, x := range coeff {
			score[j] -= 2 * ph.l2wgt[j] * x
		}
	}
}

// score calculates the score vector of the log partial likelihood.
func (ph *PHReg) score(params, score []float64) {

	zero(score)

	lp := ph.getNslice()
	elp := ph.getNslice()
	ph.expLinpred(params, lp, elp)

	p := len(ph.xpos)
	rlpv := make([]float64, p)
	tlpv := make([]float64, p)

	for s := range ph.stratumix {

		rlp := float64(0)
		zero(rlpv)
		for q := range ph.etimes[s] {

			// Update for new entries
			for _, i := range ph.enter[s][q] {
				rlp += elp[i]
				for j, k := range ph.xpos {
					rlpv[j] += elp[i] * float64(ph.data[k][i])
				}
			}

			var tlp float64
			zero(tlpv)
			for _, i := range ph.event[s][q] {
				tlp += elp[i]
				for j, k := range ph.xpos {
					x := float64(ph.data[k][i])
					score[j] += x
					tlpv[j] += elp[i] * x
				}
			}

			d := len(ph.event[s][q])
			for l := 0; l < d; l++ {
				f := ph.tieFrac(l, d)
				a0 := rlp - f*tlp
				for j := range score {
					score[j] -= (rlpv[j] - f*tlpv[j]) / a0
				}
			}

			// Update for new exits
			for _, i := range ph.exit[s][q] {
				rlp -= elp[i]
				for j, k := range ph.xpos {
					rlpv[j] -= elp[i] * float64(ph.data[k][i])
				}
			}
		}
	}

	ph.putNslice(lp)
	ph.putNslice(elp)
}

// Hessian computes the Hessian matrix for the model evaluated at the
// given parameter setting.  The Hessian type parameter is not used
// here.
func (ph *PHReg) Hessian(params statmodel.Parameter, ht statmodel.HessType, hess []float64) {

	coeff := params.GetCoeff()
	ph.hessian(coeff, hess)

	// Account for L2 weights if present.
	p := len(coeff)
	if len(ph.l2wgt) > 0 {
		for j := 0; j < len(coeff); j++ {
			k := j*p + j
			hess[k] -= 2 * ph.l2wgt[j]
		}
	}
}

// accum adds w*x_i and w*x_i x_i' to d1 and d2.
func (ph *PHReg) accum(i int, w float64, d1, d2 []float64) {
	p := len(ph.xpos)
	for j1, k1 := range ph.xpos {
		x1 := float64(ph.data[k1][i])
		d1[j1] += w * x1
		for j2 := 0; j2 <= j1; j2++ {
			u := w * x1 * float64(ph.data[ph.xpos[j2]][i])
			d2[j1*p+j2] += u
			if j2 != j1 {
				d2[j2*p+j1] += u
			}
		}
	}
}

// hessian calculates the Hessian matrix of the log partial likelihood
// at the given parameter values.
func (ph *PHReg) hessian(params []float64, hess []float64) {

	zero(hess)

	lp := ph.getNslice()
	elp := ph.getNslice()
	ph.expLinpred(params, lp, elp)

	p := len(ph.xpos)
	d1s := make([]float64, p)
	d2s := make([]float64, p*p)
	t1s := make([]float64, p)
	t2s := make([]float64, p*p)
	a1 := make([]float64, p)

	for s := range ph.stratumix {

		rlp := float64(0)
		zero(d1s)
		zero(d2s)

		for k := 0; k < len(ph.etimes[s]); k++ {

			// Update for new entries
			for _, i := range ph.enter[s][k] {
				rlp += elp[i]
				ph.accum(i, elp[i], d1s, d2s)
			}

			var tlp float64
			zero(t1s)
			zero(t2s)
			for _, i := range ph.event[s][k] {
				tlp += elp[i]
				ph.accum(i, elp[i], t1s, t2s)
			}

			d := len(ph.event[s][k])
			for l := 0; l < d; l++ {
				f := ph.tieFrac(l, d)
				a0 := rlp - f*tlp
				for j := range a1 {
					a1[j] = d1s[j] - f*t1s[j]
				}
				jj := 0
				for j1 := 0; j1 < p; j1++ {
					for j2 := 0; j2 < p; j2++ {
						a2 := d2s[jj] - f*t2s[jj]
						hess[jj] -= a2 / a0
						hess[jj] += a1[j1] * a1[j2] / (a0 * a0)
						jj++
					}
				}
			}

			// Update for new exits
			for _, i := range ph.exit[s][k] {
				rlp -= elp[i]
				ph.accum(i, -elp[i], d1s, d2s)
			}
		}
	}

	ph.putNslice(lp)
	ph.putNslice(elp)
}

func negative(x []float64) {
	for i := 0; i < len(x); i++ {
		x[i] *= -1
	}
}

// PHResults describes the results of a proportional hazards model.
type PHResults struct {
	statmodel.BaseResults

	ph *PHReg

	// Log-likelihood with all coefficients equal to zero
	llnull float64

	converged  bool
	status     optimize.Status
	iterations int

	warnings []string
}

// Converged reports whether the optimizer met the convergence tolerance.
func (rslt *PHResults) Converged() bool {
	return rslt.converged
}

// Iterations returns the number of major optimizer iterations.
func (rslt *PHResults) Iterations() int {
	return rslt.iterations
}

// Status returns the optimizer's termination status.
func (rslt *PHResults) Status() optimize.Status {
	return rslt.status
}

// Warnings returns diagnostic messages about the fit, such as possible
// separation.
func (rslt *PHResults) Warnings() []string {
	return rslt.warnings
}

// Separated reports whether some coefficient looks like it is
// diverging, as happens when a covariate perfectly orders the event
// times (monotone likelihood).
func (rslt *PHResults) Separated() bool {
	for _, w := range rslt.warnings {
		if strings.HasPrefix(w, separationWarning) {
			return true
		}
	}
	return false
}

// NullLogLike returns the log partial likelihood at zero coefficients.
func (rslt *PHResults) NullLogLike() float64 {
	return rslt.llnull
}

// LRTest returns the likelihood ratio statistic comparing the fitted
// model to the null model, its degrees of freedom, and its p-value.
func (rslt *PHResults) LRTest() (float64, int, float64) {
	stat := 2 * (rslt.LogLike() - rslt.llnull)
	if stat < 0 {
		stat = 0
	}
	df := len(rslt.Params())
	return stat, df, distuv.ChiSquared{K: float64(df)}.Survival(stat)
}

// HazardRatios returns exp(coefficient) with Wald confidence limits at
// level 1-alpha.  The limits are nil if standard errors are unavailable.
func (rslt *PHResults) HazardRatios(alpha float64) ([]float64, []float64, []float64) {

	par := rslt.Params()
	hr := make([]float64, len(par))
	for j, b := range par {
		hr[j] = math.Exp(b)
	}

	se := rslt.StdErr()
	if se == nil {
		return hr, nil, nil
	}

	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	lcb := make([]float64, len(par))
	ucb := make([]float64, len(par))
	for j, b := range par {
		lcb[j] = math.Exp(b - z*se[j])
		ucb[j] = math.Exp(b + z*se[j])
	}

	return hr, lcb, ucb
}

const separationWarning = "possible separation"

// checkSeparation flags coefficients that are implausibly large relative
// to the covariate's spread, or whose standard errors have exploded.
func (ph *PHReg) checkSeparation(rslt *PHResults) {

	se := rslt.StdErr()
	for j, b := range rslt.Params() {
		na := ph.varnames[ph.xpos[j]]
		switch {
		case math.Abs(b)*ph.xsd[j] > 10:
			rslt.warnings = append(rslt.warnings,
				fmt.Sprintf("%s: coefficient of '%s' is %.3g", separationWarning, na, b))
		case se != nil && se[j]*ph.xsd[j] > 5:
			rslt.warnings = append(rslt.warnings,
				fmt.Sprintf("%s: standard error of '%s' is %.3g", separationWarning, na, se[j]))
		}
	}
}

// failMessage logs information that can help diagnose optimization failures.
func (ph *PHReg) failMessage(optrslt *optimize.Result) {

	if ph.log == nil {
		return
	}

	ctx := context.Background()
	for j, x := range optrslt.X {
		na := ph.varnames[ph.xpos[j]]
		ph.log.DebugContext(ctx, "PHReg current point",
			slog.String("variable", na),
			slog.Float64("coeff", x/ph.xscale[j]),
			slog.Float64("gradient", optrslt.Gradient[j]))
	}

	time := ph.data[ph.timepos]
	status := ph.data[ph.statuspos]

	for s, ix := range ph.stratumix {

		var e, em float64
		for i := ix[0]; i < ix[1]; i++ {
			e += float64(status[i])
			em += float64(time[i])
		}
		n := float64(ix[1] - ix[0])

		ph.log.DebugContext(ctx, "PHReg stratum",
			slog.Int("stratum", s+1),
			slog.Int("size", ix[1]-ix[0]),
			slog.Int("events", int(e)),
			slog.Float64("event_rate", e/n),
			slog.Float64("mean_time", em/n))
	}

	for j, k := range ph.xpos {
		ph.log.DebugContext(ctx, "PHReg covariate",
			slog.String("variable", ph.varnames[k]),
			slog.Float64("sd", ph.xsd[j]))
	}
}

func (ph *PHReg) xnames() []string {
	var xna []string
	for _, k := range ph.xpos {
		xna = append(xna, ph.varnames[k])
	}
	return xna
}

// converged decides whether an optimizer status means that the score
// tolerance was met.
func converged(status optimize.Status, grad []float64, tol float64) bool {
	switch status {
	case optimize.GradientThreshold:
		return true
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge:
		return grad != nil && floats.Norm(grad, math.Inf(1)) <= 1e3*tol
	default:
		return false
	}
}

// Fit fits the model to the data.  If the optimizer does not converge
// the partial results are returned along with an error wrapping
// statmodel.ErrNonConvergence.  If the information matrix cannot be
// inverted the results carry no standard errors and the error wraps
// statmodel.ErrSingularInformation.
func (ph *PHReg) Fit() (*PHResults, error) {

	if ph.l1wgt != nil {
		return ph.fitRegularized()
	}

	nvar := len(ph.xpos)
	xs := ph.xscale

	// The optimizer works on coeff * xscale.
	unscale := func(x []float64) []float64 {
		b := make([]float64, len(x))
		for j := range x {
			b[j] = x[j] / xs[j]
		}
		return b
	}

	start := make([]float64, nvar)
	if ph.start != nil {
		for j := range start {
			start[j] = ph.start[j] * xs[j]
		}
	}

	hbuf := make([]float64, nvar*nvar)
	p := optimize.Problem{
		Func: func(x []float64) float64 {
			return -ph.LogLike(&PHParameter{unscale(x)}, false)
		},
		Grad: func(grad, x []float64) {
			ph.Score(&PHParameter{unscale(x)}, grad)
			for j := range grad {
				grad[j] /= -xs[j]
			}
		},
		Hess: func(hess *mat.SymDense, x []float64) {
			ph.Hessian(&PHParameter{unscale(x)}, statmodel.ObsHess, hbuf)
			for j1 := 0; j1 < nvar; j1++ {
				for j2 := j1; j2 < nvar; j2++ {
					hess.SetSym(j1, j2, -hbuf[j1*nvar+j2]/(xs[j1]*xs[j2]))
				}
			}
		},
	}

	settings := ph.optsettings
	if settings == nil {
		settings = &optimize.Settings{
			GradientThreshold: ph.tol,
			MajorIterations:   ph.maxiter,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-14,
				Iterations: ph.maxiter,
			},
		}
	}

	method := ph.optmethod
	if method == nil {
		method = &optimize.Newton{}
	}

	llnull := ph.logLike(make([]float64, nvar))

	optrslt, err := optimize.Minimize(p, start, settings, method)
	if optrslt == nil {
		return nil, fmt.Errorf("PHReg: %v: %w", err, statmodel.ErrNonConvergence)
	}

	param := unscale(optrslt.X)
	ll := -optrslt.F

	results := &PHResults{
		ph:         ph,
		llnull:     llnull,
		status:     optrslt.Status,
		iterations: optrslt.MajorIterations,
		converged:  err == nil && converged(optrslt.Status, optrslt.Gradient, ph.tol),
	}

	if ph.log != nil {
		ph.log.Debug("PHReg fit",
			slog.String("status", optrslt.Status.String()),
			slog.Int("iterations", optrslt.MajorIterations),
			slog.Float64("loglike", ll))
	}

	vcov, verr := statmodel.GetVcov(ph, &PHParameter{param})
	results.BaseResults = statmodel.NewBaseResults(ph, ll, param, ph.xnames(), vcov)
	ph.checkSeparation(results)

	if !results.converged {
		ph.failMessage(optrslt)
		if err == nil {
			err = optrslt.Status.Err()
		}
		return results, fmt.Errorf("PHReg: optimizer stopped with status %v after %d iterations (%v): %w",
			optrslt.Status, optrslt.MajorIterations, err, statmodel.ErrNonConvergence)
	}

	if verr != nil {
		return results, fmt.Errorf("PHReg: %w", verr)
	}

	return results, nil
}

// Focus returns a new PHReg instance with a single variable, which is variable j in the
// original model.  The effects of the remaining covariates are captured
// through the offset.
func (ph *PHReg) Focus(pos int, coeff []float64, offset []float64) statmodel.RegFitter {

	fph := *ph

	nobs := ph.NumObs()
	if cap(offset) < nobs {
		offset = make([]float64, nobs)
	} else {
		offset = offset[0:nobs]
		zero(offset)
	}

	// Fill in the offset
	for j, k := range ph.xpos {
		if j != pos {
			floats.AddScaled(offset, coeff[j], ph.data[k])
		}
	}

	// Add the original offset if present
	if ph.offsetpos != -1 {
		floats.Add(offset, ph.data[ph.offsetpos])
	}

	fph.varnames = []string{
		ph.varnames[ph.timepos],
		ph.varnames[ph.statuspos],
		ph.varnames[ph.xpos[pos]],
		"__offset",
	}

	fph.data = [][]statmodel.Dtype{
		ph.data[ph.timepos],
		ph.data[ph.statuspos],
		ph.data[ph.xpos[pos]],
		offset,
	}

	fph.timepos = 0
	fph.statuspos = 1
	fph.xpos = []int{2}
	fph.offsetpos = 3
	fph.stratapos = -1
	if ph.stratapos != -1 {
		fph.varnames = append(fph.varnames, ph.varnames[ph.stratapos])
		fph.data = append(fph.data, ph.data[ph.stratapos])
		fph.stratapos = len(fph.data) - 1
	}

	fph.start = []float64{coeff[pos]}
	fph.xscale = []float64{1}
	fph.xsd = []float64{ph.xsd[pos]}
	fph.nslices = nil

	// These are not used for coordinate optimization
	fph.optsettings = nil
	fph.optmethod = nil

	if ph.l2wgt != nil {
		fph.l2wgt = []float64{ph.l2wgt[pos]}
	}

	fph.l1wgtMap = nil
	fph.l1wgt = nil

	return &fph
}

// fitRegularized estimates the parameters of the model using L1
// regularization (with optional L2 regularization).  This invokes
// coordinate descent optimization.
func (ph *PHReg) fitRegularized() (*PHResults, error) {

	start := &PHParameter{
		coeff: make([]float64, len(ph.xpos)),
	}
	if ph.start != nil {
		copy(start.coeff, ph.start)
	}

	par, err := statmodel.FitL1Reg(ph, start, ph.l1wgt, 4*ph.maxiter, true)
	coeff := par.GetCoeff()

	results := &PHResults{
		ph:        ph,
		llnull:    ph.logLike(make([]float64, len(coeff))),
		converged: err == nil,
	}
	results.BaseResults = statmodel.NewBaseResults(ph, ph.LogLike(par, false), coeff, ph.xnames(), nil)

	if err != nil {
		return results, fmt.Errorf("PHReg: %w", err)
	}

	return results, nil
}

func (rslt *PHResults) summaryStats() (int, int, int) {

	ph := rslt.ph
	status := ph.data[ph.statuspos]

	var n, e int
	for _, ix := range ph.stratumix {
		n += ix[1] - ix[0]
		for i := ix[0]; i < ix[1]; i++ {
			e += int(status[i])
		}
	}

	return n, e, len(ph.stratumix)
}

// PHSummary summarizes a fitted proportional hazards regression model.
type PHSummary struct {

	// The model
	ph *PHReg

	// The results structure
	results *PHResults

	// Messages that are appended to the table
	messages []string
}

// Summary displays a summary table of the model results.
func (rslt *PHResults) Summary() *PHSummary {

	return &PHSummary{
		ph:      rslt.ph,
		results: rslt,
	}
}

// String returns a string representation of a summary table for the model.
func (phs *PHSummary) String() string {

	n, e, ns := phs.results.summaryStats()

	ph := phs.ph
	rslt := phs.results
	sum := &statmodel.SummaryTable{
		Msg: append([]string(nil), phs.messages...),
	}

	sum.Title = "Proportional hazards regression analysis"

	sum.Top = append(sum.Top, fmt.Sprintf("  Sample size: %10d", n))
	sum.Top = append(sum.Top, fmt.Sprintf("  Strata:      %10d", ns))
	sum.Top = append(sum.Top, fmt.Sprintf("  Events:      %10d", e))
	sum.Top = append(sum.Top, fmt.Sprintf("  Ties:        %10s", ph.ties))
	sum.Top = append(sum.Top, fmt.Sprintf("  Log-like:    %10.3f", rslt.LogLike()))
	sum.Top = append(sum.Top, fmt.Sprintf("  Converged:   %10t", rslt.converged))

	hr, lcb, ucb := rslt.HazardRatios(0.05)

	if ph.l1wgt == nil && rslt.StdErr() != nil {
		sum.ColNames = []string{"Variable   ", "Coefficient", "SE", "HR", "LCB", "UCB", "Z-score", "P-value"}
		sum.ColFmt = []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtFloats, statmodel.FmtFloats,
			statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats}
		sum.Cols = []interface{}{rslt.Names(), rslt.Params(), rslt.StdErr(), hr, lcb, ucb,
			rslt.ZScores(), rslt.PValues()}

		stat, df, pv := rslt.LRTest()
		sum.Msg = append(sum.Msg, fmt.Sprintf("Likelihood ratio test: %.3f on %d df, p=%.4g", stat, df, pv))
	} else {
		sum.ColNames = []string{"Variable   ", "Coefficient", "HR"}
		sum.ColFmt = []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtFloats, statmodel.FmtFloats}
		sum.Cols = []interface{}{rslt.Names(), rslt.Params(), hr}
	}

	if ph.skipEarlyCensor > 0 {
		msg := fmt.Sprintf("%d observations dropped for being censored before the first event", ph.skipEarlyCensor)
		sum.Msg = append(sum.Msg, msg)
	}

	sum.Msg = append(sum.Msg, rslt.warnings...)

	return sum.String()
}
