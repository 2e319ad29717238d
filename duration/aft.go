package duration

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/statmodel"
)

// Distribution is the error distribution of an accelerated failure time
// model, log T = x'b + sigma*W.
type Distribution int

// Exponential and Weibull models have an extreme value W, with sigma
// fixed at 1 for the exponential.  LogNormal models have a standard
// normal W.
const (
	Exponential Distribution = iota
	Weibull
	LogNormal
)

func (d Distribution) String() string {
	switch d {
	case Exponential:
		return "exponential"
	case Weibull:
		return "weibull"
	case LogNormal:
		return "lognormal"
	default:
		return fmt.Sprintf("Distribution(%d)", int(d))
	}
}

// ParseDistribution converts a distribution name to a Distribution.
func ParseDistribution(s string) (Distribution, error) {
	switch strings.ToLower(s) {
	case "exponential":
		return Exponential, nil
	case "weibull", "":
		return Weibull, nil
	case "lognormal":
		return LogNormal, nil
	default:
		return 0, fmt.Errorf("unknown AFT distribution '%s'", s)
	}
}

// AFTConfig defines configuration parameters for an accelerated failure
// time regression.
type AFTConfig struct {

	// A logger to which logging information is written, optional.
	Log *slog.Logger

	// Start contains starting values for the coefficients, followed
	// by log(scale) unless the distribution is exponential.  If nil,
	// least squares estimates from the log times are used.
	Start []float64

	MaxIter int
	Tol     float64

	// OptMethod is the Gonum optimization used to fit the model,
	// Newton-Raphson if nil.
	OptMethod optimize.Method

	// OptSettings configures the Gonum optimization routine.  If set
	// it overrides MaxIter and Tol.
	OptSettings *optimize.Settings
}

// DefaultAFTConfig returns default configuration values for an
// accelerated failure time regression.
func DefaultAFTConfig() *AFTConfig {
	return &AFTConfig{
		MaxIter: 100,
		Tol:     1e-6,
	}
}

// AFTReg describes a parametric accelerated failure time regression
// model for right censored data.
type AFTReg struct {

	// The data to which the model is fit: time, status, and the
	// covariates
	data     [][]statmodel.Dtype
	varnames []string
	xpos     []int

	// Log times
	logt []float64

	dist Distribution

	// Internal scale factors of the parameters, 1 for constant
	// covariates and for log(scale).
	xscale []float64

	start   []float64
	maxiter int
	tol     float64

	optsettings *optimize.Settings
	optmethod   optimize.Method

	log *slog.Logger
}

// NewAFTReg returns an AFTReg value that can be used to fit an
// accelerated failure time model.  Include a constant column among the
// predictors to fit an intercept.
func NewAFTReg(data statmodel.Dataset, time, status string, predictors []string,
	dist Distribution, config *AFTConfig) (*AFTReg, error) {

	if config == nil {
		config = DefaultAFTConfig()
	}

	if dist < Exponential || dist > LogNormal {
		return nil, fmt.Errorf("AFTReg: unknown distribution %v", dist)
	}
	if len(predictors) == 0 {
		return nil, fmt.Errorf("AFTReg: no predictors")
	}

	pos := make(map[string]int)
	for i, v := range data.Names() {
		pos[v] = i
	}
	da := data.Data()

	aft := &AFTReg{
		dist:        dist,
		start:       config.Start,
		maxiter:     config.MaxIter,
		tol:         config.Tol,
		optsettings: config.OptSettings,
		optmethod:   config.OptMethod,
		log:         config.Log,
	}
	if aft.maxiter <= 0 {
		aft.maxiter = 100
	}
	if aft.tol <= 0 {
		aft.tol = 1e-6
	}

	for j, vn := range append([]string{time, status}, predictors...) {
		loc, ok := pos[vn]
		if !ok {
			return nil, fmt.Errorf("AFTReg: variable '%s' not found in dataset", vn)
		}
		aft.data = append(aft.data, da[loc])
		aft.varnames = append(aft.varnames, vn)
		if j >= 2 {
			aft.xpos = append(aft.xpos, j)
		}
	}

	var nevent int
	aft.logt = make([]float64, len(da[pos[time]]))
	for i, t := range aft.data[0] {
		if !(t > 0) || math.IsInf(t, 0) {
			return nil, fmt.Errorf("AFTReg: times must be positive, row %d has %v", i, t)
		}
		switch aft.data[1][i] {
		case 1:
			nevent++
		case 0:
		default:
			return nil, fmt.Errorf("AFTReg: status in row %d is %v, not 0 or 1", i, aft.data[1][i])
		}
		aft.logt[i] = math.Log(t)
	}
	if nevent == 0 {
		return nil, fmt.Errorf("AFTReg: no events: %w", statmodel.ErrInsufficientData)
	}

	if aft.start != nil && len(aft.start) != aft.NumParams() {
		return nil, fmt.Errorf("AFTReg: %d starting values for %d parameters", len(aft.start), aft.NumParams())
	}

	aft.setScale()

	return aft, nil
}

func (aft *AFTReg) setScale() {
	aft.xscale = make([]float64, aft.NumParams())
	for j := range aft.xscale {
		aft.xscale[j] = 1
	}
	for j, k := range aft.xpos {
		s, err := statmodel.ScaleFactors(aft.data, []int{k}, aft.varnames, statmodel.Variance)
		if err == nil {
			aft.xscale[j] = s[0]
		}
	}
}

// NumObs returns the number of observations.
func (aft *AFTReg) NumObs() int {
	return len(aft.logt)
}

// NumParams returns the number of covariate coefficients, plus one for
// log(scale) unless the distribution is exponential.
func (aft *AFTReg) NumParams() int {
	if aft.dist == Exponential {
		return len(aft.xpos)
	}
	return len(aft.xpos) + 1
}

// Xpos returns the positions of the covariates in the model's data.
func (aft *AFTReg) Xpos() []int {
	return aft.xpos
}

// Dataset returns the data columns used to fit the model.
func (aft *AFTReg) Dataset() [][]statmodel.Dtype {
	return aft.data
}

// Distribution returns the error distribution of the model.
func (aft *AFTReg) Distribution() Distribution {
	return aft.dist
}

func (aft *AFTReg) logScale(params []float64) float64 {
	if aft.dist == Exponential {
		return 0
	}
	return params[len(aft.xpos)]
}

// standardized returns z = (log t - x'b) / sigma for row i.
func (aft *AFTReg) standardized(params []float64, sigma float64, i int) float64 {
	var mu float64
	for j, k := range aft.xpos {
		mu += params[j] * aft.data[k][i]
	}
	return (aft.logt[i] - mu) / sigma
}

const log2Pi = 1.8378770664093453

// logNormSurv returns log(1 - Phi(z)) and the inverse Mills ratio
// phi(z) / (1 - Phi(z)).
func logNormSurv(z float64) (float64, float64) {
	var ls float64
	if z < 30 {
		ls = math.Log(0.5 * math.Erfc(z/math.Sqrt2))
	} else {
		// Asymptotic expansion of the normal tail
		ls = -z*z/2 - math.Log(z) - log2Pi/2 + math.Log1p(-1/(z*z))
	}
	mills := math.Exp(-z*z/2 - log2Pi/2 - ls)
	return ls, mills
}

// LogLike returns the log-likelihood at the given parameter value,
// including the Jacobian of the log transformation, so that it is the
// log density of the observed times.  The 'exact' parameter is
// ignored.
func (aft *AFTReg) LogLike(param statmodel.Parameter, exact bool) float64 {

	params := param.GetCoeff()
	ls := aft.logScale(params)
	sigma := math.Exp(ls)
	status := aft.data[1]

	var ll float64
	for i := range aft.logt {
		z := aft.standardized(params, sigma, i)
		event := status[i] == 1

		switch aft.dist {
		case Exponential, Weibull:
			ez := math.Exp(z)
			if event {
				ll += z - ez - ls - aft.logt[i]
			} else {
				ll -= ez
			}
		case LogNormal:
			if event {
				ll += -z*z/2 - log2Pi/2 - ls - aft.logt[i]
			} else {
				s, _ := logNormSurv(z)
				ll += s
			}
		}
	}

	return ll
}

// Score computes the gradient of the log-likelihood.
func (aft *AFTReg) Score(param statmodel.Parameter, score []float64) {

	params := param.GetCoeff()
	ls := aft.logScale(params)
	sigma := math.Exp(ls)
	status := aft.data[1]
	p := len(aft.xpos)

	zero(score)
	for i := range aft.logt {
		z := aft.standardized(params, sigma, i)
		event := status[i] == 1

		// a is the derivative of the contribution with respect to z,
		// and c collects the terms of the log(scale) derivative that
		// do not go through z.
		var a, c float64
		switch aft.dist {
		case Exponential, Weibull:
			ez := math.Exp(z)
			if event {
				a = 1 - ez
				c = -1
			} else {
				a = -ez
			}
		case LogNormal:
			if event {
				a = -z
				c = -1
			} else {
				_, m := logNormSurv(z)
				a = -m
			}
		}

		// dz/db = -x/sigma, dz/dlog(sigma) = -z
		for j, k := range aft.xpos {
			score[j] -= a * aft.data[k][i] / sigma
		}
		if aft.dist != Exponential {
			score[p] += -a*z + c
		}
	}
}

// Hessian computes the Hessian of the log-likelihood by numerically
// differentiating the analytic score.  The Hessian type is ignored.
func (aft *AFTReg) Hessian(param statmodel.Parameter, ht statmodel.HessType, hess []float64) {

	q := aft.NumParams()
	x := append([]float64(nil), param.GetCoeff()...)

	f := func(y, x []float64) {
		aft.Score(statmodel.NewGenericParameter(x), y)
	}

	jac := mat.NewDense(q, q, nil)
	fd.Jacobian(jac, f, x, &fd.JacobianSettings{
		Formula: fd.Central,
	})

	for j1 := 0; j1 < q; j1++ {
		for j2 := 0; j2 < q; j2++ {
			hess[j1*q+j2] = (jac.At(j1, j2) + jac.At(j2, j1)) / 2
		}
	}
}

// startValues regresses the log times on the covariates by least
// squares.
func (aft *AFTReg) startValues() []float64 {

	q := aft.NumParams()
	p := len(aft.xpos)
	n := aft.NumObs()
	start := make([]float64, q)

	xm := mat.NewDense(n, p, nil)
	for j, k := range aft.xpos {
		for i := 0; i < n; i++ {
			xm.Set(i, j, aft.data[k][i])
		}
	}
	y := mat.NewVecDense(n, append([]float64(nil), aft.logt...))

	var b mat.VecDense
	if n <= p || b.SolveVec(xm, y) != nil {
		return start
	}
	copy(start, b.RawVector().Data)

	if aft.dist != Exponential {
		var fit mat.VecDense
		fit.MulVec(xm, &b)
		fit.SubVec(y, &fit)
		sd := floats.Norm(fit.RawVector().Data, 2) / math.Sqrt(float64(n))
		if sd > 0 {
			start[p] = math.Log(sd)
		}
	}

	return start
}

// Fit fits the model to the data.  Optimizer failures are reported as
// for PHReg.Fit.
func (aft *AFTReg) Fit() (*AFTResults, error) {

	q := aft.NumParams()
	xs := aft.xscale

	unscale := func(x []float64) []float64 {
		b := make([]float64, len(x))
		for j := range x {
			b[j] = x[j] / xs[j]
		}
		return b
	}

	start := aft.start
	if start == nil {
		start = aft.startValues()
	}
	theta := make([]float64, q)
	for j := range theta {
		theta[j] = start[j] * xs[j]
	}

	hbuf := make([]float64, q*q)
	p := optimize.Problem{
		Func: func(x []float64) float64 {
			return -aft.LogLike(statmodel.NewGenericParameter(unscale(x)), false)
		},
		Grad: func(grad, x []float64) {
			aft.Score(statmodel.NewGenericParameter(unscale(x)), grad)
			for j := range grad {
				grad[j] /= -xs[j]
			}
		},
		Hess: func(hess *mat.SymDense, x []float64) {
			aft.Hessian(statmodel.NewGenericParameter(unscale(x)), statmodel.ObsHess, hbuf)
			for j1 := 0; j1 < q; j1++ {
				for j2 := j1; j2 < q; j2++ {
					hess.SetSym(j1, j2, -hbuf[j1*q+j2]/(xs[j1]*xs[j2]))
				}
			}
		},
	}

	settings := aft.optsettings
	if settings == nil {
		settings = &optimize.Settings{
			GradientThreshold: aft.tol,
			MajorIterations:   aft.maxiter,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-14,
				Iterations: aft.maxiter,
			},
		}
	}

	method := aft.optmethod
	if method == nil {
		method = &optimize.Newton{}
	}

	optrslt, err := optimize.Minimize(p, theta, settings, method)
	if optrslt == nil {
		return nil, fmt.Errorf("AFTReg: %v: %w", err, statmodel.ErrNonConvergence)
	}

	param := unscale(optrslt.X)
	results := &AFTResults{
		aft:        aft,
		status:     optrslt.Status,
		iterations: optrslt.MajorIterations,
		converged:  err == nil && converged(optrslt.Status, optrslt.Gradient, aft.tol),
	}

	if aft.log != nil {
		aft.log.Debug("AFTReg fit",
			slog.String("distribution", aft.dist.String()),
			slog.String("status", optrslt.Status.String()),
			slog.Int("iterations", optrslt.MajorIterations),
			slog.Float64("loglike", -optrslt.F))
	}

	vcov, verr := statmodel.GetVcov(aft, statmodel.NewGenericParameter(param))
	results.BaseResults = statmodel.NewBaseResults(aft, -optrslt.F, param, aft.paramNames(), vcov)

	if !results.converged {
		if err == nil {
			err = optrslt.Status.Err()
		}
		return results, fmt.Errorf("AFTReg: optimizer stopped with status %v after %d iterations (%v): %w",
			optrslt.Status, optrslt.MajorIterations, err, statmodel.ErrNonConvergence)
	}

	if verr != nil {
		return results, fmt.Errorf("AFTReg: %w", verr)
	}

	return results, nil
}

func (aft *AFTReg) paramNames() []string {
	var na []string
	for _, k := range aft.xpos {
		na = append(na, aft.varnames[k])
	}
	if aft.dist != Exponential {
		na = append(na, "log(scale)")
	}
	return na
}

// AFTResults describes the results of a fitted accelerated failure time
// model.
type AFTResults struct {
	statmodel.BaseResults

	aft *AFTReg

	converged  bool
	status     optimize.Status
	iterations int
}

// Converged reports whether the optimizer met the convergence tolerance.
func (rslt *AFTResults) Converged() bool {
	return rslt.converged
}

// Iterations returns the number of major optimizer iterations.
func (rslt *AFTResults) Iterations() int {
	return rslt.iterations
}

// Distribution returns the error distribution of the fitted model.
func (rslt *AFTResults) Distribution() Distribution {
	return rslt.aft.dist
}

// Coeff returns the covariate coefficients on the log time scale.
func (rslt *AFTResults) Coeff() []float64 {
	return rslt.Params()[0:len(rslt.aft.xpos)]
}

// Scale returns sigma, which is 1 for the exponential distribution.
func (rslt *AFTResults) Scale() float64 {
	return math.Exp(rslt.aft.logScale(rslt.Params()))
}

// Shape returns the Weibull shape parameter 1/sigma.
func (rslt *AFTResults) Shape() float64 {
	return 1 / rslt.Scale()
}

// AccelerationFactors returns exp(b) for each covariate; a factor above
// one stretches survival times.
func (rslt *AFTResults) AccelerationFactors() []float64 {
	c := rslt.Coeff()
	af := make([]float64, len(c))
	for j, b := range c {
		af[j] = math.Exp(b)
	}
	return af
}

func (rslt *AFTResults) location(x []float64) (float64, error) {
	c := rslt.Coeff()
	if len(x) != len(c) {
		return 0, fmt.Errorf("covariate vector has length %d, model has %d coefficients: %w",
			len(x), len(c), statmodel.ErrInvalidCovariate)
	}
	for j, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("covariate '%s' is not finite: %w", rslt.Names()[j], statmodel.ErrInvalidCovariate)
		}
	}
	return floats.Dot(x, c), nil
}

// Survival returns S(t|x) at each of the given times.
func (rslt *AFTResults) Survival(x, times []float64) ([]float64, error) {

	mu, err := rslt.location(x)
	if err != nil {
		return nil, err
	}
	sigma := rslt.Scale()

	s := make([]float64, len(times))
	for i, t := range times {
		if t <= 0 {
			s[i] = 1
			continue
		}
		z := (math.Log(t) - mu) / sigma
		switch rslt.aft.dist {
		case Exponential, Weibull:
			s[i] = math.Exp(-math.Exp(z))
		case LogNormal:
			s[i] = distuv.UnitNormal.Survival(z)
		}
	}

	return s, nil
}

// Quantiles returns the times at which the fitted distribution function
// for covariate vector x reaches each of the given probabilities.
func (rslt *AFTResults) Quantiles(x, probs []float64) ([]float64, error) {

	mu, err := rslt.location(x)
	if err != nil {
		return nil, err
	}
	sigma := rslt.Scale()

	q := make([]float64, len(probs))
	for i, p := range probs {
		if p <= 0 || p >= 1 {
			return nil, fmt.Errorf("probability %v is not in (0, 1)", p)
		}
		var w float64
		switch rslt.aft.dist {
		case Exponential, Weibull:
			w = math.Log(-math.Log1p(-p))
		case LogNormal:
			w = distuv.UnitNormal.Quantile(p)
		}
		q[i] = math.Exp(mu + sigma*w)
	}

	return q, nil
}

// AFTSummary summarizes a fitted accelerated failure time model.
type AFTSummary struct {
	results *AFTResults
}

// Summary returns a summary of the fitted model.
func (rslt *AFTResults) Summary() *AFTSummary {
	return &AFTSummary{results: rslt}
}

// String returns a summary table of the fitted model.
func (s *AFTSummary) String() string {

	rslt := s.results
	aft := rslt.aft
	var nevent int
	for _, v := range aft.data[1] {
		nevent += int(v)
	}

	sum := &statmodel.SummaryTable{
		Title: "Accelerated failure time regression analysis",
	}
	sum.Top = append(sum.Top, fmt.Sprintf("  Distribution: %12s", aft.dist))
	sum.Top = append(sum.Top, fmt.Sprintf("  Sample size:  %12d", aft.NumObs()))
	sum.Top = append(sum.Top, fmt.Sprintf("  Events:       %12d", nevent))
	sum.Top = append(sum.Top, fmt.Sprintf("  Log-like:     %12.3f", rslt.LogLike()))
	sum.Top = append(sum.Top, fmt.Sprintf("  Scale:        %12.4f", rslt.Scale()))
	sum.Top = append(sum.Top, fmt.Sprintf("  Converged:    %12t", rslt.converged))

	if rslt.StdErr() != nil {
		sum.ColNames = []string{"Variable   ", "Coefficient", "SE", "Z-score", "P-value"}
		sum.ColFmt = []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtFloats, statmodel.FmtFloats,
			statmodel.FmtFloats, statmodel.FmtFloats}
		sum.Cols = []interface{}{rslt.Names(), rslt.Params(), rslt.StdErr(), rslt.ZScores(), rslt.PValues()}
	} else {
		sum.ColNames = []string{"Variable   ", "Coefficient"}
		sum.ColFmt = []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtFloats}
		sum.Cols = []interface{}{rslt.Names(), rslt.Params()}
	}

	if aft.dist == Weibull {
		sum.Msg = append(sum.Msg, fmt.Sprintf("Weibull shape: %.4f", rslt.Shape()))
	}

	return sum.String()
}
