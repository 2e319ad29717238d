package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/duration"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultProbs are the cumulative probabilities at which AFT survival
// curves are predicted.
var DefaultProbs = []float64{0.05, 0.1, 0.25, 0.5, 0.75, 0.9, 0.95}

// AFTSpec describes an accelerated failure time model in terms of table
// covariates.  The model always includes an intercept.
type AFTSpec struct {
	Covariates []string

	// Distribution is "weibull" (the default), "exponential" or
	// "lognormal".
	Distribution string

	MaxIter int
	Tol     float64
	Alpha   float64

	Log *slog.Logger
}

// AFTModel is a fitted accelerated failure time model.
type AFTModel struct {
	spec    AFTSpec
	design  *dataset.Design
	results *duration.AFTResults
}

// FitAFT fits an accelerated failure time model.  As with FitCox, a
// model with estimates is returned alongside a fitting error.
func FitAFT(tb *dataset.Table, spec *AFTSpec) (*AFTModel, error) {

	dist, err := duration.ParseDistribution(spec.Distribution)
	if err != nil {
		return nil, err
	}

	design, err := dataset.NewDesign(tb, spec.Covariates, true)
	if err != nil {
		return nil, err
	}

	frame, err := design.Frame(tb, nil)
	if err != nil {
		return nil, err
	}

	config := duration.DefaultAFTConfig()
	config.Log = spec.Log
	if spec.MaxIter > 0 {
		config.MaxIter = spec.MaxIter
	}
	if spec.Tol > 0 {
		config.Tol = spec.Tol
	}

	aft, err := duration.NewAFTReg(frame, dataset.TimeVar, dataset.StatusVar, design.Columns(), dist, config)
	if err != nil {
		return nil, err
	}

	m := &AFTModel{
		spec:   *spec,
		design: design,
	}

	m.results, err = aft.Fit()
	if m.results == nil {
		return nil, err
	}

	return m, err
}

// Results returns the fitted model.
func (m *AFTModel) Results() *duration.AFTResults {
	return m.results
}

// Predict returns the fitted survival time quantiles of a subject at the
// cumulative probabilities probs, DefaultProbs if nil.  The survival
// curve passes through (quantile, 1-p).
func (m *AFTModel) Predict(cov map[string]dataset.Value, probs []float64) (*Prediction, error) {

	if probs == nil {
		probs = DefaultProbs
	}

	x, err := m.design.Row(cov)
	if err != nil {
		return nil, err
	}

	q, err := m.results.Quantiles(x, probs)
	if err != nil {
		return nil, err
	}

	surv := make([]float64, len(probs))
	for i, p := range probs {
		surv[i] = 1 - p
	}

	return &Prediction{
		Query:    queryText(cov),
		Time:     q,
		Survival: surv,
	}, nil
}

// AFTReport summarizes a fitted accelerated failure time model.  The
// coefficient ratios are acceleration factors; the log(scale) row has
// none.
type AFTReport struct {
	Terms        []string     `json:"terms"`
	Distribution string       `json:"distribution"`
	Converged    bool         `json:"converged"`
	Iterations   int          `json:"iterations"`
	LogLike      Float        `json:"loglike"`
	Scale        Float        `json:"scale"`
	Shape        Float        `json:"shape,omitempty"`
	Alpha        float64      `json:"alpha"`
	Coefs        []Coef       `json:"coefs"`
	Predictions  []Prediction `json:"predictions,omitempty"`

	text string
}

// Report returns the coefficient table and fit statistics.
func (m *AFTModel) Report() *AFTReport {

	rslt := m.results
	alpha := 0.05
	if m.spec.Alpha > 0 && m.spec.Alpha < 1 {
		alpha = m.spec.Alpha
	}

	rpt := &AFTReport{
		Terms:        m.spec.Covariates,
		Distribution: rslt.Distribution().String(),
		Converged:    rslt.Converged(),
		Iterations:   rslt.Iterations(),
		LogLike:      Float(rslt.LogLike()),
		Scale:        Float(rslt.Scale()),
		Alpha:        alpha,
		text:         rslt.Summary().String(),
	}
	if rslt.Distribution() == duration.Weibull {
		rpt.Shape = Float(rslt.Shape())
	}

	params := rslt.Params()
	se := rslt.StdErr()
	ncoef := len(rslt.Coeff())

	ratio := make([]float64, len(params))
	lcb := make([]float64, len(params))
	ucb := make([]float64, len(params))
	z := distuv.UnitNormal.Quantile(1 - alpha/2)
	for j, b := range params {
		if j >= ncoef {
			ratio[j], lcb[j], ucb[j] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		ratio[j] = math.Exp(b)
		if se == nil {
			lcb[j], ucb[j] = math.NaN(), math.NaN()
			continue
		}
		lcb[j] = math.Exp(b - z*se[j])
		ucb[j] = math.Exp(b + z*se[j])
	}

	rpt.Coefs = coefTable(rslt.Names(), params, se, rslt.ZScores(), rslt.PValues(), ratio, lcb, ucb)

	return rpt
}

func (r *AFTReport) String() string {

	var b strings.Builder
	b.WriteString(r.text)
	for _, c := range r.Coefs {
		if !math.IsNaN(float64(c.Ratio)) {
			fmt.Fprintf(&b, "Acceleration factor %s: %.4f\n", c.Name, float64(c.Ratio))
		}
	}
	for _, p := range r.Predictions {
		b.WriteString("\n")
		b.WriteString(p.String())
	}

	return b.String()
}
