package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/duration"
	"github.com/kshedden/survstat/statmodel"
)

// CoxSpec describes a proportional hazards model in terms of table
// covariates.
type CoxSpec struct {

	// Covariates lists the model terms, which may include
	// interactions written "a:b" or "a*b".
	Covariates []string

	// Strata lists categorical covariates whose level combinations
	// get separate baseline hazards.
	Strata []string

	// Ties is "breslow" (the default) or "efron".
	Ties string

	// L1 and L2 are penalty weights applied to every coefficient.
	L1 float64
	L2 float64

	MaxIter int
	Tol     float64

	// Alpha is the level for confidence limits, 0.05 if zero.
	Alpha float64

	Log *slog.Logger
}

// CoxModel is a fitted proportional hazards model together with the
// design that maps covariate vectors to model rows.
type CoxModel struct {
	spec    CoxSpec
	design  *dataset.Design
	strata  *dataset.Strata
	results *duration.PHResults

	// phStratum maps positions in strata.Keys to the model's stratum
	// indices.
	phStratum []int
}

// FitCox fits a proportional hazards model.  When the fit fails after
// producing estimates, as for non-convergence or a singular
// information matrix, both the model and the error are returned.
func FitCox(tb *dataset.Table, spec *CoxSpec) (*CoxModel, error) {

	if len(spec.Covariates) == 0 {
		return nil, fmt.Errorf("Cox model has no covariates: %w", statmodel.ErrInvalidCovariate)
	}

	design, err := dataset.NewDesign(tb, spec.Covariates, false)
	if err != nil {
		return nil, err
	}

	var st *dataset.Strata
	if len(spec.Strata) > 0 {
		st, err = tb.Strata(spec.Strata...)
		if err != nil {
			return nil, err
		}
	}

	frame, err := design.Frame(tb, st)
	if err != nil {
		return nil, err
	}

	config := duration.DefaultPHRegConfig()
	config.Log = spec.Log
	config.Ties, err = duration.ParseTies(spec.Ties)
	if err != nil {
		return nil, err
	}
	if st != nil {
		config.StrataVar = dataset.StratumVar
	}
	if spec.MaxIter > 0 {
		config.MaxIter = spec.MaxIter
	}
	if spec.Tol > 0 {
		config.Tol = spec.Tol
	}
	if spec.L1 > 0 || spec.L2 > 0 {
		config.L1Penalty = make(map[string]float64)
		config.L2Penalty = make(map[string]float64)
		for _, c := range design.Columns() {
			config.L1Penalty[c] = spec.L1
			config.L2Penalty[c] = spec.L2
		}
		if spec.L1 == 0 {
			config.L1Penalty = nil
		}
	}

	ph, err := duration.NewPHReg(frame, dataset.TimeVar, dataset.StatusVar, design.Columns(), config)
	if err != nil {
		return nil, err
	}

	m := &CoxModel{
		spec:   *spec,
		design: design,
		strata: st,
	}

	if st != nil {
		m.phStratum = make([]int, len(st.Keys))
		for s, c := range ph.StratumCodes() {
			m.phStratum[int(c)] = s
		}
	}

	m.results, err = ph.Fit()
	if m.results == nil {
		return nil, err
	}

	return m, err
}

// Results returns the fitted model.
func (m *CoxModel) Results() *duration.PHResults {
	return m.results
}

// Design returns the design that maps covariates to model columns.
func (m *CoxModel) Design() *dataset.Design {
	return m.design
}

func (m *CoxModel) alpha() float64 {
	if m.spec.Alpha > 0 && m.spec.Alpha < 1 {
		return m.spec.Alpha
	}
	return 0.05
}

// Predict returns the survival and cumulative hazard curves of a subject
// with the given covariates.  For a stratified model the query must
// include the stratification covariates.  The error wraps
// statmodel.ErrInvalidCovariate for an incomplete or malformed query.
func (m *CoxModel) Predict(cov map[string]dataset.Value) (*Prediction, error) {

	x, err := m.design.Row(cov)
	if err != nil {
		return nil, err
	}

	var s int
	var label string
	if m.strata != nil {
		var k int
		k, label, err = stratumOf(m.strata, m.spec.Strata, cov)
		if err != nil {
			return nil, err
		}
		s = m.phStratum[k]
	}

	t, h, err := m.results.PredictCumHaz(x, s)
	if err != nil {
		return nil, err
	}

	surv := make([]float64, len(h))
	for i := range h {
		surv[i] = math.Exp(-h[i])
	}

	return &Prediction{
		Query:    queryText(cov),
		Stratum:  label,
		Time:     t,
		Survival: surv,
		CumHaz:   h,
	}, nil
}

// CoxReport summarizes a fitted proportional hazards model.
type CoxReport struct {
	Terms       []string     `json:"terms"`
	Strata      []string     `json:"strata,omitempty"`
	Ties        string       `json:"ties"`
	N           int          `json:"n"`
	Events      int          `json:"events"`
	Converged   bool         `json:"converged"`
	Iterations  int          `json:"iterations"`
	LogLike     Float        `json:"loglike"`
	NullLogLike Float        `json:"null_loglike"`
	LRStat      Float        `json:"lr_stat"`
	LRDF        int          `json:"lr_df"`
	LRPValue    Float        `json:"lr_p"`
	Concordance Float        `json:"concordance"`
	Alpha       float64      `json:"alpha"`
	Coefs       []Coef       `json:"coefs"`
	Warnings    []string     `json:"warnings,omitempty"`
	Predictions []Prediction `json:"predictions,omitempty"`

	text string
}

// Report returns the coefficient table and fit statistics.
func (m *CoxModel) Report() *CoxReport {

	rslt := m.results
	ph := rslt.Model().(*duration.PHReg)
	alpha := m.alpha()

	stat, df, pv := rslt.LRTest()
	conc, err := rslt.Concordance(math.Inf(1))
	if err != nil {
		conc = math.NaN()
	}

	var nev int
	for _, v := range ph.Dataset()[1] {
		nev += int(v)
	}

	rpt := &CoxReport{
		Terms:       m.spec.Covariates,
		Strata:      m.spec.Strata,
		Ties:        ph.Ties().String(),
		N:           ph.NumObs(),
		Events:      nev,
		Converged:   rslt.Converged(),
		Iterations:  rslt.Iterations(),
		LogLike:     Float(rslt.LogLike()),
		NullLogLike: Float(rslt.NullLogLike()),
		LRStat:      Float(stat),
		LRDF:        df,
		LRPValue:    Float(pv),
		Concordance: Float(conc),
		Alpha:       alpha,
		Warnings:    rslt.Warnings(),
		text:        rslt.Summary().String(),
	}

	hr, lcb, ucb := rslt.HazardRatios(alpha)
	rpt.Coefs = coefTable(rslt.Names(), rslt.Params(), rslt.StdErr(), rslt.ZScores(), rslt.PValues(),
		hr, lcb, ucb)

	return rpt
}

// coefTable assembles coefficient rows, leaving inference columns NaN
// when they are unavailable.
func coefTable(names []string, params, se, z, p, ratio, lcb, ucb []float64) []Coef {

	get := func(x []float64, j int) Float {
		if x == nil {
			return Float(math.NaN())
		}
		return Float(x[j])
	}

	rows := make([]Coef, len(names))
	for j, na := range names {
		rows[j] = Coef{
			Name:   na,
			Coef:   Float(params[j]),
			SE:     get(se, j),
			Z:      get(z, j),
			PValue: get(p, j),
			Ratio:  get(ratio, j),
			LCB:    get(lcb, j),
			UCB:    get(ucb, j),
		}
	}

	return rows
}

func (r *CoxReport) String() string {

	var b strings.Builder
	b.WriteString(r.text)
	fmt.Fprintf(&b, "Concordance: %.4f\n", float64(r.Concordance))
	for _, w := range r.Warnings {
		b.WriteString("Warning: " + w + "\n")
	}
	for _, p := range r.Predictions {
		b.WriteString("\n")
		b.WriteString(p.String())
	}

	return b.String()
}

func (p *Prediction) String() string {

	var q []string
	for _, k := range sortedKeys(p.Query) {
		q = append(q, k+"="+p.Query[k])
	}

	tab := &statmodel.SummaryTable{
		Title:    "Prediction: " + strings.Join(q, ", "),
		ColNames: []string{"Time", "Survival"},
		ColFmt:   []statmodel.Fmter{statmodel.FmtFloats, statmodel.FmtFloats},
		Cols:     []interface{}{p.Time, p.Survival},
	}
	if p.CumHaz != nil {
		tab.ColNames = append(tab.ColNames, "Cum. hazard")
		tab.ColFmt = append(tab.ColFmt, statmodel.FmtFloats)
		tab.Cols = append(tab.Cols, p.CumHaz)
	}
	if p.Stratum != "" {
		tab.Top = []string{"Stratum: " + p.Stratum}
	}

	return tab.String()
}

// ZPHRow is the proportional hazards test of one model column.
type ZPHRow struct {
	Name   string `json:"name"`
	Rho    Float  `json:"rho"`
	Chi2   Float  `json:"chi2"`
	PValue Float  `json:"p"`
}

// ZPHReport holds tests of the proportional hazards assumption.
type ZPHReport struct {
	Transform    string   `json:"transform"`
	Rows         []ZPHRow `json:"rows"`
	GlobalChi2   Float    `json:"global_chi2"`
	GlobalDF     int      `json:"global_df"`
	GlobalPValue Float    `json:"global_p"`

	text string
}

// CheckPH tests the proportional hazards assumption of the fitted model
// using the scaled Schoenfeld residuals against the given time
// transform: "km" (the default), "rank", "identity" or "log".
func (m *CoxModel) CheckPH(transform string) (*ZPHReport, error) {

	config := duration.DefaultZPHConfig()
	if transform != "" {
		config.Transform = duration.TimeTransform(strings.ToLower(transform))
	}

	zr, err := m.results.ZPH(config)
	if err != nil {
		return nil, err
	}

	rpt := &ZPHReport{
		Transform:    string(zr.Transform),
		GlobalChi2:   Float(zr.GlobalChi2),
		GlobalDF:     zr.GlobalDF,
		GlobalPValue: Float(zr.GlobalPValue),
		text:         zr.String(),
	}
	for j, na := range zr.Names {
		rpt.Rows = append(rpt.Rows, ZPHRow{
			Name:   na,
			Rho:    Float(zr.Rho[j]),
			Chi2:   Float(zr.Chi2[j]),
			PValue: Float(zr.PValue[j]),
		})
	}

	return rpt, nil
}

func (r *ZPHReport) String() string {
	return r.text
}
