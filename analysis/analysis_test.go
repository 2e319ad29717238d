package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/statmodel"
)

// simTable simulates exponential survival with a treatment effect of
// 0.7 on the log hazard, an age effect of 0.02 per year, uniform
// censoring, and a cause code splitting events into two causes.
func simTable(t *testing.T, n int, seed uint64) *dataset.Table {

	src := rand.NewPCG(seed, 17)
	age := distuv.Normal{Mu: 60, Sigma: 10, Src: src}
	cens := distuv.Uniform{Min: 0, Max: 200, Src: src}
	unif := distuv.Uniform{Min: 0, Max: 1, Src: src}

	sub := make([]dataset.Subject, n)
	for i := range sub {
		a := age.Rand()
		rx, sex := "A", "F"
		lp := 0.02 * (a - 60)
		if i%2 == 1 {
			rx = "B"
			lp += 0.7
		}
		if unif.Rand() < 0.5 {
			sex = "M"
		}

		e := distuv.Exponential{Rate: 0.01 * math.Exp(lp), Src: src}.Rand()
		c := cens.Rand()

		var cause float64
		tm := c
		if e <= c {
			tm = e
			cause = 1
			if unif.Rand() < 0.4 {
				cause = 2
			}
		}

		sub[i] = dataset.Subject{
			ID:    i + 1,
			Time:  tm,
			Event: cause > 0,
			Covariates: map[string]dataset.Value{
				"age":   dataset.Num(a),
				"rx":    dataset.Cat(rx),
				"sex":   dataset.Cat(sex),
				"cause": dataset.Num(cause),
			},
		}
	}

	tb, err := dataset.New(sub)
	require.NoError(t, err)
	return tb
}

func TestFloatJSON(t *testing.T) {

	b, err := json.Marshal([]Float{1.5, Float(math.NaN()), Float(math.Inf(1))})
	require.NoError(t, err)
	assert.Equal(t, "[1.5,null,null]", string(b))
}

func TestParseQuery(t *testing.T) {

	tb := simTable(t, 50, 1)

	cov, err := ParseQuery(tb, map[string]string{"age": "55.5", "rx": "B"})
	require.NoError(t, err)
	assert.Equal(t, dataset.Num(55.5), cov["age"])
	assert.Equal(t, dataset.Cat("B"), cov["rx"])

	_, err = ParseQuery(tb, map[string]string{"weight": "70"})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	_, err = ParseQuery(tb, map[string]string{"age": "old"})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	_, err = ParseQuery(tb, map[string]string{"age": "NaN"})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)
}

func TestDescribe(t *testing.T) {

	tb := simTable(t, 400, 2)

	rpt, err := Describe(tb, nil)
	require.NoError(t, err)
	assert.Equal(t, 400, rpt.N)
	require.Len(t, rpt.Covariates, 4)

	var nev float64
	for _, s := range tb.Status() {
		nev += s
	}
	assert.Equal(t, int(nev), rpt.Events)

	// Sorted names: age, cause, rx, sex
	age := rpt.Covariates[0]
	assert.Equal(t, "numeric", age.Kind)
	assert.InDelta(t, 60, float64(age.Mean), 2)
	assert.InDelta(t, 10, float64(age.SD), 2)
	assert.LessOrEqual(t, float64(age.Min), float64(age.Q1))
	assert.LessOrEqual(t, float64(age.Q1), float64(age.Median))
	assert.LessOrEqual(t, float64(age.Median), float64(age.Q3))
	assert.LessOrEqual(t, float64(age.Q3), float64(age.Max))

	rx := rpt.Covariates[2]
	assert.Equal(t, map[string]int{"A": 200, "B": 200}, rx.Counts)
	assert.Greater(t, rx.EventRate["B"], rx.EventRate["A"])

	assert.Contains(t, rpt.String(), "Categorical covariates")

	_, err = Describe(tb, []string{"weight"})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)
}

func TestKaplanMeier(t *testing.T) {

	tb := simTable(t, 300, 3)

	rpt, err := KaplanMeier(tb, &KMSpec{Strata: []string{"rx"}, Times: []float64{0, 50}})
	require.NoError(t, err)
	require.Len(t, rpt.Curves, 2)
	assert.Equal(t, 0.05, rpt.Alpha)

	assert.Equal(t, "rx=A", rpt.Curves[0].Stratum)
	assert.Equal(t, "rx=B", rpt.Curves[1].Stratum)

	for _, c := range rpt.Curves {
		assert.Equal(t, 150, c.N)
		assert.Equal(t, 150.0, c.AtRisk[0])
		assert.LessOrEqual(t, c.AtRisk[1], c.AtRisk[0])
		for i := range c.Surv {
			assert.LessOrEqual(t, c.LCB[i], c.Surv[i]+1e-12)
			assert.GreaterOrEqual(t, c.UCB[i], c.Surv[i]-1e-12)
			if i > 0 {
				assert.LessOrEqual(t, c.Surv[i], c.Surv[i-1])
			}
		}
	}

	// The treated arm has the higher hazard.
	a, b := rpt.Curves[0], rpt.Curves[1]
	assert.True(t, b.MedianOK)
	if a.MedianOK {
		assert.Less(t, float64(b.Median), float64(a.Median))
	}

	assert.Contains(t, rpt.String(), "Kaplan-Meier estimate: rx=B")

	_, err = KaplanMeier(tb, &KMSpec{Alpha: 1.5})
	assert.Error(t, err)

	_, err = KaplanMeier(tb, &KMSpec{Strata: []string{"age"}})
	assert.Error(t, err)
}

func TestLogRank(t *testing.T) {

	tb := simTable(t, 400, 4)

	rpt, err := LogRank(tb, []string{"rx"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"rx=A", "rx=B"}, rpt.Groups)
	assert.Equal(t, []int{200, 200}, rpt.N)
	assert.Equal(t, 1, rpt.DF)
	assert.Less(t, float64(rpt.PValue), 0.01)

	// Total observed equals total expected.
	assert.InDelta(t, rpt.Observed[0]+rpt.Observed[1], rpt.Expected[0]+rpt.Expected[1], 1e-8)

	fh, err := LogRank(tb, []string{"rx"}, 1)
	require.NoError(t, err)
	assert.Less(t, float64(fh.PValue), 0.05)
	assert.Contains(t, fh.String(), "Fleming-Harrington")

	two, err := LogRank(tb, []string{"rx", "sex"}, 0)
	require.NoError(t, err)
	assert.Len(t, two.Groups, 4)
	assert.Equal(t, 3, two.DF)

	_, err = LogRank(tb, nil, 0)
	assert.ErrorIs(t, err, statmodel.ErrInsufficientData)
}

func TestFitCox(t *testing.T) {

	tb := simTable(t, 600, 5)

	m, err := FitCox(tb, &CoxSpec{Covariates: []string{"rx", "age"}})
	require.NoError(t, err)

	rpt := m.Report()
	require.Len(t, rpt.Coefs, 2)
	assert.Equal(t, "rx[B]", rpt.Coefs[0].Name)
	assert.Equal(t, "age", rpt.Coefs[1].Name)
	assert.InDelta(t, 0.7, float64(rpt.Coefs[0].Coef), 0.3)
	assert.InDelta(t, 0.02, float64(rpt.Coefs[1].Coef), 0.015)
	assert.InDelta(t, math.Exp(float64(rpt.Coefs[0].Coef)), float64(rpt.Coefs[0].Ratio), 1e-10)
	assert.Less(t, float64(rpt.Coefs[0].LCB), float64(rpt.Coefs[0].Ratio))
	assert.Greater(t, float64(rpt.Coefs[0].UCB), float64(rpt.Coefs[0].Ratio))
	assert.True(t, rpt.Converged)
	assert.Equal(t, "Breslow", rpt.Ties)
	assert.Equal(t, 600, rpt.N)
	assert.Equal(t, 2, rpt.LRDF)
	assert.Less(t, float64(rpt.LRPValue), 0.01)
	assert.Greater(t, float64(rpt.Concordance), 0.5)
	assert.Less(t, float64(rpt.Concordance), 1.0)

	pa, err := m.Predict(map[string]dataset.Value{"rx": dataset.Cat("A"), "age": dataset.Num(60)})
	require.NoError(t, err)
	pb, err := m.Predict(map[string]dataset.Value{"rx": dataset.Cat("B"), "age": dataset.Num(60)})
	require.NoError(t, err)
	require.Equal(t, len(pa.Time), len(pb.Time))
	for i := range pa.Survival {
		assert.Less(t, pb.Survival[i], pa.Survival[i])
		assert.InDelta(t, math.Exp(-pa.CumHaz[i]), pa.Survival[i], 1e-12)
		if i > 0 {
			assert.LessOrEqual(t, pa.Survival[i], pa.Survival[i-1])
		}
	}
	assert.Equal(t, map[string]string{"rx": "A", "age": "60"}, pa.Query)

	_, err = m.Predict(map[string]dataset.Value{"rx": dataset.Cat("A")})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	_, err = m.Predict(map[string]dataset.Value{"rx": dataset.Cat("C"), "age": dataset.Num(60)})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	_, err = m.Predict(map[string]dataset.Value{"rx": dataset.Num(1), "age": dataset.Num(60)})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	efron, err := FitCox(tb, &CoxSpec{Covariates: []string{"rx", "age"}, Ties: "efron"})
	require.NoError(t, err)
	assert.Equal(t, "Efron", efron.Report().Ties)

	_, err = FitCox(tb, &CoxSpec{Covariates: []string{"rx"}, Ties: "exact"})
	assert.Error(t, err)

	_, err = FitCox(tb, &CoxSpec{})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)
}

func TestFitCoxStrata(t *testing.T) {

	tb := simTable(t, 600, 6)

	m, err := FitCox(tb, &CoxSpec{Covariates: []string{"rx"}, Strata: []string{"sex"}})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Results().Model().(interface{ NumStrata() int }).NumStrata())

	pf, err := m.Predict(map[string]dataset.Value{"rx": dataset.Cat("B"), "sex": dataset.Cat("F")})
	require.NoError(t, err)
	assert.Equal(t, "sex=F", pf.Stratum)

	pm, err := m.Predict(map[string]dataset.Value{"rx": dataset.Cat("B"), "sex": dataset.Cat("M")})
	require.NoError(t, err)
	assert.Equal(t, "sex=M", pm.Stratum)

	// Each stratum has its own event times.
	assert.NotEqual(t, pf.Time, pm.Time)

	_, err = m.Predict(map[string]dataset.Value{"rx": dataset.Cat("B")})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	_, err = m.Predict(map[string]dataset.Value{"rx": dataset.Cat("B"), "sex": dataset.Cat("X")})
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)
}

func TestCheckPH(t *testing.T) {

	tb := simTable(t, 400, 7)

	m, err := FitCox(tb, &CoxSpec{Covariates: []string{"rx", "age"}})
	require.NoError(t, err)

	for _, tr := range []string{"", "km", "rank", "identity", "log"} {
		z, err := m.CheckPH(tr)
		require.NoError(t, err, tr)
		require.Len(t, z.Rows, 2)
		assert.Equal(t, 2, z.GlobalDF)
		assert.GreaterOrEqual(t, float64(z.GlobalPValue), 0.0)
		assert.LessOrEqual(t, float64(z.GlobalPValue), 1.0)
		if tr == "" {
			assert.Equal(t, "km", z.Transform)
		}
	}

	_, err = m.CheckPH("sqrt")
	assert.Error(t, err)
}

func TestFitAFT(t *testing.T) {

	tb := simTable(t, 600, 8)

	m, err := FitAFT(tb, &AFTSpec{Covariates: []string{"rx", "age"}})
	require.NoError(t, err)

	rpt := m.Report()
	assert.Equal(t, "Weibull", rpt.Distribution)
	require.Len(t, rpt.Coefs, 4)
	assert.Equal(t, dataset.Intercept, rpt.Coefs[0].Name)
	assert.Equal(t, "rx[B]", rpt.Coefs[1].Name)

	// Exponential data: shape near 1 and coefficients equal to minus
	// the log hazard ratios.
	assert.InDelta(t, 1, float64(rpt.Shape), 0.2)
	assert.InDelta(t, -0.7, float64(rpt.Coefs[1].Coef), 0.3)
	assert.InDelta(t, math.Exp(float64(rpt.Coefs[1].Coef)), float64(rpt.Coefs[1].Ratio), 1e-10)
	assert.True(t, math.IsNaN(float64(rpt.Coefs[3].Ratio)))

	p, err := m.Predict(map[string]dataset.Value{"rx": dataset.Cat("A"), "age": dataset.Num(60)}, nil)
	require.NoError(t, err)
	require.Len(t, p.Time, len(DefaultProbs))
	for i := 1; i < len(p.Time); i++ {
		assert.Greater(t, p.Time[i], p.Time[i-1])
		assert.Less(t, p.Survival[i], p.Survival[i-1])
	}

	pb, err := m.Predict(map[string]dataset.Value{"rx": dataset.Cat("B"), "age": dataset.Num(60)}, []float64{0.5})
	require.NoError(t, err)
	assert.Less(t, pb.Time[0], p.Time[3])

	_, err = m.Predict(map[string]dataset.Value{"age": dataset.Num(60)}, nil)
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	ln, err := FitAFT(tb, &AFTSpec{Covariates: []string{"rx"}, Distribution: "lognormal"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, float64(ln.Report().Shape))

	_, err = FitAFT(tb, &AFTSpec{Distribution: "gamma"})
	assert.Error(t, err)
}

func TestCumInc(t *testing.T) {

	tb := simTable(t, 400, 9)

	rpt, err := CumInc(tb, "cause", nil)
	require.NoError(t, err)
	require.Len(t, rpt.Curves, 2)
	assert.Equal(t, 1, rpt.Curves[0].Cause)
	assert.Equal(t, 2, rpt.Curves[1].Cause)

	// Cause 1 is more common.
	n := len(rpt.Curves[0].Prob)
	p1, p2 := rpt.Curves[0].Prob[n-1], rpt.Curves[1].Prob[n-1]
	assert.Greater(t, p1, p2)
	assert.LessOrEqual(t, p1+p2, 1.0)

	byrx, err := CumInc(tb, "cause", []string{"rx"})
	require.NoError(t, err)
	assert.Len(t, byrx.Curves, 4)
	assert.Equal(t, "rx=B", byrx.Curves[3].Stratum)

	_, err = CumInc(tb, "age", nil)
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)

	_, err = CumInc(tb, "rx", nil)
	assert.Error(t, err)
}

func testPlan() *Plan {
	return &Plan{
		Workers: 3,
		Models: []ModelSpec{
			{Kind: KindDescribe},
			{Name: "km-rx", Kind: KindKM, Strata: []string{"rx"}},
			{Name: "lr-rx", Kind: KindLogRank, Strata: []string{"rx"}},
			{
				Name:       "cox",
				Kind:       KindCox,
				Covariates: []string{"rx", "age"},
				Predict:    []map[string]string{{"rx": "A", "age": "50"}, {"rx": "B", "age": "50"}},
			},
			{Name: "zph", Kind: KindZPH, Covariates: []string{"rx", "age"}, Transform: "rank"},
			{
				Name:         "aft",
				Kind:         KindAFT,
				Covariates:   []string{"rx"},
				Distribution: "exponential",
				Predict:      []map[string]string{{"rx": "B"}},
				Probs:        []float64{0.25, 0.5},
			},
			{Name: "ci", Kind: KindCumInc},
			{Name: "bad-cox", Kind: KindCox, Covariates: []string{"weight"}},
			{Name: "bad-query", Kind: KindCox, Covariates: []string{"rx"}, Predict: []map[string]string{{"rx": "Z"}}},
			{Name: "unknown", Kind: "spline"},
		},
	}
}

func TestRun(t *testing.T) {

	tb := simTable(t, 300, 10)

	reports, err := Run(context.Background(), tb, testPlan())
	require.Error(t, err)
	require.Len(t, reports, 10)

	assert.Equal(t, "describe-1", reports[0].Name)

	ids := make(map[string]bool)
	for i, r := range reports {
		assert.NotEmpty(t, r.ID)
		assert.False(t, ids[r.ID])
		ids[r.ID] = true
		assert.Equal(t, reports[0].RunID, r.RunID)
		if i < 7 {
			assert.NotEqual(t, StatusFailed, r.Status, r.Name)
			assert.Empty(t, r.Error, r.Name)
			assert.NotNil(t, r.Payload, r.Name)
		} else {
			assert.Equal(t, StatusFailed, r.Status, r.Name)
			assert.NotEmpty(t, r.Error, r.Name)
			assert.Contains(t, err.Error(), r.Name)
		}
	}

	cox := reports[3].Payload.(*CoxReport)
	require.Len(t, cox.Predictions, 2)
	assert.Equal(t, "50", cox.Predictions[0].Query["age"])

	aft := reports[5].Payload.(*AFTReport)
	require.Len(t, aft.Predictions, 1)
	assert.Len(t, aft.Predictions[0].Time, 2)

	// The fit succeeded, so the payload survives the failed query.
	assert.IsType(t, &CoxReport{}, reports[8].Payload)
	assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate)
	assert.Nil(t, reports[7].Payload)

	_, err = json.Marshal(reports)
	require.NoError(t, err)
}

func TestRunCanceled(t *testing.T) {

	tb := simTable(t, 100, 11)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := Run(ctx, tb, testPlan())
	require.Len(t, reports, 10)
	assert.True(t, errors.Is(err, context.Canceled))
	for _, r := range reports {
		assert.Equal(t, StatusFailed, r.Status)
		assert.Nil(t, r.Payload)
	}
}

// A failed entry does not cancel the entries that follow it.
func TestRunFailureFirst(t *testing.T) {

	tb := simTable(t, 200, 12)

	plan := &Plan{
		Workers: 1,
		Models: []ModelSpec{
			{Name: "unknown", Kind: "spline"},
			{Name: "km", Kind: KindKM},
			{Name: "cox", Kind: KindCox, Covariates: []string{"rx"}},
		},
	}

	reports, err := Run(context.Background(), tb, plan)
	require.Error(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, StatusFailed, reports[0].Status)
	assert.NotContains(t, err.Error(), context.Canceled.Error())
	for _, r := range reports[1:] {
		assert.NotEqual(t, StatusFailed, r.Status, "%s: %s", r.Name, r.Error)
		assert.NotNil(t, r.Payload, r.Name)
	}
}
