package duration

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/statmodel"
)

func data1() statmodel.Dataset {

	da := [][]statmodel.Dtype{
		{1, 1, 2, 3, 3, 4},
		{1, 1, 0, 0, 1, 0},
		{4, 2, 5, 6, 6, 5},
	}

	varnames := []string{"Time", "Status", "X"}

	return statmodel.NewDataset(da, varnames)
}

func data2() statmodel.Dataset {

	da := [][]statmodel.Dtype{
		{1, 2, 4, 5, 4, 5, 6, 4, 6, 4, 8},
		{1, 1, 0, 1, 1, 0, 1, 1, 1, 0, 1},
		{4, 2, 3, 5, 1, 3, 5, 4, 2, 6, 6},
		{5, 2, 3, 1, 4, 2, 2, 5, 1, 8, 4},
		{1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2},
	}

	varnames := []string{"Time", "Status", "X1", "X2", "Stratum"}

	return statmodel.NewDataset(da, varnames)
}

func data3() statmodel.Dataset {

	da := [][]statmodel.Dtype{
		{1, 1, 2, 3, 3, 4, 5, 5, 6, 7},
		{1, 1, 0, 0, 1, 0, 0, 1, 1, 1},
		{4, 2, 5, 6, 6, 5, 4, 3, 3, 5},
		{3, 2, 2, 0, 5, 4, 5, 6, 5, 4},
		{0.5, -1, 0, 1, 0.2, 0, 0.1, -0.3, 0, 1},
	}

	varnames := []string{"Time", "Status", "X1", "X2", "Off"}

	return statmodel.NewDataset(da, varnames)
}

// data5 is used in several tests of fitting.
func data5() statmodel.Dataset {

	var time, status, stratum, x1, x2 []statmodel.Dtype

	for i := 0; i < 100; i++ {
		x1 = append(x1, statmodel.Dtype(i%3))
		x2 = append(x2, statmodel.Dtype(i%7)-3)
		stratum = append(stratum, statmodel.Dtype(i%10))
		if i%5 == 0 {
			status = append(status, 0)
		} else {
			status = append(status, 1)
		}
		time = append(time, 10/statmodel.Dtype(4+i%3+i%7-3)+0.5*(statmodel.Dtype(i%6)-2))
	}

	da := [][]statmodel.Dtype{time, status, x1, x2, stratum}
	varnames := []string{"time", "status", "x1", "x2", "stratum"}

	return statmodel.NewDataset(da, varnames)
}

// simPH simulates from a proportional hazards model with exponential
// baseline hazard, a normal covariate and uniform censoring.
func simPH(n int, beta float64, seed uint64) statmodel.Dataset {

	src := rand.NewPCG(seed, 17)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	unif := distuv.Uniform{Min: 0, Max: 3, Src: src}
	expo := distuv.Exponential{Rate: 1, Src: src}

	time := make([]float64, n)
	status := make([]float64, n)
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = norm.Rand()
		t := expo.Rand() * math.Exp(-beta*x[i])
		c := unif.Rand()
		if t <= c {
			time[i] = t
			status[i] = 1
		} else {
			time[i] = c
		}
	}

	return statmodel.NewDataset([][]float64{time, status, x}, []string{"time", "status", "x"})
}

func mustPHReg(t *testing.T, data statmodel.Dataset, time, status string, xnames []string, config *PHRegConfig) *PHReg {
	ph, err := NewPHReg(data, time, status, xnames, config)
	if err != nil {
		t.Fatal(err)
	}
	return ph
}

// Basic check, no strata or offset.
func TestSimple(t *testing.T) {

	da := data1()
	ph := mustPHReg(t, da, "Time", "Status", []string{"X"}, nil)

	// Create an equivalent model that has L2 penalty weights all set to zero.
	config := DefaultPHRegConfig()
	config.L2Penalty = map[string]float64{"X": 0}
	phr := mustPHReg(t, da, "Time", "Status", []string{"X"}, config)

	for _, pq := range []*PHReg{ph, phr} {
		if fmt.Sprintf("%v", pq.stratumix) != "[[0 6]]" {
			t.Fail()
		}
		if fmt.Sprintf("%v", pq.etimes) != "[[1 3]]" {
			t.Fail()
		}
		if fmt.Sprintf("%v", pq.enter) != "[[[0 1 2 3 4 5] []]]" {
			t.Fail()
		}
		if fmt.Sprintf("%v", pq.exit) != "[[[0 1 2] [3 4]]]" {
			t.Fail()
		}
		if fmt.Sprintf("%v", pq.event) != "[[[0 1] [4]]]" {
			t.Fail()
		}
	}

	ll := -14.415134793348063
	for _, pq := range []*PHReg{ph, phr} {
		if math.Abs(pq.logLike([]float64{2})-ll) > 1e-5 {
			t.Fail()
		}
	}

	ll = -8.9840993267811093
	for _, pq := range []*PHReg{ph, phr} {
		if math.Abs(pq.LogLike(&PHParameter{[]float64{1}}, false)-ll) > 1e-5 {
			t.Fail()
		}
	}

	score := make([]float64, 1)
	sc := -5.66698338
	for _, pq := range []*PHReg{ph, phr} {
		pq.score([]float64{2}, score)
		if math.Abs(score[0]-sc) > 1e-5 {
			t.Fail()
		}
	}

	sc = -5.09729328
	for _, pq := range []*PHReg{ph, phr} {
		pq.Score(&PHParameter{[]float64{1}}, score)
		if math.Abs(score[0]-sc) > 1e-5 {
			t.Fail()
		}
	}

	hv := -0.93879427
	hess := make([]float64, 1)
	for _, pq := range []*PHReg{ph, phr} {
		pq.hessian([]float64{1}, hess)
		if math.Abs(hess[0]-hv) > 1e-5 {
			t.Fail()
		}
	}
}

// At zero coefficients the partial likelihood only depends on the
// risk set sizes.
func TestTiesNull(t *testing.T) {

	for _, tc := range []struct {
		ties Ties
		ll   float64
	}{
		{Breslow, -math.Log(108)},
		{Efron, -math.Log(90)},
	} {
		c := DefaultPHRegConfig()
		c.Ties = tc.ties
		ph := mustPHReg(t, data1(), "Time", "Status", []string{"X"}, c)
		ll := ph.logLike([]float64{0})
		if math.Abs(ll-tc.ll) > 1e-10 {
			fmt.Printf("%v: got %v, expected %v\n", tc.ties, ll, tc.ll)
			t.Fail()
		}
	}
}

func TestParseTies(t *testing.T) {

	for s, want := range map[string]Ties{"breslow": Breslow, "Efron": Efron, "": Breslow} {
		got, err := ParseTies(s)
		if err != nil || got != want {
			t.Errorf("ParseTies(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseTies("exact"); err == nil {
		t.Fail()
	}
}

func TestStratified1(t *testing.T) {

	config := DefaultPHRegConfig()
	config.StrataVar = "Stratum"

	da := data2()
	ph := mustPHReg(t, da, "Time", "Status", []string{"X1", "X2"}, config)

	expected := "[[1 2 4 5] [4 6 8]]"
	if fmt.Sprintf("%v", ph.etimes) != expected {
		fmt.Printf("etimes do not match\n")
		fmt.Printf("Got      %v\n", ph.etimes)
		fmt.Printf("Expected %v\n", expected)
		t.Fail()
	}

	expected = "[[0 5] [5 11]]"
	if fmt.Sprintf("%v", ph.stratumix) != expected {
		fmt.Printf("Stratum boundaries do not match\n")
		fmt.Printf("Got      %v\n", ph.stratumix)
		fmt.Printf("Expected %v\n", expected)
		t.Fail()
	}

	expected = "[[[0 1 2 3 4] [] [] []] [[5 6 7 8 9 10] [] []]]"
	if fmt.Sprintf("%v", ph.enter) != expected {
		fmt.Printf("Entry times do not match\n")
		fmt.Printf("Got      %v\n", ph.enter)
		fmt.Printf("Expected %v\n", expected)
		t.Fail()
	}

	expected = "[[[0] [1] [2 4] [3]] [[5 7 9] [6 8] [10]]]"
	if fmt.Sprintf("%v", ph.exit) != expected {
		fmt.Printf("Exit times do not match\n")
		fmt.Printf("Got      %v\n", ph.exit)
		fmt.Printf("Expected %v\n", expected)
		t.Fail()
	}

	expected = "[[[0] [1] [4] [3]] [[7] [6 8] [10]]]"
	if fmt.Sprintf("%v", ph.event) != expected {
		fmt.Printf("Event times do not match\n")
		fmt.Printf("Got      %v\n", ph.event)
		fmt.Printf("Expected %v\n", expected)
		t.Fail()
	}

	if fmt.Sprintf("%v", ph.StratumCodes()) != "[1 2]" {
		t.Fail()
	}
}

// Strata given out of order are grouped without disturbing the caller's
// data.
func TestStratumSort(t *testing.T) {

	da := [][]float64{
		{3, 1, 2, 5, 4, 6},
		{1, 1, 1, 1, 0, 1},
		{1, 0, 1, 0, 1, 1},
		{2, 1, 2, 1, 2, 1},
	}
	orig := fmt.Sprintf("%v", da)
	data := statmodel.NewDataset(da, []string{"t", "s", "x", "g"})

	config := DefaultPHRegConfig()
	config.StrataVar = "g"
	ph := mustPHReg(t, data, "t", "s", []string{"x"}, config)

	if fmt.Sprintf("%v", da) != orig {
		t.Errorf("caller's data was modified")
	}
	if fmt.Sprintf("%v", ph.rowix) != "[1 3 5 0 2 4]" {
		t.Errorf("rowix = %v", ph.rowix)
	}
	if fmt.Sprintf("%v", ph.etimes) != "[[1 5 6] [2 3]]" {
		t.Errorf("etimes = %v", ph.etimes)
	}
}

func TestStratified2(t *testing.T) {

	c := DefaultPHRegConfig()
	c.StrataVar = "stratum"

	ph := mustPHReg(t, data5(), "time", "status", []string{"x1", "x2"}, c)
	result, err := ph.Fit()
	if err != nil {
		t.Fatal(err)
	}

	// Smoke test
	_ = result.Summary().String()

	par := result.Params()
	epar := []float64{0.1096391, 0.61394886}
	if !floats.EqualApprox(par, epar, 1e-5) {
		fmt.Printf("Parameter estimates differ:\n")
		fmt.Printf("Got      %v\n", par)
		fmt.Printf("Expected %v\n", epar)
		t.Fail()
	}

	se := result.StdErr()
	ese := []float64{0.17171136, 0.09304276}
	if !floats.EqualApprox(se, ese, 1e-5) {
		fmt.Printf("Standard errors differ:\n")
		fmt.Printf("Got      %v\n", se)
		fmt.Printf("Expected %v\n", ese)
		t.Fail()
	}

	if !result.Converged() || len(result.Warnings()) != 0 {
		t.Fail()
	}
}

func TestPhregOptMethods(t *testing.T) {

	var par [][]float64
	var std [][]float64
	for _, m := range []optimize.Method{
		new(optimize.Newton),
		new(optimize.BFGS),
		new(optimize.LBFGS),
	} {
		c := DefaultPHRegConfig()
		c.OptMethod = m
		c.StrataVar = "stratum"
		c.Tol = 1e-8
		ph := mustPHReg(t, data5(), "time", "status", []string{"x1", "x2"}, c)
		result, err := ph.Fit()
		if err != nil {
			t.Fatal(err)
		}
		par = append(par, result.Params())
		std = append(std, result.StdErr())
	}

	// Compare each method to the first method
	for i := 1; i < len(par); i++ {
		if !floats.EqualApprox(par[0], par[i], 1e-5) {
			fmt.Printf("Parameter estimates differ:\n")
			fmt.Printf("Got       %v\n", par[i])
			fmt.Printf("Expected %v\n", par[0])
			t.Fail()
		}
		if !floats.EqualApprox(std[0], std[i], 1e-5) {
			fmt.Printf("Standard errors differ:\n")
			fmt.Printf("Got       %v\n", std[i])
			fmt.Printf("Expected %v\n", std[0])
			t.Fail()
		}
	}
}

// The results do not depend on the internal scaling.
func TestPhregScaling(t *testing.T) {

	var par [][]float64
	for _, st := range []statmodel.ScaleType{statmodel.NoScale, statmodel.L2Norm, statmodel.Variance} {
		for _, ties := range []Ties{Breslow, Efron} {
			c := DefaultPHRegConfig()
			c.ScaleType = st
			c.Ties = ties
			c.Tol = 1e-9
			ph := mustPHReg(t, data5(), "time", "status", []string{"x1", "x2"}, c)
			result, err := ph.Fit()
			if err != nil {
				t.Fatal(err)
			}
			par = append(par, result.Params())
		}
	}

	for i := 2; i < len(par); i++ {
		if !floats.EqualApprox(par[i%2], par[i], 1e-6) {
			fmt.Printf("%d: %v != %v\n", i, par[i], par[i%2])
			t.Fail()
		}
	}
}

type llRecorder struct {
	f []float64
}

func (r *llRecorder) Init() error {
	return nil
}

func (r *llRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op == optimize.MajorIteration {
		r.f = append(r.f, loc.F)
	}
	return nil
}

// Newton-Raphson increases the log-likelihood at every major iteration.
func TestPhregMonotone(t *testing.T) {

	for _, ties := range []Ties{Breslow, Efron} {
		rec := new(llRecorder)
		c := DefaultPHRegConfig()
		c.Ties = ties
		c.OptSettings = &optimize.Settings{
			GradientThreshold: 1e-8,
			MajorIterations:   50,
			Recorder:          rec,
		}
		ph := mustPHReg(t, simPH(300, 0.8, 5), "time", "status", []string{"x"}, c)
		if _, err := ph.Fit(); err != nil {
			t.Fatal(err)
		}

		for i := 1; i < len(rec.f); i++ {
			if rec.f[i] > rec.f[i-1]+1e-10 {
				fmt.Printf("%v: objective increased at iteration %d: %v\n", ties, i, rec.f)
				t.Fail()
			}
		}
	}
}

// The Hessian is negative definite and the log-likelihood lies above its
// chords.
func TestPhregConcave(t *testing.T) {

	c := DefaultPHRegConfig()
	c.Ties = Efron
	c.StrataVar = "stratum"
	ph := mustPHReg(t, data5(), "time", "status", []string{"x1", "x2"}, c)

	points := [][]float64{{0, 0}, {1, -1}, {-2, 0.5}, {0.3, 2}}
	hess := make([]float64, 4)
	for _, b := range points {
		ph.hessian(b, hess)
		var es mat.EigenSym
		if !es.Factorize(mat.NewSymDense(2, hess), false) {
			t.Fatal("eigendecomposition failed")
		}
		for _, v := range es.Values(nil) {
			if v >= 0 {
				fmt.Printf("Hessian at %v has eigenvalue %v\n", b, v)
				t.Fail()
			}
		}
	}

	for i := range points {
		for j := range points {
			mid := []float64{(points[i][0] + points[j][0]) / 2, (points[i][1] + points[j][1]) / 2}
			chord := (ph.logLike(points[i]) + ph.logLike(points[j])) / 2
			if ph.logLike(mid) < chord-1e-10 {
				t.Fail()
			}
		}
	}
}

func TestCoxRecovery(t *testing.T) {

	for _, ties := range []Ties{Breslow, Efron} {
		c := DefaultPHRegConfig()
		c.Ties = ties
		ph := mustPHReg(t, simPH(600, 0.7, 11), "time", "status", []string{"x"}, c)
		rslt, err := ph.Fit()
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(rslt.Params()[0]-0.7) > 0.25 {
			fmt.Printf("%v: coefficient %v, expected 0.7\n", ties, rslt.Params()[0])
			t.Fail()
		}

		stat, df, pv := rslt.LRTest()
		if df != 1 || stat <= 0 || pv > 1e-4 {
			fmt.Printf("LR test %v %v %v\n", stat, df, pv)
			t.Fail()
		}

		hr, lcb, ucb := rslt.HazardRatios(0.05)
		if !(lcb[0] < hr[0] && hr[0] < ucb[0]) {
			t.Fail()
		}

		cidx, err := rslt.Concordance(math.Inf(1))
		if err != nil || cidx < 0.6 || cidx > 0.8 {
			fmt.Printf("concordance %v %v\n", cidx, err)
			t.Fail()
		}
	}
}

func TestPhregOffset(t *testing.T) {

	// An offset equal to b*x gives the same fit as a fixed
	// coefficient, so the remaining coefficient is unchanged.
	da := data3().Data()
	off := make([]float64, len(da[0]))
	floats.AddScaled(off, 0.3, da[3])
	data := statmodel.NewDataset([][]float64{da[0], da[1], da[2], da[3], off},
		[]string{"Time", "Status", "X1", "X2", "Off"})

	c := DefaultPHRegConfig()
	c.OffsetVar = "Off"
	ph := mustPHReg(t, data, "Time", "Status", []string{"X1"}, c)
	ph2 := mustPHReg(t, data, "Time", "Status", []string{"X1", "X2"}, nil)

	for _, b := range []float64{-0.5, 0, 0.7} {
		l1 := ph.logLike([]float64{b})
		l2 := ph2.logLike([]float64{b, 0.3})
		if math.Abs(l1-l2) > 1e-10 {
			t.Fail()
		}
	}
}

func TestPhregRegularized(t *testing.T) {

	pe := [][]float64{{-0.305179, 0}, {-0.145342, 0}, {0, 0}}

	for j, wt := range []float64{0.1, 0.2, 0.3} {

		c := DefaultPHRegConfig()
		c.L1Penalty = map[string]float64{"X1": wt, "X2": wt}
		ph := mustPHReg(t, data3(), "Time", "Status", []string{"X1", "X2"}, c)
		rslt, err := ph.Fit()
		if err != nil {
			t.Fatal(err)
		}

		if !floats.EqualApprox(rslt.Params(), pe[j], 1e-5) {
			fmt.Printf("j=%d\nFound=%v\n", j, rslt.Params())
			fmt.Printf("Expected=%v\n", pe[j])
			t.Fail()
		}

		// Smoke test
		_ = rslt.Summary().String()
	}
}

func TestPhregFocus(t *testing.T) {

	wt := 0.1

	c := DefaultPHRegConfig()
	c.L1Penalty = map[string]float64{"X1": wt, "X2": wt}
	c.L2Penalty = map[string]float64{"X1": wt, "X2": wt}
	c.OffsetVar = "Off"

	ph := mustPHReg(t, data3(), "Time", "Status", []string{"X1", "X2"}, c)

	phf := ph.Focus(0, []float64{1, 1}, nil)

	// The score at (1, 1) of the unprojected model
	score2d := make([]float64, 2)
	ph.Score(&PHParameter{[]float64{1, 1}}, score2d)

	// The score at 1 of the projected model
	score := make([]float64, 1)
	phf.Score(&PHParameter{[]float64{1}}, score)

	// Numerically calculate the score of the projected model
	dl := 1e-7
	scorenum := (phf.LogLike(&PHParameter{[]float64{1 + dl}}, false) -
		phf.LogLike(&PHParameter{[]float64{1}}, false)) / dl

	// Compare the numeric and analytic scores
	if math.Abs(score2d[0]-scorenum) > 1e-5 {
		t.Fail()
	}
	if math.Abs(score[0]-scorenum) > 1e-5 {
		t.Fail()
	}

	// The Hessian at (1, 1) of the unprojected model
	hess2d := make([]float64, 4)
	ph.Hessian(&PHParameter{[]float64{1, 1}}, statmodel.ObsHess, hess2d)

	// The Hessian at 1 of the projected model
	hess := make([]float64, 1)
	phf.Hessian(&PHParameter{[]float64{1}}, statmodel.ObsHess, hess)

	// Numerically calculate the Hessian of the projected model
	score1 := make([]float64, 1)
	score2 := make([]float64, 1)
	phf.Score(&PHParameter{[]float64{1 + dl}}, score1)
	phf.Score(&PHParameter{[]float64{1}}, score2)
	hessnum := (score1[0] - score2[0]) / dl

	if math.Abs(hess2d[0]-hessnum) > 1e-5 {
		t.Fail()
	}
	if math.Abs(hess[0]-hessnum) > 1e-5 {
		t.Fail()
	}
}

// A covariate that perfectly orders the event times drives its
// coefficient off to infinity.
func TestSeparation(t *testing.T) {

	da := [][]float64{
		{1, 2, 3, 4, 5, 6},
		{1, 1, 1, 1, 1, 1},
		{1, 1, 1, 0, 0, 0},
	}
	data := statmodel.NewDataset(da, []string{"t", "s", "x"})

	ph := mustPHReg(t, data, "t", "s", []string{"x"}, nil)
	rslt, err := ph.Fit()
	if rslt == nil {
		t.Fatalf("no results: %v", err)
	}

	if math.Abs(rslt.Params()[0]) < 3 {
		fmt.Printf("coefficient %v is not large\n", rslt.Params()[0])
		t.Fail()
	}

	if err == nil && !rslt.Separated() {
		fmt.Printf("separation was not flagged\n")
		t.Fail()
	}

	_ = rslt.Summary().String()
}

func TestNonConvergence(t *testing.T) {

	c := DefaultPHRegConfig()
	c.MaxIter = 1
	c.Tol = 1e-12
	ph := mustPHReg(t, simPH(200, 1, 3), "time", "status", []string{"x"}, c)
	rslt, err := ph.Fit()
	if !errors.Is(err, statmodel.ErrNonConvergence) {
		t.Fatalf("expected non-convergence, got %v", err)
	}
	if rslt == nil || rslt.Converged() || len(rslt.Params()) != 1 {
		t.Fail()
	}
}

func TestSingularInformation(t *testing.T) {

	da := data5().Data()
	data := statmodel.NewDataset([][]float64{da[0], da[1], da[2], da[2]},
		[]string{"time", "status", "a", "b"})

	ph := mustPHReg(t, data, "time", "status", []string{"a", "b"}, nil)
	rslt, err := ph.Fit()
	if !errors.Is(err, statmodel.ErrSingularInformation) {
		t.Fatalf("expected singular information, got %v", err)
	}
	if rslt == nil || rslt.StdErr() != nil {
		t.Fail()
	}
}

func TestPHRegErrors(t *testing.T) {

	da := [][]float64{{1, -2, 3}, {1, 0, 1}, {1, 2, 3}}
	data := statmodel.NewDataset(da, []string{"t", "s", "x"})
	if _, err := NewPHReg(data, "t", "s", []string{"x"}, nil); err == nil {
		t.Errorf("negative time accepted")
	}

	da = [][]float64{{1, 2, 3}, {1, 2, 1}, {1, 2, 3}}
	data = statmodel.NewDataset(da, []string{"t", "s", "x"})
	if _, err := NewPHReg(data, "t", "s", []string{"x"}, nil); err == nil {
		t.Errorf("status 2 accepted")
	}

	if _, err := NewPHReg(data1(), "Time", "Status", []string{"Y"}, nil); err == nil {
		t.Errorf("unknown variable accepted")
	}
}

func TestBaselineHaz(t *testing.T) {

	n := 10000
	src := rand.NewPCG(3909, 1)
	unif := distuv.Uniform{Min: 0, Max: 1, Src: src}
	norm := distuv.Normal{Mu: 0, Sigma: 0.2, Src: src}

	time := make([]statmodel.Dtype, n)
	status := make([]statmodel.Dtype, n)
	x := make([]statmodel.Dtype, n)

	// kw is the Weibull shape parameter.  The cumulative baseline hazard function
	// evaluated at time t is t^kw.
	for _, kw := range []float64{1, 2} {

		// Create a covariate, but there is no covariate effect in this test.
		for i := range x {
			x[i] = norm.Rand()
		}

		for i := range time {
			time[i] = math.Pow(-math.Log(unif.Rand()), 1/kw)
			t := math.Pow(-math.Log(unif.Rand()), 1/kw)
			if time[i] > t {
				time[i] = t
				status[i] = 0
			} else {
				status[i] = 1
			}
		}

		da := [][]statmodel.Dtype{time, status, x}

		varnames := []string{"time", "status", "x"}
		data := statmodel.NewDataset(da, varnames)

		model := mustPHReg(t, data, "time", "status", []string{"x"}, nil)
		result, err := model.Fit()
		if err != nil {
			t.Fatal(err)
		}

		ti, bch, err := result.BaselineCumHaz(0)
		if err != nil {
			t.Fatal(err)
		}

		for i := range bch {
			if i > 0 && bch[i] < bch[i-1] {
				fmt.Printf("cumulative hazard decreases at %v\n", ti[i])
				t.Fail()
				break
			}
			if ti[i] <= 1 && math.Abs(bch[i]-math.Pow(ti[i], kw)) > 0.1 {
				fmt.Printf("kw=%v: cumulative hazard at %v is %v\n", kw, ti[i], bch[i])
				t.Fail()
				break
			}
		}
	}
}

func TestBaselineSmall(t *testing.T) {

	// With a zero coefficient the Breslow estimator is the
	// Nelson-Aalen estimator: 2/6 at t=1 and 2/6 + 1/3 at t=3.
	ph := mustPHReg(t, data1(), "Time", "Status", []string{"X"}, nil)
	ti, h := ph.BaselineCumHaz(0, []float64{0})
	if !floats.Equal(ti, []float64{1, 3}) {
		t.Fail()
	}
	if !floats.EqualApprox(h, []float64{1.0 / 3, 2.0 / 3}, 1e-12) {
		fmt.Printf("Got %v\n", h)
		t.Fail()
	}
}

func TestPredict(t *testing.T) {

	ph := mustPHReg(t, simPH(300, 0.5, 7), "time", "status", []string{"x"}, nil)
	rslt, err := ph.Fit()
	if err != nil {
		t.Fatal(err)
	}

	_, h0, err := rslt.PredictCumHaz([]float64{0}, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, h1, err := rslt.PredictCumHaz([]float64{1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	r := math.Exp(rslt.Params()[0])
	for i := range h0 {
		if math.Abs(h1[i]-r*h0[i]) > 1e-10 {
			t.Fail()
			break
		}
	}

	ti, s, err := rslt.PredictSurvival([]float64{1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ti) != len(s) {
		t.Fail()
	}
	for i := range s {
		if s[i] > 1 || s[i] < 0 || (i > 0 && s[i] > s[i-1]) {
			t.Fail()
			break
		}
	}

	if _, _, err := rslt.PredictSurvival([]float64{1, 2}, 0); !errors.Is(err, statmodel.ErrInvalidCovariate) {
		t.Errorf("wrong length accepted: %v", err)
	}
	if _, _, err := rslt.PredictSurvival([]float64{math.NaN()}, 0); !errors.Is(err, statmodel.ErrInvalidCovariate) {
		t.Errorf("NaN accepted: %v", err)
	}
	if _, _, err := rslt.PredictSurvival([]float64{1}, 1); !errors.Is(err, statmodel.ErrInvalidCovariate) {
		t.Errorf("bad stratum accepted: %v", err)
	}
}

// A covariate far from zero, such as a calendar year, gives the same
// predictions as the shifted covariate.
func TestPredictLargeCovariate(t *testing.T) {

	time := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	status := []float64{1, 1, 1, 0, 1, 1, 1, 0, 1, 1}
	year := []float64{2001, 2000, 2002, 2001, 2003, 2000, 2004, 2002, 2003, 2004}
	shifted := make([]float64, len(year))
	for i, y := range year {
		shifted[i] = y - 2000
	}

	fit := func(x []float64) *PHResults {
		data := statmodel.NewDataset([][]float64{time, status, x}, []string{"time", "status", "x"})
		rslt, err := mustPHReg(t, data, "time", "status", []string{"x"}, nil).Fit()
		if err != nil {
			t.Fatal(err)
		}
		return rslt
	}
	r1 := fit(year)
	r2 := fit(shifted)

	if math.Abs(r1.Params()[0]-r2.Params()[0]) > 1e-4 {
		fmt.Printf("coefficients %v and %v\n", r1.Params(), r2.Params())
		t.Fail()
	}

	ti1, s1, err := r1.PredictSurvival([]float64{2002}, 0)
	if err != nil {
		t.Fatal(err)
	}
	ti2, s2, err := r2.PredictSurvival([]float64{2}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(ti1, ti2) {
		t.Fail()
	}
	for i, v := range s1 {
		if math.IsNaN(v) || v < 0 || v > 1 || (i > 0 && v > s1[i-1]) {
			fmt.Printf("survival %v\n", s1)
			t.Fail()
			break
		}
	}
	if !floats.EqualApprox(s1, s2, 1e-4) {
		fmt.Printf("Got %v, expected %v\n", s1, s2)
		t.Fail()
	}

	_, h1, err := r1.PredictCumHaz([]float64{2002}, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range h1 {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			t.Fatalf("cumulative hazard %v", h1)
		}
	}

	// The baseline at year zero is either reported or rejected, never
	// returned as Inf or NaN.
	if _, h0, err := r1.BaselineCumHaz(0); err == nil {
		for _, v := range h0 {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				t.Fatalf("baseline %v", h0)
			}
		}
	}
}
