package duration

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/statmodel"
)

// simAFT simulates log T = b0 + b1*x + sigma*W with W drawn by errfn,
// and uniform censoring on (0, cmax).
func simAFT(n int, b0, b1, sigma, cmax float64, errfn func() float64, src rand.Source) statmodel.Dataset {

	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	cens := distuv.Uniform{Min: 0, Max: cmax, Src: src}

	time := make([]float64, n)
	status := make([]float64, n)
	icept := make([]float64, n)
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		icept[i] = 1
		x[i] = norm.Rand()
		e := math.Exp(b0 + b1*x[i] + sigma*errfn())
		c := cens.Rand()
		if e <= c {
			time[i], status[i] = e, 1
		} else {
			time[i] = c
		}
	}

	return statmodel.NewDataset([][]float64{time, status, icept, x},
		[]string{"time", "status", "icept", "x"})
}

// Extreme value (minimum) errors: the log of a unit exponential.
func evErr(src rand.Source) func() float64 {
	expo := distuv.Exponential{Rate: 1, Src: src}
	return func() float64 { return math.Log(expo.Rand()) }
}

func mustAFT(t *testing.T, data statmodel.Dataset, dist Distribution) (*AFTReg, *AFTResults) {
	aft, err := NewAFTReg(data, "time", "status", []string{"icept", "x"}, dist, nil)
	if err != nil {
		t.Fatal(err)
	}
	rslt, err := aft.Fit()
	if err != nil {
		t.Fatal(err)
	}
	return aft, rslt
}

func TestParseDistribution(t *testing.T) {

	for s, d := range map[string]Distribution{"": Weibull, "weibull": Weibull,
		"exponential": Exponential, "lognormal": LogNormal} {
		v, err := ParseDistribution(s)
		if err != nil || v != d {
			t.Errorf("%q: got %v, %v", s, v, err)
		}
	}
	if _, err := ParseDistribution("gamma"); err == nil {
		t.Fail()
	}
}

// Exponential data fit with a Weibull model give a shape close to one.
func TestAFTWeibullShape(t *testing.T) {

	src := rand.NewPCG(101, 202)
	data := simAFT(500, 0, 0.5, 1, 4, evErr(src), src)

	_, wr := mustAFT(t, data, Weibull)
	if math.Abs(wr.Shape()-1) > 0.15 {
		fmt.Printf("Weibull shape %v\n", wr.Shape())
		t.Fail()
	}
	if math.Abs(wr.Coeff()[1]-0.5) > 0.2 {
		fmt.Printf("Weibull coefficients %v\n", wr.Coeff())
		t.Fail()
	}

	// The exponential model is nested in the Weibull model.
	_, er := mustAFT(t, data, Exponential)
	if er.LogLike() > wr.LogLike()+1e-6 {
		fmt.Printf("exponential %v > Weibull %v\n", er.LogLike(), wr.LogLike())
		t.Fail()
	}
	if er.Scale() != 1 || len(er.Params()) != 2 || len(wr.Params()) != 3 {
		t.Fail()
	}
	if wr.Names()[2] != "log(scale)" {
		t.Fail()
	}

	af := wr.AccelerationFactors()
	if math.Abs(af[1]-math.Exp(wr.Coeff()[1])) > 1e-12 {
		t.Fail()
	}

	if !strings.Contains(wr.Summary().String(), "weibull") {
		fmt.Print(wr.Summary().String())
		t.Fail()
	}
}

func TestAFTLogNormal(t *testing.T) {

	src := rand.NewPCG(303, 404)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	data := simAFT(800, 1, 0.5, 0.7, 15, norm.Rand, src)

	_, rslt := mustAFT(t, data, LogNormal)
	if !floats.EqualApprox(rslt.Coeff(), []float64{1, 0.5}, 0.15) {
		fmt.Printf("lognormal coefficients %v\n", rslt.Coeff())
		t.Fail()
	}
	if math.Abs(rslt.Scale()-0.7) > 0.1 {
		fmt.Printf("lognormal scale %v\n", rslt.Scale())
		t.Fail()
	}
	if !rslt.Converged() || rslt.StdErr() == nil {
		t.Fail()
	}
}

func TestAFTScore(t *testing.T) {

	src := rand.NewPCG(5, 6)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	for _, dist := range []Distribution{Exponential, Weibull, LogNormal} {

		data := simAFT(60, 0.5, -0.3, 0.8, 3, norm.Rand, src)
		aft, err := NewAFTReg(data, "time", "status", []string{"icept", "x"}, dist, nil)
		if err != nil {
			t.Fatal(err)
		}

		q := aft.NumParams()
		loglike := func(x []float64) float64 {
			return aft.LogLike(statmodel.NewGenericParameter(x), false)
		}

		params := [][]float64{{0, 0, 0}, {0.5, -0.3, -0.2}, {1, 1, 0.3}}
		for _, pa := range params {
			pa = pa[0:q]
			ngrad := make([]float64, q)
			score := make([]float64, q)
			fd.Gradient(ngrad, loglike, pa, &fd.Settings{Formula: fd.Central, Step: 1e-5})
			aft.Score(statmodel.NewGenericParameter(pa), score)
			if !floats.EqualApprox(score, ngrad, 1e-4) {
				fmt.Printf("%v\nNumerical:  %v\nAnalytical: %v\n", dist, ngrad, score)
				t.Fail()
			}

			hess := make([]float64, q*q)
			aft.Hessian(statmodel.NewGenericParameter(pa), statmodel.ObsHess, hess)
			for j1 := 0; j1 < q; j1++ {
				if hess[j1*q+j1] >= 0 && dist == Exponential {
					t.Fail()
				}
				for j2 := 0; j2 < q; j2++ {
					if math.Abs(hess[j1*q+j2]-hess[j2*q+j1]) > 1e-12 {
						t.Fail()
					}
				}
			}
		}
	}
}

// The fitted survival function at the fitted p-th quantile is 1-p.
func TestAFTPredict(t *testing.T) {

	src := rand.NewPCG(7, 9)
	data := simAFT(300, 0.2, 0.4, 0.9, 5, evErr(src), src)

	for _, dist := range []Distribution{Exponential, Weibull, LogNormal} {
		_, rslt := mustAFT(t, data, dist)

		x := []float64{1, 0.5}
		probs := []float64{0.1, 0.25, 0.5, 0.9}
		q, err := rslt.Quantiles(x, probs)
		if err != nil {
			t.Fatal(err)
		}
		s, err := rslt.Survival(x, q)
		if err != nil {
			t.Fatal(err)
		}
		for i, p := range probs {
			if math.Abs(s[i]-(1-p)) > 1e-10 {
				fmt.Printf("%v: S(%v) = %v, expected %v\n", dist, q[i], s[i], 1-p)
				t.Fail()
			}
			if i > 0 && q[i] <= q[i-1] {
				t.Fail()
			}
		}

		if _, err := rslt.Survival([]float64{1}, q); !errors.Is(err, statmodel.ErrInvalidCovariate) {
			t.Errorf("short covariate vector: %v", err)
		}
		if _, err := rslt.Quantiles([]float64{1, math.NaN()}, probs); !errors.Is(err, statmodel.ErrInvalidCovariate) {
			t.Errorf("NaN covariate: %v", err)
		}
		if _, err := rslt.Quantiles(x, []float64{1}); err == nil {
			t.Errorf("probability 1 accepted")
		}
	}
}

func TestAFTErrors(t *testing.T) {

	da := [][]float64{{1, 0, 3}, {1, 1, 0}, {1, 1, 1}, {0, 1, 2}}
	names := []string{"time", "status", "icept", "x"}
	if _, err := NewAFTReg(statmodel.NewDataset(da, names), "time", "status", []string{"icept", "x"}, Weibull, nil); err == nil {
		t.Errorf("zero time accepted")
	}

	da = [][]float64{{1, 2, 3}, {0, 0, 0}, {1, 1, 1}, {0, 1, 2}}
	_, err := NewAFTReg(statmodel.NewDataset(da, names), "time", "status", []string{"icept", "x"}, Weibull, nil)
	if !errors.Is(err, statmodel.ErrInsufficientData) {
		t.Errorf("no events: %v", err)
	}

	da = [][]float64{{1, 2, 3}, {1, 2, 0}, {1, 1, 1}, {0, 1, 2}}
	if _, err := NewAFTReg(statmodel.NewDataset(da, names), "time", "status", []string{"icept", "x"}, Weibull, nil); err == nil {
		t.Errorf("status 2 accepted")
	}

	da = [][]float64{{1, 2, 3}, {1, 1, 0}, {1, 1, 1}, {0, 1, 2}}
	if _, err := NewAFTReg(statmodel.NewDataset(da, names), "time", "status", []string{"z"}, Weibull, nil); err == nil {
		t.Errorf("unknown variable accepted")
	}

	config := DefaultAFTConfig()
	config.Start = []float64{0}
	if _, err := NewAFTReg(statmodel.NewDataset(da, names), "time", "status", []string{"icept", "x"}, Weibull, config); err == nil {
		t.Errorf("wrong number of starting values accepted")
	}
}
