package duration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kshedden/survstat/statmodel"
)

// centeredCumHaz returns the event times of a stratum and the Breslow
// cumulative hazard computed from exp(lp - m), where m is the largest
// linear predictor in the stratum.  The baseline cumulative hazard is
// the returned curve scaled by exp(-m).
func (ph *PHReg) centeredCumHaz(stratum int, params []float64) ([]float64, []float64, float64) {

	h0 := make([]float64, len(ph.event[stratum]))

	lp := make([]float64, ph.NumObs())
	ph.linpred(params, lp)

	var m float64
	if ix := ph.stratumix[stratum]; ix[1] > ix[0] {
		m = floats.Max(lp[ix[0]:ix[1]])
	}

	elp := 0.0
	for k := range ph.etimes[stratum] {

		// Update for new entries
		for _, i := range ph.enter[stratum][k] {
			elp += math.Exp(lp[i] - m)
		}

		h0[k] = float64(len(ph.event[stratum][k])) / elp

		// Update for new exits
		for _, i := range ph.exit[stratum][k] {
			elp -= math.Exp(lp[i] - m)
		}
	}

	floats.CumSum(h0, h0)

	return append([]float64(nil), ph.etimes[stratum]...), h0, m
}

// shift places exp(log(h) + c) into h.
func shift(h []float64, c float64) {
	for i, v := range h {
		h[i] = math.Exp(math.Log(v) + c)
	}
}

// BaselineCumHaz returns the Breslow estimator of the baseline cumulative
// hazard function for the given stratum.  The first returned value
// holds the distinct event times of the stratum, the second holds the
// cumulative hazard at each of them, including the jump at that time.
// The baseline is at the zero covariate vector, so it overflows when
// the linear predictor is far from zero.
func (ph *PHReg) BaselineCumHaz(stratum int, params []float64) ([]float64, []float64) {
	t, h, m := ph.centeredCumHaz(stratum, params)
	shift(h, -m)
	return t, h
}

// BaselineCumHaz returns the baseline cumulative hazard of a stratum at
// the fitted coefficients.  An error is returned if the baseline is not
// representable, in which case PredictCumHaz at covariate values near
// the data remains usable.
func (rslt *PHResults) BaselineCumHaz(stratum int) ([]float64, []float64, error) {
	if stratum < 0 || stratum >= rslt.ph.NumStrata() {
		return nil, nil, fmt.Errorf("stratum %d out of range [0, %d): %w",
			stratum, rslt.ph.NumStrata(), statmodel.ErrInvalidCovariate)
	}
	t, h := rslt.ph.BaselineCumHaz(stratum, rslt.Params())
	for _, v := range h {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return nil, nil, fmt.Errorf("baseline cumulative hazard of stratum %d overflows at the zero covariate vector", stratum)
		}
	}
	return t, h, nil
}

// PredictCumHaz returns the cumulative hazard curve Λ0(t)exp(x'b) for
// covariate vector x in the given stratum, evaluated at the stratum's
// event times.  The error wraps statmodel.ErrInvalidCovariate if x does
// not have one value per coefficient.
func (rslt *PHResults) PredictCumHaz(x []float64, stratum int) ([]float64, []float64, error) {

	par := rslt.Params()
	if len(x) != len(par) {
		return nil, nil, fmt.Errorf("covariate vector has length %d, model has %d coefficients: %w",
			len(x), len(par), statmodel.ErrInvalidCovariate)
	}
	for j, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("covariate '%s' is not finite: %w",
				rslt.Names()[j], statmodel.ErrInvalidCovariate)
		}
	}
	if stratum < 0 || stratum >= rslt.ph.NumStrata() {
		return nil, nil, fmt.Errorf("stratum %d out of range [0, %d): %w",
			stratum, rslt.ph.NumStrata(), statmodel.ErrInvalidCovariate)
	}

	t, h, m := rslt.ph.centeredCumHaz(stratum, par)
	shift(h, floats.Dot(x, par)-m)

	return t, h, nil
}

// PredictSurvival returns the survival curve exp(-Λ0(t)exp(x'b)) for
// covariate vector x in the given stratum.
func (rslt *PHResults) PredictSurvival(x []float64, stratum int) ([]float64, []float64, error) {

	t, h, err := rslt.PredictCumHaz(x, stratum)
	if err != nil {
		return nil, nil, err
	}

	for i := range h {
		h[i] = math.Exp(-h[i])
	}

	return t, h, nil
}
