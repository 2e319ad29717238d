package statmodel

import (
	"fmt"
	"math"
)

// Focuser restricts a model to one parameter.
type Focuser interface {
	NumParams() int
	NumObs() int

	// Focus returns a one-parameter model for covariate j, with the
	// other covariates held at coeff and absorbed into an offset.  The
	// last argument is scratch space for that offset and may be nil.
	Focus(int, []float64, []float64) RegFitter

	LogLike(Parameter, bool) float64
	Score(Parameter, []float64)
	Hessian(Parameter, HessType, []float64)
}

// DefaultL1Sweeps is the sweep limit used by FitL1Reg when maxiter is
// not positive.
const DefaultL1Sweeps = 400

// FitL1Reg fits the provided Focuser with L1 penalty weights l1wgt,
// using cyclic coordinate descent started from param.  The coefficients
// of param are updated in place.
//
// maxiter bounds the number of sweeps, where one sweep updates every
// coefficient once; DefaultL1Sweeps is used if maxiter is not positive.
// The fit has converged when a sweep moves no coefficient by more than
// 1e-7 times the number of observations, capped at 0.1, since the
// focused log-likelihoods are sums over observations.  An error
// wrapping ErrNonConvergence is returned, along with the last
// coefficients, if the final sweep is still moving.
func FitL1Reg(model Focuser, param Parameter, l1wgt []float64, maxiter int, checkstep bool) (Parameter, error) {

	if maxiter <= 0 {
		maxiter = DefaultL1Sweeps
	}

	nobs := model.NumObs()
	tol := math.Min(1e-7*float64(nobs), 0.1)

	// Reused by every one-coefficient fit.
	param1d := param.Clone()
	param1d.SetCoeff([]float64{0})

	coeff := param.GetCoeff()
	for sweep := 0; sweep < maxiter; sweep++ {
		if l1Sweep(model, coeff, param1d, l1wgt, float64(nobs), checkstep) < tol {
			return param, nil
		}
	}

	return param, fmt.Errorf("coordinate descent after %d sweeps: %w", maxiter, ErrNonConvergence)
}

// l1Sweep updates each coefficient in turn, holding the others fixed,
// and returns the largest absolute change.
func l1Sweep(model Focuser, coeff []float64, param1d Parameter, l1wgt []float64, nobs float64, checkstep bool) float64 {

	var maxmove float64
	for j := range coeff {
		fmodel := model.Focus(j, coeff, nil)
		cj := opt1d(fmodel, coeff[j], param1d, nobs*l1wgt[j], checkstep)
		maxmove = math.Max(maxmove, math.Abs(cj-coeff[j]))
		coeff[j] = cj
	}

	return maxmove
}

// opt1d minimizes the penalized loss of a one-coefficient model by soft
// thresholding its local quadratic approximation.  With checkstep the
// step is kept only if it lowers the penalized loss; otherwise a
// bisection search is used.
func opt1d(m1 RegFitter, coeff float64, par Parameter, l1wgt float64, checkstep bool) float64 {

	// Gradient b and curvature c of the loss at coeff.
	g, hs := make([]float64, 1), make([]float64, 1)
	par.SetCoeff([]float64{coeff})
	m1.Score(par, g)
	m1.Hessian(par, ObsHess, hs)
	b, c := -g[0], -hs[0]

	// The unpenalized quadratic minimum is at d / c.
	d := b - c*coeff
	if math.Abs(d) < l1wgt {
		return 0
	}

	var h float64
	if d >= 0 {
		h = (l1wgt - b) / c
	} else {
		h = -(l1wgt + b) / c
	}

	if !checkstep {
		return coeff + h
	}

	loss := func(z float64) float64 {
		par.SetCoeff([]float64{z})
		return -m1.LogLike(par, false) + l1wgt*math.Abs(z)
	}

	if loss(coeff+h) <= loss(coeff)+1e-10 {
		return coeff + h
	}

	// The loss is not close to quadratic here.
	return bisection(loss, coeff-1, coeff+1, 1e-7)
}

// Standard bisection to minimize f.
func bisection(f func(float64) float64, xl, xu, tol float64) float64 {

	var x0, x1, x2, f0, f1, f2 float64

	// Try to find a bracket.
	success := false
	x0, x2 = xl, xu
	x1 = (x0 + x2) / 2
	for k := 0; k < 100; k++ {

		f0 = f(x0)
		f1 = f(x1)
		f2 = f(x2)

		if f1 < f0 && f1 < f2 {
			success = true
			break
		}

		if f0 > f1 && f1 > f2 {
			// Slide right
			x0 = x1
			x1 = x2
			x2 += 1.5 * (x1 - x0)
			continue
		}

		if f0 < f1 && f1 < f2 {
			// Slide left
			x2 = x1
			x1 = x0
			x0 -= 1.5 * (x2 - x1)
			continue
		}

		x0 = x1 - 2*(x1-x0)
		x2 = x1 + 2*(x2-x1)
	}

	if !success {
		// No bracket, return the best point seen.
		switch {
		case f0 <= f1 && f0 <= f2:
			return x0
		case f1 <= f0 && f1 <= f2:
			return x1
		default:
			return x2
		}
	}

	for x2-x0 > tol {
		if x1-x0 > x2-x1 {
			xx := (x0 + x1) / 2
			ff := f(xx)
			if ff < f1 {
				x2 = x1
				x1, f1 = xx, ff
			} else {
				x0 = xx
			}
		} else {
			xx := (x1 + x2) / 2
			ff := f(xx)
			if ff < f1 {
				x0 = x1
				x1, f1 = xx, ff
			} else {
				x2 = xx
			}
		}
	}

	return x1
}
