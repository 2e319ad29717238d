package statmodel

import "errors"

// Error kinds reported by the estimators.  Call sites wrap these with
// context, test for them with errors.Is.
var (
	// ErrInsufficientData means a stratum has no events, or too few
	// distinct event times to estimate anything.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrNonConvergence means the optimizer did not reach the
	// gradient tolerance within its iteration budget.
	ErrNonConvergence = errors.New("optimization did not converge")

	// ErrSingularInformation means the information matrix at the
	// estimate could not be inverted, so no standard errors exist.
	ErrSingularInformation = errors.New("singular information matrix")

	// ErrInvalidCovariate means a prediction query omitted a model
	// covariate or used a categorical level not seen during fitting.
	ErrInvalidCovariate = errors.New("invalid covariate vector")
)
