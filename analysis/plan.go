package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kshedden/survstat/dataset"
)

// DefaultCauseVar is the cause-code covariate used by cumulative
// incidence entries that do not name one.
const DefaultCauseVar = "cause"

// ModelSpec is one entry of an analysis plan.
type ModelSpec struct {
	Name string `yaml:"name" json:"name"`
	Kind Kind   `yaml:"kind" json:"kind"`

	// Covariates are model terms for cox, zph and aft entries, and the
	// covariates to summarize for describe entries.
	Covariates []string `yaml:"covariates,omitempty" json:"covariates,omitempty"`

	// Strata are categorical covariates that split km, logrank and
	// cuminc entries, and stratify cox and zph entries.
	Strata []string `yaml:"strata,omitempty" json:"strata,omitempty"`

	Ties         string  `yaml:"ties,omitempty" json:"ties,omitempty"`
	Distribution string  `yaml:"distribution,omitempty" json:"distribution,omitempty"`
	Transform    string  `yaml:"transform,omitempty" json:"transform,omitempty"`
	Rho          float64 `yaml:"rho,omitempty" json:"rho,omitempty"`
	Alpha        float64 `yaml:"alpha,omitempty" json:"alpha,omitempty"`
	L1           float64 `yaml:"l1,omitempty" json:"l1,omitempty"`
	L2           float64 `yaml:"l2,omitempty" json:"l2,omitempty"`
	Cause        string  `yaml:"cause,omitempty" json:"cause,omitempty"`

	// Times are the times for the number-at-risk table of km entries.
	Times []float64 `yaml:"times,omitempty" json:"times,omitempty"`

	// Probs are the cumulative probabilities for aft predictions.
	Probs []float64 `yaml:"probs,omitempty" json:"probs,omitempty"`

	// Predict holds covariate vectors, as text, for which cox and aft
	// entries report predicted survival curves.
	Predict []map[string]string `yaml:"predict,omitempty" json:"predict,omitempty"`
}

// Plan is a set of analyses of one event table.
type Plan struct {

	// Workers bounds the number of concurrent fits, the number of
	// CPUs if zero.
	Workers int

	// Optimizer defaults for the model fits, package defaults if
	// zero.
	MaxIter int
	Tol     float64

	Models []ModelSpec

	Log *slog.Logger
}

// Run executes every entry of the plan against the table, concurrently,
// and returns one report per entry in plan order.  A failed entry is
// reported with StatusFailed and its error is included in the joined
// error returned by Run.
func Run(ctx context.Context, tb *dataset.Table, plan *Plan) ([]Report, error) {

	log := plan.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	workers := plan.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	runID := uuid.NewString()
	log.Info("starting analysis plan",
		slog.String("run_id", runID),
		slog.Int("models", len(plan.Models)),
		slog.Int("workers", workers))

	reports := make([]Report, len(plan.Models))
	errs := make([]error, len(plan.Models))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range plan.Models {
		spec := plan.Models[i]
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s-%d", spec.Kind, i+1)
		}
		g.Go(func() error {
			rpt, err := runModel(gctx, tb, &spec, plan, log)
			rpt.RunID = runID
			reports[i] = rpt
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", spec.Name, err)
			}
			return nil
		})
	}

	// Every goroutine returns nil so that one failed entry does not
	// cancel the others; failures are kept per entry in errs.
	_ = g.Wait()

	err := errors.Join(errs...)
	log.Info("finished analysis plan",
		slog.String("run_id", runID),
		slog.Bool("ok", err == nil))

	return reports, err
}

func runModel(ctx context.Context, tb *dataset.Table, spec *ModelSpec, plan *Plan, log *slog.Logger) (Report, error) {

	rpt := Report{
		ID:     uuid.NewString(),
		Name:   spec.Name,
		Kind:   spec.Kind,
		Status: StatusOK,
	}

	if err := ctx.Err(); err != nil {
		rpt.Status = StatusFailed
		rpt.Error = err.Error()
		return rpt, err
	}

	start := time.Now()
	log = log.With(slog.String("model", spec.Name), slog.String("kind", string(spec.Kind)))

	payload, warnings, err := execute(tb, spec, plan, log)
	rpt.Payload = payload
	rpt.Warnings = warnings

	switch {
	case err != nil:
		rpt.Status = StatusFailed
		rpt.Error = err.Error()
		log.Warn("model failed", slog.String("error", err.Error()))
	case len(warnings) > 0:
		rpt.Status = StatusWarning
	}

	log.Debug("model finished",
		slog.String("status", string(rpt.Status)),
		slog.Duration("elapsed", time.Since(start)))

	return rpt, err
}

// execute runs one entry.  The payload may be non-nil alongside an error
// when a fit produced estimates but did not succeed.
func execute(tb *dataset.Table, spec *ModelSpec, plan *Plan, log *slog.Logger) (any, []string, error) {

	switch spec.Kind {
	case KindDescribe:
		r, err := Describe(tb, spec.Covariates)
		return nilIfErr(r, err), nil, err

	case KindKM:
		r, err := KaplanMeier(tb, &KMSpec{Strata: spec.Strata, Alpha: spec.Alpha, Times: spec.Times})
		return nilIfErr(r, err), nil, err

	case KindLogRank:
		r, err := LogRank(tb, spec.Strata, spec.Rho)
		return nilIfErr(r, err), nil, err

	case KindCox, KindZPH:
		m, err := FitCox(tb, &CoxSpec{
			Covariates: spec.Covariates,
			Strata:     spec.Strata,
			Ties:       spec.Ties,
			L1:         spec.L1,
			L2:         spec.L2,
			MaxIter:    plan.MaxIter,
			Tol:        plan.Tol,
			Alpha:      spec.Alpha,
			Log:        log,
		})
		if m == nil {
			return nil, nil, err
		}
		warnings := m.Results().Warnings()

		if spec.Kind == KindZPH {
			if err != nil {
				return m.Report(), warnings, err
			}
			z, err := m.CheckPH(spec.Transform)
			return nilIfErr(z, err), warnings, err
		}

		r := m.Report()
		if err != nil {
			return r, warnings, err
		}
		for _, q := range spec.Predict {
			cov, err := ParseQuery(tb, q)
			if err != nil {
				return r, warnings, err
			}
			p, err := m.Predict(cov)
			if err != nil {
				return r, warnings, err
			}
			r.Predictions = append(r.Predictions, *p)
		}
		return r, warnings, nil

	case KindAFT:
		m, err := FitAFT(tb, &AFTSpec{
			Covariates:   spec.Covariates,
			Distribution: spec.Distribution,
			MaxIter:      plan.MaxIter,
			Tol:          plan.Tol,
			Alpha:        spec.Alpha,
			Log:          log,
		})
		if m == nil {
			return nil, nil, err
		}
		r := m.Report()
		if err != nil {
			return r, nil, err
		}
		for _, q := range spec.Predict {
			cov, err := ParseQuery(tb, q)
			if err != nil {
				return r, nil, err
			}
			p, err := m.Predict(cov, spec.Probs)
			if err != nil {
				return r, nil, err
			}
			r.Predictions = append(r.Predictions, *p)
		}
		return r, nil, nil

	case KindCumInc:
		cause := spec.Cause
		if cause == "" {
			cause = DefaultCauseVar
		}
		r, err := CumInc(tb, cause, spec.Strata)
		return nilIfErr(r, err), nil, err

	default:
		return nil, nil, fmt.Errorf("unknown analysis kind '%s'", spec.Kind)
	}
}

// nilIfErr keeps typed nil pointers out of the payload interface.
func nilIfErr[T any](r *T, err error) any {
	if err != nil || r == nil {
		return nil
	}
	return r
}
