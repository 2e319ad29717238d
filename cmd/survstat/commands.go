package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kshedden/survstat/analysis"
	"github.com/kshedden/survstat/config"
)

func newDescribeCmd(opts *globalOptions) *cobra.Command {
	var covariates []string

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Summarize follow-up and covariates",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			return opts.execute(cmd, c, log, analysis.ModelSpec{
				Name:       "describe",
				Kind:       analysis.KindDescribe,
				Covariates: covariates,
			})
		},
	}

	cmd.Flags().StringSliceVar(&covariates, "covariates", nil, "Covariates to summarize (default all)")

	return cmd
}

func newKMCmd(opts *globalOptions) *cobra.Command {
	var strata []string
	var alpha float64
	var times []float64

	cmd := &cobra.Command{
		Use:   "km",
		Short: "Kaplan-Meier survival curves",
		Long: `Estimate the survival function within each stratum, with Greenwood
standard errors, log(-log) confidence limits and the median survival time.

Example: survstat km --data colon.csv --strata rx --times 365,730,1825`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			return opts.execute(cmd, c, log, analysis.ModelSpec{
				Name:   "km",
				Kind:   analysis.KindKM,
				Strata: strata,
				Alpha:  alpha,
				Times:  times,
			})
		},
	}

	cmd.Flags().StringSliceVar(&strata, "strata", nil, "Categorical covariates defining the strata")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Confidence limits are at level 1-alpha")
	cmd.Flags().Float64SliceVar(&times, "times", nil, "Times for the number-at-risk table")

	return cmd
}

func newLogRankCmd(opts *globalOptions) *cobra.Command {
	var strata []string
	var rho float64

	cmd := &cobra.Command{
		Use:   "logrank",
		Short: "Log-rank test comparing survival across groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			return opts.execute(cmd, c, log, analysis.ModelSpec{
				Name:   "logrank",
				Kind:   analysis.KindLogRank,
				Strata: strata,
				Rho:    rho,
			})
		},
	}

	cmd.Flags().StringSliceVar(&strata, "strata", nil, "Categorical covariates defining the groups")
	cmd.Flags().Float64Var(&rho, "rho", 0, "Fleming-Harrington weight exponent, 0 for the log-rank test")
	_ = cmd.MarkFlagRequired("strata")

	return cmd
}

// coxFlags are shared by the cox and zph commands.
type coxFlags struct {
	covariates []string
	strata     []string
	ties       string
}

func (f *coxFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.covariates, "covariates", nil, `Model terms, e.g. rx,age,"sex*nodes"`)
	cmd.Flags().StringSliceVar(&f.strata, "strata", nil, "Categorical covariates with separate baseline hazards")
	cmd.Flags().StringVar(&f.ties, "ties", "breslow", "Tie handling: breslow or efron")
	_ = cmd.MarkFlagRequired("covariates")
}

func newCoxCmd(opts *globalOptions) *cobra.Command {
	var cf coxFlags
	var l1, l2, alpha float64
	var predict []string

	cmd := &cobra.Command{
		Use:   "cox",
		Short: "Cox proportional hazards regression",
		Long: `Fit a Cox proportional hazards model by Newton-Raphson and report
coefficients, hazard ratios, the likelihood ratio test and the
concordance.  Each --predict gives a covariate vector for which the
survival curve is predicted.

Example: survstat cox --data colon.csv --covariates rx,age,nodes --predict rx=Lev,age=60,nodes=3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			qs, err := parsePredictions(predict)
			if err != nil {
				return err
			}
			return opts.execute(cmd, c, log, analysis.ModelSpec{
				Name:       "cox",
				Kind:       analysis.KindCox,
				Covariates: cf.covariates,
				Strata:     cf.strata,
				Ties:       cf.ties,
				L1:         l1,
				L2:         l2,
				Alpha:      alpha,
				Predict:    qs,
			})
		},
	}

	cf.register(cmd)
	cmd.Flags().Float64Var(&l1, "l1", 0, "L1 penalty weight")
	cmd.Flags().Float64Var(&l2, "l2", 0, "L2 penalty weight")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Confidence limits are at level 1-alpha")
	cmd.Flags().StringArrayVar(&predict, "predict", nil, "Covariate vector name=value,... (repeatable)")

	return cmd
}

func newZPHCmd(opts *globalOptions) *cobra.Command {
	var cf coxFlags
	var transform string

	cmd := &cobra.Command{
		Use:   "zph",
		Short: "Test the proportional hazards assumption of a Cox model",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			return opts.execute(cmd, c, log, analysis.ModelSpec{
				Name:       "zph",
				Kind:       analysis.KindZPH,
				Covariates: cf.covariates,
				Strata:     cf.strata,
				Ties:       cf.ties,
				Transform:  transform,
			})
		},
	}

	cf.register(cmd)
	cmd.Flags().StringVar(&transform, "transform", "km", "Time transform: km, rank, identity or log")

	return cmd
}

func newAFTCmd(opts *globalOptions) *cobra.Command {
	var covariates, predict []string
	var dist string
	var alpha float64
	var probs []float64

	cmd := &cobra.Command{
		Use:   "aft",
		Short: "Parametric accelerated failure time regression",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			qs, err := parsePredictions(predict)
			if err != nil {
				return err
			}
			return opts.execute(cmd, c, log, analysis.ModelSpec{
				Name:         "aft",
				Kind:         analysis.KindAFT,
				Covariates:   covariates,
				Distribution: dist,
				Alpha:        alpha,
				Predict:      qs,
				Probs:        probs,
			})
		},
	}

	cmd.Flags().StringSliceVar(&covariates, "covariates", nil, "Model terms")
	cmd.Flags().StringVar(&dist, "dist", "weibull", "Distribution: exponential, weibull or lognormal")
	cmd.Flags().Float64Var(&alpha, "alpha", 0.05, "Confidence limits are at level 1-alpha")
	cmd.Flags().StringArrayVar(&predict, "predict", nil, "Covariate vector name=value,... (repeatable)")
	cmd.Flags().Float64SliceVar(&probs, "probs", nil, "Cumulative probabilities for predicted quantiles")

	return cmd
}

func newCumIncCmd(opts *globalOptions) *cobra.Command {
	var strata []string

	cmd := &cobra.Command{
		Use:   "cuminc",
		Short: "Cumulative incidence of recurrence and death without recurrence",
		Long: `Estimate the cumulative incidence of the competing first events,
recurrence (cause 1) and death without recurrence (cause 2).  The
first-event table is always used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			c.EType = config.ETypeFirst
			return opts.execute(cmd, c, log, analysis.ModelSpec{
				Name:   "cuminc",
				Kind:   analysis.KindCumInc,
				Strata: strata,
			})
		},
	}

	cmd.Flags().StringSliceVar(&strata, "strata", nil, "Categorical covariates defining the strata")

	return cmd
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every model in the analysis plan",
		Long: `Run the models listed in the plan file given by --config,
concurrently, and report each one.  Failed models are reported and
make the command exit with an error after all models have run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, log, err := opts.settings(cmd)
			if err != nil {
				return err
			}
			if len(c.Models) == 0 {
				return fmt.Errorf("the plan has no models: use --config")
			}
			return opts.execute(cmd, c, log, c.Models...)
		},
	}

	return cmd
}
