package analysis

import (
	"fmt"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/duration"
	"github.com/kshedden/survstat/statmodel"
)

// LogRankReport holds a k-sample log-rank test.
type LogRankReport struct {
	Strata   []string  `json:"strata"`
	Groups   []string  `json:"groups"`
	N        []int     `json:"n"`
	Observed []float64 `json:"observed"`
	Expected []float64 `json:"expected"`

	// Contrib holds (O-E)^2/E for each group.
	Contrib []float64 `json:"contrib"`

	Rho    float64 `json:"rho"`
	Chi2   Float   `json:"chi2"`
	DF     int     `json:"df"`
	PValue Float   `json:"p"`
}

// LogRank tests whether the survival distributions of the strata defined
// by the given categorical covariates are equal.  A nonzero rho selects
// the Fleming-Harrington G(rho) weights.
func LogRank(tb *dataset.Table, strata []string, rho float64) (*LogRankReport, error) {

	if len(strata) == 0 {
		return nil, fmt.Errorf("log-rank test needs at least one grouping covariate: %w",
			statmodel.ErrInsufficientData)
	}

	st, err := tb.Strata(strata...)
	if err != nil {
		return nil, err
	}

	lr, err := duration.LogRank(tb.Times(), tb.Status(), st.Index, len(st.Keys),
		&duration.LogRankConfig{Rho: rho})
	if err != nil {
		return nil, err
	}

	rpt := &LogRankReport{
		Strata:   strata,
		Observed: lr.Observed,
		Expected: lr.Expected,
		Rho:      rho,
		Chi2:     Float(lr.Chi2),
		DF:       lr.DF,
		PValue:   Float(lr.PValue),
	}
	for s, key := range st.Keys {
		rpt.Groups = append(rpt.Groups, key.String())
		rpt.N = append(rpt.N, len(st.Members(s)))
		var c float64
		if e := lr.Expected[s]; e > 0 {
			d := lr.Observed[s] - e
			c = d * d / e
		}
		rpt.Contrib = append(rpt.Contrib, c)
	}

	return rpt, nil
}

func (r *LogRankReport) String() string {

	n := make([]float64, len(r.N))
	for i, v := range r.N {
		n[i] = float64(v)
	}

	title := "Log-rank test"
	if r.Rho != 0 {
		title = fmt.Sprintf("Fleming-Harrington G(%g) test", r.Rho)
	}

	tab := &statmodel.SummaryTable{
		Title:    title,
		ColNames: []string{"Group", "N", "Observed", "Expected", "(O-E)^2/E"},
		ColFmt: []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtFloats, statmodel.FmtFloats,
			statmodel.FmtFloats, statmodel.FmtFloats},
		Cols: []interface{}{r.Groups, n, r.Observed, r.Expected, r.Contrib},
		Top: []string{
			fmt.Sprintf("Chi-squared:  %.4f", float64(r.Chi2)),
			fmt.Sprintf("DF:           %d", r.DF),
			fmt.Sprintf("P-value:      %.4g", float64(r.PValue)),
		},
	}

	return tab.String()
}
