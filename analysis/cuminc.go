package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/duration"
	"github.com/kshedden/survstat/statmodel"
)

// CauseCurve is the cumulative incidence of one cause within one
// stratum.
type CauseCurve struct {
	Stratum string    `json:"stratum"`
	Cause   int       `json:"cause"`
	Time    []float64 `json:"time"`
	Prob    []float64 `json:"prob"`
	SE      []float64 `json:"se"`
}

// CumIncReport holds the competing risks cumulative incidence curves.
type CumIncReport struct {
	Cause  string       `json:"cause"`
	Strata []string     `json:"strata,omitempty"`
	Curves []CauseCurve `json:"curves"`
}

// CumInc estimates the cumulative incidence of each competing cause
// within each stratum.  The numeric covariate named by cause codes the
// event type of each subject, 0 for censoring and 1, 2, ... for the
// causes; the table's event indicators are not used.
func CumInc(tb *dataset.Table, cause string, strata []string) (*CumIncReport, error) {

	codes, err := tb.Column(cause)
	if err != nil {
		return nil, err
	}
	for i, c := range codes {
		if c < 0 || c != math.Floor(c) {
			return nil, fmt.Errorf("subject %d has cause code %v, expected 0, 1, 2, ...: %w",
				tb.Subject(i).ID, c, statmodel.ErrInvalidCovariate)
		}
	}

	st, err := tb.Strata(strata...)
	if err != nil {
		return nil, err
	}

	time := tb.Times()
	rpt := &CumIncReport{
		Cause:  cause,
		Strata: strata,
	}

	for s, key := range st.Keys {
		ix := st.Members(s)
		t := make([]float64, len(ix))
		c := make([]float64, len(ix))
		for k, i := range ix {
			t[k] = time[i]
			c[k] = codes[i]
		}
		data := statmodel.NewDataset([][]statmodel.Dtype{t, c}, []string{dataset.TimeVar, cause})

		ci, err := duration.NewCumincRight(data, dataset.TimeVar, cause).Done()
		if err != nil {
			return nil, fmt.Errorf("stratum %s: %w", key, err)
		}

		for k := range ci.Probs {
			rpt.Curves = append(rpt.Curves, CauseCurve{
				Stratum: key.String(),
				Cause:   k + 1,
				Time:    ci.Times,
				Prob:    ci.Probs[k],
				SE:      ci.ProbsSE[k],
			})
		}
	}

	return rpt, nil
}

func (r *CumIncReport) String() string {

	var b strings.Builder
	for _, c := range r.Curves {
		tab := &statmodel.SummaryTable{
			Title:    fmt.Sprintf("Cumulative incidence of %s=%d: %s", r.Cause, c.Cause, c.Stratum),
			ColNames: []string{"Time", "Incidence", "SE"},
			ColFmt:   []statmodel.Fmter{statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats},
			Cols:     []interface{}{c.Time, c.Prob, c.SE},
		}
		b.WriteString(tab.String())
		b.WriteString("\n")
	}

	return b.String()
}
