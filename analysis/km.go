package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/duration"
	"github.com/kshedden/survstat/statmodel"
)

// KMCurve is the Kaplan-Meier estimate for one stratum.
type KMCurve struct {
	Stratum  string    `json:"stratum"`
	N        int       `json:"n"`
	Events   int       `json:"events"`
	Time     []float64 `json:"time"`
	Surv     []float64 `json:"surv"`
	SE       []float64 `json:"se"`
	LCB      []float64 `json:"lcb"`
	UCB      []float64 `json:"ucb"`
	NRisk    []float64 `json:"nrisk"`
	NEvents  []float64 `json:"nevents"`
	Median   Float     `json:"median"`
	MedianOK bool      `json:"median_reached"`

	// AtRisk is the number at risk at each of the requested times.
	AtRisk []float64 `json:"at_risk,omitempty"`
}

// KMReport holds one Kaplan-Meier curve per stratum.
type KMReport struct {
	Strata []string  `json:"strata,omitempty"`
	Alpha  float64   `json:"alpha"`
	Times  []float64 `json:"times,omitempty"`
	Curves []KMCurve `json:"curves"`
}

// KMSpec describes a Kaplan-Meier analysis.
type KMSpec struct {

	// Strata lists categorical covariates whose level combinations
	// get separate curves.
	Strata []string

	// Alpha is the level for confidence limits, 0.05 if zero.
	Alpha float64

	// Times are the times at which the number at risk is reported.
	Times []float64
}

// subframe returns the time and status of the given subjects as a
// statmodel.Dataset.
func subframe(tb *dataset.Table, ix []int) statmodel.Dataset {
	time := tb.Times()
	status := tb.Status()
	t := make([]float64, len(ix))
	s := make([]float64, len(ix))
	for k, i := range ix {
		t[k] = time[i]
		s[k] = status[i]
	}
	return statmodel.NewDataset([][]statmodel.Dtype{t, s}, []string{dataset.TimeVar, dataset.StatusVar})
}

// KaplanMeier estimates the survival function within each stratum, with
// pointwise confidence limits.
func KaplanMeier(tb *dataset.Table, spec *KMSpec) (*KMReport, error) {

	alpha := spec.Alpha
	if alpha == 0 {
		alpha = 0.05
	}
	if alpha < 0 || alpha >= 1 {
		return nil, fmt.Errorf("alpha %v is not in (0, 1)", alpha)
	}

	st, err := tb.Strata(spec.Strata...)
	if err != nil {
		return nil, err
	}

	rpt := &KMReport{
		Strata: spec.Strata,
		Alpha:  alpha,
		Times:  spec.Times,
	}

	for s, key := range st.Keys {
		ix := st.Members(s)
		sf, err := duration.NewSurvfuncRight(subframe(tb, ix), dataset.TimeVar, dataset.StatusVar).Done()
		if err != nil {
			return nil, fmt.Errorf("stratum %s: %w", key, err)
		}

		lcb, ucb := sf.ConfInt(alpha)
		med, ok := sf.Median()

		var nev float64
		for _, d := range sf.NumEvents() {
			nev += d
		}

		rpt.Curves = append(rpt.Curves, KMCurve{
			Stratum:  key.String(),
			N:        len(ix),
			Events:   int(nev),
			Time:     sf.Time(),
			Surv:     sf.SurvProb(),
			SE:       sf.SurvProbSE(),
			LCB:      lcb,
			UCB:      ucb,
			NRisk:    sf.NumRisk(),
			NEvents:  sf.NumEvents(),
			Median:   Float(med),
			MedianOK: ok,
			AtRisk:   sf.NumRiskAt(spec.Times),
		})
	}

	return rpt, nil
}

func (r *KMReport) String() string {

	var b strings.Builder
	for _, c := range r.Curves {
		tab := &statmodel.SummaryTable{
			Title:    "Kaplan-Meier estimate: " + c.Stratum,
			ColNames: []string{"Time", "At risk", "Events", "Survival", "SE", "LCB", "UCB"},
			ColFmt: []statmodel.Fmter{statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats,
				statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats},
			Cols: []interface{}{c.Time, c.NRisk, c.NEvents, c.Surv, c.SE, c.LCB, c.UCB},
			Top: []string{
				fmt.Sprintf("Subjects:   %d", c.N),
				fmt.Sprintf("Events:     %d", c.Events),
				"Median:     " + fmtMedian(c.Median, c.MedianOK),
			},
		}
		if len(r.Times) > 0 {
			tab.Msg = append(tab.Msg, "Number at risk:")
			for i, t := range r.Times {
				tab.Msg = append(tab.Msg, fmt.Sprintf("  %10.4g %8.0f", t, c.AtRisk[i]))
			}
		}
		b.WriteString(tab.String())
		b.WriteString("\n")
	}

	return b.String()
}

func fmtMedian(m Float, ok bool) string {
	if !ok || math.IsNaN(float64(m)) {
		return "not reached"
	}
	return fmt.Sprintf("%.4g", float64(m))
}
