package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/statmodel"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// CovariateSummary describes one covariate of an event table.  Numeric
// covariates get moments and quartiles, categorical covariates get level
// counts.
type CovariateSummary struct {
	Name   string         `json:"name"`
	Kind   string         `json:"kind"`
	Mean   Float          `json:"mean,omitempty"`
	SD     Float          `json:"sd,omitempty"`
	Min    Float          `json:"min,omitempty"`
	Q1     Float          `json:"q1,omitempty"`
	Median Float          `json:"median,omitempty"`
	Q3     Float          `json:"q3,omitempty"`
	Max    Float          `json:"max,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`

	// EventRate is the proportion of subjects with an event, per
	// level for categorical covariates.
	EventRate map[string]float64 `json:"event_rate,omitempty"`
}

// DescribeReport summarizes an event table.
type DescribeReport struct {
	N          int                `json:"n"`
	Events     int                `json:"events"`
	FollowUp   Float              `json:"mean_followup"`
	Covariates []CovariateSummary `json:"covariates"`

	levels map[string][]string
}

// Describe summarizes the follow-up and the named covariates, or all
// covariates when names is empty.
func Describe(tb *dataset.Table, names []string) (*DescribeReport, error) {

	if len(names) == 0 {
		names = tb.Names()
	}

	status := tb.Status()
	rpt := &DescribeReport{
		N:        tb.Len(),
		Events:   int(floats.Sum(status)),
		FollowUp: Float(stat.Mean(tb.Times(), nil)),
		levels:   make(map[string][]string),
	}

	for _, na := range names {
		k, ok := tb.Kind(na)
		if !ok {
			return nil, fmt.Errorf("unknown covariate '%s': %w", na, statmodel.ErrInvalidCovariate)
		}

		cs := CovariateSummary{Name: na, Kind: k.String()}
		switch k {
		case dataset.Numeric:
			x, err := tb.Column(na)
			if err != nil {
				return nil, err
			}
			m, sd := stat.MeanStdDev(x, nil)
			sort.Float64s(x)
			cs.Mean, cs.SD = Float(m), Float(sd)
			cs.Min, cs.Max = Float(x[0]), Float(x[len(x)-1])
			cs.Q1 = Float(stat.Quantile(0.25, stat.Empirical, x, nil))
			cs.Median = Float(stat.Quantile(0.5, stat.Empirical, x, nil))
			cs.Q3 = Float(stat.Quantile(0.75, stat.Empirical, x, nil))
		default:
			codes, err := tb.LevelCodes(na)
			if err != nil {
				return nil, err
			}
			levs := tb.Levels(na)
			rpt.levels[na] = levs
			cs.Counts = make(map[string]int)
			cs.EventRate = make(map[string]float64)
			for j, lev := range levs {
				// The event rate is the mean status weighted by the
				// level indicator.
				w := make([]float64, len(codes))
				for i, c := range codes {
					if c == j {
						w[i] = 1
						cs.Counts[lev]++
					}
				}
				if cs.Counts[lev] > 0 {
					cs.EventRate[lev] = stat.Mean(status, w)
				}
			}
		}
		rpt.Covariates = append(rpt.Covariates, cs)
	}

	return rpt, nil
}

func (r *DescribeReport) String() string {

	var b strings.Builder
	fmt.Fprintf(&b, "Subjects: %d   Events: %d   Mean follow-up: %.1f\n\n", r.N, r.Events, float64(r.FollowUp))

	var nn []string
	var mean, sd, lo, q1, med, q3, hi []float64
	for _, c := range r.Covariates {
		if c.Counts != nil {
			continue
		}
		nn = append(nn, c.Name)
		mean = append(mean, float64(c.Mean))
		sd = append(sd, float64(c.SD))
		lo = append(lo, float64(c.Min))
		q1 = append(q1, float64(c.Q1))
		med = append(med, float64(c.Median))
		q3 = append(q3, float64(c.Q3))
		hi = append(hi, float64(c.Max))
	}
	if len(nn) > 0 {
		tab := &statmodel.SummaryTable{
			Title:    "Numeric covariates",
			ColNames: []string{"Covariate", "Mean", "SD", "Min", "Q1", "Median", "Q3", "Max"},
			ColFmt: []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtFloats, statmodel.FmtFloats,
				statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats, statmodel.FmtFloats,
				statmodel.FmtFloats},
			Cols: []interface{}{nn, mean, sd, lo, q1, med, q3, hi},
		}
		b.WriteString(tab.String())
		b.WriteString("\n")
	}

	var cn, ln []string
	var cnt, rate []float64
	for _, c := range r.Covariates {
		if c.Counts == nil {
			continue
		}
		for _, lev := range r.levels[c.Name] {
			cn = append(cn, c.Name)
			ln = append(ln, lev)
			cnt = append(cnt, float64(c.Counts[lev]))
			rate = append(rate, c.EventRate[lev])
		}
	}
	if len(cn) > 0 {
		tab := &statmodel.SummaryTable{
			Title:    "Categorical covariates",
			ColNames: []string{"Covariate", "Level", "Count", "Event rate"},
			ColFmt:   []statmodel.Fmter{statmodel.FmtStrings, statmodel.FmtStrings, statmodel.FmtFloats, statmodel.FmtFloats},
			Cols:     []interface{}{cn, ln, cnt, rate},
		}
		b.WriteString(tab.String())
	}

	return b.String()
}
