package duration

import (
	"fmt"
	"math"
	"sort"

	"github.com/kshedden/survstat/statmodel"
)

// CumincRight estimates the cumulative incidence functions for
// duration data with competing risks.
type CumincRight struct {

	// The data used to perform the estimation.
	data statmodel.Dataset

	// The name of the variable containing the event or censoring
	// time.
	timeVar string

	// The name of a variable containing the status indicator,
	// which is 1, 2, ... for the event types, and 0 for a
	// censored outcome.
	statusVar string

	// Times at which events occur, sorted.
	Times []float64

	// The number of occurrences of events of each type at each
	// time in Times.
	Events [][]float64

	// Number of events of any type at each time in Times
	EventsAll []float64

	// Risk set size at each time in times
	NRisk []float64

	// The estimated all-cause survival function
	ProbsAll []float64

	// The cause specific cumulative incidence rates.  Probs[k]
	// contains the rates for the events with Status==k+1
	// (Status==0 indicates censoring, cumulative incidences are
	// not estimated for the censored subjects).
	Probs [][]float64

	// The standard errors of the values in Probs
	ProbsSE [][]float64

	events    []map[float64]float64
	eventsall map[float64]float64
	total     map[float64]float64
}

// NewCumincRight creates a CumincRight value that can be used to estimate
// the cumulative incidence function from the given data.
func NewCumincRight(data statmodel.Dataset, timevar, statusvar string) *CumincRight {

	return &CumincRight{
		data:      data,
		timeVar:   timevar,
		statusVar: statusvar,
	}
}

func (ci *CumincRight) scanData() error {

	ci.events = nil
	ci.eventsall = make(map[float64]float64)
	ci.total = make(map[float64]float64)

	pos := make(map[string]int)
	for j, x := range ci.data.Names() {
		pos[x] = j
	}
	timepos, ok := pos[ci.timeVar]
	if !ok {
		return fmt.Errorf("CumincRight: time variable '%s' not found", ci.timeVar)
	}
	statuspos, ok := pos[ci.statusVar]
	if !ok {
		return fmt.Errorf("CumincRight: status variable '%s' not found", ci.statusVar)
	}

	da := ci.data.Data()
	time := da[timepos]
	status := da[statuspos]

	for i, t := range time {

		if t < 0 || math.IsNaN(t) {
			return fmt.Errorf("CumincRight: invalid time %v in row %d", t, i)
		}
		k := int(status[i])
		if float64(k) != status[i] || k < 0 {
			return fmt.Errorf("CumincRight: status %v in row %d is not a cause code", status[i], i)
		}

		// Make room for an event type we have not yet seen
		for k > len(ci.events) {
			ci.events = append(ci.events, make(map[float64]float64))
		}

		if k > 0 {
			ci.events[k-1][t]++
			ci.eventsall[t]++
		}
		ci.total[t]++
	}

	return nil
}

func (ci *CumincRight) eventstats() {

	// Get the sorted times (event or censoring)
	ci.Times = make([]float64, 0, len(ci.total))
	for t := range ci.total {
		ci.Times = append(ci.Times, t)
	}
	sort.Float64s(ci.Times)

	// Get the event count and risk set size at each time
	// point (in same order as Times).
	ci.EventsAll = make([]float64, len(ci.Times))
	ci.NRisk = make([]float64, len(ci.Times))
	for i, t := range ci.Times {
		ci.EventsAll[i] = ci.eventsall[t]
		ci.NRisk[i] = ci.total[t]
	}
	rollback(ci.NRisk)
}

func (ci *CumincRight) fitall() {

	ci.ProbsAll = make([]float64, len(ci.Times))

	x := float64(1)
	for i := range ci.Times {
		x *= 1 - ci.EventsAll[i]/ci.NRisk[i]
		ci.ProbsAll[i] = x
	}
}

func (ci *CumincRight) fit() {

	ci.Probs = ci.Probs[:0]
	ci.Events = ci.Events[:0]

	for _, ev := range ci.events {

		// Obtain the number of events of each cause at each time.
		evr := make([]float64, len(ci.Times))
		for t, n := range ev {
			ii := sort.SearchFloat64s(ci.Times, t)
			evr[ii] += n
		}

		cir := make([]float64, len(ci.Times))
		x := float64(0)
		for i, y := range evr {
			v := y / ci.NRisk[i]
			if i > 0 {
				v *= ci.ProbsAll[i-1]
			}
			x += v
			cir[i] = x
		}

		ci.Probs = append(ci.Probs, cir)
		ci.Events = append(ci.Events, evr)
	}
}

// fitse computes delta method standard errors for the cumulative
// incidence estimates.
func (ci *CumincRight) fitse() {

	ci.ProbsSE = ci.ProbsSE[:0]

	for k := range ci.Probs {

		var x1, x2, x3, x4, x5, x6 float64
		se := make([]float64, len(ci.Times))

		for i := range ci.Times {

			q := ci.Probs[k][i]
			da := ci.EventsAll[i]
			d := ci.Events[k][i]
			n := ci.NRisk[i]
			s := float64(1)
			if i > 0 {
				s = ci.ProbsAll[i-1]
			}
			s /= n

			// The all-cause term is undefined when everyone at
			// risk fails.
			if n > da {
				ra := da / (n * (n - da))
				x1 += ra
				x2 += q * ra
				x3 += q * q * ra
			}

			ra := (n - d) * d / n
			x4 += s * s * ra

			ra = s * d / n
			x5 += ra
			x6 += q * ra

			v := q*q*x1 - 2*q*x2 + x3 + x4 - 2*q*x5 + 2*x6
			se[i] = math.Sqrt(math.Max(v, 0))
		}

		ci.ProbsSE = append(ci.ProbsSE, se)
	}
}

// compress removes times where no events occurred.
func (ci *CumincRight) compress() {

	var ix []int
	for i := 0; i < len(ci.Times); i++ {
		if ci.EventsAll[i] > 0 {
			ix = append(ix, i)
		}
	}

	if len(ix) < len(ci.Times) {
		for i, j := range ix {
			ci.Times[i] = ci.Times[j]
			ci.EventsAll[i] = ci.EventsAll[j]
			ci.NRisk[i] = ci.NRisk[j]
		}
		ci.Times = ci.Times[0:len(ix)]
		ci.EventsAll = ci.EventsAll[0:len(ix)]
		ci.NRisk = ci.NRisk[0:len(ix)]
	}
}

// NumCauses returns the number of event types.
func (ci *CumincRight) NumCauses() int {
	return len(ci.Probs)
}

// Done completes construction and computes all results.  The returned
// error wraps statmodel.ErrInsufficientData if no events are observed.
func (ci *CumincRight) Done() (*CumincRight, error) {
	if err := ci.scanData(); err != nil {
		return nil, err
	}
	if len(ci.eventsall) == 0 {
		return nil, fmt.Errorf("CumincRight: no events: %w", statmodel.ErrInsufficientData)
	}
	ci.eventstats()
	ci.compress()
	ci.fitall()
	ci.fit()
	ci.fitse()
	return ci, nil
}
