package duration

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/survstat/statmodel"
)

// SurvfuncRight uses the method of Kaplan and Meier to estimate the
// survival distribution based on (possibly) right censored data.
type SurvfuncRight struct {

	// The data used to perform the estimation.
	data statmodel.Dataset

	// The name of the variable containing the event or censoring
	// time.
	timeVar string

	// The name of a variable containing the status indicator,
	// which is 1 if the event occurred at the time given by
	// TimeVar, and 0 otherwise.
	statusVar string

	// Times at which events occur, sorted.
	times []float64

	// Number of events at each time in Times.
	nEvents []float64

	// Number of people at risk just before each time in times
	nRisk []float64

	// The estimated survival function evaluated at each time in Times
	survProb []float64

	// Greenwood variance of the estimates in survProb
	survProbVar []float64

	// All distinct times (event or censoring) and the risk set
	// size just before each of them.
	allTimes []float64
	allRisk  []float64

	events map[float64]float64
	total  map[float64]float64
}

// NewSurvfuncRight creates a new value for fitting a survival function.
func NewSurvfuncRight(data statmodel.Dataset, timevar, statusvar string) *SurvfuncRight {

	return &SurvfuncRight{
		data:      data,
		timeVar:   timevar,
		statusVar: statusvar,
	}
}

// survfuncFromArrays fits a survival function without the minimum data
// checks applied by Done.  It is used for auxiliary curves, such as the
// censoring distribution, that may legitimately have few events.
func survfuncFromArrays(time, status []float64) (*SurvfuncRight, error) {
	sf := &SurvfuncRight{}
	if err := sf.scan(time, status); err != nil {
		return nil, err
	}
	sf.eventstats()
	sf.compress()
	sf.fit()
	return sf, nil
}

// Time returns the times at which the survival function changes.
func (sf *SurvfuncRight) Time() []float64 {
	return sf.times
}

// NumRisk returns the number of people at risk at each time point
// where the survival function changes.
func (sf *SurvfuncRight) NumRisk() []float64 {
	return sf.nRisk
}

// NumEvents returns the number of events at each time point where the
// survival function changes.
func (sf *SurvfuncRight) NumEvents() []float64 {
	return sf.nEvents
}

// SurvProb returns the estimated survival probabilities at the points
// where the survival function changes.
func (sf *SurvfuncRight) SurvProb() []float64 {
	return sf.survProb
}

// SurvProbVar returns the Greenwood variances of the estimated survival
// probabilities.
func (sf *SurvfuncRight) SurvProbVar() []float64 {
	return sf.survProbVar
}

// SurvProbSE returns the standard errors of the estimated survival
// probabilities at the points where the survival function changes.
func (sf *SurvfuncRight) SurvProbSE() []float64 {
	se := make([]float64, len(sf.survProbVar))
	for i, v := range sf.survProbVar {
		se[i] = math.Sqrt(v)
	}
	return se
}

func (sf *SurvfuncRight) scan(time, status []float64) error {

	sf.events = make(map[float64]float64)
	sf.total = make(map[float64]float64)

	for i, t := range time {
		if t < 0 || math.IsNaN(t) {
			return fmt.Errorf("SurvfuncRight: invalid time %v in row %d", t, i)
		}
		switch status[i] {
		case 1:
			sf.events[t]++
		case 0:
		default:
			return fmt.Errorf("SurvfuncRight: status in row %d is %v, not 0 or 1", i, status[i])
		}
		sf.total[t]++
	}

	return nil
}

func rollback(x []float64) {
	var z float64
	for i := len(x) - 1; i >= 0; i-- {
		z += x[i]
		x[i] = z
	}
}

func (sf *SurvfuncRight) eventstats() {

	// Get the sorted distinct times (event or censoring)
	sf.times = make([]float64, 0, len(sf.total))
	for t := range sf.total {
		sf.times = append(sf.times, t)
	}
	sort.Float64s(sf.times)

	// Get the event count and risk set size at each time point (in
	// same order as Times).
	sf.nEvents = make([]float64, len(sf.times))
	sf.nRisk = make([]float64, len(sf.times))
	for i, t := range sf.times {
		sf.nEvents[i] = sf.events[t]
		sf.nRisk[i] = sf.total[t]
	}
	rollback(sf.nRisk)

	sf.allTimes = append([]float64(nil), sf.times...)
	sf.allRisk = append([]float64(nil), sf.nRisk...)
}

// compress removes times where no events occurred.
func (sf *SurvfuncRight) compress() {

	var ix []int
	for i := 0; i < len(sf.times); i++ {
		if sf.nEvents[i] > 0 {
			ix = append(ix, i)
		}
	}

	if len(ix) < len(sf.times) {
		for i, j := range ix {
			sf.times[i] = sf.times[j]
			sf.nEvents[i] = sf.nEvents[j]
			sf.nRisk[i] = sf.nRisk[j]
		}
		sf.times = sf.times[0:len(ix)]
		sf.nEvents = sf.nEvents[0:len(ix)]
		sf.nRisk = sf.nRisk[0:len(ix)]
	}
}

func (sf *SurvfuncRight) fit() {

	// Product limit estimate; all deaths at a time are removed from
	// the risk set together.
	sf.survProb = make([]float64, len(sf.times))
	x := float64(1)
	for i := range sf.times {
		x *= 1 - sf.nEvents[i]/sf.nRisk[i]
		sf.survProb[i] = x
	}

	// Greenwood's formula.  The variance is zero once the
	// estimate reaches zero.
	sf.survProbVar = make([]float64, len(sf.times))
	x = 0
	for i := range sf.times {
		d := sf.nEvents[i]
		n := sf.nRisk[i]
		if n == d || sf.survProb[i] == 0 {
			continue
		}
		x += d / (n * (n - d))
		sf.survProbVar[i] = x * sf.survProb[i] * sf.survProb[i]
	}
}

// Done fits the survival function.  The returned error wraps
// statmodel.ErrInsufficientData when there are fewer than two distinct
// event times.
func (sf *SurvfuncRight) Done() (*SurvfuncRight, error) {

	pos := make(map[string]int)
	for k, na := range sf.data.Names() {
		pos[na] = k
	}

	timepos, ok := pos[sf.timeVar]
	if !ok {
		return nil, fmt.Errorf("SurvfuncRight: time variable '%s' not found", sf.timeVar)
	}
	statuspos, ok := pos[sf.statusVar]
	if !ok {
		return nil, fmt.Errorf("SurvfuncRight: status variable '%s' not found", sf.statusVar)
	}

	da := sf.data.Data()
	if err := sf.scan(da[timepos], da[statuspos]); err != nil {
		return nil, err
	}
	sf.eventstats()
	sf.compress()

	if len(sf.times) < 2 {
		return nil, fmt.Errorf("SurvfuncRight: %d distinct event times: %w",
			len(sf.times), statmodel.ErrInsufficientData)
	}

	sf.fit()

	return sf, nil
}

// position returns the index of the largest event time that is <= t, or
// -1 if t precedes the first event.
func (sf *SurvfuncRight) position(t float64) int {
	return sort.Search(len(sf.times), func(i int) bool { return sf.times[i] > t }) - 1
}

// At returns the estimated survival probability at time t.  The
// estimate is a right-continuous step function equal to 1 before the
// first event time.
func (sf *SurvfuncRight) At(t float64) float64 {
	i := sf.position(t)
	if i < 0 {
		return 1
	}
	return sf.survProb[i]
}

// VarAt returns the Greenwood variance of the estimate at time t.
func (sf *SurvfuncRight) VarAt(t float64) float64 {
	i := sf.position(t)
	if i < 0 {
		return 0
	}
	return sf.survProbVar[i]
}

// NumRiskAt returns the number of subjects at risk just before each of
// the given times.
func (sf *SurvfuncRight) NumRiskAt(t []float64) []float64 {
	nr := make([]float64, len(t))
	for j, u := range t {
		i := sort.SearchFloat64s(sf.allTimes, u)
		if i < len(sf.allRisk) {
			nr[j] = sf.allRisk[i]
		}
	}
	return nr
}

// ConfInt returns pointwise 1-alpha confidence limits for the survival
// probabilities, constructed on the log(-log) scale.  Where the
// estimate is 0 or 1, or the variance is zero, the limits equal the
// estimate.
func (sf *SurvfuncRight) ConfInt(alpha float64) ([]float64, []float64) {

	z := distuv.UnitNormal.Quantile(1 - alpha/2)

	lcb := make([]float64, len(sf.times))
	ucb := make([]float64, len(sf.times))
	for i, s := range sf.survProb {
		v := sf.survProbVar[i]
		if s <= 0 || s >= 1 || v == 0 {
			lcb[i], ucb[i] = s, s
			continue
		}
		ls := math.Log(s)
		se := math.Sqrt(v) / (s * math.Abs(ls))
		lcb[i] = math.Exp(-math.Exp(math.Log(-ls) + z*se))
		ucb[i] = math.Exp(-math.Exp(math.Log(-ls) - z*se))
	}

	return lcb, ucb
}

// Quantile returns the smallest event time at which the survival
// probability is at or below 1-p.  The second value is false if the
// curve never gets that low.
func (sf *SurvfuncRight) Quantile(p float64) (float64, bool) {
	for i, s := range sf.survProb {
		if s <= 1-p+1e-12 {
			return sf.times[i], true
		}
	}
	return math.NaN(), false
}

// Median returns the estimated median survival time.
func (sf *SurvfuncRight) Median() (float64, bool) {
	return sf.Quantile(0.5)
}
