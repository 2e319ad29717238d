package duration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kshedden/survstat/statmodel"
)

// Concordance calculates the survival concordance of Uno et al.
// (https://www.ncbi.nlm.nih.gov/pmc/articles/PMC3079915).  Higher
// scores are taken to indicate shorter survival.
type Concordance struct {

	// The risk scores that are being assessed
	score []float64

	// Event or censoring time
	time []float64

	// Event status
	status []float64

	// The survival function for the censoring distribution
	sf *SurvfuncRight
}

// NewConcordance creates a new Concordance value with the given parameters.
func NewConcordance(time, status, score []float64) *Concordance {

	return &Concordance{
		time:   time,
		status: status,
		score:  score,
	}
}

// Done signals that the Concordance value has been built and now can be fit.
func (c *Concordance) Done() (*Concordance, error) {

	n := len(c.time)
	if len(c.status) != n || len(c.score) != n {
		return nil, fmt.Errorf("Concordance: time, status and score lengths differ")
	}

	// Sort everything by time
	ii := make([]int, n)
	time1 := make([]float64, n)
	statusr := make([]float64, n)
	status1 := make([]float64, n)
	score1 := make([]float64, n)
	copy(time1, c.time)
	floats.Argsort(time1, ii)
	for i, j := range ii {
		// We want the survival function for censoring
		statusr[i] = 1 - c.status[j]
		status1[i] = c.status[j]
		score1[i] = c.score[j]
	}

	// Without censoring the curve is identically 1.
	var err error
	c.sf, err = survfuncFromArrays(time1, statusr)
	if err != nil {
		return nil, fmt.Errorf("Concordance: %w", err)
	}

	c.time = time1
	c.status = status1
	c.score = score1

	return c, nil
}

// Concordance returns the concordance statistic, restricted to pairs
// whose shorter time is below tau.  Pairs with tied scores count one
// half.  The error wraps statmodel.ErrInsufficientData if no pair is
// comparable.
func (c *Concordance) Concordance(tau float64) (float64, error) {

	n := len(c.time)
	time := c.time
	status := c.status
	score := c.score

	var numer, denom float64

	for i := 0; i < n; i++ {

		if status[i] != 1 || time[i] >= tau {
			continue
		}

		// Censoring survival just before the event time
		g := c.sf.At(math.Nextafter(time[i], math.Inf(-1)))
		if g <= 0 {
			continue
		}
		w := 1 / (g * g)

		for j := i + 1; j < n; j++ {
			if time[j] <= time[i] {
				continue
			}
			denom += w
			switch {
			case score[i] > score[j]:
				numer += w
			case score[i] == score[j]:
				numer += w / 2
			}
		}
	}

	if denom == 0 {
		return math.NaN(), fmt.Errorf("Concordance: no comparable pairs below %v: %w",
			tau, statmodel.ErrInsufficientData)
	}

	return numer / denom, nil
}

// Concordance returns Uno's concordance of the fitted linear predictor,
// truncated at tau.
func (rslt *PHResults) Concordance(tau float64) (float64, error) {

	ph := rslt.ph
	lp := make([]float64, ph.NumObs())
	ph.linpred(rslt.Params(), lp)

	c, err := NewConcordance(ph.data[ph.timepos], ph.data[ph.statuspos], lp).Done()
	if err != nil {
		return math.NaN(), err
	}

	return c.Concordance(tau)
}
