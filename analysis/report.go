// Package analysis fits the estimators of package duration to an event
// table by covariate name, answers typed prediction queries against the
// fitted models, and returns the results as structured report records.
package analysis

import (
	"encoding/json"
	"math"
)

// Kind names an analysis.
type Kind string

// The supported analyses.
const (
	KindDescribe Kind = "describe"
	KindKM       Kind = "km"
	KindLogRank  Kind = "logrank"
	KindCox      Kind = "cox"
	KindZPH      Kind = "zph"
	KindAFT      Kind = "aft"
	KindCumInc   Kind = "cuminc"
)

// Status is the outcome of one analysis.
type Status string

// A warning status means the analysis produced results that should be
// read with care, such as a Cox fit with possible separation.
const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Report is the record produced by one analysis.  Failed analyses carry
// the error text and, when the estimator returned partial results, a
// payload.
type Report struct {
	ID       string   `json:"id"`
	RunID    string   `json:"run_id,omitempty"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	Status   Status   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Payload  any      `json:"payload,omitempty"`
}

// Float is a number that encodes to JSON null when it is not finite.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	x := float64(f)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(x)
}

// Coef is one row of a coefficient table.  Ratio is the hazard ratio of
// a Cox model, or the acceleration factor of an AFT model, with its
// confidence limits.
type Coef struct {
	Name   string `json:"name"`
	Coef   Float  `json:"coef"`
	SE     Float  `json:"se"`
	Z      Float  `json:"z"`
	PValue Float  `json:"p"`
	Ratio  Float  `json:"ratio"`
	LCB    Float  `json:"lcb"`
	UCB    Float  `json:"ucb"`
}

// Prediction is a model-based curve for one query covariate vector.
type Prediction struct {
	Query   map[string]string `json:"query"`
	Stratum string            `json:"stratum,omitempty"`

	// Time holds event times for a Cox model and fitted quantiles for
	// an AFT model.
	Time []float64 `json:"time"`

	Survival []float64 `json:"survival"`
	CumHaz   []float64 `json:"cumhaz,omitempty"`
}
