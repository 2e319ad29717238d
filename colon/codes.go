// Package colon reads the colon cancer adjuvant chemotherapy trial
// (levamisole and fluorouracil, Moertel et al.) and recodes its numeric
// code columns into typed values, producing event tables for the
// survival estimators.
//
// Each patient has two records: one for recurrence (etype 1) and one for
// death (etype 2).
package colon

import "fmt"

// Treatment is the randomized arm.
type Treatment int

// The three arms: observation, levamisole, levamisole plus fluorouracil.
const (
	Obs Treatment = iota
	Lev
	LevFU
)

var treatmentNames = []string{"Obs", "Lev", "Lev+5FU"}

func (t Treatment) String() string {
	if t < 0 || int(t) >= len(treatmentNames) {
		return fmt.Sprintf("Treatment(%d)", int(t))
	}
	return treatmentNames[t]
}

// ParseTreatment accepts either the arm label or its 1-based code.
func ParseTreatment(s string) (Treatment, error) {
	for j, na := range treatmentNames {
		if s == na || s == fmt.Sprint(j+1) {
			return Treatment(j), nil
		}
	}
	return 0, fmt.Errorf("unknown treatment '%s'", s)
}

// Sex is coded 0 (female) and 1 (male).
type Sex int

// Sex values
const (
	Female Sex = iota
	Male
)

func (s Sex) String() string {
	switch s {
	case Female:
		return "female"
	case Male:
		return "male"
	default:
		return fmt.Sprintf("Sex(%d)", int(s))
	}
}

// Differentiation is the tumor grade, coded 1 to 3.
type Differentiation int

// Differentiation values
const (
	Well Differentiation = iota + 1
	Moderate
	Poor
)

func (d Differentiation) String() string {
	switch d {
	case Well:
		return "well"
	case Moderate:
		return "moderate"
	case Poor:
		return "poor"
	default:
		return fmt.Sprintf("Differentiation(%d)", int(d))
	}
}

// Extent is the extent of local spread, coded 1 to 4.
type Extent int

// Extent values
const (
	Submucosa Extent = iota + 1
	Muscle
	Serosa
	Contiguous
)

func (e Extent) String() string {
	switch e {
	case Submucosa:
		return "submucosa"
	case Muscle:
		return "muscle"
	case Serosa:
		return "serosa"
	case Contiguous:
		return "contiguous"
	default:
		return fmt.Sprintf("Extent(%d)", int(e))
	}
}

// SurgeryDelay is the time from surgery to registration, coded 0 (short)
// and 1 (long).
type SurgeryDelay int

// SurgeryDelay values
const (
	Short SurgeryDelay = iota
	Long
)

func (s SurgeryDelay) String() string {
	switch s {
	case Short:
		return "short"
	case Long:
		return "long"
	default:
		return fmt.Sprintf("SurgeryDelay(%d)", int(s))
	}
}

// EventType distinguishes the recurrence and death records.
type EventType int

// EventType values
const (
	Recurrence EventType = iota + 1
	Death
)

func (e EventType) String() string {
	switch e {
	case Recurrence:
		return "recurrence"
	case Death:
		return "death"
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	}
}

// ParseEventType accepts "recurrence", "death" or the codes 1 and 2.
func ParseEventType(s string) (EventType, error) {
	switch s {
	case "recurrence", "1":
		return Recurrence, nil
	case "death", "2":
		return Death, nil
	default:
		return 0, fmt.Errorf("unknown event type '%s'", s)
	}
}

// Flag is a 0/1 indicator such as obstruction of the colon by the tumor.
type Flag bool

func (f Flag) String() string {
	if f {
		return "yes"
	}
	return "no"
}

// Declared level orders, the first level of each is the reference.
var (
	treatmentLevels = []string{Obs.String(), Lev.String(), LevFU.String()}
	sexLevels       = []string{Female.String(), Male.String()}
	differLevels    = []string{Well.String(), Moderate.String(), Poor.String()}
	extentLevels    = []string{Submucosa.String(), Muscle.String(), Serosa.String(), Contiguous.String()}
	surgLevels      = []string{Short.String(), Long.String()}
	flagLevels      = []string{Flag(false).String(), Flag(true).String()}
)
