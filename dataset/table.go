// Package dataset holds the event table used by the survival
// estimators: one record per subject with a follow-up time, an event
// indicator and named covariates that are either numeric or
// categorical.  Tables are immutable once built, so a single table can
// be shared by any number of concurrent model fits.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind distinguishes numeric from categorical covariates.
type Kind int

// Numeric covariates enter a model as-is, categorical covariates are
// expanded into indicator columns.
const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a single covariate value.
type Value struct {
	kind  Kind
	num   float64
	level string
}

// Num returns a numeric covariate value.
func Num(x float64) Value {
	return Value{kind: Numeric, num: x}
}

// Cat returns a categorical covariate value.
func Cat(level string) Value {
	return Value{kind: Categorical, level: level}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind {
	return v.kind
}

// Float returns a numeric value.  It is zero for categorical values.
func (v Value) Float() float64 {
	return v.num
}

// Level returns a categorical level.  It is empty for numeric values.
func (v Value) Level() string {
	return v.level
}

func (v Value) String() string {
	if v.kind == Categorical {
		return v.level
	}
	return fmt.Sprintf("%g", v.num)
}

// Subject is one row of the event table.  Time is the event time when
// Event is true, and the censoring time otherwise.
type Subject struct {
	ID         int
	Time       float64
	Event      bool
	Covariates map[string]Value
}

func (s Subject) clone() Subject {
	c := make(map[string]Value, len(s.Covariates))
	for k, v := range s.Covariates {
		c[k] = v
	}
	s.Covariates = c
	return s
}

// Table is an immutable, non-empty sequence of subjects that all carry
// the same covariates.
type Table struct {
	subjects []Subject

	// Covariate names, sorted
	names []string

	kinds map[string]Kind

	// Ordered levels of each categorical covariate.  The first level
	// is the reference level in model designs.
	levels map[string][]string
}

type tableOptions struct {
	levels map[string][]string
}

// Option configures New.
type Option func(*tableOptions)

// Levels declares the ordered levels of a categorical covariate.  When
// no order is declared the observed levels are sorted.
func Levels(name string, levels ...string) Option {
	return func(o *tableOptions) {
		o.levels[name] = append([]string(nil), levels...)
	}
}

// New validates the subjects and returns a table holding a copy of them.
func New(subjects []Subject, opts ...Option) (*Table, error) {

	if len(subjects) == 0 {
		return nil, fmt.Errorf("dataset: no subjects")
	}

	to := &tableOptions{levels: make(map[string][]string)}
	for _, o := range opts {
		o(to)
	}

	tb := &Table{
		subjects: make([]Subject, len(subjects)),
		kinds:    make(map[string]Kind),
		levels:   make(map[string][]string),
	}

	for name, v := range subjects[0].Covariates {
		tb.names = append(tb.names, name)
		tb.kinds[name] = v.kind
	}
	sort.Strings(tb.names)

	seen := make(map[string]map[string]bool)
	for _, name := range tb.names {
		if tb.kinds[name] == Categorical {
			seen[name] = make(map[string]bool)
		}
	}

	for i, s := range subjects {
		if math.IsNaN(s.Time) || math.IsInf(s.Time, 0) || s.Time < 0 {
			return nil, fmt.Errorf("dataset: subject %d has invalid time %v", s.ID, s.Time)
		}
		if len(s.Covariates) != len(tb.names) {
			return nil, fmt.Errorf("dataset: subject %d has %d covariates, expected %d",
				s.ID, len(s.Covariates), len(tb.names))
		}
		for name, v := range s.Covariates {
			k, ok := tb.kinds[name]
			if !ok {
				return nil, fmt.Errorf("dataset: subject %d has unexpected covariate '%s'", s.ID, name)
			}
			if k != v.kind {
				return nil, fmt.Errorf("dataset: covariate '%s' of subject %d is %s, expected %s",
					name, s.ID, v.kind, k)
			}
			if k == Categorical {
				seen[name][v.level] = true
			} else if math.IsNaN(v.num) {
				return nil, fmt.Errorf("dataset: covariate '%s' of subject %d is NaN", name, s.ID)
			}
		}
		tb.subjects[i] = s.clone()
	}

	for name, obs := range seen {
		decl, ok := to.levels[name]
		if !ok {
			for lev := range obs {
				decl = append(decl, lev)
			}
			sort.Strings(decl)
		} else {
			dl := make(map[string]bool)
			for _, lev := range decl {
				dl[lev] = true
			}
			for lev := range obs {
				if !dl[lev] {
					return nil, fmt.Errorf("dataset: level '%s' of '%s' is not declared", lev, name)
				}
			}
		}
		tb.levels[name] = decl
	}

	for name := range to.levels {
		if tb.kinds[name] != Categorical {
			return nil, fmt.Errorf("dataset: levels declared for '%s', which is not a categorical covariate", name)
		}
	}

	return tb, nil
}

// Len returns the number of subjects.
func (tb *Table) Len() int {
	return len(tb.subjects)
}

// Subject returns a copy of subject i.
func (tb *Table) Subject(i int) Subject {
	return tb.subjects[i].clone()
}

// Names returns the sorted covariate names.
func (tb *Table) Names() []string {
	return append([]string(nil), tb.names...)
}

// Kind returns the kind of a covariate.
func (tb *Table) Kind(name string) (Kind, bool) {
	k, ok := tb.kinds[name]
	return k, ok
}

// Levels returns the ordered levels of a categorical covariate.
func (tb *Table) Levels(name string) []string {
	return append([]string(nil), tb.levels[name]...)
}

// Times returns the follow-up times.
func (tb *Table) Times() []float64 {
	x := make([]float64, len(tb.subjects))
	for i, s := range tb.subjects {
		x[i] = s.Time
	}
	return x
}

// Status returns the event indicators coded 1 (event) and 0 (censored).
func (tb *Table) Status() []float64 {
	x := make([]float64, len(tb.subjects))
	for i, s := range tb.subjects {
		if s.Event {
			x[i] = 1
		}
	}
	return x
}

// Column returns the values of a numeric covariate.
func (tb *Table) Column(name string) ([]float64, error) {
	k, ok := tb.kinds[name]
	if !ok {
		return nil, fmt.Errorf("dataset: covariate '%s' not found", name)
	}
	if k != Numeric {
		return nil, fmt.Errorf("dataset: covariate '%s' is not numeric", name)
	}
	x := make([]float64, len(tb.subjects))
	for i, s := range tb.subjects {
		x[i] = s.Covariates[name].num
	}
	return x, nil
}

// LevelCodes returns, for a categorical covariate, the position of each
// subject's level in Levels(name).
func (tb *Table) LevelCodes(name string) ([]int, error) {
	k, ok := tb.kinds[name]
	if !ok {
		return nil, fmt.Errorf("dataset: covariate '%s' not found", name)
	}
	if k != Categorical {
		return nil, fmt.Errorf("dataset: covariate '%s' is not categorical", name)
	}
	pos := make(map[string]int)
	for j, lev := range tb.levels[name] {
		pos[lev] = j
	}
	x := make([]int, len(tb.subjects))
	for i, s := range tb.subjects {
		x[i] = pos[s.Covariates[name].level]
	}
	return x, nil
}

// Filter returns a table with the subjects for which keep returns true.
// Declared level orders are carried over.
func (tb *Table) Filter(keep func(Subject) bool) (*Table, error) {

	var sub []Subject
	for _, s := range tb.subjects {
		if keep(s.clone()) {
			sub = append(sub, s)
		}
	}

	var opts []Option
	for name, lev := range tb.levels {
		opts = append(opts, Levels(name, lev...))
	}

	return New(sub, opts...)
}

// StratumKey identifies one stratum: the levels taken by the
// stratification covariates.
type StratumKey struct {
	Names  []string
	Levels []string
}

func (k StratumKey) String() string {
	if len(k.Names) == 0 {
		return "all"
	}
	parts := make([]string, len(k.Names))
	for i := range k.Names {
		parts[i] = k.Names[i] + "=" + k.Levels[i]
	}
	return strings.Join(parts, ", ")
}

// Strata partitions the subjects of a table by the levels of one or more
// categorical covariates.
type Strata struct {

	// Keys lists the non-empty strata, ordered by the declared level
	// orders of the stratification covariates.
	Keys []StratumKey

	// Index[i] is the position in Keys of subject i's stratum.
	Index []int
}

// Members returns the subject positions in stratum s.
func (st *Strata) Members(s int) []int {
	var ix []int
	for i, k := range st.Index {
		if k == s {
			ix = append(ix, i)
		}
	}
	return ix
}

// Strata partitions the table by the given categorical covariates.  With
// no names every subject is in a single stratum.
func (tb *Table) Strata(names ...string) (*Strata, error) {

	n := len(tb.subjects)

	if len(names) == 0 {
		return &Strata{
			Keys:  []StratumKey{{}},
			Index: make([]int, n),
		}, nil
	}

	codes := make([][]int, len(names))
	for j, na := range names {
		var err error
		codes[j], err = tb.LevelCodes(na)
		if err != nil {
			return nil, fmt.Errorf("stratifying: %w", err)
		}
	}

	// Mixed radix code for each subject, which sorts in declared
	// level order.
	full := make([]int, n)
	for i := 0; i < n; i++ {
		for j, na := range names {
			full[i] = full[i]*len(tb.levels[na]) + codes[j][i]
		}
	}

	var distinct []int
	seen := make(map[int]bool)
	for _, c := range full {
		if !seen[c] {
			seen[c] = true
			distinct = append(distinct, c)
		}
	}
	sort.Ints(distinct)

	pos := make(map[int]int)
	st := &Strata{Index: make([]int, n)}
	for s, c := range distinct {
		pos[c] = s
		key := StratumKey{
			Names:  append([]string(nil), names...),
			Levels: make([]string, len(names)),
		}
		for j := len(names) - 1; j >= 0; j-- {
			nl := len(tb.levels[names[j]])
			key.Levels[j] = tb.levels[names[j]][c%nl]
			c /= nl
		}
		st.Keys = append(st.Keys, key)
	}
	for i, c := range full {
		st.Index[i] = pos[c]
	}

	return st, nil
}
