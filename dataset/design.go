package dataset

import (
	"fmt"
	"math"
	"strings"

	"github.com/kshedden/survstat/statmodel"
)

// Names of the non-covariate columns in a model frame.
const (
	TimeVar    = "_time"
	StatusVar  = "_status"
	StratumVar = "_stratum"
	Intercept  = "Intercept"
)

// factor is one covariate within a design column.  For a categorical
// covariate it is the indicator of level.
type factor struct {
	name  string
	level string
}

// Design maps subjects to rows of a model matrix.  Categorical
// covariates use treatment coding against their first observed level;
// an interaction term "a:b" contributes the products of the columns of
// a and b.  A term "a*b" is shorthand for "a", "b" and "a:b".
type Design struct {
	intercept bool
	columns   []string
	parts     [][]factor
	covs      []string
	kinds     map[string]Kind
	levels    map[string]map[string]bool
}

// ParseTerms expands "*" terms and checks that every term is non-empty.
func ParseTerms(terms []string) ([][]string, error) {

	var out [][]string
	seen := make(map[string]bool)

	add := func(t []string) {
		k := strings.Join(t, ":")
		if !seen[k] {
			seen[k] = true
			out = append(out, t)
		}
	}

	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("dataset: empty model term")
		}
		switch {
		case strings.Contains(term, "*"):
			fs := splitTrim(term, "*")
			// All non-empty subsets, in order of increasing size.
			n := len(fs)
			for size := 1; size <= n; size++ {
				for mask := 1; mask < 1<<n; mask++ {
					if popcount(mask) != size {
						continue
					}
					var t []string
					for j := 0; j < n; j++ {
						if mask&(1<<j) != 0 {
							t = append(t, fs[j])
						}
					}
					add(t)
				}
			}
		default:
			add(splitTrim(term, ":"))
		}
	}

	for _, t := range out {
		for _, f := range t {
			if f == "" {
				return nil, fmt.Errorf("dataset: malformed model term in %v", terms)
			}
		}
	}

	return out, nil
}

func splitTrim(s, sep string) []string {
	fs := strings.Split(s, sep)
	for i := range fs {
		fs[i] = strings.TrimSpace(fs[i])
	}
	return fs
}

func popcount(x int) int {
	n := 0
	for ; x > 0; x &= x - 1 {
		n++
	}
	return n
}

// NewDesign builds the design for the given terms, using the table to
// resolve covariate kinds and categorical levels.
func NewDesign(tb *Table, terms []string, intercept bool) (*Design, error) {

	parsed, err := ParseTerms(terms)
	if err != nil {
		return nil, err
	}

	d := &Design{
		intercept: intercept,
		kinds:     make(map[string]Kind),
		levels:    make(map[string]map[string]bool),
	}

	if intercept {
		d.columns = append(d.columns, Intercept)
		d.parts = append(d.parts, nil)
	}

	// Observed levels, in declared order.
	observed := func(name string) []string {
		codes, _ := tb.LevelCodes(name)
		levs := tb.levels[name]
		has := make([]bool, len(levs))
		for _, c := range codes {
			has[c] = true
		}
		var out []string
		for j, l := range levs {
			if has[j] {
				out = append(out, l)
			}
		}
		return out
	}

	for _, term := range parsed {

		// The columns of this term, as lists of factors.
		cols := [][]factor{nil}
		for _, name := range term {
			k, ok := tb.Kind(name)
			if !ok {
				return nil, fmt.Errorf("dataset: covariate '%s' not found", name)
			}
			if _, ok := d.kinds[name]; !ok {
				d.kinds[name] = k
				d.covs = append(d.covs, name)
			}

			var fs []factor
			if k == Numeric {
				fs = []factor{{name: name}}
			} else {
				levs := observed(name)
				if len(levs) < 2 {
					return nil, fmt.Errorf("dataset: covariate '%s' has fewer than two observed levels", name)
				}
				d.levels[name] = make(map[string]bool)
				for _, l := range levs {
					d.levels[name][l] = true
				}
				for _, l := range levs[1:] {
					fs = append(fs, factor{name: name, level: l})
				}
			}

			var next [][]factor
			for _, c := range cols {
				for _, f := range fs {
					nc := append(append([]factor(nil), c...), f)
					next = append(next, nc)
				}
			}
			cols = next
		}

		for _, c := range cols {
			d.parts = append(d.parts, c)
			d.columns = append(d.columns, columnName(c))
		}
	}

	return d, nil
}

func columnName(c []factor) string {
	parts := make([]string, len(c))
	for i, f := range c {
		if f.level == "" {
			parts[i] = f.name
		} else {
			parts[i] = f.name + "[" + f.level + "]"
		}
	}
	return strings.Join(parts, ":")
}

// Columns returns the design column names.
func (d *Design) Columns() []string {
	return append([]string(nil), d.columns...)
}

// Covariates returns the distinct table covariates the design uses.
func (d *Design) Covariates() []string {
	return append([]string(nil), d.covs...)
}

// HasIntercept reports whether the first column is an intercept.
func (d *Design) HasIntercept() bool {
	return d.intercept
}

func (d *Design) value(c []factor, cov map[string]Value) float64 {
	x := 1.0
	for _, f := range c {
		v := cov[f.name]
		if f.level == "" {
			x *= v.num
		} else if v.level != f.level {
			return 0
		}
	}
	return x
}

// Row returns the model matrix row for a covariate vector.  The error
// wraps statmodel.ErrInvalidCovariate if a covariate used by the design
// is missing, has the wrong kind, or takes a level that was not
// observed when the design was built.
func (d *Design) Row(cov map[string]Value) ([]float64, error) {

	for _, name := range d.covs {
		v, ok := cov[name]
		if !ok {
			return nil, fmt.Errorf("covariate '%s' is missing: %w", name, statmodel.ErrInvalidCovariate)
		}
		if v.kind != d.kinds[name] {
			return nil, fmt.Errorf("covariate '%s' should be %s: %w", name, d.kinds[name], statmodel.ErrInvalidCovariate)
		}
		if v.kind == Categorical && !d.levels[name][v.level] {
			return nil, fmt.Errorf("covariate '%s' has unknown level '%s': %w",
				name, v.level, statmodel.ErrInvalidCovariate)
		}
		if v.kind == Numeric && (math.IsNaN(v.num) || math.IsInf(v.num, 0)) {
			return nil, fmt.Errorf("covariate '%s' is not finite: %w", name, statmodel.ErrInvalidCovariate)
		}
	}

	row := make([]float64, len(d.parts))
	for j, c := range d.parts {
		row[j] = d.value(c, cov)
	}

	return row, nil
}

// Matrix returns the model matrix of a table in column-major order.
func (d *Design) Matrix(tb *Table) ([][]float64, error) {

	x := make([][]float64, len(d.parts))
	for j := range x {
		x[j] = make([]float64, tb.Len())
	}

	for i, s := range tb.subjects {
		row, err := d.Row(s.Covariates)
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", s.ID, err)
		}
		for j, v := range row {
			x[j][i] = v
		}
	}

	return x, nil
}

// Frame returns the table as a statmodel.Dataset whose columns are the
// time, the status, the design columns, and (when strata is not nil)
// the stratum index of each subject.
func (d *Design) Frame(tb *Table, strata *Strata) (statmodel.Dataset, error) {

	x, err := d.Matrix(tb)
	if err != nil {
		return nil, err
	}

	data := [][]statmodel.Dtype{tb.Times(), tb.Status()}
	names := []string{TimeVar, StatusVar}

	data = append(data, x...)
	names = append(names, d.columns...)

	if strata != nil {
		sc := make([]float64, tb.Len())
		for i, s := range strata.Index {
			sc[i] = float64(s)
		}
		data = append(data, sc)
		names = append(names, StratumVar)
	}

	return statmodel.NewDataset(data, names), nil
}
