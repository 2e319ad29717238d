package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/kshedden/survstat/dataset"
	"github.com/kshedden/survstat/statmodel"
)

// ParseQuery converts a covariate vector given as text, such as a row of
// a prediction request, into typed values using the covariate kinds of
// the table.  The error wraps statmodel.ErrInvalidCovariate for unknown
// covariates and unparseable numbers.  Levels are checked when the
// query is applied to a model.
func ParseQuery(tb *dataset.Table, q map[string]string) (map[string]dataset.Value, error) {

	cov := make(map[string]dataset.Value, len(q))
	for name, s := range q {
		k, ok := tb.Kind(name)
		if !ok {
			return nil, fmt.Errorf("unknown covariate '%s': %w", name, statmodel.ErrInvalidCovariate)
		}
		switch k {
		case dataset.Numeric:
			x, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("covariate '%s' has non-numeric value '%s': %w",
					name, s, statmodel.ErrInvalidCovariate)
			}
			cov[name] = dataset.Num(x)
		default:
			cov[name] = dataset.Cat(s)
		}
	}

	return cov, nil
}

// queryText renders a typed covariate vector for reports.
func queryText(cov map[string]dataset.Value) map[string]string {
	q := make(map[string]string, len(cov))
	for k, v := range cov {
		q[k] = v.String()
	}
	return q
}

// stratumOf returns the position in st.Keys of the stratum named by the
// stratification covariates in cov.
func stratumOf(st *dataset.Strata, names []string, cov map[string]dataset.Value) (int, string, error) {

	if len(names) == 0 {
		return 0, "", nil
	}

	levels := make([]string, len(names))
	for j, na := range names {
		v, ok := cov[na]
		if !ok {
			return 0, "", fmt.Errorf("stratification covariate '%s' is missing: %w",
				na, statmodel.ErrInvalidCovariate)
		}
		if v.Kind() != dataset.Categorical {
			return 0, "", fmt.Errorf("stratification covariate '%s' should be categorical: %w",
				na, statmodel.ErrInvalidCovariate)
		}
		levels[j] = v.Level()
	}

	for s, key := range st.Keys {
		match := true
		for j := range levels {
			if key.Levels[j] != levels[j] {
				match = false
				break
			}
		}
		if match {
			return s, key.String(), nil
		}
	}

	key := dataset.StratumKey{Names: names, Levels: levels}
	return 0, "", fmt.Errorf("no subjects in stratum %s: %w", key, statmodel.ErrInvalidCovariate)
}

// sortedKeys returns the keys of a query in sorted order.
func sortedKeys(q map[string]string) []string {
	var k []string
	for na := range q {
		k = append(k, na)
	}
	sort.Strings(k)
	return k
}
