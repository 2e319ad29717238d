package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshedden/survstat/statmodel"
)

func TestParseTerms(t *testing.T) {

	terms, err := ParseTerms([]string{"age", " rx * sex ", "age:sex"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"age"}, {"rx"}, {"sex"}, {"rx", "sex"}, {"age", "sex"}}, terms)

	_, err = ParseTerms([]string{"age", ""})
	assert.Error(t, err)
	_, err = ParseTerms([]string{"age:"})
	assert.Error(t, err)
	_, err = ParseTerms([]string{"*rx"})
	assert.Error(t, err)
}

func TestDesign(t *testing.T) {

	tb, err := New(subjects(), rxLevels())
	require.NoError(t, err)

	d, err := NewDesign(tb, []string{"rx", "age", "sex:age"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"rx[Lev]", "rx[Lev+5FU]", "age", "sex[M]:age"}, d.Columns())
	assert.Equal(t, []string{"rx", "age", "sex"}, d.Covariates())
	assert.False(t, d.HasIntercept())

	x, err := d.Matrix(tb)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0, 0, 1, 0}, x[0])
	assert.Equal(t, []float64{0, 0, 1, 0, 0, 1}, x[1])
	assert.Equal(t, []float64{0, 55, 0, 48, 0, 59}, x[3])

	row, err := d.Row(map[string]Value{"rx": Cat("Lev+5FU"), "age": Num(50), "sex": Cat("M")})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 50, 50}, row)
}

func TestDesignInteraction(t *testing.T) {

	tb, err := New(subjects(), rxLevels())
	require.NoError(t, err)

	d, err := NewDesign(tb, []string{"rx*sex"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Intercept", "rx[Lev]", "rx[Lev+5FU]", "sex[M]",
		"rx[Lev]:sex[M]", "rx[Lev+5FU]:sex[M]"}, d.Columns())

	row, err := d.Row(map[string]Value{"rx": Cat("Lev"), "sex": Cat("M")})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 0, 1, 1, 0}, row)
}

func TestDesignRowErrors(t *testing.T) {

	tb, err := New(subjects(), rxLevels())
	require.NoError(t, err)
	d, err := NewDesign(tb, []string{"rx", "age"}, false)
	require.NoError(t, err)

	for _, cov := range []map[string]Value{
		{"rx": Cat("Obs")},
		{"rx": Cat("Placebo"), "age": Num(50)},
		{"rx": Num(1), "age": Num(50)},
		{"rx": Cat("Obs"), "age": Num(math.Inf(1))},
	} {
		_, err := d.Row(cov)
		assert.ErrorIs(t, err, statmodel.ErrInvalidCovariate, "%v", cov)
	}

	// Covariates the design does not use are ignored.
	_, err = d.Row(map[string]Value{"rx": Cat("Obs"), "age": Num(50), "bmi": Num(30)})
	assert.NoError(t, err)

	_, err = NewDesign(tb, []string{"bmi"}, false)
	assert.Error(t, err)

	// A declared level that is never observed is not estimable.
	sub, err := tb.Filter(func(s Subject) bool { return s.Covariates["rx"].Level() == "Obs" })
	require.NoError(t, err)
	_, err = NewDesign(sub, []string{"rx"}, false)
	assert.Error(t, err)
}

func TestFrame(t *testing.T) {

	tb, err := New(subjects(), rxLevels())
	require.NoError(t, err)
	d, err := NewDesign(tb, []string{"age"}, false)
	require.NoError(t, err)
	st, err := tb.Strata("sex")
	require.NoError(t, err)

	fr, err := d.Frame(tb, st)
	require.NoError(t, err)
	assert.Equal(t, []string{TimeVar, StatusVar, "age", StratumVar}, fr.Names())
	assert.Equal(t, []float64{0, 1, 0, 1, 0, 1}, fr.Data()[3])
	assert.Equal(t, tb.Status(), fr.Data()[1])

	fr, err = d.Frame(tb, nil)
	require.NoError(t, err)
	assert.Len(t, fr.Names(), 3)
}
