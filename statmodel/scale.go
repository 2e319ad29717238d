package statmodel

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// ScaleFactors returns one positive scale factor per column in xpos,
// computed according to scaletype.  A column that does not vary is an
// error, since its coefficient cannot be estimated.
func ScaleFactors(data [][]Dtype, xpos []int, names []string, scaletype ScaleType) ([]float64, error) {

	xn := make([]float64, len(xpos))

	if scaletype == NoScale {
		for j := range xn {
			xn[j] = 1
		}
		return xn, nil
	}

	for j, k := range xpos {
		x := data[k]
		var err error
		switch scaletype {
		case L2Norm:
			xn[j] = floats.Norm(x, 2)
		case Variance:
			xn[j], err = stats.StandardDeviationPopulation(x)
		default:
			panic("unknown scaletype")
		}
		if err != nil {
			return nil, fmt.Errorf("scaling '%s': %w", names[k], err)
		}
		if xn[j] == 0 {
			return nil, fmt.Errorf("variable '%s' has zero variance", names[k])
		}
	}

	return xn, nil
}
