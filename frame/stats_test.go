package frame

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.starlark.net/starlark"
)

func TestQuantile(t *testing.T) {
	x := []float64{4, 1, 3, 2}

	tests := []struct {
		q    float64
		want float64
	}{
		{q: 0, want: 1},
		{q: 0.25, want: 1.75},
		{q: 0.5, want: 2.5},
		{q: 1, want: 4},
	}
	for _, tt := range tests {
		got, ok := Quantile(x, tt.q)
		assert.True(t, ok)
		assert.InDelta(t, tt.want, got, 1e-12, "q=%v", tt.q)
	}

	_, ok := Quantile(nil, 0.5)
	assert.False(t, ok)
	_, ok = Quantile(x, 1.5)
	assert.False(t, ok)
	assert.Equal(t, []float64{4, 1, 3, 2}, x, "input must not be reordered")
}

func TestSummaryStatistics(t *testing.T) {
	x := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	mean, ok := Mean(x)
	assert.True(t, ok)
	assert.InDelta(t, 5.0, mean, 1e-12)

	std, ok := StdDev(x)
	assert.True(t, ok)
	assert.InDelta(t, 2.138089935299395, std, 1e-12)

	_, ok = StdDev([]float64{1})
	assert.False(t, ok)

	minimum, _ := Min(x)
	maximum, _ := Max(x)
	assert.Equal(t, 2.0, minimum)
	assert.Equal(t, 9.0, maximum)
	assert.Equal(t, 40.0, Sum(x))
	assert.Equal(t, 0.0, Sum(nil))
}

func TestCorrelation_SkipsMissingPairs(t *testing.T) {
	nan := math.NaN()
	r, ok := Correlation([]float64{1, 2, nan, 4}, []float64{2, 4, 6, nan})
	assert.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-12)

	_, ok = Correlation([]float64{1, nan}, []float64{nan, 2})
	assert.False(t, ok)
}

func TestFloats(t *testing.T) {
	values, err := Floats(starlark.NewList([]starlark.Value{
		starlark.MakeInt(1), starlark.Float(2.5), starlark.None,
	}))
	assert.NoError(t, err)
	assert.Equal(t, 1.0, values[0])
	assert.Equal(t, 2.5, values[1])
	assert.True(t, math.IsNaN(values[2]))

	_, err = Floats(starlark.String("abc"))
	assert.Error(t, err)

	_, err = Floats(starlark.NewList([]starlark.Value{starlark.String("x")}))
	assert.ErrorContains(t, err, "want number")
}
