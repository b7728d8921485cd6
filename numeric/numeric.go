// Package numeric provides the np handle: array statistics and elementwise
// math over Starlark sequences, backed by gonum.
package numeric

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/isdmx/edabox/frame"
)

// BindingName is the conventional scope name of the module
const BindingName = "np"

// maxLength bounds arrays built by arange and linspace
const maxLength = 1_000_000

// Module is the frozen np handle. It holds no state and may be shared by
// concurrent executions.
var Module = newModule()

func newModule() *starlarkstruct.Module {
	m := &starlarkstruct.Module{
		Name: BindingName,
		Members: starlark.StringDict{
			"array":      starlark.NewBuiltin("array", array),
			"mean":       starlark.NewBuiltin("mean", reduce(frame.Mean)),
			"median":     starlark.NewBuiltin("median", reduce(frame.Median)),
			"min":        starlark.NewBuiltin("min", reduce(frame.Min)),
			"max":        starlark.NewBuiltin("max", reduce(frame.Max)),
			"sum":        starlark.NewBuiltin("sum", reduce(func(x []float64) (float64, bool) { return frame.Sum(x), true })),
			"std":        starlark.NewBuiltin("std", spread(stat.PopStdDev, stat.StdDev)),
			"var":        starlark.NewBuiltin("var", spread(stat.PopVariance, stat.Variance)),
			"percentile": starlark.NewBuiltin("percentile", percentile),
			"corrcoef":   starlark.NewBuiltin("corrcoef", corrcoef),
			"argmin":     starlark.NewBuiltin("argmin", argExtreme(floats.MinIdx)),
			"argmax":     starlark.NewBuiltin("argmax", argExtreme(floats.MaxIdx)),
			"sqrt":       starlark.NewBuiltin("sqrt", elementwise(math.Sqrt)),
			"log":        starlark.NewBuiltin("log", elementwise(math.Log)),
			"log10":      starlark.NewBuiltin("log10", elementwise(math.Log10)),
			"exp":        starlark.NewBuiltin("exp", elementwise(math.Exp)),
			"abs":        starlark.NewBuiltin("abs", elementwise(math.Abs)),
			"floor":      starlark.NewBuiltin("floor", elementwise(math.Floor)),
			"ceil":       starlark.NewBuiltin("ceil", elementwise(math.Ceil)),
			"round":      starlark.NewBuiltin("round", round),
			"isnan":      starlark.NewBuiltin("isnan", isnan),
			"arange":     starlark.NewBuiltin("arange", arange),
			"linspace":   starlark.NewBuiltin("linspace", linspace),
			"cumsum":     starlark.NewBuiltin("cumsum", cumsum),
			"histogram":  starlark.NewBuiltin("histogram", histogram),
			"unique":     starlark.NewBuiltin("unique", unique),
			"nan":        starlark.Float(math.NaN()),
			"inf":        starlark.Float(math.Inf(1)),
			"pi":         starlark.Float(math.Pi),
			"e":          starlark.Float(math.E),
		},
	}
	m.Freeze()
	return m
}

// present drops NaN, so reductions skip missing values the way a pandas
// Series does when handed to numpy.
func present(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func values(name string, v starlark.Value) ([]float64, error) {
	x, err := frame.Floats(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return x, nil
}

// number unpacks an int or float argument
type number float64

func (n *number) Unpack(v starlark.Value) error {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return fmt.Errorf("got %s, want number", v.Type())
	}
	*n = number(f)
	return nil
}

func floatList(x []float64) *starlark.List {
	elems := make([]starlark.Value, len(x))
	for i, v := range x {
		elems[i] = starlark.Float(v)
	}
	return starlark.NewList(elems)
}

func intList(x []float64) *starlark.List {
	elems := make([]starlark.Value, len(x))
	for i, v := range x {
		elems[i] = starlark.MakeInt64(int64(v))
	}
	return starlark.NewList(elems)
}

func array(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	x, err := values(b.Name(), v)
	if err != nil {
		return nil, err
	}
	return floatList(x), nil
}

func reduce(fn func([]float64) (float64, bool)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		x, err := values(b.Name(), v)
		if err != nil {
			return nil, err
		}
		r, ok := fn(present(x))
		if !ok {
			return nil, fmt.Errorf("%s: empty sequence", b.Name())
		}
		return starlark.Float(r), nil
	}
}

// spread builds std and var. ddof=0 is the population estimator numpy uses
// by default; ddof=1 is the sample estimator.
func spread(population, sample func(x, weights []float64) float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		ddof := 0
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &v, "ddof?", &ddof); err != nil {
			return nil, err
		}
		x, err := values(b.Name(), v)
		if err != nil {
			return nil, err
		}
		x = present(x)
		switch {
		case ddof != 0 && ddof != 1:
			return nil, fmt.Errorf("%s: ddof must be 0 or 1, got %d", b.Name(), ddof)
		case len(x) <= ddof:
			return nil, fmt.Errorf("%s: need more than %d values", b.Name(), ddof)
		case ddof == 1:
			return starlark.Float(sample(x, nil)), nil
		default:
			return starlark.Float(population(x, nil)), nil
		}
	}
}

func percentile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v, q starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &v, "q", &q); err != nil {
		return nil, err
	}
	x, err := values(b.Name(), v)
	if err != nil {
		return nil, err
	}
	x = present(x)

	at := func(p float64) (starlark.Value, error) {
		if p < 0 || p > 100 {
			return nil, fmt.Errorf("%s: percentile must be between 0 and 100, got %g", b.Name(), p)
		}
		r, ok := frame.Quantile(x, p/100)
		if !ok {
			return nil, fmt.Errorf("%s: empty sequence", b.Name())
		}
		return starlark.Float(r), nil
	}

	if p, ok := starlark.AsFloat(q); ok {
		return at(p)
	}
	ps, err := values(b.Name(), q)
	if err != nil {
		return nil, err
	}
	out := make([]starlark.Value, len(ps))
	for i, p := range ps {
		if out[i], err = at(p); err != nil {
			return nil, err
		}
	}
	return starlark.NewList(out), nil
}

// corrcoef returns the 2x2 correlation matrix of x and y as nested lists
func corrcoef(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var xv, yv starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &xv, &yv); err != nil {
		return nil, err
	}
	x, err := values(b.Name(), xv)
	if err != nil {
		return nil, err
	}
	y, err := values(b.Name(), yv)
	if err != nil {
		return nil, err
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%s: length mismatch %d != %d", b.Name(), len(x), len(y))
	}
	r, ok := frame.Correlation(x, y)
	if !ok {
		r = math.NaN()
	}
	return starlark.NewList([]starlark.Value{
		floatList([]float64{1, r}),
		floatList([]float64{r, 1}),
	}), nil
}

func argExtreme(fn func([]float64) int) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		x, err := values(b.Name(), v)
		if err != nil {
			return nil, err
		}
		if len(present(x)) == 0 {
			return nil, fmt.Errorf("%s: empty sequence", b.Name())
		}
		return starlark.MakeInt(fn(x)), nil
	}
}

// elementwise applies fn to a number or to each element of a sequence
func elementwise(fn func(float64) float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		if f, ok := starlark.AsFloat(v); ok {
			return starlark.Float(fn(f)), nil
		}
		x, err := values(b.Name(), v)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = fn(f)
		}
		return floatList(out), nil
	}
}

func round(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	decimals := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &v, "decimals?", &decimals); err != nil {
		return nil, err
	}
	factor := math.Pow(10, math.Abs(float64(decimals)))
	fn := func(f float64) float64 {
		if decimals < 0 {
			return math.RoundToEven(f/factor) * factor
		}
		return math.RoundToEven(f*factor) / factor
	}
	return elementwise(fn)(thread, b, starlark.Tuple{v}, nil)
}

func isnan(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.True, nil
	}
	if f, ok := starlark.AsFloat(v); ok {
		return starlark.Bool(math.IsNaN(f)), nil
	}
	x, err := values(b.Name(), v)
	if err != nil {
		return nil, err
	}
	out := make([]starlark.Value, len(x))
	for i, f := range x {
		out[i] = starlark.Bool(math.IsNaN(f))
	}
	return starlark.NewList(out), nil
}

// arange follows numpy: arange(stop), arange(start, stop) or
// arange(start, stop, step). Integer arguments yield integers.
func arange(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a, z, s starlark.Value = nil, starlark.None, starlark.MakeInt(1)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &a, &z, &s); err != nil {
		return nil, err
	}
	if z == starlark.None {
		a, z = starlark.MakeInt(0), a
	}

	integer := true
	bounds := make([]float64, 3)
	for i, v := range []starlark.Value{a, z, s} {
		if _, ok := v.(starlark.Int); !ok {
			integer = false
		}
		f, ok := starlark.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want number", b.Name(), v.Type())
		}
		bounds[i] = f
	}
	start, stop, step := bounds[0], bounds[1], bounds[2]
	if step == 0 {
		return nil, fmt.Errorf("%s: step must not be zero", b.Name())
	}

	n := math.Ceil((stop - start) / step)
	if n <= 0 || math.IsNaN(n) {
		n = 0
	}
	if n > maxLength {
		return nil, fmt.Errorf("%s: too many elements (%g)", b.Name(), n)
	}
	out := make([]float64, int(n))
	for i := range out {
		out[i] = start + float64(i)*step
	}
	if integer {
		return intList(out), nil
	}
	return floatList(out), nil
}

func linspace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, stop number
	num := 50
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "start", &start, "stop", &stop, "num?", &num); err != nil {
		return nil, err
	}
	switch {
	case num < 0 || num > maxLength:
		return nil, fmt.Errorf("%s: num must be between 0 and %d, got %d", b.Name(), maxLength, num)
	case num == 0:
		return starlark.NewList(nil), nil
	case num == 1:
		return floatList([]float64{float64(start)}), nil
	}
	return floatList(floats.Span(make([]float64, num), float64(start), float64(stop))), nil
}

func cumsum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	x, err := values(b.Name(), v)
	if err != nil {
		return nil, err
	}
	return floatList(floats.CumSum(make([]float64, len(x)), x)), nil
}

// histogram returns (counts, edges) over evenly spaced bins. The last bin
// is closed so the maximum is counted, as numpy does.
func histogram(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	bins := 10
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &v, "bins?", &bins); err != nil {
		return nil, err
	}
	if bins < 1 || bins > maxLength {
		return nil, fmt.Errorf("%s: bins must be between 1 and %d, got %d", b.Name(), maxLength, bins)
	}
	x, err := values(b.Name(), v)
	if err != nil {
		return nil, err
	}
	x = present(x)
	for _, f := range x {
		if math.IsInf(f, 0) {
			return nil, fmt.Errorf("%s: range of values must be finite", b.Name())
		}
	}
	counts, edges := Histogram(x, bins)
	return starlark.Tuple{intList(counts), floatList(edges)}, nil
}

// Histogram bins x into n equal-width bins spanning its range. A constant
// sample is centred in the unit interval around its value.
func Histogram(x []float64, n int) (counts, edges []float64) {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	lo, hi := 0.0, 1.0
	if len(sorted) > 0 {
		lo, hi = sorted[0], sorted[len(sorted)-1]
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	edges = floats.Span(make([]float64, n+1), lo, hi)
	dividers := append([]float64(nil), edges...)
	dividers[n] = math.Nextafter(hi, math.Inf(1))
	return stat.Histogram(nil, dividers, sorted, nil), edges
}

func unique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if s, ok := v.(*frame.Series); ok && s.Column().Kind == frame.KindText {
		return uniqueText(s.Column()), nil
	}
	x, err := values(b.Name(), v)
	if err != nil {
		return nil, err
	}
	x = present(x)
	sort.Float64s(x)
	var out []float64
	for i, f := range x {
		if i == 0 || f != x[i-1] {
			out = append(out, f)
		}
	}
	return floatList(out), nil
}

func uniqueText(c *frame.Column) *starlark.List {
	seen := make(map[string]bool)
	var labels []string
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) || seen[c.Text[i]] {
			continue
		}
		seen[c.Text[i]] = true
		labels = append(labels, c.Text[i])
	}
	sort.Strings(labels)
	out := make([]starlark.Value, len(labels))
	for i, l := range labels {
		out[i] = starlark.String(l)
	}
	return starlark.NewList(out)
}
