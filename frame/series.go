package frame

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Series is a single column exposed to analysis code
type Series struct {
	col *Column
}

var (
	_ starlark.HasAttrs  = (*Series)(nil)
	_ starlark.Indexable = (*Series)(nil)
	_ starlark.Iterable  = (*Series)(nil)
	_ starlark.HasBinary = (*Series)(nil)
)

// NewSeries wraps a column
func NewSeries(c *Column) *Series {
	return &Series{col: c}
}

// Column returns the underlying column
func (s *Series) Column() *Column { return s.col }

func (s *Series) String() string {
	var b strings.Builder
	n := s.col.Len()
	limit := n
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&b, "%d  %s\n", i, s.col.Label(i))
	}
	if limit < n {
		b.WriteString("...\n")
	}
	fmt.Fprintf(&b, "Name: %s, Length: %d, dtype: %s", s.col.Name, n, s.col.DType())
	return b.String()
}

func (s *Series) Type() string          { return "Series" }
func (s *Series) Freeze()               {}
func (s *Series) Truth() starlark.Bool  { return s.col.Len() > 0 }
func (s *Series) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: Series") }
func (s *Series) Len() int              { return s.col.Len() }
func (s *Series) Index(i int) starlark.Value {
	return s.col.Value(i)
}

func (s *Series) Iterate() starlark.Iterator {
	values := make([]starlark.Value, s.col.Len())
	for i := range values {
		values[i] = s.col.Value(i)
	}
	return starlark.NewList(values).Iterate()
}

func (s *Series) Attr(name string) (starlark.Value, error) {
	switch name {
	case "name":
		return starlark.String(s.col.Name), nil
	case "dtype":
		return starlark.String(s.col.DType()), nil
	case "size":
		return starlark.MakeInt(s.col.Len()), nil
	}
	if m, ok := seriesMethods[name]; ok {
		return m.BindReceiver(s), nil
	}
	return nil, nil
}

func (s *Series) AttrNames() []string {
	names := []string{"dtype", "name", "size"}
	for name := range seriesMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Binary implements elementwise arithmetic with numbers and other series
func (s *Series) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	var apply func(a, b float64) float64
	switch op {
	case syntax.PLUS:
		apply = func(a, b float64) float64 { return a + b }
	case syntax.MINUS:
		apply = func(a, b float64) float64 { return a - b }
	case syntax.STAR:
		apply = func(a, b float64) float64 { return a * b }
	case syntax.SLASH:
		apply = func(a, b float64) float64 { return a / b }
	default:
		return nil, nil
	}
	if s.col.Kind != KindNumber {
		return nil, fmt.Errorf("arithmetic on non-numeric Series %q", s.col.Name)
	}

	var operand func(int) float64
	switch y := y.(type) {
	case *Series:
		if y.col.Kind != KindNumber || y.col.Len() != s.col.Len() {
			return nil, fmt.Errorf("Series %q and %q are not aligned numeric columns", s.col.Name, y.col.Name)
		}
		operand = func(i int) float64 { return y.col.Numbers[i] }
	default:
		f, ok := starlark.AsFloat(y)
		if !ok {
			return nil, nil
		}
		operand = func(int) float64 { return f }
	}

	out := make([]float64, s.col.Len())
	for i := range out {
		a, b := s.col.Numbers[i], operand(i)
		if side == starlark.Right {
			a, b = b, a
		}
		out[i] = apply(a, b)
		if math.IsInf(out[i], 0) && op == syntax.SLASH {
			out[i] = math.NaN()
		}
	}
	return &Series{col: NewNumberColumn(s.col.Name, out)}, nil
}

func seriesReceiver(b *starlark.Builtin) *Series {
	return b.Receiver().(*Series)
}

func numericValues(b *starlark.Builtin) ([]float64, error) {
	s := seriesReceiver(b)
	if s.col.Kind != KindNumber {
		return nil, fmt.Errorf("%s: Series %q is not numeric", b.Name(), s.col.Name)
	}
	return s.col.Present(), nil
}

func seriesReduce(fn func([]float64) (float64, bool)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		x, err := numericValues(b)
		if err != nil {
			return nil, err
		}
		return optionalFloat(fn(x)), nil
	}
}

func seriesToList(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	s := seriesReceiver(b)
	values := make([]starlark.Value, s.col.Len())
	for i := range values {
		values[i] = s.col.Value(i)
	}
	return starlark.NewList(values), nil
}

func seriesCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col
	return starlark.MakeInt(c.Len() - c.MissingCount()), nil
}

func seriesMissing(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeInt(seriesReceiver(b).col.MissingCount()), nil
}

func seriesNUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeInt(len(distinct(seriesReceiver(b).col))), nil
}

func seriesUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col
	var values []starlark.Value
	for _, i := range distinct(c) {
		values = append(values, c.Value(i))
	}
	return starlark.NewList(values), nil
}

// distinct returns the first row index of each distinct present value, in
// order of first appearance
func distinct(c *Column) []int {
	seen := make(map[string]bool)
	var idx []int
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		key := c.Label(i)
		if c.Kind == KindNumber {
			key = fmt.Sprint(c.Numbers[i])
		}
		if !seen[key] {
			seen[key] = true
			idx = append(idx, i)
		}
	}
	return idx
}

// seriesValueCounts returns a dict of value to count, most frequent first
func seriesValueCounts(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	normalize := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "normalize?", &normalize); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col

	type bucket struct {
		first int
		count int
	}
	buckets := make(map[string]*bucket)
	var order []string
	total := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		total++
		key := c.Label(i)
		if c.Kind == KindNumber {
			key = fmt.Sprint(c.Numbers[i])
		}
		if bk, ok := buckets[key]; ok {
			bk.count++
			continue
		}
		buckets[key] = &bucket{first: i, count: 1}
		order = append(order, key)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return buckets[order[a]].count > buckets[order[b]].count
	})

	out := starlark.NewDict(len(order))
	for _, key := range order {
		bk := buckets[key]
		var v starlark.Value = starlark.MakeInt(bk.count)
		if normalize {
			v = starlark.Float(float64(bk.count) / float64(total))
		}
		if err := out.SetKey(c.Value(bk.first), v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func seriesQuantile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var q starlark.Value = starlark.Float(0.5)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "q?", &q); err != nil {
		return nil, err
	}
	x, err := numericValues(b)
	if err != nil {
		return nil, err
	}

	if f, ok := starlark.AsFloat(q); ok {
		if f < 0 || f > 1 {
			return nil, fmt.Errorf("%s: q must be between 0 and 1, got %v", b.Name(), f)
		}
		return optionalFloat(Quantile(x, f)), nil
	}

	qs, err := Floats(q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	out := starlark.NewDict(len(qs))
	for _, f := range qs {
		if f < 0 || f > 1 {
			return nil, fmt.Errorf("%s: q must be between 0 and 1, got %v", b.Name(), f)
		}
		if err := out.SetKey(starlark.Float(f), optionalFloat(Quantile(x, f))); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func seriesHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col
	return &Series{col: c.Take(span(0, clampRows(n, c.Len())))}, nil
}

func seriesTail(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col
	n = clampRows(n, c.Len())
	return &Series{col: c.Take(span(c.Len()-n, c.Len()))}, nil
}

func seriesDescribe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col
	out := starlark.NewDict(8)

	if c.Kind != KindNumber {
		counts := len(distinct(c))
		if err := out.SetKey(starlark.String("count"), starlark.MakeInt(c.Len()-c.MissingCount())); err != nil {
			return nil, err
		}
		if err := out.SetKey(starlark.String("unique"), starlark.MakeInt(counts)); err != nil {
			return nil, err
		}
		return out, nil
	}

	labels := []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}
	for i, v := range describe(c.Present()) {
		var value starlark.Value = starlark.Float(v)
		if math.IsNaN(v) {
			value = starlark.None
		}
		if err := out.SetKey(starlark.String(labels[i]), value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func seriesSortValues(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ascending := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ascending?", &ascending); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col
	df := mustNew(c)
	sorted, err := df.SortBy([]string{c.Name}, ascending)
	if err != nil {
		return nil, err
	}
	return &Series{col: sorted.columns[0]}, nil
}

func seriesDropNA(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	c := seriesReceiver(b).col
	return &Series{col: mustNew(c).DropNA().columns[0]}, nil
}

// Floats converts a list, tuple, Series or other iterable of numbers into a
// slice. None becomes NaN.
func Floats(v starlark.Value) ([]float64, error) {
	if s, ok := v.(*Series); ok {
		if s.col.Kind != KindNumber {
			return nil, fmt.Errorf("Series %q is not numeric", s.col.Name)
		}
		return append([]float64(nil), s.col.Numbers...), nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want a sequence of numbers", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []float64
	var x starlark.Value
	for iter.Next(&x) {
		if x == starlark.None {
			out = append(out, math.NaN())
			continue
		}
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("got %s in sequence, want number", x.Type())
		}
		out = append(out, f)
	}
	return out, nil
}
