package frame

import (
	"fmt"

	"go.starlark.net/starlark"
)

var (
	frameMethods  map[string]*starlark.Builtin
	seriesMethods map[string]*starlark.Builtin
)

func init() {
	frameMethods = map[string]*starlark.Builtin{
		"head":        starlark.NewBuiltin("head", frameHead),
		"tail":        starlark.NewBuiltin("tail", frameTail),
		"describe":    starlark.NewBuiltin("describe", frameDescribe),
		"mean":        starlark.NewBuiltin("mean", frameReduce(Mean)),
		"median":      starlark.NewBuiltin("median", frameReduce(Median)),
		"std":         starlark.NewBuiltin("std", frameReduce(StdDev)),
		"var":         starlark.NewBuiltin("var", frameReduce(Variance)),
		"min":         starlark.NewBuiltin("min", frameReduce(Min)),
		"max":         starlark.NewBuiltin("max", frameReduce(Max)),
		"skew":        starlark.NewBuiltin("skew", frameReduce(Skew)),
		"sum":         starlark.NewBuiltin("sum", frameReduce(func(x []float64) (float64, bool) { return Sum(x), true })),
		"count":       starlark.NewBuiltin("count", frameCount),
		"nunique":     starlark.NewBuiltin("nunique", frameNUnique),
		"missing":     starlark.NewBuiltin("missing", frameMissing),
		"corr":        starlark.NewBuiltin("corr", frameCorr),
		"sort_values": starlark.NewBuiltin("sort_values", frameSortValues),
		"groupby":     starlark.NewBuiltin("groupby", frameGroupBy),
		"query":       starlark.NewBuiltin("query", frameQuery),
		"dropna":      starlark.NewBuiltin("dropna", frameDropNA),
		"select":      starlark.NewBuiltin("select", frameSelect),
		"to_string":   starlark.NewBuiltin("to_string", frameToString),
	}

	seriesMethods = map[string]*starlark.Builtin{
		"tolist":       starlark.NewBuiltin("tolist", seriesToList),
		"mean":         starlark.NewBuiltin("mean", seriesReduce(Mean)),
		"median":       starlark.NewBuiltin("median", seriesReduce(Median)),
		"std":          starlark.NewBuiltin("std", seriesReduce(StdDev)),
		"var":          starlark.NewBuiltin("var", seriesReduce(Variance)),
		"min":          starlark.NewBuiltin("min", seriesReduce(Min)),
		"max":          starlark.NewBuiltin("max", seriesReduce(Max)),
		"skew":         starlark.NewBuiltin("skew", seriesReduce(Skew)),
		"sum":          starlark.NewBuiltin("sum", seriesReduce(func(x []float64) (float64, bool) { return Sum(x), true })),
		"count":        starlark.NewBuiltin("count", seriesCount),
		"nunique":      starlark.NewBuiltin("nunique", seriesNUnique),
		"missing":      starlark.NewBuiltin("missing", seriesMissing),
		"unique":       starlark.NewBuiltin("unique", seriesUnique),
		"value_counts": starlark.NewBuiltin("value_counts", seriesValueCounts),
		"quantile":     starlark.NewBuiltin("quantile", seriesQuantile),
		"head":         starlark.NewBuiltin("head", seriesHead),
		"tail":         starlark.NewBuiltin("tail", seriesTail),
		"describe":     starlark.NewBuiltin("describe", seriesDescribe),
		"sort_values":  starlark.NewBuiltin("sort_values", seriesSortValues),
		"dropna":       starlark.NewBuiltin("dropna", seriesDropNA),
	}
}

func receiver(b *starlark.Builtin) *DataFrame {
	return b.Receiver().(*DataFrame)
}

func frameHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	return receiver(b).Head(n), nil
}

func frameTail(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	return receiver(b).Tail(n), nil
}

func frameDescribe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return receiver(b).Describe(), nil
}

// frameReduce applies a statistic to every numeric column
func frameReduce(fn func([]float64) (float64, bool)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		numeric := receiver(b).Numeric()
		out := starlark.NewDict(len(numeric))
		for _, c := range numeric {
			if err := out.SetKey(starlark.String(c.Name), optionalFloat(fn(c.Present()))); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

func frameCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return perColumn(receiver(b), func(c *Column) int { return c.Len() - c.MissingCount() })
}

func frameNUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return perColumn(receiver(b), func(c *Column) int { return len(distinct(c)) })
}

func frameMissing(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return perColumn(receiver(b), (*Column).MissingCount)
}

func perColumn(df *DataFrame, fn func(*Column) int) (*starlark.Dict, error) {
	out := starlark.NewDict(len(df.columns))
	for _, c := range df.columns {
		if err := out.SetKey(starlark.String(c.Name), starlark.MakeInt(fn(c))); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func frameCorr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return receiver(b).Corr(), nil
}

func frameSortValues(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by starlark.Value
	ascending := true
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "ascending?", &ascending); err != nil {
		return nil, err
	}
	names, err := stringList(by)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return receiver(b).SortBy(names, ascending)
}

func frameGroupBy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by); err != nil {
		return nil, err
	}
	return NewGroupBy(receiver(b), by)
}

func frameQuery(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var column, op string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "column", &column, "op", &op, "value", &value); err != nil {
		return nil, err
	}
	return receiver(b).Filter(column, op, value)
}

func frameDropNA(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return receiver(b).DropNA(), nil
}

func frameSelect(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var columns starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "columns", &columns); err != nil {
		return nil, err
	}
	names, err := stringList(columns)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return receiver(b).Select(names)
}

func frameToString(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	maxRows := 60
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "max_rows?", &maxRows); err != nil {
		return nil, err
	}
	return starlark.String(receiver(b).Format(maxRows)), nil
}

// stringList accepts a string or a list or tuple of strings
func stringList(v starlark.Value) ([]string, error) {
	if s, ok := starlark.AsString(v); ok {
		return []string{s}, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want string or list of strings", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var out []string
	var x starlark.Value
	for iter.Next(&x) {
		s, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("got %s in column list, want string", x.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

func stringsValue(values []string) *starlark.List {
	out := make([]starlark.Value, len(values))
	for i, v := range values {
		out[i] = starlark.String(v)
	}
	return starlark.NewList(out)
}

func optionalFloat(v float64, ok bool) starlark.Value {
	if !ok {
		return starlark.None
	}
	return starlark.Float(v)
}
