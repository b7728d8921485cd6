package frame

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
)

// GroupBy groups the rows of a DataFrame by the values of one column.
// Aggregations return a DataFrame with one row per group, or a dict when
// a single column was selected.
type GroupBy struct {
	df     *DataFrame
	key    *Column
	groups [][]int
	labels []int
	only   *Column
}

var (
	_ starlark.HasAttrs = (*GroupBy)(nil)
	_ starlark.Mapping  = (*GroupBy)(nil)
)

// NewGroupBy groups df by the named column. Groups are ordered by key and
// rows with a missing key are dropped.
func NewGroupBy(df *DataFrame, by string) (*GroupBy, error) {
	key, ok := df.Column(by)
	if !ok {
		return nil, fmt.Errorf("column %q not in DataFrame", by)
	}

	positions := make(map[string]int)
	g := &GroupBy{df: df, key: key}
	for i := 0; i < df.rows; i++ {
		if key.IsMissing(i) {
			continue
		}
		label := key.Label(i)
		pos, ok := positions[label]
		if !ok {
			pos = len(g.groups)
			positions[label] = pos
			g.groups = append(g.groups, nil)
			g.labels = append(g.labels, i)
		}
		g.groups[pos] = append(g.groups[pos], i)
	}

	order := span(0, len(g.groups))
	sort.SliceStable(order, func(a, b int) bool {
		return key.less(g.labels[order[a]], g.labels[order[b]])
	})
	groups := make([][]int, len(order))
	labels := make([]int, len(order))
	for i, o := range order {
		groups[i] = g.groups[o]
		labels[i] = g.labels[o]
	}
	g.groups, g.labels = groups, labels
	return g, nil
}

// Len returns the number of groups
func (g *GroupBy) Len() int { return len(g.groups) }

func (g *GroupBy) String() string {
	return fmt.Sprintf("<GroupBy by=%s groups=%d>", g.key.Name, len(g.groups))
}
func (g *GroupBy) Type() string          { return "GroupBy" }
func (g *GroupBy) Freeze()               {}
func (g *GroupBy) Truth() starlark.Bool  { return len(g.groups) > 0 }
func (g *GroupBy) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: GroupBy") }

// Get selects a single column: df.groupby("a")["b"]
func (g *GroupBy) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("GroupBy index: got %s, want string", k.Type())
	}
	c, found := g.df.Column(name)
	if !found {
		return nil, false, nil
	}
	selected := *g
	selected.only = c
	return &selected, true, nil
}

func (g *GroupBy) Attr(name string) (starlark.Value, error) {
	switch name {
	case "mean":
		return g.aggregate(name, Mean), nil
	case "median":
		return g.aggregate(name, Median), nil
	case "std":
		return g.aggregate(name, StdDev), nil
	case "min":
		return g.aggregate(name, Min), nil
	case "max":
		return g.aggregate(name, Max), nil
	case "sum":
		return g.aggregate(name, func(x []float64) (float64, bool) { return Sum(x), true }), nil
	case "count":
		return g.aggregate(name, func(x []float64) (float64, bool) { return float64(len(x)), true }), nil
	case "size":
		return starlark.NewBuiltin("size", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			out := starlark.NewDict(len(g.groups))
			for i, rows := range g.groups {
				if err := out.SetKey(g.key.Value(g.labels[i]), starlark.MakeInt(len(rows))); err != nil {
					return nil, err
				}
			}
			return out, nil
		}), nil
	}
	return nil, nil
}

func (g *GroupBy) AttrNames() []string {
	return []string{"count", "max", "mean", "median", "min", "size", "std", "sum"}
}

func (g *GroupBy) aggregate(name string, fn func([]float64) (float64, bool)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}

		if g.only != nil {
			if g.only.Kind != KindNumber && name != "count" {
				return nil, fmt.Errorf("%s: column %q is not numeric", name, g.only.Name)
			}
			out := starlark.NewDict(len(g.groups))
			for i, rows := range g.groups {
				v := optionalFloat(fn(present(g.only, rows)))
				if name == "count" {
					v = starlark.MakeInt(len(rows) - missingIn(g.only, rows))
				}
				if err := out.SetKey(g.key.Value(g.labels[i]), v); err != nil {
					return nil, err
				}
			}
			return out, nil
		}

		keys := g.key.Take(g.labels)
		cols := []*Column{keys}
		for _, c := range g.df.Numeric() {
			if c == g.key {
				continue
			}
			values := make([]float64, len(g.groups))
			for i, rows := range g.groups {
				v, ok := fn(present(c, rows))
				if !ok {
					v = math.NaN()
				}
				values[i] = v
			}
			cols = append(cols, NewNumberColumn(c.Name, values))
		}
		return New(cols...)
	})
}

func present(c *Column, rows []int) []float64 {
	var out []float64
	if c.Kind != KindNumber {
		for _, i := range rows {
			if !c.IsMissing(i) {
				out = append(out, 0)
			}
		}
		return out
	}
	for _, i := range rows {
		if !c.IsMissing(i) {
			out = append(out, c.Numbers[i])
		}
	}
	return out
}

func missingIn(c *Column, rows []int) int {
	n := 0
	for _, i := range rows {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}
