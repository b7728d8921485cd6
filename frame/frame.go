// Package frame provides an immutable tabular data handle exposed to
// analysis code as the Starlark value df.
package frame

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.starlark.net/starlark"
)

// DataFrame is an immutable table of equally long named columns. Every
// operation returns a new value, so one frame can back many executions.
type DataFrame struct {
	columns []*Column
	index   map[string]int
	rows    int
}

var (
	_ starlark.HasAttrs = (*DataFrame)(nil)
	_ starlark.Mapping  = (*DataFrame)(nil)
	_ starlark.Sequence = (*DataFrame)(nil)
)

// ErrColumnLength is returned when columns differ in length
var ErrColumnLength = errors.New("columns must have equal length")

// New builds a DataFrame. Column names must be unique.
func New(columns ...*Column) (*DataFrame, error) {
	df := &DataFrame{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if i == 0 {
			df.rows = c.Len()
		} else if c.Len() != df.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d: %w", c.Name, c.Len(), df.rows, ErrColumnLength)
		}
		if _, dup := df.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		df.index[c.Name] = i
		df.columns = append(df.columns, c)
	}
	return df, nil
}

func mustNew(columns ...*Column) *DataFrame {
	df, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return df
}

// Rows returns the number of rows
func (df *DataFrame) Rows() int { return df.rows }

// Columns returns the columns in order
func (df *DataFrame) Columns() []*Column { return df.columns }

// Names returns the column names in order
func (df *DataFrame) Names() []string {
	names := make([]string, len(df.columns))
	for i, c := range df.columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name
func (df *DataFrame) Column(name string) (*Column, bool) {
	i, ok := df.index[name]
	if !ok {
		return nil, false
	}
	return df.columns[i], true
}

// DTypes returns column name to dtype name
func (df *DataFrame) DTypes() map[string]string {
	out := make(map[string]string, len(df.columns))
	for _, c := range df.columns {
		out[c.Name] = c.DType()
	}
	return out
}

// Take returns the rows at idx
func (df *DataFrame) Take(idx []int) *DataFrame {
	cols := make([]*Column, len(df.columns))
	for i, c := range df.columns {
		cols[i] = c.Take(idx)
	}
	return mustNew(cols...)
}

// Head returns the first n rows
func (df *DataFrame) Head(n int) *DataFrame {
	return df.Take(span(0, clampRows(n, df.rows)))
}

// Tail returns the last n rows
func (df *DataFrame) Tail(n int) *DataFrame {
	n = clampRows(n, df.rows)
	return df.Take(span(df.rows-n, df.rows))
}

// Select returns the named columns in the given order
func (df *DataFrame) Select(names []string) (*DataFrame, error) {
	cols := make([]*Column, 0, len(names))
	for _, name := range names {
		c, ok := df.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not in DataFrame", name)
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// SortBy orders rows by the named columns. The sort is stable and missing
// values sort last.
func (df *DataFrame) SortBy(names []string, ascending bool) (*DataFrame, error) {
	keys := make([]*Column, 0, len(names))
	for _, name := range names {
		c, ok := df.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not in DataFrame", name)
		}
		keys = append(keys, c)
	}

	idx := span(0, df.rows)
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		for _, k := range keys {
			if k.IsMissing(i) != k.IsMissing(j) {
				return !k.IsMissing(i)
			}
			if k.less(i, j) {
				return ascending
			}
			if k.less(j, i) {
				return !ascending
			}
		}
		return false
	})
	return df.Take(idx), nil
}

// DropNA removes rows with any missing cell
func (df *DataFrame) DropNA() *DataFrame {
	var idx []int
	for i := 0; i < df.rows; i++ {
		keep := true
		for _, c := range df.columns {
			if c.IsMissing(i) {
				keep = false
				break
			}
		}
		if keep {
			idx = append(idx, i)
		}
	}
	return df.Take(idx)
}

// Numeric returns the numeric columns
func (df *DataFrame) Numeric() []*Column {
	var out []*Column
	for _, c := range df.columns {
		if c.Kind == KindNumber {
			out = append(out, c)
		}
	}
	return out
}

// Describe summarizes numeric columns the way pandas describe does
func (df *DataFrame) Describe() *DataFrame {
	stats := []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}
	cols := []*Column{NewTextColumn("stat", stats)}
	for _, c := range df.Numeric() {
		cols = append(cols, NewNumberColumn(c.Name, describe(c.Present())))
	}
	return mustNew(cols...)
}

func describe(x []float64) []float64 {
	nan := math.NaN()
	out := []float64{float64(len(x)), nan, nan, nan, nan, nan, nan, nan}
	if v, ok := Mean(x); ok {
		out[1] = v
	}
	if v, ok := StdDev(x); ok {
		out[2] = v
	}
	if v, ok := Min(x); ok {
		out[3] = v
	}
	for i, q := range []float64{0.25, 0.5, 0.75} {
		if v, ok := Quantile(x, q); ok {
			out[4+i] = v
		}
	}
	if v, ok := Max(x); ok {
		out[7] = v
	}
	return out
}

// Corr returns the pairwise Pearson correlation matrix of numeric columns
func (df *DataFrame) Corr() *DataFrame {
	numeric := df.Numeric()
	names := make([]string, len(numeric))
	for i, c := range numeric {
		names[i] = c.Name
	}

	cols := []*Column{NewTextColumn("column", names)}
	for _, a := range numeric {
		values := make([]float64, len(numeric))
		for i, b := range numeric {
			r, ok := Correlation(a.Numbers, b.Numbers)
			if !ok {
				r = math.NaN()
			}
			values[i] = r
		}
		cols = append(cols, NewNumberColumn(a.Name, values))
	}
	return mustNew(cols...)
}

// Filter keeps the rows where column op value holds. Supported operators
// are ==, !=, <, <=, > and >=.
func (df *DataFrame) Filter(name, op string, value starlark.Value) (*DataFrame, error) {
	c, ok := df.Column(name)
	if !ok {
		return nil, fmt.Errorf("column %q not in DataFrame", name)
	}
	match, err := comparator(c, op, value)
	if err != nil {
		return nil, err
	}

	var idx []int
	for i := 0; i < df.rows; i++ {
		if !c.IsMissing(i) && match(i) {
			idx = append(idx, i)
		}
	}
	return df.Take(idx), nil
}

func comparator(c *Column, op string, value starlark.Value) (func(int) bool, error) {
	var cmp func(int) int
	if c.Kind == KindNumber {
		f, ok := starlark.AsFloat(value)
		if !ok {
			return nil, fmt.Errorf("cannot compare numeric column %q with %s", c.Name, value.Type())
		}
		cmp = func(i int) int { return compareFloat(c.Numbers[i], f) }
	} else {
		s, ok := starlark.AsString(value)
		if !ok {
			return nil, fmt.Errorf("cannot compare text column %q with %s", c.Name, value.Type())
		}
		cmp = func(i int) int { return strings.Compare(c.Text[i], s) }
	}

	switch op {
	case "==":
		return func(i int) bool { return cmp(i) == 0 }, nil
	case "!=":
		return func(i int) bool { return cmp(i) != 0 }, nil
	case "<":
		return func(i int) bool { return cmp(i) < 0 }, nil
	case "<=":
		return func(i int) bool { return cmp(i) <= 0 }, nil
	case ">":
		return func(i int) bool { return cmp(i) > 0 }, nil
	case ">=":
		return func(i int) bool { return cmp(i) >= 0 }, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Format renders up to maxRows rows as an aligned text table
func (df *DataFrame) Format(maxRows int) string {
	rows := span(0, df.rows)
	truncated := false
	if maxRows > 0 && df.rows > maxRows {
		head := span(0, maxRows/2+maxRows%2)
		tail := span(df.rows-maxRows/2, df.rows)
		rows = append(head, tail...)
		truncated = true
	}

	header := append([]string{""}, df.Names()...)
	table := [][]string{header}
	for n, i := range rows {
		if truncated && n == maxRows/2+maxRows%2 {
			ellipsis := make([]string, len(header))
			for k := range ellipsis {
				ellipsis[k] = "..."
			}
			table = append(table, ellipsis)
		}
		line := []string{fmt.Sprint(i)}
		for _, c := range df.columns {
			line = append(line, c.Label(i))
		}
		table = append(table, line)
	}

	widths := make([]int, len(header))
	for _, line := range table {
		for k, cell := range line {
			if w := len([]rune(cell)); w > widths[k] {
				widths[k] = w
			}
		}
	}

	var b strings.Builder
	for _, line := range table {
		for k, cell := range line {
			if k > 0 {
				b.WriteString("  ")
			}
			b.WriteString(strings.Repeat(" ", widths[k]-len([]rune(cell))))
			b.WriteString(cell)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n[%d rows x %d columns]", df.rows, len(df.columns))
	return b.String()
}

// Starlark value

func (df *DataFrame) String() string        { return df.Format(10) }
func (df *DataFrame) Type() string          { return "DataFrame" }
func (df *DataFrame) Freeze()               {}
func (df *DataFrame) Truth() starlark.Bool  { return df.rows > 0 }
func (df *DataFrame) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: DataFrame") }
func (df *DataFrame) Len() int              { return df.rows }

// Iterate yields column names
func (df *DataFrame) Iterate() starlark.Iterator {
	names := make([]starlark.Value, len(df.columns))
	for i, c := range df.columns {
		names[i] = starlark.String(c.Name)
	}
	return starlark.NewList(names).Iterate()
}

// Get implements df["col"] and df[["a", "b"]]
func (df *DataFrame) Get(k starlark.Value) (starlark.Value, bool, error) {
	if name, ok := starlark.AsString(k); ok {
		c, found := df.Column(name)
		if !found {
			return nil, false, nil
		}
		return &Series{col: c}, true, nil
	}
	names, err := stringList(k)
	if err != nil {
		return nil, false, fmt.Errorf("DataFrame index: %w", err)
	}
	sub, err := df.Select(names)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (df *DataFrame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		return stringsValue(df.Names()), nil
	case "shape":
		return starlark.Tuple{starlark.MakeInt(df.rows), starlark.MakeInt(len(df.columns))}, nil
	case "dtypes":
		d := starlark.NewDict(len(df.columns))
		for _, c := range df.columns {
			if err := d.SetKey(starlark.String(c.Name), starlark.String(c.DType())); err != nil {
				return nil, err
			}
		}
		return d, nil
	case "size":
		return starlark.MakeInt(df.rows * len(df.columns)), nil
	}
	if m, ok := frameMethods[name]; ok {
		return m.BindReceiver(df), nil
	}
	return nil, nil
}

func (df *DataFrame) AttrNames() []string {
	names := []string{"columns", "dtypes", "shape", "size"}
	for name := range frameMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func span(from, to int) []int {
	if to < from {
		return nil
	}
	idx := make([]int, to-from)
	for i := range idx {
		idx[i] = from + i
	}
	return idx
}

func clampRows(n, rows int) int {
	if n < 0 {
		n = rows + n
	}
	if n < 0 {
		return 0
	}
	if n > rows {
		return rows
	}
	return n
}
