package frame

import (
	"math"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

// Kind is the storage kind of a column
type Kind int

// Column kinds
const (
	KindNumber Kind = iota
	KindText
)

// missingTokens are cell values read as missing
var missingTokens = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"none": true,
}

// Column is an immutable named column. Numeric columns keep NaN for missing
// cells; text columns keep "" with the missing flag set.
type Column struct {
	Name    string
	Kind    Kind
	Numbers []float64
	Text    []string
	missing []bool
	integer bool
}

// NewColumn infers the kind of raw cells: a column is numeric when every
// non-missing cell parses as a number.
func NewColumn(name string, cells []string) *Column {
	numbers := make([]float64, len(cells))
	missing := make([]bool, len(cells))
	numeric, integer := true, true

	text := make([]string, len(cells))
	for i, raw := range cells {
		cell := strings.TrimSpace(raw)
		text[i] = cell
		if missingTokens[strings.ToLower(cell)] {
			missing[i] = true
			numbers[i] = math.NaN()
			continue
		}
		if !numeric {
			continue
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			numeric = false
			continue
		}
		numbers[i] = f
		if f != math.Trunc(f) || strings.ContainsAny(cell, ".eE") {
			integer = false
		}
	}

	if numeric {
		return &Column{Name: name, Kind: KindNumber, Numbers: numbers, missing: missing, integer: integer}
	}
	for i := range text {
		if missing[i] {
			text[i] = ""
		}
	}
	return &Column{Name: name, Kind: KindText, Text: text, missing: missing}
}

// NewNumberColumn builds a numeric column. NaN marks a missing value.
func NewNumberColumn(name string, values []float64) *Column {
	missing := make([]bool, len(values))
	integer := true
	for i, v := range values {
		missing[i] = math.IsNaN(v)
		if !missing[i] && v != math.Trunc(v) {
			integer = false
		}
	}
	return &Column{Name: name, Kind: KindNumber, Numbers: values, missing: missing, integer: integer && len(values) > 0}
}

// NewTextColumn builds a text column. An empty string marks a missing value.
func NewTextColumn(name string, values []string) *Column {
	missing := make([]bool, len(values))
	for i, v := range values {
		missing[i] = v == ""
	}
	return &Column{Name: name, Kind: KindText, Text: values, missing: missing}
}

// Len returns the number of cells
func (c *Column) Len() int {
	return len(c.missing)
}

// IsMissing reports whether cell i is missing
func (c *Column) IsMissing(i int) bool {
	return c.missing[i]
}

// MissingCount returns the number of missing cells
func (c *Column) MissingCount() int {
	n := 0
	for _, m := range c.missing {
		if m {
			n++
		}
	}
	return n
}

// DType returns the pandas-style dtype name
func (c *Column) DType() string {
	switch {
	case c.Kind == KindText:
		return "object"
	case c.integer && c.MissingCount() == 0:
		return "int64"
	default:
		return "float64"
	}
}

// Present returns the non-missing numeric values
func (c *Column) Present() []float64 {
	if c.Kind != KindNumber {
		return nil
	}
	out := make([]float64, 0, len(c.Numbers))
	for i, v := range c.Numbers {
		if !c.missing[i] {
			out = append(out, v)
		}
	}
	return out
}

// Label returns the text form of cell i
func (c *Column) Label(i int) string {
	if c.missing[i] {
		return "NaN"
	}
	if c.Kind == KindText {
		return c.Text[i]
	}
	return formatNumber(c.Numbers[i], c.integer)
}

// Value returns cell i as a Starlark value; missing cells are None
func (c *Column) Value(i int) starlark.Value {
	if c.missing[i] {
		return starlark.None
	}
	if c.Kind == KindText {
		return starlark.String(c.Text[i])
	}
	return number(c.Numbers[i], c.integer)
}

// Take returns a new column holding the cells at idx
func (c *Column) Take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, integer: c.integer, missing: make([]bool, len(idx))}
	if c.Kind == KindNumber {
		out.Numbers = make([]float64, len(idx))
	} else {
		out.Text = make([]string, len(idx))
	}
	for j, i := range idx {
		out.missing[j] = c.missing[i]
		if c.Kind == KindNumber {
			out.Numbers[j] = c.Numbers[i]
		} else {
			out.Text[j] = c.Text[i]
		}
	}
	return out
}

// Rename returns a copy of the column under a new name
func (c *Column) Rename(name string) *Column {
	out := *c
	out.Name = name
	return &out
}

// less orders cells for sorting; missing cells sort last
func (c *Column) less(i, j int) bool {
	if c.missing[i] || c.missing[j] {
		return !c.missing[i] && c.missing[j]
	}
	if c.Kind == KindNumber {
		return c.Numbers[i] < c.Numbers[j]
	}
	return c.Text[i] < c.Text[j]
}

func number(f float64, integer bool) starlark.Value {
	if integer && math.Abs(f) < 1<<53 {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

func formatNumber(f float64, integer bool) string {
	if integer && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}
