package sandbox

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Complex is a complex number value created by complex(real, imag)
type Complex complex128

var (
	_ starlark.HasBinary  = Complex(0)
	_ starlark.HasUnary   = Complex(0)
	_ starlark.HasAttrs   = Complex(0)
	_ starlark.Comparable = Complex(0)
)

func newComplex(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var re, im starlark.Value = starlark.MakeInt(0), starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "real?", &re, "imag?", &im); err != nil {
		return nil, err
	}
	r, ok := toComplex(re)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), re.Type())
	}
	i, ok := toComplex(im)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), im.Type())
	}
	return Complex(r + i*1i), nil
}

func toComplex(v starlark.Value) (complex128, bool) {
	if c, ok := v.(Complex); ok {
		return complex128(c), true
	}
	if f, ok := starlark.AsFloat(v); ok {
		return complex(f, 0), true
	}
	return 0, false
}

func formatPart(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (c Complex) String() string {
	re, im := real(c), imag(c)
	sign := "+"
	if im < 0 || (im == 0 && math.Signbit(im)) {
		sign = "-"
	}
	if re == 0 && !math.Signbit(re) {
		return formatPart(im) + "j"
	}
	return "(" + formatPart(re) + sign + formatPart(math.Abs(im)) + "j)"
}

func (c Complex) Type() string          { return "complex" }
func (c Complex) Freeze()               {}
func (c Complex) Truth() starlark.Bool  { return c != 0 }
func (c Complex) Hash() (uint32, error) { return starlark.Float(real(c)).Hash() }

func (c Complex) Attr(name string) (starlark.Value, error) {
	switch name {
	case "real":
		return starlark.Float(real(c)), nil
	case "imag":
		return starlark.Float(imag(c)), nil
	case "conjugate":
		return starlark.NewBuiltin("conjugate", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return Complex(cmplx.Conj(complex128(c))), nil
		}), nil
	}
	return nil, nil
}

func (c Complex) AttrNames() []string {
	return []string{"conjugate", "imag", "real"}
}

func (c Complex) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.MINUS:
		return -c, nil
	case syntax.PLUS:
		return c, nil
	}
	return nil, nil
}

func (c Complex) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	other, ok := toComplex(y)
	if !ok {
		return nil, nil
	}
	l, r := complex128(c), other
	if side == starlark.Right {
		l, r = r, l
	}
	switch op {
	case syntax.PLUS:
		return Complex(l + r), nil
	case syntax.MINUS:
		return Complex(l - r), nil
	case syntax.STAR:
		return Complex(l * r), nil
	case syntax.SLASH:
		if r == 0 {
			return nil, fmt.Errorf("complex division by zero")
		}
		return Complex(l / r), nil
	}
	return nil, nil
}

func (c Complex) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	other := y.(Complex)
	switch op {
	case syntax.EQL:
		return c == other, nil
	case syntax.NEQ:
		return c != other, nil
	}
	return false, fmt.Errorf("%s %s %s not implemented", c.Type(), op, y.Type())
}
