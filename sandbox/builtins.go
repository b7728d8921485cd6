package sandbox

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync/atomic"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Thread-local keys
const (
	outputKey  = "sandbox.output"
	contextKey = "sandbox.context"
)

// allowedUniversals are taken from the interpreter's universe by name
var allowedUniversals = []string{
	"type", "int", "float", "str", "bool", "list", "tuple", "dict", "set",
	"len", "range", "enumerate", "zip", "sorted", "reversed",
	"min", "max", "all", "any",
}

// builtinTypeNames maps type constructors to the Type() of their values
var builtinTypeNames = map[string][]string{
	"int":     {"int", "bool"},
	"float":   {"float"},
	"str":     {"string"},
	"bool":    {"bool"},
	"list":    {"list"},
	"tuple":   {"tuple"},
	"dict":    {"dict"},
	"set":     {"set"},
	"complex": {"complex"},
}

// builtinTable is the process-wide, frozen builtin table. It is never
// mutated after init; scopes copy it. deniedNames lists its stub entries.
var builtinTable, deniedNames = newBuiltinTable()

func newBuiltinTable() (starlark.StringDict, map[string]bool) {
	table := starlark.StringDict{
		"None":  starlark.None,
		"True":  starlark.True,
		"False": starlark.False,

		"isinstance": starlark.NewBuiltin("isinstance", isinstance),
		"issubclass": starlark.NewBuiltin("issubclass", issubclass),
		"object":     starlark.NewBuiltin("object", newObject),
		"complex":    starlark.NewBuiltin("complex", newComplex),
		"abs":        starlark.NewBuiltin("abs", abs),
		"sum":        starlark.NewBuiltin("sum", sum),
		"round":      starlark.NewBuiltin("round", round),
		"map":        starlark.NewBuiltin("map", mapFn),
		"filter":     starlark.NewBuiltin("filter", filter),
		"print":      starlark.NewBuiltin("print", capturePrint),
		"fail":       starlark.NewBuiltin("fail", raise),
		"catch":      starlark.NewBuiltin("catch", catch),
	}
	for _, name := range allowedUniversals {
		v, ok := starlark.Universe[name]
		if !ok {
			continue
		}
		table[name] = v
	}
	for _, t := range exceptionTypes {
		table[t.name] = t
	}

	// Every universal not allowed above is shadowed so that the
	// interpreter's own table is never reachable.
	stubs := make(map[string]bool)
	for name := range starlark.Universe {
		if _, ok := table[name]; !ok {
			table[name] = denied(name)
			stubs[name] = true
		}
	}

	table.Freeze()
	return table, stubs
}

func denied(name string) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("%s is not available in the sandbox", name)
	})
}

// AllowedBuiltins returns the sorted names of the usable builtin table entries
func AllowedBuiltins() []string {
	var names []string
	for name := range builtinTable {
		if !deniedNames[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewScope returns the predeclared environment for one execution: a copy of
// the builtin table overlaid with the caller's bindings.
func NewScope(bindings starlark.StringDict) starlark.StringDict {
	scope := make(starlark.StringDict, len(builtinTable)+len(bindings))
	for name, v := range builtinTable {
		scope[name] = v
	}
	for name, v := range bindings {
		scope[name] = v
	}
	return scope
}

// capturePrint writes to the execution's capture buffer. It accepts the sep
// and end keywords.
func capturePrint(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	sep, end := " ", "\n"
	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		var val string
		if kv[1] != starlark.None {
			s, ok := starlark.AsString(kv[1])
			if !ok {
				return nil, fmt.Errorf("%s: %s must be None or a string, not %s", b.Name(), key, kv[1].Type())
			}
			val = s
		}
		switch key {
		case "sep":
			if kv[1] != starlark.None {
				sep = val
			}
		case "end":
			if kv[1] != starlark.None {
				end = val
			}
		default:
			return nil, fmt.Errorf("%s: unexpected keyword argument %s", b.Name(), key)
		}
	}

	var line strings.Builder
	for i, v := range args {
		if i > 0 {
			line.WriteString(sep)
		}
		if s, ok := starlark.AsString(v); ok {
			line.WriteString(s)
		} else {
			line.WriteString(v.String())
		}
	}
	line.WriteString(end)

	if out, ok := thread.Local(outputKey).(*outputBuffer); ok {
		out.WriteString(line.String())
	}
	return starlark.None, nil
}

func isinstance(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var obj, classinfo starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &obj, &classinfo); err != nil {
		return nil, err
	}
	ok, err := instanceOf(obj, classinfo)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Bool(ok), nil
}

func instanceOf(obj, classinfo starlark.Value) (bool, error) {
	switch cls := classinfo.(type) {
	case starlark.Tuple:
		for _, c := range cls {
			ok, err := instanceOf(obj, c)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case *ExceptionType:
		exc, ok := obj.(*Exception)
		return ok && exc.Class.IsSubtype(cls), nil
	case *starlark.Builtin:
		if cls.Name() == "object" {
			return true, nil
		}
		types, ok := builtinTypeNames[cls.Name()]
		if !ok {
			return false, fmt.Errorf("arg 2 must be a type or tuple of types, not %s", cls.Name())
		}
		for _, t := range types {
			if obj.Type() == t {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("arg 2 must be a type or tuple of types, not %s", classinfo.Type())
}

func issubclass(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cls, classinfo starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &cls, &classinfo); err != nil {
		return nil, err
	}
	ok, err := subclassOf(cls, classinfo)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.Bool(ok), nil
}

func subclassOf(cls, classinfo starlark.Value) (bool, error) {
	if tuple, ok := classinfo.(starlark.Tuple); ok {
		for _, c := range tuple {
			ok, err := subclassOf(cls, c)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	if b, ok := classinfo.(*starlark.Builtin); ok && b.Name() == "object" {
		return true, nil
	}
	switch c := cls.(type) {
	case *ExceptionType:
		target, ok := classinfo.(*ExceptionType)
		return ok && c.IsSubtype(target), nil
	case *starlark.Builtin:
		target, ok := classinfo.(*starlark.Builtin)
		if !ok {
			return false, nil
		}
		if _, known := builtinTypeNames[c.Name()]; !known {
			return false, fmt.Errorf("arg 1 must be a class, not %s", c.Name())
		}
		return c.Name() == target.Name() || (c.Name() == "bool" && target.Name() == "int"), nil
	}
	return false, fmt.Errorf("arg 1 must be a class, not %s", cls.Type())
}

var objectSeq atomic.Uint32

// object is a featureless value, useful as a sentinel
type object struct{ id uint32 }

func newObject(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return &object{id: objectSeq.Add(1)}, nil
}

func (o *object) String() string        { return fmt.Sprintf("<object %d>", o.id) }
func (o *object) Type() string          { return "object" }
func (o *object) Freeze()               {}
func (o *object) Truth() starlark.Bool  { return starlark.True }
func (o *object) Hash() (uint32, error) { return o.id, nil }

func abs(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	switch x := x.(type) {
	case starlark.Int:
		if x.Sign() < 0 {
			return starlark.MakeInt(0).Sub(x), nil
		}
		return x, nil
	case starlark.Float:
		return starlark.Float(math.Abs(float64(x))), nil
	case Complex:
		return starlark.Float(math.Hypot(real(x), imag(x))), nil
	}
	return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
}

func sum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	acc := start
	var x starlark.Value
	for iter.Next(&x) {
		var err error
		acc, err = starlark.Binary(syntax.PLUS, acc, x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return acc, nil
}

// round uses round-half-to-even like Python's round
func round(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, ndigits starlark.Value = nil, starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &x, "ndigits?", &ndigits); err != nil {
		return nil, err
	}

	f, ok := starlark.AsFloat(x)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
	}

	if ndigits == starlark.None {
		if i, ok := x.(starlark.Int); ok {
			return i, nil
		}
		r := math.RoundToEven(f)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, fmt.Errorf("%s: cannot convert %v to integer", b.Name(), f)
		}
		bi, _ := big.NewFloat(r).Int(nil)
		return starlark.MakeBigInt(bi), nil
	}

	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	if _, isInt := x.(starlark.Int); isInt && n >= 0 {
		return x, nil
	}
	var rounded float64
	if n >= 0 {
		pow := math.Pow(10, float64(n))
		rounded = math.RoundToEven(f*pow) / pow
	} else {
		factor := math.Pow(10, float64(-n))
		rounded = math.RoundToEven(f/factor) * factor
	}
	if _, isInt := x.(starlark.Int); isInt {
		bi, _ := big.NewFloat(rounded).Int(nil)
		return starlark.MakeBigInt(bi), nil
	}
	return starlark.Float(rounded), nil
}

// mapFn returns a list: map(fn, *iterables)
func mapFn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%s: need a function and at least one iterable", b.Name())
	}
	fn, ok := args[0].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want callable", b.Name(), args[0].Type())
	}

	iters := make([]starlark.Iterator, 0, len(args)-1)
	defer func() {
		for _, it := range iters {
			it.Done()
		}
	}()
	for _, a := range args[1:] {
		iterable, ok := a.(starlark.Iterable)
		if !ok {
			return nil, fmt.Errorf("%s: %s is not iterable", b.Name(), a.Type())
		}
		iters = append(iters, iterable.Iterate())
	}

	var out []starlark.Value
	for {
		call := make(starlark.Tuple, len(iters))
		for i, it := range iters {
			if !it.Next(&call[i]) {
				return starlark.NewList(out), nil
			}
		}
		v, err := starlark.Call(thread, fn, call, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

// filter returns a list: filter(fn, iterable), where fn may be None
func filter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Value
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		keep := x
		if fn != starlark.None {
			callable, ok := fn.(starlark.Callable)
			if !ok {
				return nil, fmt.Errorf("%s: got %s, want callable or None", b.Name(), fn.Type())
			}
			v, err := starlark.Call(thread, callable, starlark.Tuple{x}, nil)
			if err != nil {
				return nil, err
			}
			keep = v
		}
		if keep.Truth() {
			out = append(out, x)
		}
	}
	return starlark.NewList(out), nil
}
