package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// ExceptionType is a callable exception class such as ValueError
type ExceptionType struct {
	name   string
	parent *ExceptionType
}

var (
	_ starlark.Callable = (*ExceptionType)(nil)
	_ starlark.HasAttrs = (*Exception)(nil)
	_ error             = (*Exception)(nil)
)

// The closed set of exception types visible to analysis code
var (
	ExcException         = &ExceptionType{name: "Exception"}
	ExcValueError        = &ExceptionType{name: "ValueError", parent: ExcException}
	ExcTypeError         = &ExceptionType{name: "TypeError", parent: ExcException}
	ExcKeyError          = &ExceptionType{name: "KeyError", parent: ExcException}
	ExcIndexError        = &ExceptionType{name: "IndexError", parent: ExcException}
	ExcAssertionError    = &ExceptionType{name: "AssertionError", parent: ExcException}
	ExcZeroDivisionError = &ExceptionType{name: "ZeroDivisionError", parent: ExcException}
)

var exceptionTypes = []*ExceptionType{
	ExcException,
	ExcValueError,
	ExcTypeError,
	ExcKeyError,
	ExcIndexError,
	ExcAssertionError,
	ExcZeroDivisionError,
}

func (t *ExceptionType) Name() string          { return t.name }
func (t *ExceptionType) String() string        { return "<class '" + t.name + "'>" }
func (t *ExceptionType) Type() string          { return "exception_type" }
func (t *ExceptionType) Freeze()               {}
func (t *ExceptionType) Truth() starlark.Bool  { return starlark.True }
func (t *ExceptionType) Hash() (uint32, error) { return starlark.String(t.name).Hash() }

// IsSubtype reports whether t is other or derives from it
func (t *ExceptionType) IsSubtype(other *ExceptionType) bool {
	for c := t; c != nil; c = c.parent {
		if c == other {
			return true
		}
	}
	return false
}

// CallInternal constructs an exception value
func (t *ExceptionType) CallInternal(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", t.name)
	}
	return &Exception{Class: t, Args: args}, nil
}

// Exception is a raised or constructed exception value. It is also a Go
// error, so returning it from a builtin raises it.
type Exception struct {
	Class *ExceptionType
	Args  starlark.Tuple
}

// Message renders the arguments the way str() does for an exception
func (e *Exception) Message() string {
	parts := make([]string, 0, len(e.Args))
	for _, a := range e.Args {
		if s, ok := starlark.AsString(a); ok {
			parts = append(parts, s)
		} else {
			parts = append(parts, a.String())
		}
	}
	return strings.Join(parts, ", ")
}

func (e *Exception) Error() string {
	if msg := e.Message(); msg != "" {
		return e.Class.name + ": " + msg
	}
	return e.Class.name
}

func (e *Exception) String() string { return e.Message() }
func (e *Exception) Type() string   { return "exception" }
func (e *Exception) Freeze()        { e.Args.Freeze() }

func (e *Exception) Truth() starlark.Bool { return starlark.True }

func (e *Exception) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", e.Class.name)
}

func (e *Exception) Attr(name string) (starlark.Value, error) {
	switch name {
	case "args":
		return e.Args, nil
	case "message":
		return starlark.String(e.Message()), nil
	case "kind":
		return starlark.String(e.Class.name), nil
	}
	return nil, nil
}

func (e *Exception) AttrNames() []string {
	return []string{"args", "kind", "message"}
}

// raise implements fail(): fail(ValueError("x")), fail(KeyError) or
// fail("message") for a plain Exception.
func raise(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) == 1 {
		switch v := args[0].(type) {
		case *Exception:
			return nil, v
		case *ExceptionType:
			return nil, &Exception{Class: v}
		}
	}
	return nil, &Exception{Class: ExcException, Args: args}
}

// catch implements the except form: catch(fn, *args, **kwargs) calls fn and
// returns (result, None) or (None, exception). Cancellation and exhausted
// step budgets are not catchable.
func catch(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%s: missing callable argument", b.Name())
	}
	fn, ok := args[0].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want callable", b.Name(), args[0].Type())
	}

	result, err := starlark.Call(thread, fn, args[1:], kwargs)
	if err == nil {
		return starlark.Tuple{result, starlark.None}, nil
	}
	if uncatchable(thread, err) {
		return nil, err
	}
	return starlark.Tuple{starlark.None, asException(err)}, nil
}

func uncatchable(thread *starlark.Thread, err error) bool {
	if ctx, ok := thread.Local(contextKey).(context.Context); ok && ctx.Err() != nil {
		return true
	}
	return strings.Contains(err.Error(), "Starlark computation cancelled")
}

// asException converts an interpreter error into an exception value
func asException(err error) *Exception {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	msg := err.Error()
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		msg = evalErr.Msg
	}
	return &Exception{Class: classify(msg), Args: starlark.Tuple{starlark.String(msg)}}
}

// classify maps interpreter error messages to exception types
func classify(msg string) *ExceptionType {
	switch {
	case strings.Contains(msg, "division by zero"), strings.Contains(msg, "modulo by zero"):
		return ExcZeroDivisionError
	case strings.Contains(msg, "out of range"):
		return ExcIndexError
	case strings.Contains(msg, " not in "), strings.Contains(msg, "no such key"):
		return ExcKeyError
	case strings.Contains(msg, "unknown binary op"),
		strings.Contains(msg, "unsupported"),
		strings.Contains(msg, "not callable"),
		strings.Contains(msg, ", want "):
		return ExcTypeError
	case strings.Contains(msg, "invalid"):
		return ExcValueError
	default:
		return ExcException
	}
}
