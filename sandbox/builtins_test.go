package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.uber.org/zap"
)

func evalString(t *testing.T, expr string) string {
	t.Helper()
	engine := NewEngine(zap.NewNop(), &Config{})
	result, err := engine.Execute(context.Background(), ExecuteRequest{
		Code: "RESULT_TEXT = str(" + expr + ")",
	})
	require.NoError(t, err, expr)
	return result.ResultText
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{expr: `sum([1, 2, 3])`, want: "6"},
		{expr: `sum([0.5, 0.25], 1)`, want: "1.75"},
		{expr: `round(2.5)`, want: "2"},
		{expr: `round(3.5)`, want: "4"},
		{expr: `round(3.14159, 2)`, want: "3.14"},
		{expr: `round(7)`, want: "7"},
		{expr: `round(1234, -2)`, want: "1200"},
		{expr: `abs(-3)`, want: "3"},
		{expr: `abs(-2.5)`, want: "2.5"},
		{expr: `abs(complex(3, 4))`, want: "5.0"},
		{expr: `map(lambda x: x * 2, [1, 2])`, want: "[2, 4]"},
		{expr: `map(lambda a, b: a + b, [1, 2, 3], [10, 20])`, want: "[11, 22]"},
		{expr: `filter(None, [0, 1, "", "a"])`, want: `[1, "a"]`},
		{expr: `filter(lambda x: x > 1, [1, 2, 3])`, want: "[2, 3]"},
		{expr: `isinstance(True, int)`, want: "True"},
		{expr: `isinstance(1.5, (int, str))`, want: "False"},
		{expr: `isinstance("s", (int, str))`, want: "True"},
		{expr: `isinstance(ValueError("x"), Exception)`, want: "True"},
		{expr: `isinstance(KeyError("x"), IndexError)`, want: "False"},
		{expr: `isinstance([], object)`, want: "True"},
		{expr: `issubclass(KeyError, Exception)`, want: "True"},
		{expr: `issubclass(Exception, KeyError)`, want: "False"},
		{expr: `issubclass(bool, int)`, want: "True"},
		{expr: `type(1.5)`, want: "float"},
		{expr: `complex(1, 2) + complex(0, 1)`, want: "(1+3j)"},
		{expr: `complex(1, 2) * 2`, want: "(2+4j)"},
		{expr: `complex(0, -2)`, want: "-2j"},
		{expr: `complex(1, 2).real`, want: "1.0"},
		{expr: `complex(1, 2) == complex(1, 2)`, want: "True"},
		{expr: `sorted([3, 1, 2], reverse=True)`, want: "[3, 2, 1]"},
		{expr: `list(reversed([1, 2]))`, want: "[2, 1]"},
		{expr: `dict(zip(["a"], [1]))`, want: `{"a": 1}`},
		{expr: `list(enumerate(["x"]))`, want: `[(0, "x")]`},
		{expr: `max([1, 5, 2])`, want: "5"},
		{expr: `min(4, 2)`, want: "2"},
		{expr: `all([True, 1])`, want: "True"},
		{expr: `any([])`, want: "False"},
		{expr: `len(set([1, 1, 2]))`, want: "2"},
		{expr: `object() == object()`, want: "False"},
		{expr: `catch(len, [1, 2])`, want: "(2, None)"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, evalString(t, tt.expr))
		})
	}
}

func TestCatch_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		call string
		want string
	}{
		{name: "raised exception", call: `catch(fail, ValueError("bad"))`, want: "ValueError"},
		{name: "missing key", call: `catch(lambda: {}["k"])`, want: "KeyError"},
		{name: "index", call: `catch(lambda: [1][3])`, want: "IndexError"},
		{name: "floor division", call: `catch(lambda: 1 // 0)`, want: "ZeroDivisionError"},
		{name: "true division", call: `catch(lambda: 1 / 0)`, want: "ZeroDivisionError"},
		{name: "operand types", call: `catch(lambda: 1 + "a")`, want: "TypeError"},
		{name: "bad literal", call: `catch(lambda: int("abc"))`, want: "ValueError"},
		{name: "plain fail", call: `catch(fail, "oops")`, want: "Exception"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evalString(t, tt.call+"[1].kind"))
		})
	}
}

func TestCatch_ExceptionMessage(t *testing.T) {
	assert.Equal(t, "bad", evalString(t, `catch(fail, ValueError("bad"))[1].message`))
	assert.Equal(t, "bad", evalString(t, `catch(fail, ValueError("bad"))[1]`))
	assert.Equal(t, "ok", evalString(t, `"ok" if isinstance(catch(lambda: 1/0)[1], ZeroDivisionError) else "no"`))
}

func TestFail_Uncaught(t *testing.T) {
	engine := NewEngine(zap.NewNop(), &Config{})

	_, err := engine.Execute(context.Background(), ExecuteRequest{Code: `fail(ValueError("bad input"))`})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "ValueError: bad input", execErr.Message)
	assert.NotEmpty(t, execErr.Backtrace)

	var exc *Exception
	require.ErrorAs(t, err, &exc)
	assert.Same(t, ExcValueError, exc.Class)
}

func TestBuiltinTable_ShadowsEveryUniversal(t *testing.T) {
	for name := range starlark.Universe {
		_, ok := builtinTable[name]
		assert.True(t, ok, "universal %s is not shadowed", name)
	}
}

func TestBuiltinTable_DeniedEntriesFail(t *testing.T) {
	thread := &starlark.Thread{Name: "test"}
	for name := range deniedNames {
		fn, ok := builtinTable[name].(starlark.Callable)
		require.True(t, ok, name)

		_, err := starlark.Call(thread, fn, nil, nil)
		assert.ErrorContains(t, err, "not available in the sandbox", name)
	}
	assert.Contains(t, deniedNames, "getattr")
	assert.Contains(t, deniedNames, "dir")
	assert.Contains(t, deniedNames, "hasattr")
}

func TestAllowedBuiltins(t *testing.T) {
	want := []string{
		"AssertionError", "Exception", "False", "IndexError", "KeyError", "None",
		"True", "TypeError", "ValueError", "ZeroDivisionError",
		"abs", "all", "any", "bool", "catch", "complex", "dict", "enumerate",
		"fail", "filter", "float", "int", "isinstance", "issubclass", "len",
		"list", "map", "max", "min", "object", "print", "range", "reversed",
		"round", "set", "sorted", "str", "sum", "tuple", "type", "zip",
	}
	assert.Equal(t, want, AllowedBuiltins())
}

func TestNewScope(t *testing.T) {
	custom := starlark.String("custom")
	scope := NewScope(starlark.StringDict{"len": custom, "df": starlark.None})

	assert.Equal(t, custom, scope["len"])
	assert.Equal(t, starlark.None, scope["df"])
	assert.NotEqual(t, custom, builtinTable["len"], "the shared table must not change")
	_, leaked := builtinTable["df"]
	assert.False(t, leaked)
}
