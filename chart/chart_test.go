package chart

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/edabox/sandbox"
)

func run(t *testing.T, h *Handle, code string) error {
	t.Helper()
	_, err := starlark.ExecFile(&starlark.Thread{Name: t.Name()}, "<test>", code, starlark.StringDict{BindingName: h})
	return err
}

func TestHandle_RendersFiguresInCreationOrder(t *testing.T) {
	h := New(Config{WidthInch: 4, HeightInch: 3})
	err := run(t, h, `
plt.figure("first")
plt.plot([1, 2, 3], [2, 4, 8], label="growth")
plt.legend()
plt.figure()
plt.scatter([1, 2, None], [3, 1, 2])
plt.xlabel("x")
plt.ylabel("y")
plt.show()
`)
	require.NoError(t, err)
	require.Equal(t, 2, h.Len())

	artifacts, err := h.Artifacts()
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	for i, a := range artifacts {
		assert.Equal(t, "image/png", a.MIMEType)
		img, err := png.Decode(bytes.NewReader(a.Data))
		require.NoError(t, err, "artifact %d", i)
		assert.InDelta(t, 4*96, img.Bounds().Dx(), 1)
	}
	assert.Equal(t, "figure-1.png", artifacts[0].Name)
	assert.Equal(t, "figure-2.png", artifacts[1].Name)
}

func TestHandle_ImplicitFigure(t *testing.T) {
	h := New(Config{})
	require.NoError(t, run(t, h, `
plt.hist([1, 2, 2, 3, 3, 3], bins=3)
plt.title("distribution")
plt.bar(["a", "b"], [3, None])
`))
	assert.Equal(t, 1, h.Len())
}

func TestHandle_SingleSequencePlot(t *testing.T) {
	h := New(Config{})
	require.NoError(t, run(t, h, `plt.plot([3, 1, 2])`))
	assert.Equal(t, 1, h.Len())
}

func TestHandle_Close(t *testing.T) {
	h := New(Config{})
	require.NoError(t, run(t, h, `
plt.figure()
plt.figure()
plt.close()
`))
	assert.Equal(t, 1, h.Len())

	require.NoError(t, run(t, h, `plt.close("all")`))
	assert.Equal(t, 0, h.Len())
}

func TestHandle_MaxFigures(t *testing.T) {
	h := New(Config{MaxFigures: 2})
	err := run(t, h, `
plt.figure()
plt.figure()
plt.figure()
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyFigures)
}

func TestHandle_Errors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		message string
	}{
		{name: "length mismatch", code: `plt.plot([1, 2], [1])`, message: "same length"},
		{name: "no data", code: `plt.scatter([None], [1])`, message: "no data points"},
		{name: "text values", code: `plt.hist(["a"])`, message: "want number"},
		{name: "bad bins", code: `plt.hist([1], bins=0)`, message: "bins must be positive"},
		{name: "bar mismatch", code: `plt.bar(["a"], [1, 2])`, message: "same length"},
		{name: "unknown close target", code: `plt.close("x")`, message: "unknown figure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(t, New(Config{}), tt.code)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestHandle_Reset(t *testing.T) {
	h := New(Config{})
	require.NoError(t, run(t, h, `plt.plot([1, 2])`))
	h.Reset()
	assert.Equal(t, 0, h.Len())

	artifacts, err := h.Artifacts()
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestHandle_WithEngine(t *testing.T) {
	engine := sandbox.NewEngine(zaptest.NewLogger(t), &sandbox.Config{})
	h := New(Config{})

	result, err := engine.Execute(context.Background(), sandbox.ExecuteRequest{
		Code: `
plt.plot([1, 2, 3])
RESULT_TEXT = "plotted"
`,
		Bindings: starlark.StringDict{BindingName: h},
	})
	require.NoError(t, err)
	assert.Equal(t, "plotted", result.ResultText)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, 0, h.Len())

	_, err = engine.Execute(context.Background(), sandbox.ExecuteRequest{
		Code:     "plt.plot([1, 2])\nfail(\"boom\")\n",
		Bindings: starlark.StringDict{BindingName: h},
	})
	require.Error(t, err)
	assert.Equal(t, 0, h.Len())
}
