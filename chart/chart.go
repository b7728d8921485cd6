// Package chart provides the plt handle: a request-scoped figure registry
// whose figures are rendered to PNG artifacts after a successful run.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.starlark.net/starlark"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/isdmx/edabox/frame"
	"github.com/isdmx/edabox/sandbox"
)

// BindingName is the conventional scope name of the handle
const BindingName = "plt"

// Defaults used when the configuration leaves a field unset
const (
	DefaultWidthInch  = 8
	DefaultHeightInch = 5
	DefaultMaxFigures = 10
)

// ErrTooManyFigures is returned when code opens more figures than allowed
var ErrTooManyFigures = errors.New("too many figures")

// Config sizes rendered figures and bounds the registry
type Config struct {
	WidthInch  float64
	HeightInch float64
	MaxFigures int
}

// Handle is a plotting handle with its own figure registry. A Handle must
// not be shared between executions.
type Handle struct {
	mu      sync.Mutex
	config  Config
	figures []*figure
	current *figure
}

var (
	_ starlark.HasAttrs       = (*Handle)(nil)
	_ sandbox.ArtifactSource = (*Handle)(nil)
)

// New returns an empty handle
func New(config Config) *Handle {
	if config.WidthInch <= 0 {
		config.WidthInch = DefaultWidthInch
	}
	if config.HeightInch <= 0 {
		config.HeightInch = DefaultHeightInch
	}
	if config.MaxFigures <= 0 {
		config.MaxFigures = DefaultMaxFigures
	}
	return &Handle{config: config}
}

// figure is one plot under construction
type figure struct {
	plot   *plot.Plot
	layers int
	legend bool
}

func (h *Handle) String() string        { return "<plt>" }
func (h *Handle) Type() string          { return "plt" }
func (h *Handle) Freeze()               {}
func (h *Handle) Truth() starlark.Bool  { return starlark.True }
func (h *Handle) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: plt") }

// Attr returns a plotting function bound to the handle
func (h *Handle) Attr(name string) (starlark.Value, error) {
	fn, ok := handleMethods[name]
	if !ok {
		return nil, nil
	}
	return fn.BindReceiver(h), nil
}

// AttrNames lists the plotting functions
func (h *Handle) AttrNames() []string {
	return methodNames
}

// Len returns the number of open figures
func (h *Handle) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.figures)
}

// Artifacts renders every open figure to PNG in creation order
func (h *Handle) Artifacts() ([]sandbox.Artifact, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := vg.Length(h.config.WidthInch) * vg.Inch
	ht := vg.Length(h.config.HeightInch) * vg.Inch

	artifacts := make([]sandbox.Artifact, 0, len(h.figures))
	for i, f := range h.figures {
		if f.legend {
			f.plot.Legend.Top = true
		}
		wt, err := f.plot.WriterTo(w, ht, "png")
		if err != nil {
			return nil, fmt.Errorf("failed to render figure %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if _, err := wt.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("failed to encode figure %d: %w", i+1, err)
		}
		artifacts = append(artifacts, sandbox.Artifact{
			Name:     fmt.Sprintf("figure-%d.png", i+1),
			MIMEType: "image/png",
			Data:     buf.Bytes(),
		})
	}
	return artifacts, nil
}

// Reset empties the registry
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.figures = nil
	h.current = nil
}

// open starts a new figure and makes it current
func (h *Handle) open() (*figure, error) {
	if len(h.figures) >= h.config.MaxFigures {
		return nil, fmt.Errorf("%w: at most %d per run", ErrTooManyFigures, h.config.MaxFigures)
	}
	f := &figure{plot: plot.New()}
	h.figures = append(h.figures, f)
	h.current = f
	return f, nil
}

// active returns the current figure, opening one when there is none
func (h *Handle) active() (*figure, error) {
	if h.current != nil {
		return h.current, nil
	}
	return h.open()
}

// add places a plotter on the active figure with the next palette color
func (h *Handle) add(label string, build func(f *figure) (plot.Plotter, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.active()
	if err != nil {
		return err
	}
	p, err := build(f)
	if err != nil {
		return err
	}
	f.plot.Add(p)
	f.layers++
	if label != "" {
		if thumb, ok := p.(plot.Thumbnailer); ok {
			f.plot.Legend.Add(label, thumb)
		}
	}
	return nil
}

// points pairs x and y, dropping pairs with a missing value
func points(x, y []float64) (plotter.XYs, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("x and y must have the same length, got %d and %d", len(x), len(y))
	}
	xys := make(plotter.XYs, 0, len(x))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xys = append(xys, plotter.XY{X: x[i], Y: y[i]})
	}
	if len(xys) == 0 {
		return nil, plotter.ErrNoData
	}
	return xys, nil
}

// withDefaultX treats a single sequence as y over its index
func withDefaultX(name string, a, b starlark.Value) (x, y []float64, err error) {
	if b == nil || b == starlark.None {
		if y, err = frame.Floats(a); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", name, err)
		}
		x = make([]float64, len(y))
		for i := range x {
			x[i] = float64(i)
		}
		return x, y, nil
	}
	if x, err = frame.Floats(a); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	if y, err = frame.Floats(b); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	return x, y, nil
}
