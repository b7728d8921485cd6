package chart

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/isdmx/edabox/frame"
)

var (
	handleMethods map[string]*starlark.Builtin
	methodNames   []string
)

func init() {
	handleMethods = map[string]*starlark.Builtin{
		"figure":  starlark.NewBuiltin("figure", figureFn),
		"plot":    starlark.NewBuiltin("plot", plotFn),
		"scatter": starlark.NewBuiltin("scatter", scatterFn),
		"bar":     starlark.NewBuiltin("bar", barFn),
		"hist":    starlark.NewBuiltin("hist", histFn),
		"title":   starlark.NewBuiltin("title", labelFn(func(p *plot.Plot, s string) { p.Title.Text = s })),
		"xlabel":  starlark.NewBuiltin("xlabel", labelFn(func(p *plot.Plot, s string) { p.X.Label.Text = s })),
		"ylabel":  starlark.NewBuiltin("ylabel", labelFn(func(p *plot.Plot, s string) { p.Y.Label.Text = s })),
		"legend":  starlark.NewBuiltin("legend", legendFn),
		"close":   starlark.NewBuiltin("close", closeFn),
		"show":    starlark.NewBuiltin("show", noop),
		"savefig": starlark.NewBuiltin("savefig", noop),
	}
	for name := range handleMethods {
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
}

func receiver(b *starlark.Builtin) *Handle {
	return b.Receiver().(*Handle)
}

func figureFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var title string
	var figsize starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "title?", &title, "figsize?", &figsize); err != nil {
		return nil, err
	}
	h := receiver(b)
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.open()
	if err != nil {
		return nil, err
	}
	f.plot.Title.Text = title
	return starlark.MakeInt(len(h.figures)), nil
}

func plotFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a, c starlark.Value
	var label string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &a, "y?", &c, "label?", &label); err != nil {
		return nil, err
	}
	x, y, err := withDefaultX(b.Name(), a, c)
	if err != nil {
		return nil, err
	}
	xys, err := points(x, y)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, receiver(b).add(label, func(f *figure) (plot.Plotter, error) {
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		line.Color = plotutil.Color(f.layers)
		line.Width = vg.Points(1.5)
		return line, nil
	})
}

func scatterFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a, c starlark.Value
	var label string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &a, "y", &c, "label?", &label); err != nil {
		return nil, err
	}
	x, y, err := withDefaultX(b.Name(), a, c)
	if err != nil {
		return nil, err
	}
	xys, err := points(x, y)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, receiver(b).add(label, func(f *figure) (plot.Plotter, error) {
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		s.GlyphStyle.Color = plotutil.Color(f.layers)
		s.GlyphStyle.Shape = plotutil.Shape(f.layers)
		return s, nil
	})
}

// barFn draws one bar per category. Categories label the x axis; missing
// heights are drawn as zero.
func barFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cats, heights starlark.Value
	var label string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &cats, "height", &heights, "label?", &label); err != nil {
		return nil, err
	}
	names, err := categories(cats)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	values, err := frame.Floats(heights)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if len(names) != len(values) {
		return nil, fmt.Errorf("%s: x and height must have the same length, got %d and %d", b.Name(), len(names), len(values))
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", b.Name(), plotter.ErrNoData)
	}
	bars := make(plotter.Values, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			bars[i] = v
		}
	}

	return starlark.None, receiver(b).add(label, func(f *figure) (plot.Plotter, error) {
		chart, err := plotter.NewBarChart(bars, vg.Points(20))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		chart.Color = plotutil.Color(f.layers)
		f.plot.NominalX(names...)
		return chart, nil
	})
}

func histFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a starlark.Value
	bins := 10
	var label string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &a, "bins?", &bins, "label?", &label); err != nil {
		return nil, err
	}
	if bins < 1 {
		return nil, fmt.Errorf("%s: bins must be positive, got %d", b.Name(), bins)
	}
	raw, err := frame.Floats(a)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	values := make(plotter.Values, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", b.Name(), plotter.ErrNoData)
	}
	return starlark.None, receiver(b).add(label, func(f *figure) (plot.Plotter, error) {
		hist, err := plotter.NewHist(values, bins)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		hist.FillColor = plotutil.Color(f.layers)
		return hist, nil
	})
}

func labelFn(set func(*plot.Plot, string)) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var text string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &text); err != nil {
			return nil, err
		}
		h := receiver(b)
		h.mu.Lock()
		defer h.mu.Unlock()

		f, err := h.active()
		if err != nil {
			return nil, err
		}
		set(f.plot, text)
		return starlark.None, nil
	}
}

func legendFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	h := receiver(b)
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.active()
	if err != nil {
		return nil, err
	}
	f.legend = true
	return starlark.None, nil
}

// closeFn discards the current figure, or every figure with "all"
func closeFn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var which string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &which); err != nil {
		return nil, err
	}
	h := receiver(b)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case which == "all":
		h.figures = nil
	case which != "":
		return nil, fmt.Errorf("%s: unknown figure %q", b.Name(), which)
	case h.current != nil:
		for i, f := range h.figures {
			if f == h.current {
				h.figures = append(h.figures[:i], h.figures[i+1:]...)
				break
			}
		}
	}
	h.current = nil
	if n := len(h.figures); n > 0 && which != "all" {
		h.current = h.figures[n-1]
	}
	return starlark.None, nil
}

func noop(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	return starlark.None, nil
}

// categories renders bar positions as axis labels
func categories(v starlark.Value) ([]string, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("got %s, want a sequence of categories", v.Type())
	}
	iter := iterable.Iterate()
	defer iter.Done()

	var names []string
	var x starlark.Value
	for iter.Next(&x) {
		if s, ok := starlark.AsString(x); ok {
			names = append(names, s)
			continue
		}
		names = append(names, x.String())
	}
	return names, nil
}
