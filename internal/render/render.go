// Package render draws the LEDs of sampled frames as a colored scatter plot,
// which is what the eye sees over one rotation of the fan.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/cjeanneret/povfan/internal/logic/fan"
)

// ErrNoPoints is returned when a plot is built before any frame was added.
var ErrNoPoints = errors.New("render: no LED positions recorded")

// Options tunes the output.
type Options struct {
	Title      string    // appended to "1 Rotation"
	MaxRadius  float64   // axis half-range (cm); 0 fits the recorded points
	MarkerSize vg.Length // glyph radius; 0 means 1pt
	Size       vg.Length // side of the square image; 0 means 6in
}

// RotationPlot accumulates LED positions and colors from sampled frames.
type RotationPlot struct {
	xys    plotter.XYs
	colors []color.Color
	maxR   float64
}

// NewRotationPlot returns an empty plot.
func NewRotationPlot() *RotationPlot {
	return &RotationPlot{}
}

// Add records every placed LED of f. Its signature matches the scan visitor.
func (r *RotationPlot) Add(f fan.Frame) error {
	for _, b := range f.Blades {
		for k, p := range b.Positions {
			c := b.Colors[k]
			r.xys = append(r.xys, plotter.XY{X: p.X, Y: p.Y})
			r.colors = append(r.colors, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
			r.maxR = math.Max(r.maxR, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		}
	}
	return nil
}

// Len returns the number of recorded points.
func (r *RotationPlot) Len() int { return len(r.xys) }

// Plot builds the scatter plot.
func (r *RotationPlot) Plot(opts Options) (*plot.Plot, error) {
	if len(r.xys) == 0 {
		return nil, ErrNoPoints
	}

	sc, err := plotter.NewScatter(r.xys)
	if err != nil {
		return nil, fmt.Errorf("render: scatter: %w", err)
	}
	radius := opts.MarkerSize
	if radius <= 0 {
		radius = vg.Points(1)
	}
	sc.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{Color: r.colors[i], Radius: radius, Shape: draw.CircleGlyph{}}
	}

	p := plot.New()
	p.Title.Text = "1 Rotation"
	if opts.Title != "" {
		p.Title.Text += " - " + opts.Title
	}
	p.X.Label.Text = "x (cm)"
	p.Y.Label.Text = "y (cm)"
	p.Add(sc)

	lim := opts.MaxRadius
	if lim <= 0 {
		lim = r.maxR
	}
	if lim <= 0 {
		lim = 1
	}
	p.X.Min, p.X.Max = -lim, lim
	p.Y.Min, p.Y.Max = -lim, lim
	return p, nil
}

// Save writes the plot to path. The format follows the extension
// (png, svg, pdf, jpg, ...).
func (r *RotationPlot) Save(path string, opts Options) error {
	p, err := r.Plot(opts)
	if err != nil {
		return err
	}
	size := opts.Size
	if size <= 0 {
		size = 6 * vg.Inch
	}
	if err := p.Save(size, size, path); err != nil {
		return fmt.Errorf("render: save %s: %w", path, err)
	}
	return nil
}
