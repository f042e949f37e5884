package main

import (
	"errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	_ "gonum.org/v1/plot/vg/vgimg" // png

	"sleepywoodpecker/rtgraph/internal/processing"
)

const PLOT_SIZE = 5 * vg.Inch
const PALETTE_COLORS = 256

var errNothingToRender = errors.New("no sensors to render")

func renderMap(grid *processing.Grid, colors *processing.ColorScale, path string) error {
	if c, r := grid.Dims(); c == 0 || r == 0 {
		return errNothingToRender
	}

	pal := colors.Palette(PALETTE_COLORS)
	hm := plotter.NewHeatMap(grid, pal)
	hm.Min, hm.Max = colors.Min(), colors.Max()
	hm.Underflow = pal.Colors()[0]
	hm.Overflow = pal.Colors()[len(pal.Colors())-1]

	p := plot.New()
	p.Title.Text = "Intensity map"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(hm)

	return p.Save(PLOT_SIZE, PLOT_SIZE, path)
}

func renderScatter(scatter processing.Scatter, colors *processing.ColorScale, path string) error {
	if scatter.Len() == 0 {
		return errNothingToRender
	}

	points, err := plotter.NewScatter(scatter)
	if err != nil {
		return err
	}
	points.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  scatter.Color[i],
			Radius: glyphRadius(scatter.Intensity[i], colors),
			Shape:  draw.CircleGlyph{},
		}
	}

	p := plot.New()
	p.Title.Text = "Sensors"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(points)

	return p.Save(PLOT_SIZE, PLOT_SIZE, path)
}

// glyphRadius grows the marker with intensity across the colour range.
func glyphRadius(v float64, colors *processing.ColorScale) vg.Length {
	const minRadius, maxRadius = 2, 12

	frac := (v - colors.Min()) / (colors.Max() - colors.Min())
	frac = max(0, min(1, frac))
	return vg.Points(minRadius + frac*(maxRadius-minRadius))
}
