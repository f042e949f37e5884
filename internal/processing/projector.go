package processing

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// Reduction selects how integration mode folds a sensor's window into one
// intensity.
type Reduction int

const (
	ReduceMean Reduction = iota
	ReduceSum
)

func (r Reduction) String() string {
	switch r {
	case ReduceMean:
		return "mean"
	case ReduceSum:
		return "sum"
	default:
		return fmt.Sprintf("Reduction(%d)", int(r))
	}
}

func ParseReduction(s string) (Reduction, error) {
	switch s {
	case "", "mean":
		return ReduceMean, nil
	case "sum":
		return ReduceSum, nil
	default:
		return 0, fmt.Errorf("processing: unknown reduction %q", s)
	}
}

// ColorScale maps intensities onto the Kindlmann scale over a fixed range.
// Luminance rises with intensity from black to white. Values outside the range are clamped, so equal intensities always get
// equal colours no matter what else is on screen.
type ColorScale struct {
	cmap palette.ColorMap
}

func NewColorScale(lo, hi float64) *ColorScale {
	if !(hi > lo) {
		hi = lo + 1
	}
	cmap := moreland.Kindlmann()
	cmap.SetMin(lo)
	cmap.SetMax(hi)
	return &ColorScale{cmap: cmap}
}

func (c *ColorScale) Min() float64 { return c.cmap.Min() }
func (c *ColorScale) Max() float64 { return c.cmap.Max() }

func (c *ColorScale) At(v float64) color.RGBA {
	lo, hi := c.cmap.Min(), c.cmap.Max()
	switch {
	case math.IsNaN(v), v < lo:
		v = lo
	case v > hi:
		v = hi
	}

	col, err := c.cmap.At(v)
	if err != nil {
		// only reachable through rounding at the ends of the scale
		return color.RGBA{A: 0xff}
	}
	return color.RGBAModel.Convert(col).(color.RGBA)
}

// Palette returns n evenly spaced colours of the scale, for renderers that
// want a discrete legend.
func (c *ColorScale) Palette(n int) palette.Palette {
	return c.cmap.Palette(n)
}

// Grid is the spatial intensity map. Rows run along y and columns along x,
// starting at the lower corner of the topology bounds. Grid satisfies
// gonum/plot's plotter.GridXYZ.
type Grid struct {
	OriginX int
	OriginY int
	data    *mat.Dense
}

func (g *Grid) Dims() (c, r int) {
	if g.data == nil {
		return 0, 0
	}
	r, c = g.data.Dims()
	return c, r
}

func (g *Grid) Z(c, r int) float64 { return g.data.At(r, c) }
func (g *Grid) X(c int) float64    { return float64(g.OriginX + c) }
func (g *Grid) Y(r int) float64    { return float64(g.OriginY + r) }

// At returns the cell at sensor coordinate (x, y); anything outside the grid
// reads as zero.
func (g *Grid) At(x, y int) float64 {
	cols, rows := g.Dims()
	c, r := x-g.OriginX, y-g.OriginY
	if c < 0 || r < 0 || c >= cols || r >= rows {
		return 0
	}
	return g.data.At(r, c)
}

// Matrix exposes the raw cells, nil when the topology is empty.
func (g *Grid) Matrix() mat.Matrix {
	if g.data == nil {
		return nil
	}
	return g.data
}

// Scatter holds one point per topology sensor in sensor index order.
// It satisfies gonum/plot's plotter.XYer.
type Scatter struct {
	Sensors   []int
	X         []float64
	Y         []float64
	Intensity []float64
	Color     []color.RGBA
}

func (s Scatter) Len() int                { return len(s.Sensors) }
func (s Scatter) XY(i int) (x, y float64) { return s.X[i], s.Y[i] }

// Projector derives the visual artefacts from buffered samples. It holds no
// mutable state.
type Projector struct {
	reduction Reduction
	colors    *ColorScale
}

func NewProjector(reduction Reduction, colors *ColorScale) *Projector {
	if colors == nil {
		colors = NewColorScale(0, 1)
	}
	return &Projector{
		reduction: reduction,
		colors:    colors,
	}
}

func (p *Projector) Colors() *ColorScale { return p.colors }

// Aggregate reduces one sensor's window: the newest value when streaming, the
// configured reduction over the whole window when integrating. An empty
// window aggregates to zero.
func (p *Projector) Aggregate(window []float64, integration bool) float64 {
	if len(window) == 0 {
		return 0
	}
	if !integration {
		return window[len(window)-1]
	}
	if p.reduction == ReduceSum {
		return floats.Sum(window)
	}
	return stat.Mean(window, nil)
}

func (p *Projector) intensities(buf *SampleBuffer, topo *SensorTopology, integration bool) []float64 {
	windows := buf.SnapshotAll()
	out := make([]float64, topo.Len())
	for sensor := range out {
		if sensor < len(windows) {
			out[sensor] = p.Aggregate(windows[sensor], integration)
		}
	}
	return out
}

// ProjectMap lays the aggregated intensities onto a grid spanning the
// topology bounds. Cells without a sensor stay zero.
func (p *Projector) ProjectMap(buf *SampleBuffer, topo *SensorTopology, integration bool) *Grid {
	if topo.Len() == 0 {
		return &Grid{}
	}

	minX, minY, maxX, maxY := topo.Bounds()
	g := &Grid{
		OriginX: minX,
		OriginY: minY,
		data:    mat.NewDense(maxY-minY+1, maxX-minX+1, nil),
	}
	for sensor, v := range p.intensities(buf, topo, integration) {
		c := topo.coords[sensor]
		g.data.Set(c.Y-minY, c.X-minX, v)
	}
	return g
}

func (p *Projector) ProjectScatter(buf *SampleBuffer, topo *SensorTopology, integration bool) Scatter {
	values := p.intensities(buf, topo, integration)
	s := Scatter{
		Sensors:   make([]int, len(values)),
		X:         make([]float64, len(values)),
		Y:         make([]float64, len(values)),
		Intensity: values,
		Color:     make([]color.RGBA, len(values)),
	}
	for sensor, v := range values {
		c := topo.coords[sensor]
		s.Sensors[sensor] = sensor
		s.X[sensor] = float64(c.X)
		s.Y[sensor] = float64(c.Y)
		s.Color[sensor] = p.colors.At(v)
	}
	return s
}
