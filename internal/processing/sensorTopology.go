package processing

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MAX_GRID_CELLS bounds the intensity map a topology may span.
const MAX_GRID_CELLS = 1 << 20

type Coordinate struct {
	X int
	Y int
}

// SensorTopology maps sensor indices to positions on the sensing surface. It
// is immutable once built; reconfiguration swaps in a whole new value.
type SensorTopology struct {
	coords     []Coordinate // indexed by sensor
	duplicates int
	minX, minY int
	maxX, maxY int
}

// NewSensorTopology builds a topology from three parallel sequences, one entry
// per sensor. Rows repeating a sensor index overwrite the earlier row. After
// de-duplication the indices must cover 0..n-1 without gaps, and the
// bounding box of the positions must fit in MAX_GRID_CELLS.
func NewSensorTopology(xs, ys, indices []int) (*SensorTopology, error) {
	if len(xs) != len(ys) || len(xs) != len(indices) {
		return nil, fmt.Errorf("%w: %d x, %d y and %d index values", ErrTopologyMismatch, len(xs), len(ys), len(indices))
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: no sensors", ErrTopologyMismatch)
	}

	byIndex := make(map[int]Coordinate, len(indices))
	duplicates := 0
	for i, idx := range indices {
		if idx < 0 {
			return nil, fmt.Errorf("%w: row %d has negative sensor index %d", ErrTopologyMismatch, i, idx)
		}
		if _, ok := byIndex[idx]; ok {
			duplicates++
		}
		byIndex[idx] = Coordinate{X: xs[i], Y: ys[i]}
	}

	t := &SensorTopology{
		coords:     make([]Coordinate, len(byIndex)),
		duplicates: duplicates,
	}
	for idx, c := range byIndex {
		if idx >= len(t.coords) {
			return nil, fmt.Errorf("%w: sensor index %d leaves a gap in 0..%d", ErrTopologyMismatch, idx, len(t.coords)-1)
		}
		t.coords[idx] = c
	}

	t.minX, t.minY = t.coords[0].X, t.coords[0].Y
	t.maxX, t.maxY = t.minX, t.minY
	for _, c := range t.coords[1:] {
		t.minX, t.maxX = min(t.minX, c.X), max(t.maxX, c.X)
		t.minY, t.maxY = min(t.minY, c.Y), max(t.maxY, c.Y)
	}

	// float64 so that far apart coordinates cannot overflow
	cells := (float64(t.maxX) - float64(t.minX) + 1) * (float64(t.maxY) - float64(t.minY) + 1)
	if cells > MAX_GRID_CELLS {
		return nil, fmt.Errorf("%w: positions span %.0f grid cells, at most %d allowed", ErrTopologyMismatch, cells, MAX_GRID_CELLS)
	}

	return t, nil
}

func (t *SensorTopology) CoordinateOf(sensor int) (Coordinate, error) {
	if !t.Has(sensor) {
		return Coordinate{}, fmt.Errorf("%w: %d", ErrUnknownSensor, sensor)
	}
	return t.coords[sensor], nil
}

func (t *SensorTopology) Has(sensor int) bool {
	return t != nil && sensor >= 0 && sensor < len(t.coords)
}

// Len is the number of sensors; a nil topology has none.
func (t *SensorTopology) Len() int {
	if t == nil {
		return 0
	}
	return len(t.coords)
}

// Duplicates counts input rows that were overwritten by a later row for the
// same sensor.
func (t *SensorTopology) Duplicates() int {
	if t == nil {
		return 0
	}
	return t.duplicates
}

// Bounds returns the inclusive bounding box of all sensor positions.
func (t *SensorTopology) Bounds() (minX, minY, maxX, maxY int) {
	return t.minX, t.minY, t.maxX, t.maxY
}

// ReadTopology parses rows of "x y sensor_index". Blank lines and lines
// starting with '#' are skipped; commas are accepted as separators.
func ReadTopology(r io.Reader) (xs, ys, indices []int, err error) {
	scanner := bufio.NewScanner(r)
	row := 0
	for scanner.Scan() {
		row++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) != 3 {
			return nil, nil, nil, fmt.Errorf("%w: row %d has %d columns, want 3", ErrTopologyMismatch, row, len(fields))
		}

		var values [3]int
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%w: row %d: %v", ErrTopologyMismatch, row, err)
			}
			values[i] = v
		}
		xs = append(xs, values[0])
		ys = append(ys, values[1])
		indices = append(indices, values[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("reading topology: %w", err)
	}
	return xs, ys, indices, nil
}
