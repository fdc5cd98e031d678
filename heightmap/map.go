// Package heightmap assembles probed points into a rectangular height
// grid and answers interpolated height queries against it.
//
// A Map is immutable once built and safe to share across readers.
package heightmap

import (
	"github.com/fluidcnc/autolevel/coord"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Spacing struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Map struct {
	// Data is row-major: Data[row*Cols+col]. Heights are millimeters.
	Data []float64 `json:"data"`
	Cols int       `json:"cols"`
	Rows int       `json:"rows"`

	MinZ  float64 `json:"minZ"`
	MaxZ  float64 `json:"maxZ"`
	AvgZ  float64 `json:"avgZ"`
	Range float64 `json:"range"`

	Bounds  coord.Bounds `json:"bounds"`
	Spacing Spacing      `json:"spacing"`

	// Sampled counts the cells filled from real measurements. When a
	// scan ends early the trailing cells are zero-filled and Sampled
	// is less than Cols*Rows.
	Sampled int `json:"sampled"`
}

// Build lays points into a cols×rows row-major grid in sequence order.
// The caller supplies points already in raster row-major order; any
// trailing cells without a sample are zero-filled. Statistics cover
// the real samples only.
func Build(points []coord.Point, cols, rows int, b coord.Bounds, sp Spacing) *Map {
	m := &Map{
		Data:    make([]float64, cols*rows),
		Cols:    cols,
		Rows:    rows,
		Bounds:  b,
		Spacing: sp,
	}

	n := len(points)
	if n > cols*rows {
		n = cols * rows
	}
	m.Sampled = n

	if n == 0 {
		return m
	}

	zs := make([]float64, n)
	for i := 0; i < n; i++ {
		m.Data[i] = points[i].Z
		zs[i] = points[i].Z
	}

	m.MinZ = floats.Min(zs)
	m.MaxZ = floats.Max(zs)
	m.AvgZ = stat.Mean(zs, nil)
	m.Range = m.MaxZ - m.MinZ

	return m
}

// Complete reports whether every cell holds a real measurement.
func (m *Map) Complete() bool { return m.Sampled == m.Cols*m.Rows }

// At returns the stored sample at a cell, with indices clamped to the
// grid edges.
func (m *Map) At(col, row int) float64 {
	col = clampIndex(col, m.Cols)
	row = clampIndex(row, m.Rows)
	return m.Data[row*m.Cols+col]
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
