package heightmap

import (
	"math"
)

// Scheme selects the surface reconstruction used by HeightAt.
type Scheme string

const (
	SchemeNearest  Scheme = "nearest"
	SchemeBilinear Scheme = "bilinear"
	SchemeBicubic  Scheme = "bicubic"
)

// An Offsetter answers the Z correction for a physical (x,y).
type Offsetter interface {
	OffsetZ(x, y float64) (bool, float64)
}

// gridCoord converts a physical coordinate into grid space, clamped
// into [0, n-1].
func gridCoord(v, min, spacing float64, n int) float64 {
	if n <= 1 || spacing <= 0 {
		return 0
	}
	g := (v - min) / spacing
	return math.Min(math.Max(g, 0), float64(n-1))
}

// HeightAt returns the surface height at physical (x,y) using the
// given reconstruction scheme. Coordinates outside the scanned area
// are clamped onto its edge.
func (m *Map) HeightAt(x, y float64, s Scheme) float64 {
	gx := gridCoord(x, m.Bounds.MinX, m.Spacing.X, m.Cols)
	gy := gridCoord(y, m.Bounds.MinY, m.Spacing.Y, m.Rows)

	switch s {
	case SchemeBicubic:
		return m.bicubic(gx, gy)
	case SchemeNearest:
		return m.At(int(math.Round(gx)), int(math.Round(gy)))
	default:
		return m.bilinear(gx, gy)
	}
}

func (m *Map) bilinear(gx, gy float64) float64 {
	x0 := int(math.Floor(gx))
	y0 := int(math.Floor(gy))
	xf := gx - float64(x0)
	yf := gy - float64(y0)

	z00 := m.At(x0, y0)
	z10 := m.At(x0+1, y0)
	z01 := m.At(x0, y0+1)
	z11 := m.At(x0+1, y0+1)

	z0 := z00 + (z10-z00)*xf
	z1 := z01 + (z11-z01)*xf
	return z0 + (z1-z0)*yf
}

// catmullRom evaluates the standard Catmull-Rom cubic through p1..p2
// at t in [0,1].
func catmullRom(p0, p1, p2, p3, t float64) float64 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * (2*p1 +
		(-p0+p2)*t +
		(2*p0-5*p1+4*p2-p3)*t2 +
		(-p0+3*p1-3*p2+p3)*t3)
}

// bicubic is separable Catmull-Rom with clamped edge addressing.
func (m *Map) bicubic(gx, gy float64) float64 {
	x0 := int(math.Floor(gx))
	y0 := int(math.Floor(gy))
	xf := gx - float64(x0)
	yf := gy - float64(y0)

	var col [4]float64
	for i := 0; i < 4; i++ {
		row := y0 - 1 + i
		col[i] = catmullRom(
			m.At(x0-1, row),
			m.At(x0, row),
			m.At(x0+1, row),
			m.At(x0+2, row),
			xf,
		)
	}

	return catmullRom(col[0], col[1], col[2], col[3], yf)
}

type schemeOffsetter struct {
	m *Map
	s Scheme
}

func (o schemeOffsetter) OffsetZ(x, y float64) (bool, float64) {
	return true, o.m.HeightAt(x, y, o.s)
}

// Offsetter adapts the map to the Offsetter interface with a fixed
// scheme. Queries are always answered; out-of-area points clamp to
// the scanned edge.
func (m *Map) Offsetter(s Scheme) Offsetter {
	return schemeOffsetter{m: m, s: s}
}
