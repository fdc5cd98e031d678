package coord

import (
	"math"
)

// MMPerInch converts inch-mode program coordinates to millimeters.
const MMPerInch = 25.4

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point) Cross(op Point) Point {
	return Point{
		X: p.Y*op.Z - p.Z*op.Y,
		Y: p.Z*op.X - p.X*op.Z,
		Z: p.X*op.Y - p.Y*op.X,
	}
}

func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}

func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	return p
}

func (p Point) Div(val float64) Point {
	p.X /= val
	p.Y /= val
	p.Z /= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// Split will return n evenly spaced points from p to the target,
// ending at the target. With relative set, each point is the
// per-segment delta instead of an absolute position.
func (p Point) Split(target Point, n int, relative bool) []Point {
	step := target.Sub(p).Div(float64(n))

	res := make([]Point, n)
	for i := range res {
		if relative {
			res[i] = step
		} else {
			res[i] = p.Add(step.Mul(float64(i + 1)))
		}
	}

	return res
}

// DistanceXY will return the 2D distance to p from (x,y).
func (p Point) DistanceXY(x, y float64) float64 {
	return math.Sqrt(math.Pow(x-p.X, 2) + math.Pow(y-p.Y, 2))
}
