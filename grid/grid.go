// Package grid plans the ordered (x,y) sample targets for a surface scan.
package grid

import (
	"math"

	"github.com/fluidcnc/autolevel/coord"
)

type Pattern string

const (
	PatternRaster Pattern = "raster"
	PatternZigzag Pattern = "zigzag"
	PatternSpiral Pattern = "spiral"
)

type Config struct {
	SpacingX float64 `json:"spacingX"`
	SpacingY float64 `json:"spacingY"`
	Pattern  Pattern `json:"pattern"`
}

// Target is one planned sample position with its cell in the grid.
type Target struct {
	X, Y     float64
	Col, Row int
}

// axisSteps returns the number of samples along one axis. A zero or
// negative span (or spacing) degenerates to a single sample.
func axisSteps(span, spacing float64) int {
	if span <= 0 || spacing <= 0 {
		return 1
	}
	return int(math.Ceil(span/spacing)) + 1
}

// Compute returns the ordered sample targets for the envelope. The last
// row/column is clamped to the envelope's max so sampling never
// exceeds it.
func Compute(b coord.Bounds, cfg Config) (targets []Target, cols, rows int) {
	cols = axisSteps(b.SpanX(), cfg.SpacingX)
	rows = axisSteps(b.SpanY(), cfg.SpacingY)

	at := func(col, row int) Target {
		return Target{
			X:   math.Min(b.MinX+float64(col)*cfg.SpacingX, b.MaxX),
			Y:   math.Min(b.MinY+float64(row)*cfg.SpacingY, b.MaxY),
			Col: col, Row: row,
		}
	}

	targets = make([]Target, 0, cols*rows)
	switch cfg.Pattern {
	case PatternSpiral:
		targets = spiral(targets, at, cols, rows)
	case PatternZigzag:
		for row := 0; row < rows; row++ {
			for i := 0; i < cols; i++ {
				col := i
				if row%2 != 0 {
					col = cols - 1 - i
				}
				targets = append(targets, at(col, row))
			}
		}
	default: // raster
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				targets = append(targets, at(col, row))
			}
		}
	}

	return targets, cols, rows
}

// spiral walks outward from the center cell in unit steps, cycling
// right, up, left, down and lengthening the legs every two turns.
// Cells outside the grid are skipped; the walk ends once every cell
// has been visited.
func spiral(targets []Target, at func(col, row int) Target, cols, rows int) []Target {
	total := cols * rows
	col, row := cols/2, rows/2
	targets = append(targets, at(col, row))

	dirs := [4][2]int{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}
	leg := 1
	for len(targets) < total {
		for d := 0; d < 4 && len(targets) < total; d++ {
			for s := 0; s < leg && len(targets) < total; s++ {
				col += dirs[d][0]
				row += dirs[d][1]
				if col < 0 || col >= cols || row < 0 || row >= rows {
					continue
				}
				targets = append(targets, at(col, row))
			}
			if d%2 == 1 {
				leg++
			}
		}
	}

	return targets
}
