package level

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/gcode"
	"github.com/fluidcnc/autolevel/heightmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slopeMap rises 0.1mm Z per 1mm X over a 20x20 envelope.
func slopeMap() *heightmap.Map {
	pts := make([]coord.Point, 9)
	for i := range pts {
		x := float64(i%3) * 10
		y := float64(i/3) * 10
		pts[i] = coord.Point{X: x, Y: y, Z: x * 0.1}
	}
	return heightmap.Build(pts, 3, 3,
		coord.Bounds{MinX: 0, MaxX: 20, MinY: 0, MaxY: 20},
		heightmap.Spacing{X: 10, Y: 10})
}

func apply(t *testing.T, l *Leveler, prog string) []string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, l.Apply(strings.NewReader(prog), &buf))
	out := strings.Split(buf.String(), "\n")
	if len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

func TestLeveler_NoMap(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, heightmap.ErrNoMap)
}

func TestLeveler_PassthroughByteIdentical(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear})
	require.NoError(t, err)

	prog := []string{
		"; roughing pass",
		"",
		"G21 G90",
		"G0 X10 Y10 Z5",   // rapid: never compensated, even with Z
		"M3 S12000",
		"G1 X20 F600",     // cutting but no Z word
		"(tool 3)",
	}
	out := apply(t, l, strings.Join(prog, "\n"))
	require.Len(t, out, len(prog))
	for i := range prog {
		assert.Equal(t, prog[i], out[i], "line %d modified", i)
	}
}

func TestLeveler_CompensatesCuttingMove(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear})
	require.NoError(t, err)

	out := apply(t, l, "G90\nG0 X10 Y0\nG1 Z-2 F100")
	// surface at x=10 is +1.0
	assert.Equal(t, "G1 Z-1 F100", out[2])
}

func TestLeveler_ReplacesOnlyZField(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear})
	require.NoError(t, err)

	out := apply(t, l, "G90\nG1  X10   Y0  Z-2.0  F100 ; plunge")
	// spacing, comment, and every other word survive untouched
	assert.Equal(t, "G1  X10   Y0  Z-1  F100 ; plunge", out[1])
}

func TestLeveler_ModalCuttingMove(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear})
	require.NoError(t, err)

	// bare axis line under an active G1 still compensates
	out := apply(t, l, "G90\nG1 X0 Y0 F100\nX10 Z-2")
	assert.Equal(t, "X10 Z-1", out[2])
}

func TestLeveler_InchMode(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear})
	require.NoError(t, err)

	// X0.5in = 12.7mm, surface there is +1.27mm = 0.05in
	out := apply(t, l, "G20 G90\nG1 X0.5 Z-0.1 F10")
	assert.Equal(t, "G1 X0.5 Z-0.05 F10", out[1])
}

func TestLeveler_RelativeMode(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear})
	require.NoError(t, err)

	// two 10mm steps up the slope: each gets the correction delta
	out := apply(t, l, "G91\nG1 X10 Z0 F100\nG1 X10 Z0")
	assert.Equal(t, "G1 X10 Z1 F100", out[1])
	assert.Equal(t, "G1 X10 Z1", out[2])
}

func TestLeveler_Subdivision(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear, MaxSegment: 5})
	require.NoError(t, err)

	out := apply(t, l, "G90\nG1 X20 Y0 Z0 F100")
	// 20mm move at 5mm max: 4 segments, each independently corrected
	require.Len(t, out, 5)
	assert.Equal(t, "G90", out[0])
	assert.Equal(t, "G1X5Y0Z0.5F100", out[1])
	assert.Equal(t, "G1X10Y0Z1F100", out[2])
	assert.Equal(t, "G1X15Y0Z1.5F100", out[3])
	assert.Equal(t, "G1X20Y0Z2F100", out[4])
}

func TestLeveler_SubdivisionShortMoveSingle(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear, MaxSegment: 5})
	require.NoError(t, err)

	out := apply(t, l, "G90\nG1 X2 Y0 Z0 F100")
	require.Len(t, out, 2)
	assert.Equal(t, "G1 X2 Y0 Z0.2 F100", out[1])
}

func TestLeveler_ApplyLines(t *testing.T) {
	l, err := New(slopeMap(), Options{Scheme: heightmap.SchemeBilinear})
	require.NoError(t, err)

	lines, err := gcode.Parse("G90\nG0 X10 Y0\nG1 Z-2 F100")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, l.ApplyLines(&gcode.LinesReader{Lines: lines}, &buf))
	out := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, out, 3)
	assert.Equal(t, "G1 Z-1 F100", out[2])
}

func TestSplitMove(t *testing.T) {
	pts := SplitMove(coord.Point{}, coord.Point{X: 10}, 3)
	// ceil(10/3) = 4 segments
	require.Len(t, pts, 4)
	assert.Equal(t, coord.Point{X: 2.5}, pts[0])
	assert.Equal(t, coord.Point{X: 10}, pts[3])

	pts = SplitMove(coord.Point{}, coord.Point{X: 2}, 3)
	assert.Equal(t, []coord.Point{{X: 2}}, pts)
}

func TestLeveler_MeshOffsetter(t *testing.T) {
	mesh, err := heightmap.NewMesh([]coord.Point{
		{X: 0, Y: 0, Z: 0}, {X: 0, Y: 20, Z: 0},
		{X: 20, Y: 0, Z: 2}, {X: 20, Y: 20, Z: 2},
	})
	require.NoError(t, err)

	l := NewOffsetter(mesh, Options{})
	out := apply(t, l, "G90\nG1 X10 Y10 Z-1 F50")
	assert.Equal(t, "G1 X10 Y10 Z0 F50", out[1])

	// outside the triangulation the line is left alone
	out = apply(t, l, "G1 X300 Y300 Z-1")
	assert.Equal(t, "G1 X300 Y300 Z-1", out[0])
}
