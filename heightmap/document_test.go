package heightmap

import (
	"bytes"
	"image/color"
	"strings"
	"testing"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_RoundTrip(t *testing.T) {
	m := grid3x3()
	raw := []coord.Point{{X: 0, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 1}}
	doc := NewDocument(m, raw, &ScanConfig{
		Bounds: m.Bounds,
		Grid:   grid.Config{SpacingX: 10, SpacingY: 10, Pattern: grid.PatternZigzag},
	})

	var buf bytes.Buffer
	require.NoError(t, doc.Export(&buf))

	in, err := Import(&buf)
	require.NoError(t, err)

	assert.Equal(t, doc.HeightMap, in.HeightMap)
	assert.Equal(t, doc.RawPoints, in.RawPoints)
	assert.Equal(t, doc.Config, in.Config)
	assert.Equal(t, DocumentVersion, in.Version)
	assert.True(t, doc.Created.Equal(in.Created))
}

func TestImport_MissingHeightMap(t *testing.T) {
	_, err := Import(strings.NewReader(`{"version":1,"rawPoints":[]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedImport)
}

func TestImport_Garbage(t *testing.T) {
	_, err := Import(strings.NewReader(`{not json`))
	assert.Error(t, err)
}

func TestGray_FlipsRows(t *testing.T) {
	// two rows: low-Y row z=0, high-Y row z=1
	pts := []coord.Point{{Z: 0}, {Y: 10, Z: 1}}
	m := Build(pts, 1, 2, coord.Bounds{MaxY: 10}, Spacing{X: 10, Y: 10})

	img := m.Gray()
	require.Equal(t, 1, img.Bounds().Dx())
	require.Equal(t, 2, img.Bounds().Dy())

	// lowest-Y row renders at the bottom
	assert.Equal(t, color.Gray{Y: 0}, img.GrayAt(0, 1))
	assert.Equal(t, color.Gray{Y: 255}, img.GrayAt(0, 0))
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, grid3x3().WritePNG(&buf))
	assert.Equal(t, "\x89PNG", buf.String()[:4])
}

func TestGray_FlatSurface(t *testing.T) {
	pts := []coord.Point{{Z: 3}, {Z: 3}, {Z: 3}, {Z: 3}}
	m := Build(pts, 2, 2, coord.Bounds{MaxX: 1, MaxY: 1}, Spacing{X: 1, Y: 1})

	// zero range must not divide by zero
	img := m.Gray()
	assert.Equal(t, color.Gray{Y: 0}, img.GrayAt(0, 0))
}
