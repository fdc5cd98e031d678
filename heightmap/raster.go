package heightmap

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
)

// Gray renders the map as an 8-bit grayscale raster, heights
// normalized (z-minZ)/range into [0,255]. Row order is flipped so the
// lowest-Y row renders at the bottom of the image.
func (m *Map) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Cols, m.Rows))
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			var v float64
			if m.Range > 0 {
				v = (m.Data[row*m.Cols+col] - m.MinZ) / m.Range * 255
			}
			img.SetGray(col, m.Rows-1-row, color.Gray{Y: uint8(math.Round(v))})
		}
	}
	return img
}

// WritePNG encodes the grayscale raster as PNG.
func (m *Map) WritePNG(w io.Writer) error {
	return png.Encode(w, m.Gray())
}
