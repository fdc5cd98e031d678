package coord

// Bounds is the physical scan envelope. MinZ/MaxZ bound the expected
// probe travel, not the machine's full envelope.
type Bounds struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinY float64 `json:"minY"`
	MaxY float64 `json:"maxY"`
	MinZ float64 `json:"minZ"`
	MaxZ float64 `json:"maxZ"`
}

// SpanX returns the X extent of the envelope.
func (b Bounds) SpanX() float64 { return b.MaxX - b.MinX }

// SpanY returns the Y extent of the envelope.
func (b Bounds) SpanY() float64 { return b.MaxY - b.MinY }

// ContainsXY reports whether (x,y) falls inside the envelope.
func (b Bounds) ContainsXY(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}
