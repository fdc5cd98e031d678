package heightmap

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/grid"
)

// ErrMalformedImport is returned when an imported document is missing
// its heightMap object.
var ErrMalformedImport = errors.New("height map document: missing heightMap")

// ErrNoMap is returned by consumers invoked before a scan has
// produced a height map.
var ErrNoMap = errors.New("no height map available")

const DocumentVersion = 1

// ScanConfig records how a map was scanned, for later inspection.
type ScanConfig struct {
	Bounds   coord.Bounds `json:"bounds"`
	Grid     grid.Config  `json:"grid"`
	FeedRate float64      `json:"feedRate,omitempty"`
	TravelZ  float64      `json:"travelZ,omitempty"`
}

// Document is the persisted/exchanged form of a finished scan.
type Document struct {
	Version   int           `json:"version"`
	Created   time.Time     `json:"created"`
	SessionID string        `json:"sessionId,omitempty"`
	HeightMap *Map          `json:"heightMap"`
	RawPoints []coord.Point `json:"rawPoints"`
	Config    *ScanConfig   `json:"config,omitempty"`
}

// NewDocument wraps a built map for export.
func NewDocument(m *Map, raw []coord.Point, cfg *ScanConfig) *Document {
	return &Document{
		Version:   DocumentVersion,
		Created:   time.Now().UTC(),
		HeightMap: m,
		RawPoints: raw,
		Config:    cfg,
	}
}

// Export writes the document as JSON.
func (d *Document) Export(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Import reads a document, rejecting input without a heightMap rather
// than returning a partially-initialized map.
func Import(r io.Reader) (*Document, error) {
	var d Document
	err := json.NewDecoder(r).Decode(&d)
	if err != nil {
		return nil, err
	}
	if d.HeightMap == nil {
		return nil, ErrMalformedImport
	}
	return &d, nil
}
