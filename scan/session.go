// Package scan orchestrates a full surface scan: plan the grid, probe
// every target, and publish the finished height map.
package scan

import (
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/grid"
	"github.com/fluidcnc/autolevel/heightmap"
	"github.com/fluidcnc/autolevel/probe"
)

var ErrAlreadyScanning = errors.New("scan already running")

// ErrNoHeightMap aliases the shared sentinel for callers that only
// import this package.
var ErrNoHeightMap = heightmap.ErrNoMap

type State int

const (
	Idle State = iota
	Scanning
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the session has settled.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

type Config struct {
	Bounds coord.Bounds
	Grid   grid.Config
	Probe  probe.Options
}

// Event is an immutable progress snapshot published to observers.
type Event struct {
	SessionID string      `json:"sessionId"`
	State     string      `json:"state"`
	Index     int         `json:"index"` // points completed
	Total     int         `json:"total"`
	Percent   float64     `json:"percent"`
	Point     coord.Point `json:"point"` // last measured point
	Error     string      `json:"error,omitempty"`
}

// Snapshot is the inspectable session state, including the partially
// collected points of a cancelled or failed scan.
type Snapshot struct {
	ID      string
	State   State
	Index   int
	Total   int
	Percent float64
	Points  []coord.Point
	Err     error
}

// Session owns one scan at a time. The probed-point buffer belongs
// exclusively to the scan loop while scanning; observers only ever see
// copies.
type Session struct {
	c probe.Controller

	mu      sync.Mutex
	id      uuid.UUID
	state   State
	cfg     Config
	targets []grid.Target
	cols    int
	rows    int
	points  []coord.Point
	m       *heightmap.Map
	err     error
	cancel  chan struct{}
	done    chan struct{}

	events chan Event
}

func New(c probe.Controller) *Session {
	return &Session{
		c:      c,
		state:  Idle,
		events: make(chan Event, 16),
	}
}

// Events returns the progress stream. Events are dropped, not
// blocked on, when no one is reading.
func (s *Session) Events() <-chan Event { return s.events }

// Start computes the grid and launches the scan loop. It is rejected
// while a scan is running or without a controller connection.
func (s *Session) Start(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Scanning {
		return ErrAlreadyScanning
	}
	if !s.c.Connected() {
		return probe.ErrNotConnected
	}

	targets, cols, rows := grid.Compute(cfg.Bounds, cfg.Grid)

	s.id = uuid.New()
	s.cfg = cfg
	s.targets = targets
	s.cols, s.rows = cols, rows
	s.points = nil
	s.m = nil
	s.err = nil
	s.state = Scanning
	s.cancel = make(chan struct{})
	s.done = make(chan struct{})

	go s.run()
	return nil
}

// Cancel requests a stop. The feed hold goes out immediately,
// regardless of where in the probe cycle the loop is; the recovery
// sub-sequence runs once the cycle unwinds.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state != Scanning {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.cancel:
	default:
		close(s.cancel)
	}
	s.mu.Unlock()

	if err := s.c.Realtime(probe.RTFeedHold); err != nil {
		log.Printf("ERROR: cancel feed hold: %+v", err)
	}
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Session) cancelled() bool {
	select {
	case <-s.cancel:
		return true
	default:
		return false
	}
}

func (s *Session) run() {
	seq := probe.NewSequencer(s.c, s.cfg.Probe)

	var failure error
	for _, tg := range s.targets {
		if s.cancelled() {
			break
		}

		z, err := seq.Probe(tg.X, tg.Y)
		if err != nil {
			// recovery already ran inside the sequencer; the scan is
			// fail-fast with no per-point retry
			failure = err
			break
		}

		p := coord.Point{X: tg.X, Y: tg.Y, Z: z}
		s.mu.Lock()
		s.points = append(s.points, p)
		n := len(s.points)
		s.mu.Unlock()
		s.emit(Scanning, n, p, nil)
	}

	s.finish(failure)
}

func (s *Session) finish(failure error) {
	// recovery is part of the transition, not the caller's job. It
	// runs before the lock is taken so observers are not blocked
	// behind the settle delay. A cycle that failed under the hold
	// already recovered inside the sequencer.
	if s.cancelled() && failure == nil {
		if err := probe.NewSequencer(s.c, s.cfg.Probe).Recover(); err != nil {
			log.Printf("ERROR: recover after cancel: %+v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.cancelled():
		s.state = Cancelled
	case failure != nil:
		s.state = Failed
		s.err = failure
	default:
		s.m = s.buildLocked()
		s.state = Completed
	}

	close(s.done)

	var last coord.Point
	if len(s.points) > 0 {
		last = s.points[len(s.points)-1]
	}
	s.emit(s.state, len(s.points), last, s.err)
}

// buildLocked reorders the scan-order samples into raster row-major
// before building, undoing any zigzag or spiral traversal.
func (s *Session) buildLocked() *heightmap.Map {
	ordered := make([]coord.Point, s.cols*s.rows)
	for i, tg := range s.targets {
		ordered[tg.Row*s.cols+tg.Col] = s.points[i]
	}
	return heightmap.Build(ordered, s.cols, s.rows, s.cfg.Bounds, heightmap.Spacing{
		X: s.cfg.Grid.SpacingX,
		Y: s.cfg.Grid.SpacingY,
	})
}

func (s *Session) emit(st State, n int, p coord.Point, err error) {
	ev := Event{
		SessionID: s.id.String(),
		State:     st.String(),
		Index:     n,
		Total:     len(s.targets),
		Point:     p,
	}
	if len(s.targets) > 0 {
		ev.Percent = float64(n) / float64(len(s.targets)) * 100
	}
	if err != nil {
		ev.Error = err.Error()
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Snapshot returns an immutable copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:     s.id.String(),
		State:  s.state,
		Index:  len(s.points),
		Total:  len(s.targets),
		Points: append([]coord.Point(nil), s.points...),
		Err:    s.err,
	}
	if snap.Total > 0 {
		snap.Percent = float64(snap.Index) / float64(snap.Total) * 100
	}
	return snap
}

// Map returns the finished height map.
func (s *Session) Map() (*heightmap.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, ErrNoHeightMap
	}
	return s.m, nil
}

// Document wraps the finished map for export, stamped with the
// session ID and scan configuration.
func (s *Session) Document() (*heightmap.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		return nil, ErrNoHeightMap
	}

	doc := heightmap.NewDocument(s.m, append([]coord.Point(nil), s.points...), &heightmap.ScanConfig{
		Bounds:   s.cfg.Bounds,
		Grid:     s.cfg.Grid,
		FeedRate: s.cfg.Probe.FeedRate,
		TravelZ:  s.cfg.Probe.TravelZ,
	})
	doc.SessionID = s.id.String()
	return doc, nil
}
