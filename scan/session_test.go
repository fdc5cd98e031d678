package scan

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/grid"
	"github.com/fluidcnc/autolevel/heightmap"
	"github.com/fluidcnc/autolevel/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMachine simulates a controller with a scriptable surface.
type fakeMachine struct {
	mu        sync.Mutex
	ops       []string
	st        probe.Status
	connected bool
	armed     chan probe.Result

	x, y    float64
	height  func(x, y float64) float64
	contact func(cycle int) bool
	gate    chan struct{} // when set, each probe move waits for a token
	cycles  int

	blockCmd string        // when set, this command parks until release
	blocked  chan struct{}
	release  chan struct{}
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{
		st:        probe.Status{State: "Idle"},
		connected: true,
		height:    func(x, y float64) float64 { return 0 },
		contact:   func(int) bool { return true },
	}
}

func (f *fakeMachine) Queue(cmd string) error {
	f.mu.Lock()
	f.ops = append(f.ops, cmd)
	armed := f.armed
	f.mu.Unlock()

	if cmd == f.blockCmd {
		f.blocked <- struct{}{}
		<-f.release
	}
	if strings.HasPrefix(cmd, "G0 X") {
		fmt.Sscanf(cmd, "G0 X%f Y%f", &f.x, &f.y)
	}
	if strings.HasPrefix(cmd, "G38.2") {
		if f.gate != nil {
			<-f.gate
		}
		f.cycles++
		armed <- probe.Result{
			Point:   coord.Point{X: f.x, Y: f.y, Z: f.height(f.x, f.y)},
			Contact: f.contact(f.cycles),
		}
	}
	return nil
}

func (f *fakeMachine) Run(cmd string) error { return f.Queue(cmd) }

func (f *fakeMachine) Realtime(b byte) error {
	f.mu.Lock()
	f.ops = append(f.ops, "#"+string(b))
	switch b {
	case probe.RTFeedHold:
		f.st.State = "Hold:0"
	case probe.RTCycleStart:
		f.st.State = "Idle"
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeMachine) Status() probe.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeMachine) ArmProbe() <-chan probe.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = make(chan probe.Result, 1)
	return f.armed
}

func (f *fakeMachine) Connected() bool { return f.connected }

func (f *fakeMachine) opList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func testConfig(pattern grid.Pattern) Config {
	return Config{
		Bounds: coord.Bounds{MinX: 0, MaxX: 20, MinY: 0, MaxY: 20, MinZ: -10, MaxZ: 5},
		Grid:   grid.Config{SpacingX: 10, SpacingY: 10, Pattern: pattern},
		Probe: probe.Options{
			TravelZ:  5,
			MinZ:     -10,
			FeedRate: 100,
			Retract:  0.5,
			SafeZ:    -1,
			Timeout:  time.Second,
			Settle:   time.Millisecond,
		},
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session never settled")
	}
}

func TestSession_Completed(t *testing.T) {
	f := newFakeMachine()
	f.height = func(x, y float64) float64 { return x*0.1 + y*0.01 }

	s := New(f)
	require.NoError(t, s.Start(testConfig(grid.PatternZigzag)))
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, Completed, snap.State)
	assert.Equal(t, 9, snap.Index)
	assert.Equal(t, 100.0, snap.Percent)

	m, err := s.Map()
	require.NoError(t, err)
	require.Equal(t, 3, m.Cols)
	require.Equal(t, 3, m.Rows)

	// zigzag traversal is undone: data is raster row-major
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			want := float64(col)*10*0.1 + float64(row)*10*0.01
			assert.InDelta(t, want, m.At(col, row), 1e-9, "cell (%d,%d)", col, row)
		}
	}
}

func TestSession_FailureAborts(t *testing.T) {
	f := newFakeMachine()
	f.contact = func(cycle int) bool { return cycle < 4 }

	s := New(f)
	require.NoError(t, s.Start(testConfig(grid.PatternRaster)))
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, Failed, snap.State)
	assert.ErrorIs(t, snap.Err, probe.ErrNoContact)
	// fail-fast: the 4th point failed, only 3 were collected
	assert.Len(t, snap.Points, 3)

	_, err := s.Map()
	assert.ErrorIs(t, err, ErrNoHeightMap)

	// recovery ran: feed hold went out
	assert.Contains(t, f.opList(), "#!")
}

func TestSession_Cancel(t *testing.T) {
	f := newFakeMachine()
	f.gate = make(chan struct{})

	s := New(f)
	require.NoError(t, s.Start(testConfig(grid.PatternRaster)))

	// let two points complete, then cancel mid-third. Wait for the third
	// cycle to reach its gate so the hold lands mid-cycle, after the
	// second point has fully settled.
	f.gate <- struct{}{}
	f.gate <- struct{}{}
	assert.Eventually(t, func() bool {
		n := 0
		for _, op := range f.opList() {
			if strings.HasPrefix(op, "G38.2") {
				n++
			}
		}
		return n == 3
	}, time.Second, time.Millisecond)
	s.Cancel()
	select {
	case f.gate <- struct{}{}:
	case <-s.Done():
	}
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, Cancelled, snap.State)
	// the third cycle was held mid-flight; its result is discarded
	assert.Len(t, snap.Points, 2)
	assert.NoError(t, snap.Err)

	_, err := s.Map()
	assert.ErrorIs(t, err, ErrNoHeightMap)

	// hold-before-motion invariant: cycle start sits between the
	// cancel hold and any later motion command
	ops := f.opList()
	hold := -1
	for i, op := range ops {
		if op == "#!" {
			hold = i
			break
		}
	}
	require.NotEqual(t, -1, hold, "no feed hold sent on cancel")
	start := -1
	for i := hold + 1; i < len(ops); i++ {
		if ops[i] == "#~" {
			start = i
			break
		}
	}
	for i := hold + 1; i < len(ops); i++ {
		if strings.HasPrefix(ops[i], "G") {
			require.NotEqual(t, -1, start, "motion after hold with no cycle start")
			assert.Greater(t, i, start, "motion %q before hold release", ops[i])
		}
	}
}

func TestSession_ObserversNotBlockedByRecovery(t *testing.T) {
	f := newFakeMachine()
	f.blockCmd = "M5"
	f.blocked = make(chan struct{})
	f.release = make(chan struct{})

	s := New(f)
	s.cfg = testConfig(grid.PatternRaster)
	s.state = Scanning
	s.cancel = make(chan struct{})
	s.done = make(chan struct{})
	close(s.cancel)

	go s.finish(nil)
	<-f.blocked // recovery is parked mid-spindle-stop

	snapped := make(chan Snapshot, 1)
	go func() { snapped <- s.Snapshot() }()
	select {
	case snap := <-snapped:
		assert.Equal(t, Scanning, snap.State)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked behind an in-flight recovery")
	}

	close(f.release)
	waitDone(t, s)
	assert.Equal(t, Cancelled, s.Snapshot().State)
}

func TestSession_AlreadyRunning(t *testing.T) {
	f := newFakeMachine()
	f.gate = make(chan struct{})

	s := New(f)
	require.NoError(t, s.Start(testConfig(grid.PatternRaster)))

	err := s.Start(testConfig(grid.PatternRaster))
	assert.ErrorIs(t, err, ErrAlreadyScanning)

	s.Cancel()
	select {
	case f.gate <- struct{}{}:
	case <-s.Done():
	}
	waitDone(t, s)
}

func TestSession_NotConnected(t *testing.T) {
	f := newFakeMachine()
	f.connected = false

	s := New(f)
	err := s.Start(testConfig(grid.PatternRaster))
	assert.ErrorIs(t, err, probe.ErrNotConnected)
}

func TestSession_Events(t *testing.T) {
	f := newFakeMachine()
	f.height = func(x, y float64) float64 { return 1 }

	s := New(f)
	require.NoError(t, s.Start(testConfig(grid.PatternRaster)))
	waitDone(t, s)

	var events []Event
drain:
	for {
		select {
		case ev := <-s.Events():
			events = append(events, ev)
		default:
			break drain
		}
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, Completed.String(), last.State)
	assert.Equal(t, 9, last.Index)
	assert.Equal(t, 100.0, last.Percent)

	prev := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Percent, prev)
		prev = ev.Percent
		assert.NotEmpty(t, ev.SessionID)
	}
}

func TestSession_Document(t *testing.T) {
	f := newFakeMachine()
	f.height = func(x, y float64) float64 { return x }

	s := New(f)
	cfg := testConfig(grid.PatternRaster)
	require.NoError(t, s.Start(cfg))
	waitDone(t, s)

	doc, err := s.Document()
	require.NoError(t, err)
	assert.Equal(t, heightmap.DocumentVersion, doc.Version)
	assert.Equal(t, s.Snapshot().ID, doc.SessionID)
	assert.Len(t, doc.RawPoints, 9)
	require.NotNil(t, doc.Config)
	assert.Equal(t, cfg.Grid, doc.Config.Grid)
}
