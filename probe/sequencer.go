package probe

import (
	"fmt"
	"log"
	"time"

	"github.com/fluidcnc/autolevel/gcode"
)

// Options configure probe cycles. All heights are work coordinates in
// millimeters except SafeZ, which addresses machine coordinates so
// recovery is independent of any active work offset.
type Options struct {
	// TravelZ is the height rapids move at between points.
	TravelZ float64
	// MinZ is the probe floor; a probe move that reaches it without
	// contact is a miss.
	MinZ float64
	// FeedRate is the probe plunge feed in mm/min.
	FeedRate float64
	// Retract lifts this far above the measured contact on success.
	Retract float64
	// SafeZ is the machine-coordinate retract height used by
	// emergency recovery.
	SafeZ float64

	// Timeout bounds one probe move. Zero means 30s.
	Timeout time.Duration
	// Settle is the pause after a feed hold during recovery. Zero
	// means 500ms.
	Settle time.Duration
}

func (opt Options) timeout() time.Duration {
	if opt.Timeout <= 0 {
		return 30 * time.Second
	}
	return opt.Timeout
}

func (opt Options) settle() time.Duration {
	if opt.Settle <= 0 {
		return 500 * time.Millisecond
	}
	return opt.Settle
}

// Sequencer runs safe probe cycles one at a time.
type Sequencer struct {
	c   Controller
	opt Options
}

func NewSequencer(c Controller, opt Options) *Sequencer {
	return &Sequencer{c: c, opt: opt}
}

func fnum(f float64) string { return gcode.FormatFloat(f, 4) }

// Probe measures the surface height at (x,y). On any failure the
// emergency recovery sub-sequence runs before the error is returned;
// a recovery failure is logged but never masks the probe failure.
func (s *Sequencer) Probe(x, y float64) (z float64, err error) {
	z, err = s.cycle(x, y)
	if err != nil {
		if recErr := s.Recover(); recErr != nil {
			log.Printf("ERROR: recover after probe failure: %+v", recErr)
		}
	}
	return z, err
}

func (s *Sequencer) cycle(x, y float64) (float64, error) {
	if !s.c.Connected() {
		return 0, ErrNotConnected
	}

	// never start a probe move on a machine that is already faulted
	st := s.c.Status()
	if st.LimitActive() {
		return 0, ErrLimitActive
	}

	// rapid to the point at travel height
	err := s.c.Run("G90 G0 Z" + fnum(s.opt.TravelZ))
	if err != nil {
		return 0, err
	}
	err = s.c.Run("G0 X" + fnum(x) + " Y" + fnum(y))
	if err != nil {
		return 0, err
	}

	// fresh single-shot result handle; a stale result from an earlier
	// cycle cannot satisfy this one
	resultCh := s.c.ArmProbe()

	// probe toward the floor, racing the result against the deadline.
	// The loser is abandoned, not cancelled: the physical move cannot
	// be aborted mid-flight by software alone.
	err = s.c.Queue("G38.2 Z" + fnum(s.opt.MinZ) + " F" + fnum(s.opt.FeedRate))
	if err != nil {
		return 0, err
	}

	timer := time.NewTimer(s.opt.timeout())
	defer timer.Stop()

	var res Result
	var got bool
	select {
	case res, got = <-resultCh:
	case <-timer.C:
	}

	st = s.c.Status()
	switch {
	case st.Alarm():
		return 0, ErrLimitTriggered
	case st.Hold():
		// a cancel arrived mid-cycle; no motion while held, recovery
		// releases the hold before retracting
		return 0, ErrHoldActive
	case !got:
		s.retract(s.opt.TravelZ)
		return 0, ErrTimeout
	case !res.Contact:
		s.retract(s.opt.TravelZ)
		return 0, ErrNoContact
	}

	// controller reports machine coordinates
	z := res.Z - st.WCO.Z

	// absolute retract target; a relative jog would accumulate drift
	// across many points
	err = s.c.Run("G90 G0 Z" + fnum(z+s.opt.Retract))
	if err != nil {
		return 0, err
	}

	return z, nil
}

func (s *Sequencer) retract(z float64) {
	if err := s.c.Run("G90 G0 Z" + fnum(z)); err != nil {
		log.Printf("ERROR: retract: %+v", err)
	}
}

// Recover runs the emergency recovery sub-sequence: feed-hold, settle,
// release the hold if the controller is not alarmed, stop the spindle,
// then retract in machine coordinates. In an alarm state no motion is
// issued; the alarm is surfaced to the caller instead.
func (s *Sequencer) Recover() error {
	err := s.c.Realtime(RTFeedHold)
	if err != nil {
		return err
	}
	time.Sleep(s.opt.settle())

	st := s.c.Status()
	if st.Alarm() {
		// best effort; the controller rejects commands while alarmed
		if err := s.c.Queue("M5"); err != nil {
			log.Printf("ERROR: spindle stop in alarm: %+v", err)
		}
		return fmt.Errorf("controller alarm during recovery: %s", st.State)
	}

	// motion commands are never issued while the controller remains
	// in feed-hold; release it first
	err = s.c.Realtime(RTCycleStart)
	if err != nil {
		return err
	}

	err = s.c.Run("M5")
	if err != nil {
		return err
	}

	// machine-coordinate addressing, independent of any work offset
	err = s.c.Run("G90")
	if err != nil {
		return err
	}
	return s.c.Run("G53 G0 Z" + fnum(s.opt.SafeZ))
}
