// Package probe drives single touch-probe cycles against a machine
// controller.
package probe

import (
	"strings"

	"github.com/fluidcnc/autolevel/coord"
)

// Status is a snapshot of the controller's reported state.
type Status struct {
	State string      `json:"state"` // grbl status word: Idle, Run, Hold:0, Alarm, ...
	MPos  coord.Point `json:"mpos"`  // machine position
	WCO   coord.Point `json:"wco"`   // work coordinate offset

	// axis limit indicators
	LimitX bool `json:"limitX"`
	LimitY bool `json:"limitY"`
	LimitZ bool `json:"limitZ"`
}

// Alarm reports whether the controller is in an alarm state.
func (s Status) Alarm() bool { return strings.HasPrefix(s.State, "Alarm") }

// Hold reports whether the controller is in feed hold.
func (s Status) Hold() bool { return strings.HasPrefix(s.State, "Hold") }

// LimitActive reports whether any axis limit indicator is active.
func (s Status) LimitActive() bool { return s.LimitX || s.LimitY || s.LimitZ }

// Result is the controller's report of one probe move. Contact is
// false when the move finished without touching the surface.
type Result struct {
	coord.Point
	Contact bool
}

// Realtime control bytes understood by grbl-family controllers.
const (
	RTStatus     byte = '?'
	RTFeedHold   byte = '!'
	RTCycleStart byte = '~'
	RTReset      byte = 0x18
)

// A Controller is the machine collaborator a probe cycle runs against.
//
// ArmProbe must return a freshly allocated single-shot channel each
// call and invalidate the previous one, so a result destined for an
// earlier cycle can never satisfy a later waiter.
type Controller interface {
	// Queue sends a command without waiting for it to execute.
	Queue(cmd string) error
	// Run sends a command and waits for its acknowledgment.
	Run(cmd string) error
	// Realtime sends a single realtime control byte.
	Realtime(b byte) error

	Status() Status
	ArmProbe() <-chan Result
	Connected() bool
}
