package probe

import "errors"

var (
	// ErrLimitActive means an axis limit indicator was already active
	// before the cycle started.
	ErrLimitActive = errors.New("axis limit already active")

	// ErrLimitTriggered means the controller entered an alarm state
	// during the probe move.
	ErrLimitTriggered = errors.New("limit triggered during probe")

	// ErrTimeout means no probe result arrived before the deadline.
	ErrTimeout = errors.New("probe timed out")

	// ErrNoContact means the probe move finished without touching the
	// surface.
	ErrNoContact = errors.New("probe made no contact")

	// ErrNotConnected means no controller connection is available.
	ErrNotConnected = errors.New("controller not connected")

	// ErrHoldActive means the controller entered feed hold during the
	// cycle (a cancel request); no further motion may be issued until
	// the hold is released.
	ErrHoldActive = errors.New("feed hold active")
)
