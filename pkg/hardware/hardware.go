// Package hardware defines the control-unit boundary: typed event
// streams consumed by the core and fire-and-forget commands pushed back
// to the track. Discovery, connection handling and byte-level framing
// live behind implementations of ControlUnit.
package hardware

import "fmt"

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// Start-light codes: 0 = running, 1 = armed, 2-6 = countdown stages,
// 8 and above signal a false start.
const (
	StartRunning       = 0
	StartArmed         = 1
	FalseStartSentinel = 8
)

// Mode bitmask flags reported by the control unit.
const (
	ModePitLane byte = 1 << 0
	ModeFuel    byte = 1 << 1
)

// TimerEvent is one raw lane crossing. RawTime comes from the
// free-running hardware counter and wraps around.
type TimerEvent struct {
	Lane    int
	RawTime float64
	Sector  int
}

// ControlUnit is the transport-agnostic face of the track hardware.
// Commands are fire-and-forget: a failed push is logged by the caller
// and re-issued on the next state transition.
type ControlUnit interface {
	Timer() <-chan TimerEvent
	Fuel() <-chan []float64 // fuel levels indexed by lane
	Pit() <-chan byte       // bit set = lane in pit
	Start() <-chan int
	State() <-chan ConnectionState
	Mode() <-chan byte

	SetMask(mask byte) error // bit set = lane excluded/powered off
	ClearPosition() error
	Reset() error
	SetFinished(lane int) error
	ToggleStart() error
	SetSpeed(lane, value int) error
	SetBrake(lane, value int) error
	SetFuel(lane, value int) error
}
