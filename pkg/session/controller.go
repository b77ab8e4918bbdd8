// Package session orchestrates the race lifecycle: the hardware lane
// mask, yellow flag, payment exclusion, the countdown timer and finish
// handling. All methods must be called from the single processing
// goroutine; the controller holds no locks.
package session

import (
	"context"
	"time"

	"github.com/slotracer/slotman/log"
	"github.com/slotracer/slotman/pkg/hardware"
	"github.com/slotracer/slotman/pkg/model"
	"github.com/slotracer/slotman/pkg/telemetry"
)

const maskAll byte = 0xFF

type (
	// ManualUnblockLookup reports whether an operator explicitly
	// unblocked the lane's car.
	ManualUnblockLookup func(laneID int) bool
	// LaneLister supplies lane ids on demand.
	LaneLister func() []int
)

type Controller struct {
	opts    model.RaceOptions
	cu      hardware.ControlUnit
	coinbox telemetry.Client
	l       *log.Logger

	mask        byte
	savedMask   byte // restored when the yellow flag is lifted
	unpaidMask  byte
	autoBlocked byte // lanes that were auto-blocked on finish, at most once

	started         bool
	stopped         bool
	manuallyStopped bool
	finished        bool
	yellowFlag      bool
	concluded       bool // global finish side effects ran

	countdown time.Duration
	lastStart int
	connected bool

	manualUnblocked ManualUnblockLookup
	participants    LaneLister // non-unpaid lanes, credit consumption
	activeCars      LaneLister // telemetry-active lanes, block-all sweep
}

type Option func(*Controller)

func WithRaceOptions(opts model.RaceOptions) Option {
	return func(c *Controller) {
		c.opts = opts
		c.countdown = opts.Time
	}
}

func WithCoinbox(client telemetry.Client) Option {
	return func(c *Controller) {
		c.coinbox = client
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Controller) {
		c.l = l
	}
}

func WithManualUnblockLookup(lookup ManualUnblockLookup) Option {
	return func(c *Controller) {
		c.manualUnblocked = lookup
	}
}

func WithParticipants(lister LaneLister) Option {
	return func(c *Controller) {
		c.participants = lister
	}
}

func WithActiveCars(lister LaneLister) Option {
	return func(c *Controller) {
		c.activeCars = lister
	}
}

func NewController(cu hardware.ControlUnit, opts ...Option) *Controller {
	ret := &Controller{
		cu:   cu,
		opts: model.DefaultRaceOptions(),
		l:    log.Default().Named("session"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Initialize computes the starting mask from the race options and
// resets the hardware. Lanes 6 and 7 are reserved for the autonomous
// and pace car and enabled only by their flags; a driver cap masks the
// regular lanes from DriverCount up.
func (c *Controller) Initialize() {
	var mask byte
	if !c.opts.Auto {
		mask |= 1 << 6
	}
	if !c.opts.Pace {
		mask |= 1 << 7
	}
	if c.opts.DriverCount > 0 {
		for i := c.opts.DriverCount; i <= 5; i++ {
			mask |= 1 << i
		}
	}
	c.mask = mask
	c.pushMask()
	if err := c.cu.ClearPosition(); err != nil {
		c.l.Error("clear position failed", log.ErrorField(err))
	}
	if err := c.cu.Reset(); err != nil {
		c.l.Error("reset failed", log.ErrorField(err))
	}
}

func (c *Controller) Options() model.RaceOptions { return c.opts }
func (c *Controller) Mask() byte                 { return c.mask }
func (c *Controller) UnpaidMask() byte           { return c.unpaidMask }
func (c *Controller) Started() bool              { return c.started }
func (c *Controller) Stopped() bool              { return c.stopped }
func (c *Controller) ManuallyStopped() bool      { return c.manuallyStopped }
func (c *Controller) Finished() bool             { return c.finished }
func (c *Controller) YellowFlag() bool           { return c.yellowFlag }
func (c *Controller) Concluded() bool            { return c.concluded }
func (c *Controller) Countdown() time.Duration   { return c.countdown }

// Status is an immutable snapshot of the session state. The controller
// itself is confined to the processing goroutine; snapshots are what
// gets handed to other goroutines (HTTP status, live streams).
type Status struct {
	Mode        string            `json:"mode"`
	Laps        int               `json:"laps"`
	TimeMs      int64             `json:"timeMs"`
	CountdownMs int64             `json:"countdownMs"`
	Started     bool              `json:"started"`
	Stopped     bool              `json:"stopped"`
	Finished    bool              `json:"finished"`
	YellowFlag  bool              `json:"yellowFlag"`
	Mask        byte              `json:"mask"`
	StartState  int               `json:"startState"`
	Options     model.RaceOptions `json:"options"`
}

func (c *Controller) Status() Status {
	return Status{
		Mode:        c.opts.Mode.String(),
		Laps:        c.opts.Laps,
		TimeMs:      c.opts.Time.Milliseconds(),
		CountdownMs: c.countdown.Milliseconds(),
		Started:     c.started,
		Stopped:     c.stopped,
		Finished:    c.finished,
		YellowFlag:  c.yellowFlag,
		Mask:        c.mask,
		StartState:  c.lastStart,
		Options:     c.opts,
	}
}

// CanRecord reports whether the lane may currently score; masked-out
// lanes (yellow flag, unpaid, finished) are excluded.
func (c *Controller) CanRecord(laneID int) bool {
	return c.mask&(1<<laneID) == 0
}

func (c *Controller) Start() {
	c.started = true
}

// Stop ends the session manually and finalizes it immediately; credit
// consumption is suppressed for manual stops.
func (c *Controller) Stop() {
	c.stopped = true
	c.manuallyStopped = true
	c.FinishSession()
}

// ToggleYellowFlag powers off all lanes and saves the mask; lifting the
// flag restores the saved mask exactly.
func (c *Controller) ToggleYellowFlag() {
	if c.yellowFlag {
		c.mask = c.savedMask
		c.yellowFlag = false
	} else {
		c.savedMask = c.mask
		c.mask = maskAll
		c.yellowFlag = true
	}
	c.pushMask()
}

// ApplyUnpaidMask locks unpaid lanes out of power and scoring for the
// remainder of the session. Invoked once when the start-light sequence
// begins. During an active yellow flag the saved mask picks up the
// unpaid bits too, so lifting the flag does not re-enable the lanes.
func (c *Controller) ApplyUnpaidMask(mask byte) {
	c.unpaidMask = mask
	c.mask |= mask
	if c.yellowFlag {
		c.savedMask |= mask
	}
	c.pushMask()
}

// IsFinished is evaluated after each closed lap. Once any lane ends the
// session in non-slot mode, every other lane finishes on its next
// lap-close check.
func (c *Controller) IsFinished(laps int) bool {
	if c.manuallyStopped {
		return true
	}
	if !c.started {
		return false
	}
	if c.opts.Laps > 0 && laps >= c.opts.Laps {
		return true
	}
	return !c.opts.SlotMode && c.finished
}

// FinishLane handles one lane crossing the finish: the lane is
// auto-blocked (added to the mask) exactly once, unless the operator
// manually unblocked its car, in which case it is re-enabled instead.
func (c *Controller) FinishLane(laneID int) {
	c.finished = true
	bit := byte(1) << laneID
	switch {
	case c.manualUnblocked != nil && c.manualUnblocked(laneID):
		c.mask &^= bit
	case c.autoBlocked&bit == 0:
		c.mask |= bit
		c.autoBlocked |= bit
	default:
		// already auto-blocked once, leave the mask alone
	}
	c.pushMask()
	if err := c.cu.SetFinished(laneID); err != nil {
		c.l.Error("set finished failed",
			log.Int("lane", laneID), log.ErrorField(err))
	}
}

// FinishSession concludes the whole session: one credit is consumed per
// participating lane and all active cars are blocked. A manual stop
// skips the credit consumption but still blocks. Safe to call more than
// once; the side effects run a single time.
func (c *Controller) FinishSession() {
	c.finished = true
	if c.concluded {
		return
	}
	c.concluded = true
	if c.opts.StopFinish && c.lastStart != 0 {
		if err := c.cu.ToggleStart(); err != nil {
			c.l.Error("toggle start failed", log.ErrorField(err))
		}
	}
	if c.coinbox == nil {
		return
	}
	ctx := context.Background()
	if !c.manuallyStopped && c.participants != nil {
		carIDs := make([]int, 0, 8)
		for _, laneID := range c.participants() {
			if c.unpaidMask&(1<<laneID) == 0 {
				carIDs = append(carIDs, laneID+1)
			}
		}
		if len(carIDs) > 0 {
			if err := c.coinbox.MarkCoinsAsConsumed(ctx, carIDs); err != nil {
				c.l.Error("consuming coins failed", log.ErrorField(err))
			}
		}
	}
	if c.activeCars != nil {
		for _, laneID := range c.activeCars() {
			if err := c.coinbox.BlockCar(ctx, laneID+1, true); err != nil {
				c.l.Error("blocking car failed",
					log.Int("car", laneID+1), log.ErrorField(err))
			}
		}
	}
}

// HandleStartState re-pushes the mask on non-zero start-light
// transitions; the hardware may clear its mask state internally.
func (c *Controller) HandleStartState(code int) {
	if code != c.lastStart && code != 0 {
		c.pushMask()
	}
	c.lastStart = code
}

func (c *Controller) StartState() int { return c.lastStart }

// HandleConnection re-pushes the mask when the transport reconnects.
func (c *Controller) HandleConnection(state hardware.ConnectionState) {
	nowConnected := state == hardware.Connected
	if nowConnected && !c.connected {
		c.pushMask()
	}
	c.connected = nowConnected
}

// TickCountdown advances the countdown by delta and reports whether it
// just reached zero. The countdown only runs while the session is
// started and, with the pause option, while the start light is clear
// and the hardware connected.
func (c *Controller) TickCountdown(delta time.Duration) bool {
	if c.opts.Time == 0 || c.countdown == 0 {
		return false
	}
	if !c.started {
		return false
	}
	if c.opts.Pause && !(c.lastStart == 0 && c.connected) {
		return false
	}
	c.countdown -= delta
	if c.countdown <= 0 {
		c.countdown = 0
		return true
	}
	return false
}

// pushMask sends the current mask; on failure local state stays the
// source of truth and the next transition re-issues the command.
func (c *Controller) pushMask() {
	if err := c.cu.SetMask(c.mask); err != nil {
		c.l.Error("mask push failed",
			log.Uint32("mask", uint32(c.mask)), log.ErrorField(err))
	}
}
