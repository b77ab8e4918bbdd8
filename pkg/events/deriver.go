// Package events derives the discrete race notifications (best lap,
// pit stops, finish positions, flag changes, ...) from consecutive
// leaderboard snapshots and session signals. Every rule is
// edge-triggered: it emits at most one event per qualifying transition.
package events

import (
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/slotracer/slotman/pkg/hardware"
	"github.com/slotracer/slotman/pkg/model"
)

// DriverLookup resolves the driver context attached to lane events.
type DriverLookup func(laneID int) *model.DriverContext

const (
	oneMinute        = time.Minute
	oneMinuteMinimum = 2 * time.Minute
	fiveLapsMinimum  = 10
)

type Deriver struct {
	mode      model.RaceMode
	totalLaps int
	totalTime time.Duration
	drivers   DriverLookup

	prevByLane map[int]model.RankedEntry
	prevOrder  []model.RankedEntry
	havePrev   bool
	leader     int
	haveLeader bool
	yellow     bool
	lastStart  int

	oneMinuteFired bool
	timeoutFired   bool
	allDoneFired   bool
	fiveLapsFired  bool
	finalLapFired  bool
}

type Option func(*Deriver)

func WithRaceOptions(opts model.RaceOptions) Option {
	return func(d *Deriver) {
		d.mode = opts.Mode
		d.totalLaps = opts.Laps
		d.totalTime = opts.Time
	}
}

func WithDriverLookup(lookup DriverLookup) Option {
	return func(d *Deriver) {
		d.drivers = lookup
	}
}

func NewDeriver(opts ...Option) *Deriver {
	ret := &Deriver{
		prevByLane: make(map[int]model.RankedEntry),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (d *Deriver) driver(laneID int) *model.DriverContext {
	if d.drivers == nil {
		return nil
	}
	return d.drivers(laneID)
}

// OnLeaderboard compares the fresh snapshot against the previous one
// and emits the per-lane and ordering events.
func (d *Deriver) OnLeaderboard(
	cur []model.RankedEntry, sessionFinished bool,
) []model.RaceEvent {
	var out []model.RaceEvent
	if d.havePrev {
		for i := range cur {
			out = append(out, d.laneEvents(&cur[i])...)
		}
		out = append(out, d.finishEvents(cur)...)
	}
	out = append(out, d.leaderEvents(cur)...)
	out = append(out, d.allDoneEvents(cur, sessionFinished)...)

	d.prevByLane = lo.SliceToMap(cur, func(e model.RankedEntry) (int, model.RankedEntry) {
		return e.ID, e
	})
	d.prevOrder = cur
	d.havePrev = true
	return out
}

//nolint:cyclop // one rule per branch
func (d *Deriver) laneEvents(cur *model.RankedEntry) []model.RaceEvent {
	prev, ok := d.prevByLane[cur.ID]
	if !ok {
		return nil
	}
	var out []model.RaceEvent
	hasTime := !math.IsNaN(cur.ElapsedTime)

	// full-lap best, gated to avoid noisy early-lap spam
	if cur.Laps >= 3 && cur.BestLap() < prev.BestLap() {
		out = append(out, model.RaceEvent{
			Kind: model.EventBestLap, Driver: d.driver(cur.ID),
		})
	}
	for i := 1; i < len(cur.BestSectors); i++ {
		prevBest := math.Inf(1)
		if i < len(prev.BestSectors) {
			prevBest = prev.BestSectors[i]
		}
		if cur.BestSectors[i] < prevBest {
			out = append(out, model.RaceEvent{
				Kind: model.EventBestSector, Sector: i, Driver: d.driver(cur.ID),
			})
		}
	}
	if !cur.Finished && hasTime {
		if cur.Fuel < prev.Fuel {
			out = append(out, model.RaceEvent{
				Kind:      model.EventFuel,
				FuelLevel: int(cur.Fuel),
				Driver:    d.driver(cur.ID),
			})
		}
		if cur.InPit && !prev.InPit {
			out = append(out, model.RaceEvent{
				Kind: model.EventPitEnter, Driver: d.driver(cur.ID),
			})
		}
		if !cur.InPit && prev.InPit {
			out = append(out, model.RaceEvent{
				Kind: model.EventPitExit, Driver: d.driver(cur.ID),
			})
		}
	}
	return out
}

// finishEvents announces podium ranks from pre/post snapshots of the
// sorted order. With a single competitor only the generic finished
// event fires.
func (d *Deriver) finishEvents(cur []model.RankedEntry) []model.RaceEvent {
	if d.mode != model.ModeRace {
		return nil
	}
	if len(cur) == 1 {
		if cur[0].Finished && len(d.prevOrder) == 1 && !d.prevOrder[0].Finished {
			return []model.RaceEvent{
				{Kind: model.EventFinished, Driver: d.driver(cur[0].ID)},
			}
		}
		return nil
	}
	podium := []model.EventKind{
		model.EventFinished1st, model.EventFinished2nd, model.EventFinished3rd,
	}
	var out []model.RaceEvent
	for rank, kind := range podium {
		if rank >= len(cur) || rank >= len(d.prevOrder) {
			break
		}
		if cur[rank].Finished && !d.prevOrder[rank].Finished {
			out = append(out, model.RaceEvent{
				Kind: kind, Driver: d.driver(cur[rank].ID),
			})
		}
	}
	return out
}

func (d *Deriver) leaderEvents(cur []model.RankedEntry) []model.RaceEvent {
	if d.mode != model.ModeRace || len(cur) == 0 {
		return nil
	}
	if math.IsNaN(cur[0].ElapsedTime) {
		return nil
	}
	defer func() {
		d.leader = cur[0].ID
		d.haveLeader = true
	}()
	if d.haveLeader && d.leader != cur[0].ID {
		return []model.RaceEvent{
			{Kind: model.EventNewLeader, Driver: d.driver(cur[0].ID)},
		}
	}
	return nil
}

func (d *Deriver) allDoneEvents(
	cur []model.RankedEntry, sessionFinished bool,
) []model.RaceEvent {
	if d.allDoneFired || !sessionFinished || len(cur) == 0 {
		return nil
	}
	if lo.EveryBy(cur, func(e model.RankedEntry) bool { return e.Finished }) {
		d.allDoneFired = true
		return []model.RaceEvent{{Kind: model.EventAllDone}}
	}
	return nil
}

// OnCountdown handles the one-minute warning and the timeout. Call
// before finalizing the session so "not already finished" refers to the
// state at the moment the countdown reached zero.
func (d *Deriver) OnCountdown(
	remaining time.Duration, sessionFinished bool,
) []model.RaceEvent {
	var out []model.RaceEvent
	if sessionFinished {
		return nil
	}
	if !d.oneMinuteFired &&
		d.totalTime >= oneMinuteMinimum && remaining <= oneMinute {
		d.oneMinuteFired = true
		out = append(out, model.RaceEvent{Kind: model.EventOneMinute})
	}
	if !d.timeoutFired && remaining == 0 {
		d.timeoutFired = true
		out = append(out, model.RaceEvent{Kind: model.EventTimeout})
	}
	return out
}

// OnYellowFlag emits the flag edges; the initial inactive state is
// suppressed.
func (d *Deriver) OnYellowFlag(active bool) []model.RaceEvent {
	if active == d.yellow {
		return nil
	}
	d.yellow = active
	if active {
		return []model.RaceEvent{{Kind: model.EventYellowFlag}}
	}
	return []model.RaceEvent{{Kind: model.EventGreenFlag}}
}

// OnLap handles the five-laps-to-go and final-lap announcements.
func (d *Deriver) OnLap(count int, sessionFinished bool) []model.RaceEvent {
	if sessionFinished || d.totalLaps == 0 {
		return nil
	}
	var out []model.RaceEvent
	if !d.fiveLapsFired &&
		d.totalLaps >= fiveLapsMinimum && count >= d.totalLaps-4 {
		d.fiveLapsFired = true
		out = append(out, model.RaceEvent{Kind: model.EventFiveLaps})
	}
	if !d.finalLapFired && count >= d.totalLaps {
		d.finalLapFired = true
		out = append(out, model.RaceEvent{Kind: model.EventFinalLap})
	}
	return out
}

// OnStartSignal detects the false-start sentinel.
func (d *Deriver) OnStartSignal(code int) []model.RaceEvent {
	defer func() { d.lastStart = code }()
	if code >= hardware.FalseStartSentinel &&
		d.lastStart < hardware.FalseStartSentinel {
		return []model.RaceEvent{{Kind: model.EventFalseStart}}
	}
	return nil
}
