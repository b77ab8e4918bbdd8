// Package lane accumulates the corrected-time stream of a single lane
// into completed laps, sector splits and finish detection.
package lane

import (
	"math"
	"time"

	"github.com/slotracer/slotman/pkg/model"
)

type (
	// RecordGuard reports whether a lane may currently score.
	RecordGuard func(laneID int) bool
	// FinishPredicate is evaluated with the lap count after each
	// closed lap.
	FinishPredicate func(laps int) bool
	// FinishSignal is called once when the lane newly finishes.
	FinishSignal func(laneID int)
)

type Track struct {
	entry      *model.LaneEntry
	minLapTime float64 // milliseconds
	canRecord  RecordGuard
	isFinished FinishPredicate
	onFinish   FinishSignal
}

type Option func(*Track)

func WithMinLapTime(d time.Duration) Option {
	return func(t *Track) {
		t.minLapTime = float64(d.Milliseconds())
	}
}

func WithRecordGuard(guard RecordGuard) Option {
	return func(t *Track) {
		t.canRecord = guard
	}
}

func WithFinishPredicate(pred FinishPredicate) Option {
	return func(t *Track) {
		t.isFinished = pred
	}
}

func WithFinishSignal(sig FinishSignal) Option {
	return func(t *Track) {
		t.onFinish = sig
	}
}

func NewTrack(laneID int, opts ...Option) *Track {
	ret := &Track{
		entry:      model.NewLaneEntry(laneID),
		minLapTime: float64(model.DefaultMinLapTime.Milliseconds()),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Entry returns the live entry. Callers must not retain it across
// processing ticks; Snapshot provides a stable copy.
func (t *Track) Entry() *model.LaneEntry { return t.entry }

// Snapshot returns a deep copy of the current lane state.
func (t *Track) Snapshot() model.LaneEntry {
	e := *t.entry
	e.LastSectors = append([]float64(nil), t.entry.LastSectors...)
	e.BestSectors = append([]float64(nil), t.entry.BestSectors...)
	e.Times = make([][]float64, len(t.entry.Times))
	for i := range t.entry.Times {
		e.Times[i] = append([]float64(nil), t.entry.Times[i]...)
	}
	return e
}

// Crossing folds one corrected crossing into the lane state.
// Events below the debounce threshold or out of sector order are
// expected hardware noise and dropped without error.
//
//nolint:cyclop // the accept/close-out rules are one unit
func (t *Track) Crossing(time float64, sector int) {
	if sector < 1 {
		return
	}
	if t.canRecord != nil && !t.canRecord(t.entry.ID) {
		return
	}
	e := t.entry
	var tail []float64
	if len(e.Times) > 0 {
		tail = e.Times[len(e.Times)-1]
	}
	if sector == 1 {
		ref := math.Inf(-1)
		if len(tail) > 0 {
			ref = tail[0]
		}
		if time-ref < t.minLapTime {
			return
		}
		if len(tail) > 0 {
			// close out the previous lap
			t.record(0, time-tail[0])
			if len(tail) > 1 {
				t.record(len(tail), time-tail[len(tail)-1])
			}
		}
		e.Times = append(e.Times, []float64{time})
		e.ElapsedTime = time
		e.Laps = len(e.Times) - 1
		e.Sector = 1
		if len(tail) > 0 {
			t.checkFinished()
		}
		return
	}

	// sector > 1: split within the current lap
	idx := sector - 1
	var ref float64
	switch {
	case len(tail) == 0:
		// no lap in progress, drop
		return
	case idx < len(tail):
		// repeated crossing of the same marker
		ref = tail[idx]
	case idx == len(tail):
		ref = tail[idx-1]
	default:
		// skipped a marker, drop
		return
	}
	if time-ref < t.minLapTime {
		return
	}
	if idx == len(tail) {
		tail = append(tail, time)
		e.Times[len(e.Times)-1] = tail
	} else {
		tail[idx] = time
	}
	t.record(idx, time-tail[idx-1])
	e.ElapsedTime = time
	e.Sector = sector
}

// record stores a sector delta and updates the personal best.
// Index 0 holds the full-lap time.
func (t *Track) record(idx int, delta float64) {
	e := t.entry
	for len(e.LastSectors) <= idx {
		e.LastSectors = append(e.LastSectors, math.NaN())
		e.BestSectors = append(e.BestSectors, math.Inf(1))
	}
	e.LastSectors[idx] = delta
	if delta < e.BestSectors[idx] {
		e.BestSectors[idx] = delta
	}
}

func (t *Track) checkFinished() {
	e := t.entry
	if e.Finished || t.isFinished == nil {
		return
	}
	if t.isFinished(e.Laps) {
		e.Finished = true
		if t.onFinish != nil {
			t.onFinish(e.ID)
		}
	}
}

// SetFuel updates the externally sourced fuel level.
func (t *Track) SetFuel(level float64) {
	t.entry.Fuel = level
}

// SetPit applies the pit flag with distinct-change detection; the
// visit counter increments on each false-to-true transition.
func (t *Track) SetPit(inPit bool) {
	if inPit == t.entry.InPit {
		return
	}
	t.entry.InPit = inPit
	if inPit {
		t.entry.PitVisits++
	}
}
