// Package roster determines the working set of tracked lanes: lanes
// enabled in the hardware mask are known up front, lanes discovered via
// the coin-box telemetry feed are added lazily. Lanes are never removed
// once added.
package roster

import (
	"slices"

	"github.com/slotracer/slotman/pkg/processing/lane"
)

// MaxLanes is fixed by the control unit protocol.
const MaxLanes = 8

// TrackFactory creates the lane track for a newly observed lane.
type TrackFactory func(laneID int) *lane.Track

type Roster struct {
	tracks  map[int]*lane.Track
	order   []int
	active  byte // lanes marked active by telemetry
	factory TrackFactory
}

// New seeds the roster with every lane whose bit is clear in the
// hardware mask (bit set = excluded).
func New(hardwareMask byte, factory TrackFactory) *Roster {
	ret := &Roster{
		tracks:  make(map[int]*lane.Track),
		factory: factory,
	}
	for i := 0; i < MaxLanes; i++ {
		if hardwareMask&(1<<i) == 0 {
			ret.add(i)
		}
	}
	return ret
}

func (r *Roster) add(laneID int) *lane.Track {
	t := r.factory(laneID)
	r.tracks[laneID] = t
	r.order = append(r.order, laneID)
	slices.Sort(r.order)
	return t
}

// Get returns the track for a lane known to the roster.
func (r *Roster) Get(laneID int) (*lane.Track, bool) {
	t, ok := r.tracks[laneID]
	return t, ok
}

// ObserveCar registers a telemetry-reported car (1-based id) and
// returns its track, creating a placeholder entry if the lane was not
// tracked yet.
func (r *Roster) ObserveCar(carID int) *lane.Track {
	laneID := carID - 1
	if laneID < 0 || laneID >= MaxLanes {
		return nil
	}
	r.active |= 1 << laneID
	if t, ok := r.tracks[laneID]; ok {
		return t
	}
	return r.add(laneID)
}

// Lanes returns the tracked lane ids in ascending order.
func (r *Roster) Lanes() []int {
	return slices.Clone(r.order)
}

// ActiveMask reports which lanes telemetry has flagged active.
func (r *Roster) ActiveMask() byte { return r.active }
