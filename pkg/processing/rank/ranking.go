// Package rank assembles the live leaderboard: it merges lane state
// with the latest coin-box telemetry, filters unpaid lanes and sorts by
// the comparator of the active race mode.
package rank

import (
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/slotracer/slotman/pkg/model"
	"github.com/slotracer/slotman/pkg/processing/roster"
)

// CreditLookup resolves the persistent credit count of a car (1-based).
type CreditLookup func(carID int) int

type Ranking struct {
	mode       model.RaceMode
	roster     *roster.Roster
	credits    CreditLookup
	unpaidMask byte

	// carried across ticks, owned exclusively by this engine
	telemetry map[int]model.CarTelemetry // key: lane id
	gridPos   map[int]int
	pitFuel   map[int]float64 // low-water mark while in pit
}

type Option func(*Ranking)

func WithMode(mode model.RaceMode) Option {
	return func(r *Ranking) {
		r.mode = mode
	}
}

func WithRoster(ro *roster.Roster) Option {
	return func(r *Ranking) {
		r.roster = ro
	}
}

func WithCreditLookup(lookup CreditLookup) Option {
	return func(r *Ranking) {
		r.credits = lookup
	}
}

func NewRanking(opts ...Option) *Ranking {
	ret := &Ranking{
		telemetry: make(map[int]model.CarTelemetry),
		gridPos:   make(map[int]int),
		pitFuel:   make(map[int]float64),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// SetUnpaidMask records the lanes excluded from the published
// leaderboard. Underlying lane state keeps accumulating regardless.
func (r *Ranking) SetUnpaidMask(mask byte) {
	r.unpaidMask = mask
}

// UpdateTelemetry merges the latest coin-box snapshot; the most recent
// value wins per car.
func (r *Ranking) UpdateTelemetry(cars []model.CarTelemetry) {
	for i := range cars {
		laneID := cars[i].CarID - 1
		if laneID < 0 || laneID >= roster.MaxLanes {
			continue
		}
		r.telemetry[laneID] = cars[i]
	}
}

// Compute rebuilds the fully-ordered, fully-merged leaderboard.
// Consumers never need to diff or patch the result.
func (r *Ranking) Compute() []model.RankedEntry {
	entries := make([]model.RankedEntry, 0, roster.MaxLanes)
	for _, laneID := range r.roster.Lanes() {
		if r.unpaidMask&(1<<laneID) != 0 {
			continue
		}
		track, ok := r.roster.Get(laneID)
		if !ok {
			continue
		}
		entries = append(entries, r.enrich(track.Snapshot()))
	}

	slices.SortStableFunc(entries, r.comparator())
	for i := range entries {
		entries[i].Position = i
	}

	if r.mode == model.ModeRace {
		r.assignGridPositions(entries)
	}
	return entries
}

func (r *Ranking) enrich(e model.LaneEntry) model.RankedEntry {
	ranked := model.RankedEntry{LaneEntry: e, GridPosition: -1}
	if pos, ok := r.gridPos[e.ID]; ok {
		ranked.GridPosition = pos
	}
	if tm, ok := r.telemetry[e.ID]; ok {
		ranked.Throttle = tm.Throttle
		ranked.ButtonPressed = tm.ButtonPressed
		ranked.CreditValue = tm.CoinValue
		ranked.Blocked = tm.Blocked
		ranked.ManuallyBlocked = tm.ManuallyBlocked
		ranked.ManuallyUnblocked = tm.ManuallyUnblocked
	}
	if r.credits != nil {
		ranked.HasPaid = r.credits(e.ID+1) > 0
	}
	ranked.Refueling = r.trackPitFuel(&e)
	return ranked
}

// trackPitFuel maintains the per-lane fuel low-water mark while the car
// sits in the pit; refueling means the level rose above that mark.
func (r *Ranking) trackPitFuel(e *model.LaneEntry) bool {
	if !e.InPit {
		delete(r.pitFuel, e.ID)
		return false
	}
	low, ok := r.pitFuel[e.ID]
	if !ok || e.Fuel < low {
		low = e.Fuel
		r.pitFuel[e.ID] = low
	}
	return e.Fuel > low
}

// assignGridPositions captures, once per lane, the rank held at the
// moment the lane records its very first time.
func (r *Ranking) assignGridPositions(entries []model.RankedEntry) {
	for i := range entries {
		e := &entries[i]
		if _, ok := r.gridPos[e.ID]; ok {
			continue
		}
		if math.IsNaN(e.ElapsedTime) {
			continue
		}
		r.gridPos[e.ID] = e.Position
		e.GridPosition = e.Position
	}
}

func (r *Ranking) comparator() func(a, b model.RankedEntry) int {
	switch r.mode {
	case model.ModeRace:
		return raceOrder
	default:
		return bestTimeOrder
	}
}

// bestTimeOrder sorts ascending by best full-lap time; lanes without a
// time (+Inf) sort last. Lane id breaks remaining ties so the order is
// a strict total order.
func bestTimeOrder(a, b model.RankedEntry) int {
	ab, bb := a.BestLap(), b.BestLap()
	if c := compareTimes(ab, bb); c != 0 {
		return c
	}
	return a.ID - b.ID
}

// raceOrder sorts descending by laps, ties broken by ascending elapsed
// time (NaN sorts last), then ascending lane id.
func raceOrder(a, b model.RankedEntry) int {
	if a.Laps != b.Laps {
		return b.Laps - a.Laps
	}
	if c := compareTimes(a.ElapsedTime, b.ElapsedTime); c != 0 {
		return c
	}
	return a.ID - b.ID
}

// compareTimes orders ascending with NaN greater than any number.
func compareTimes(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Leader returns the entry at rank 0, if any.
func Leader(entries []model.RankedEntry) (model.RankedEntry, bool) {
	return lo.First(entries)
}
