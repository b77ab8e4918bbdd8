package model

import (
	"math"

	"github.com/shopspring/decimal"
)

// LaneEntry is the live race state of one lane.
// All times are corrected milliseconds (see processing/timer).
type LaneEntry struct {
	ID          int
	ElapsedTime float64 // NaN until the first crossing
	Laps        int
	LastSectors []float64
	BestSectors []float64
	Times       [][]float64 // per lap: crossing times of sectors 1..k
	Fuel        float64
	InPit       bool
	PitVisits   int
	Sector      int
	Finished    bool
}

// NewLaneEntry creates the unset-time placeholder entry for a lane.
func NewLaneEntry(id int) *LaneEntry {
	return &LaneEntry{
		ID:          id,
		ElapsedTime: math.NaN(),
		LastSectors: []float64{},
		BestSectors: []float64{},
		Times:       [][]float64{},
	}
}

// BestLap returns the personal-best full-lap time, +Inf if none yet.
func (e *LaneEntry) BestLap() float64 {
	if len(e.BestSectors) == 0 {
		return math.Inf(1)
	}
	return e.BestSectors[0]
}

// CarTelemetry is the latest coin-box snapshot for one car.
// CarID is 1-based; lane id is CarID-1.
type CarTelemetry struct {
	CarID             int             `json:"carId"`
	Throttle          float64         `json:"throttle"`
	ButtonPressed     bool            `json:"buttonPressed"`
	Active            bool            `json:"active"`
	Blocked           bool            `json:"blocked"`
	ManuallyBlocked   bool            `json:"manuallyBlocked"`
	ManuallyUnblocked bool            `json:"manuallyUnblocked"`
	CoinValue         decimal.Decimal `json:"coinValue"`
}

// RankedEntry is a LaneEntry enriched with position and payment context.
// Entries are rebuilt on every ranking tick.
type RankedEntry struct {
	LaneEntry
	Position          int
	GridPosition      int // -1 until assigned
	Throttle          float64
	ButtonPressed     bool
	HasPaid           bool
	CreditValue       decimal.Decimal
	Blocked           bool
	ManuallyBlocked   bool
	ManuallyUnblocked bool
	Refueling         bool
}

// CurrentLap is the published lap counter of the leading car.
type CurrentLap struct {
	Count int `json:"count"`
	Total int `json:"total"`
}
