package model

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
)

// Lap and sector times use NaN / +Inf for "no time yet", which plain
// JSON cannot carry. The wire form renders those as null.

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func finiteSlice(in []float64) []*float64 {
	out := make([]*float64, len(in))
	for i := range in {
		out[i] = finite(in[i])
	}
	return out
}

type laneEntryJSON struct {
	ID          int         `json:"id"`
	ElapsedTime *float64    `json:"elapsedTime"`
	Laps        int         `json:"laps"`
	LastSectors []*float64  `json:"lastSectors"`
	BestSectors []*float64  `json:"bestSectors"`
	Times       [][]float64 `json:"times"`
	Fuel        float64     `json:"fuel"`
	InPit       bool        `json:"inPit"`
	PitVisits   int         `json:"pitVisits"`
	Sector      int         `json:"sector"`
	Finished    bool        `json:"finished"`
}

func (e LaneEntry) toJSON() laneEntryJSON {
	return laneEntryJSON{
		ID:          e.ID,
		ElapsedTime: finite(e.ElapsedTime),
		Laps:        e.Laps,
		LastSectors: finiteSlice(e.LastSectors),
		BestSectors: finiteSlice(e.BestSectors),
		Times:       e.Times,
		Fuel:        e.Fuel,
		InPit:       e.InPit,
		PitVisits:   e.PitVisits,
		Sector:      e.Sector,
		Finished:    e.Finished,
	}
}

func (e LaneEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toJSON())
}

type rankedEntryJSON struct {
	laneEntryJSON
	Position          int             `json:"position"`
	GridPosition      int             `json:"gridPosition"`
	Throttle          float64         `json:"throttle"`
	ButtonPressed     bool            `json:"buttonPressed"`
	HasPaid           bool            `json:"hasPaid"`
	CreditValue       decimal.Decimal `json:"creditValue"`
	Blocked           bool            `json:"blocked"`
	ManuallyBlocked   bool            `json:"manuallyBlocked"`
	ManuallyUnblocked bool            `json:"manuallyUnblocked"`
	Refueling         bool            `json:"refueling"`
}

func (e RankedEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(rankedEntryJSON{
		laneEntryJSON:     e.LaneEntry.toJSON(),
		Position:          e.Position,
		GridPosition:      e.GridPosition,
		Throttle:          e.Throttle,
		ButtonPressed:     e.ButtonPressed,
		HasPaid:           e.HasPaid,
		CreditValue:       e.CreditValue,
		Blocked:           e.Blocked,
		ManuallyBlocked:   e.ManuallyBlocked,
		ManuallyUnblocked: e.ManuallyUnblocked,
		Refueling:         e.Refueling,
	})
}
