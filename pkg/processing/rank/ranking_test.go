//nolint:funlen,thelper // ok for tests
package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slotracer/slotman/pkg/model"
	"github.com/slotracer/slotman/pkg/processing/lane"
	"github.com/slotracer/slotman/pkg/processing/roster"
)

func testRoster(mask byte) *roster.Roster {
	return roster.New(mask, func(laneID int) *lane.Track {
		return lane.NewTrack(laneID)
	})
}

func cross(ro *roster.Roster, laneID int, times ...float64) {
	track, _ := ro.Get(laneID)
	for _, tm := range times {
		track.Crossing(tm, 1)
	}
}

func positions(entries []model.RankedEntry) []int {
	ids := make([]int, 0, len(entries))
	for i := range entries {
		ids = append(ids, entries[i].ID)
	}
	return ids
}

func TestRanking_RaceOrderLapsThenElapsed(t *testing.T) {
	ro := testRoster(0b11111000)
	cross(ro, 0, 0, 40000, 80000)         // 2 laps, elapsed 80000
	cross(ro, 1, 0, 39000, 79000, 118000) // 3 laps, elapsed 118000
	cross(ro, 2, 0, 41000, 81000, 120000) // 3 laps, elapsed 120000

	r := NewRanking(WithMode(model.ModeRace), WithRoster(ro))
	entries := r.Compute()

	assert.Equal(t, []int{1, 2, 0}, positions(entries))
	assert.Equal(t, 0, entries[0].Position)
	assert.Equal(t, 2, entries[2].Position)
}

func TestRanking_PracticeOrderByBestLap(t *testing.T) {
	ro := testRoster(0b11111000)
	cross(ro, 0, 0, 45000)        // best 45000
	cross(ro, 1, 0, 41000, 95000) // best 41000
	// lane 2 never crossed

	r := NewRanking(WithMode(model.ModePractice), WithRoster(ro))
	entries := r.Compute()

	assert.Equal(t, []int{1, 0, 2}, positions(entries))
}

func TestRanking_DeterministicForEqualLanes(t *testing.T) {
	ro := testRoster(0b11111100)
	r := NewRanking(WithMode(model.ModeRace), WithRoster(ro))
	first := positions(r.Compute())
	for n := 0; n < 5; n++ {
		assert.Equal(t, first, positions(r.Compute()))
	}
	assert.Equal(t, []int{0, 1}, first)
}

func TestRanking_UnpaidLanesExcluded(t *testing.T) {
	ro := testRoster(0b11111000)
	cross(ro, 0, 0, 40000)
	cross(ro, 2, 0, 39000)

	r := NewRanking(WithMode(model.ModeRace), WithRoster(ro))
	r.SetUnpaidMask(0b100)
	entries := r.Compute()

	assert.Equal(t, []int{0, 1}, positions(entries))
}

func TestRanking_TelemetryOverlay(t *testing.T) {
	ro := testRoster(0b11111110)
	credits := map[int]int{1: 2}
	r := NewRanking(WithMode(model.ModeRace), WithRoster(ro),
		WithCreditLookup(func(carID int) int { return credits[carID] }))
	r.UpdateTelemetry([]model.CarTelemetry{
		{CarID: 1, Throttle: 0.7, ButtonPressed: true, Blocked: true},
	})
	entries := r.Compute()

	assert.Len(t, entries, 1)
	assert.Equal(t, 0.7, entries[0].Throttle)
	assert.True(t, entries[0].ButtonPressed)
	assert.True(t, entries[0].Blocked)
	assert.True(t, entries[0].HasPaid)
}

func TestRanking_GridPositionsAssignedOnce(t *testing.T) {
	ro := testRoster(0b11111100)
	r := NewRanking(WithMode(model.ModeRace), WithRoster(ro))

	entries := r.Compute()
	assert.Equal(t, -1, entries[0].GridPosition, "no time recorded yet")

	cross(ro, 1, 1000)
	entries = r.Compute()
	byID := indexByID(entries)
	assert.Equal(t, 0, byID[1].GridPosition)
	assert.Equal(t, -1, byID[0].GridPosition)

	cross(ro, 0, 2000)
	// lane 0 now has a time; its grid slot reflects the current rank
	entries = r.Compute()
	byID = indexByID(entries)
	assert.Equal(t, 1, byID[0].GridPosition)

	// later overtakes never change grid positions
	cross(ro, 0, 40000, 80000)
	entries = r.Compute()
	byID = indexByID(entries)
	assert.Equal(t, 1, byID[0].GridPosition)
	assert.Equal(t, 0, byID[1].GridPosition)
}

func TestRanking_RefuelingDetection(t *testing.T) {
	ro := testRoster(0b11111110)
	track, _ := ro.Get(0)
	r := NewRanking(WithMode(model.ModeRace), WithRoster(ro))

	track.SetFuel(5)
	track.SetPit(true)
	entries := r.Compute()
	assert.False(t, entries[0].Refueling, "level not rising yet")

	track.SetFuel(8)
	entries = r.Compute()
	assert.True(t, entries[0].Refueling)

	track.SetPit(false)
	entries = r.Compute()
	assert.False(t, entries[0].Refueling)
}

func indexByID(entries []model.RankedEntry) map[int]model.RankedEntry {
	ret := make(map[int]model.RankedEntry, len(entries))
	for i := range entries {
		ret[entries[i].ID] = entries[i]
	}
	return ret
}
