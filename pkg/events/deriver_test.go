//nolint:funlen,thelper // ok for tests
package events

import (
	"math"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"

	"github.com/slotracer/slotman/pkg/model"
)

func entry(id, laps int, elapsed float64) model.RankedEntry {
	return model.RankedEntry{
		LaneEntry: model.LaneEntry{
			ID:          id,
			Laps:        laps,
			ElapsedTime: elapsed,
			LastSectors: []float64{},
			BestSectors: []float64{},
		},
	}
}

func kinds(evs []model.RaceEvent) []model.EventKind {
	return lo.Map(evs, func(ev model.RaceEvent, _ int) model.EventKind {
		return ev.Kind
	})
}

func TestDeriver_FirstSnapshotEmitsNothing(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Mode: model.ModeRace}))
	evs := d.OnLeaderboard([]model.RankedEntry{entry(0, 0, math.NaN())}, false)
	assert.Empty(t, evs)
}

func TestDeriver_BestLapGatedToThreeLaps(t *testing.T) {
	d := NewDeriver()
	e := entry(0, 2, 80000)
	e.BestSectors = []float64{42000}
	d.OnLeaderboard([]model.RankedEntry{e}, false)

	improved := entry(0, 2, 120000)
	improved.BestSectors = []float64{41000}
	evs := d.OnLeaderboard([]model.RankedEntry{improved}, false)
	assert.Empty(t, evs, "below the lap gate")

	improved.Laps = 3
	improved.BestSectors = []float64{40000}
	evs = d.OnLeaderboard([]model.RankedEntry{improved}, false)
	assert.Equal(t, []model.EventKind{model.EventBestLap}, kinds(evs))
	assert.Equal(t, "bestlap", evs[0].Name())
}

func TestDeriver_BestSectorImprovement(t *testing.T) {
	d := NewDeriver()
	e := entry(0, 1, 42000)
	e.BestSectors = []float64{42000, 15000, 14000}
	d.OnLeaderboard([]model.RankedEntry{e}, false)

	e.BestSectors = []float64{42000, 14500, 14000}
	evs := d.OnLeaderboard([]model.RankedEntry{e}, false)
	assert.Equal(t, []model.EventKind{model.EventBestSector}, kinds(evs))
	assert.Equal(t, 1, evs[0].Sector)
	assert.Equal(t, "bests1", evs[0].Name())
}

func TestDeriver_FuelAndPitEvents(t *testing.T) {
	d := NewDeriver()
	e := entry(0, 1, 42000)
	e.Fuel = 10
	d.OnLeaderboard([]model.RankedEntry{e}, false)

	e.Fuel = 9
	e.InPit = true
	evs := d.OnLeaderboard([]model.RankedEntry{e}, false)
	assert.ElementsMatch(t,
		[]model.EventKind{model.EventFuel, model.EventPitEnter}, kinds(evs))

	e.InPit = false
	evs = d.OnLeaderboard([]model.RankedEntry{e}, false)
	assert.Equal(t, []model.EventKind{model.EventPitExit}, kinds(evs))
}

func TestDeriver_NoFuelEventsForFinishedLane(t *testing.T) {
	d := NewDeriver()
	e := entry(0, 5, 200000)
	e.Fuel = 10
	e.Finished = true
	d.OnLeaderboard([]model.RankedEntry{e}, false)

	e.Fuel = 9
	evs := d.OnLeaderboard([]model.RankedEntry{e}, false)
	assert.Empty(t, evs)
}

func TestDeriver_PodiumEvents(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Mode: model.ModeRace}))
	a := entry(0, 5, 200000)
	b := entry(1, 4, 210000)
	d.OnLeaderboard([]model.RankedEntry{a, b}, false)

	a.Finished = true
	evs := d.OnLeaderboard([]model.RankedEntry{a, b}, false)
	assert.Contains(t, kinds(evs), model.EventFinished1st)

	b.Finished = true
	evs = d.OnLeaderboard([]model.RankedEntry{a, b}, false)
	assert.Contains(t, kinds(evs), model.EventFinished2nd)
	assert.NotContains(t, kinds(evs), model.EventFinished1st)
}

func TestDeriver_SingleCompetitorGetsGenericFinish(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Mode: model.ModeRace}))
	a := entry(0, 5, 200000)
	d.OnLeaderboard([]model.RankedEntry{a}, false)

	a.Finished = true
	evs := d.OnLeaderboard([]model.RankedEntry{a}, false)
	assert.Equal(t, []model.EventKind{model.EventFinished}, kinds(evs))
}

func TestDeriver_NewLeader(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Mode: model.ModeRace}))
	a := entry(0, 2, 80000)
	b := entry(1, 2, 81000)
	evs := d.OnLeaderboard([]model.RankedEntry{a, b}, false)
	assert.Empty(t, evs, "initial leader is not announced")

	evs = d.OnLeaderboard([]model.RankedEntry{b, a}, false)
	assert.Equal(t, []model.EventKind{model.EventNewLeader}, kinds(evs))
	assert.Equal(t, 1, evs[0].Driver.Lane)

	evs = d.OnLeaderboard([]model.RankedEntry{b, a}, false)
	assert.Empty(t, evs, "leader unchanged")
}

func TestDeriver_NewLeaderOnlyInRaceMode(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Mode: model.ModePractice}))
	a := entry(0, 2, 80000)
	b := entry(1, 2, 81000)
	d.OnLeaderboard([]model.RankedEntry{a, b}, false)
	evs := d.OnLeaderboard([]model.RankedEntry{b, a}, false)
	assert.Empty(t, evs)
}

func TestDeriver_AllDoneFiresOnce(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Mode: model.ModeRace}))
	a := entry(0, 5, 200000)
	a.Finished = true
	b := entry(1, 5, 210000)
	b.Finished = true

	evs := d.OnLeaderboard([]model.RankedEntry{a, b}, true)
	assert.Contains(t, kinds(evs), model.EventAllDone)

	evs = d.OnLeaderboard([]model.RankedEntry{a, b}, true)
	assert.NotContains(t, kinds(evs), model.EventAllDone)
}

func TestDeriver_OneMinuteAndTimeout(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Time: 5 * time.Minute}))

	evs := d.OnCountdown(2*time.Minute, false)
	assert.Empty(t, evs)

	evs = d.OnCountdown(59*time.Second, false)
	assert.Equal(t, []model.EventKind{model.EventOneMinute}, kinds(evs))

	evs = d.OnCountdown(30*time.Second, false)
	assert.Empty(t, evs, "one minute warning fires once")

	evs = d.OnCountdown(0, false)
	assert.Equal(t, []model.EventKind{model.EventTimeout}, kinds(evs))

	evs = d.OnCountdown(0, false)
	assert.Empty(t, evs)
}

func TestDeriver_NoOneMinuteForShortSessions(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Time: 90 * time.Second}))
	evs := d.OnCountdown(50*time.Second, false)
	assert.Empty(t, evs)
}

func TestDeriver_CountdownSuppressedWhenFinished(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Time: 5 * time.Minute}))
	evs := d.OnCountdown(0, true)
	assert.Empty(t, evs)
}

func TestDeriver_YellowFlagEdges(t *testing.T) {
	d := NewDeriver()
	assert.Empty(t, d.OnYellowFlag(false))
	assert.Equal(t, []model.EventKind{model.EventYellowFlag},
		kinds(d.OnYellowFlag(true)))
	assert.Empty(t, d.OnYellowFlag(true))
	assert.Equal(t, []model.EventKind{model.EventGreenFlag},
		kinds(d.OnYellowFlag(false)))
}

func TestDeriver_FiveLapsAndFinalLap(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Laps: 12}))

	assert.Empty(t, d.OnLap(7, false))
	assert.Equal(t, []model.EventKind{model.EventFiveLaps},
		kinds(d.OnLap(8, false)))
	assert.Empty(t, d.OnLap(9, false))
	assert.Equal(t, []model.EventKind{model.EventFinalLap},
		kinds(d.OnLap(12, false)))
	assert.Empty(t, d.OnLap(12, false))
}

func TestDeriver_NoFiveLapsForShortRaces(t *testing.T) {
	d := NewDeriver(WithRaceOptions(model.RaceOptions{Laps: 8}))
	assert.Empty(t, d.OnLap(4, false))
	assert.Equal(t, []model.EventKind{model.EventFinalLap},
		kinds(d.OnLap(8, false)))
}

func TestDeriver_FalseStart(t *testing.T) {
	d := NewDeriver()
	assert.Empty(t, d.OnStartSignal(3))
	assert.Equal(t, []model.EventKind{model.EventFalseStart},
		kinds(d.OnStartSignal(9)))
	assert.Empty(t, d.OnStartSignal(9), "edge triggered")
	assert.Empty(t, d.OnStartSignal(0))
}

func TestDeriver_DriverContextAttached(t *testing.T) {
	d := NewDeriver(
		WithRaceOptions(model.RaceOptions{Mode: model.ModeRace}),
		WithDriverLookup(func(laneID int) *model.DriverContext {
			return &model.DriverContext{Lane: laneID, Name: "Alice"}
		}))
	e := entry(0, 3, 120000)
	e.BestSectors = []float64{42000}
	d.OnLeaderboard([]model.RankedEntry{e}, false)

	e.BestSectors = []float64{41000}
	evs := d.OnLeaderboard([]model.RankedEntry{e}, false)
	assert.Equal(t, "Alice", evs[0].Driver.Name)
}
