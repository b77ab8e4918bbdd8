package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slotracer/slotman/pkg/processing/lane"
)

func newTestRoster(mask byte) *Roster {
	return New(mask, func(laneID int) *lane.Track {
		return lane.NewTrack(laneID)
	})
}

func TestRoster_SeedsFromHardwareMask(t *testing.T) {
	r := newTestRoster(0b11111100)
	assert.Equal(t, []int{0, 1}, r.Lanes())
	_, ok := r.Get(2)
	assert.False(t, ok)
}

func TestRoster_ObserveCarAddsLane(t *testing.T) {
	r := newTestRoster(0b11111100)

	track := r.ObserveCar(4) // car 4 races on lane 3
	assert.NotNil(t, track)
	assert.Equal(t, []int{0, 1, 3}, r.Lanes())
	assert.Equal(t, byte(0b1000), r.ActiveMask())

	// observing an already tracked lane returns the same track
	again := r.ObserveCar(4)
	assert.Same(t, track, again)
	assert.Equal(t, []int{0, 1, 3}, r.Lanes())
}

func TestRoster_ObserveCarOutOfRange(t *testing.T) {
	r := newTestRoster(0xFF)
	assert.Nil(t, r.ObserveCar(0))
	assert.Nil(t, r.ObserveCar(9))
	assert.Empty(t, r.Lanes())
}

func TestRoster_LanesStayWhenMaskChanges(t *testing.T) {
	r := newTestRoster(0b11111110)
	r.ObserveCar(3)
	// no removal API exists; once tracked, a lane keeps its history
	assert.Equal(t, []int{0, 2}, r.Lanes())
}

func TestRoster_LanesReturnsClone(t *testing.T) {
	r := newTestRoster(0b11111100)
	lanes := r.Lanes()
	lanes[0] = 99
	assert.Equal(t, []int{0, 1}, r.Lanes())
}
