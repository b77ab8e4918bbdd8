//nolint:funlen,thelper // ok for tests
package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slotracer/slotman/pkg/hardware"
	"github.com/slotracer/slotman/pkg/model"
)

// fakeCU records every command so tests can assert on the pushed state.
type fakeCU struct {
	masks         []byte
	cleared       int
	resets        int
	finishedLanes []int
	startToggles  int
}

func (f *fakeCU) Timer() <-chan hardware.TimerEvent      { return nil }
func (f *fakeCU) Fuel() <-chan []float64                 { return nil }
func (f *fakeCU) Pit() <-chan byte                       { return nil }
func (f *fakeCU) Start() <-chan int                      { return nil }
func (f *fakeCU) State() <-chan hardware.ConnectionState { return nil }
func (f *fakeCU) Mode() <-chan byte                      { return nil }

func (f *fakeCU) SetMask(mask byte) error {
	f.masks = append(f.masks, mask)
	return nil
}

func (f *fakeCU) ClearPosition() error {
	f.cleared++
	return nil
}

func (f *fakeCU) Reset() error {
	f.resets++
	return nil
}

func (f *fakeCU) SetFinished(lane int) error {
	f.finishedLanes = append(f.finishedLanes, lane)
	return nil
}

func (f *fakeCU) ToggleStart() error {
	f.startToggles++
	return nil
}

func (f *fakeCU) SetSpeed(_, _ int) error { return nil }
func (f *fakeCU) SetBrake(_, _ int) error { return nil }
func (f *fakeCU) SetFuel(_, _ int) error  { return nil }

// fakeCoinbox records credit consumption and block commands.
type fakeCoinbox struct {
	consumed [][]int
	blocked  []int
}

func (f *fakeCoinbox) Cars() <-chan []model.CarTelemetry { return nil }
func (f *fakeCoinbox) Credits(int) int                   { return 1 }

func (f *fakeCoinbox) BlockCar(_ context.Context, carID int, blocked bool) error {
	if blocked {
		f.blocked = append(f.blocked, carID)
	}
	return nil
}

func (f *fakeCoinbox) ResetCarToNormal(_ context.Context, _ int) error { return nil }

func (f *fakeCoinbox) MarkCoinsAsConsumed(_ context.Context, carIDs []int) error {
	f.consumed = append(f.consumed, carIDs)
	return nil
}

func TestController_InitializeMask(t *testing.T) {
	tests := []struct {
		name string
		opts model.RaceOptions
		want byte
	}{
		{
			name: "defaults block auto and pace lanes",
			opts: model.DefaultRaceOptions(),
			want: 0b11000000,
		},
		{
			name: "auto car enabled",
			opts: model.RaceOptions{Auto: true},
			want: 0b10000000,
		},
		{
			name: "two drivers",
			opts: model.RaceOptions{DriverCount: 2},
			want: 0b11111100,
		},
		{
			name: "everything open",
			opts: model.RaceOptions{Auto: true, Pace: true},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cu := &fakeCU{}
			c := NewController(cu, WithRaceOptions(tt.opts))
			c.Initialize()
			assert.Equal(t, tt.want, c.Mask())
			assert.Equal(t, []byte{tt.want}, cu.masks)
			assert.Equal(t, 1, cu.cleared)
			assert.Equal(t, 1, cu.resets)
		})
	}
}

func TestController_YellowFlagSavesAndRestoresMask(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu, WithRaceOptions(model.RaceOptions{DriverCount: 2}))
	c.Initialize()
	assert.Equal(t, byte(0b11111100), c.Mask())

	c.ToggleYellowFlag()
	assert.True(t, c.YellowFlag())
	assert.Equal(t, byte(0xFF), c.Mask())
	assert.False(t, c.CanRecord(0))

	c.ToggleYellowFlag()
	assert.False(t, c.YellowFlag())
	assert.Equal(t, byte(0b11111100), c.Mask())
	assert.True(t, c.CanRecord(0))
}

func TestController_ApplyUnpaidMask(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu, WithRaceOptions(model.RaceOptions{Auto: true, Pace: true}))
	c.Initialize()

	c.ApplyUnpaidMask(0b100)
	assert.Equal(t, byte(0b100), c.Mask())
	assert.Equal(t, byte(0b100), c.UnpaidMask())
	assert.False(t, c.CanRecord(2))
	assert.True(t, c.CanRecord(0))
}

func TestController_UnpaidMaskSurvivesYellowFlag(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu, WithRaceOptions(model.RaceOptions{Auto: true, Pace: true}))
	c.Initialize()

	c.ToggleYellowFlag()
	c.ApplyUnpaidMask(0b100)
	assert.Equal(t, byte(0xFF), c.Mask())

	c.ToggleYellowFlag()
	assert.Equal(t, byte(0b100), c.Mask(),
		"lifting the flag keeps the unpaid lane locked out")
	assert.False(t, c.CanRecord(2))
}

func TestController_IsFinished(t *testing.T) {
	c := NewController(&fakeCU{},
		WithRaceOptions(model.RaceOptions{Mode: model.ModeRace, Laps: 5}))
	c.Initialize()

	assert.False(t, c.IsFinished(5), "limits only count after start")
	c.Start()
	assert.False(t, c.IsFinished(4))
	assert.True(t, c.IsFinished(5))

	c.Stop()
	assert.True(t, c.IsFinished(0), "manual stop finishes everyone")
}

func TestController_FinishCascadeOutsideSlotMode(t *testing.T) {
	c := NewController(&fakeCU{},
		WithRaceOptions(model.RaceOptions{Mode: model.ModeRace, Laps: 5}))
	c.Initialize()
	c.Start()

	c.FinishLane(0)
	assert.True(t, c.IsFinished(2), "any lap count finishes once a lane is done")
}

func TestController_NoCascadeInSlotMode(t *testing.T) {
	c := NewController(&fakeCU{},
		WithRaceOptions(model.RaceOptions{Mode: model.ModeRace, Laps: 5, SlotMode: true}))
	c.Initialize()
	c.Start()

	c.FinishLane(0)
	assert.False(t, c.IsFinished(2))
	assert.True(t, c.IsFinished(5))
}

func TestController_FinishLaneAutoBlocksOnce(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu, WithRaceOptions(model.RaceOptions{Auto: true, Pace: true}))
	c.Initialize()

	c.FinishLane(1)
	assert.Equal(t, byte(0b10), c.Mask())
	assert.Equal(t, []int{1}, cu.finishedLanes)

	// clearing the bit by hand and finishing again must not re-block
	c.mask = 0
	c.FinishLane(1)
	assert.Equal(t, byte(0), c.Mask())
}

func TestController_ManualUnblockOverridesAutoBlock(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu,
		WithRaceOptions(model.RaceOptions{Auto: true, Pace: true}),
		WithManualUnblockLookup(func(laneID int) bool { return laneID == 1 }))
	c.Initialize()

	c.FinishLane(1)
	assert.True(t, c.CanRecord(1), "manually unblocked lane keeps power")
	c.FinishLane(2)
	assert.False(t, c.CanRecord(2))
}

func TestController_FinishSessionConsumesCredits(t *testing.T) {
	cu := &fakeCU{}
	coinbox := &fakeCoinbox{}
	c := NewController(cu,
		WithRaceOptions(model.RaceOptions{Mode: model.ModeRace, Laps: 3}),
		WithCoinbox(coinbox),
		WithParticipants(func() []int { return []int{0, 1, 2} }),
		WithActiveCars(func() []int { return []int{0, 1} }))
	c.Initialize()
	c.Start()
	c.ApplyUnpaidMask(0b100)

	c.FinishSession()
	assert.Equal(t, [][]int{{1, 2}}, coinbox.consumed,
		"unpaid lane 2 gets no credit consumed, car ids are 1-based")
	assert.Equal(t, []int{1, 2}, coinbox.blocked)

	// second call must not repeat the side effects
	c.FinishSession()
	assert.Len(t, coinbox.consumed, 1)
	assert.Len(t, coinbox.blocked, 2)
}

func TestController_ManualStopSkipsCreditConsumption(t *testing.T) {
	coinbox := &fakeCoinbox{}
	c := NewController(&fakeCU{},
		WithRaceOptions(model.RaceOptions{Mode: model.ModeRace}),
		WithCoinbox(coinbox),
		WithParticipants(func() []int { return []int{0, 1} }),
		WithActiveCars(func() []int { return []int{0, 1} }))
	c.Initialize()
	c.Start()

	c.Stop()
	assert.Empty(t, coinbox.consumed)
	assert.Equal(t, []int{1, 2}, coinbox.blocked)
	assert.True(t, c.Finished())
}

func TestController_StopFinishTogglesHardwareStart(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu,
		WithRaceOptions(model.RaceOptions{StopFinish: true}))
	c.Initialize()
	c.Start()
	c.HandleStartState(2)

	c.FinishSession()
	assert.Equal(t, 1, cu.startToggles)
}

func TestController_StartStateRepushesMask(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu, WithRaceOptions(model.RaceOptions{DriverCount: 4}))
	c.Initialize()
	pushes := len(cu.masks)

	c.HandleStartState(3)
	assert.Len(t, cu.masks, pushes+1)
	// same code again, no re-push
	c.HandleStartState(3)
	assert.Len(t, cu.masks, pushes+1)
	// returning to zero does not re-push either
	c.HandleStartState(0)
	assert.Len(t, cu.masks, pushes+1)
}

func TestController_ReconnectRepushesMask(t *testing.T) {
	cu := &fakeCU{}
	c := NewController(cu, WithRaceOptions(model.RaceOptions{DriverCount: 4}))
	c.Initialize()
	pushes := len(cu.masks)

	c.HandleConnection(hardware.Connected)
	assert.Len(t, cu.masks, pushes+1)
	c.HandleConnection(hardware.Connected)
	assert.Len(t, cu.masks, pushes+1)
	c.HandleConnection(hardware.Disconnected)
	c.HandleConnection(hardware.Connected)
	assert.Len(t, cu.masks, pushes+2)
}

func TestController_CountdownLifecycle(t *testing.T) {
	c := NewController(&fakeCU{},
		WithRaceOptions(model.RaceOptions{Time: 2 * time.Second}))
	c.Initialize()

	assert.False(t, c.TickCountdown(time.Second), "not started yet")
	assert.Equal(t, 2*time.Second, c.Countdown())

	c.Start()
	assert.False(t, c.TickCountdown(time.Second))
	assert.True(t, c.TickCountdown(3*time.Second), "expires exactly once")
	assert.Equal(t, time.Duration(0), c.Countdown())
	assert.False(t, c.TickCountdown(time.Second))
}

func TestController_CountdownPausedWhileStartLightUp(t *testing.T) {
	c := NewController(&fakeCU{},
		WithRaceOptions(model.RaceOptions{Time: 10 * time.Second, Pause: true}))
	c.Initialize()
	c.Start()
	c.HandleConnection(hardware.Connected)

	c.HandleStartState(3)
	assert.False(t, c.TickCountdown(time.Second))
	assert.Equal(t, 10*time.Second, c.Countdown())

	c.HandleStartState(0)
	assert.False(t, c.TickCountdown(time.Second))
	assert.Equal(t, 9*time.Second, c.Countdown())
}
