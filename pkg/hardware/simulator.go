package hardware

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

const simStreamBuffer = 16

// Simulator is a self-driving ControlUnit for development and demos.
// It emits crossings for every unmasked lane on a jittered lap time,
// drains fuel per lap and wraps its raw counter like the real hardware.
type Simulator struct {
	mu sync.Mutex

	lanes      int
	sectors    int
	lapTime    time.Duration
	jitter     float64 // fraction of lapTime, per sector
	counterMax float64 // raw counter wraps at this value
	falseStart float64 // chance that a start sequence ends in a jump start
	rng        *rand.Rand

	mask     byte
	finished byte
	started  bool
	raw      float64
	fuel     []float64
	nextDue  []time.Duration // per lane, time until next crossing
	sector   []int

	timerCh chan TimerEvent
	fuelCh  chan []float64
	pitCh   chan byte
	startCh chan int
	stateCh chan ConnectionState
	modeCh  chan byte
}

type SimOption func(*Simulator)

func WithLanes(n int) SimOption {
	return func(s *Simulator) {
		s.lanes = n
	}
}

func WithSectors(n int) SimOption {
	return func(s *Simulator) {
		s.sectors = n
	}
}

func WithLapTime(d time.Duration) SimOption {
	return func(s *Simulator) {
		s.lapTime = d
	}
}

func WithSeed(seed int64) SimOption {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // not crypto
	}
}

// WithFalseStartChance makes the start sequence occasionally end with a
// jump-start code instead of the running state.
func WithFalseStartChance(p float64) SimOption {
	return func(s *Simulator) {
		s.falseStart = p
	}
}

// WithCounterLimit lowers the wraparound point so tests exercise the
// raw-counter reset quickly.
func WithCounterLimit(limit float64) SimOption {
	return func(s *Simulator) {
		s.counterMax = limit
	}
}

func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		lanes:      4,
		sectors:    1,
		lapTime:    5 * time.Second,
		jitter:     0.15,
		counterMax: math.MaxUint32,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec,lll // not crypto
		timerCh:    make(chan TimerEvent, simStreamBuffer),
		fuelCh:     make(chan []float64, simStreamBuffer),
		pitCh:      make(chan byte, simStreamBuffer),
		startCh:    make(chan int, simStreamBuffer),
		stateCh:    make(chan ConnectionState, simStreamBuffer),
		modeCh:     make(chan byte, simStreamBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fuel = make([]float64, s.lanes)
	s.nextDue = make([]time.Duration, s.lanes)
	s.sector = make([]int, s.lanes)
	for i := 0; i < s.lanes; i++ {
		s.fuel[i] = 15
		s.sector[i] = 1
		s.nextDue[i] = s.sectorGap(i)
	}
	return s
}

func (s *Simulator) Timer() <-chan TimerEvent      { return s.timerCh }
func (s *Simulator) Fuel() <-chan []float64        { return s.fuelCh }
func (s *Simulator) Pit() <-chan byte              { return s.pitCh }
func (s *Simulator) Start() <-chan int             { return s.startCh }
func (s *Simulator) State() <-chan ConnectionState { return s.stateCh }
func (s *Simulator) Mode() <-chan byte             { return s.modeCh }

func (s *Simulator) SetMask(mask byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mask = mask
	return nil
}

func (s *Simulator) ClearPosition() error { return nil }

func (s *Simulator) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = 0
	s.finished = 0
	for i := 0; i < s.lanes; i++ {
		s.fuel[i] = 15
		s.sector[i] = 1
		s.nextDue[i] = s.sectorGap(i)
	}
	return nil
}

func (s *Simulator) SetFinished(lane int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lane >= 0 && lane < 8 {
		s.finished |= 1 << lane
	}
	return nil
}

func (s *Simulator) ToggleStart() error {
	s.mu.Lock()
	started := s.started
	s.started = !started
	s.mu.Unlock()
	if started {
		push(s.startCh, StartArmed)
	} else {
		// countdown stages down to the running state
		go s.runStartSequence()
	}
	return nil
}

func (s *Simulator) SetSpeed(_, _ int) error { return nil }
func (s *Simulator) SetBrake(_, _ int) error { return nil }

func (s *Simulator) SetFuel(lane, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lane >= 0 && lane < s.lanes {
		s.fuel[lane] = float64(value)
	}
	return nil
}

func (s *Simulator) runStartSequence() {
	for code := 6; code >= 2; code-- {
		push(s.startCh, code)
		time.Sleep(time.Second)
	}
	s.mu.Lock()
	jumped := s.falseStart > 0 && s.rng.Float64() < s.falseStart
	s.mu.Unlock()
	if jumped {
		push(s.startCh, FalseStartSentinel)
		return
	}
	push(s.startCh, StartRunning)
}

// Run drives the simulation until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	push(s.stateCh, Connected)
	push(s.modeCh, ModeFuel)
	const step = 100 * time.Millisecond
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.advance(step)
		}
	}
}

//nolint:cyclop // simulation step is one unit
func (s *Simulator) advance(step time.Duration) {
	s.mu.Lock()
	s.raw += float64(step.Milliseconds())
	if s.raw >= s.counterMax {
		s.raw -= s.counterMax
	}
	var due []TimerEvent
	var fuelSnapshot []float64
	for i := 0; i < s.lanes; i++ {
		if s.mask&(1<<i) != 0 || s.finished&(1<<i) != 0 {
			continue
		}
		s.nextDue[i] -= step
		if s.nextDue[i] > 0 {
			continue
		}
		due = append(due, TimerEvent{Lane: i, RawTime: s.raw, Sector: s.sector[i]})
		if s.sector[i] == 1 && s.fuel[i] > 0 {
			s.fuel[i]--
			fuelSnapshot = append([]float64(nil), s.fuel...)
		}
		s.sector[i]++
		if s.sector[i] > s.sectors {
			s.sector[i] = 1
		}
		s.nextDue[i] = s.sectorGap(i)
	}
	s.mu.Unlock()
	for _, ev := range due {
		push(s.timerCh, ev)
	}
	if fuelSnapshot != nil {
		push(s.fuelCh, fuelSnapshot)
	}
}

// sectorGap spreads the lap time evenly over the sector markers with
// lane-local jitter. Must be called with the lock held.
func (s *Simulator) sectorGap(lane int) time.Duration {
	base := s.lapTime / time.Duration(s.sectors)
	spread := float64(base) * s.jitter
	delta := (s.rng.Float64()*2 - 1) * spread
	// slower lanes stay slower so the ranking moves around believably
	bias := float64(lane) * 0.02 * float64(base)
	return base + time.Duration(delta+bias)
}

func push[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
