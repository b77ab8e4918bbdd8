// Package processing wires the per-lane pipeline together: raw
// hardware events flow through the timer normalizer into the lane
// tracks, the ranking engine recomputes the leaderboard on every
// update, and the event deriver turns snapshot transitions into
// discrete notifications. Everything runs on one goroutine; external
// commands are funneled through a command channel.
package processing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/slotracer/slotman/log"
	"github.com/slotracer/slotman/pkg/events"
	"github.com/slotracer/slotman/pkg/hardware"
	"github.com/slotracer/slotman/pkg/model"
	"github.com/slotracer/slotman/pkg/processing/lane"
	"github.com/slotracer/slotman/pkg/processing/rank"
	"github.com/slotracer/slotman/pkg/processing/roster"
	"github.com/slotracer/slotman/pkg/processing/timer"
	"github.com/slotracer/slotman/pkg/session"
	"github.com/slotracer/slotman/pkg/telemetry"
)

const (
	countdownTick = 500 * time.Millisecond
	streamBuffer  = 16
)

type Processor struct {
	opts    model.RaceOptions
	l       *log.Logger
	cu      hardware.ControlUnit
	coinbox telemetry.Client
	drivers []model.Driver

	normalizer *timer.Normalizer
	roster     *roster.Roster
	ranking    *rank.Ranking
	session    *session.Controller
	deriver    *events.Deriver

	latestTelemetry map[int]model.CarTelemetry // key: lane id
	latestPit       byte
	unpaidApplied   bool
	lastLapCount    int

	commands chan func()

	leaderboardCh chan []model.RankedEntry
	lapCh         chan model.CurrentLap
	countdownCh   chan time.Duration
	eventCh       chan model.RaceEvent
	statusCh      chan session.Status
}

type Option func(*Processor)

func WithRaceOptions(opts model.RaceOptions) Option {
	return func(p *Processor) {
		p.opts = opts
	}
}

func WithCoinbox(client telemetry.Client) Option {
	return func(p *Processor) {
		p.coinbox = client
	}
}

func WithDrivers(drivers []model.Driver) Option {
	return func(p *Processor) {
		p.drivers = drivers
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) {
		p.l = l
	}
}

func NewProcessor(cu hardware.ControlUnit, opts ...Option) *Processor {
	p := &Processor{
		opts:            model.DefaultRaceOptions(),
		l:               log.Default().Named("processing"),
		cu:              cu,
		normalizer:      timer.NewNormalizer(),
		latestTelemetry: make(map[int]model.CarTelemetry),
		lastLapCount:    -1,
		commands:        make(chan func(), streamBuffer),
		leaderboardCh:   make(chan []model.RankedEntry, streamBuffer),
		lapCh:           make(chan model.CurrentLap, streamBuffer),
		countdownCh:     make(chan time.Duration, streamBuffer),
		eventCh:         make(chan model.RaceEvent, streamBuffer),
		statusCh:        make(chan session.Status, streamBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.session = session.NewController(cu,
		session.WithRaceOptions(p.opts),
		session.WithCoinbox(p.coinbox),
		session.WithLogger(p.l.Named("session")),
		session.WithManualUnblockLookup(func(laneID int) bool {
			tm, ok := p.latestTelemetry[laneID]
			return ok && tm.ManuallyUnblocked
		}),
		session.WithParticipants(func() []int { return p.roster.Lanes() }),
		session.WithActiveCars(p.activeLanes),
	)
	p.session.Initialize()
	p.roster = roster.New(p.session.Mask(), p.newTrack)

	rankOpts := []rank.Option{
		rank.WithMode(p.opts.Mode),
		rank.WithRoster(p.roster),
	}
	if p.coinbox != nil {
		rankOpts = append(rankOpts, rank.WithCreditLookup(p.coinbox.Credits))
	}
	p.ranking = rank.NewRanking(rankOpts...)

	p.deriver = events.NewDeriver(
		events.WithRaceOptions(p.opts),
		events.WithDriverLookup(p.driverContext),
	)
	return p
}

func (p *Processor) newTrack(laneID int) *lane.Track {
	return lane.NewTrack(laneID,
		lane.WithMinLapTime(p.opts.MinLapTime),
		lane.WithRecordGuard(p.session.CanRecord),
		lane.WithFinishPredicate(p.session.IsFinished),
		lane.WithFinishSignal(p.session.FinishLane),
	)
}

func (p *Processor) activeLanes() []int {
	active := p.roster.ActiveMask()
	lanes := make([]int, 0, roster.MaxLanes)
	for i := 0; i < roster.MaxLanes; i++ {
		if active&(1<<i) != 0 {
			lanes = append(lanes, i)
		}
	}
	return lanes
}

func (p *Processor) driverContext(laneID int) *model.DriverContext {
	ctx := &model.DriverContext{
		Lane: laneID,
		Name: fmt.Sprintf("Driver %d", laneID+1),
	}
	if laneID >= 0 && laneID < len(p.drivers) && p.drivers[laneID].Name != "" {
		ctx.Name = p.drivers[laneID].Name
		ctx.Code = p.drivers[laneID].Code
		ctx.Color = p.drivers[laneID].Color
	}
	return ctx
}

// Exposed live streams, to be wrapped in broadcast servers by the
// caller. Status carries immutable session snapshots; the controller
// itself never leaves the processing goroutine.
func (p *Processor) Leaderboard() <-chan []model.RankedEntry { return p.leaderboardCh }
func (p *Processor) CurrentLap() <-chan model.CurrentLap     { return p.lapCh }
func (p *Processor) CountdownStream() <-chan time.Duration   { return p.countdownCh }
func (p *Processor) Events() <-chan model.RaceEvent          { return p.eventCh }
func (p *Processor) Status() <-chan session.Status           { return p.statusCh }

// External commands; they execute on the processing goroutine.

func (p *Processor) Start() {
	p.enqueue(func() {
		p.session.Start()
		p.tick()
	})
}

func (p *Processor) Stop() {
	p.enqueue(func() {
		p.session.Stop()
		p.tick()
	})
}

func (p *Processor) ToggleYellowFlag() {
	p.enqueue(func() {
		p.session.ToggleYellowFlag()
		p.emit(p.deriver.OnYellowFlag(p.session.YellowFlag()))
		p.applyPit()
		p.tick()
	})
}

func (p *Processor) ApplyUnpaidMask(mask byte) {
	p.enqueue(func() {
		p.session.ApplyUnpaidMask(mask)
		p.ranking.SetUnpaidMask(mask)
		p.unpaidApplied = true
		p.tick()
	})
}

func (p *Processor) enqueue(cmd func()) {
	select {
	case p.commands <- cmd:
	default:
		p.l.Warn("command queue full, dropping command")
	}
}

// Run processes events until the context is cancelled. All race state
// is owned by this goroutine.
//
//nolint:cyclop,gocognit // the select fan-in is one unit
func (p *Processor) Run(ctx context.Context) {
	var tickC <-chan time.Time
	if p.opts.Time > 0 {
		ticker := time.NewTicker(countdownTick)
		defer ticker.Stop()
		tickC = ticker.C
		p.publishCountdown(p.session.Countdown())
	}
	var carsC <-chan []model.CarTelemetry
	if p.coinbox != nil {
		carsC = p.coinbox.Cars()
	}
	timerC := p.cu.Timer()
	fuelC := p.cu.Fuel()
	pitC := p.cu.Pit()
	startC := p.cu.Start()
	stateC := p.cu.State()
	modeC := p.cu.Mode()
	p.publishStatus()

	for {
		select {
		case <-ctx.Done():
			p.teardown()
			return
		case cmd := <-p.commands:
			cmd()
		case ev, ok := <-timerC:
			if !ok {
				timerC = nil
				continue
			}
			p.handleTimer(ev)
		case levels, ok := <-fuelC:
			if !ok {
				fuelC = nil
				continue
			}
			p.handleFuel(levels)
		case mask, ok := <-pitC:
			if !ok {
				pitC = nil
				continue
			}
			p.latestPit = mask
			p.applyPit()
			p.tick()
		case code, ok := <-startC:
			if !ok {
				startC = nil
				continue
			}
			p.handleStart(code)
		case st, ok := <-stateC:
			if !ok {
				stateC = nil
				continue
			}
			p.session.HandleConnection(st)
		case <-modeC:
			// pit-lane/fuel capability flags, informational only
		case cars, ok := <-carsC:
			if !ok {
				carsC = nil
				continue
			}
			p.handleCars(cars)
		case <-tickC:
			p.handleCountdownTick()
		}
	}
}

func (p *Processor) teardown() {
	close(p.leaderboardCh)
	close(p.lapCh)
	close(p.countdownCh)
	close(p.eventCh)
	close(p.statusCh)
}

func (p *Processor) handleTimer(ev hardware.TimerEvent) {
	corrected := p.normalizer.Normalize(timer.Event{
		Lane:    ev.Lane,
		RawTime: ev.RawTime,
		Sector:  ev.Sector,
	})
	track, ok := p.roster.Get(corrected.Lane)
	if !ok {
		return
	}
	track.Crossing(corrected.Time, corrected.Sector)
	p.tick()
}

func (p *Processor) handleFuel(levels []float64) {
	for laneID, level := range levels {
		if track, ok := p.roster.Get(laneID); ok {
			track.SetFuel(level)
		}
	}
	p.tick()
}

// applyPit distributes the pit bitmask; masked-out lanes never show as
// pitted.
func (p *Processor) applyPit() {
	effective := p.latestPit &^ p.session.Mask()
	for _, laneID := range p.roster.Lanes() {
		if track, ok := p.roster.Get(laneID); ok {
			track.SetPit(effective&(1<<laneID) != 0)
		}
	}
}

func (p *Processor) handleStart(code int) {
	p.session.HandleStartState(code)
	if code != 0 && !p.unpaidApplied && p.coinbox != nil {
		p.applyUnpaidFromCredits()
	}
	p.emit(p.deriver.OnStartSignal(code))
	p.publishStatus()
}

// applyUnpaidFromCredits locks out, for the rest of the session, every
// lane without a paid credit at the moment the start-light sequence
// begins.
func (p *Processor) applyUnpaidFromCredits() {
	var unpaid byte
	for _, laneID := range p.roster.Lanes() {
		if p.coinbox.Credits(laneID+1) <= 0 {
			unpaid |= 1 << laneID
		}
	}
	p.unpaidApplied = true
	if unpaid == 0 {
		return
	}
	p.l.Info("locking out unpaid lanes", log.Uint32("mask", uint32(unpaid)))
	p.session.ApplyUnpaidMask(unpaid)
	p.ranking.SetUnpaidMask(unpaid)
	p.tick()
}

func (p *Processor) handleCars(cars []model.CarTelemetry) {
	for i := range cars {
		if cars[i].Active {
			p.roster.ObserveCar(cars[i].CarID)
		}
		laneID := cars[i].CarID - 1
		if laneID >= 0 && laneID < roster.MaxLanes {
			p.latestTelemetry[laneID] = cars[i]
		}
	}
	p.ranking.UpdateTelemetry(cars)
	p.tick()
}

func (p *Processor) handleCountdownTick() {
	expired := p.session.TickCountdown(countdownTick)
	remaining := p.session.Countdown()
	p.publishCountdown(remaining)
	// derive timeout/oneminute before finalizing so "not already
	// finished" refers to the state when the countdown hit zero
	p.emit(p.deriver.OnCountdown(remaining, p.session.Finished()))
	if expired {
		p.session.FinishSession()
	}
	p.tick()
}

// tick recomputes and publishes the leaderboard and everything derived
// from it.
func (p *Processor) tick() {
	ranked := p.ranking.Compute()
	select {
	case p.leaderboardCh <- ranked:
	default:
	}
	p.publishLap(ranked)
	p.emit(p.deriver.OnLeaderboard(ranked, p.session.Finished()))
	p.checkAllDone(ranked)
	p.publishStatus()
}

func (p *Processor) publishLap(ranked []model.RankedEntry) {
	leader, ok := rank.Leader(ranked)
	if !ok {
		return
	}
	count := leader.Laps + 1
	if p.opts.Laps > 0 && count > p.opts.Laps {
		count = p.opts.Laps
	}
	if count == p.lastLapCount {
		return
	}
	p.lastLapCount = count
	select {
	case p.lapCh <- model.CurrentLap{Count: count, Total: p.opts.Laps}:
	default:
	}
	p.emit(p.deriver.OnLap(count, p.session.Finished()))
}

func (p *Processor) publishCountdown(remaining time.Duration) {
	select {
	case p.countdownCh <- remaining:
	default:
	}
}

func (p *Processor) publishStatus() {
	select {
	case p.statusCh <- p.session.Status():
	default:
	}
}

// checkAllDone runs the global finish side effects once every lane
// that recorded a time has crossed the line. Enabled-but-idle lanes
// (reserved auto/pace slots, empty grid spots) never hold this up.
func (p *Processor) checkAllDone(ranked []model.RankedEntry) {
	if p.session.Concluded() || !p.session.Finished() {
		return
	}
	racers := lo.Filter(ranked, func(e model.RankedEntry, _ int) bool {
		return !math.IsNaN(e.ElapsedTime)
	})
	if len(racers) == 0 {
		return
	}
	if lo.EveryBy(racers, func(e model.RankedEntry) bool { return e.Finished }) {
		p.session.FinishSession()
	}
}

func (p *Processor) emit(evs []model.RaceEvent) {
	for _, ev := range evs {
		select {
		case p.eventCh <- ev:
		default:
			p.l.Warn("event stream full, dropping event",
				log.String("event", ev.Name()))
		}
	}
}
