// Package timer converts raw hardware lap-timer events into a
// monotonic corrected-time stream. The control unit reports times from
// one free-running counter shared by all lanes; when that counter
// wraps, the raw values jump back to near zero. The normalizer absorbs
// those resets by folding an offset over the whole stream.
package timer

import (
	"math"
	"time"
)

// Event is a raw per-lane crossing as reported by the hardware.
type Event struct {
	Lane    int
	RawTime float64 // milliseconds of the hardware counter
	Sector  int     // 1-based, sector 1 is the start/finish line
}

// CorrectedEvent carries the wraparound-corrected crossing time.
type CorrectedEvent struct {
	Lane   int
	Time   float64 // corrected milliseconds, non-decreasing
	Sector int
}

type Normalizer struct {
	prevRaw       float64
	prevCorrected float64
	offset        float64
	prevWall      time.Time
	now           func() time.Time
}

type Option func(*Normalizer)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

func NewNormalizer(opts ...Option) *Normalizer {
	ret := &Normalizer{
		// no correction applies before the first wraparound
		prevRaw: math.Inf(1),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Normalize folds one raw event into the corrected stream. A raw time
// below the last seen raw value marks a counter wrap; the new offset
// approximates the wall-clock time that passed during the gap so the
// corrected output continues from where the previous event left off.
func (n *Normalizer) Normalize(ev Event) CorrectedEvent {
	now := n.now()
	if ev.RawTime < n.prevRaw {
		if !math.IsInf(n.prevRaw, 1) {
			elapsed := float64(now.Sub(n.prevWall).Milliseconds())
			n.offset = (elapsed + n.prevCorrected) - ev.RawTime
		}
	}
	corrected := ev.RawTime + n.offset
	n.prevRaw = ev.RawTime
	n.prevCorrected = corrected
	n.prevWall = now
	return CorrectedEvent{Lane: ev.Lane, Time: corrected, Sector: ev.Sector}
}
