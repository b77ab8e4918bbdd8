package model

import (
	"fmt"
	"time"
)

type RaceMode int

const (
	ModePractice RaceMode = iota
	ModeQualifying
	ModeRace
)

func (m RaceMode) String() string {
	switch m {
	case ModePractice:
		return "practice"
	case ModeQualifying:
		return "qualifying"
	case ModeRace:
		return "race"
	}
	return fmt.Sprintf("RaceMode(%d)", int(m))
}

func ParseRaceMode(arg string) (RaceMode, error) {
	switch arg {
	case "practice":
		return ModePractice, nil
	case "qualifying":
		return ModeQualifying, nil
	case "race":
		return ModeRace, nil
	}
	return ModePractice, fmt.Errorf("unknown race mode %q", arg)
}

const DefaultMinLapTime = 500 * time.Millisecond

// RaceOptions is the per-session configuration. The settings layer is
// responsible for supplying well-formed values; the core does not
// validate them.
type RaceOptions struct {
	Mode        RaceMode
	Laps        int           // 0 = unlimited
	Time        time.Duration // 0 = untimed
	MinLapTime  time.Duration // lap debounce threshold
	DriverCount int           // 0 = no cap on participating lanes
	Auto        bool          // mask bit for the autonomous car lane (6)
	Pace        bool          // mask bit for the pace car lane (7)
	SlotMode    bool          // keep racing past the limit until stopped
	StopFinish  bool          // auto-stop hardware countdown on completion
	Pause       bool          // pause countdown while start light is up
}

func DefaultRaceOptions() RaceOptions {
	return RaceOptions{
		Mode:       ModePractice,
		MinLapTime: DefaultMinLapTime,
	}
}
