package model

import "fmt"

// EventKind is the closed taxonomy of derived race events.
type EventKind int

const (
	EventBestLap    EventKind = iota
	EventBestSector           // carries Sector
	EventFuel                 // carries FuelLevel
	EventPitEnter
	EventPitExit
	EventFinished1st
	EventFinished2nd
	EventFinished3rd
	EventFinished // only with exactly one competitor
	EventNewLeader
	EventOneMinute
	EventTimeout
	EventYellowFlag
	EventGreenFlag
	EventAllDone
	EventFiveLaps
	EventFinalLap
	EventFalseStart
)

//nolint:cyclop // plain mapping
func (k EventKind) String() string {
	switch k {
	case EventBestLap:
		return "bestlap"
	case EventBestSector:
		return "bestsector"
	case EventFuel:
		return "fuel"
	case EventPitEnter:
		return "pitenter"
	case EventPitExit:
		return "pitexit"
	case EventFinished1st:
		return "finished1st"
	case EventFinished2nd:
		return "finished2nd"
	case EventFinished3rd:
		return "finished3rd"
	case EventFinished:
		return "finished"
	case EventNewLeader:
		return "newleader"
	case EventOneMinute:
		return "oneminute"
	case EventTimeout:
		return "timeout"
	case EventYellowFlag:
		return "yellowflag"
	case EventGreenFlag:
		return "greenflag"
	case EventAllDone:
		return "alldone"
	case EventFiveLaps:
		return "fivelaps"
	case EventFinalLap:
		return "finallap"
	case EventFalseStart:
		return "falsestart"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// RaceEvent is one discrete notification. Driver is nil for
// session-wide events.
type RaceEvent struct {
	Kind      EventKind      `json:"kind"`
	Sector    int            `json:"sector,omitempty"`    // EventBestSector only
	FuelLevel int            `json:"fuelLevel,omitempty"` // EventFuel only
	Driver    *DriverContext `json:"driver,omitempty"`
}

// Name renders the parameterized event name ("bests2", "fuel7", ...).
func (e RaceEvent) Name() string {
	switch e.Kind {
	case EventBestSector:
		return fmt.Sprintf("bests%d", e.Sector)
	case EventFuel:
		return fmt.Sprintf("fuel%d", e.FuelLevel)
	default:
		return e.Kind.String()
	}
}
