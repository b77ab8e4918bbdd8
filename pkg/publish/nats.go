// Package publish mirrors the live race streams to NATS so external
// displays and loggers can follow a session without attaching to the
// process. Subjects are slotman.live.<session>.<stream>; the session
// key is minted per race.
package publish

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/ohler55/ojg/oj"

	"github.com/slotracer/slotman/log"
	"github.com/slotracer/slotman/pkg/model"
	"github.com/slotracer/slotman/pkg/utils/broadcast"
)

type Mirror struct {
	conn       *nats.Conn
	sessionKey string
	l          *log.Logger

	leaderboard broadcast.BroadcastServer[[]model.RankedEntry]
	currentLap  broadcast.BroadcastServer[model.CurrentLap]
	countdown   broadcast.BroadcastServer[time.Duration]
	events      broadcast.BroadcastServer[model.RaceEvent]

	subs []func()
}

type Option func(*Mirror)

func WithSessionKey(key string) Option {
	return func(m *Mirror) {
		m.sessionKey = key
	}
}

func WithLogger(l *log.Logger) Option {
	return func(m *Mirror) {
		m.l = l
	}
}

func WithLeaderboard(b broadcast.BroadcastServer[[]model.RankedEntry]) Option {
	return func(m *Mirror) {
		m.leaderboard = b
	}
}

func WithCurrentLap(b broadcast.BroadcastServer[model.CurrentLap]) Option {
	return func(m *Mirror) {
		m.currentLap = b
	}
}

func WithCountdown(b broadcast.BroadcastServer[time.Duration]) Option {
	return func(m *Mirror) {
		m.countdown = b
	}
}

func WithEvents(b broadcast.BroadcastServer[model.RaceEvent]) Option {
	return func(m *Mirror) {
		m.events = b
	}
}

func NewMirror(conn *nats.Conn, opts ...Option) *Mirror {
	ret := &Mirror{
		conn:       conn,
		sessionKey: uuid.New().String(),
		l:          log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (m *Mirror) SessionKey() string { return m.sessionKey }

// Start attaches one draining goroutine per configured stream.
func (m *Mirror) Start() {
	if m.leaderboard != nil {
		attach(m, m.leaderboard, "leaderboard",
			func(v []model.RankedEntry) any { return v })
	}
	if m.currentLap != nil {
		attach(m, m.currentLap, "lap",
			func(v model.CurrentLap) any { return v })
	}
	if m.countdown != nil {
		attach(m, m.countdown, "countdown", countdownPayload)
	}
	if m.events != nil {
		attach(m, m.events, "event", eventPayload)
	}
}

func countdownPayload(v time.Duration) any {
	return map[string]int64{"remainingMs": v.Milliseconds()}
}

func eventPayload(v model.RaceEvent) any {
	return map[string]any{"name": v.Name(), "driver": v.Driver}
}

func (m *Mirror) subject(stream string) string {
	return fmt.Sprintf("slotman.live.%s.%s", m.sessionKey, stream)
}

func (m *Mirror) Close() {
	for _, cancel := range m.subs {
		cancel()
	}
}

func attach[T any](
	m *Mirror, b broadcast.BroadcastServer[T], stream string,
	payload func(T) any,
) {
	ch := b.Subscribe()
	m.subs = append(m.subs, func() { b.CancelSubscription(ch) })
	subject := m.subject(stream)
	go func() {
		for v := range ch {
			data, err := oj.Marshal(payload(v))
			if err != nil {
				m.l.Error("marshal failed",
					log.String("subject", subject), log.ErrorField(err))
				continue
			}
			//nolint:errcheck // fire and forget
			m.conn.Publish(subject, data)
		}
		m.l.Debug("stream drained", log.String("subject", subject))
	}()
}
