// Package broadcast fans one source channel out to many listeners.
// Adapted for the live race streams: the countdown and lap-count
// streams use replay-latest semantics so late subscribers (a
// reconnecting display, for example) immediately see current state.
package broadcast

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/slotracer/slotman/log"
)

const listenerTimeout = 50 * time.Millisecond

type BroadcastServer[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

type broadcastServer[T any] struct {
	name           string
	sessionKey     string
	source         <-chan T
	listeners      []chan T
	addListener    chan chan T
	removeListener chan (<-chan T)
	ctx            context.Context
	cancel         context.CancelFunc
	replayLatest   bool
	latest         T
	hasLatest      bool
	numRcv         int
	numSnd         int
	numSkip        int
}

type Option[T any] func(*broadcastServer[T])

// WithReplayLatest makes new subscribers receive the most recent value
// right away instead of waiting for the next tick.
func WithReplayLatest[T any]() Option[T] {
	return func(b *broadcastServer[T]) {
		b.replayLatest = true
	}
}

func WithSessionKey[T any](key string) Option[T] {
	return func(b *broadcastServer[T]) {
		b.sessionKey = key
	}
}

func (b *broadcastServer[T]) Subscribe() <-chan T {
	ch := make(chan T, 1)
	b.addListener <- ch
	return ch
}

func (b *broadcastServer[T]) CancelSubscription(ch <-chan T) {
	b.removeListener <- ch
}

func (b *broadcastServer[T]) Close() {
	log.Debug("closing broadcast server",
		log.String("name", b.name),
		log.Int("rcv", b.numRcv), log.Int("snd", b.numSnd),
		log.Int("skip", b.numSkip))
	b.cancel()
}

//nolint:whitespace // false positive
func NewBroadcastServer[T any](
	name string, source <-chan T, opts ...Option[T],
) BroadcastServer[T] {
	ctx, cancel := context.WithCancel(context.Background())
	b := &broadcastServer[T]{
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.setupMetrics()
	go b.serve()
	return b
}

func (b *broadcastServer[T]) setupMetrics() {
	meter := otel.GetMeterProvider().Meter(
		fmt.Sprintf("slotman.broadcast.%s", b.name))
	register := func(metricName, desc string, valueProvider func() int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(
				func(_ context.Context, o metric.Int64Observer) error {
					o.Observe(valueProvider(),
						metric.WithAttributes(
							attribute.String("name", b.name),
							attribute.String("session", b.sessionKey),
						),
					)
					return nil
				})); err != nil {
			log.Error("failed to register metric",
				log.String("metric", metricName), log.ErrorField(err))
		}
	}
	type data struct {
		name  string
		desc  string
		value func() int64
	}
	for _, d := range []*data{
		{
			"slotman.broadcast.rcv", "Number of received messages",
			func() int64 { return int64(b.numRcv) },
		},
		{
			"slotman.broadcast.snd", "Number of sent messages",
			func() int64 { return int64(b.numSnd) },
		},
		{
			"slotman.broadcast.skip", "Number of skipped messages",
			func() int64 { return int64(b.numSkip) },
		},
		{
			"slotman.broadcast.listener", "Number of listeners",
			func() int64 { return int64(len(b.listeners)) },
		},
	} {
		register(d.name, d.desc, d.value)
	}
}

//nolint:cyclop // channel plumbing is one unit
func (b *broadcastServer[T]) serve() {
	defer func() {
		for _, listener := range b.listeners {
			if listener != nil {
				close(listener)
			}
		}
	}()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ch := <-b.addListener:
			b.listeners = append(b.listeners, ch)
			if b.replayLatest && b.hasLatest {
				select {
				case ch <- b.latest:
					b.numSnd++
				default:
				}
			}
		case ch := <-b.removeListener:
			for i, listener := range b.listeners {
				if listener == ch {
					b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
					close(listener)
					break
				}
			}
		case msg, ok := <-b.source:
			if !ok {
				return
			}
			b.numRcv++
			b.latest = msg
			b.hasLatest = true
			for _, listener := range b.listeners {
				select {
				case listener <- msg:
					b.numSnd++
				// don't let one stuck listener stall the tick
				case <-time.After(listenerTimeout):
					b.numSkip++
				}
			}
		}
	}
}
