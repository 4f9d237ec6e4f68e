// Package observer implements a typed event bus: a cross-thread
// replacement for a plain signal/slot broadcast,
// fanning events out to per-consumer bounded queues so ordering is
// preserved per observer and a slow observer cannot block a fast one.
package observer

import (
	"context"

	"github.com/charmbracelet/log"
)

// Kind identifies the event variants carried on the bus.
type Kind int

const (
	StateChanged Kind = iota
	HardwareFifoReport
	CpuLoadReport
	TcpStatusChanged
	LiveNote
	Error
	BoardAttached
	BoardDetached
)

func (k Kind) String() string {
	switch k {
	case StateChanged:
		return "StateChanged"
	case HardwareFifoReport:
		return "HardwareFifoReport"
	case CpuLoadReport:
		return "CpuLoadReport"
	case TcpStatusChanged:
		return "TcpStatusChanged"
	case LiveNote:
		return "LiveNote"
	case Error:
		return "Error"
	case BoardAttached:
		return "BoardAttached"
	case BoardDetached:
		return "BoardDetached"
	default:
		return "Unknown"
	}
}

// Event is a single notification posted to the bus. Payload is
// kind-specific; consumers type-assert it.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler receives events delivered in publish order, one at a time.
type Handler func(Event)

// subscriber owns one bounded queue and the goroutine draining it into its
// handler, so a slow handler only ever backs up its own queue.
type subscriber struct {
	ch      chan Event
	handler Handler
}

// Bus fans events out to registered handlers. Each handler is invoked
// serially, in publication order, on its own goroutine.
type Bus struct {
	log      *log.Logger
	queueLen int
	subs     []*subscriber
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a Bus whose per-consumer queues hold queueLen events before
// Publish starts dropping newly published events for that consumer
// (never blocking the publisher, per the "hold_update does not block"
// requirement that hold/release never blocks the control thread).
func New(logger *log.Logger, queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{log: logger, queueLen: queueLen, ctx: ctx, cancel: cancel}
}

// Subscribe registers a handler. Handlers must be registered before the
// bus starts publishing events the caller cares about; there is no
// unregister: observers are registered once, for the process lifetime.
func (b *Bus) Subscribe(h Handler) {
	s := &subscriber{ch: make(chan Event, b.queueLen), handler: h}
	b.subs = append(b.subs, s)
	go b.drain(s)
}

func (b *Bus) drain(s *subscriber) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-s.ch:
			s.handler(ev)
		}
	}
}

// Publish fans ev out to every subscriber. If a subscriber's queue is
// full, the event is dropped for that subscriber and each drop is logged
// rather than blocking the caller — the caller is typically the control thread
// and must never stall waiting on an observer.
func (b *Bus) Publish(ev Event) {
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			if b.log != nil {
				b.log.Warn("observer queue full, dropping event", "kind", ev.Kind.String())
			}
		}
	}
}

// Close stops all subscriber drain goroutines.
func (b *Bus) Close() { b.cancel() }
