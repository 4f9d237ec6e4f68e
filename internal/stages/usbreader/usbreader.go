// Package usbreader implements the UsbReaderStage: a
// dedicated worker that pulls whole USB blocks from the board into the
// RingFifo at the controller's natural burst cadence, reporting hardware
// FIFO fullness on the observer bus.
//
// The worker-goroutine-plus-stop-channel shape is grounded on the
// teacher's tq.go transmit-queue worker (a dedicated goroutine parked
// between runs, woken by a condition rather than busy-polling).
package usbreader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/acquicore/daqcore/internal/board"
	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/ringfifo"
)

// Stage is the UsbReaderStage.
type Stage struct {
	Board           board.Driver
	Ring            *ringfifo.RingFifo
	Bus             *observer.Bus
	Log             *log.Logger
	Config          board.Config
	MaxBlocksToRead int

	active   atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup
	lastFifoReport time.Time
}

// Start begins the read loop on its own goroutine. Start must only be
// called while the stage is inactive.
func (s *Stage) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.active.Store(true)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to exit after the current read completes. It does
// not wait; call IsActive in a poll loop instead — cancellation here has
// no deadline.
func (s *Stage) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// IsActive reports whether the read loop is still running.
func (s *Stage) IsActive() bool { return s.active.Load() }

// Wait blocks until the loop has fully exited. Useful in tests; the
// Orchestrator itself uses IsActive polling instead.
func (s *Stage) Wait() { s.wg.Wait() }

func (s *Stage) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.active.Store(false)
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		blocks, err := s.Board.StreamBlocks(ctx, s.MaxBlocksToRead)
		if err != nil {
			s.publishError(&daqerr.HardwareError{Stage: "usbreader", Err: err})
			return
		}
		if len(blocks) == 0 {
			time.Sleep(time.Millisecond)
			s.reportFifo()
			continue
		}

		for _, b := range blocks {
			raw := board.EncodeBlock(s.Config, b)
			for !s.Ring.TryPush(raw) {
				// Backpressure: the ring is full because the processor
				// is falling behind. We never drop data; we
				// park briefly and let the hardware FIFO absorb it,
				// which is exactly what HardwareFifoPercent reports.
				select {
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				case <-time.After(time.Millisecond):
				}
			}
		}
		s.reportFifo()
	}
}

func (s *Stage) reportFifo() {
	if s.Bus == nil {
		return
	}
	if time.Since(s.lastFifoReport) < 100*time.Millisecond {
		return
	}
	s.lastFifoReport = time.Now()
	pct := s.Board.HardwareFifoPercent()
	s.Bus.Publish(observer.Event{Kind: observer.HardwareFifoReport, Payload: pct})
	if pct >= 80 {
		s.Bus.Publish(observer.Event{Kind: observer.Error, Payload: &daqerr.BackpressureWarning{Fifo: "hardware", Percent: pct}})
	}
}

func (s *Stage) publishError(err error) {
	if s.Bus != nil {
		s.Bus.Publish(observer.Event{Kind: observer.Error, Payload: err})
	}
	if s.Log != nil {
		s.Log.Error("usb reader stopped", "err", err)
	}
}
