// Package waveproc implements the WaveformProcessorStage:
// decode USB blocks into per-channel samples, invoke the XpuFilter, and
// commit the result into the WaveformFifo in one atomic logical advance.
package waveproc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/acquicore/daqcore/internal/board"
	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/lanes"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/ringfifo"
	"github.com/acquicore/daqcore/internal/signalmodel"
	"github.com/acquicore/daqcore/internal/wavefifo"
	"github.com/acquicore/daqcore/internal/xpu"
)

// AllocateLanes pre-allocates every lane the model currently needs,
// allocating every lane up front at rescan time rather than lazily.
func AllocateLanes(wf *wavefifo.WaveformFifo, model *signalmodel.SignalModel, cfg board.Config) {
	for _, ch := range model.AllChannels() {
		if ch.Kind != signalmodel.Amplifier {
			continue
		}
		wf.AddF32Lane(lanes.Amp(ch.NativeName, signalmodel.Wide))
		wf.AddF32Lane(lanes.Amp(ch.NativeName, signalmodel.Low))
		wf.AddF32Lane(lanes.Amp(ch.NativeName, signalmodel.High))
		if cfg.StimController {
			wf.AddF32Lane(lanes.Amp(ch.NativeName, signalmodel.Dc))
			wf.AddU16Lane(lanes.Amp(ch.NativeName, signalmodel.Stim))
		}
		wf.AddU16Lane(lanes.Spike(ch.NativeName))
	}
	wf.AddU16Lane(lanes.DigitalIn)
	wf.AddU16Lane(lanes.DigitalOut)
	for i := 0; i < cfg.NumAdc; i++ {
		wf.AddU16Lane(lanes.Adc(i))
	}
	for i := 0; i < cfg.NumDac; i++ {
		wf.AddU16Lane(lanes.Dac(i))
	}
	for s := 0; s < cfg.NumStreams; s++ {
		wf.AddU16Lane(lanes.Supply(s))
	}
}

// Stage is the WaveformProcessorStage.
type Stage struct {
	Ring   *ringfifo.RingFifo
	Wave   *wavefifo.WaveformFifo
	Filter xpu.Filter
	Model  *signalmodel.SignalModel
	Config board.Config
	Bus    *observer.Bus
	Log    *log.Logger

	// MaxConsecutiveFilterErrors bounds how many back-to-back block
	// failures are tolerated before escalating to fatal.
	MaxConsecutiveFilterErrors int

	active atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	lastTimestamp      uint32
	haveLastTimestamp  bool
	consecutiveErrors  int
	lastCpuReport      time.Time
	cpuBusyNanos       int64
	cpuWindowStartedAt time.Time
}

func (s *Stage) Start(ctx context.Context) {
	if s.MaxConsecutiveFilterErrors <= 0 {
		s.MaxConsecutiveFilterErrors = 5
	}
	s.stopCh = make(chan struct{})
	s.active.Store(true)
	s.cpuWindowStartedAt = time.Now()
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Stage) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Stage) IsActive() bool { return s.active.Load() }
func (s *Stage) Wait()          { s.wg.Wait() }

func (s *Stage) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.active.Store(false)

	raw := make([]byte, s.Ring.BlockSize())
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !s.Ring.TryPop(raw) {
			time.Sleep(time.Millisecond)
			continue
		}

		start := time.Now()
		block := board.DecodeBlock(s.Config, raw)
		if err := s.processBlock(block); err != nil {
			s.consecutiveErrors++
			if s.Log != nil {
				s.Log.Error("filter error", "err", err, "consecutive", s.consecutiveErrors)
			}
			if s.consecutiveErrors >= s.MaxConsecutiveFilterErrors {
				s.publishError(&daqerr.HardwareError{Stage: "waveproc", Err: err})
				return
			}
			continue
		}
		s.consecutiveErrors = 0
		s.cpuBusyNanos += time.Since(start).Nanoseconds()
		s.reportCpuLoad()
	}
}

func (s *Stage) processBlock(block board.UsbBlock) error {
	if len(block.Frames) == 0 {
		return nil
	}
	s.checkTimestampContinuity(block)

	channels := s.Model.AllChannels()
	var inputs []xpu.BlockInput
	var ampChannels []*signalmodel.Channel
	var stimMarkers [][]uint16
	for _, ch := range channels {
		if ch.Kind != signalmodel.Amplifier || !ch.Enabled {
			continue
		}
		raw := make([]uint16, len(block.Frames))
		marker := make([]uint16, len(block.Frames))
		stimActive := false
		for i, f := range block.Frames {
			raw[i] = f.Amp[ch.Stream][ch.ChannelIndex]
			if s.Config.StimController && len(f.StimMarker) > ch.Stream {
				word := f.StimMarker[ch.Stream][ch.ChannelIndex]
				marker[i] = word
				if word&0x0100 != 0 {
					stimActive = true
				}
			}
		}
		inputs = append(inputs, xpu.BlockInput{Stream: ch.Stream, Channel: ch.ChannelIndex, RawCounts: raw, StimActive: stimActive})
		ampChannels = append(ampChannels, ch)
		stimMarkers = append(stimMarkers, marker)
	}

	outputs, err := s.Filter.Process(inputs)
	if err != nil {
		return err
	}

	n := len(block.Frames)
	cw, ok := s.Wave.BeginCommit(n)
	for !ok {
		// Backpressure propagates to the USB reader via the RingFifo
		// filling up — we never drop data here.
		select {
		case <-s.stopCh:
			return nil
		case <-time.After(time.Millisecond):
		}
		cw, ok = s.Wave.BeginCommit(n)
	}

	for idx, ch := range ampChannels {
		out := outputs[idx]
		for i := 0; i < n; i++ {
			cw.PutF32(lanes.Amp(ch.NativeName, signalmodel.Wide), i, out.Bands.Wide[i])
			cw.PutF32(lanes.Amp(ch.NativeName, signalmodel.Low), i, out.Bands.Low[i])
			cw.PutF32(lanes.Amp(ch.NativeName, signalmodel.High), i, out.Bands.High[i])
			if s.Config.StimController && out.Bands.Dc != nil {
				cw.PutF32(lanes.Amp(ch.NativeName, signalmodel.Dc), i, out.Bands.Dc[i])
				cw.PutU16(lanes.Amp(ch.NativeName, signalmodel.Stim), i, stimMarkers[idx][i])
			}
			cw.PutU16(lanes.Spike(ch.NativeName), i, uint16(out.SpikeIDs[i]))
		}
	}
	for i, f := range block.Frames {
		cw.PutU16(lanes.DigitalIn, i, f.DigitalInWord)
		cw.PutU16(lanes.DigitalOut, i, f.DigitalOutWord)
		for a, v := range f.Adc {
			cw.PutU16(lanes.Adc(a), i, v)
		}
		for d, v := range f.Dac {
			cw.PutU16(lanes.Dac(d), i, v)
		}
		for stream, v := range f.SupplyVoltage {
			cw.PutU16(lanes.Supply(stream), i, v)
		}
	}
	cw.Commit()
	return nil
}

// checkTimestampContinuity logs a discontinuity rather than halting the
// pipeline: a soft warning, not a fatal condition.
func (s *Stage) checkTimestampContinuity(block board.UsbBlock) {
	if s.Bus == nil {
		return
	}
	for _, f := range block.Frames {
		if s.haveLastTimestamp && f.Timestamp != s.lastTimestamp+1 {
			s.Bus.Publish(observer.Event{Kind: observer.Error, Payload: &timestampDiscontinuity{
				Expected: s.lastTimestamp + 1,
				Got:      f.Timestamp,
			}})
		}
		s.lastTimestamp = f.Timestamp
		s.haveLastTimestamp = true
	}
}

// timestampDiscontinuity is a log-only event; it is not a
// daqerr type because it is never returned to a caller, only observed.
type timestampDiscontinuity struct {
	Expected, Got uint32
}

func (d *timestampDiscontinuity) Error() string {
	return "acquisition clock discontinuity"
}

func (s *Stage) reportCpuLoad() {
	if time.Since(s.lastCpuReport) < 2*time.Second {
		return
	}
	elapsed := time.Since(s.cpuWindowStartedAt)
	pct := 0.0
	if elapsed > 0 {
		pct = 100 * float64(s.cpuBusyNanos) / float64(elapsed.Nanoseconds())
	}
	if s.Bus != nil {
		s.Bus.Publish(observer.Event{Kind: observer.CpuLoadReport, Payload: pct})
	}
	s.lastCpuReport = time.Now()
	s.cpuWindowStartedAt = time.Now()
	s.cpuBusyNanos = 0
}

func (s *Stage) publishError(err error) {
	if s.Bus != nil {
		s.Bus.Publish(observer.Event{Kind: observer.Error, Payload: err})
	}
}
