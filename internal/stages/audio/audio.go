// Package audio implements the AudioStage: mixes one
// configured channel's filtered band out to a local sound device at the
// controller's sample rate, with threshold-based noise slicing.
//
// Playback reaches the local sound device through
// github.com/gordonklaus/portaudio, which needs no cgo bridge of our own.
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/wavefifo"
)

// Stage is the AudioStage. ChannelLane names the wavefifo f32 lane
// currently selected for monitoring (set via SelectLane whenever the
// "audio channel" parameter changes).
type Stage struct {
	Wave *wavefifo.WaveformFifo
	Bus  *observer.Bus
	Log  *log.Logger

	SampleRate      float64
	FramesPerBuffer int

	// ThresholdCounts silences output below this magnitude, the
	// the configurable threshold-based noise slicing this stage performs.
	ThresholdCounts float32

	mu     sync.Mutex
	lane   string
	staged []float32

	stream *portaudio.Stream
	active atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SelectLane changes which f32 lane is mixed to the output device. Passing
// "" disables output without tearing down the stage.
func (s *Stage) SelectLane(lane string) {
	s.mu.Lock()
	s.lane = lane
	s.mu.Unlock()
}

// HasSelectedLane reports whether a lane is currently selected, used by the
// orchestrator to decide whether the audio stage is worth starting at all.
func (s *Stage) HasSelectedLane() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lane != ""
}

func (s *Stage) Start(ctx context.Context) error {
	if s.FramesPerBuffer <= 0 {
		s.FramesPerBuffer = 256
	}
	if err := portaudio.Initialize(); err != nil {
		return &daqerr.ResourceError{Resource: "audio device", Err: err}
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, s.SampleRate, s.FramesPerBuffer, func(out []float32) {
		s.fill(out)
	})
	if err != nil {
		portaudio.Terminate()
		return &daqerr.ResourceError{Resource: "audio device", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return &daqerr.ResourceError{Resource: "audio device", Err: err}
	}
	s.stream = stream
	s.stopCh = make(chan struct{})
	s.active.Store(true)
	s.Wave.Attach(wavefifo.Audio)
	s.wg.Add(1)
	go s.run(ctx)
	return nil
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

// fill is the portaudio callback: it reads whatever the run loop has most
// recently staged and copies it out, zero-filling if nothing is ready.
// Device errors surface through the callback's own recover, which
// deselects the lane (disabling output) rather than crashing the process.
func (s *Stage) fill(out []float32) {
	defer func() {
		if r := recover(); r != nil {
			s.publishError(&daqerr.ResourceError{Resource: "audio device", Err: fmt.Errorf("audio callback panic: %v", r)})
			s.SelectLane("")
			for i := range out {
				out[i] = 0
			}
		}
	}()
	s.mu.Lock()
	staged := s.staged
	s.staged = nil
	s.mu.Unlock()
	for i := range out {
		if i < len(staged) {
			out[i] = staged[i]
		} else {
			out[i] = 0
		}
	}
}

func (s *Stage) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.active.Store(false)
	defer s.teardown()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		lane := s.lane
		s.mu.Unlock()
		if lane == "" || !s.Wave.HasF32Lane(lane) {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		n := s.FramesPerBuffer
		available := s.Wave.Written() - s.Wave.Cursor(wavefifo.Audio)
		if available < uint64(n) {
			time.Sleep(time.Millisecond)
			continue
		}
		start, ok := s.Wave.RequestRead(wavefifo.Audio, n)
		if !ok {
			continue
		}
		buf := make([]float32, n)
		s.Wave.ReadF32(lane, start, buf)
		s.applyThreshold(buf)

		s.mu.Lock()
		s.staged = buf
		s.mu.Unlock()

		s.Wave.Free(wavefifo.Audio)
	}
}

func (s *Stage) applyThreshold(buf []float32) {
	if s.ThresholdCounts <= 0 {
		return
	}
	for i, v := range buf {
		if v > -s.ThresholdCounts && v < s.ThresholdCounts {
			buf[i] = 0
		}
	}
}

func (s *Stage) teardown() {
	s.Wave.Detach(wavefifo.Audio)
	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
		s.stream = nil
	}
	portaudio.Terminate()
}

func (s *Stage) publishError(err error) {
	if s.Bus != nil {
		s.Bus.Publish(observer.Event{Kind: observer.Error, Payload: err})
	}
	if s.Log != nil {
		s.Log.Warn("audio stage disabled", "err", err)
	}
}
