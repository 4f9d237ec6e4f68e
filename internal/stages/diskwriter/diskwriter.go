// Package diskwriter implements the DiskWriterStage: drains the
// Disk reader view of a WaveformFifo and writes enabled lanes through a
// Sink, with an Idle/Armed/Recording state machine and a pre-trigger
// buffer held by simply not freeing the reader cursor until a trigger
// (or immediate start) is seen.
package diskwriter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/lanes"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/signalmodel"
	"github.com/acquicore/daqcore/internal/sink"
	"github.com/acquicore/daqcore/internal/wavefifo"
)

// RunState is the DiskWriterStage's own state, driven by Arm/StartNow/Stop.
type RunState int

const (
	Idle RunState = iota
	Armed
	Recording
)

func (r RunState) String() string {
	switch r {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// TriggerConfig selects the digital word lane and bit DiskWriterStage
// watches while Armed.
type TriggerConfig struct {
	Lane        string // usually lanes.DigitalIn
	Bit         uint16
	RisingEdge  bool
	PreTriggerSamples uint64
}

type enabledLane struct {
	lane sink.Lane
	name string // wavefifo lane name
	f32  bool
}

// Stage is the DiskWriterStage.
type Stage struct {
	Wave   *wavefifo.WaveformFifo
	Sink   sink.Sink
	Model  *signalmodel.SignalModel
	Bus    *observer.Bus
	Log    *log.Logger
	Header sink.Header

	Trigger TriggerConfig

	// WriteGranularity is the number of samples drained per Sink.Append
	// call; shorter honors a tighter writeToDiskLatency at the cost of
	// more syscalls.
	WriteGranularity int

	mu       sync.Mutex
	state    RunState
	commands chan command

	active atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	enabled []enabledLane
	lastBit bool
}

type command int

const (
	cmdArm command = iota
	cmdStartNow
	cmdStop
)

// ResolveEnabledLanes rebuilds the cached list of lanes this stage writes,
// following the same cache-until-reconfigured pattern as the TCP stage's
// enabled-channel resolution.
func (s *Stage) ResolveEnabledLanes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = nil
	for _, ch := range s.Model.AllChannels() {
		if ch.Kind != signalmodel.Amplifier || !ch.Outputs.Disk {
			continue
		}
		for _, b := range []signalmodel.Band{signalmodel.Wide, signalmodel.Low, signalmodel.High, signalmodel.Dc} {
			if !s.channelHasBand(ch, b) {
				continue
			}
			s.enabled = append(s.enabled, enabledLane{
				lane: sink.Lane{ChannelName: ch.NativeName, Band: b.String()},
				name: lanes.Amp(ch.NativeName, b),
				f32:  true,
			})
		}
		s.enabled = append(s.enabled, enabledLane{
			lane: sink.Lane{ChannelName: ch.NativeName, Band: "SPIKE"},
			name: lanes.Spike(ch.NativeName),
		})
	}
	s.enabled = append(s.enabled,
		enabledLane{lane: sink.Lane{ChannelName: "DIGITAL", Band: "IN"}, name: lanes.DigitalIn},
		enabledLane{lane: sink.Lane{ChannelName: "DIGITAL", Band: "OUT"}, name: lanes.DigitalOut},
	)
}

func (s *Stage) channelHasBand(ch *signalmodel.Channel, b signalmodel.Band) bool {
	switch b {
	case signalmodel.Wide:
		return ch.Outputs.TcpWide || ch.Outputs.Disk
	case signalmodel.Low:
		return ch.Outputs.TcpLow || ch.Outputs.Disk
	case signalmodel.High:
		return ch.Outputs.TcpHigh || ch.Outputs.Disk
	case signalmodel.Dc:
		return ch.Outputs.TcpDc
	default:
		return false
	}
}

func (s *Stage) Start(ctx context.Context) {
	if s.WriteGranularity <= 0 {
		s.WriteGranularity = 64
	}
	s.commands = make(chan command, 4)
	s.stopCh = make(chan struct{})
	s.active.Store(true)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *Stage) Stop() {
	select {
	case s.commands <- cmdStop:
	default:
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Arm transitions Idle -> Armed; the stage holds the Disk reader cursor
// without freeing it until a trigger fires.
func (s *Stage) Arm() {
	select {
	case s.commands <- cmdArm:
	default:
	}
}

// StartNow transitions Idle or Armed -> Recording immediately, skipping
// trigger detection.
func (s *Stage) StartNow() {
	select {
	case s.commands <- cmdStartNow:
	default:
	}
}

func (s *Stage) IsActive() bool { return s.active.Load() }
func (s *Stage) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
func (s *Stage) Wait() { s.wg.Wait() }

func (s *Stage) setState(r RunState) {
	s.mu.Lock()
	s.state = r
	s.mu.Unlock()
}

func (s *Stage) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.active.Store(false)

	for {
		select {
		case <-s.stopCh:
			s.teardown()
			return
		case <-ctx.Done():
			s.teardown()
			return
		case cmd := <-s.commands:
			switch cmd {
			case cmdArm:
				s.enterArmed()
			case cmdStartNow:
				s.enterRecording(time.Now())
			case cmdStop:
				s.teardown()
				return
			}
		default:
		}

		switch s.State() {
		case Idle:
			time.Sleep(5 * time.Millisecond)
		case Armed:
			s.pollTrigger()
		case Recording:
			s.drainOnce()
		}
	}
}

func (s *Stage) enterArmed() {
	s.Wave.Attach(wavefifo.Disk)
	s.setState(Armed)
	s.lastBit = false
}

func (s *Stage) enterRecording(at time.Time) {
	if s.State() == Idle {
		s.Wave.Attach(wavefifo.Disk)
	}
	if err := s.Sink.BeginSegment(s.Header, at); err != nil {
		s.publishError(&daqerr.ResourceError{Resource: "disk segment", Err: err})
		s.setState(Idle)
		return
	}
	s.setState(Recording)
}

// pollTrigger inspects whatever data has accumulated since arming,
// watching for an edge on the configured bit. It never frees past the
// configured pre-trigger window, so that window stays available to flush
// once triggered.
func (s *Stage) pollTrigger() {
	available := s.Wave.Written() - s.Wave.Cursor(wavefifo.Disk)
	if available == 0 {
		time.Sleep(time.Millisecond)
		return
	}
	n := int(available)
	if n > s.WriteGranularity {
		n = s.WriteGranularity
	}
	start, ok := s.Wave.RequestRead(wavefifo.Disk, n)
	if !ok {
		return
	}
	buf := make([]uint16, n)
	lane := s.Trigger.Lane
	if lane == "" {
		lane = lanes.DigitalIn
	}
	s.Wave.ReadU16(lane, start, buf)

	triggerOffset := -1
	for i, word := range buf {
		bit := word&s.Trigger.Bit != 0
		edge := bit && !s.lastBit
		if !s.Trigger.RisingEdge {
			edge = !bit && s.lastBit
		}
		s.lastBit = bit
		if edge {
			triggerOffset = i
			break
		}
	}

	if triggerOffset < 0 {
		// No trigger yet. Trim anything older than the pre-trigger
		// window so an indefinitely Armed run doesn't starve the
		// writer of free space.
		excess := s.Wave.Written() - s.Wave.Cursor(wavefifo.Disk) - s.Trigger.PreTriggerSamples
		if excess > uint64(n) {
			s.Wave.Free(wavefifo.Disk)
		}
		return
	}

	if err := s.Sink.BeginSegment(s.Header, time.Now()); err != nil {
		s.publishError(&daqerr.ResourceError{Resource: "disk segment", Err: err})
		s.Wave.Free(wavefifo.Disk)
		s.setState(Idle)
		return
	}
	// Write the pre-trigger window we held onto, then the samples up to
	// and including the trigger sample, before switching to Recording.
	s.writeWindow(start, n)
	s.Wave.Free(wavefifo.Disk)
	s.setState(Recording)
}

func (s *Stage) drainOnce() {
	available := s.Wave.Written() - s.Wave.Cursor(wavefifo.Disk)
	if available == 0 {
		time.Sleep(time.Millisecond)
		return
	}
	n := int(available)
	if n > s.WriteGranularity {
		n = s.WriteGranularity
	}
	start, ok := s.Wave.RequestRead(wavefifo.Disk, n)
	if !ok {
		return
	}
	s.writeWindow(start, n)
	s.Wave.Free(wavefifo.Disk)
}

func (s *Stage) writeWindow(start uint64, n int) {
	if len(s.enabled) == 0 {
		s.ResolveEnabledLanes()
	}
	for _, e := range s.enabled {
		if e.f32 {
			if !s.Wave.HasF32Lane(e.name) {
				continue
			}
			buf := make([]float32, n)
			s.Wave.ReadF32(e.name, start, buf)
			if err := s.Sink.Append(e.lane, buf); err != nil {
				s.publishError(&daqerr.ResourceError{Resource: "disk write", Err: err})
			}
			continue
		}
		if !s.Wave.HasU16Lane(e.name) {
			continue
		}
		buf := make([]uint16, n)
		s.Wave.ReadU16(e.name, start, buf)
		if err := s.Sink.Append(e.lane, buf); err != nil {
			s.publishError(&daqerr.ResourceError{Resource: "disk write", Err: err})
		}
	}
}

func (s *Stage) teardown() {
	if s.State() == Recording {
		// Flush anything still buffered before closing.
		for {
			available := s.Wave.Written() - s.Wave.Cursor(wavefifo.Disk)
			if available == 0 {
				break
			}
			s.drainOnce()
		}
		if err := s.Sink.EndSegment(); err != nil {
			s.publishError(&daqerr.ResourceError{Resource: "disk segment", Err: err})
		}
	}
	s.Wave.Detach(wavefifo.Disk)
	s.setState(Idle)
}

func (s *Stage) publishError(err error) {
	if s.Bus != nil {
		s.Bus.Publish(observer.Event{Kind: observer.Error, Payload: err})
	}
	if s.Log != nil {
		s.Log.Error("disk writer error", "err", err)
	}
}
