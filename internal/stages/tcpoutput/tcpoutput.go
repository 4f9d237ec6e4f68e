// Package tcpoutput implements the TcpOutputStage: once a
// waveform and/or spike peer is connected and a run is active, drain the
// Tcp reader view of a WaveformFifo, frame it per the wire format, and
// write it to the connected sockets.
package tcpoutput

import (
	"context"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/acquicore/daqcore/internal/board"
	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/lanes"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/signalmodel"
	"github.com/acquicore/daqcore/internal/wavefifo"
	"github.com/acquicore/daqcore/internal/wire"
)

type ampLane struct {
	nativeName string
	band       signalmodel.Band
	laneName   string
	stimLane   bool
	spikeLane  string
	channel    *signalmodel.Channel
}

type auxLane struct {
	index    int
	laneName string
}

// Stage is the TcpOutputStage.
type Stage struct {
	Wave   *wavefifo.WaveformFifo
	Model  *signalmodel.SignalModel
	Config board.Config
	Bus    *observer.Bus
	Log    *log.Logger

	// NumDataBlocksWrite is tcpNumDataBlocksWrite: how many
	// FramesPerBlock-sized blocks are drained per flush.
	NumDataBlocksWrite int

	mu           sync.Mutex
	waveformConn net.Conn
	spikeConn    net.Conn

	amps    []ampLane
	aux     []auxLane
	supply  []auxLane
	hasAdc  []int
	hasDac  []int
	hasDin  bool
	hasDout bool

	active atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	frameCounter uint64
}

// SetWaveformConn installs (or clears, with nil) the connected waveform
// peer socket.
func (s *Stage) SetWaveformConn(c net.Conn) {
	s.mu.Lock()
	s.waveformConn = c
	s.mu.Unlock()
}

// SetSpikeConn installs (or clears) the connected spike peer socket.
func (s *Stage) SetSpikeConn(c net.Conn) {
	s.mu.Lock()
	s.spikeConn = c
	s.mu.Unlock()
}

// ResolveEnabledChannels walks the SignalModel once and caches the ordered
// list of amplifier bands plus aux/supply/digital lanes to emit, per the
// enabled-channel resolution algorithm. Call again whenever
// tcpFilterBands or the SignalModel changes.
func (s *Stage) ResolveEnabledChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.amps = nil
	s.aux = nil
	s.supply = nil
	s.hasAdc = nil
	s.hasDac = nil
	s.hasDin = false
	s.hasDout = false

	for _, ch := range s.Model.AllChannels() {
		switch ch.Kind {
		case signalmodel.Amplifier:
			for _, b := range ch.EnabledBands() {
				s.amps = append(s.amps, ampLane{
					nativeName: ch.NativeName,
					band:       b,
					laneName:   lanes.Amp(ch.NativeName, b),
					stimLane:   b == signalmodel.Stim,
					channel:    ch,
				})
			}
			if ch.Outputs.TcpSpike {
				s.amps = append(s.amps, ampLane{
					nativeName: ch.NativeName,
					laneName:   lanes.Spike(ch.NativeName),
					spikeLane:  lanes.Spike(ch.NativeName),
				})
			}
		case signalmodel.AuxInput:
			s.aux = append(s.aux, auxLane{index: len(s.aux), laneName: lanes.Amp(ch.NativeName, signalmodel.Wide)})
		case signalmodel.SupplyVoltage:
			s.supply = append(s.supply, auxLane{index: len(s.supply), laneName: lanes.Supply(ch.Stream)})
		case signalmodel.BoardAdc:
			s.hasAdc = append(s.hasAdc, ch.ChannelIndex)
		case signalmodel.BoardDac:
			s.hasDac = append(s.hasDac, ch.ChannelIndex)
		case signalmodel.BoardDigitalIn:
			s.hasDin = true
		case signalmodel.BoardDigitalOut:
			s.hasDout = true
		}
	}
}

func (s *Stage) Start(ctx context.Context) {
	if s.NumDataBlocksWrite <= 0 {
		s.NumDataBlocksWrite = 1
	}
	s.stopCh = make(chan struct{})
	s.active.Store(true)
	s.Wave.Attach(wavefifo.Tcp)
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
	defer s.Wave.Detach(wavefifo.Tcp)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		haveWaveform := s.waveformConn != nil
		haveSpike := s.spikeConn != nil
		s.mu.Unlock()
		if !haveWaveform && !haveSpike {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		n := wire.FramesPerBlock * s.NumDataBlocksWrite
		available := s.Wave.Written() - s.Wave.Cursor(wavefifo.Tcp)
		if available < uint64(n) {
			time.Sleep(time.Millisecond)
			continue
		}
		start, ok := s.Wave.RequestRead(wavefifo.Tcp, n)
		if !ok {
			continue
		}
		if err := s.flush(start, n); err != nil {
			// A blocked or broken socket write holds the read window
			// open (no Free below); the Disk reader keeps its own
			// cursor and is unaffected.
			s.publishError(err)
			time.Sleep(5 * time.Millisecond)
			continue
		}
		s.Wave.Free(wavefifo.Tcp)
	}
}

func (s *Stage) flush(start uint64, n int) error {
	s.mu.Lock()
	amps := s.amps
	aux := s.aux
	supply := s.supply
	waveformConn := s.waveformConn
	spikeConn := s.spikeConn
	hasDin, hasDout := s.hasDin, s.hasDout
	s.mu.Unlock()

	framer := wire.NewWaveformFramer(wire.FramesPerBlock)
	var spikeBuf []byte

	ampBufs := make(map[string][]uint16, len(amps))
	for _, a := range amps {
		buf := make([]uint16, n)
		switch {
		case a.spikeLane != "":
			s.Wave.ReadU16(a.laneName, start, buf)
		case a.stimLane:
			// The STIM lane carries the raw hardware marker word, not a
			// filtered float32 sample: the marker's stim-active/phase bits
			// decide what PutStimSample re-encodes into the low byte below.
			if s.Wave.HasU16Lane(a.laneName) {
				s.Wave.ReadU16(a.laneName, start, buf)
			}
		case a.band == signalmodel.Dc:
			if s.Wave.HasF32Lane(a.laneName) {
				f32 := make([]float32, n)
				s.Wave.ReadF32(a.laneName, start, f32)
				for i, v := range f32 {
					buf[i] = wire.ScaleDcAmplifier(float64(v))
				}
			}
		default:
			// WIDE/LOW/HIGH carry raw 16-bit counts: the
			// processor stores them as zero-centered float32, so add
			// the ADC midpoint back before truncating.
			if s.Wave.HasF32Lane(a.laneName) {
				f32 := make([]float32, n)
				s.Wave.ReadF32(a.laneName, start, f32)
				for i, v := range f32 {
					buf[i] = countsToU16(v)
				}
			}
		}
		ampBufs[a.laneName+a.spikeLane] = buf
	}

	auxBufs := make(map[int][]uint16, len(aux))
	for _, a := range aux {
		buf := make([]uint16, n)
		if s.Wave.HasF32Lane(a.laneName) {
			f32 := make([]float32, n)
			s.Wave.ReadF32(a.laneName, start, f32)
			for i, v := range f32 {
				buf[i] = wire.ScaleAuxInput(float64(v))
			}
		}
		auxBufs[a.index] = buf
	}
	supplyBufs := make(map[int][]uint16, len(supply))
	for _, a := range supply {
		buf := make([]uint16, n)
		if s.Wave.HasU16Lane(a.laneName) {
			s.Wave.ReadU16(a.laneName, start, buf)
		}
		supplyBufs[a.index] = buf
	}

	var dinBuf, doutBuf []uint16
	if hasDin && s.Wave.HasU16Lane(lanes.DigitalIn) {
		dinBuf = make([]uint16, n)
		s.Wave.ReadU16(lanes.DigitalIn, start, dinBuf)
	}
	if hasDout && s.Wave.HasU16Lane(lanes.DigitalOut) {
		doutBuf = make([]uint16, n)
		s.Wave.ReadU16(lanes.DigitalOut, start, doutBuf)
	}

	for i := 0; i < n; i++ {
		ts := uint32(start + uint64(i))
		framer.BeginFrame(i, ts)

		for _, a := range amps {
			if a.spikeLane != "" {
				if spikeID := uint8(ampBufs[a.laneName+a.spikeLane][i]); spikeID != 0 {
					spikeBuf = wire.AppendSpikeRecord(spikeBuf, wire.SpikeRecord{
						NativeName: a.nativeName,
						Timestamp:  ts,
						SpikeID:    spikeID,
					})
				}
				continue
			}
			if a.stimLane {
				raw := ampBufs[a.laneName][i]
				framer.PutStimSample(raw, stimAmplitudeStep(raw, a.channel))
				continue
			}
			framer.PutAmpSample(ampBufs[a.laneName][i])
		}
		for _, a := range aux {
			framer.PutAuxSample(a.index, auxBufs[a.index][i], i%4 == 0)
		}
		for _, a := range supply {
			framer.PutSupplySample(a.index, supplyBufs[a.index][i], i%wire.FramesPerBlock == 0)
		}
		if hasDin {
			framer.PutDigitalInWord(dinBuf[i])
		}
		if hasDout {
			framer.PutDigitalOutWord(doutBuf[i])
		}
	}

	if waveformConn != nil && len(framer.Bytes()) > 0 {
		if _, err := waveformConn.Write(framer.Bytes()); err != nil {
			return &daqerr.ResourceError{Resource: "tcp waveform socket", Err: err}
		}
	}
	if spikeConn != nil && len(spikeBuf) > 0 {
		if _, err := spikeConn.Write(spikeBuf); err != nil {
			return &daqerr.ResourceError{Resource: "tcp spike socket", Err: err}
		}
	}
	return nil
}

// countsToU16 undoes the zero-centering the waveform processor applies
// before filtering, clamping to the valid ADC count range.
func countsToU16(centeredCounts float32) uint16 {
	v := math.Round(float64(centeredCounts)) + 32768
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

// stimAmplitudeStep derives the STIM band's low byte: 0 when the hardware
// marker's stim-active bit (0x0100) is clear, otherwise the channel's
// cached positive- or negative-phase amplitude in quantized steps,
// selected by the marker's phase bit (0x0200; set during the
// negative-going phase). Nothing in this daemon sets either bit: they are
// whatever the board driver decodes into Frame.StimMarker.
func stimAmplitudeStep(raw uint16, ch *signalmodel.Channel) uint8 {
	if raw&0x0100 == 0 || ch == nil {
		return 0
	}
	steps := ch.StimPositiveAmplitudeSteps
	if raw&0x0200 != 0 {
		steps = ch.StimNegativeAmplitudeSteps
	}
	return clampAmplitudeStep(steps)
}

func clampAmplitudeStep(steps int) uint8 {
	if steps < 0 {
		return 0
	}
	if steps > 255 {
		return 255
	}
	return uint8(steps)
}

func (s *Stage) publishError(err error) {
	if s.Bus != nil {
		s.Bus.Publish(observer.Event{Kind: observer.Error, Payload: err})
	}
	if s.Log != nil {
		s.Log.Warn("tcp output write failed", "err", err)
	}
}
