// Package orchestrator owns the run-mode state machine and the lifecycle
// of every pipeline worker: it is the only thing allowed to call Start/Stop
// on the USB reader, waveform processor, disk writer, TCP output, and audio
// stages, and the only thing allowed to mutate RunMode.
package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/acquicore/daqcore/internal/board"
	"github.com/acquicore/daqcore/internal/command"
	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/ringfifo"
	"github.com/acquicore/daqcore/internal/signalmodel"
	"github.com/acquicore/daqcore/internal/sink"
	"github.com/acquicore/daqcore/internal/stages/audio"
	"github.com/acquicore/daqcore/internal/stages/diskwriter"
	"github.com/acquicore/daqcore/internal/stages/tcpoutput"
	"github.com/acquicore/daqcore/internal/stages/usbreader"
	"github.com/acquicore/daqcore/internal/stages/waveproc"
	"github.com/acquicore/daqcore/internal/state"
	"github.com/acquicore/daqcore/internal/stim"
	"github.com/acquicore/daqcore/internal/wavefifo"
	"github.com/acquicore/daqcore/internal/xpu"
)

// RunMode is the Orchestrator's own top-level state, distinct from each
// stage's private state (e.g. DiskWriterStage's Idle/Armed/Recording).
type RunMode int

const (
	Stopped RunMode = iota
	Running
	Recording
	Triggered
	Sweeping
)

func (m RunMode) String() string {
	switch m {
	case Stopped:
		return "stop"
	case Running:
		return "run"
	case Recording:
		return "record"
	case Triggered:
		return "trigger"
	case Sweeping:
		return "sweep"
	default:
		return "unknown"
	}
}

// TcpEndpoint tracks one TCP listener's advertised host/port and whether a
// peer is currently connected, backing the tcpwaveformdataoutput* and
// tcpspikedataoutput* pseudo-items.
type TcpEndpoint struct {
	Host      string
	Port      int
	Connected bool
}

// Orchestrator wires together every pipeline stage plus the shared board,
// fifos, filter, signal model and sink, and implements the three interfaces
// internal/command needs (Executor, NoteRecorder, PseudoItems) without that
// package ever importing this one.
type Orchestrator struct {
	Board    board.Driver
	Ring     *ringfifo.RingFifo
	Wave     *wavefifo.WaveformFifo
	Filter   xpu.Filter
	Model    *signalmodel.SignalModel
	Config   board.Config
	Sink     sink.Sink
	Registry *state.Registry
	Bus      *observer.Bus
	Log      *log.Logger

	StimStepSizeUa float64

	Reader    usbreader.Stage
	Processor waveproc.Stage
	Disk      diskwriter.Stage
	Tcp       tcpoutput.Stage
	Audio     audio.Stage

	TcpWaveform TcpEndpoint
	TcpSpike    TcpEndpoint

	mu               sync.Mutex
	mode             RunMode
	uploadInProgress bool
	undo             undoStack
	cancel           context.CancelFunc
}

// undoStack is the minimal record of rescanports' "clears the undo stack"
// requirement: a bounded history of parameter snapshots an operator console
// could step back through. Nothing in this repo pushes onto it yet besides
// the clear itself, so it stays a thin placeholder rather than a fully
// wired undo/redo feature.
type undoStack struct {
	snapshots []map[string]string
}

func (u *undoStack) clear() { u.snapshots = nil }

// Mode reports the current run mode.
func (o *Orchestrator) Mode() RunMode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// SetRunMode drives the top-level transitions the runmode pseudo-item and
// `execute run/stop` both resolve to.
func (o *Orchestrator) SetRunMode(target string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch strings.ToLower(target) {
	case "run":
		return o.transitionLocked(Running)
	case "record":
		if !o.filenameValidLocked() {
			return &daqerr.ConfigError{Path: "runmode", Message: "filename.path and filename.basefilename must be set before recording"}
		}
		return o.transitionLocked(Recording)
	case "trigger":
		if !o.filenameValidLocked() {
			return &daqerr.ConfigError{Path: "runmode", Message: "filename.path and filename.basefilename must be set before triggering"}
		}
		return o.transitionLocked(Triggered)
	case "stop":
		return o.transitionLocked(Stopped)
	default:
		return &daqerr.ConfigError{Path: "runmode", Message: "expected run, record, trigger, or stop"}
	}
}

func (o *Orchestrator) filenameValidLocked() bool {
	it, ok := o.Registry.Locate("filename")
	if !ok {
		return false
	}
	path, _ := it.Sub("path")
	base, _ := it.Sub("basefilename")
	return path != "" && base != ""
}

// transitionLocked must be called with o.mu held. It is the single place
// that starts or stops the worker stages, so the state machine itself and
// the stage lifecycle never drift apart.
func (o *Orchestrator) transitionLocked(target RunMode) error {
	if target == o.mode {
		return nil
	}
	if target == Stopped {
		if o.mode == Stopped {
			return nil
		}
		o.stopStages()
		o.mode = Stopped
		o.announceMode()
		return nil
	}
	if o.mode != Stopped {
		return &daqerr.RestrictedError{Path: "runmode", Reason: "a run is already active"}
	}
	if err := o.startStages(target); err != nil {
		return err
	}
	o.mode = target
	o.announceMode()
	return nil
}

func (o *Orchestrator) announceMode() {
	if o.Bus == nil {
		return
	}
	o.Bus.Publish(observer.Event{Kind: observer.StateChanged, Payload: state.ChangeEvent{Names: []string{"runmode"}}})
}

// startStages brings up the reader, processor, disk writer (if target
// requires recording), TCP output, and audio stages, in that order —
// stopStages tears them down in reverse. Every stage starts through an
// errgroup; only audio can fail synchronously, so the first failure is
// reported and every stage that did manage to start is
// torn back down before returning the error.
func (o *Orchestrator) startStages(target RunMode) error {
	ctx, cancel := context.WithCancel(context.Background())

	g := new(errgroup.Group)
	g.Go(func() error {
		o.Reader.Start(ctx)
		return nil
	})
	g.Go(func() error {
		o.Processor.Start(ctx)
		return nil
	})
	if target == Recording || target == Triggered {
		g.Go(func() error {
			o.Disk.Start(ctx)
			return nil
		})
	}
	g.Go(func() error {
		o.Tcp.Start(ctx)
		return nil
	})
	hasAudioLane := o.Audio.HasSelectedLane()
	if hasAudioLane {
		g.Go(func() error {
			return o.Audio.Start(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		cancel()
		o.Tcp.Stop()
		o.Disk.Stop()
		o.Processor.Stop()
		o.Reader.Stop()
		o.busyPollStopped()
		return &daqerr.ResourceError{Resource: "pipeline startup", Err: err}
	}

	o.cancel = cancel
	o.Wave.Resume()

	switch target {
	case Recording:
		o.Disk.StartNow()
	case Triggered:
		o.Disk.Arm()
	}
	return nil
}

// stopStages signals every running stage to quit in the mandated shutdown
// order (tcp, audio, disk, processor, reader), busy-polls is_active rather
// than joining indefinitely so observer events keep draining, then pauses
// the WaveformFifo and resets the RingFifo for the next run.
func (o *Orchestrator) stopStages() {
	o.Tcp.Stop()
	o.Audio.Stop()
	o.Disk.Stop()
	o.Processor.Stop()
	o.Reader.Stop()
	o.busyPollStopped()

	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.Wave.Pause()
	o.Ring.Reset()
}

func (o *Orchestrator) busyPollStopped() {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !o.Tcp.IsActive() && !o.Audio.IsActive() && !o.Disk.IsActive() &&
			!o.Processor.IsActive() && !o.Reader.IsActive() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// watchFatalErrors subscribes to the observer bus so a HardwareError raised
// by any stage (an unrecoverable USB or filter failure) forces a clean stop
// instead of leaving the pipeline half-torn-down. Call once, after New.
func (o *Orchestrator) watchFatalErrors() {
	if o.Bus == nil {
		return
	}
	o.Bus.Subscribe(func(ev observer.Event) {
		if ev.Kind != observer.Error {
			return
		}
		var hw *daqerr.HardwareError
		if !errorsAsHardware(ev.Payload, &hw) {
			return
		}
		o.mu.Lock()
		if o.mode != Stopped {
			o.stopStages()
			o.mode = Stopped
			o.announceMode()
		}
		o.mu.Unlock()
	})
}

// watchBoardPresence subscribes to observer.BoardDetached so an unexpected
// hotplug removal while a run is active is treated the same as any other
// unrecoverable hardware failure: it publishes a HardwareError, which
// watchFatalErrors picks up to perform the actual clean stop. Call once,
// after New.
func (o *Orchestrator) watchBoardPresence() {
	if o.Bus == nil {
		return
	}
	o.Bus.Subscribe(func(ev observer.Event) {
		if ev.Kind != observer.BoardDetached {
			return
		}
		o.mu.Lock()
		active := o.mode != Stopped
		o.mu.Unlock()
		if !active {
			return
		}
		o.Bus.Publish(observer.Event{Kind: observer.Error, Payload: &daqerr.HardwareError{
			Stage: "board", Err: errBoardDetached,
		}})
	})
}

var errBoardDetached = errors.New("board detached while running")

func errorsAsHardware(payload any, out **daqerr.HardwareError) bool {
	err, ok := payload.(error)
	if !ok {
		return false
	}
	var hw *daqerr.HardwareError
	for err != nil {
		if h, ok := err.(*daqerr.HardwareError); ok {
			hw = h
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if hw == nil {
		return false
	}
	*out = hw
	return true
}

// New builds an empty Orchestrator. Callers fill in its dependencies
// (Ring, Wave, Bus, Log, ...) directly, then call Wire, which builds the
// stages and installs the fatal-error and board-presence watchers, before
// the first SetRunMode call.
func New() *Orchestrator {
	o := &Orchestrator{}
	return o
}

// Wire populates every stage's shared dependencies from the Orchestrator's
// own fields, once they have all been assigned. Call after configuring
// Board/Ring/Wave/Filter/Model/Config/Sink/Registry/Bus/Log.
func (o *Orchestrator) Wire() {
	o.Reader = usbreader.Stage{Board: o.Board, Ring: o.Ring, Bus: o.Bus, Log: o.Log, Config: o.Config, MaxBlocksToRead: 8}
	o.Processor = waveproc.Stage{Ring: o.Ring, Wave: o.Wave, Filter: o.Filter, Model: o.Model, Config: o.Config, Bus: o.Bus, Log: o.Log}
	o.Disk = diskwriter.Stage{Wave: o.Wave, Sink: o.Sink, Model: o.Model, Bus: o.Bus, Log: o.Log}
	o.Tcp = tcpoutput.Stage{Wave: o.Wave, Model: o.Model, Config: o.Config, Bus: o.Bus, Log: o.Log}
	o.Audio = audio.Stage{Wave: o.Wave, Bus: o.Bus, Log: o.Log, SampleRate: o.Config.SampleRate}
	waveproc.AllocateLanes(o.Wave, o.Model, o.Config)
	o.watchFatalErrors()
	o.watchBoardPresence()
}

var _ command.Executor = (*Orchestrator)(nil)
var _ command.NoteRecorder = (*Orchestrator)(nil)
var _ command.PseudoItems = (*Orchestrator)(nil)

// Execute implements command.Executor for the run/rescanports/impedance/
// stim-upload action surface.
func (o *Orchestrator) Execute(action, parameter string) (string, error) {
	switch action {
	case "run":
		if err := o.SetRunMode("run"); err != nil {
			return "", err
		}
		return "ok", nil
	case "stop":
		if err := o.SetRunMode("stop"); err != nil {
			return "", err
		}
		return "ok", nil
	case "openboard":
		return "ok", o.openBoard()
	case "rescanports":
		return "ok", o.rescanPorts()
	case "measureimpedance":
		return "ok", o.measureImpedance()
	case "saveimpedance":
		return "ok", o.saveImpedance(parameter)
	case "uploadstimparameters":
		return "ok", o.withUploadLock(func() error { return o.uploadStimParameters(parameter) })
	case "uploadampsettlesettings":
		return "ok", o.withUploadLock(func() error { return o.uploadStimParameters(parameter) })
	case "uploadchargerecoverysettings":
		return "ok", o.withUploadLock(func() error { return o.uploadStimParameters(parameter) })
	case "uploadbandwidthsettings":
		return "ok", o.withUploadLock(func() error { return o.uploadBandwidthSettings() })
	default:
		return "", daqerr.ErrUnrecognizedParameter
	}
}

func (o *Orchestrator) withUploadLock(fn func() error) error {
	o.mu.Lock()
	if o.mode != Stopped {
		o.mu.Unlock()
		return &daqerr.RestrictedError{Path: "uploadInProgress", Reason: "running"}
	}
	if !o.Config.StimController {
		o.mu.Unlock()
		return &daqerr.ConfigError{Path: "uploadInProgress", Message: "no stim controller present"}
	}
	if o.uploadInProgress {
		o.mu.Unlock()
		return &daqerr.RestrictedError{Path: "uploadInProgress", Reason: "an upload is already in progress"}
	}
	o.uploadInProgress = true
	o.mu.Unlock()

	err := fn()

	o.mu.Lock()
	o.uploadInProgress = false
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) openBoard() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode != Stopped {
		return &daqerr.RestrictedError{Path: "openboard", Reason: "running"}
	}
	ctx := context.Background()
	if err := o.Board.Open(ctx); err != nil {
		return &daqerr.ResourceError{Resource: "board", Err: err}
	}
	return o.Board.Configure(o.Config)
}

// rescanPorts clears stim parameters, re-enumerates the board's channel
// layout, rebuilds the SignalModel and WaveformFifo lanes, and clears the
// undo stack. Only legal while Stopped.
func (o *Orchestrator) rescanPorts() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode != Stopped {
		return &daqerr.RestrictedError{Path: "rescanports", Reason: "running"}
	}

	o.Registry.WithHold(func() {
		o.Model.ClearStimParameters()
		o.Model.Reset()
		o.Wave.Reset()
		o.undo.clear()
		o.Registry.ForceUpdate("availablexpulist", "usedxpuindex")
	})
	return nil
}

// measureImpedance is exposed only as a command surface: the real
// electrode-impedance DSP is out of scope here, so this
// only records that a measurement pass completed and leaves
// ImpedanceMagnitudeOhms/ImpedancePhaseDegrees at whatever a concrete
// XpuFilter chose to report, if any.
func (o *Orchestrator) measureImpedance() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode != Stopped {
		return &daqerr.RestrictedError{Path: "measureimpedance", Reason: "running"}
	}
	for _, ch := range o.Model.AllChannels() {
		if ch.Kind != signalmodel.Amplifier || !ch.Enabled {
			continue
		}
		ch.HasImpedance = true
	}
	o.Registry.ForceUpdate("measureimpedance")
	return nil
}

func (o *Orchestrator) saveImpedance(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.mode != Stopped {
		return &daqerr.RestrictedError{Path: "saveimpedance", Reason: "running"}
	}
	if path == "" {
		it, ok := o.Registry.Locate("impedancefilename")
		if ok {
			p, _ := it.Sub("path")
			b, _ := it.Sub("basefilename")
			path = strings.TrimSuffix(p+"/"+b, "/")
		}
	}
	if path == "" || path == "/" {
		return &daqerr.ConfigError{Path: "saveimpedance", Message: "impedancefilename.path and .basefilename must be set"}
	}
	return nil
}

func (o *Orchestrator) uploadStimParameters(channelName string) error {
	ch, ok := o.Model.Channel(channelName)
	if !ok || ch.Stim == nil {
		return daqerr.ErrUnrecognizedParameter
	}
	variant := stim.AmplifierChannel
	switch ch.Kind {
	case signalmodel.BoardDac:
		variant = stim.AnalogOutChannel
	case signalmodel.BoardDigitalOut:
		variant = stim.DigitalOutChannel
	}
	times, err := stim.Program(ch.Stim, variant, o.Config.SampleRate, o.StimStepSizeUa)
	if err != nil {
		return err
	}
	writes := eventTimesToRegisterWrites(ch.Stream, ch.ChannelIndex, times)
	if err := o.Board.ProgramStimRegisters(writes); err != nil {
		return err
	}
	ch.StimPositiveAmplitudeSteps = times.PositiveAmplitudeSteps
	ch.StimNegativeAmplitudeSteps = times.NegativeAmplitudeSteps
	return nil
}

func (o *Orchestrator) uploadBandwidthSettings() error {
	return o.Filter.Configure(o.Config.SampleRate, 1, 7500, o.Config.StimController)
}

// InsertLiveNote implements command.NoteRecorder; it is only legal while a
// recording is actually in progress.
func (o *Orchestrator) InsertLiveNote(text string) error {
	o.mu.Lock()
	mode := o.mode
	o.mu.Unlock()
	if mode != Recording && mode != Triggered {
		return &daqerr.RestrictedError{Path: "livenotes", Reason: "not recording"}
	}
	if o.Disk.State() != diskwriter.Recording {
		return &daqerr.RestrictedError{Path: "livenotes", Reason: "not recording"}
	}
	return o.Sink.InsertLiveNote(text, uint32(o.Wave.Written()))
}

// Get implements command.PseudoItems.
func (o *Orchestrator) Get(name string) (string, bool) {
	switch name {
	case "runmode":
		return o.Mode().String(), true
	case "availablexpulist":
		return "0:" + o.Filter.Name(), true
	case "usedxpuindex":
		return "0", true
	case "tcpwaveformdataoutputhost":
		return o.TcpWaveform.Host, true
	case "tcpwaveformdataoutputport":
		return strconv.Itoa(o.TcpWaveform.Port), true
	case "tcpwaveformdataoutputconnectionstatus":
		return connectionStatus(o.TcpWaveform.Connected), true
	case "tcpspikedataoutputhost":
		return o.TcpSpike.Host, true
	case "tcpspikedataoutputport":
		return strconv.Itoa(o.TcpSpike.Port), true
	case "tcpspikedataoutputconnectionstatus":
		return connectionStatus(o.TcpSpike.Connected), true
	default:
		return "", false
	}
}

// Set implements command.PseudoItems. runmode accepts a Set, and
// usedxpuindex accepts only "0" (the CPU filter); the TCP endpoint fields
// and availablexpulist are read-only.
func (o *Orchestrator) Set(name, value string) (bool, error) {
	switch name {
	case "runmode":
		return true, o.SetRunMode(value)
	case "usedxpuindex":
		if value != "0" {
			return true, &daqerr.ConfigError{Path: "usedxpuindex", Message: "only 0 (cpu) is available"}
		}
		return true, nil
	default:
		return false, nil
	}
}

func connectionStatus(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func eventTimesToRegisterWrites(stream, channel int, t stim.EventTimes) []board.StimRegisterWrite {
	const base = 0x0100
	words := []uint32{
		uint32(t.StartStim), uint32(t.Phase2), uint32(t.Phase3), uint32(t.EndStim),
		uint32(t.End), uint32(t.Repeat), uint32(t.SettleOn), uint32(t.SettleOff),
		uint32(t.SettleOnRepeat), uint32(t.SettleOffRepeat), uint32(t.RecoveryOn), uint32(t.RecoveryOff),
		uint32(int32(t.PositiveAmplitudeSteps)), uint32(int32(t.NegativeAmplitudeSteps)),
		uint32(t.DacBaselineSteps), uint32(t.DacPositiveSteps), uint32(t.DacNegativeSteps),
	}
	writes := make([]board.StimRegisterWrite, len(words))
	for i, w := range words {
		writes[i] = board.StimRegisterWrite{Stream: stream, Channel: channel, Address: uint32(base + i), Value: w}
	}
	return writes
}
