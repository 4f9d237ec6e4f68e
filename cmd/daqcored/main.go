// Command daqcored is the acquisition daemon: it wires together the
// signal model, state registry, fifos, board driver, filter, sink, and
// worker stages behind the orchestrator, then serves the command,
// waveform, and spike TCP sockets until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/acquicore/daqcore/internal/board"
	"github.com/acquicore/daqcore/internal/command"
	cfgpkg "github.com/acquicore/daqcore/internal/config"
	"github.com/acquicore/daqcore/internal/deviceio"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/orchestrator"
	"github.com/acquicore/daqcore/internal/ringfifo"
	"github.com/acquicore/daqcore/internal/server"
	"github.com/acquicore/daqcore/internal/signalmodel"
	"github.com/acquicore/daqcore/internal/sink"
	"github.com/acquicore/daqcore/internal/state"
	"github.com/acquicore/daqcore/internal/wavefifo"
	"github.com/acquicore/daqcore/internal/xpu"
)

func main() {
	fs := pflag.NewFlagSet("daqcored", pflag.ExitOnError)
	flags := cfgpkg.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := cfgpkg.Load(*flags.ConfigFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	flags.Apply(&cfg)

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("daqcored exited", "err", err)
	}
}

func run(cfg cfgpkg.Config, logger *log.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := observer.New(logger, 256)
	defer bus.Close()

	registry := state.NewRegistry(bus)
	model := signalmodel.NewSignalModel()
	model.SampleRate = cfg.Board.SampleRate

	boardCfg := board.Config{
		SampleRate:        cfg.Board.SampleRate,
		SamplesPerBlock:   cfg.Board.SamplesPerBlock,
		NumStreams:        cfg.Board.NumStreams,
		ChannelsPerStream: cfg.Board.ChannelsPerStream,
		StimController:    cfg.Board.StimController,
		NumAdc:            cfg.Board.NumAdc,
		NumDac:            cfg.Board.NumDac,
	}

	var drv board.Driver
	switch cfg.Board.Kind {
	case "serial":
		drv = board.NewSerial(cfg.Board.Device, cfg.Board.Baud)
	default:
		drv = board.NewSimulated(1)
	}

	blockBytes := board.BlockByteLen(boardCfg)
	ring := ringfifo.New(cfg.RingFifoBlocks, blockBytes)
	wave := wavefifo.New(cfg.WaveFifoCapacitySamples)

	filter := xpu.NewCpuFilter()
	if err := filter.Configure(cfg.Board.SampleRate, cfg.Disk.LowCutoffHz, cfg.Disk.HighCutoffHz, cfg.Board.StimController); err != nil {
		return err
	}

	diskSink, err := sink.NewFileSink(cfg.Disk.Dir, cfg.Disk.FilePattern)
	if err != nil {
		return err
	}

	orch := orchestrator.New()

	seedSignalModel(model, cfg)
	registerGlobalItems(registry, cfg, orch)
	registerSignalModelItems(registry, model, orch)

	orch.Board = drv
	orch.Ring = ring
	orch.Wave = wave
	orch.Filter = filter
	orch.Model = model
	orch.Config = boardCfg
	orch.Sink = diskSink
	orch.Registry = registry
	orch.Bus = bus
	orch.Log = logger
	orch.StimStepSizeUa = cfg.Board.StimStepSizeUa
	orch.TcpWaveform = orchestrator.TcpEndpoint{Port: cfg.Network.WaveformPort}
	orch.TcpSpike = orchestrator.TcpEndpoint{Port: cfg.Network.SpikePort}
	orch.Wire()
	orch.Tcp.ResolveEnabledChannels()
	orch.Disk.ResolveEnabledLanes()
	orch.Disk.Header = sink.Header{
		SampleRate:   cfg.Board.SampleRate,
		LowCutoffHz:  cfg.Disk.LowCutoffHz,
		HighCutoffHz: cfg.Disk.HighCutoffHz,
		ChannelNames: channelNames(model),
	}

	parser := &command.Parser{Registry: registry, Exec: orch, Notes: orch, Pseudo: orch}

	cmdServer := &server.CommandServer{Parser: parser, Log: logger}
	waveServer := server.NewWaveformDataServer(logger, &orch.Tcp)
	spikeServer := server.NewSpikeDataServer(logger, &orch.Tcp)

	errCh := make(chan error, 3)
	go func() { errCh <- cmdServer.ListenAndServe(ctx, cfg.Network.CommandPort) }()
	go func() { errCh <- waveServer.ListenAndServe(ctx, cfg.Network.WaveformPort) }()
	go func() { errCh <- spikeServer.ListenAndServe(ctx, cfg.Network.SpikePort) }()

	if cfg.Network.DnsSdEnabled {
		announcer := &deviceio.ServiceAnnouncer{Log: logger}
		if err := announcer.Announce(ctx, cfg.Network.DnsSdName, cfg.Network.CommandPort); err != nil {
			logger.Warn("dns-sd announce failed", "err", err)
		}
	}

	if cfg.DeviceIo.WatchUsbAttach {
		watcher := &deviceio.DeviceWatcher{Bus: bus, Log: logger}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Warn("device watcher exited", "err", err)
			}
		}()
	}

	if cfg.DeviceIo.StatusGpioChip != "" {
		indicator := &deviceio.StatusIndicator{Chip: cfg.DeviceIo.StatusGpioChip, Line: cfg.DeviceIo.StatusGpioLine}
		if err := indicator.Open(); err != nil {
			logger.Warn("status indicator open failed", "err", err)
		} else {
			indicator.Watch(bus)
			defer indicator.Close()
		}
	}

	if cfg.DeviceIo.EnableConsolePty {
		console := &deviceio.Console{Parser: parser, Log: logger}
		if err := console.Open(); err != nil {
			logger.Warn("console pty open failed", "err", err)
		} else {
			defer console.Close()
			logger.Info("local console available", "pty", console.SlaveName())
			go console.Run(ctx)
		}
	}

	logger.Info("daqcored listening",
		"command_port", cfg.Network.CommandPort,
		"waveform_port", cfg.Network.WaveformPort,
		"spike_port", cfg.Network.SpikePort,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("daqcored shutting down")
	return nil
}

// seedSignalModel builds one port of amplifier channels from the
// configured layout, the same default a fresh rescanports would produce
// against a SimulatedBoard.
func seedSignalModel(model *signalmodel.SignalModel, cfg cfgpkg.Config) {
	port := &signalmodel.Port{Label: "A", Enabled: true}
	for c := 0; c < cfg.Board.ChannelsPerStream; c++ {
		ch := &signalmodel.Channel{
			NativeName: fmt.Sprintf("A-%03d", c),
			Kind:       signalmodel.Amplifier,
			Enabled:    true,
			Stream:     0,
			ChannelIndex: c,
			PortLabel:  "A",
			Outputs: signalmodel.OutputSinks{
				Disk: true, TcpWide: true, TcpLow: true, TcpHigh: true, TcpSpike: true,
			},
		}
		port.Channels = append(port.Channels, ch)
	}
	model.AddPort(port)
}

func channelNames(model *signalmodel.SignalModel) []string {
	var names []string
	for _, ch := range model.AllChannels() {
		names = append(names, ch.NativeName)
	}
	return names
}

// restrictedWhileRunning builds the RestrictedFunc every mutable item
// shares: a mutation is refused whenever the Orchestrator is anywhere but
// Stopped, per the restricted-mutation invariant in 5. CONCURRENCY &
// RESOURCE MODEL. orch is captured by pointer, not read at registration
// time, since registerGlobalItems/registerSignalModelItems both run before
// orch.Wire() populates the rest of its fields.
func restrictedWhileRunning(orch *orchestrator.Orchestrator) state.RestrictedFunc {
	return func() (bool, string) {
		if orch.Mode() != orchestrator.Stopped {
			return true, "a run is already active"
		}
		return false, ""
	}
}

// registerGlobalItems installs the handful of top-level SystemState items
// every command-socket client expects to be able to get/set, beyond the
// pseudo-items the Orchestrator itself answers.
func registerGlobalItems(registry *state.Registry, cfg cfgpkg.Config, orch *orchestrator.Orchestrator) {
	restricted := restrictedWhileRunning(orch)

	sr := state.NewDouble("sampleratehertz", 1000, 30000, 0, restricted)
	sr.SeedDouble(cfg.Board.SampleRate)
	registry.RegisterGlobal(sr)
	filename := state.NewFilename("filename", restricted)
	registry.RegisterGlobal(filename)
	impedanceFilename := state.NewFilename("impedancefilename", restricted)
	registry.RegisterGlobal(impedanceFilename)
	notchFilter := state.NewEnum("notchfiltermode", []string{"off", "50hz", "60hz"}, restricted)
	notchFilter.SeedEnum("off")
	registry.RegisterGlobal(notchFilter)
}
