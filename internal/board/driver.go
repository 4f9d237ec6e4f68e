// Package board defines the BoardDriver capability: block I/O, register writes, cable delay, and
// stim triggers, abstracted behind an interface so the pipeline never
// depends on a specific acquisition board's register map or USB endpoint
// layout. This package also ships two reference implementations exercised
// by the rest of the repo and its tests: SimulatedBoard (a synthetic
// signal generator) and SerialBoard (a bench-rig serial link).
package board

import "context"

// Frame is one sampled instant across every stream and auxiliary lane:
// each frame carries a timestamp word plus interleaved per-stream channel
// readings, plus auxiliary lanes.
type Frame struct {
	Timestamp uint32

	// Amp[stream][channel] is the raw 16-bit amplifier reading.
	Amp [][]uint16

	// DcAmp and StimMarker are populated only for a stim-capable
	// controller.
	DcAmp      [][]uint16
	StimMarker [][]uint16

	DigitalInWord  uint16
	DigitalOutWord uint16
	Adc            []uint16
	Dac            []uint16
	SupplyVoltage  []uint16
}

// UsbBlock is a fixed-size binary frame delivered by the board containing
// one or more data blocks. The decoder (WaveformProcessorStage)
// consumes Frames directly rather than raw bytes: byte-level framing is
// this package's concern, not the processor's.
type UsbBlock struct {
	Frames []Frame
}

// Config describes the acquisition configuration the board must honor:
// sample rate, per-port stream/channel layout, and whether a stim
// controller's DC/marker lanes should be populated.
type Config struct {
	SampleRate     float64
	SamplesPerBlock int
	NumStreams     int
	ChannelsPerStream int
	StimController bool
	NumAdc         int
	NumDac         int
}

// StimRegisterWrite is one (address, value) register-programming step, as
// produced by internal/stim's StimProgrammer.
type StimRegisterWrite struct {
	Stream  int
	Channel int
	Address uint32
	Value   uint32
}

// Driver is the BoardDriver capability.
type Driver interface {
	// Open establishes the USB connection. Failure here is a
	// daqerr.ResourceError and is fatal at startup.
	Open(ctx context.Context) error

	// Configure applies Config before a run starts. Returns an error if
	// the board cannot support it (e.g. requested sample rate out of
	// range).
	Configure(cfg Config) error

	// StreamBlocks pulls up to maxBlocks whole UsbBlocks currently
	// buffered by the board, or none if nothing is ready yet — the caller
	// should yield briefly and retry.
	StreamBlocks(ctx context.Context, maxBlocks int) ([]UsbBlock, error)

	// ProgramStimRegisters uploads a register sequence for one channel.
	// All-or-nothing: a failure must leave no register written for that
	// channel.
	ProgramStimRegisters(writes []StimRegisterWrite) error

	// HardwareFifoPercent reports the board's own onboard FIFO fill
	// level, used for backpressure reporting.
	HardwareFifoPercent() int

	// Close releases the USB connection.
	Close() error
}
