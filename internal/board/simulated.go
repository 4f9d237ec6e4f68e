package board

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
)

// SimulatedBoard is a reference BoardDriver that synthesizes deterministic
// waveform data instead of talking to real hardware.
// It honors the same burst/backpressure contract a real board would: each
// StreamBlocks call returns up to maxBlocks blocks, and an operator can
// force HardwareFifoPercent up artificially to exercise backpressure paths
// in tests without needing real hardware under load.
type SimulatedBoard struct {
	mu      sync.Mutex
	cfg     Config
	open    bool
	rng     *rand.Rand
	nextTs  uint32
	toggle  bool

	forcedFifoPct atomic.Int64
}

// NewSimulated creates an unopened SimulatedBoard. Seed controls the noise
// generator so test runs are reproducible.
func NewSimulated(seed int64) *SimulatedBoard {
	return &SimulatedBoard{rng: rand.New(rand.NewSource(seed))}
}

func (b *SimulatedBoard) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = true
	return nil
}

func (b *SimulatedBoard) Configure(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	return nil
}

// StreamBlocks synthesizes up to maxBlocks single-data-block UsbBlocks,
// each samplesPerBlock frames long, advancing the timestamp monotonically.
func (b *SimulatedBoard) StreamBlocks(ctx context.Context, maxBlocks int) ([]UsbBlock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil, nil
	}

	blocks := make([]UsbBlock, 0, maxBlocks)
	for i := 0; i < maxBlocks; i++ {
		blocks = append(blocks, b.synthesizeBlock())
	}
	return blocks, nil
}

func (b *SimulatedBoard) synthesizeBlock() UsbBlock {
	n := b.cfg.SamplesPerBlock
	if n <= 0 {
		n = 128
	}
	block := UsbBlock{Frames: make([]Frame, n)}
	for f := 0; f < n; f++ {
		ts := b.nextTs
		b.nextTs++

		frame := Frame{Timestamp: ts}
		frame.Amp = make([][]uint16, b.cfg.NumStreams)
		for s := 0; s < b.cfg.NumStreams; s++ {
			frame.Amp[s] = make([]uint16, b.cfg.ChannelsPerStream)
			for c := 0; c < b.cfg.ChannelsPerStream; c++ {
				frame.Amp[s][c] = b.syntheticSample(s, c, ts)
			}
		}
		if b.cfg.StimController {
			frame.DcAmp = make([][]uint16, b.cfg.NumStreams)
			frame.StimMarker = make([][]uint16, b.cfg.NumStreams)
			for s := 0; s < b.cfg.NumStreams; s++ {
				frame.DcAmp[s] = make([]uint16, b.cfg.ChannelsPerStream)
				frame.StimMarker[s] = make([]uint16, b.cfg.ChannelsPerStream)
			}
		}

		b.toggle = !b.toggle
		if b.toggle {
			frame.DigitalInWord = 1
		}
		frame.DigitalOutWord = 0
		frame.Adc = make([]uint16, b.cfg.NumAdc)
		frame.Dac = make([]uint16, b.cfg.NumDac)
		frame.SupplyVoltage = make([]uint16, b.cfg.NumStreams)
		for s := range frame.SupplyVoltage {
			frame.SupplyVoltage[s] = 32768
		}

		block.Frames[f] = frame
	}
	return block
}

// syntheticSample sums a couple of sinusoids plus noise, scaled into the
// 16-bit unsigned range a real amplifier ADC reading occupies (centered at
// 32768, the usual bipolar-ADC raw-counts convention).
func (b *SimulatedBoard) syntheticSample(stream, channel int, ts uint32) uint16 {
	freq1 := 10.0 + float64(channel)
	freq2 := 120.0 + float64(stream)*3
	t := float64(ts) / b.cfg.SampleRate
	v := 200*math.Sin(2*math.Pi*freq1*t) + 60*math.Sin(2*math.Pi*freq2*t)
	v += b.rng.NormFloat64() * 15
	sample := int32(32768 + v)
	if sample < 0 {
		sample = 0
	}
	if sample > 65535 {
		sample = 65535
	}
	return uint16(sample)
}

func (b *SimulatedBoard) ProgramStimRegisters(writes []StimRegisterWrite) error {
	// Accepted unconditionally: the simulated board has no real
	// registers to reject a write against.
	return nil
}

// ForceHardwareFifoPercent lets tests simulate backpressure without
// actually feeding the board faster than it drains.
func (b *SimulatedBoard) ForceHardwareFifoPercent(pct int) {
	b.forcedFifoPct.Store(int64(pct))
}

func (b *SimulatedBoard) HardwareFifoPercent() int {
	return int(b.forcedFifoPct.Load())
}

func (b *SimulatedBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	return nil
}
