// Package xpu defines the XpuFilter capability: per-block
// waveform filtering and spike detection, run on whichever XPU (CPU or an
// installed GPU) the operator selected. This package ships CpuFilter, the
// reference CPU-only implementation; a GPU implementation is out of scope
// and is reached only through this same interface.
package xpu

// Bands holds one amplifier channel's filtered output for a block of
// samples. Dc is populated only when the filter is configured for a stim
// controller.
type Bands struct {
	Wide []float32
	Low  []float32
	High []float32
	Dc   []float32
}

// BlockInput is one processed amplifier channel's raw samples for a block,
// already decoded from the UsbBlock by the waveform processor stage.
type BlockInput struct {
	Stream      int
	Channel     int
	RawCounts   []uint16 // one per frame in the block
	StimActive  bool     // whether this channel is presently being stimulated
}

// BlockOutput is one channel's filtered bands plus spike tags, one spike
// id per input sample (0 = NoSpike).
type BlockOutput struct {
	Bands    Bands
	SpikeIDs []uint8
}

const NoSpike uint8 = 0

// Filter is the XpuFilter capability: configure once per rescan/parameter
// change, then process each arriving block.
type Filter interface {
	// Configure applies the sample rate, bandwidth settings, and
	// stim-controller flag before any Process call. It is safe to call again between
	// runs (e.g. after a bandwidth-setting change), but never mid-block.
	Configure(sampleRate float64, lowCutoffHz, highCutoffHz float64, stimController bool) error

	// Process filters one block's worth of input channels and produces
	// their filtered bands and spike tags. A hard per-block error means
	// the caller should reuse the last known configuration and escalate
	// only on consecutive failures.
	Process(inputs []BlockInput) ([]BlockOutput, error)

	// Name identifies this filter for the availablexpulist/usedxpuindex
	// command surface: "0:<cpu>" is always index 0.
	Name() string
}
