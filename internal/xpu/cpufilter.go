package xpu

import (
	"fmt"
	"math"
)

// biquad is a direct-form-II transposed second-order IIR section, the
// textbook building block for the lowpass/highpass cascade.
type biquad struct {
	b0, b1, b2, a1, a2 float64
	z1, z2             float64
}

func (f *biquad) step(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

func lowpassBiquad(sampleRate, cutoffHz float64) biquad {
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cosw0, sinw0 := math.Cos(w0), math.Sin(w0)
	alpha := sinw0 / math.Sqrt2 // Q = 1/sqrt(2), maximally flat
	b0 := (1 - cosw0) / 2
	b1 := 1 - cosw0
	b2 := (1 - cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha
	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

func highpassBiquad(sampleRate, cutoffHz float64) biquad {
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cosw0, sinw0 := math.Cos(w0), math.Sin(w0)
	alpha := sinw0 / math.Sqrt2
	b0 := (1 + cosw0) / 2
	b1 := -(1 + cosw0)
	b2 := (1 + cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha
	return biquad{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// channelState holds the running filter state for one amplifier channel,
// so consecutive blocks continue the IIR recursion instead of resetting
// it (a reset would ring at every block boundary).
type channelState struct {
	low          biquad
	high         biquad
	refractory   int
	initialized  bool
}

// CpuFilter is the reference XpuFilter: a lowpass/highpass biquad split
// producing WIDE/LOW/HIGH (and DC passthrough for a stim controller), plus
// a simple negative-threshold spike detector with a refractory hold-off.
type CpuFilter struct {
	sampleRate     float64
	lowCutoffHz    float64
	highCutoffHz   float64
	stimController bool

	states map[channelKey]*channelState

	// SpikeThresholdCounts is the negative-going threshold, in raw ADC
	// counts below the 32768 midline, that triggers a spike.
	SpikeThresholdCounts int32
	// RefractorySamples is the hold-off after a spike during which no
	// new spike is reported on the same channel.
	RefractorySamples int
}

type channelKey struct {
	stream, channel int
}

// NewCpuFilter constructs a CpuFilter with reasonable defaults; Configure
// must still be called before the first Process.
func NewCpuFilter() *CpuFilter {
	return &CpuFilter{
		states:               make(map[channelKey]*channelState),
		SpikeThresholdCounts: 300,
		RefractorySamples:    30,
	}
}

func (f *CpuFilter) Name() string { return "cpu" }

func (f *CpuFilter) Configure(sampleRate, lowCutoffHz, highCutoffHz float64, stimController bool) error {
	if sampleRate <= 0 {
		return fmt.Errorf("xpu: sample rate must be positive")
	}
	if lowCutoffHz <= 0 || highCutoffHz <= lowCutoffHz {
		return fmt.Errorf("xpu: invalid band edges %g/%g", lowCutoffHz, highCutoffHz)
	}
	f.sampleRate = sampleRate
	f.lowCutoffHz = lowCutoffHz
	f.highCutoffHz = highCutoffHz
	f.stimController = stimController
	f.states = make(map[channelKey]*channelState)
	return nil
}

func (f *CpuFilter) stateFor(stream, channel int) *channelState {
	k := channelKey{stream, channel}
	st, ok := f.states[k]
	if !ok {
		st = &channelState{
			low:  lowpassBiquad(f.sampleRate, f.lowCutoffHz),
			high: highpassBiquad(f.sampleRate, f.highCutoffHz),
		}
		f.states[k] = st
	}
	return st
}

func (f *CpuFilter) Process(inputs []BlockInput) ([]BlockOutput, error) {
	if f.sampleRate == 0 {
		return nil, fmt.Errorf("xpu: Configure not called")
	}

	out := make([]BlockOutput, len(inputs))
	for i, in := range inputs {
		st := f.stateFor(in.Stream, in.Channel)
		n := len(in.RawCounts)

		bands := Bands{
			Wide: make([]float32, n),
			Low:  make([]float32, n),
			High: make([]float32, n),
		}
		if f.stimController {
			bands.Dc = make([]float32, n)
		}
		spikes := make([]uint8, n)

		for s := 0; s < n; s++ {
			centered := float64(int32(in.RawCounts[s]) - 32768)
			bands.Wide[s] = float32(centered)
			bands.Low[s] = float32(st.low.step(centered))
			highVal := st.high.step(centered)
			bands.High[s] = float32(highVal)
			if f.stimController {
				bands.Dc[s] = float32(centered)
			}

			if st.refractory > 0 {
				st.refractory--
				continue
			}
			if !in.StimActive && highVal < -float64(f.SpikeThresholdCounts) {
				spikes[s] = 1
				st.refractory = f.RefractorySamples
			}
		}

		out[i] = BlockOutput{Bands: bands, SpikeIDs: spikes}
	}
	return out, nil
}
