// Package signalmodel holds the canonical description of what is being
// acquired: channels, signal groups/ports, and stimulation parameters
//. It has no dependency on the runtime pipeline.
package signalmodel

import "fmt"

// SignalKind classifies a channel's source.
type SignalKind int

const (
	Amplifier SignalKind = iota
	AuxInput
	SupplyVoltage
	BoardAdc
	BoardDac
	BoardDigitalIn
	BoardDigitalOut
)

func (k SignalKind) String() string {
	switch k {
	case Amplifier:
		return "Amplifier"
	case AuxInput:
		return "AuxInput"
	case SupplyVoltage:
		return "SupplyVoltage"
	case BoardAdc:
		return "BoardAdc"
	case BoardDac:
		return "BoardDac"
	case BoardDigitalIn:
		return "BoardDigitalIn"
	case BoardDigitalOut:
		return "BoardDigitalOut"
	default:
		return "Unknown"
	}
}

// Band is a filtered view of an amplifier channel, or a marker lane for a
// stim-enabled channel.
type Band int

const (
	Wide Band = iota
	Low
	High
	Spike
	Dc
	Stim
)

func (b Band) String() string {
	switch b {
	case Wide:
		return "WIDE"
	case Low:
		return "LOW"
	case High:
		return "HIGH"
	case Spike:
		return "SPIKE"
	case Dc:
		return "DC"
	case Stim:
		return "STIM"
	default:
		return "UNKNOWN"
	}
}

// OutputSinks are the per-channel output routing flags.
type OutputSinks struct {
	Disk     bool
	TcpWide  bool
	TcpLow   bool
	TcpHigh  bool
	TcpSpike bool
	TcpDc    bool
	TcpStim  bool
}

// Channel is an enabled-or-disabled signal source. NativeName is stable
// and assigned at port-scan or playback-header time; CustomName is
// user-editable. Names are unique within a SignalModel.
type Channel struct {
	NativeName string
	CustomName string
	Kind       SignalKind
	Enabled    bool
	Color      uint32
	Reference  string

	ImpedanceMagnitudeOhms float64
	ImpedancePhaseDegrees  float64
	HasImpedance           bool

	Stim *StimParameters

	// StimPositiveAmplitudeSteps/StimNegativeAmplitudeSteps cache the last
	// successfully uploaded per-phase amplitude, in quantized DAC steps, so
	// the TCP output stage can re-encode the STIM band's low byte without
	// re-running the stim programmer per sample.
	StimPositiveAmplitudeSteps int
	StimNegativeAmplitudeSteps int

	Outputs OutputSinks

	// Stream/port addressing, needed by the waveform decoder
	// to locate this channel's sample inside a UsbBlock frame.
	Stream       int
	ChannelIndex int
	PortLabel    string
}

// EnabledBands returns the ordered list of bands this channel currently
// emits on the TCP waveform stream.
func (c *Channel) EnabledBands() []Band {
	var bands []Band
	if c.Outputs.TcpWide {
		bands = append(bands, Wide)
	}
	if c.Outputs.TcpLow {
		bands = append(bands, Low)
	}
	if c.Outputs.TcpHigh {
		bands = append(bands, High)
	}
	if c.Outputs.TcpDc {
		bands = append(bands, Dc)
	}
	if c.Outputs.TcpStim {
		bands = append(bands, Stim)
	}
	return bands
}

// Port is an ordered collection of channels sharing a physical port.
type Port struct {
	Label              string // e.g. "A", "B" — a single letter
	Channels           []*Channel
	Enabled            bool
	ManualCableDelay   int
	AuxDigitalOutValue bool
}

func (p *Port) Name() string { return fmt.Sprintf("Port %s", p.Label) }

// SignalModel is the canonical description of everything being acquired:
// every port, every channel, indexed for fast native-name lookup.
type SignalModel struct {
	Ports      []*Port
	byNative   map[string]*Channel
	SampleRate float64
}

func NewSignalModel() *SignalModel {
	return &SignalModel{byNative: make(map[string]*Channel)}
}

// AddPort appends a port and indexes its channels by native name. Native
// names must already be unique across the whole model; AddPort panics on
// a duplicate since that represents a port-scan bug, not user input.
func (m *SignalModel) AddPort(p *Port) {
	m.Ports = append(m.Ports, p)
	for _, c := range p.Channels {
		if _, exists := m.byNative[c.NativeName]; exists {
			panic(fmt.Sprintf("duplicate channel native name %q", c.NativeName))
		}
		m.byNative[c.NativeName] = c
	}
}

// Channel looks up a channel by native name (case-sensitive; callers at
// the command-parser boundary are responsible for the case-insensitive
// match the command parser performs at the path-resolution boundary).
func (m *SignalModel) Channel(nativeName string) (*Channel, bool) {
	c, ok := m.byNative[nativeName]
	return c, ok
}

// Port looks up a port by its single-letter label.
func (m *SignalModel) Port(label string) (*Port, bool) {
	for _, p := range m.Ports {
		if p.Label == label {
			return p, true
		}
	}
	return nil, false
}

// AllChannels returns every channel across every port, in port then
// within-port order — the stable iteration order the TCP stage caches.
func (m *SignalModel) AllChannels() []*Channel {
	var out []*Channel
	for _, p := range m.Ports {
		out = append(out, p.Channels...)
	}
	return out
}

// Reset clears all ports and channels, used by rescanports.
func (m *SignalModel) Reset() {
	m.Ports = nil
	m.byNative = make(map[string]*Channel)
}

// ClearStimParameters drops stim parameters from every channel, as
// execute rescanports requires.
func (m *SignalModel) ClearStimParameters() {
	for _, c := range m.AllChannels() {
		c.Stim = nil
	}
}
