// Package wire implements the binary TCP waveform and spike framing — a
// hard external contract implemented bit-exactly, down to the byte layout
// and magic constants a consuming client expects on the wire.
package wire

import (
	"encoding/binary"
	"math"
)

// WaveformMagic and SpikeMagic are the fixed 32-bit markers
// require at the start of each block/record. Values are this repo's own
// choice (the original magic numbers are a private wire-compatibility
// detail carried over from Intan-RHX); any value
// works as long as producer and consumer agree, which is why they live in
// one place.
const (
	WaveformMagic uint32 = 0xC0FFEE00
	SpikeMagic    uint32 = 0x5A1D0001
)

// FramesPerBlock is the fixed frame count of one TCP waveform block
// (128). UsbBlocks are free to carry other counts in general; the TCP
// output stage flushes whole multiples of this constant and builds its
// framer with it, whatever the board's samplesPerBlock.
const FramesPerBlock = 128

// WaveformFramer accumulates one flushed TCP waveform write: magic +
// timestamp once per FramesPerBlock frames, then the enabled samples for
// each frame in a fixed, documented order.
type WaveformFramer struct {
	buf            []byte
	framesPerBlock int

	// repeat-last-value state for aux/supply lanes, keyed by caller-
	// assigned lane index.
	lastAux    map[int]uint16
	lastSupply map[int]uint16
}

// NewWaveformFramer creates a framer. framesPerBlock must match the
// board's configured samplesPerBlock.
func NewWaveformFramer(framesPerBlock int) *WaveformFramer {
	return &WaveformFramer{
		framesPerBlock: framesPerBlock,
		lastAux:        make(map[int]uint16),
		lastSupply:     make(map[int]uint16),
	}
}

// BeginFrame must be called once per frame index i (0-based within the
// flush window); it writes the magic number whenever i is the start of a
// new FramesPerBlock-sized block, then the timestamp.
func (w *WaveformFramer) BeginFrame(i int, timestamp uint32) {
	if i%w.framesPerBlock == 0 {
		w.putU32(WaveformMagic)
	}
	w.putU32(timestamp)
}

// PutAmpSample writes one enabled amplifier band sample (WIDE/LOW/HIGH/DC,
// in that order — callers are responsible for calling this in band order
// per enabled channel).
func (w *WaveformFramer) PutAmpSample(sample uint16) { w.putU16(sample) }

// PutStimSample writes a STIM-band word: the high byte is the hardware
// stim marker already present in raw, and the low byte is overwritten
// with the configured per-phase amplitude in current steps (0 when stim
// is off this sample). This mirrors Intan-RHX's stim-active bit masking:
// `raw & 0xFF00 | (amplitudeStep & 0xFF)`.
func (w *WaveformFramer) PutStimSample(raw uint16, amplitudeStep uint8) {
	word := (raw & 0xFF00) | uint16(amplitudeStep)
	w.putU16(word)
}

// PutAuxSample writes an aux-input sample for lane at its true sub-rate
// (every 4th frame) and the repeated last value otherwise.
// isTrueRateFrame tells the framer which case applies for this call.
func (w *WaveformFramer) PutAuxSample(lane int, value uint16, isTrueRateFrame bool) {
	if isTrueRateFrame {
		w.lastAux[lane] = value
	}
	w.putU16(w.lastAux[lane])
}

// PutSupplySample writes a supply-voltage sample for lane at its true
// sub-rate (every FramesPerBlock-th frame) and the repeated value
// otherwise.
func (w *WaveformFramer) PutSupplySample(lane int, value uint16, isTrueRateFrame bool) {
	if isTrueRateFrame {
		w.lastSupply[lane] = value
	}
	w.putU16(w.lastSupply[lane])
}

// PutAdcSample and PutDacSample write at true rate every frame.
func (w *WaveformFramer) PutAdcSample(value uint16) { w.putU16(value) }
func (w *WaveformFramer) PutDacSample(value uint16) { w.putU16(value) }

// PutDigitalInWord and PutDigitalOutWord each appear at most once per
// frame, written only when at least one digital-in/out
// channel is enabled; callers decide whether to call these at all.
func (w *WaveformFramer) PutDigitalInWord(word uint16)  { w.putU16(word) }
func (w *WaveformFramer) PutDigitalOutWord(word uint16) { w.putU16(word) }

// Bytes returns the accumulated buffer for this flush, ready to write to
// the socket.
func (w *WaveformFramer) Bytes() []byte { return w.buf }

// Reset clears the accumulated buffer for the next flush, preserving
// repeat-last-value state across flushes.
func (w *WaveformFramer) Reset() { w.buf = w.buf[:0] }

func (w *WaveformFramer) putU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *WaveformFramer) putU16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// SpikeRecord is one 14-byte spike side-channel record.
type SpikeRecord struct {
	NativeName string // space-padded to 5 bytes by AppendSpikeRecord
	Timestamp  uint32
	SpikeID    uint8
}

// AppendSpikeRecord appends one 14-byte record to buf and returns the
// result: magic(4) + nativeName(5, space-padded, not NUL-terminated) +
// timestamp(4) + spikeId(1).
func AppendSpikeRecord(buf []byte, rec SpikeRecord) []byte {
	var out [14]byte
	binary.LittleEndian.PutUint32(out[0:4], SpikeMagic)
	name := rec.NativeName
	if len(name) > 5 {
		name = name[:5]
	}
	copy(out[4:9], []byte(name))
	for i := len(name); i < 5; i++ {
		out[4+i] = ' '
	}
	binary.LittleEndian.PutUint32(out[9:13], rec.Timestamp)
	out[13] = rec.SpikeID
	return append(buf, out[:]...)
}

// Scaling functions, implemented to match bit-exactly.

// ScaleDcAmplifier converts a DC amplifier reading in microvolts to the
// u16 wire representation: round(µV / -0.01923) + 512.
func ScaleDcAmplifier(microvolts float64) uint16 {
	return clampU16(math.Round(microvolts/-0.01923) + 512)
}

// ScaleAuxInput converts volts to u16: round(V / 37.4e-6).
func ScaleAuxInput(volts float64) uint16 {
	return clampU16(math.Round(volts / 37.4e-6))
}

// ScaleSupplyVoltage converts volts to u16: round(V / 74.8e-6).
func ScaleSupplyVoltage(volts float64) uint16 {
	return clampU16(math.Round(volts / 74.8e-6))
}

// ScaleAdcNonUsb2 converts volts to u16 for a non-USB2 controller:
// round(V * 3200) + 32768.
func ScaleAdcNonUsb2(volts float64) uint16 {
	return clampU16(math.Round(volts*3200) + 32768)
}

// ScaleAdcUsb2 converts volts to u16 for a USB2 controller:
// round(V / 50.354e-6).
func ScaleAdcUsb2(volts float64) uint16 {
	return clampU16(math.Round(volts / 50.354e-6))
}

// ScaleDac converts volts to u16: round(V * 3200) + 32768.
func ScaleDac(volts float64) uint16 {
	return clampU16(math.Round(volts*3200) + 32768)
}

func clampU16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
