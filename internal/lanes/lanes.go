// Package lanes centralizes WaveformFifo lane-naming conventions so the
// waveform processor (writer) and the disk/tcp/audio stages (readers)
// never disagree on how a channel+band maps to a lane name.
package lanes

import (
	"fmt"

	"github.com/acquicore/daqcore/internal/signalmodel"
)

// Amp names the f32 lane carrying one amplifier channel's band.
func Amp(nativeName string, band signalmodel.Band) string {
	return fmt.Sprintf("amp:%s:%s", nativeName, band.String())
}

// Spike names the u16 lane carrying one amplifier channel's spike ids
// (one u8-valued sample per frame, stored widened to u16).
func Spike(nativeName string) string {
	return fmt.Sprintf("spike:%s", nativeName)
}

const (
	DigitalIn  = "digital_in"
	DigitalOut = "digital_out"
)

func Adc(index int) string    { return fmt.Sprintf("adc:%d", index) }
func Dac(index int) string    { return fmt.Sprintf("dac:%d", index) }
func Supply(stream int) string { return fmt.Sprintf("supply:%d", stream) }
