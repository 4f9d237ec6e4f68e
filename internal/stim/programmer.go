// Package stim implements the StimProgrammer: translating a channel's
// StimParameters into the board's stim event register sequence. The
// algorithm follows Intan-RHX's
// Engine/Processing/controllerinterface.cpp stim-sequencer programming.
package stim

import (
	"errors"
	"fmt"
	"math"

	"github.com/acquicore/daqcore/internal/signalmodel"
)

// Never is the board's sentinel meaning "this event never fires".
const Never uint16 = 65535

// ChannelVariant selects which set of derived fields EventTimes carries
//: an amplifier channel has no DAC fields; an analog-output
// DAC channel additionally computes baseline/positive/negative levels;
// a digital-output channel only uses start/end/refractory/repeat.
type ChannelVariant int

const (
	AmplifierChannel ChannelVariant = iota
	AnalogOutChannel
	DigitalOutChannel
)

// EventTimes is the full set of quantized event sample-offsets produced
// by Program, ready to hand to a board's register writer.
type EventTimes struct {
	StartStim, Phase2, Phase3, EndStim, End, Repeat uint16

	SettleOn, SettleOff, SettleOnRepeat, SettleOffRepeat uint16
	RecoveryOn, RecoveryOff                             uint16

	PositiveAmplitudeSteps, NegativeAmplitudeSteps int

	// DAC-only fields (AnalogOutChannel variant).
	DacBaselineSteps, DacPositiveSteps, DacNegativeSteps uint16
}

// Program quantizes p against the board's sample rate and current step
// size and returns the register event times, or an error if any quantized
// value would fall out of range — all-or-nothing, so the caller must not
// write any register until Program succeeds.
func Program(p *signalmodel.StimParameters, variant ChannelVariant, sampleRate, stimStepSizeUa float64) (EventTimes, error) {
	if p.Shape == signalmodel.Monophasic && variant != AnalogOutChannel {
		return EventTimes{}, fmt.Errorf("stim: Monophasic is only valid on an analog-output channel")
	}

	timestepUs := 1e6 / sampleRate
	var errs []error
	qT := func(us float64) uint16 {
		v, err := quantizeTime(us, timestepUs)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	qA := func(ua float64) int {
		v, err := quantizeAmplitude(ua, stimStepSizeUa)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	pre := uint16(0)
	post := uint16(0)
	if p.AmpSettle != nil {
		pre = qT(p.AmpSettle.PreStimUs)
		post = qT(p.AmpSettle.PostStimUs)
	}
	delay := qT(p.PostTriggerDelayUs)
	d1 := qT(p.FirstPhaseDurationUs)
	d2 := qT(p.SecondPhaseDurationUs)
	inter := qT(p.InterphaseDelayUs)
	refr := qT(p.RefractoryPeriodUs)
	recOn, recOff := uint16(0), uint16(0)
	if p.ChargeRecovery != nil {
		recOn = qT(p.ChargeRecovery.OnUs)
		recOff = qT(p.ChargeRecovery.OffUs)
	}
	period := qT(p.PulseTrainPeriodUs)

	startStim := delay
	var phase2, phase3, endStim uint16

	switch p.Shape {
	case signalmodel.Biphasic:
		phase2 = addClamp(startStim, d1)
		phase3 = Never
		endStim = addClamp(phase2, d2)
	case signalmodel.BiphasicWithInterphaseDelay:
		phase2 = addClamp(startStim, d1)
		phase3 = addClamp(phase2, inter)
		endStim = addClamp(phase3, d2)
	case signalmodel.Triphasic:
		phase2 = addClamp(startStim, d1)
		phase3 = addClamp(phase2, d2)
		endStim = addClamp(phase3, d1)
	case signalmodel.Monophasic:
		phase2 = Never
		phase3 = Never
		endStim = addClamp(startStim, d1)
	default:
		return EventTimes{}, fmt.Errorf("stim: unknown shape %v", p.Shape)
	}

	end := addClamp(endStim, refr)

	repeat := Never
	if p.PulseMode == signalmodel.PulseTrain {
		repeat = addClamp(startStim, period)
	}

	et := EventTimes{
		StartStim: startStim,
		Phase2:    phase2,
		Phase3:    phase3,
		EndStim:   endStim,
		End:       end,
		Repeat:    repeat,
	}

	if p.AmpSettle != nil && p.AmpSettle.Enabled {
		et.SettleOn = subClampToNever(startStim, pre)
		et.SettleOff = addClamp(endStim, post)
		if p.AmpSettle.Maintain {
			et.SettleOnRepeat = Never
			et.SettleOffRepeat = Never
		} else {
			et.SettleOnRepeat = subClampToNever(repeat, pre)
			et.SettleOffRepeat = post
		}
	} else {
		et.SettleOn = Never
		et.SettleOff = 0
		et.SettleOnRepeat = Never
		et.SettleOffRepeat = Never
	}

	if p.ChargeRecovery != nil && p.ChargeRecovery.Enabled {
		et.RecoveryOn = addClamp(endStim, recOn)
		et.RecoveryOff = addClamp(endStim, recOff)
	} else {
		et.RecoveryOn = Never
		et.RecoveryOff = 0
	}

	posUa, negUa := p.FirstPhaseAmplitudeUa, p.SecondPhaseAmplitudeUa
	if p.Polarity == signalmodel.PositiveFirst {
		posUa, negUa = negUa, posUa
	}
	et.PositiveAmplitudeSteps = qA(posUa)
	et.NegativeAmplitudeSteps = qA(negUa)

	if variant == AnalogOutChannel {
		et.DacBaselineSteps = clampU16(32768)
		et.DacPositiveSteps = clampU16(32768 + float64(et.PositiveAmplitudeSteps))
		et.DacNegativeSteps = clampU16(32768 - float64(et.NegativeAmplitudeSteps))
	}

	if len(errs) > 0 {
		return EventTimes{}, errors.Join(errs...)
	}

	return et, nil
}

// quantizeTime rounds us to the nearest sample step and rejects it if the
// result falls outside the register's representable range — 0..Never-1,
// since Never itself is the "does not fire" sentinel, not a real offset.
func quantizeTime(us, timestepUs float64) (uint16, error) {
	if us <= 0 {
		return 0, nil
	}
	steps := math.Round(us / timestepUs)
	if steps < 0 || steps >= float64(Never) {
		return 0, fmt.Errorf("stim: %.2fus quantizes to %.0f sample steps, outside 0..%d", us, steps, Never-1)
	}
	return uint16(steps), nil
}

// quantizeAmplitude rounds ua to the nearest current step and rejects it if
// the result would not fit the signed 16-bit amplitude register (the range
// that keeps DacBaselineSteps +/- the quantized value inside a uint16).
func quantizeAmplitude(ua, stepUa float64) (int, error) {
	if stepUa == 0 {
		return 0, nil
	}
	steps := math.Round(ua / stepUa)
	if steps < -32768 || steps > 32767 {
		return 0, fmt.Errorf("stim: %.2fua quantizes to %.0f current steps, outside -32768..32767", ua, steps)
	}
	return int(steps), nil
}

func addClamp(a, b uint16) uint16 {
	if a == Never || b == Never {
		return Never
	}
	sum := uint32(a) + uint32(b)
	if sum >= uint32(Never) {
		return Never - 1
	}
	return uint16(sum)
}

func subClampToNever(a, b uint16) uint16 {
	if a == Never {
		return Never
	}
	if uint32(b) > uint32(a) {
		return 0
	}
	return a - b
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
