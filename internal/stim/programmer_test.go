package stim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquicore/daqcore/internal/signalmodel"
)

const sampleRate = 30000.0 // 33.33us/sample
const stepUa = 0.01

func basicBiphasic() *signalmodel.StimParameters {
	return &signalmodel.StimParameters{
		Enabled:                true,
		Shape:                  signalmodel.Biphasic,
		Polarity:               signalmodel.NegativeFirst,
		PulseMode:              signalmodel.SinglePulse,
		FirstPhaseDurationUs:   100,
		SecondPhaseDurationUs:  100,
		RefractoryPeriodUs:     1000,
		PostTriggerDelayUs:     0,
		FirstPhaseAmplitudeUa:  10,
		SecondPhaseAmplitudeUa: 10,
	}
}

func TestProgramBiphasicOrdersEvents(t *testing.T) {
	p := basicBiphasic()
	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)

	assert.Equal(t, Never, et.Phase3)
	assert.True(t, et.StartStim < et.Phase2)
	assert.True(t, et.Phase2 < et.EndStim)
	assert.True(t, et.EndStim < et.End)
	assert.Equal(t, Never, et.Repeat)
}

func TestProgramBiphasicWithInterphaseDelayOrdersThreeEvents(t *testing.T) {
	p := basicBiphasic()
	p.Shape = signalmodel.BiphasicWithInterphaseDelay
	p.InterphaseDelayUs = 50

	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)

	assert.True(t, et.StartStim < et.Phase2)
	assert.True(t, et.Phase2 < et.Phase3)
	assert.True(t, et.Phase3 < et.EndStim)
}

func TestProgramTriphasicOrdersThreeEqualPhases(t *testing.T) {
	p := basicBiphasic()
	p.Shape = signalmodel.Triphasic

	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)

	assert.True(t, et.StartStim < et.Phase2)
	assert.True(t, et.Phase2 < et.Phase3)
	assert.True(t, et.Phase3 < et.EndStim)
}

func TestProgramMonophasicOnlyValidOnAnalogOut(t *testing.T) {
	p := basicBiphasic()
	p.Shape = signalmodel.Monophasic

	_, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	assert.Error(t, err)

	et, err := Program(p, AnalogOutChannel, sampleRate, stepUa)
	require.NoError(t, err)
	assert.Equal(t, Never, et.Phase2)
	assert.Equal(t, Never, et.Phase3)
}

func TestProgramPulseTrainSetsRepeat(t *testing.T) {
	p := basicBiphasic()
	p.PulseMode = signalmodel.PulseTrain
	p.PulseTrainPeriodUs = 10000

	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)
	assert.NotEqual(t, Never, et.Repeat)
	assert.True(t, et.Repeat > et.StartStim)
}

func TestProgramPolarityFlipsWhichPhaseIsPositive(t *testing.T) {
	p := basicBiphasic()
	p.FirstPhaseAmplitudeUa = 20
	p.SecondPhaseAmplitudeUa = 5

	p.Polarity = signalmodel.NegativeFirst
	etNeg, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)

	p.Polarity = signalmodel.PositiveFirst
	etPos, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)

	assert.Equal(t, etNeg.PositiveAmplitudeSteps, etPos.NegativeAmplitudeSteps)
	assert.Equal(t, etNeg.NegativeAmplitudeSteps, etPos.PositiveAmplitudeSteps)
}

func TestProgramAmpSettleBundleComputesOnOff(t *testing.T) {
	p := basicBiphasic()
	p.PostTriggerDelayUs = 200 // give SettleOn room to land before StartStim
	p.AmpSettle = &signalmodel.AmpSettleSettings{
		Enabled:    true,
		PreStimUs:  50,
		PostStimUs: 50,
	}

	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)
	assert.NotEqual(t, Never, et.SettleOn)
	assert.True(t, et.SettleOn < et.StartStim)
	assert.True(t, et.SettleOff > et.EndStim)
}

func TestProgramAmpSettleDisabledLeavesSentinels(t *testing.T) {
	p := basicBiphasic()
	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)
	assert.Equal(t, Never, et.SettleOn)
	assert.Equal(t, uint16(0), et.SettleOff)
}

func TestProgramChargeRecoveryBundleComputesOnOff(t *testing.T) {
	p := basicBiphasic()
	p.ChargeRecovery = &signalmodel.ChargeRecoverySettings{
		Enabled: true,
		OnUs:    10,
		OffUs:   200,
	}

	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	require.NoError(t, err)
	assert.NotEqual(t, Never, et.RecoveryOn)
	assert.True(t, et.RecoveryOn < et.RecoveryOff)
}

func TestProgramAnalogOutComputesDacLevels(t *testing.T) {
	p := basicBiphasic()
	p.FirstPhaseAmplitudeUa = 100
	p.SecondPhaseAmplitudeUa = 100

	et, err := Program(p, AnalogOutChannel, sampleRate, stepUa)
	require.NoError(t, err)
	assert.Equal(t, uint16(32768), et.DacBaselineSteps)
	assert.True(t, et.DacPositiveSteps > et.DacBaselineSteps)
	assert.True(t, et.DacNegativeSteps < et.DacBaselineSteps)
}

func TestAddClampSaturatesAtNeverMinusOne(t *testing.T) {
	assert.Equal(t, Never, addClamp(Never, 5))
	assert.Equal(t, Never, addClamp(5, Never))
	assert.Equal(t, Never-1, addClamp(Never-1, 10))
}

func TestSubClampToNeverFloorsAtZero(t *testing.T) {
	assert.Equal(t, Never, subClampToNever(Never, 5))
	assert.Equal(t, uint16(0), subClampToNever(5, 10))
	assert.Equal(t, uint16(5), subClampToNever(10, 5))
}

func TestQuantizeTimeRoundsToNearestSample(t *testing.T) {
	timestepUs := 1e6 / sampleRate
	v, err := quantizeTime(0, timestepUs)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), v)

	v, err = quantizeTime(3*timestepUs+0.01, timestepUs)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), v)
}

func TestQuantizeTimeRejectsOutOfRangeDuration(t *testing.T) {
	timestepUs := 1e6 / sampleRate
	_, err := quantizeTime(float64(Never)*timestepUs, timestepUs)
	assert.Error(t, err)
}

func TestQuantizeAmplitudeRoundsToNearestStep(t *testing.T) {
	v, err := quantizeAmplitude(2.5, 0.01)
	require.NoError(t, err)
	assert.Equal(t, 250, v)

	v, err = quantizeAmplitude(5, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestQuantizeAmplitudeRejectsOutOfRangeValue(t *testing.T) {
	_, err := quantizeAmplitude(1000, 0.01)
	assert.Error(t, err)
}

func TestProgramRejectsOutOfRangeDurationBeforeTouchingAnyRegister(t *testing.T) {
	p := basicBiphasic()
	p.FirstPhaseDurationUs = float64(Never) * (1e6 / sampleRate)

	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	assert.Error(t, err)
	assert.Equal(t, EventTimes{}, et)
}

func TestProgramRejectsOutOfRangeAmplitudeBeforeTouchingAnyRegister(t *testing.T) {
	p := basicBiphasic()
	p.FirstPhaseAmplitudeUa = 1000

	et, err := Program(p, AmplifierChannel, sampleRate, stepUa)
	assert.Error(t, err)
	assert.Equal(t, EventTimes{}, et)
}
