package xpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureRejectsNonPositiveSampleRate(t *testing.T) {
	f := NewCpuFilter()
	err := f.Configure(0, 0.1, 7500, false)
	assert.Error(t, err)
}

func TestConfigureRejectsInvertedBandEdges(t *testing.T) {
	f := NewCpuFilter()
	err := f.Configure(30000, 7500, 0.1, false)
	assert.Error(t, err)
}

func TestProcessBeforeConfigureErrors(t *testing.T) {
	f := NewCpuFilter()
	_, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: []uint16{32768}}})
	assert.Error(t, err)
}

func TestNameIsCpu(t *testing.T) {
	assert.Equal(t, "cpu", NewCpuFilter().Name())
}

func TestProcessPopulatesWideLowHighBands(t *testing.T) {
	f := NewCpuFilter()
	require.NoError(t, f.Configure(30000, 0.1, 7500, false))

	n := 64
	raw := make([]uint16, n)
	for i := range raw {
		raw[i] = uint16(32768 + int(1000*math.Sin(float64(i))))
	}

	out, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: raw}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0].Bands.Wide, n)
	assert.Len(t, out[0].Bands.Low, n)
	assert.Len(t, out[0].Bands.High, n)
	assert.Nil(t, out[0].Bands.Dc)
	assert.Len(t, out[0].SpikeIDs, n)
}

func TestProcessPopulatesDcBandOnlyForStimController(t *testing.T) {
	f := NewCpuFilter()
	require.NoError(t, f.Configure(30000, 0.1, 7500, true))

	out, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: []uint16{32768, 32768}}})
	require.NoError(t, err)
	assert.Len(t, out[0].Bands.Dc, 2)
}

func TestProcessDetectsThresholdCrossingSpike(t *testing.T) {
	f := NewCpuFilter()
	require.NoError(t, f.Configure(30000, 0.1, 7500, false))
	f.SpikeThresholdCounts = 100
	f.RefractorySamples = 5

	raw := make([]uint16, 32)
	for i := range raw {
		raw[i] = 32768
	}
	// A sharp negative excursion should trip the high-passed threshold.
	raw[10] = 32768 - 5000

	out, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: raw}})
	require.NoError(t, err)

	found := false
	for _, s := range out[0].SpikeIDs {
		if s != NoSpike {
			found = true
			break
		}
	}
	assert.True(t, found, "expected at least one detected spike")
}

func TestProcessSuppressesSpikesWhileStimActive(t *testing.T) {
	f := NewCpuFilter()
	require.NoError(t, f.Configure(30000, 0.1, 7500, false))
	f.SpikeThresholdCounts = 100

	raw := make([]uint16, 32)
	for i := range raw {
		raw[i] = 32768
	}
	raw[10] = 32768 - 5000

	out, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: raw, StimActive: true}})
	require.NoError(t, err)
	for _, s := range out[0].SpikeIDs {
		assert.Equal(t, NoSpike, s)
	}
}

func TestProcessRefractoryHoldsOffRepeatedSpikes(t *testing.T) {
	f := NewCpuFilter()
	require.NoError(t, f.Configure(30000, 0.1, 7500, false))
	f.SpikeThresholdCounts = 100
	f.RefractorySamples = 100

	raw := make([]uint16, 50)
	for i := range raw {
		raw[i] = 32768
	}
	raw[5] = 32768 - 5000
	raw[6] = 32768 - 5000

	out, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: raw}})
	require.NoError(t, err)

	count := 0
	for _, s := range out[0].SpikeIDs {
		if s != NoSpike {
			count++
		}
	}
	assert.Equal(t, 1, count, "refractory period should suppress the immediately adjacent crossing")
}

func TestProcessRetainsFilterStateAcrossCalls(t *testing.T) {
	f := NewCpuFilter()
	require.NoError(t, f.Configure(30000, 0.1, 7500, false))

	raw1 := []uint16{40000, 40000, 40000}
	raw2 := []uint16{40000, 40000, 40000}

	out1, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: raw1}})
	require.NoError(t, err)
	out2, err := f.Process([]BlockInput{{Stream: 0, Channel: 0, RawCounts: raw2}})
	require.NoError(t, err)

	// Low-pass output should keep converging toward the step input rather
	// than restart from zero on the second call.
	assert.Greater(t, out2[0].Bands.Low[0], out1[0].Bands.Low[len(out1[0].Bands.Low)-1])
}
