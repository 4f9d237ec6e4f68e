package lanes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acquicore/daqcore/internal/signalmodel"
)

func TestAmpNamesByNativeNameAndBand(t *testing.T) {
	assert.Equal(t, "amp:A-000:WIDE", Amp("A-000", signalmodel.Wide))
	assert.Equal(t, "amp:A-000:LOW", Amp("A-000", signalmodel.Low))
	assert.Equal(t, "amp:A-000:HIGH", Amp("A-000", signalmodel.High))
	assert.Equal(t, "amp:A-000:DC", Amp("A-000", signalmodel.Dc))
}

func TestSpikeNamesByNativeName(t *testing.T) {
	assert.Equal(t, "spike:A-000", Spike("A-000"))
}

func TestDigitalLaneConstants(t *testing.T) {
	assert.Equal(t, "digital_in", DigitalIn)
	assert.Equal(t, "digital_out", DigitalOut)
}

func TestAdcDacSupplyNamesByIndex(t *testing.T) {
	assert.Equal(t, "adc:0", Adc(0))
	assert.Equal(t, "adc:3", Adc(3))
	assert.Equal(t, "dac:1", Dac(1))
	assert.Equal(t, "supply:2", Supply(2))
}

func TestLaneNamesAreDistinctAcrossCategories(t *testing.T) {
	names := map[string]bool{
		Amp("A-000", signalmodel.Wide): true,
		Spike("A-000"):                 true,
		DigitalIn:                      true,
		DigitalOut:                     true,
		Adc(0):                         true,
		Dac(0):                         true,
		Supply(0):                      true,
	}
	assert.Len(t, names, 7)
}
