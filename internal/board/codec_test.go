package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig(stimController bool) Config {
	return Config{
		SampleRate:        30000,
		SamplesPerBlock:   4,
		NumStreams:        2,
		ChannelsPerStream: 3,
		StimController:    stimController,
		NumAdc:            2,
		NumDac:            1,
	}
}

func sampleFrame(cfg Config, ts uint32) Frame {
	f := Frame{Timestamp: ts}
	f.Amp = make([][]uint16, cfg.NumStreams)
	for s := 0; s < cfg.NumStreams; s++ {
		f.Amp[s] = make([]uint16, cfg.ChannelsPerStream)
		for c := 0; c < cfg.ChannelsPerStream; c++ {
			f.Amp[s][c] = uint16(1000 + s*100 + c)
		}
	}
	if cfg.StimController {
		f.DcAmp = make([][]uint16, cfg.NumStreams)
		f.StimMarker = make([][]uint16, cfg.NumStreams)
		for s := 0; s < cfg.NumStreams; s++ {
			f.DcAmp[s] = make([]uint16, cfg.ChannelsPerStream)
			f.StimMarker[s] = make([]uint16, cfg.ChannelsPerStream)
			for c := 0; c < cfg.ChannelsPerStream; c++ {
				f.DcAmp[s][c] = uint16(2000 + s*100 + c)
				f.StimMarker[s][c] = uint16(3000 + s*100 + c)
			}
		}
	}
	f.DigitalInWord = 0xABCD
	f.DigitalOutWord = 0x1234
	f.Adc = []uint16{111, 222}
	f.Dac = []uint16{333}
	f.SupplyVoltage = []uint16{32768, 32769}
	return f
}

func TestEncodeDecodeBlockRoundTripsWithoutStimController(t *testing.T) {
	cfg := sampleConfig(false)

	// EncodeBlock sizes its buffer for exactly cfg.SamplesPerBlock frames;
	// feed it a block matching that count for a faithful round trip.
	full := UsbBlock{Frames: make([]Frame, cfg.SamplesPerBlock)}
	for i := range full.Frames {
		full.Frames[i] = sampleFrame(cfg, uint32(i))
	}
	encoded := EncodeBlock(cfg, full)
	require.Len(t, encoded, BlockByteLen(cfg))

	decoded := DecodeBlock(cfg, encoded)
	require.Len(t, decoded.Frames, cfg.SamplesPerBlock)
	for i, f := range decoded.Frames {
		assert.Equal(t, full.Frames[i].Timestamp, f.Timestamp)
		assert.Equal(t, full.Frames[i].Amp, f.Amp)
		assert.Equal(t, full.Frames[i].DigitalInWord, f.DigitalInWord)
		assert.Equal(t, full.Frames[i].DigitalOutWord, f.DigitalOutWord)
		assert.Equal(t, full.Frames[i].Adc, f.Adc)
		assert.Equal(t, full.Frames[i].Dac, f.Dac)
		assert.Equal(t, full.Frames[i].SupplyVoltage, f.SupplyVoltage)
		assert.Nil(t, f.DcAmp)
		assert.Nil(t, f.StimMarker)
	}
}

func TestEncodeDecodeBlockRoundTripsWithStimController(t *testing.T) {
	cfg := sampleConfig(true)
	full := UsbBlock{Frames: make([]Frame, cfg.SamplesPerBlock)}
	for i := range full.Frames {
		full.Frames[i] = sampleFrame(cfg, uint32(i))
	}

	encoded := EncodeBlock(cfg, full)
	require.Len(t, encoded, BlockByteLen(cfg))

	decoded := DecodeBlock(cfg, encoded)
	for i, f := range decoded.Frames {
		assert.Equal(t, full.Frames[i].DcAmp, f.DcAmp)
		assert.Equal(t, full.Frames[i].StimMarker, f.StimMarker)
	}
}

func TestBlockByteLenGrowsWithStimController(t *testing.T) {
	without := BlockByteLen(sampleConfig(false))
	with := BlockByteLen(sampleConfig(true))
	assert.Greater(t, with, without)
}

func TestBlockByteLenAccountsForAdcDacAndSupply(t *testing.T) {
	cfg := sampleConfig(false)
	cfg.NumAdc = 0
	cfg.NumDac = 0
	smaller := BlockByteLen(cfg)
	larger := BlockByteLen(sampleConfig(false))
	assert.Less(t, smaller, larger)
}
