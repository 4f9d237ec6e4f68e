package board

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedBoardRefusesBlocksBeforeOpen(t *testing.T) {
	b := NewSimulated(1)
	require.NoError(t, b.Configure(sampleConfig(false)))

	blocks, err := b.StreamBlocks(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, blocks)
}

func TestSimulatedBoardStreamsRequestedBlockCount(t *testing.T) {
	b := NewSimulated(1)
	cfg := sampleConfig(false)
	require.NoError(t, b.Open(context.Background()))
	require.NoError(t, b.Configure(cfg))

	blocks, err := b.StreamBlocks(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	for _, blk := range blocks {
		assert.Len(t, blk.Frames, cfg.SamplesPerBlock)
	}
}

func TestSimulatedBoardTimestampsAdvanceMonotonically(t *testing.T) {
	b := NewSimulated(1)
	cfg := sampleConfig(false)
	require.NoError(t, b.Open(context.Background()))
	require.NoError(t, b.Configure(cfg))

	blocks, err := b.StreamBlocks(context.Background(), 2)
	require.NoError(t, err)

	var last uint32
	first := true
	for _, blk := range blocks {
		for _, f := range blk.Frames {
			if !first {
				assert.Greater(t, f.Timestamp, last)
			}
			last = f.Timestamp
			first = false
		}
	}
}

func TestSimulatedBoardPopulatesStimLanesOnlyWhenConfigured(t *testing.T) {
	b := NewSimulated(1)
	cfg := sampleConfig(true)
	require.NoError(t, b.Open(context.Background()))
	require.NoError(t, b.Configure(cfg))

	blocks, err := b.StreamBlocks(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	for _, f := range blocks[0].Frames {
		assert.Len(t, f.DcAmp, cfg.NumStreams)
		assert.Len(t, f.StimMarker, cfg.NumStreams)
	}
}

func TestForceHardwareFifoPercentOverridesReportedLevel(t *testing.T) {
	b := NewSimulated(1)
	assert.Equal(t, 0, b.HardwareFifoPercent())
	b.ForceHardwareFifoPercent(87)
	assert.Equal(t, 87, b.HardwareFifoPercent())
}

func TestSimulatedBoardCloseStopsStreaming(t *testing.T) {
	b := NewSimulated(1)
	cfg := sampleConfig(false)
	require.NoError(t, b.Open(context.Background()))
	require.NoError(t, b.Configure(cfg))
	require.NoError(t, b.Close())

	blocks, err := b.StreamBlocks(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, blocks)
}

func TestSimulatedBoardProgramStimRegistersAlwaysSucceeds(t *testing.T) {
	b := NewSimulated(1)
	err := b.ProgramStimRegisters([]StimRegisterWrite{{Stream: 0, Channel: 0, Address: 1, Value: 2}})
	assert.NoError(t, err)
}
