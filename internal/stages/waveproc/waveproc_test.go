package waveproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquicore/daqcore/internal/board"
	"github.com/acquicore/daqcore/internal/lanes"
	"github.com/acquicore/daqcore/internal/observer"
	"github.com/acquicore/daqcore/internal/ringfifo"
	"github.com/acquicore/daqcore/internal/signalmodel"
	"github.com/acquicore/daqcore/internal/wavefifo"
	"github.com/acquicore/daqcore/internal/xpu"
)

func oneChannelModel() *signalmodel.SignalModel {
	m := signalmodel.NewSignalModel()
	m.AddPort(&signalmodel.Port{Label: "A", Channels: []*signalmodel.Channel{
		{NativeName: "A-000", Kind: signalmodel.Amplifier, Enabled: true, Stream: 0, ChannelIndex: 0},
	}})
	return m
}

func TestAllocateLanesCreatesBandAndAuxLanes(t *testing.T) {
	wf := wavefifo.New(64)
	model := oneChannelModel()
	cfg := board.Config{NumAdc: 1, NumDac: 1, NumStreams: 1}

	AllocateLanes(wf, model, cfg)

	assert.True(t, wf.HasF32Lane(lanes.Amp("A-000", signalmodel.Wide)))
	assert.True(t, wf.HasF32Lane(lanes.Amp("A-000", signalmodel.Low)))
	assert.True(t, wf.HasF32Lane(lanes.Amp("A-000", signalmodel.High)))
	assert.True(t, wf.HasU16Lane(lanes.Spike("A-000")))
	assert.True(t, wf.HasU16Lane(lanes.DigitalIn))
	assert.True(t, wf.HasU16Lane(lanes.Adc(0)))
	assert.True(t, wf.HasU16Lane(lanes.Dac(0)))
	assert.True(t, wf.HasU16Lane(lanes.Supply(0)))
}

func TestAllocateLanesSkipsDcLaneWithoutStimController(t *testing.T) {
	wf := wavefifo.New(64)
	model := oneChannelModel()
	AllocateLanes(wf, model, board.Config{})
	assert.False(t, wf.HasF32Lane(lanes.Amp("A-000", signalmodel.Dc)))
}

func TestStageDecodesFiltersAndCommitsOneBlock(t *testing.T) {
	cfg := board.Config{SampleRate: 30000, SamplesPerBlock: 8, NumStreams: 1, ChannelsPerStream: 1}
	model := oneChannelModel()

	ring := ringfifo.New(4, board.BlockByteLen(cfg))
	wave := wavefifo.New(256)
	AllocateLanes(wave, model, cfg)
	wave.Attach(wavefifo.Tcp)

	filter := xpu.NewCpuFilter()
	require.NoError(t, filter.Configure(cfg.SampleRate, 0.1, 7500, false))

	s := &Stage{Ring: ring, Wave: wave, Filter: filter, Model: model, Config: cfg}

	block := board.UsbBlock{Frames: make([]board.Frame, cfg.SamplesPerBlock)}
	for i := range block.Frames {
		block.Frames[i] = board.Frame{
			Timestamp:      uint32(i),
			Amp:            [][]uint16{{32768}},
			DigitalInWord:  0,
			DigitalOutWord: 0,
			Adc:            []uint16{},
			Dac:            []uint16{},
			SupplyVoltage:  []uint16{32768},
		}
	}
	require.True(t, ring.TryPush(board.EncodeBlock(cfg, block)))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Stop()
		s.Wait()
	}()

	start, ok := waitForRead(wave, cfg.SamplesPerBlock)
	require.True(t, ok)

	dst := make([]float32, cfg.SamplesPerBlock)
	wave.ReadF32(lanes.Amp("A-000", signalmodel.Wide), start, dst)
	wave.Free(wavefifo.Tcp)

	for _, v := range dst {
		assert.Equal(t, float32(0), v)
	}
}

func waitForRead(wave *wavefifo.WaveformFifo, n int) (uint64, bool) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if start, ok := wave.RequestRead(wavefifo.Tcp, n); ok {
			return start, true
		}
		time.Sleep(time.Millisecond)
	}
	return 0, false
}

func TestStagePublishesTimestampDiscontinuity(t *testing.T) {
	cfg := board.Config{SampleRate: 30000, SamplesPerBlock: 2, NumStreams: 1, ChannelsPerStream: 1}
	model := oneChannelModel()

	ring := ringfifo.New(4, board.BlockByteLen(cfg))
	wave := wavefifo.New(256)
	AllocateLanes(wave, model, cfg)
	wave.Attach(wavefifo.Tcp)

	filter := xpu.NewCpuFilter()
	require.NoError(t, filter.Configure(cfg.SampleRate, 0.1, 7500, false))

	bus := observer.New(nil, 8)
	defer bus.Close()
	errs := make(chan struct{}, 4)
	bus.Subscribe(func(ev observer.Event) {
		if ev.Kind == observer.Error {
			errs <- struct{}{}
		}
	})

	s := &Stage{Ring: ring, Wave: wave, Filter: filter, Model: model, Config: cfg, Bus: bus}

	mkBlock := func(startTs uint32) board.UsbBlock {
		b := board.UsbBlock{Frames: make([]board.Frame, cfg.SamplesPerBlock)}
		for i := range b.Frames {
			b.Frames[i] = board.Frame{
				Timestamp:     startTs + uint32(i),
				Amp:           [][]uint16{{32768}},
				Adc:           []uint16{},
				Dac:           []uint16{},
				SupplyVoltage: []uint16{32768},
			}
		}
		return b
	}

	require.True(t, ring.TryPush(board.EncodeBlock(cfg, mkBlock(0))))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Stop()
		s.Wait()
	}()

	_, ok := waitForRead(wave, cfg.SamplesPerBlock)
	require.True(t, ok)
	wave.Free(wavefifo.Tcp)

	// Jump the timestamp far ahead: a discontinuity relative to the first
	// block's last frame.
	require.True(t, ring.TryPush(board.EncodeBlock(cfg, mkBlock(1000))))

	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("expected a discontinuity event on the bus")
	}
}
