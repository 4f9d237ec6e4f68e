package board

import "encoding/binary"

// BlockByteLen returns the fixed wire size of one UsbBlock under cfg: the
// size RingFifo is constructed with.
// Real hardware delivers blocks at this size already; EncodeBlock/
// DecodeBlock exist so the in-process reference boards (SimulatedBoard,
// SerialBoard) and the RingFifo agree on the same fixed-size contract the
// UsbReaderStage/WaveformProcessorStage boundary relies on.
func BlockByteLen(cfg Config) int {
	return 4 + frameByteLen(cfg)*cfg.SamplesPerBlock
}

func frameByteLen(cfg Config) int {
	n := 4 + 2 + 2 // timestamp, digital-in, digital-out
	n += 2 * cfg.NumStreams * cfg.ChannelsPerStream // amp
	if cfg.StimController {
		n += 2 * cfg.NumStreams * cfg.ChannelsPerStream // dc amp
		n += 2 * cfg.NumStreams * cfg.ChannelsPerStream // stim marker
	}
	n += 2 * cfg.NumAdc
	n += 2 * cfg.NumDac
	n += 2 * cfg.NumStreams // supply voltage, one per stream
	return n
}

// EncodeBlock serializes a UsbBlock into the fixed-size byte layout
// RingFifo transports.
func EncodeBlock(cfg Config, block UsbBlock) []byte {
	buf := make([]byte, BlockByteLen(cfg))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(block.Frames)))
	off := 4
	for _, f := range block.Frames {
		off = encodeFrame(cfg, buf, off, f)
	}
	return buf
}

func encodeFrame(cfg Config, buf []byte, off int, f Frame) int {
	binary.LittleEndian.PutUint32(buf[off:], f.Timestamp)
	off += 4
	for s := 0; s < cfg.NumStreams; s++ {
		for c := 0; c < cfg.ChannelsPerStream; c++ {
			binary.LittleEndian.PutUint16(buf[off:], f.Amp[s][c])
			off += 2
		}
	}
	if cfg.StimController {
		for s := 0; s < cfg.NumStreams; s++ {
			for c := 0; c < cfg.ChannelsPerStream; c++ {
				binary.LittleEndian.PutUint16(buf[off:], f.DcAmp[s][c])
				off += 2
			}
		}
		for s := 0; s < cfg.NumStreams; s++ {
			for c := 0; c < cfg.ChannelsPerStream; c++ {
				binary.LittleEndian.PutUint16(buf[off:], f.StimMarker[s][c])
				off += 2
			}
		}
	}
	binary.LittleEndian.PutUint16(buf[off:], f.DigitalInWord)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:], f.DigitalOutWord)
	off += 2
	for i := 0; i < cfg.NumAdc; i++ {
		binary.LittleEndian.PutUint16(buf[off:], f.Adc[i])
		off += 2
	}
	for i := 0; i < cfg.NumDac; i++ {
		binary.LittleEndian.PutUint16(buf[off:], f.Dac[i])
		off += 2
	}
	for s := 0; s < cfg.NumStreams; s++ {
		binary.LittleEndian.PutUint16(buf[off:], f.SupplyVoltage[s])
		off += 2
	}
	return off
}

// DecodeBlock is EncodeBlock's inverse, used by the waveform processor
// stage after popping a block from the RingFifo.
func DecodeBlock(cfg Config, buf []byte) UsbBlock {
	n := int(binary.LittleEndian.Uint32(buf[0:4]))
	off := 4
	block := UsbBlock{Frames: make([]Frame, n)}
	for i := 0; i < n; i++ {
		var f Frame
		off = decodeFrame(cfg, buf, off, &f)
		block.Frames[i] = f
	}
	return block
}

func decodeFrame(cfg Config, buf []byte, off int, f *Frame) int {
	f.Timestamp = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	f.Amp = make([][]uint16, cfg.NumStreams)
	for s := 0; s < cfg.NumStreams; s++ {
		f.Amp[s] = make([]uint16, cfg.ChannelsPerStream)
		for c := 0; c < cfg.ChannelsPerStream; c++ {
			f.Amp[s][c] = binary.LittleEndian.Uint16(buf[off:])
			off += 2
		}
	}
	if cfg.StimController {
		f.DcAmp = make([][]uint16, cfg.NumStreams)
		for s := 0; s < cfg.NumStreams; s++ {
			f.DcAmp[s] = make([]uint16, cfg.ChannelsPerStream)
			for c := 0; c < cfg.ChannelsPerStream; c++ {
				f.DcAmp[s][c] = binary.LittleEndian.Uint16(buf[off:])
				off += 2
			}
		}
		f.StimMarker = make([][]uint16, cfg.NumStreams)
		for s := 0; s < cfg.NumStreams; s++ {
			f.StimMarker[s] = make([]uint16, cfg.ChannelsPerStream)
			for c := 0; c < cfg.ChannelsPerStream; c++ {
				f.StimMarker[s][c] = binary.LittleEndian.Uint16(buf[off:])
				off += 2
			}
		}
	}
	f.DigitalInWord = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	f.DigitalOutWord = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	f.Adc = make([]uint16, cfg.NumAdc)
	for i := range f.Adc {
		f.Adc[i] = binary.LittleEndian.Uint16(buf[off:])
		off += 2
	}
	f.Dac = make([]uint16, cfg.NumDac)
	for i := range f.Dac {
		f.Dac[i] = binary.LittleEndian.Uint16(buf[off:])
		off += 2
	}
	f.SupplyVoltage = make([]uint16, cfg.NumStreams)
	for s := range f.SupplyVoltage {
		f.SupplyVoltage[s] = binary.LittleEndian.Uint16(buf[off:])
		off += 2
	}
	return off
}
