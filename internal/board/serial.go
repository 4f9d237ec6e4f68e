package board

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/term"
)

// SerialBoard is an alternate BoardDriver for bench rigs whose
// acquisition front-end exposes a simple line-free binary protocol over a
// serial link rather than USB bulk transfer. Opening
// and speed selection follow the direwolf tq.go serial_port_open idiom
// (github.com/pkg/term), generalized from a fixed baud switch to any rate
// the rig's UART can run.
type SerialBoard struct {
	device string
	baud   int

	mu   sync.Mutex
	port *term.Term
	r    *bufio.Reader
	cfg  Config
}

// NewSerial constructs a SerialBoard bound to device at baud. The port is
// not opened until Open is called.
func NewSerial(device string, baud int) *SerialBoard {
	return &SerialBoard{device: device, baud: baud}
}

func (b *SerialBoard) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, err := term.Open(b.device, term.RawMode)
	if err != nil {
		return fmt.Errorf("serial board: open %s: %w", b.device, err)
	}
	if b.baud != 0 {
		if err := t.SetSpeed(b.baud); err != nil {
			t.Close()
			return fmt.Errorf("serial board: set speed %d: %w", b.baud, err)
		}
	}
	b.port = t
	b.r = bufio.NewReader(t)
	return nil
}

func (b *SerialBoard) Configure(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	// A real rig would send a configuration command frame here; the
	// reference protocol simply remembers the requested layout so
	// StreamBlocks knows how to parse the fixed-size frames it reads
	// back.
	return nil
}

// frameByteLen returns the wire size of one Frame under the current
// Config: a 4-byte timestamp, then one uint16 per amplifier channel, one
// uint16 each for digital-in/out, and one uint16 per ADC/DAC lane.
func (b *SerialBoard) frameByteLen() int {
	n := 4 + 2 + 2 // timestamp + digital in + digital out
	n += 2 * b.cfg.NumStreams * b.cfg.ChannelsPerStream
	n += 2 * b.cfg.NumAdc
	n += 2 * b.cfg.NumDac
	return n
}

// StreamBlocks reads maxBlocks single-data-block frames from the serial
// link, blocking briefly on the first byte of each and returning
// whatever has arrived so far if the rig falls behind — matching the
// USB reader's "else yield briefly" contract rather than
// blocking the whole pipeline on a slow bench rig.
func (b *SerialBoard) StreamBlocks(ctx context.Context, maxBlocks int) ([]UsbBlock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil, fmt.Errorf("serial board: not open")
	}

	var blocks []UsbBlock
	for i := 0; i < maxBlocks; i++ {
		if b.r.Buffered() == 0 && i > 0 {
			break
		}
		frame, err := b.readFrame()
		if err != nil {
			return blocks, err
		}
		blocks = append(blocks, UsbBlock{Frames: []Frame{frame}})
	}
	return blocks, nil
}

func (b *SerialBoard) readFrame() (Frame, error) {
	buf := make([]byte, b.frameByteLen())
	if _, err := b.r.Read(buf); err != nil {
		return Frame{}, fmt.Errorf("serial board: read frame: %w", err)
	}

	var f Frame
	off := 0
	f.Timestamp = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	f.Amp = make([][]uint16, b.cfg.NumStreams)
	for s := 0; s < b.cfg.NumStreams; s++ {
		f.Amp[s] = make([]uint16, b.cfg.ChannelsPerStream)
		for c := 0; c < b.cfg.ChannelsPerStream; c++ {
			f.Amp[s][c] = binary.LittleEndian.Uint16(buf[off:])
			off += 2
		}
	}
	f.DigitalInWord = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	f.DigitalOutWord = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	f.Adc = make([]uint16, b.cfg.NumAdc)
	for i := range f.Adc {
		f.Adc[i] = binary.LittleEndian.Uint16(buf[off:])
		off += 2
	}
	f.Dac = make([]uint16, b.cfg.NumDac)
	for i := range f.Dac {
		f.Dac[i] = binary.LittleEndian.Uint16(buf[off:])
		off += 2
	}
	return f, nil
}

func (b *SerialBoard) ProgramStimRegisters(writes []StimRegisterWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return fmt.Errorf("serial board: not open")
	}
	for _, w := range writes {
		hdr := make([]byte, 10)
		hdr[0] = 'R'
		binary.LittleEndian.PutUint16(hdr[1:], uint16(w.Stream))
		binary.LittleEndian.PutUint16(hdr[3:], uint16(w.Channel))
		binary.LittleEndian.PutUint32(hdr[5:], w.Address)
		hdr[9] = byte(w.Value)
		if _, err := b.port.Write(hdr); err != nil {
			return fmt.Errorf("serial board: program register: %w", err)
		}
	}
	return nil
}

func (b *SerialBoard) HardwareFifoPercent() int {
	// The reference serial protocol has no onboard FIFO telemetry frame
	// defined; report 0 rather than guessing.
	return 0
}

func (b *SerialBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}
