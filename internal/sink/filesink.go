package sink

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"
)

// FileSink is the reference Sink: one text header file plus one flat
// binary file per recorded lane, all sharing a base filename expanded
// through a strftime pattern, the same templating library this repo
// already depends on for timestamped output naming.
type FileSink struct {
	dir              string
	basePattern      string
	strf             *strftime.Strftime

	segmentDir string
	header     *os.File
	lanes      map[Lane]*os.File
}

// NewFileSink prepares a FileSink that writes into dir, naming each
// segment directory by expanding basePattern (e.g.
// "recording_%Y%m%d_%H%M%S") against the segment's start time.
func NewFileSink(dir, basePattern string) (*FileSink, error) {
	strf, err := strftime.New(basePattern)
	if err != nil {
		return nil, fmt.Errorf("filesink: bad filename pattern %q: %w", basePattern, err)
	}
	return &FileSink{dir: dir, basePattern: basePattern, strf: strf, lanes: make(map[Lane]*os.File)}, nil
}

func (s *FileSink) BeginSegment(header Header, at time.Time) error {
	name := s.strf.FormatString(at)
	segDir := filepath.Join(s.dir, name)
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return fmt.Errorf("filesink: mkdir %s: %w", segDir, err)
	}
	s.segmentDir = segDir

	hf, err := os.Create(filepath.Join(segDir, "info.txt"))
	if err != nil {
		return fmt.Errorf("filesink: create header: %w", err)
	}
	fmt.Fprintf(hf, "SampleRate: %g\n", header.SampleRate)
	fmt.Fprintf(hf, "LowCutoffHz: %g\n", header.LowCutoffHz)
	fmt.Fprintf(hf, "HighCutoffHz: %g\n", header.HighCutoffHz)
	fmt.Fprintf(hf, "ControllerType: %s\n", header.ControllerType)
	fmt.Fprintf(hf, "ExpanderPresent: %v\n", header.ExpanderPresent)
	fmt.Fprintf(hf, "Channels: %d\n", len(header.ChannelNames))
	for _, c := range header.ChannelNames {
		fmt.Fprintf(hf, "  %s\n", c)
	}
	s.header = hf
	s.lanes = make(map[Lane]*os.File)
	return nil
}

func (s *FileSink) laneFile(lane Lane) (*os.File, error) {
	if f, ok := s.lanes[lane]; ok {
		return f, nil
	}
	fname := filepath.Join(s.segmentDir, fmt.Sprintf("%s.%s.dat", lane.ChannelName, lane.Band))
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("filesink: create lane file %s: %w", fname, err)
	}
	s.lanes[lane] = f
	return f, nil
}

func (s *FileSink) Append(lane Lane, samples any) error {
	f, err := s.laneFile(lane)
	if err != nil {
		return err
	}
	switch v := samples.(type) {
	case []float32:
		buf := make([]byte, 4*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
		}
		_, err = f.Write(buf)
	case []uint16:
		buf := make([]byte, 2*len(v))
		for i, x := range v {
			binary.LittleEndian.PutUint16(buf[i*2:], x)
		}
		_, err = f.Write(buf)
	default:
		return fmt.Errorf("filesink: unsupported sample type %T", samples)
	}
	return err
}

func (s *FileSink) InsertLiveNote(text string, timestamp uint32) error {
	if s.header == nil {
		return fmt.Errorf("filesink: no active segment")
	}
	_, err := fmt.Fprintf(s.header, "NOTE %d: %s\n", timestamp, text)
	return err
}

func (s *FileSink) EndSegment() error {
	var firstErr error
	for _, f := range s.lanes {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.lanes = make(map[Lane]*os.File)
	if s.header != nil {
		if err := s.header.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.header = nil
	}
	return firstErr
}
