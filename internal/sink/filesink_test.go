package sink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() Header {
	return Header{
		SampleRate:     30000,
		LowCutoffHz:    0.1,
		HighCutoffHz:   7500,
		ChannelNames:   []string{"A-000", "A-001"},
		ControllerType: "simulated",
	}
}

func TestNewFileSinkRejectsBadPattern(t *testing.T) {
	_, err := NewFileSink(t.TempDir(), "%")
	assert.Error(t, err)
}

func TestBeginSegmentCreatesDirAndHeaderFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "recording_%Y%m%d_%H%M%S")
	require.NoError(t, err)

	at := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.BeginSegment(testHeader(), at))

	segDir := filepath.Join(dir, "recording_20260731_120000")
	info, err := os.Stat(filepath.Join(segDir, "info.txt"))
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	contents, err := os.ReadFile(filepath.Join(segDir, "info.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "SampleRate: 30000")
	assert.Contains(t, string(contents), "A-000")
	assert.Contains(t, string(contents), "A-001")

	require.NoError(t, s.EndSegment())
}

func TestAppendWritesFloat32LaneFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "seg")
	require.NoError(t, err)
	require.NoError(t, s.BeginSegment(testHeader(), time.Now()))

	lane := Lane{ChannelName: "A-000", Band: "WIDE"}
	require.NoError(t, s.Append(lane, []float32{1, 2, 3}))
	require.NoError(t, s.EndSegment())

	data, err := os.ReadFile(filepath.Join(dir, "seg", "A-000.WIDE.dat"))
	require.NoError(t, err)
	assert.Len(t, data, 12)
}

func TestAppendWritesUint16LaneFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "seg")
	require.NoError(t, err)
	require.NoError(t, s.BeginSegment(testHeader(), time.Now()))

	lane := Lane{ChannelName: "digital", Band: "IN"}
	require.NoError(t, s.Append(lane, []uint16{10, 20}))
	require.NoError(t, s.EndSegment())

	data, err := os.ReadFile(filepath.Join(dir, "seg", "digital.IN.dat"))
	require.NoError(t, err)
	assert.Len(t, data, 4)
}

func TestAppendRejectsUnsupportedType(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "seg")
	require.NoError(t, err)
	require.NoError(t, s.BeginSegment(testHeader(), time.Now()))

	err = s.Append(Lane{ChannelName: "x", Band: "y"}, []int{1, 2})
	assert.Error(t, err)
}

func TestAppendReusesSameLaneFileAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "seg")
	require.NoError(t, err)
	require.NoError(t, s.BeginSegment(testHeader(), time.Now()))

	lane := Lane{ChannelName: "A-000", Band: "WIDE"}
	require.NoError(t, s.Append(lane, []float32{1}))
	require.NoError(t, s.Append(lane, []float32{2}))
	require.NoError(t, s.EndSegment())

	data, err := os.ReadFile(filepath.Join(dir, "seg", "A-000.WIDE.dat"))
	require.NoError(t, err)
	assert.Len(t, data, 8)
}

func TestInsertLiveNoteRequiresActiveSegment(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "seg")
	require.NoError(t, err)

	err = s.InsertLiveNote("hello", 123)
	assert.Error(t, err)
}

func TestInsertLiveNoteAppendsToHeader(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "seg")
	require.NoError(t, err)
	require.NoError(t, s.BeginSegment(testHeader(), time.Now()))

	require.NoError(t, s.InsertLiveNote("electrode moved", 5000))
	require.NoError(t, s.EndSegment())

	contents, err := os.ReadFile(filepath.Join(dir, "seg", "info.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(contents), "NOTE 5000: electrode moved")
}

func TestEndSegmentClearsLaneFilesForNextSegment(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, "seg1")
	require.NoError(t, err)
	require.NoError(t, s.BeginSegment(testHeader(), time.Now()))
	require.NoError(t, s.Append(Lane{ChannelName: "A-000", Band: "WIDE"}, []float32{1}))
	require.NoError(t, s.EndSegment())

	// Starting a second segment under a distinct name must not error out
	// due to stale lane file handles from the first.
	s2, err := NewFileSink(dir, "seg2")
	require.NoError(t, err)
	require.NoError(t, s2.BeginSegment(testHeader(), time.Now()))
	require.NoError(t, s2.Append(Lane{ChannelName: "A-000", Band: "WIDE"}, []float32{2, 3}))
	require.NoError(t, s2.EndSegment())
}
