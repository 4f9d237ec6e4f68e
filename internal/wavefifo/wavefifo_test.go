package wavefifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitAndReadOneLane(t *testing.T) {
	w := New(16)
	w.AddF32Lane("amp:A-000:WIDE")
	w.Attach(Tcp)

	cw, ok := w.BeginCommit(4)
	require.True(t, ok)
	for i := 0; i < 4; i++ {
		cw.PutF32("amp:A-000:WIDE", i, float32(i))
	}
	cw.Commit()

	start, ok := w.RequestRead(Tcp, 4)
	require.True(t, ok)
	assert.Equal(t, uint64(0), start)

	dst := make([]float32, 4)
	w.ReadF32("amp:A-000:WIDE", start, dst)
	assert.Equal(t, []float32{0, 1, 2, 3}, dst)

	w.Free(Tcp)
	assert.Equal(t, uint64(4), w.Cursor(Tcp))
}

func TestFreeSpaceReflectsSlowestReader(t *testing.T) {
	w := New(4)
	w.AddU16Lane("digital_in")
	w.Attach(Disk)
	w.Attach(Tcp)

	cw, ok := w.BeginCommit(4)
	require.True(t, ok)
	cw.Commit()
	assert.Equal(t, uint64(0), w.FreeSpace())

	start, ok := w.RequestRead(Tcp, 4)
	require.True(t, ok)
	w.Free(Tcp)
	_ = start
	// Disk hasn't freed anything yet, so the writer still can't reclaim.
	assert.Equal(t, uint64(0), w.FreeSpace())

	start, ok = w.RequestRead(Disk, 4)
	require.True(t, ok)
	w.Free(Disk)
	_ = start
	assert.Equal(t, uint64(4), w.FreeSpace())
}

func TestBeginCommitRejectsOverCapacity(t *testing.T) {
	w := New(2)
	w.AddU16Lane("digital_in")
	w.Attach(Tcp)
	_, ok := w.BeginCommit(3)
	assert.False(t, ok)
}

func TestPauseBlocksRequestRead(t *testing.T) {
	w := New(4)
	w.AddU16Lane("digital_in")
	w.Attach(Tcp)
	cw, ok := w.BeginCommit(2)
	require.True(t, ok)
	cw.Commit()

	w.Pause()
	_, ok = w.RequestRead(Tcp, 2)
	assert.False(t, ok)

	w.Resume()
	_, ok = w.RequestRead(Tcp, 2)
	assert.True(t, ok)
}

func TestDetachStopsGatingReclaim(t *testing.T) {
	w := New(4)
	w.AddU16Lane("digital_in")
	w.Attach(Disk)
	w.Attach(Tcp)
	w.Detach(Disk)

	cw, ok := w.BeginCommit(4)
	require.True(t, ok)
	cw.Commit()

	start, ok := w.RequestRead(Tcp, 4)
	require.True(t, ok)
	w.Free(Tcp)
	_ = start

	// Disk is detached, so it no longer holds back reclaim even though it
	// never advanced its own cursor.
	assert.Equal(t, uint64(4), w.FreeSpace())
}

func TestResetClearsLanesAndCursors(t *testing.T) {
	w := New(4)
	w.AddF32Lane("amp:A-000:WIDE")
	w.Attach(Tcp)
	cw, _ := w.BeginCommit(2)
	cw.Commit()

	w.Reset()
	assert.False(t, w.HasF32Lane("amp:A-000:WIDE"))
	assert.Equal(t, uint64(0), w.Written())
}
