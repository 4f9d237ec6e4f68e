package ringfifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPushPopRoundTrip(t *testing.T) {
	r := New(4, 8)
	block := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.True(t, r.TryPush(block))

	dst := make([]byte, 8)
	require.True(t, r.TryPop(dst))
	assert.Equal(t, block, dst)
}

func TestPopOnEmptyFails(t *testing.T) {
	r := New(2, 4)
	dst := make([]byte, 4)
	assert.False(t, r.TryPop(dst))
}

func TestPushFailsWhenFull(t *testing.T) {
	r := New(2, 1)
	require.True(t, r.TryPush([]byte{1}))
	require.True(t, r.TryPush([]byte{2}))
	assert.False(t, r.TryPush([]byte{3}))
}

func TestPercentFull(t *testing.T) {
	r := New(4, 1)
	assert.Equal(t, 0, r.PercentFull())
	r.TryPush([]byte{1})
	r.TryPush([]byte{2})
	assert.Equal(t, 50, r.PercentFull())
}

func TestReset(t *testing.T) {
	r := New(2, 1)
	r.TryPush([]byte{1})
	r.Reset()
	assert.Equal(t, 0, r.PercentFull())
	dst := make([]byte, 1)
	assert.False(t, r.TryPop(dst))
}

// TestSequenceOfPushesAndPopsNeverCorrupts exercises the ring against an
// arbitrary sequence of push/pop operations, checking FIFO order holds
// and the ring never reports success on an operation it shouldn't.
func TestSequenceOfPushesAndPopsNeverCorrupts(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(rt, "capacity")
		r := New(capacity, 1)
		var pending []byte
		ops := rapid.SliceOfN(rapid.IntRange(0, 1), 1, 40).Draw(rt, "ops")

		var nextByte byte
		for _, op := range ops {
			if op == 0 {
				b := []byte{nextByte}
				if r.TryPush(b) {
					pending = append(pending, nextByte)
					nextByte++
				}
			} else {
				dst := make([]byte, 1)
				ok := r.TryPop(dst)
				if len(pending) == 0 {
					assert.False(rt, ok)
					continue
				}
				if ok {
					assert.Equal(rt, pending[0], dst[0])
					pending = pending[1:]
				}
			}
		}
	})
}
