// Package ringfifo implements the lock-free SPSC ring of fixed-size USB
// blocks: one producer (the USB reader stage), one
// consumer (the waveform processor stage), transporting whole blocks that
// are never torn.
//
// The cursor/gating-sequence discipline follows the disruptor-style ring
// buffer pattern (grounded on the pack's
// rishavpaul-system-design/internal/disruptor ring buffer): a monotonic
// write cursor and a monotonic read cursor, both atomic, with capacity
// accounting done as unbounded sequence numbers modulo the slot count
// rather than a wrapping head/tail pair. That avoids the classic
// ambiguous "empty vs full" ring bug without needing an extra sentinel
// slot.
package ringfifo

import (
	"sync/atomic"
)

// RingFifo is a single-producer single-consumer ring of N fixed-length
// byte blocks.
type RingFifo struct {
	blockSize int
	slots     [][]byte

	// writeSeq is the number of blocks ever pushed; readSeq is the number
	// of blocks ever popped. Both only move forward. Capacity is len(slots).
	writeSeq atomic.Uint64
	readSeq  atomic.Uint64
}

// New allocates a ring holding n blocks of blockSize bytes each. n must be
// large enough to absorb a max_blocks_to_read burst; New
// panics on invalid sizes since that is a startup configuration bug, not a
// runtime condition.
func New(n, blockSize int) *RingFifo {
	if n <= 0 || blockSize <= 0 {
		panic("ringfifo: n and blockSize must be positive")
	}
	slots := make([][]byte, n)
	for i := range slots {
		slots[i] = make([]byte, blockSize)
	}
	return &RingFifo{blockSize: blockSize, slots: slots}
}

func (r *RingFifo) capacity() uint64 { return uint64(len(r.slots)) }

// TryPush copies block (which must be exactly blockSize bytes) into the
// next free slot and publishes it with release ordering so the next
// TryPop on the consumer goroutine observes it. Returns false
// (Full) if the ring has no free slot.
func (r *RingFifo) TryPush(block []byte) bool {
	if len(block) != r.blockSize {
		panic("ringfifo: block size mismatch")
	}
	w := r.writeSeq.Load()
	read := r.readSeq.Load()
	if w-read >= r.capacity() {
		return false // Full
	}
	slot := r.slots[w%r.capacity()]
	copy(slot, block)
	r.writeSeq.Store(w + 1) // release: publishes the copy above
	return true
}

// TryPop copies the oldest committed block into dst (which must be at
// least blockSize bytes) and advances the read cursor, reclaiming that
// slot for the producer. Returns false if no block is committed.
func (r *RingFifo) TryPop(dst []byte) bool {
	read := r.readSeq.Load()
	w := r.writeSeq.Load() // acquire: pairs with the Store in TryPush
	if read >= w {
		return false // None
	}
	slot := r.slots[read%r.capacity()]
	copy(dst, slot)
	r.readSeq.Store(read + 1)
	return true
}

// PercentFull is a sampled, lock-free approximation of fill level, for
// backpressure reporting.
func (r *RingFifo) PercentFull() int {
	w := r.writeSeq.Load()
	read := r.readSeq.Load()
	used := w - read
	return int(used * 100 / r.capacity())
}

// BlockSize returns the fixed block size this ring was constructed with.
func (r *RingFifo) BlockSize() int { return r.blockSize }

// Reset clears the ring. Only legal when no producer or consumer
// goroutine is active; callers must guarantee that via the
// orchestrator's shutdown-before-reset ordering.
func (r *RingFifo) Reset() {
	r.writeSeq.Store(0)
	r.readSeq.Store(0)
}
