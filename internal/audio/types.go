package audio

import (
	"sync"
	"time"
)

// LoudnessSample is a timestamped loudness reading in the range 0-255.
type LoudnessSample struct {
	Level float64
	At    time.Time
}

// FrameSource exposes the most recent samples of a live stream.
type FrameSource interface {
	// Snapshot fills dst with the newest len(dst) samples, oldest first.
	// Missing history is left as zero at the front.
	Snapshot(dst []float64)
}

// RingBuffer keeps the newest samples of a mono PCM stream.
// It is safe for concurrent use.
type RingBuffer struct {
	mu     sync.Mutex
	buf    []float64
	next   int
	filled bool
	decode []float64

	// A sample split across two writes keeps its low byte here.
	carry    byte
	hasCarry bool
}

// NewRingBuffer creates a buffer holding up to size samples.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buf: make([]float64, size)}
}

// Write appends S16LE PCM to the buffer, overwriting the oldest samples.
// Writes need not be sample aligned. It never fails.
func (r *RingBuffer) Write(pcm []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(pcm)
	r.decode = r.decode[:0]
	if r.hasCarry && len(pcm) > 0 {
		r.decode = DecodeS16LE([]byte{r.carry, pcm[0]}, r.decode)
		pcm = pcm[1:]
		r.hasCarry = false
	}
	if len(pcm)%2 == 1 {
		r.carry = pcm[len(pcm)-1]
		r.hasCarry = true
		pcm = pcm[:len(pcm)-1]
	}
	r.decode = DecodeS16LE(pcm, r.decode)
	for _, s := range r.decode {
		r.buf[r.next] = s
		r.next++
		if r.next == len(r.buf) {
			r.next = 0
			r.filled = true
		}
	}
	return n, nil
}

// Snapshot implements FrameSource.
func (r *RingBuffer) Snapshot(dst []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(dst)
	size := len(r.buf)
	avail := r.next
	if r.filled {
		avail = size
	}
	n := min(len(dst), avail)
	out := dst[len(dst)-n:]
	start := r.next - n
	if start < 0 {
		start += size
	}
	for i := range out {
		out[i] = r.buf[(start+i)%size]
	}
}
