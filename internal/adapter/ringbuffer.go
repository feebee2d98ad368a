package adapter

import "sync"

// defaultBufferSize bounds retained PTY output per participant.
const defaultBufferSize = 262144 // 256 KB

// ringBuffer is a fixed-size circular byte buffer addressed by absolute
// write offsets. The total-written counter doubles as the marker space:
// offset N always refers to the Nth byte ever written, whether or not it
// is still retained. Safe for one writer and many readers.
type ringBuffer struct {
	mu      sync.Mutex
	buf     []byte
	written int64 // total bytes ever written
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &ringBuffer{buf: make([]byte, capacity)}
}

// Write appends data, overwriting the oldest bytes when full.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	capacity := len(rb.buf)

	if n >= capacity {
		// Only the last capacity bytes survive.
		copy(rb.buf, p[n-capacity:])
		rb.written += int64(n)
		return n, nil
	}

	pos := int(rb.written % int64(capacity))
	first := capacity - pos
	if first >= n {
		copy(rb.buf[pos:], p)
	} else {
		copy(rb.buf[pos:], p[:first])
		copy(rb.buf, p[first:])
	}
	rb.written += int64(n)
	return n, nil
}

// Total returns the absolute offset of the end of output.
func (rb *ringBuffer) Total() int64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.written
}

// ReadFrom returns a copy of all bytes from the absolute offset to the end.
// Offsets older than the retained window are clamped to the oldest byte
// still available; offsets at or past the end return nil.
func (rb *ringBuffer) ReadFrom(offset int64) []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if offset >= rb.written {
		return nil
	}
	capacity := int64(len(rb.buf))
	oldest := rb.written - capacity
	if oldest < 0 {
		oldest = 0
	}
	if offset < oldest {
		offset = oldest
	}

	length := rb.written - offset
	out := make([]byte, length)
	start := offset % capacity
	first := capacity - start
	if first >= length {
		copy(out, rb.buf[start:start+length])
	} else {
		copy(out, rb.buf[start:])
		copy(out[first:], rb.buf[:length-first])
	}
	return out
}
