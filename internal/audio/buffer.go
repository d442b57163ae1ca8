package audio

import (
	"sync"
)

// FrameBuffer reassembles arbitrary-length device reads into
// fixed-size capture frames. It is a byte ring with one writer (the
// device read loop) and one reader (frame extraction); a frame is
// only handed out once it is complete.
type FrameBuffer struct {
	buf   []byte
	size  int
	read  int
	write int
	mu    sync.Mutex
}

// NewFrameBuffer creates a frame buffer holding up to size-1 bytes.
func NewFrameBuffer(size int) *FrameBuffer {
	return &FrameBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write appends data, returning how many bytes fit. A short write
// means the reader has fallen behind and audio is being dropped.
func (fb *FrameBuffer) Write(data []byte) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	space := fb.size - fb.buffered() - 1 // -1 keeps full distinct from empty
	n := len(data)
	if n > space {
		n = space
	}

	first := fb.size - fb.write
	if first > n {
		first = n
	}
	copy(fb.buf[fb.write:], data[:first])
	copy(fb.buf, data[first:n])
	fb.write = (fb.write + n) % fb.size
	return n
}

// ReadFrame fills dst with the next complete frame. It returns false,
// leaving dst untouched, when fewer than len(dst) bytes are buffered.
func (fb *FrameBuffer) ReadFrame(dst []byte) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	n := len(dst)
	if fb.buffered() < n {
		return false
	}

	first := fb.size - fb.read
	if first > n {
		first = n
	}
	copy(dst[:first], fb.buf[fb.read:])
	copy(dst[first:], fb.buf)
	fb.read = (fb.read + n) % fb.size
	return true
}

// Buffered returns how many bytes are waiting to be framed.
func (fb *FrameBuffer) Buffered() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.buffered()
}

func (fb *FrameBuffer) buffered() int {
	if fb.write >= fb.read {
		return fb.write - fb.read
	}
	return fb.size - fb.read + fb.write
}

// Reset discards all buffered bytes.
func (fb *FrameBuffer) Reset() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.read = 0
	fb.write = 0
}
