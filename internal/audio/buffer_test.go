package audio

import (
	"bytes"
	"testing"
)

func TestFrameBufferReassemblesFrames(t *testing.T) {
	fb := NewFrameBuffer(64)
	frame := make([]byte, 8)

	// Partial data: no frame yet.
	fb.Write([]byte{1, 2, 3})
	if fb.ReadFrame(frame) {
		t.Fatal("incomplete frame must not be readable")
	}

	// Completing the frame across a second write.
	fb.Write([]byte{4, 5, 6, 7, 8})
	if !fb.ReadFrame(frame) {
		t.Fatal("expected a complete frame")
	}
	if !bytes.Equal(frame, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Errorf("frame = %v", frame)
	}
	if fb.Buffered() != 0 {
		t.Errorf("buffered = %d after draining", fb.Buffered())
	}
}

func TestFrameBufferMultipleFramesFromOneWrite(t *testing.T) {
	fb := NewFrameBuffer(64)

	data := make([]byte, 20)
	for i := range data {
		data[i] = byte(i)
	}
	fb.Write(data)

	frame := make([]byte, 8)
	if !fb.ReadFrame(frame) || frame[0] != 0 {
		t.Fatalf("first frame = %v", frame)
	}
	if !fb.ReadFrame(frame) || frame[0] != 8 {
		t.Fatalf("second frame = %v", frame)
	}
	if fb.ReadFrame(frame) {
		t.Error("only 4 bytes remain; no third frame")
	}
	if fb.Buffered() != 4 {
		t.Errorf("buffered = %d, want 4", fb.Buffered())
	}
}

func TestFrameBufferWrapAround(t *testing.T) {
	fb := NewFrameBuffer(16)
	frame := make([]byte, 6)

	// Advance the read/write cursors near the end of the ring, then
	// force a frame to span the wrap point.
	fb.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	fb.ReadFrame(frame)
	fb.ReadFrame(frame)

	fb.Write([]byte{10, 11, 12, 13, 14, 15})
	if !fb.ReadFrame(frame) {
		t.Fatal("expected wrap-around frame")
	}
	if !bytes.Equal(frame, []byte{10, 11, 12, 13, 14, 15}) {
		t.Errorf("frame = %v", frame)
	}
}

func TestFrameBufferShortWriteWhenFull(t *testing.T) {
	fb := NewFrameBuffer(8)

	// Capacity is size-1.
	if n := fb.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9}); n != 7 {
		t.Errorf("wrote %d, want 7", n)
	}
	if n := fb.Write([]byte{1}); n != 0 {
		t.Errorf("write into full buffer = %d, want 0", n)
	}
}

func TestFrameBufferReset(t *testing.T) {
	fb := NewFrameBuffer(32)
	fb.Write([]byte{1, 2, 3, 4})
	fb.Reset()

	if fb.Buffered() != 0 {
		t.Errorf("buffered = %d after reset", fb.Buffered())
	}
	if fb.ReadFrame(make([]byte, 2)) {
		t.Error("reset buffer must not yield frames")
	}
}
