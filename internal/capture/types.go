package capture

import "errors"

// Source identifies which physical input a frame came from.
type Source string

const (
	// SourceMic is the user's microphone.
	SourceMic Source = "mic"

	// SourceSystem is the loopback of the machine's output audio
	// (the other meeting participants).
	SourceSystem Source = "system"
)

// Frame is one fixed-duration chunk of mono PCM16 audio from a single
// source. Frames are transient: produced by an adapter, consumed exactly
// once by the transcription relay.
type Frame struct {
	Source  Source
	Seq     uint64 // Monotonic per source
	Samples []int16
}

var (
	// ErrNoSourceAvailable indicates no capture device or loopback target
	// exists for a source. Recoverable: the session still starts if the
	// other source comes up.
	ErrNoSourceAvailable = errors.New("no capture source available")

	// ErrAdapterEnded indicates a running source stopped unexpectedly
	// (device unplugged, stream ended, watchdog timeout).
	ErrAdapterEnded = errors.New("capture adapter ended unexpectedly")
)

// SourceError pairs a source-scoped failure with its origin so the
// session can degrade one source without touching the other.
type SourceError struct {
	Source Source
	Err    error
}

func (e SourceError) Error() string {
	return string(e.Source) + ": " + e.Err.Error()
}

func (e SourceError) Unwrap() error {
	return e.Err
}
