package stt

import (
	"errors"

	"github.com/attentivai/meeting-gateway/internal/capture"
)

// ErrAllSourcesDegraded indicates every transcription connection failed
// to open; the relay cannot deliver anything for this session.
var ErrAllSourcesDegraded = errors.New("all transcription sources degraded")

// EventKind discriminates the three event types a transcription
// connection can produce.
type EventKind string

const (
	// EventPartial is an unconfirmed, continuously overwritten
	// hypothesis for ongoing speech.
	EventPartial EventKind = "partial"

	// EventFinal is the endpoint's confirmed, immutable text for a
	// completed utterance.
	EventFinal EventKind = "final"

	// EventError is a source-scoped transcription failure.
	EventError EventKind = "error"
)

// Event is one demultiplexed message from the transcription endpoint.
type Event struct {
	Source capture.Source
	Kind   EventKind

	// Text carries the hypothesis (partial) or confirmed text (final).
	Text string

	// SpeakerLabel is the endpoint's raw diarization label for final
	// events; empty when diarization produced nothing.
	SpeakerLabel string

	// Confidence is the endpoint's confidence for final events, 0-1.
	Confidence float64

	// Err is set for EventError only.
	Err error
}

// Transcriber is one streaming transcription connection, scoped to a
// single source so a failure on one never affects the other.
type Transcriber interface {
	// Start opens the streaming connection.
	Start() error

	// SendAudio forwards one PCM16 chunk to the endpoint.
	SendAudio(pcm []byte) error

	// Events returns the connection's event stream.
	Events() <-chan Event

	// Stop finishes the streaming session.
	Stop() error

	// Close releases the connection and its resources.
	Close() error

	// IsActive reports whether the connection is currently streaming.
	IsActive() bool
}
