package stt

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/audio"
	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/config"
	"github.com/attentivai/meeting-gateway/internal/observability"
)

// Relay bridges captured frames to the transcription endpoint. It keeps
// one logical connection per source, encodes outbound frames, and
// demultiplexes partial/final/error events onto a single channel. A
// source-scoped error degrades only that source: its frames stop being
// forwarded while the other source continues.
type Relay struct {
	config *config.Config
	logger zerolog.Logger

	// NewTranscriber is overridable for tests; defaults to Deepgram.
	NewTranscriber func(source capture.Source) Transcriber

	mu       sync.Mutex
	conns    map[capture.Source]Transcriber
	degraded map[capture.Source]bool

	events chan Event
	wg     sync.WaitGroup
}

// NewRelay creates a transcription relay for one session.
func NewRelay(cfg *config.Config, logger zerolog.Logger) *Relay {
	r := &Relay{
		config:   cfg,
		logger:   logger,
		conns:    make(map[capture.Source]Transcriber),
		degraded: make(map[capture.Source]bool),
		events:   make(chan Event, 100),
	}
	r.NewTranscriber = func(source capture.Source) Transcriber {
		return NewDeepgramTranscriber(cfg, source, logger)
	}
	return r
}

// Start opens one connection per live source. A connection that fails
// to open degrades its source and is reported as an error event; Start
// itself fails only when every source fails.
func (r *Relay) Start(sources []capture.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := 0
	for _, source := range sources {
		conn := r.NewTranscriber(source)
		if err := conn.Start(); err != nil {
			r.logger.Warn().Err(err).Str("source", string(source)).Msg("Transcription connection failed to start")
			r.degraded[source] = true
			observability.RecordError("stt_start_error", "relay")
			r.emit(Event{Source: source, Kind: EventError, Err: err})
			continue
		}

		r.conns[source] = conn
		started++

		r.wg.Add(1)
		go r.pump(source, conn)
	}

	if started == 0 && len(sources) > 0 {
		return ErrAllSourcesDegraded
	}
	return nil
}

// pump forwards one connection's events, marking the source degraded
// on error so Forward stops sending its frames.
func (r *Relay) pump(source capture.Source, conn Transcriber) {
	defer r.wg.Done()

	for event := range conn.Events() {
		if event.Kind == EventError {
			r.mu.Lock()
			r.degraded[source] = true
			r.mu.Unlock()
			observability.RecordError("stt_stream_error", "relay")
		}
		r.emit(event)
	}
}

// Forward encodes one frame and sends it to its source's connection.
// Frames for degraded sources are dropped silently; the degradation was
// already reported when it happened.
func (r *Relay) Forward(frame capture.Frame) {
	r.mu.Lock()
	conn, ok := r.conns[frame.Source]
	degraded := r.degraded[frame.Source]
	r.mu.Unlock()

	if !ok || degraded {
		return
	}

	if err := conn.SendAudio(audio.SamplesToBytes(frame.Samples)); err != nil {
		r.logger.Warn().Err(err).Str("source", string(frame.Source)).Msg("Failed to forward frame to transcription")
		observability.RecordError("stt_send_error", "relay")
	}
}

// Events returns the merged transcription event stream.
func (r *Relay) Events() <-chan Event {
	return r.events
}

// Degraded reports whether a source has been degraded by a
// transcription failure.
func (r *Relay) Degraded(source capture.Source) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded[source]
}

func (r *Relay) emit(event Event) {
	select {
	case r.events <- event:
	default:
		r.logger.Warn().Str("kind", string(event.Kind)).Msg("Relay event channel full, dropping")
	}
}

// Stop closes all connections and waits for their event pumps to
// finish, so no transcription event is delivered after it returns.
func (r *Relay) Stop() {
	r.mu.Lock()
	conns := make([]Transcriber, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[capture.Source]Transcriber)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Error closing transcription connection")
		}
	}
	r.wg.Wait()
	close(r.events)
	r.logger.Info().Msg("Transcription relay stopped")
}
