package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/config"
	"github.com/attentivai/meeting-gateway/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message overrides the default handler to route transcriptions to our channel
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramTranscriber implements Transcriber using Deepgram's streaming
// API. One instance serves exactly one capture source.
type DeepgramTranscriber struct {
	config         *config.Config
	source         capture.Source
	logger         zerolog.Logger
	client         *listenClient.WSCallback
	events         chan Event
	mu             sync.RWMutex
	isActive       bool
	closed         bool
	ctx            context.Context
	cancel         context.CancelFunc
	breaker        *resilience.Breaker
}

// NewDeepgramTranscriber creates a streaming transcription connection
// for one source.
func NewDeepgramTranscriber(cfg *config.Config, source capture.Source, logger zerolog.Logger) *DeepgramTranscriber {
	ctx, cancel := context.WithCancel(context.Background())

	breaker := resilience.NewBreaker(
		"deepgram-"+string(source),
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &DeepgramTranscriber{
		config:         cfg,
		source:         source,
		logger:         logger.With().Str("source", string(source)).Logger(),
		events:         make(chan Event, 100),
		ctx:            ctx,
		cancel:         cancel,
		breaker:        breaker,
	}
}

// Start begins a new Deepgram streaming transcription session
func (d *DeepgramTranscriber) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram transcriber for %s is already active", d.source)
	}

	// 16kHz mono PCM16 is the fixed capture contract; diarization gives
	// us raw speaker labels on the system source.
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Diarize:        true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.config.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().Interface("response", errorResponse).Msg("Deepgram error")

			d.breaker.Record(false)

			select {
			case <-d.ctx.Done():
				return nil
			default:
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()

				d.emit(Event{
					Source: d.source,
					Kind:   EventError,
					Err:    fmt.Errorf("transcription endpoint error: %s", errorResponse.Description),
				})

				go d.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.config.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.breaker.Record(true)

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram streaming connection started")
	return nil
}

// handleMessage processes messages from Deepgram
func (d *DeepgramTranscriber) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Interface("metadata", msg.Metadata).Msg("Deepgram metadata")

	case "SpeechStarted", "UtteranceEnd":
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram speech event")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		event := Event{
			Source:     d.source,
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
		}
		if msg.IsFinal {
			event.Kind = EventFinal
			event.SpeakerLabel = speakerLabel(alt.Words)
		} else {
			event.Kind = EventPartial
		}

		d.emit(event)

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram: unknown message type")
	}
}

// speakerLabel extracts the diarization label from word-level metadata.
// Deepgram reports one speaker index per word; the first labeled word
// identifies the utterance.
func speakerLabel(words []msginterfaces.Word) string {
	for _, w := range words {
		if w.Speaker != nil {
			return fmt.Sprintf("%d", *w.Speaker)
		}
	}
	return ""
}

func (d *DeepgramTranscriber) emit(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.events <- event:
	default:
		d.logger.Warn().Str("kind", string(event.Kind)).Msg("Transcription event channel full, dropping")
	}
}

// SendAudio sends a PCM16 chunk to Deepgram
func (d *DeepgramTranscriber) SendAudio(pcm []byte) error {
	err := d.breaker.Do(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram transcriber for %s is not active", d.source)
		}

		if _, err := client.Write(pcm); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to deepgram: %w", err)
		}

		return nil
	})

	return err
}

// attemptReconnect attempts to re-establish the streaming connection
func (d *DeepgramTranscriber) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()

	if alreadyActive {
		return
	}

	retrier := resilience.Retrier{
		Attempts: d.config.ReconnectMaxAttempts,
		Backoff: resilience.Backoff{
			Initial: time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
			Max:     30 * time.Second,
			Factor:  2.0,
			Jitter:  true,
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			d.logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Reconnect attempt failed")
		},
	}

	err := retrier.Do(d.ctx, func() error {
		return d.Start()
	})

	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect deepgram transcriber")
		d.emit(Event{
			Source: d.source,
			Kind:   EventError,
			Err:    fmt.Errorf("transcription reconnect failed: %w", err),
		})
	} else {
		d.logger.Info().Msg("Reconnected deepgram transcriber")
	}
}

// Events returns the connection's event stream
func (d *DeepgramTranscriber) Events() <-chan Event {
	return d.events
}

// Stop finishes the Deepgram streaming session
func (d *DeepgramTranscriber) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Deepgram streaming connection stopped")
	return nil
}

// Close closes the connection and cleans up resources
func (d *DeepgramTranscriber) Close() error {
	d.cancel() // Stop any reconnection attempts

	if err := d.Stop(); err != nil {
		return err
	}

	// Closing under the write lock excludes in-flight emits, so a late
	// SDK callback cannot send on the closed channel.
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()

	return nil
}

// IsActive reports whether the connection is currently streaming
func (d *DeepgramTranscriber) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
