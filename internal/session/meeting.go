package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/bus"
	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/coach"
	"github.com/attentivai/meeting-gateway/internal/observability"
	"github.com/attentivai/meeting-gateway/internal/stt"
	"github.com/attentivai/meeting-gateway/internal/transcript"
)

// Meeting holds the running pipeline for one session: capture mux,
// transcription relay, transcript assembly, and coaching. It is
// created by the manager during start and torn down during stop.
type Meeting struct {
	id          string
	startTime   time.Time
	detectedApp string
	logger      zerolog.Logger

	mux       *capture.Mux
	relay     *stt.Relay
	registry  *transcript.Registry
	assembler *transcript.Assembler
	handler   *coach.Handler
	trigger   *coach.Trigger
	metrics   *observability.SessionMetrics

	ctx    context.Context
	cancel context.CancelFunc
	lines  chan transcript.Line
	wg     sync.WaitGroup

	events  *bus.Bus
	onFatal func(error)
}

// run spawns the pipeline loops. Each loop is an independent task;
// none blocks another.
func (mt *Meeting) run() {
	for _, loop := range []func(){mt.frameLoop, mt.sttLoop, mt.captureErrLoop, mt.triggerLoop} {
		loop := loop
		mt.wg.Add(1)
		go func() {
			defer mt.wg.Done()
			loop()
		}()
	}
}

// frameLoop moves captured frames into the transcription relay. Ends
// when the mux closes its outbound channel during teardown.
func (mt *Meeting) frameLoop() {
	for frame := range mt.mux.Frames() {
		mt.relay.Forward(frame)
	}
}

// sttLoop demultiplexes transcription events into the assembler. Ends
// when the relay closes its event channel during teardown.
func (mt *Meeting) sttLoop() {
	for event := range mt.relay.Events() {
		switch event.Kind {
		case stt.EventPartial:
			mt.assembler.Partial(event.Source, event.Text)
		case stt.EventFinal:
			mt.assembler.Final(event.Source, event.SpeakerLabel, event.Text)
		case stt.EventError:
			mt.logger.Warn().Err(event.Err).Str("source", string(event.Source)).Msg("Transcription error")
			observability.RecordError("transcription", "stt")
			mt.publishError(event.Err)
		}
	}
}

// captureErrLoop surfaces adapter failures. Losing one source is
// reported and absorbed; losing the last live source is fatal.
func (mt *Meeting) captureErrLoop() {
	for {
		select {
		case <-mt.ctx.Done():
			return
		case serr := <-mt.mux.Errors():
			mt.logger.Warn().Err(serr.Err).Str("source", string(serr.Source)).Msg("Capture source ended")
			observability.RecordError("capture", "mux")
			mt.publishError(serr)

			if len(mt.mux.Live()) == 0 && mt.onFatal != nil {
				mt.onFatal(ErrFatalSession)
				return
			}
		}
	}
}

// triggerLoop feeds finalized lines to the question trigger off the
// assembler's hot path; classification involves a network call.
func (mt *Meeting) triggerLoop() {
	for {
		select {
		case <-mt.ctx.Done():
			return
		case line := <-mt.lines:
			mt.trigger.OnLine(mt.ctx, line)
		}
	}
}

// shutdown tears the pipeline down in order: adapters first, then the
// relay, then any open generation stream.
func (mt *Meeting) shutdown() {
	mt.mux.StopSession()
	mt.relay.Stop()
	mt.handler.Cancel()
	mt.cancel()
	mt.wg.Wait()
}

func (mt *Meeting) publishError(err error) {
	mt.publish(bus.SessionError, ErrorPayload{Error: err.Error()})
}

func (mt *Meeting) publish(category bus.Category, payload any) {
	if err := mt.events.Publish(mt.id, category, payload); err != nil {
		mt.logger.Error().Err(err).Str("category", string(category)).Msg("Failed to publish event")
	}
}
