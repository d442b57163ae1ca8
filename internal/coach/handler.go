package coach

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/observability"
	"github.com/attentivai/meeting-gateway/internal/transcript"
)

// Handler owns the single in-flight coaching slot. All mutation goes
// through Start, the internal stream consumer, and Cancel; no other
// component touches the tip buffer. At most one tip is pending or
// streaming at any instant.
type Handler struct {
	generator Generator
	logger    zerolog.Logger
	metrics   *observability.SessionMetrics

	mu       sync.Mutex
	inflight *Tip
	cancel   context.CancelFunc
	history  []Tip
	wg       sync.WaitGroup

	// Fired from the stream consumer goroutine, never under the
	// handler lock. Chunk text is cumulative.
	OnStarted func(tip Tip)
	OnChunk   func(id, delta, fullText string)
	OnDone    func(tip Tip)
}

// NewHandler creates a coaching stream handler.
func NewHandler(generator Generator, metrics *observability.SessionMetrics, logger zerolog.Logger) *Handler {
	return &Handler{
		generator: generator,
		metrics:   metrics,
		logger:    logger.With().Str("component", "coach_handler").Logger(),
	}
}

// Start claims the in-flight slot and opens a generation stream for
// the question. Returns ErrTipInFlight if a tip is already pending or
// streaming; the caller drops the trigger.
func (h *Handler) Start(ctx context.Context, questionText, category string, recent []transcript.Line, briefing *Briefing) error {
	h.mu.Lock()
	if h.inflight != nil {
		h.mu.Unlock()
		return ErrTipInFlight
	}

	tip := &Tip{
		ID:           uuid.New().String(),
		QuestionText: questionText,
		Category:     category,
		State:        TipPending,
		CreatedAt:    time.Now(),
	}
	streamCtx, cancel := context.WithCancel(ctx)
	h.inflight = tip
	h.cancel = cancel

	started := *tip
	h.wg.Add(1)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordCoachingStart()
	}
	if h.OnStarted != nil {
		h.OnStarted(started)
	}

	chunks, err := h.generator.Stream(streamCtx, questionText, recent, briefing)
	if err != nil {
		h.logger.Error().Err(err).Str("tip_id", started.ID).Msg("Failed to open generation stream")
		h.abort(started.ID, "error")
		cancel()
		h.wg.Done()
		return err
	}

	go h.consume(streamCtx, started.ID, chunks)
	return nil
}

// consume applies stream chunks to the in-flight tip until the
// terminal chunk, cancellation, or stream error.
func (h *Handler) consume(ctx context.Context, tipID string, chunks <-chan Chunk) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			h.abort(tipID, "canceled")
			return
		case chunk, ok := <-chunks:
			if !ok {
				// Stream ended without a Done marker.
				h.abort(tipID, "error")
				return
			}
			if chunk.Err != nil {
				h.logger.Error().Err(chunk.Err).Str("tip_id", tipID).Msg("Generation stream error")
				h.abort(tipID, "error")
				return
			}
			if chunk.Done {
				h.finalize(tipID, chunk.FullText)
				return
			}
			h.applyChunk(tipID, chunk)
		}
	}
}

func (h *Handler) applyChunk(tipID string, chunk Chunk) {
	h.mu.Lock()
	if h.inflight == nil || h.inflight.ID != tipID {
		h.mu.Unlock()
		return
	}
	h.inflight.State = TipStreaming
	h.inflight.Text = chunk.FullText
	h.mu.Unlock()

	if h.OnChunk != nil {
		h.OnChunk(tipID, chunk.Delta, chunk.FullText)
	}
}

// finalize appends the tip to history and clears the slot, permitting
// the next trigger.
func (h *Handler) finalize(tipID, fullText string) {
	h.mu.Lock()
	if h.inflight == nil || h.inflight.ID != tipID {
		h.mu.Unlock()
		return
	}
	tip := *h.inflight
	tip.State = TipFinalized
	tip.Text = fullText
	h.history = append(h.history, tip)
	h.inflight = nil
	h.cancel = nil
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordCoachingEnd("finalized")
	}
	h.logger.Info().Str("tip_id", tipID).Int("length", len(fullText)).Msg("Coaching tip finalized")

	if h.OnDone != nil {
		h.OnDone(tip)
	}
}

// abort clears the slot for a half-formed tip without firing OnDone.
func (h *Handler) abort(tipID, status string) {
	h.mu.Lock()
	if h.inflight == nil || h.inflight.ID != tipID {
		h.mu.Unlock()
		return
	}
	h.inflight = nil
	h.cancel = nil
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordCoachingEnd(status)
	}
	if status == "error" {
		observability.RecordError("generation_stream", "coach")
	}
	h.logger.Info().Str("tip_id", tipID).Str("status", status).Msg("Coaching tip discarded")
}

// Cancel aborts any in-flight generation and waits for the consumer
// to exit. No finalized event fires for the discarded tip.
func (h *Handler) Cancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// Busy reports whether a tip is currently pending or streaming.
func (h *Handler) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inflight != nil
}

// InFlight returns a snapshot of the current tip, if any.
func (h *Handler) InFlight() (Tip, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inflight == nil {
		return Tip{}, false
	}
	return *h.inflight, true
}

// History returns a copy of all finalized tips in completion order.
func (h *Handler) History() []Tip {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Tip, len(h.history))
	copy(out, h.history)
	return out
}
