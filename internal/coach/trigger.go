package coach

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/observability"
	"github.com/attentivai/meeting-gateway/internal/transcript"
)

// Trigger inspects newly finalized transcript lines for questions
// addressed to the user and opens a coaching generation when one is
// found. A trigger arriving while a tip is in flight is dropped, not
// queued; recency beats completeness for live coaching.
type Trigger struct {
	generator Generator
	handler   *Handler
	logger    zerolog.Logger
	metrics   *observability.SessionMetrics

	// Recent supplies the rolling transcript window; Briefing the
	// current session briefing (may return nil). Both are read at
	// trigger time.
	Recent   func() []transcript.Line
	Briefing func() *Briefing
}

// NewTrigger creates a question trigger feeding the given handler.
func NewTrigger(generator Generator, handler *Handler, metrics *observability.SessionMetrics, logger zerolog.Logger) *Trigger {
	return &Trigger{
		generator: generator,
		handler:   handler,
		metrics:   metrics,
		logger:    logger.With().Str("component", "coach_trigger").Logger(),
	}
}

// OnLine evaluates one finalized line. The user's own questions never
// trigger coaching; only remote speakers can address the user.
func (t *Trigger) OnLine(ctx context.Context, line transcript.Line) {
	if line.Source == capture.SourceMic {
		return
	}
	if !mayBeQuestion(line.Text) {
		return
	}

	// Cheap pre-check before the classification call; the handler
	// re-checks atomically at Start.
	if t.handler.Busy() {
		t.suppress(line)
		return
	}

	verdict, err := t.generator.Classify(ctx, line, t.recent(), t.briefing())
	if err != nil {
		t.logger.Warn().Err(err).Msg("Question classification failed")
		observability.RecordError("classification", "coach")
		return
	}
	if !verdict.IsQuestion {
		return
	}

	err = t.handler.Start(ctx, line.Text, verdict.Category, t.recent(), t.briefing())
	if err == ErrTipInFlight {
		t.suppress(line)
		return
	}
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to start coaching generation")
	}
}

func (t *Trigger) suppress(line transcript.Line) {
	t.logger.Debug().Str("speaker", line.Speaker).Msg("Trigger suppressed, tip in flight")
	if t.metrics != nil {
		t.metrics.RecordCoachingEnd("suppressed")
	}
}

func (t *Trigger) recent() []transcript.Line {
	if t.Recent == nil {
		return nil
	}
	return t.Recent()
}

func (t *Trigger) briefing() *Briefing {
	if t.Briefing == nil {
		return nil
	}
	return t.Briefing()
}

// mayBeQuestion is a fast lexical filter that keeps obvious
// non-questions away from the classification endpoint.
func mayBeQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "?") {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, prefix := range []string{
		"what", "how", "why", "when", "where", "who", "which",
		"can you", "could you", "would you", "will you", "do you",
		"are you", "have you", "tell us", "walk us", "walk me",
	} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
