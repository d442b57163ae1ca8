package coach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/transcript"
)

// fakeGenerator scripts classification verdicts and stream chunks.
type fakeGenerator struct {
	mu            sync.Mutex
	verdict       Classification
	classifyErr   error
	classifyCalls int
	streamErr     error
	chunks        []Chunk
	hold          chan struct{} // When set, the stream waits before emitting
}

func (f *fakeGenerator) Classify(ctx context.Context, line transcript.Line, recent []transcript.Line, briefing *Briefing) (Classification, error) {
	f.mu.Lock()
	f.classifyCalls++
	f.mu.Unlock()
	return f.verdict, f.classifyErr
}

func (f *fakeGenerator) Stream(ctx context.Context, question string, recent []transcript.Line, briefing *Briefing) (<-chan Chunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan Chunk, len(f.chunks)+1)
	go func() {
		defer close(out)
		if f.hold != nil {
			select {
			case <-f.hold:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range f.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classifyCalls
}

func streamOf(parts ...string) []Chunk {
	var chunks []Chunk
	var full string
	for _, p := range parts {
		full += p
		chunks = append(chunks, Chunk{Delta: p, FullText: full})
	}
	chunks = append(chunks, Chunk{FullText: full, Done: true})
	return chunks
}

func systemLine(text string) transcript.Line {
	return transcript.Line{
		Timestamp: time.Now(),
		Speaker:   "Participant 1",
		Text:      text,
		Source:    capture.SourceSystem,
	}
}

func TestHandlerStreamsToFinalized(t *testing.T) {
	gen := &fakeGenerator{chunks: streamOf("Start with ", "the rollout ", "timeline.")}
	h := NewHandler(gen, nil, zerolog.Nop())

	var mu sync.Mutex
	var fullTexts []string
	var done *Tip
	h.OnChunk = func(id, delta, fullText string) {
		mu.Lock()
		fullTexts = append(fullTexts, fullText)
		mu.Unlock()
	}
	doneCh := make(chan struct{})
	h.OnDone = func(tip Tip) {
		done = &tip
		close(doneCh)
	}

	if err := h.Start(context.Background(), "Can you walk us through the rollout plan?", "planning", nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for finalized tip")
	}

	if done.Text != "Start with the rollout timeline." {
		t.Errorf("tip text = %q", done.Text)
	}
	if done.State != TipFinalized {
		t.Errorf("tip state = %q, want finalized", done.State)
	}

	// Cumulative payloads grow monotonically.
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(fullTexts); i++ {
		if len(fullTexts[i]) < len(fullTexts[i-1]) {
			t.Errorf("fullText shrank at chunk %d: %q -> %q", i, fullTexts[i-1], fullTexts[i])
		}
	}

	if h.Busy() {
		t.Error("slot should be clear after finalize")
	}
	if got := len(h.History()); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestHandlerRejectsSecondStart(t *testing.T) {
	gen := &fakeGenerator{hold: make(chan struct{}), chunks: streamOf("tip")}
	h := NewHandler(gen, nil, zerolog.Nop())

	if err := h.Start(context.Background(), "first?", "general", nil, nil); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := h.Start(context.Background(), "second?", "general", nil, nil); !errors.Is(err, ErrTipInFlight) {
		t.Errorf("second Start error = %v, want ErrTipInFlight", err)
	}

	close(gen.hold)
	h.Cancel()
}

func TestHandlerCancelEmitsNoDone(t *testing.T) {
	gen := &fakeGenerator{hold: make(chan struct{}), chunks: streamOf("half-formed")}
	h := NewHandler(gen, nil, zerolog.Nop())

	doneFired := false
	h.OnDone = func(Tip) { doneFired = true }

	if err := h.Start(context.Background(), "question?", "general", nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Cancel()

	if doneFired {
		t.Error("canceled tip must not emit a done event")
	}
	if h.Busy() {
		t.Error("slot must be clear immediately after cancel")
	}
	if got := len(h.History()); got != 0 {
		t.Errorf("canceled tip must not reach history, got %d entries", got)
	}
}

func TestHandlerStreamOpenFailureClearsSlot(t *testing.T) {
	gen := &fakeGenerator{streamErr: errors.New("endpoint down")}
	h := NewHandler(gen, nil, zerolog.Nop())

	if err := h.Start(context.Background(), "question?", "general", nil, nil); err == nil {
		t.Fatal("expected stream open error")
	}
	if h.Busy() {
		t.Error("failed start must leave the slot clear")
	}
}

func TestTriggerIgnoresMicQuestions(t *testing.T) {
	gen := &fakeGenerator{verdict: Classification{IsQuestion: true, Category: "general"}}
	h := NewHandler(gen, nil, zerolog.Nop())
	trigger := NewTrigger(gen, h, nil, zerolog.Nop())

	trigger.OnLine(context.Background(), transcript.Line{
		Speaker: transcript.MicSpeakerName,
		Text:    "What do you think about the Q3 roadmap?",
		Source:  capture.SourceMic,
	})

	if gen.calls() != 0 {
		t.Error("mic lines must never reach classification")
	}
	if h.Busy() {
		t.Error("mic question must not open a generation")
	}
}

func TestTriggerStartsGenerationForSystemQuestion(t *testing.T) {
	gen := &fakeGenerator{
		verdict: Classification{IsQuestion: true, Category: "planning"},
		chunks:  streamOf("Suggested ", "answer."),
	}
	h := NewHandler(gen, nil, zerolog.Nop())
	trigger := NewTrigger(gen, h, nil, zerolog.Nop())

	doneCh := make(chan Tip, 1)
	h.OnDone = func(tip Tip) { doneCh <- tip }

	trigger.OnLine(context.Background(), systemLine("Can you walk us through the rollout plan?"))

	select {
	case tip := <-doneCh:
		if tip.Text == "" {
			t.Error("expected non-empty tip text")
		}
		if tip.Category != "planning" {
			t.Errorf("category = %q, want planning", tip.Category)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a finalized tip")
	}
}

func TestTriggerSkipsNonQuestions(t *testing.T) {
	gen := &fakeGenerator{verdict: Classification{IsQuestion: true}}
	h := NewHandler(gen, nil, zerolog.Nop())
	trigger := NewTrigger(gen, h, nil, zerolog.Nop())

	trigger.OnLine(context.Background(), systemLine("Thanks everyone, moving on to the next item."))

	if gen.calls() != 0 {
		t.Error("lexical filter should reject obvious statements before classification")
	}
}

func TestTriggerSuppressedWhileInFlight(t *testing.T) {
	gen := &fakeGenerator{
		verdict: Classification{IsQuestion: true, Category: "general"},
		hold:    make(chan struct{}),
		chunks:  streamOf("tip"),
	}
	h := NewHandler(gen, nil, zerolog.Nop())
	trigger := NewTrigger(gen, h, nil, zerolog.Nop())

	trigger.OnLine(context.Background(), systemLine("First question for you?"))
	if !h.Busy() {
		t.Fatal("expected in-flight tip after first trigger")
	}

	callsBefore := gen.calls()
	trigger.OnLine(context.Background(), systemLine("Second question for you?"))
	if gen.calls() != callsBefore {
		t.Error("suppressed trigger should not call classification")
	}

	close(gen.hold)
	h.Cancel()
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		content string
		want    Classification
	}{
		{"NO", Classification{}},
		{"no, just a comment", Classification{}},
		{"YES", Classification{IsQuestion: true, Category: "general"}},
		{"YES technical", Classification{IsQuestion: true, Category: "technical"}},
		{"yes Planning.", Classification{IsQuestion: true, Category: "planning"}},
	}

	for _, tt := range tests {
		if got := parseVerdict(tt.content); got != tt.want {
			t.Errorf("parseVerdict(%q) = %+v, want %+v", tt.content, got, tt.want)
		}
	}
}
