package transcript

import (
	"sync"
	"time"

	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/observability"
)

// Line is one finalized transcript entry.
type Line struct {
	Timestamp time.Time      `json:"timestamp"`
	Speaker   string         `json:"speaker"`
	Text      string         `json:"text"`
	Source    capture.Source `json:"source"`
}

// Assembler merges partial and final transcription results from both
// sources into one ordered transcript. All appends go through a single
// mutex, so lines land in the order finals arrive even when both
// sources finalize concurrently. Each source holds at most one pending
// partial; a newer partial replaces it, and the matching final clears
// it.
type Assembler struct {
	mu       sync.Mutex
	registry *Registry
	lines    []Line
	partials map[capture.Source]string
	window   int
	now      func() time.Time

	// OnLine and OnPartial fire under the assembler lock so observers
	// see updates in append order. Handlers must not call back into
	// the assembler.
	OnLine    func(Line)
	OnPartial func(source capture.Source, text string)
}

// NewAssembler creates an assembler backed by the given speaker
// registry. window bounds how many recent lines Recent returns; the
// full transcript is kept regardless.
func NewAssembler(registry *Registry, window int) *Assembler {
	if window <= 0 {
		window = 20
	}
	return &Assembler{
		registry: registry,
		partials: make(map[capture.Source]string),
		window:   window,
		now:      time.Now,
	}
}

// Partial records an in-progress hypothesis for a source, replacing
// any previous one. Empty partials are ignored.
func (a *Assembler) Partial(source capture.Source, text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.partials[source] = text
	if a.OnPartial != nil {
		a.OnPartial(source, text)
	}
}

// Final clears the source's pending partial, resolves the speaker and
// appends a transcript line. Finals with empty text still clear the
// partial but append nothing.
func (a *Assembler) Final(source capture.Source, speakerLabel, text string) (Line, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.partials, source)
	if text == "" {
		return Line{}, false
	}

	line := Line{
		Timestamp: a.now(),
		Speaker:   a.registry.Resolve(source, speakerLabel),
		Text:      text,
		Source:    source,
	}
	a.lines = append(a.lines, line)
	observability.RecordTranscriptLine(string(source))

	if a.OnLine != nil {
		a.OnLine(line)
	}
	return line, true
}

// PartialFor returns the pending partial for a source, if any.
func (a *Assembler) PartialFor(source capture.Source) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	text, ok := a.partials[source]
	return text, ok
}

// Lines returns a copy of the full transcript in append order.
func (a *Assembler) Lines() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Line, len(a.lines))
	copy(out, a.lines)
	return out
}

// Recent returns a copy of the most recent lines, bounded by the
// configured window. Used as conversation context for coaching.
func (a *Assembler) Recent() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := 0
	if len(a.lines) > a.window {
		start = len(a.lines) - a.window
	}
	out := make([]Line, len(a.lines)-start)
	copy(out, a.lines[start:])
	return out
}

// Len reports how many lines have been finalized.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lines)
}
