package coach

import (
	"errors"
	"time"
)

// TipState is the lifecycle phase of one coaching generation.
type TipState string

const (
	TipPending   TipState = "pending"   // Stream opened, no chunk yet
	TipStreaming TipState = "streaming" // At least one chunk received
	TipFinalized TipState = "finalized" // Completion signal received
)

// ErrTipInFlight is returned when a trigger arrives while a tip is
// still pending or streaming. Triggers are dropped, not queued.
var ErrTipInFlight = errors.New("coaching tip already in flight")

// Tip is one generated suggested response to a detected question.
type Tip struct {
	ID           string    `json:"id"`
	QuestionText string    `json:"questionText"`
	Text         string    `json:"text"`
	Category     string    `json:"category"`
	State        TipState  `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Chunk is one streamed update from the generation endpoint. FullText
// is cumulative, consumers replace their displayed text wholesale
// rather than concatenating deltas.
type Chunk struct {
	Delta    string
	FullText string
	Done     bool
	Err      error
}

// Classification is the question-detection verdict for one line.
type Classification struct {
	IsQuestion bool
	Category   string
}

// Briefing is optional pre-session context. It is read only at
// trigger time to enrich the prompt sent to the generator.
type Briefing struct {
	Topic        string        `json:"topic,omitempty"`
	Agenda       string        `json:"agenda,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Notes        string        `json:"notes,omitempty"`
	URLs         []string      `json:"urls,omitempty"`
	ProjectPaths []string      `json:"projectPaths,omitempty"`
}

// Participant is one expected attendee in the briefing.
type Participant struct {
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Company string `json:"company,omitempty"`
	Notes   string `json:"notes,omitempty"`
}
