package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/bus"
	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/coach"
	"github.com/attentivai/meeting-gateway/internal/config"
	"github.com/attentivai/meeting-gateway/internal/observability"
	"github.com/attentivai/meeting-gateway/internal/stt"
	"github.com/attentivai/meeting-gateway/internal/transcript"
)

// State is the session lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// StatePayload is the session.state event body.
type StatePayload struct {
	Active              bool                     `json:"active"`
	MeetingID           string                   `json:"meetingId,omitempty"`
	StartTime           *time.Time               `json:"startTime,omitempty"`
	Duration            float64                  `json:"duration"`
	TranscriptLineCount int                      `json:"transcriptLineCount"`
	DetectedApp         string                   `json:"detectedApp,omitempty"`
	Speakers            []transcript.SpeakerInfo `json:"speakers"`
	IsCoaching          bool                     `json:"isCoaching"`
	HasBriefing         bool                     `json:"hasBriefing"`
}

// ErrorPayload is the session.error event body.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Manager owns the session state machine: Idle, Starting, Active,
// Stopping. At most one meeting runs at a time; concurrent start
// attempts are rejected. Adapter- and relay-scoped errors while
// active are reported but do not change state; only stop or the loss
// of every source leaves Active.
type Manager struct {
	cfg       *config.Config
	logger    zerolog.Logger
	events    *bus.Bus
	generator coach.Generator

	// Overridable for tests.
	ConfigureMux   func(*capture.Mux)
	ConfigureRelay func(*stt.Relay)
	DetectApp      func(ctx context.Context) string

	mu       sync.Mutex
	state    State
	meeting  *Meeting
	briefing *coach.Briefing
}

// NewManager creates a session manager publishing onto the given bus.
func NewManager(cfg *config.Config, events *bus.Bus, generator coach.Generator, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		logger:    logger.With().Str("component", "session").Logger(),
		events:    events,
		generator: generator,
		DetectApp: DetectApp,
		state:     StateIdle,
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start brings up a new meeting. The session goes Active when at
// least one capture source starts; with zero sources it falls back to
// Idle and the error is returned and published.
func (m *Manager) Start(ctx context.Context) (StatePayload, error) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return StatePayload{}, ErrStartRejected
	}
	m.state = StateStarting
	m.mu.Unlock()

	meeting, err := m.launch(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = StateIdle
		m.mu.Unlock()
		m.logger.Error().Err(err).Msg("Session start failed")
		m.events.Publish("", bus.SessionError, ErrorPayload{Error: err.Error()})
		return StatePayload{}, err
	}
	m.meeting = meeting
	m.state = StateActive
	m.mu.Unlock()

	meeting.metrics.RecordSessionStart()
	m.logger.Info().
		Str("meeting_id", meeting.id).
		Str("detected_app", meeting.detectedApp).
		Msg("Session active")
	m.publishState()
	return m.Snapshot(), nil
}

// launch builds and starts the pipeline for one meeting. The meeting
// context is detached from the caller's: a session outlives the
// control request that started it.
func (m *Manager) launch(ctx context.Context) (*Meeting, error) {
	meetingCtx, cancel := context.WithCancel(context.Background())

	id := uuid.New().String()
	logger := m.logger.With().Str("meeting_id", id).Logger()
	registry := transcript.NewRegistry()

	mt := &Meeting{
		id:        id,
		startTime: time.Now(),
		logger:    logger,
		registry:  registry,
		assembler: transcript.NewAssembler(registry, m.cfg.TranscriptWindow),
		metrics:   observability.NewSessionMetrics(id),
		ctx:       meetingCtx,
		cancel:    cancel,
		lines:     make(chan transcript.Line, 16),
		events:    m.events,
	}
	mt.onFatal = func(err error) { go m.forceStop(mt, err) }

	mt.assembler.OnPartial = func(source capture.Source, text string) {
		mt.publish(bus.TranscriptPartial, map[string]string{
			"source": string(source),
			"text":   text,
		})
	}
	mt.assembler.OnLine = func(line transcript.Line) {
		mt.publish(bus.TranscriptLine, line)
		select {
		case mt.lines <- line:
		default:
			// The trigger is behind; recency wins, the line is only
			// lost as a trigger candidate, never from the transcript.
		}
	}

	mt.handler = coach.NewHandler(m.generator, mt.metrics, logger)
	mt.handler.OnStarted = func(tip coach.Tip) {
		mt.publish(bus.CoachingStarted, map[string]any{
			"id":           tip.ID,
			"timestamp":    tip.CreatedAt,
			"questionText": tip.QuestionText,
		})
		m.publishState()
	}
	mt.handler.OnChunk = func(id, delta, fullText string) {
		mt.publish(bus.CoachingChunk, map[string]string{
			"id":       id,
			"chunk":    delta,
			"fullText": fullText,
		})
	}
	mt.handler.OnDone = func(tip coach.Tip) {
		mt.publish(bus.CoachingDone, map[string]string{
			"id":           tip.ID,
			"tip":          tip.Text,
			"category":     tip.Category,
			"questionText": tip.QuestionText,
		})
		m.publishState()
	}

	mt.trigger = coach.NewTrigger(m.generator, mt.handler, mt.metrics, logger)
	mt.trigger.Recent = mt.assembler.Recent
	mt.trigger.Briefing = m.GetBriefing

	mt.mux = capture.NewMux(m.cfg, logger)
	if m.ConfigureMux != nil {
		m.ConfigureMux(mt.mux)
	}
	sources, err := mt.mux.StartSession(meetingCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	mt.relay = stt.NewRelay(m.cfg, logger)
	if m.ConfigureRelay != nil {
		m.ConfigureRelay(mt.relay)
	}
	if err := mt.relay.Start(sources); err != nil {
		mt.mux.StopSession()
		cancel()
		return nil, err
	}

	if m.DetectApp != nil {
		mt.detectedApp = m.DetectApp(ctx)
	}

	mt.run()
	return mt, nil
}

// Stop tears the active meeting down: adapters, relay, then any open
// generation stream. The discarded in-flight tip emits no done event.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrStopNotActive
	}
	m.state = StateStopping
	meeting := m.meeting
	m.mu.Unlock()

	meeting.publish(bus.CaptureStopRequested, struct{}{})
	meeting.shutdown()
	meeting.metrics.RecordSessionEnd()

	m.mu.Lock()
	m.meeting = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.logger.Info().Str("meeting_id", meeting.id).Msg("Session stopped")
	m.events.Publish(meeting.id, bus.SessionState, StatePayload{
		Active:   false,
		Speakers: []transcript.SpeakerInfo{},
	})
	return nil
}

// forceStop handles a fatal fault while active: both sources lost.
func (m *Manager) forceStop(mt *Meeting, cause error) {
	m.mu.Lock()
	if m.state != StateActive || m.meeting != mt {
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	m.mu.Unlock()

	m.logger.Error().Err(cause).Str("meeting_id", mt.id).Msg("Fatal session fault, forcing stop")
	mt.publishError(cause)
	mt.shutdown()
	mt.metrics.RecordSessionEnd()

	m.mu.Lock()
	m.meeting = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.events.Publish(mt.id, bus.SessionState, StatePayload{
		Active:   false,
		Speakers: []transcript.SpeakerInfo{},
	})
}

// Snapshot reports the current session.state payload.
func (m *Manager) Snapshot() StatePayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload := StatePayload{
		Speakers:    []transcript.SpeakerInfo{},
		HasBriefing: m.briefing != nil,
	}
	if m.state != StateActive || m.meeting == nil {
		return payload
	}

	mt := m.meeting
	start := mt.startTime
	payload.Active = true
	payload.MeetingID = mt.id
	payload.StartTime = &start
	payload.Duration = time.Since(start).Seconds()
	payload.TranscriptLineCount = mt.assembler.Len()
	payload.DetectedApp = mt.detectedApp
	payload.Speakers = mt.registry.Speakers()
	payload.IsCoaching = mt.handler.Busy()
	return payload
}

func (m *Manager) publishState() {
	snapshot := m.Snapshot()
	if err := m.events.Publish(snapshot.MeetingID, bus.SessionState, snapshot); err != nil {
		m.logger.Error().Err(err).Msg("Failed to publish session state")
	}
}

// Transcript returns the full transcript of the active meeting.
func (m *Manager) Transcript() []transcript.Line {
	m.mu.Lock()
	mt := m.meeting
	m.mu.Unlock()
	if mt == nil {
		return nil
	}
	return mt.assembler.Lines()
}

// TipHistory returns finalized tips of the active meeting.
func (m *Manager) TipHistory() []coach.Tip {
	m.mu.Lock()
	mt := m.meeting
	m.mu.Unlock()
	if mt == nil {
		return nil
	}
	return mt.handler.History()
}

// RenameSpeaker pins a display name for a diarized speaker in the
// active meeting and republishes session state.
func (m *Manager) RenameSpeaker(id, name string) error {
	m.mu.Lock()
	mt := m.meeting
	m.mu.Unlock()
	if mt == nil {
		return ErrStopNotActive
	}
	if err := mt.registry.Rename(id, name); err != nil {
		return err
	}
	m.publishState()
	return nil
}

// GetBriefing returns the current briefing, or nil when unset. The
// briefing is read at coaching-trigger time, so mid-session updates
// apply to the next trigger.
func (m *Manager) GetBriefing() *coach.Briefing {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.briefing == nil {
		return nil
	}
	copied := *m.briefing
	return &copied
}

// SetBriefing replaces the session briefing.
func (m *Manager) SetBriefing(b coach.Briefing) {
	m.mu.Lock()
	m.briefing = &b
	m.mu.Unlock()
	m.publishState()
}

// ClearBriefing removes the session briefing.
func (m *Manager) ClearBriefing() {
	m.mu.Lock()
	m.briefing = nil
	m.mu.Unlock()
	m.publishState()
}
