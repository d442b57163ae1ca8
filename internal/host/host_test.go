package host

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/bus"
	"github.com/attentivai/meeting-gateway/internal/capture"
	"github.com/attentivai/meeting-gateway/internal/coach"
	"github.com/attentivai/meeting-gateway/internal/config"
	"github.com/attentivai/meeting-gateway/internal/session"
	"github.com/attentivai/meeting-gateway/internal/transcript"
)

type unavailableDevice struct{}

func (unavailableDevice) Label() string { return "unavailable" }

func (unavailableDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	return nil, errors.New("no capture hardware")
}

type testEnv struct {
	bus     *bus.Bus
	manager *session.Manager
	server  *httptest.Server
	conn    *websocket.Conn
}

// rawMessage distinguishes acks from forwarded bus events.
type rawMessage struct {
	Type     string          `json:"type"`
	Op       string          `json:"op"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error"`
	Category bus.Category    `json:"category"`
	Payload  json.RawMessage `json:"payload"`
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		SampleRate:       16000,
		FrameSamples:     64,
		AudioBufferSize:  4096,
		SilenceThreshold: 250.0,
		SilenceWindow:    4,
		WatchdogInterval: 10,
		TranscriptWindow: 20,
	}
	eventBus := bus.New(64, zerolog.Nop())
	manager := session.NewManager(cfg, eventBus, nil, zerolog.Nop())
	// No capture hardware in tests; session.start fails cleanly.
	manager.ConfigureMux = func(m *capture.Mux) {
		m.MicDevice = unavailableDevice{}
		m.LoopbackTargets = func(ctx context.Context) ([]string, error) { return nil, nil }
	}

	server := httptest.NewServer(HandleWS(manager, eventBus, zerolog.Nop()))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Cleanup(func() { eventBus.Close() })

	return &testEnv{bus: eventBus, manager: manager, server: server, conn: conn}
}

func (e *testEnv) read(t *testing.T) rawMessage {
	t.Helper()
	e.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg rawMessage
	if err := e.conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func (e *testEnv) readAck(t *testing.T) rawMessage {
	t.Helper()
	for {
		msg := e.read(t)
		if msg.Type == "ack" {
			return msg
		}
	}
}

func (e *testEnv) send(t *testing.T, msg ControlMessage) {
	t.Helper()
	if err := e.conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestInitialStateOnConnect(t *testing.T) {
	env := newTestEnv(t)

	msg := env.read(t)
	if msg.Category != bus.SessionState {
		t.Fatalf("first message category = %q, want session.state", msg.Category)
	}

	var state session.StatePayload
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.Active {
		t.Error("fresh gateway must report an inactive session")
	}
}

func TestBusEventsForwardedInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.read(t) // initial state

	lines := []transcript.Line{
		{Speaker: "me", Text: "first"},
		{Speaker: "Participant 1", Text: "second"},
		{Speaker: "me", Text: "third"},
	}
	for _, line := range lines {
		if err := env.bus.Publish("s", bus.TranscriptLine, line); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i, want := range lines {
		msg := env.read(t)
		if msg.Category != bus.TranscriptLine {
			t.Fatalf("message %d category = %q", i, msg.Category)
		}
		var got transcript.Line
		if err := json.Unmarshal(msg.Payload, &got); err != nil {
			t.Fatalf("unmarshal line %d: %v", i, err)
		}
		if got.Text != want.Text {
			t.Errorf("line %d text = %q, want %q", i, got.Text, want.Text)
		}
	}
}

func TestSessionStartWithoutSourcesAcksError(t *testing.T) {
	env := newTestEnv(t)
	env.read(t)

	env.send(t, ControlMessage{Op: "session.start"})
	ack := env.readAck(t)
	if ack.OK {
		t.Error("start without capture sources should ack an error")
	}
	if ack.Op != "session.start" {
		t.Errorf("ack op = %q", ack.Op)
	}
}

func TestBriefingControlOps(t *testing.T) {
	env := newTestEnv(t)
	env.read(t)

	env.send(t, ControlMessage{Op: "briefing.set", Briefing: &coach.Briefing{Topic: "Q3"}})
	if ack := env.readAck(t); !ack.OK {
		t.Errorf("briefing.set failed: %s", ack.Error)
	}
	if b := env.manager.GetBriefing(); b == nil || b.Topic != "Q3" {
		t.Errorf("briefing = %+v", b)
	}

	env.send(t, ControlMessage{Op: "briefing.set"})
	if ack := env.readAck(t); ack.OK {
		t.Error("briefing.set without body should fail")
	}

	env.send(t, ControlMessage{Op: "briefing.clear"})
	if ack := env.readAck(t); !ack.OK {
		t.Errorf("briefing.clear failed: %s", ack.Error)
	}
	if env.manager.GetBriefing() != nil {
		t.Error("briefing should be cleared")
	}
}

func TestUnknownOpAcksError(t *testing.T) {
	env := newTestEnv(t)
	env.read(t)

	env.send(t, ControlMessage{Op: "bogus"})
	ack := env.readAck(t)
	if ack.OK {
		t.Error("unknown op must be rejected")
	}
}

func TestCaptureStopRequestedIsAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.read(t)

	// No session is active, so the op fails through the manager, but it
	// must be recognized rather than rejected as unknown.
	env.send(t, ControlMessage{Op: "capture.stopRequested"})
	ack := env.readAck(t)
	if ack.Op != "capture.stopRequested" {
		t.Fatalf("ack op = %q, want capture.stopRequested", ack.Op)
	}
	if ack.OK {
		t.Error("stop without an active session must fail")
	}
	if ack.Error != session.ErrStopNotActive.Error() {
		t.Errorf("ack error = %q, want %q", ack.Error, session.ErrStopNotActive)
	}
}

func TestRenameWithoutSessionAcksError(t *testing.T) {
	env := newTestEnv(t)
	env.read(t)

	env.send(t, ControlMessage{Op: "speaker.rename", ID: "0", Name: "Alice"})
	if ack := env.readAck(t); ack.OK {
		t.Error("rename without an active session must fail")
	}
}
