package host

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/bus"
	"github.com/attentivai/meeting-gateway/internal/coach"
	"github.com/attentivai/meeting-gateway/internal/observability"
	"github.com/attentivai/meeting-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The host shell connects from localhost; remote origins have
		// no business here.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

var (
	errUnknownOp       = errors.New("unknown control op")
	errMissingBriefing = errors.New("briefing.set requires a briefing body")
)

// ControlMessage is one inbound command from the host shell.
type ControlMessage struct {
	Op       string          `json:"op"`
	ID       string          `json:"id,omitempty"`   // speaker.rename target
	Name     string          `json:"name,omitempty"` // speaker.rename value
	Briefing *coach.Briefing `json:"briefing,omitempty"`
}

// Ack is the reply to one control message.
type Ack struct {
	Type  string `json:"type"` // always "ack"
	Op    string `json:"op"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HostConn is one connected host shell. Bus events and control acks
// share the write side, serialized by a write mutex; the read side
// handles control messages.
type HostConn struct {
	conn    *websocket.Conn
	manager *session.Manager
	events  *bus.Bus
	logger  zerolog.Logger

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// HandleWS upgrades a host shell connection and runs it until either
// side closes.
func HandleWS(manager *session.Manager, events *bus.Bus, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to upgrade host connection")
			return
		}

		h := &HostConn{
			conn:    conn,
			manager: manager,
			events:  events,
			logger:  logger.With().Str("component", "host").Str("conn_id", uuid.New().String()[:8]).Logger(),
			done:    make(chan struct{}),
		}
		h.run(r.Context())
	}
}

func (h *HostConn) run(ctx context.Context) {
	defer h.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := h.events.Subscribe(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to subscribe to event bus")
		return
	}

	h.logger.Info().Msg("Host connected")

	// Initial state so a reconnecting host renders immediately.
	h.sendState()

	go h.forwardEvents(events)
	h.readControl(ctx)

	h.close()
	h.logger.Info().Msg("Host disconnected")
}

// forwardEvents pushes bus events to the host in bus order. One slow
// or dead host connection ends itself; it never stalls the bus for
// other consumers.
func (h *HostConn) forwardEvents(events <-chan bus.Event) {
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-events:
			if !ok {
				h.close()
				return
			}
			if err := h.writeJSON(event); err != nil {
				h.logger.Warn().Err(err).Msg("Host write failed, dropping connection")
				h.close()
				return
			}
		}
	}
}

// readControl processes inbound control messages until the connection
// drops.
func (h *HostConn) readControl(ctx context.Context) {
	for {
		select {
		case <-h.done:
			return
		default:
		}

		_, raw, err := h.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("Host connection read error")
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn().Err(err).Msg("Undecodable control message")
			h.ack("", err)
			continue
		}

		h.handleControl(ctx, msg)
	}
}

func (h *HostConn) handleControl(ctx context.Context, msg ControlMessage) {
	var err error
	switch msg.Op {
	case "session.start":
		_, err = h.manager.Start(ctx)
	case "session.stop":
		err = h.manager.Stop()
	case "capture.stopRequested":
		// Releasing capture devices ends the session; the manager
		// publishes the stop-requested event before tearing down.
		err = h.manager.Stop()
	case "speaker.rename":
		err = h.manager.RenameSpeaker(msg.ID, msg.Name)
	case "briefing.set":
		if msg.Briefing == nil {
			err = errMissingBriefing
		} else {
			h.manager.SetBriefing(*msg.Briefing)
		}
	case "briefing.clear":
		h.manager.ClearBriefing()
	case "state.get":
		h.sendState()
	default:
		err = errUnknownOp
	}

	if err != nil {
		observability.RecordError("control", "host")
	}
	h.ack(msg.Op, err)
}

func (h *HostConn) ack(op string, err error) {
	ack := Ack{Type: "ack", Op: op, OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	if werr := h.writeJSON(ack); werr != nil {
		h.logger.Warn().Err(werr).Msg("Failed to write ack")
		h.close()
	}
}

// sendState writes a synthetic session.state event reflecting the
// current snapshot.
func (h *HostConn) sendState() {
	snapshot := h.manager.Snapshot()
	payload, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal state snapshot")
		return
	}
	event := bus.Event{
		SessionID: snapshot.MeetingID,
		Category:  bus.SessionState,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if err := h.writeJSON(event); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write state snapshot")
		h.close()
	}
}

func (h *HostConn) writeJSON(v any) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.conn.WriteJSON(v)
}

func (h *HostConn) close() {
	h.once.Do(func() { close(h.done) })
}
