package session

import (
	"errors"
	"fmt"

	"github.com/xr-voice-gateway/internal/audio"
	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/metrics"
)

// ErrUnknownEvent is returned by Dispatch for unrecognized event names.
var ErrUnknownEvent = errors.New("unknown event")

// Info is a point-in-time view of one session.
type Info struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Turns     int    `json:"turns"`
	Running   bool   `json:"running"`
}

// Handler reacts to inbound session events. It is the only component that
// drives the Supervisor and Memory, and the only caller of the Emitter
// outside a running pipeline.
type Handler struct {
	memory     *Memory
	supervisor *Supervisor
	pipeline   *Pipeline
	emitter    Emitter
	metrics    *metrics.Metrics
	routes     map[string]func(sid string, data any) error
}

func NewHandler(memory *Memory, supervisor *Supervisor, pipeline *Pipeline, emitter Emitter, m *metrics.Metrics) *Handler {
	h := &Handler{
		memory:     memory,
		supervisor: supervisor,
		pipeline:   pipeline,
		emitter:    emitter,
		metrics:    m,
	}
	h.routes = map[string]func(string, any) error{
		EventConnect:    func(sid string, _ any) error { return h.OnConnect(sid) },
		EventDisconnect: func(sid string, _ any) error { h.OnDisconnect(sid); return nil },
		EventInterrupt:  func(sid string, _ any) error { return h.OnInterrupt(sid) },
		EventAudio:      h.OnAudio,
		EventPing:       h.OnPing,
	}
	return h
}

// Dispatch routes a named inbound event for sid.
func (h *Handler) Dispatch(sid, event string, data any) error {
	route, ok := h.routes[event]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	return route(sid, data)
}

func (h *Handler) OnConnect(sid string) error {
	h.memory.OnConnect(sid)
	h.metrics.SessionOpened()
	logging.Infow("session: connected", logging.SessionFields(sid)...)
	return h.emitter.Emit(sid, EventServerStatus, ServerStatus{Msg: "Connection successful", Status: "online"})
}

// OnDisconnect cancels any running pipeline, waits for it to unwind and
// then drops all state for sid.
func (h *Handler) OnDisconnect(sid string) {
	known := h.memory.MarkClosing(sid)
	cancelled := h.supervisor.CancelOnly(sid)
	h.memory.OnDisconnect(sid)
	if known {
		h.metrics.SessionClosed()
	}
	logging.Infow("session: disconnected", "session_id", sid, "cancelled_run", cancelled)
}

func (h *Handler) OnInterrupt(sid string) error {
	cancelled := h.supervisor.CancelOnly(sid)
	logging.Infow("session: interrupt", "session_id", sid, "cancelled_run", cancelled)
	return h.emitter.Emit(sid, EventStopAudio, StopAudio{})
}

// OnAudio normalizes payload and supersedes any running pipeline for sid
// with one bound to the new clip.
func (h *Handler) OnAudio(sid string, payload any) error {
	if h.memory.State(sid) == StateClosing {
		logging.Debugw("session: audio for closing session dropped", logging.SessionFields(sid)...)
		return nil
	}
	clip := audio.NormalizeAny(payload)
	h.metrics.ObserveClip(len(clip))
	logging.Debugw("session: audio received", "session_id", sid, "bytes", len(clip))
	if _, err := h.supervisor.Supersede(sid, h.pipeline.Work(sid, clip)); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	return nil
}

func (h *Handler) OnPing(sid string, data any) error {
	logging.Debugw("session: ping", "session_id", sid, "data", data)
	return h.emitter.Emit(sid, EventPong, Pong{Msg: "Server is alive!"})
}

// Interrupt is OnInterrupt for administrative callers. It reports whether a
// running pipeline was cancelled, and fails for unknown sessions.
func (h *Handler) Interrupt(sid string) (bool, error) {
	if h.memory.State(sid) == StateUnknown {
		return false, fmt.Errorf("session %q not found", sid)
	}
	running := h.supervisor.Running(sid)
	if err := h.OnInterrupt(sid); err != nil {
		return running, err
	}
	return running, nil
}

// History returns sid's recorded turns.
func (h *Handler) History(sid string) []Turn {
	return h.memory.History(sid)
}

// Sessions lists every known session.
func (h *Handler) Sessions() []Info {
	ids := h.memory.Sessions()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		out = append(out, Info{
			SessionID: id,
			State:     h.memory.State(id).String(),
			Turns:     len(h.memory.History(id)),
			Running:   h.supervisor.Running(id),
		})
	}
	return out
}
