package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type emitted struct {
	SessionID string
	Event     string
	Payload   any
}

// recordingEmitter keeps every outbound message in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(sid, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{SessionID: sid, Event: event, Payload: payload})
	return nil
}

func (r *recordingEmitter) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]emitted, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingEmitter) names(sid string) []string {
	var out []string
	for _, e := range r.all() {
		if e.SessionID == sid {
			out = append(out, e.Event)
		}
	}
	return out
}

func (r *recordingEmitter) responses(sid string) []string {
	var out []string
	for _, e := range r.all() {
		if e.SessionID == sid && e.Event == EventAgentResponse {
			out = append(out, e.Payload.(AgentResponse).Text)
		}
	}
	return out
}

func (r *recordingEmitter) waitForResponses(t *testing.T, sid string, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.responses(sid)) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.responses(sid)
}

type transcribeFunc func(ctx context.Context, clip []byte) (string, error)

type fakeTranscriber struct {
	calls atomic.Int32
	fn    transcribeFunc
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, clip []byte) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, clip)
}

type answerFunc func(ctx context.Context, question string, history []Turn) (string, error)

type fakeAnswerer struct {
	calls atomic.Int32
	fn    answerFunc
}

func (f *fakeAnswerer) Answer(ctx context.Context, question string, history []Turn) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, question, history)
}

func fixedText(text string) transcribeFunc {
	return func(context.Context, []byte) (string, error) { return text, nil }
}

func fixedAnswer(text string) answerFunc {
	return func(context.Context, string, []Turn) (string, error) { return text, nil }
}

// blockingAnswer signals entered and then waits for cancellation.
func blockingAnswer(entered chan<- struct{}) answerFunc {
	return func(ctx context.Context, _ string, _ []Turn) (string, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	begun   map[string]string
	updates map[string]map[string]any
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{begun: map[string]string{}, updates: map[string]map[string]any{}}
}

func (f *fakeRecorder) Begin(sid, runID string, clip []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begun[runID] = sid
}

func (f *fakeRecorder) Update(runID string, fields map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.begun[runID]; !ok {
		return
	}
	if f.updates[runID] == nil {
		f.updates[runID] = map[string]any{}
	}
	for k, v := range fields {
		f.updates[runID][k] = v
	}
}

var wavClip = append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 64)...)

type harness struct {
	memory      *Memory
	supervisor  *Supervisor
	emitter     *recordingEmitter
	transcriber *fakeTranscriber
	answerer    *fakeAnswerer
	handler     *Handler
}

func newHarness(t *testing.T, tf transcribeFunc, af answerFunc) *harness {
	t.Helper()
	h := &harness{
		memory:      NewMemory(HistoryCapacity),
		supervisor:  NewSupervisor(nil),
		emitter:     &recordingEmitter{},
		transcriber: &fakeTranscriber{fn: tf},
		answerer:    &fakeAnswerer{fn: af},
	}
	pipeline := NewPipeline(PipelineConfig{
		Transcriber: h.transcriber,
		Answerer:    h.answerer,
		Memory:      h.memory,
		Emitter:     h.emitter,
	})
	h.handler = NewHandler(h.memory, h.supervisor, pipeline, h.emitter, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.supervisor.Shutdown(ctx)
	})
	return h
}

// settle waits until sid has no running task.
func (h *harness) settle(t *testing.T, sid string) {
	t.Helper()
	require.Eventually(t, func() bool { return !h.supervisor.Running(sid) }, 2*time.Second, 5*time.Millisecond)
}
