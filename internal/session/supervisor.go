package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/metrics"
)

// ErrSupervisorClosed is returned by Supersede after Shutdown.
var ErrSupervisorClosed = errors.New("supervisor closed")

// Outcome is how a pipeline run ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the explicit terminal state of a run.
type Result struct {
	Outcome Outcome
	Err     error
}

// WorkFunc is one cancellable unit of work. It must observe ctx at every
// suspension point and return only after its own cleanup has run.
type WorkFunc func(ctx context.Context, runID string) Result

// Task is a supervised run bound to one session.
type Task struct {
	ID        string
	SessionID string
	Started   time.Time

	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Done is closed once the work function has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result is valid after Done is closed.
func (t *Task) Result() Result {
	<-t.done
	return t.result
}

func (t *Task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Supervisor keeps at most one running task per session. Starting a new
// task for a session first cancels the old one and waits for it to unwind.
type Supervisor struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	closed  bool
	base    context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	metrics *metrics.Metrics
}

func NewSupervisor(m *metrics.Metrics) *Supervisor {
	base, stop := context.WithCancel(context.Background())
	return &Supervisor{
		tasks:   make(map[string]*Task),
		base:    base,
		stop:    stop,
		metrics: m,
	}
}

// Supersede cancels and awaits any running task for sid, then starts work
// as the session's new task and returns without waiting for it.
func (s *Supervisor) Supersede(sid string, work WorkFunc) (*Task, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSupervisorClosed
		}
		cur := s.tasks[sid]
		if cur == nil || cur.finished() {
			t := s.startLocked(sid, work)
			s.mu.Unlock()
			return t, nil
		}
		s.mu.Unlock()
		// Another caller may register a task while we wait, so re-check.
		s.cancelAndWait(sid, cur)
	}
}

// CancelOnly cancels and awaits the running task for sid without starting
// a replacement. It reports whether a running task was cancelled.
func (s *Supervisor) CancelOnly(sid string) bool {
	cancelled := false
	for {
		s.mu.Lock()
		cur := s.tasks[sid]
		s.mu.Unlock()
		if cur == nil {
			return cancelled
		}
		if cur.finished() {
			s.removeIf(sid, cur)
			return cancelled
		}
		s.cancelAndWait(sid, cur)
		cancelled = true
	}
}

// Running reports whether sid has a task that has not finished.
func (s *Supervisor) Running(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[sid]
	return t != nil && !t.finished()
}

// Task returns the task registered for sid, if any.
func (s *Supervisor) Task(sid string) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[sid]
}

// Len returns the number of registered tasks.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Shutdown refuses new work, cancels every running task and waits for all
// of them to unwind or for ctx to expire.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	running := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		running = append(running, t)
	}
	s.mu.Unlock()

	logging.Infow("supervisor: shutting down", "running", len(running))
	s.stop()

	waited := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("supervisor shutdown: %w", ctx.Err())
	}
}

func (s *Supervisor) startLocked(sid string, work WorkFunc) *Task {
	ctx, cancel := context.WithCancel(s.base)
	t := &Task{
		ID:        uuid.NewString(),
		SessionID: sid,
		Started:   time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.tasks[sid] = t
	s.wg.Add(1)
	go s.run(ctx, t, work)
	logging.Debugw("supervisor: task started", logging.RunFields(sid, t.ID)...)
	return t
}

func (s *Supervisor) run(ctx context.Context, t *Task, work WorkFunc) {
	defer s.wg.Done()
	res := callWork(ctx, t.ID, work)
	t.result = res
	s.removeIf(t.SessionID, t)
	t.cancel()
	close(t.done)
	s.metrics.RunFinished(res.Outcome.String(), time.Since(t.Started))
	logging.Debugw("supervisor: task finished", "session_id", t.SessionID, "run_id", t.ID, "outcome", res.Outcome.String())
}

// callWork converts a panic in work into a failed result so one session
// cannot take down the process.
func callWork(ctx context.Context, runID string, work WorkFunc) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw("supervisor: task panicked", "run_id", runID, "panic", r)
			res = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("task panic: %v", r)}
		}
	}()
	return work(ctx, runID)
}

func (s *Supervisor) cancelAndWait(sid string, t *Task) {
	t.cancel()
	<-t.done
	s.removeIf(sid, t)
	s.metrics.RunSuperseded()
	logging.Debugw("supervisor: task cancelled", logging.RunFields(sid, t.ID)...)
}

// removeIf drops sid's registration only if it still points at t, so a
// superseded task finishing late cannot clobber its replacement.
func (s *Supervisor) removeIf(sid string, t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[sid] == t {
		delete(s.tasks, sid)
	}
}
