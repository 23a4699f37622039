package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/metrics"
)

// Transcriber turns a clip into text. Unintelligible input should yield
// empty text rather than an error.
type Transcriber interface {
	Transcribe(ctx context.Context, clip []byte) (string, error)
}

// Answerer produces a reply for question given the session's prior turns,
// oldest first.
type Answerer interface {
	Answer(ctx context.Context, question string, history []Turn) (string, error)
}

// ClipRecorder optionally captures each run's clip and outcome for
// diagnostics.
type ClipRecorder interface {
	Begin(sessionID, runID string, clip []byte)
	Update(runID string, fields map[string]any)
}

type PipelineConfig struct {
	Transcriber Transcriber
	Answerer    Answerer
	Memory      *Memory
	Emitter     Emitter
	Recorder    ClipRecorder
	Metrics     *metrics.Metrics
}

// Pipeline runs transcribe -> answer -> reply for one clip. Each Run is a
// cancellable unit of work driven by the Supervisor.
type Pipeline struct {
	transcriber Transcriber
	answerer    Answerer
	memory      *Memory
	emitter     Emitter
	recorder    ClipRecorder
	metrics     *metrics.Metrics
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		transcriber: cfg.Transcriber,
		answerer:    cfg.Answerer,
		memory:      cfg.Memory,
		emitter:     cfg.Emitter,
		recorder:    cfg.Recorder,
		metrics:     cfg.Metrics,
	}
}

// Work binds a run to sid and clip for the Supervisor.
func (p *Pipeline) Work(sid string, clip []byte) WorkFunc {
	return func(ctx context.Context, runID string) Result {
		return p.Run(ctx, sid, runID, clip)
	}
}

// Run executes one pipeline. Cancellation is checked around each
// collaborator call; on cancellation the client is told to stop playback
// and nothing is written to history.
func (p *Pipeline) Run(ctx context.Context, sid, runID string, clip []byte) (res Result) {
	ctx = logging.WithFields(ctx, logging.RunFields(sid, runID)...)
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorwCtx(ctx, "pipeline: panic", "panic", r)
			p.reply(ctx, sid, ServerErrorReply)
			res = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("pipeline panic: %v", r)}
		}
		p.capture(runID, map[string]any{"outcome": res.Outcome.String()})
	}()

	if len(clip) == 0 {
		logging.DebugwCtx(ctx, "pipeline: empty clip")
		p.reply(ctx, sid, NoAudioReply)
		return Result{Outcome: OutcomeCompleted}
	}
	if p.recorder != nil {
		p.recorder.Begin(sid, runID, clip)
	}

	if ctx.Err() != nil {
		return p.cancelled(ctx, sid)
	}
	start := time.Now()
	text, err := p.transcriber.Transcribe(ctx, clip)
	p.metrics.ObserveStage(metrics.StageTranscribe, time.Since(start))
	if ctx.Err() != nil {
		return p.cancelled(ctx, sid)
	}
	if err != nil {
		logging.WarnwCtx(ctx, "pipeline: transcription failed", "err", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.reply(ctx, sid, InaudibleReply)
		return Result{Outcome: OutcomeCompleted}
	}
	logging.InfowCtx(ctx, "pipeline: heard", "text_len", len(text))
	p.capture(runID, map[string]any{"transcript": text})

	history := p.memory.History(sid)
	start = time.Now()
	answer, err := p.answerer.Answer(ctx, text, history)
	p.metrics.ObserveStage(metrics.StageAnswer, time.Since(start))
	if ctx.Err() != nil {
		return p.cancelled(ctx, sid)
	}
	if err != nil {
		logging.ErrorwCtx(ctx, "pipeline: answer generation failed", "err", err)
		p.reply(ctx, sid, ServerErrorReply)
		return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("answer: %w", err)}
	}

	// No suspension point from here on: the history write and the reply
	// commit together.
	p.memory.AppendExchange(sid, text, answer)
	p.reply(ctx, sid, answer)
	p.capture(runID, map[string]any{"reply": answer})
	logging.InfowCtx(ctx, "pipeline: replied", "reply_len", len(answer), "history_len", len(history)+2)
	return Result{Outcome: OutcomeCompleted}
}

func (p *Pipeline) cancelled(ctx context.Context, sid string) Result {
	logging.InfowCtx(ctx, "pipeline: cancelled")
	if err := p.emitter.Emit(sid, EventStopAudio, StopAudio{}); err != nil {
		logging.DebugwCtx(ctx, "pipeline: stop_audio emit failed", "err", err)
	}
	return Result{Outcome: OutcomeCancelled, Err: ctx.Err()}
}

func (p *Pipeline) reply(ctx context.Context, sid, text string) {
	if err := p.emitter.Emit(sid, EventAgentResponse, AgentResponse{Text: text}); err != nil {
		logging.WarnwCtx(ctx, "pipeline: agent_response emit failed", "err", err)
	}
}

func (p *Pipeline) capture(runID string, fields map[string]any) {
	if p.recorder == nil {
		return
	}
	p.recorder.Update(runID, fields)
}
