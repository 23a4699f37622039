package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xr-voice-gateway/internal/config"
	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/mcp"
	"github.com/xr-voice-gateway/internal/metrics"
	"github.com/xr-voice-gateway/internal/rag"
	"github.com/xr-voice-gateway/internal/session"
	"github.com/xr-voice-gateway/internal/transport"
	"github.com/xr-voice-gateway/internal/voice"
)

const shutdownGrace = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logging.Init(cfg.Logging.Level)
			defer func() { _ = logging.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, prometheus.DefaultRegisterer)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	return cmd
}

// app holds the wired components of a running gateway.
type app struct {
	gateway    *transport.Gateway
	supervisor *session.Supervisor
	handler    *session.Handler
	recorder   *voice.Recorder
	closeRAG   func()
}

func build(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*app, error) {
	m := metrics.New(reg)
	memory := session.NewMemory(session.HistoryCapacity)
	sup := session.NewSupervisor(m)
	gw := transport.NewGateway(transport.Options{
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
		WriteTimeout:    cfg.Server.GetWriteTimeout(),
		PingInterval:    cfg.Server.GetPingInterval(),
	})

	whisper := voice.NewWhisperClient(voice.WhisperConfigFrom(cfg.Transcription), nil)
	generator, closeRAG, err := rag.Open(ctx, cfg.RAG, cfg.LLM)
	if err != nil {
		return nil, err
	}

	a := &app{gateway: gw, supervisor: sup, closeRAG: closeRAG}
	pcfg := session.PipelineConfig{
		Transcriber: whisper,
		Answerer:    generator,
		Memory:      memory,
		Emitter:     gw,
		Metrics:     m,
	}
	if cfg.Capture.Enabled {
		rec, err := voice.NewRecorder(cfg.Capture.Dir)
		if err != nil {
			closeRAG()
			return nil, err
		}
		a.recorder = rec
		pcfg.Recorder = rec
	}
	a.handler = session.NewHandler(memory, sup, session.NewPipeline(pcfg), gw, m)
	gw.Bind(a.handler)
	return a, nil
}

func (a *app) routes(ctx context.Context, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", transport.HealthHandler())
	mux.Handle(cfg.Server.WSPath, a.gateway)
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.Admin.MCPEnabled {
		mux.Handle(cfg.Admin.MCPPath, mcp.Handler(ctx, mcp.NewServer(a.handler, version)))
	}
	return mux
}

func serve(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) error {
	a, err := build(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer a.closeRAG()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.routes(ctx, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Infow("gateway: listening", "addr", cfg.Server.Addr, "ws_path", cfg.Server.WSPath, "mcp", cfg.Admin.MCPEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.recorder != nil {
		retention, _ := cfg.Capture.RetentionDuration()
		cleaner := voice.Cleaner{Dir: a.recorder.Dir(), Retention: retention, MaxFiles: cfg.Capture.MaxFiles}
		g.Go(func() error {
			cleaner.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logging.Infow("gateway: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.gateway.Close()
		if serr := a.supervisor.Shutdown(shutdownCtx); serr != nil {
			logging.Warnw("gateway: pipelines still running at exit", "err", serr)
		}
		return err
	})
	return g.Wait()
}
