// Package runtime assembles the scribe daemon: telemetry, the message bus,
// the transcription engine, and the services that tie them together.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribelabs/scribe-core/internal/backend"
	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/capture"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/endpoint"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/history"
	"github.com/scribelabs/scribe-core/internal/natsserver"
	"github.com/scribelabs/scribe-core/internal/transport"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	engine     *engine.Engine
	capture    *capture.Service
	history    *history.Store
	endpoints  *endpoint.Store

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Embedded {
		srv, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.natsServer = srv
	}

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.shutdownInfra()
		return fmt.Errorf("connect to bus: %w", err)
	}
	r.busClient = busClient

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		r.shutdownInfra()
		return fmt.Errorf("open history store: %w", err)
	}
	r.history = hist

	mgr, err := r.buildManager()
	if err != nil {
		r.shutdownInfra()
		return err
	}
	r.engine = engine.New(r.cfg.Engine, mgr, r.logger)

	initCtx, cancelInit := context.WithTimeout(ctx, 30*time.Second)
	if err := r.engine.Initialize(initCtx, ""); err != nil {
		r.logger.Warn("engine not ready at startup, will retry on demand",
			slog.String("error", err.Error()))
	}
	cancelInit()

	r.capture = capture.NewService(ctx, r.cfg.Capture, busClient, r.engine, hist, r.endpoints)
	if err := r.capture.Start(); err != nil {
		r.shutdownInfra()
		return fmt.Errorf("start capture service: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/statusz", r.handleStatus)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine_mode", r.cfg.Engine.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}

	r.capture.Close()
	r.engine.Close()
	r.shutdownInfra()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildManager() (backend.Manager, error) {
	switch r.cfg.Engine.Mode {
	case "local":
		return backend.NewLocal(r.cfg.Engine, r.logger), nil
	case "remote":
		path := r.cfg.Engine.EndpointPath
		if path == "" {
			p, err := endpoint.DefaultPath()
			if err != nil {
				return nil, fmt.Errorf("resolve endpoint path: %w", err)
			}
			path = p
		}
		store, err := endpoint.Open(path, r.logger)
		if err != nil {
			return nil, fmt.Errorf("open endpoint config: %w", err)
		}
		// Settings written through the endpoint store win over yaml defaults.
		ec := store.Config()
		if ec.SelectedModel != "" {
			r.cfg.Engine.Model = ec.SelectedModel
		}
		if ec.Language != "" {
			r.cfg.Engine.Language = ec.Language
		}
		r.endpoints = store
		return backend.NewRemote(store, r.cfg.Engine.SampleRate, r.logger), nil
	case "mock":
		return backend.NewStatic(transport.NewMockChannel()), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", r.cfg.Engine.Mode)
	}
}

func (r *Runtime) shutdownInfra() {
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.logger.Warn("history close error", slog.String("error", err.Error()))
		}
		r.history = nil
	}
	if r.busClient != nil {
		r.busClient.Close()
		r.busClient = nil
	}
	if r.natsServer != nil {
		r.natsServer.Shutdown()
		r.natsServer = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.busClient == nil || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := r.engine.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"initialized": st.Initialized,
		"mode":        st.Mode,
		"model":       st.Model,
		"device":      st.Device,
	})
}
