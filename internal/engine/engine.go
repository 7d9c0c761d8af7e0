// Package engine is the single entry point for transcription. It hides
// whether the backend is a local child process, a remote endpoint, or a mock,
// serializes requests so at most one is in flight, and always hands callers a
// well-formed result even when the backend fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribelabs/scribe-core/internal/backend"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/transport"
)

var (
	// ErrNotInitialized reports Transcribe before a successful Initialize.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrTimeout reports a backend that did not answer within the deadline.
	ErrTimeout = errors.New("timeout")
)

// Result is what every Transcribe call resolves to. On failure Err is set and
// Text carries fallback content; callers never see an error value.
type Result struct {
	Text             string
	Confidence       float64
	ProcessingTimeMS int64
	Engine           string
	Language         string
	Err              string
}

// Status is a read-only snapshot of the engine.
type Status struct {
	Initialized bool
	Mode        string
	Model       string
	Device      string
}

type Engine struct {
	cfg     config.EngineConfig
	backend backend.Manager
	log     *slog.Logger
	gate    chan struct{}
	clock   func() time.Time

	mu          sync.Mutex
	channel     transport.Channel
	initialized bool
	model       string
	device      string

	transcriptions metric.Int64Counter
	fallbacks      metric.Int64Counter
	timeouts       metric.Int64Counter
}

func New(cfg config.EngineConfig, mgr backend.Manager, log *slog.Logger) *Engine {
	meter := otel.Meter("scribe-core/engine")
	transcriptions, _ := meter.Int64Counter("engine.transcriptions")
	fallbacks, _ := meter.Int64Counter("engine.fallbacks")
	timeouts, _ := meter.Int64Counter("engine.timeouts")

	return &Engine{
		cfg:            cfg,
		backend:        mgr,
		log:            log.With(slog.String("component", "engine")),
		gate:           make(chan struct{}, 1),
		clock:          time.Now,
		model:          cfg.Model,
		transcriptions: transcriptions,
		fallbacks:      fallbacks,
		timeouts:       timeouts,
	}
}

// Initialize brings the backend up and confirms the channel works end to end
// with a liveness probe. A failure is terminal for this attempt only; calling
// Initialize again retries from scratch.
func (e *Engine) Initialize(ctx context.Context, modelHint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if modelHint != "" {
		e.model = modelHint
	}

	channel, err := e.backend.EnsureReady(ctx)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := channel.Send(probeCtx, transport.Request{Action: transport.ActionPing})
	if err != nil {
		return fmt.Errorf("initialize engine: liveness probe: %w", err)
	}
	if !resp.Pong {
		return fmt.Errorf("initialize engine: liveness probe got no pong")
	}

	e.channel = channel
	e.initialized = true
	e.log.Info("engine initialized", slog.String("mode", e.cfg.Mode), slog.String("model", e.model))
	return nil
}

// Transcribe converts audio samples to text. It never returns an error: any
// failure produces a fallback Result with Err set. Concurrent calls are
// serialized; the slot is released when the local deadline fires even if the
// backend is still working, so an abandoned request cannot stall the queue.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) Result {
	e.mu.Lock()
	channel := e.channel
	initialized := e.initialized
	model := e.model
	e.mu.Unlock()

	if !initialized {
		return e.fallbackResult(ErrNotInitialized, 0)
	}

	prepared := samples
	if e.cfg.Mode != "remote" {
		if meanEnergy(samples) < silenceThreshold {
			e.transcriptions.Add(ctx, 1)
			return Result{Engine: e.label(), Language: transport.NormalizeLanguage(e.cfg.Language)}
		}
		prepared = prepareAudio(samples, e.cfg.SampleRate)
	}

	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		return e.fallbackResult(ctx.Err(), 0)
	}
	defer func() { <-e.gate }()

	e.backend.MarkBusy(true)
	defer e.backend.MarkBusy(false)

	timeout := time.Duration(e.cfg.RequestTimeoutMS) * time.Millisecond
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.clock()
	resp, err := channel.Send(reqCtx, transport.Request{
		Action:    transport.ActionTranscribe,
		AudioData: prepared,
		Model:     model,
		Language:  e.cfg.Language,
	})
	elapsed := e.clock().Sub(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.timeouts.Add(ctx, 1)
			e.log.Warn("transcription timed out",
				slog.Duration("after", timeout),
				slog.String("backend_state", e.backend.State().String()))
			return e.fallbackResult(ErrTimeout, elapsed)
		}
		e.log.Warn("transcription failed", slog.String("error", err.Error()),
			slog.String("backend_state", e.backend.State().String()))
		return e.fallbackResult(err, elapsed)
	}
	if resp.Err != "" {
		e.log.Warn("backend reported error", slog.String("error", resp.Err))
		return e.fallbackResult(errors.New(resp.Err), elapsed)
	}

	if resp.Device != "" {
		e.mu.Lock()
		e.device = resp.Device
		e.mu.Unlock()
	}

	e.transcriptions.Add(ctx, 1)
	return Result{
		Text:             strings.TrimSpace(resp.Text),
		Confidence:       clamp01(resp.Probability),
		ProcessingTimeMS: elapsed.Milliseconds(),
		Engine:           e.label(),
		Language:         transport.NormalizeLanguage(resp.Language),
	}
}

// ListModels asks the backend which models it can serve. The remote variant
// has no listing protocol; it reports the configured model.
func (e *Engine) ListModels(ctx context.Context) ([]transport.ModelInfo, error) {
	e.mu.Lock()
	channel := e.channel
	initialized := e.initialized
	model := e.model
	e.mu.Unlock()

	if !initialized {
		return nil, ErrNotInitialized
	}
	if e.cfg.Mode == "remote" {
		return []transport.ModelInfo{{Name: model}}, nil
	}

	select {
	case e.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.gate }()

	resp, err := channel.Send(ctx, transport.Request{Action: transport.ActionListModels})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("list models: %s", resp.Err)
	}
	return resp.Models, nil
}

// Status is a pure read.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Initialized: e.initialized,
		Mode:        e.cfg.Mode,
		Model:       e.model,
		Device:      e.device,
	}
}

// Close tears the backend down. Safe to call repeatedly, and required before
// process exit so no child process is orphaned.
func (e *Engine) Close() {
	e.mu.Lock()
	e.initialized = false
	e.channel = nil
	e.mu.Unlock()
	e.backend.Terminate()
}

func (e *Engine) fallbackResult(err error, elapsed time.Duration) Result {
	e.fallbacks.Add(context.Background(), 1)
	return Result{
		Text:             fallbackText(),
		Engine:           "fallback",
		ProcessingTimeMS: elapsed.Milliseconds(),
		Err:              err.Error(),
	}
}

func (e *Engine) label() string {
	switch e.cfg.Mode {
	case "local":
		return "whisper-local/" + e.model
	case "remote":
		return "whisper-remote/" + e.model
	default:
		return "mock/" + e.model
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
