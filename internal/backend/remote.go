package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribelabs/scribe-core/internal/endpoint"
	"github.com/scribelabs/scribe-core/internal/transport"
)

// Remote treats a configured HTTP endpoint as the backend. There is no process
// to supervise; start validates configuration and probes reachability.
type Remote struct {
	store      *endpoint.Store
	sampleRate int
	log        *slog.Logger
	state      atomic.Int32

	mu      sync.Mutex
	channel *transport.HTTPChannel
}

func NewRemote(store *endpoint.Store, sampleRate int, log *slog.Logger) *Remote {
	return &Remote{
		store:      store,
		sampleRate: sampleRate,
		log:        log.With(slog.String("component", "remote-backend")),
	}
}

func (r *Remote) State() State {
	return State(r.state.Load())
}

func (r *Remote) MarkBusy(busy bool) {
	if busy {
		r.state.CompareAndSwap(int32(Ready), int32(Busy))
	} else {
		r.state.CompareAndSwap(int32(Busy), int32(Ready))
	}
}

func (r *Remote) EnsureReady(ctx context.Context) (transport.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case Ready, Busy:
		return r.channel, nil
	}

	cfg := r.store.Config()
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("%w: no endpoint url set", ErrUnconfigured)
	}

	r.state.Store(int32(Starting))
	channel := transport.NewHTTPChannel(cfg.EndpointURL, cfg.APIKey, r.sampleRate, r.log)

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := channel.Send(probeCtx, transport.Request{Action: transport.ActionPing}); err != nil {
		r.state.Store(int32(Uninitialized))
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	r.channel = channel
	r.state.Store(int32(Ready))
	r.log.Info("remote backend ready", slog.String("endpoint", cfg.EndpointURL))
	return channel, nil
}

func (r *Remote) Terminate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		_ = r.channel.Close()
		r.channel = nil
	}
	r.state.Store(int32(Terminated))
}
