// Package capture bridges audio frames arriving on the bus to the
// transcription engine and publishes the resulting transcripts.
package capture

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/scribelabs/scribe-core/internal/bus"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/endpoint"
	"github.com/scribelabs/scribe-core/internal/engine"
	"github.com/scribelabs/scribe-core/internal/history"
	"github.com/scribelabs/scribe-core/internal/protocol"
)

type Service struct {
	cfg       config.CaptureConfig
	bus       *bus.Client
	engine    *engine.Engine
	hist      *history.Store
	endpoints *endpoint.Store
	sessions  map[string]*sessionState
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	wg        sync.WaitGroup
	ready     bool
}

type sessionState struct {
	Buffer   []byte
	Inflight bool
}

// NewService wires the bus-facing side of the core. endpoints may be nil when
// the engine is not in remote mode; endpoint requests then report an error.
func NewService(parent context.Context, cfg config.CaptureConfig, busClient *bus.Client, eng *engine.Engine, hist *history.Store, endpoints *endpoint.Store) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		engine:    eng,
		hist:      hist,
		endpoints: endpoints,
		sessions:  make(map[string]*sessionState),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectCapturePrefix + ".>", s.handleFrame},
		{protocol.SubjectStatus, s.handleStatus},
		{protocol.SubjectModels, s.handleModels},
		{protocol.SubjectEndpoint, s.handleEndpoint},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			for _, prev := range s.subs {
				_ = prev.Drain()
			}
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}

	s.mu.Lock()
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	s.mu.Unlock()

	if frame.Final {
		s.scheduleTranscription(frame.SessionID)
	}
}

func (s *Service) handleStatus(msg *nats.Msg) {
	st := s.engine.Status()
	s.respond(msg, protocol.StatusReply{
		Initialized: st.Initialized,
		Mode:        st.Mode,
		Model:       st.Model,
		Device:      st.Device,
	})
}

func (s *Service) handleModels(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	s.respond(msg, s.modelInventory(ctx))
}

func (s *Service) handleEndpoint(msg *nats.Msg) {
	s.respond(msg, s.applyEndpointUpdate(msg.Data))
}

func (s *Service) respond(msg *nats.Msg, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal reply", slog.String("subject", msg.Subject), slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.bus.Logger().Warn("failed to answer request", slog.String("subject", msg.Subject), slogError(err))
	}
}

// modelInventory asks the engine which models the backend can serve.
func (s *Service) modelInventory(ctx context.Context) protocol.ModelsReply {
	models, err := s.engine.ListModels(ctx)
	if err != nil {
		return protocol.ModelsReply{Error: err.Error()}
	}
	reply := protocol.ModelsReply{Models: make([]protocol.ModelDescription, 0, len(models))}
	for _, m := range models {
		reply.Models = append(reply.Models, protocol.ModelDescription{Name: m.Name, Description: m.Description})
	}
	return reply
}

// applyEndpointUpdate mutates the persisted endpoint settings and reports the
// settings now in effect. An empty request reads without writing.
func (s *Service) applyEndpointUpdate(data []byte) protocol.EndpointReply {
	if s.endpoints == nil {
		return protocol.EndpointReply{Error: "no endpoint store: engine is not in remote mode"}
	}

	var update protocol.EndpointUpdate
	if len(data) > 0 {
		if err := json.Unmarshal(data, &update); err != nil {
			return protocol.EndpointReply{Error: fmt.Sprintf("decode endpoint update: %v", err)}
		}
	}

	if update.EndpointURL != "" {
		apiKey := update.APIKey
		if apiKey == "" {
			apiKey = s.endpoints.Config().APIKey
		}
		if err := s.endpoints.Configure(update.EndpointURL, apiKey); err != nil {
			return protocol.EndpointReply{Error: err.Error()}
		}
	}
	if update.SelectedModel != "" {
		if err := s.endpoints.SetModel(update.SelectedModel); err != nil {
			return protocol.EndpointReply{Error: err.Error()}
		}
	}
	if update.Language != "" {
		if err := s.endpoints.SetLanguage(update.Language); err != nil {
			return protocol.EndpointReply{Error: err.Error()}
		}
	}

	cfg := s.endpoints.Config()
	return protocol.EndpointReply{
		EndpointURL:   cfg.EndpointURL,
		HasAPIKey:     cfg.APIKey != "",
		SelectedModel: cfg.SelectedModel,
		Language:      cfg.Language,
	}
}

func (s *Service) scheduleTranscription(sessionID string) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil || state.Inflight {
		s.mu.Unlock()
		return
	}
	pcm := append([]byte(nil), state.Buffer...)
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sessionID)
			s.mu.Unlock()
		}()

		if !s.engine.Status().Initialized {
			ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
			err := s.engine.Initialize(ctx, "")
			cancel()
			if err != nil {
				s.bus.Logger().Warn("engine initialization failed", slogError(err))
			}
		}

		result := s.engine.Transcribe(s.ctx, PCMToFloat32(pcm))
		s.publishTranscript(sessionID, result)
	}()
}

func (s *Service) publishTranscript(sessionID string, result engine.Result) {
	msg := protocol.Transcript{
		SessionID:        sessionID,
		Text:             result.Text,
		Language:         result.Language,
		Confidence:       result.Confidence,
		Engine:           result.Engine,
		ProcessingTimeMS: result.ProcessingTimeMS,
		Timestamp:        time.Now().UTC(),
	}
	msg.Error = result.Err
	data, err := json.Marshal(msg)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscript, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript", slogError(err))
	}

	if s.hist != nil {
		entry := history.Entry{
			SessionID:        sessionID,
			Text:             result.Text,
			Language:         result.Language,
			Confidence:       result.Confidence,
			Engine:           result.Engine,
			ProcessingTimeMS: result.ProcessingTimeMS,
			Error:            msg.Error,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.hist.AppendSession(ctx, sessionID); err != nil {
			s.bus.Logger().Warn("failed to record session", slogError(err))
		}
		if err := s.hist.Append(ctx, entry); err != nil {
			s.bus.Logger().Warn("failed to record transcript", slogError(err))
		}
	}
}

// PCMToFloat32 converts little-endian 16-bit PCM to normalized samples.
func PCMToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(v) / float32(math.MaxInt16+1)
	}
	return samples
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
