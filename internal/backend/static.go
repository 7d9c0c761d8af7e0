package backend

import (
	"context"
	"sync/atomic"

	"github.com/scribelabs/scribe-core/internal/transport"
)

// Static wraps a fixed channel, used for mock mode and tests.
type Static struct {
	channel transport.Channel
	state   atomic.Int32
}

func NewStatic(channel transport.Channel) *Static {
	return &Static{channel: channel}
}

func (s *Static) EnsureReady(_ context.Context) (transport.Channel, error) {
	s.state.CompareAndSwap(int32(Uninitialized), int32(Ready))
	s.state.CompareAndSwap(int32(Terminated), int32(Ready))
	return s.channel, nil
}

func (s *Static) State() State {
	return State(s.state.Load())
}

func (s *Static) MarkBusy(busy bool) {
	if busy {
		s.state.CompareAndSwap(int32(Ready), int32(Busy))
	} else {
		s.state.CompareAndSwap(int32(Busy), int32(Ready))
	}
}

func (s *Static) Terminate() {
	_ = s.channel.Close()
	s.state.Store(int32(Terminated))
}
