// Package backend owns the lifecycle of the external speech-to-text backend:
// a local child process or a configured remote endpoint.
package backend

import (
	"context"
	"errors"

	"github.com/scribelabs/scribe-core/internal/transport"
)

// State enumerates backend lifecycle states. A failure while Starting returns
// to Uninitialized so a later EnsureReady can retry.
type State int32

const (
	Uninitialized State = iota
	Starting
	Ready
	Busy
	Terminating
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Terminating:
		return "terminating"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Manager brings a backend to Ready and tears it down cleanly. EnsureReady is
// idempotent and safe to call concurrently: one start attempt proceeds, other
// callers wait on it.
type Manager interface {
	EnsureReady(ctx context.Context) (transport.Channel, error)
	State() State
	MarkBusy(busy bool)
	Terminate()
}

var (
	// ErrUnavailable means no usable backend runtime executable was found.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrUnconfigured means the remote endpoint has not been set up.
	ErrUnconfigured = errors.New("backend unconfigured")
	// ErrUnreachable means the configured remote endpoint did not answer a probe.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrStartTimeout means the backend process exists but never became responsive.
	ErrStartTimeout = errors.New("backend start timeout")
)
