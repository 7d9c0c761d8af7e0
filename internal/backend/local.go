package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/scribelabs/scribe-core/internal/config"
	"github.com/scribelabs/scribe-core/internal/transport"
)

// Local supervises a child-process backend speaking line-delimited JSON over
// its standard streams.
type Local struct {
	cfg   config.EngineConfig
	log   *slog.Logger
	state atomic.Int32

	mu      sync.Mutex
	cmd     *exec.Cmd
	channel *transport.StdioChannel
	waitErr chan error
}

func NewLocal(cfg config.EngineConfig, log *slog.Logger) *Local {
	return &Local{
		cfg: cfg,
		log: log.With(slog.String("component", "local-backend")),
	}
}

func (l *Local) State() State {
	return State(l.state.Load())
}

func (l *Local) MarkBusy(busy bool) {
	if busy {
		l.state.CompareAndSwap(int32(Ready), int32(Busy))
	} else {
		l.state.CompareAndSwap(int32(Busy), int32(Ready))
	}
}

func (l *Local) EnsureReady(ctx context.Context) (transport.Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case Ready, Busy:
		return l.channel, nil
	}

	l.state.Store(int32(Starting))
	channel, err := l.start(ctx)
	if err != nil {
		l.state.Store(int32(Uninitialized))
		return nil, err
	}
	l.channel = channel
	l.state.Store(int32(Ready))
	return channel, nil
}

func (l *Local) start(ctx context.Context) (*transport.StdioChannel, error) {
	args, err := l.locateRuntime(ctx)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrUnavailable, args[0], err)
	}
	l.log.Info("backend process started", slog.String("command", args[0]), slog.Int("pid", cmd.Process.Pid))

	go l.forwardStderr(stderr)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	channel := transport.NewStdioChannel(stdin, stdout, l.log)

	grace := time.Duration(l.cfg.StartupGraceMS) * time.Millisecond
	pingCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	resp, err := channel.Send(pingCtx, transport.Request{Action: transport.ActionPing})
	if err != nil || !resp.Pong {
		_ = channel.Close()
		_ = cmd.Process.Kill()
		<-waitErr
		if err == nil {
			err = fmt.Errorf("unexpected ping reply")
		}
		return nil, fmt.Errorf("%w: %v", ErrStartTimeout, err)
	}

	l.cmd = cmd
	l.waitErr = waitErr
	return channel, nil
}

// locateRuntime resolves the backend command: an explicit configured command
// wins, otherwise the first probe candidate that answers a version check.
func (l *Local) locateRuntime(ctx context.Context) ([]string, error) {
	if l.cfg.Command != "" {
		parser := shellwords.NewParser()
		args, err := parser.Parse(l.cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse engine command: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("engine command is empty")
		}
		return args, nil
	}

	for _, candidate := range l.cfg.Candidates {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := exec.CommandContext(probeCtx, candidate, "--version").Run()
		cancel()
		if err == nil {
			l.log.Info("backend runtime located", slog.String("command", candidate))
			return []string{candidate}, nil
		}
		l.log.Debug("backend candidate rejected", slog.String("command", candidate), slog.String("error", err.Error()))
	}
	return nil, fmt.Errorf("%w: no candidate responded to a version check", ErrUnavailable)
}

// forwardStderr surfaces backend diagnostics without ever blocking a caller.
func (l *Local) forwardStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		l.log.Debug("backend stderr", slog.String("line", scanner.Text()))
	}
}

func (l *Local) Terminate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cmd := l.cmd
	if cmd == nil {
		l.state.Store(int32(Terminated))
		return
	}
	l.state.Store(int32(Terminating))

	if l.channel != nil {
		_ = l.channel.Close()
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)
	grace := time.Duration(l.cfg.StopGraceMS) * time.Millisecond
	select {
	case <-l.waitErr:
	case <-time.After(grace):
		l.log.Warn("backend did not exit in time, killing", slog.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-l.waitErr
	}

	l.cmd = nil
	l.channel = nil
	l.state.Store(int32(Terminated))
	l.log.Info("backend process terminated")
}
