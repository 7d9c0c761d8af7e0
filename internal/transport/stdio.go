package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
)

const maxLineBytes = 8 << 20

// StdioChannel speaks line-delimited JSON over a child process's standard
// streams. Requests carry an explicit id; responses are matched by id when the
// backend echoes it and fall back to oldest-pending order when it does not.
// A caller that stops waiting leaves its slot marked abandoned so the late
// response is consumed and dropped instead of being delivered to the next call.
type StdioChannel struct {
	w   *bufio.Writer
	wmu sync.Mutex
	log *slog.Logger

	mu      sync.Mutex
	pending []*pendingCall
	closed  bool
	readErr error

	nextID atomic.Uint64
	done   chan struct{}
}

type pendingCall struct {
	id        string
	ch        chan stdioResult
	abandoned bool
}

type stdioResult struct {
	resp Response
	err  error
}

func NewStdioChannel(w io.Writer, r io.Reader, log *slog.Logger) *StdioChannel {
	c := &StdioChannel{
		w:    bufio.NewWriter(w),
		log:  log.With(slog.String("component", "stdio-channel")),
		done: make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *StdioChannel) Send(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = strconv.FormatUint(c.nextID.Add(1), 10)
	}

	call := &pendingCall{id: req.ID, ch: make(chan stdioResult, 1)}

	c.mu.Lock()
	if c.closed {
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrChannelClosed
		}
		return Response{}, err
	}
	c.pending = append(c.pending, call)
	c.mu.Unlock()

	if err := c.write(req); err != nil {
		c.remove(call)
		return Response{}, err
	}

	select {
	case res := <-call.ch:
		return res.resp, res.err
	case <-ctx.Done():
		c.abandon(call)
		return Response{}, ctx.Err()
	case <-c.done:
		c.remove(call)
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = ErrChannelClosed
		}
		return Response{}, err
	}
}

// Close fails all in-flight calls. The owning lifecycle manager remains
// responsible for closing the underlying pipes.
func (c *StdioChannel) Close() error {
	c.fail(ErrChannelClosed)
	return nil
}

func (c *StdioChannel) write(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush request: %w", err)
	}
	return nil
}

func (c *StdioChannel) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			raw := append([]byte(nil), line...)
			c.deliver("", stdioResult{err: &ProtocolError{Raw: raw, Err: err}})
			continue
		}
		c.deliver(resp.ID, stdioResult{resp: resp})
	}

	err := scanner.Err()
	if err == nil {
		err = ErrChannelClosed
	}
	c.fail(err)
}

// deliver hands a result to the matching pending call, or the oldest one when
// the backend did not echo an id. Abandoned slots swallow the result.
func (c *StdioChannel) deliver(id string, res stdioResult) {
	c.mu.Lock()
	var call *pendingCall
	idx := -1
	if id != "" {
		for i, p := range c.pending {
			if p.id == id {
				call, idx = p, i
				break
			}
		}
	}
	if call == nil && len(c.pending) > 0 {
		call, idx = c.pending[0], 0
	}
	if idx >= 0 {
		c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
	}
	abandoned := call != nil && call.abandoned
	c.mu.Unlock()

	if call == nil {
		c.log.Warn("response with no pending request", slog.String("id", id))
		return
	}
	if abandoned {
		c.log.Debug("discarding late response", slog.String("id", call.id))
		return
	}
	call.ch <- res
}

func (c *StdioChannel) abandon(call *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p == call {
			p.abandoned = true
			return
		}
	}
}

func (c *StdioChannel) remove(call *pendingCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p == call {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

func (c *StdioChannel) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.readErr = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	close(c.done)
	for _, p := range pending {
		if !p.abandoned {
			p.ch <- stdioResult{err: err}
		}
	}
}
