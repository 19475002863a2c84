// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tombee/toolbridge/internal/lifecycle"
	tblog "github.com/tombee/toolbridge/internal/log"
)

const (
	// stderrTailSize bounds the stderr kept for error messages.
	stderrTailSize = 4096

	// lineQueueSize is how many unread stdout lines are buffered.
	lineQueueSize = 64

	// exitProbeDelay is how long an EOF or exit waits for the other signal
	// before the failure is classified.
	exitProbeDelay = 200 * time.Millisecond

	// maxLineEcho bounds how much of a bad line is quoted in errors.
	maxLineEcho = 200
)

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

// Write implements io.Writer.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.size; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns the retained tail.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// conn is one live tool server process. Calls on a conn are serialized by
// slot; lines from stdout arrive on lines in order.
type conn struct {
	serverID string
	cmd      *exec.Cmd
	pid      int
	stdin    io.WriteCloser

	// lines carries stdout lines; closed on EOF or read error
	lines   chan []byte
	readErr error

	// stderr keeps the tail of the error stream
	stderr *tailBuffer

	// exited is closed once the process has been reaped
	exited  chan struct{}
	waitErr error

	// done is closed when the conn is being torn down
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// slot is a single-permit semaphore serializing exchanges
	slot chan struct{}

	nextID    atomic.Int64
	startedAt time.Time
	logger    *slog.Logger

	// wire traces raw traffic when set
	wire *WireTracer
}

// spawn starts the server process for def. stdout and stderr use plain
// pipes so that reaping the process never closes them under a reader.
func spawn(def *ServerDefinition, logger *slog.Logger, wire *WireTracer) (*conn, error) {
	cmd := exec.Command(def.Command[0], def.Command[1:]...)
	cmd.Dir = def.Dir
	cmd.Env = append(os.Environ(), def.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()

	c := &conn{
		serverID:  def.ID,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		stdin:     stdin,
		lines:     make(chan []byte, lineQueueSize),
		stderr:    newTailBuffer(stderrTailSize),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
		slot:      make(chan struct{}, 1),
		startedAt: time.Now(),
		logger:    tblog.WithServer(logger, def.ID).With("pid", cmd.Process.Pid),
		wire:      wire,
	}

	go c.readLoop(stdoutR)
	go c.drainStderr(stderrR)
	go c.reap()

	return c, nil
}

// readLoop forwards complete stdout lines to c.lines. Blank lines are skipped.
func (c *conn) readLoop(r io.ReadCloser) {
	defer r.Close()
	defer close(c.lines)

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			c.wire.Trace(c.serverID, DirectionRecv, trimmed)
			select {
			case c.lines <- trimmed:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.readErr = err
			}
			return
		}
	}
}

// drainStderr keeps the stream flowing so the child never blocks on it.
func (c *conn) drainStderr(r io.ReadCloser) {
	defer r.Close()
	_, _ = io.Copy(c.stderr, r)
}

// reap waits for the process and records its exit.
func (c *conn) reap() {
	c.waitErr = c.cmd.Wait()
	close(c.exited)
	c.logger.Debug("tool server process exited", tblog.Error(c.waitErr))
}

// alive reports whether the process has not been reaped and the conn is open.
func (c *conn) alive() bool {
	select {
	case <-c.exited:
		return false
	case <-c.done:
		return false
	default:
		return true
	}
}

// stderrTail returns the most recent stderr output, trimmed.
func (c *conn) stderrTail() string {
	return strings.TrimSpace(c.stderr.String())
}

// exitDescription describes how the process ended, if it has.
func (c *conn) exitDescription() string {
	select {
	case <-c.exited:
	default:
		return "process still running"
	}
	if c.waitErr != nil {
		return c.waitErr.Error()
	}
	return "exit status 0"
}

// writeLine writes one complete line to the server's stdin.
func (c *conn) writeLine(line []byte) error {
	c.wire.Trace(c.serverID, DirectionSend, line)
	_, err := c.stdin.Write(line)
	return err
}

// notify sends a notification, which has no id and gets no response.
func (c *conn) notify(method string, params json.RawMessage) error {
	line, err := encodeRequest(method, params, nil)
	if err != nil {
		return err
	}
	return c.writeLine(line)
}

// exchange performs exactly one request/response cycle. The whole exchange,
// including waiting for the slot, is bounded by timeout.
//
// When strict is false, server notifications and responses whose id is lower
// than the request id are discarded; those belong to calls that already gave
// up. When strict is true the first line must be the response.
func (c *conn) exchange(ctx context.Context, method string, params json.RawMessage, timeout time.Duration, strict bool) (*response, int64, *CallError) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case c.slot <- struct{}{}:
	case <-deadline.C:
		return nil, 0, c.timeoutError(0, method, timeout)
	case <-ctx.Done():
		return nil, 0, c.contextError(ctx, 0, method, timeout)
	case <-c.done:
		return nil, 0, newCallError(KindConnection, 0, "connection to tool server '%s' closed", c.serverID)
	}
	defer func() { <-c.slot }()

	id := c.nextID.Add(1)
	line, err := encodeRequest(method, params, &id)
	if err != nil {
		return nil, id, newCallError(KindInvalidParams, id, "failed to encode %s request: %v", method, err)
	}
	if err := c.writeLine(line); err != nil {
		ce := newCallError(KindConnection, id, "connection error: failed to write %s request to tool server '%s': %v", method, c.serverID, err)
		ce.Cause = err
		return nil, id, ce
	}

	exited := c.exited
	var exitGrace <-chan time.Time

	for {
		select {
		case raw, ok := <-c.lines:
			if !ok {
				return nil, id, c.eofError(id)
			}
			resp, err := decodeResponse(raw)
			if err != nil {
				return nil, id, newCallError(KindParse, id, "parse error: invalid JSON from tool server '%s': %v: %s", c.serverID, err, truncate(raw))
			}
			if resp.isNotification() && !strict {
				c.logger.Debug("skipping server notification", tblog.MethodKey, resp.Method)
				continue
			}
			rid, hasID := resp.numericID()
			if !hasID {
				if resp.Error != nil && resp.Method == "" {
					// Servers answer unparseable requests with a null id.
					return resp, id, nil
				}
				return nil, id, newCallError(KindProtocol, id, "protocol error: response from tool server '%s' has no usable id (expected %d)", c.serverID, id)
			}
			if rid < id && !strict {
				c.logger.Debug("discarding late response", "response_id", rid, "request_id", id)
				continue
			}
			if rid != id {
				return nil, id, newCallError(KindProtocol, id, "protocol error: response id %d does not match request id %d", rid, id)
			}
			return resp, id, nil

		case <-exited:
			// Let buffered output drain before calling it a crash.
			exited = nil
			exitGrace = time.After(exitProbeDelay)

		case <-exitGrace:
			return nil, id, c.terminatedError(id)

		case <-deadline.C:
			return nil, id, c.timeoutError(id, method, timeout)

		case <-ctx.Done():
			return nil, id, c.contextError(ctx, id, method, timeout)

		case <-c.done:
			return nil, id, newCallError(KindConnection, id, "connection to tool server '%s' closed", c.serverID)
		}
	}
}

// eofError classifies a closed stdout: a reaped process is a termination,
// a live one sent an empty response.
func (c *conn) eofError(id int64) *CallError {
	if c.readErr != nil {
		ce := newCallError(KindConnection, id, "connection error: reading from tool server '%s': %v", c.serverID, c.readErr)
		ce.Cause = c.readErr
		return ce
	}

	timer := time.NewTimer(exitProbeDelay)
	defer timer.Stop()
	select {
	case <-c.exited:
		return c.terminatedError(id)
	case <-timer.C:
		return newCallError(KindEmptyResponse, id, "empty response: tool server '%s' closed its output but is still running", c.serverID)
	}
}

func (c *conn) terminatedError(id int64) *CallError {
	return newCallError(KindServerTerminated, id, "server terminated: tool server '%s' exited (%s)", c.serverID, c.exitDescription())
}

func (c *conn) timeoutError(id int64, method string, timeout time.Duration) *CallError {
	ce := newCallError(KindTimeout, id, "timeout: no response from tool server '%s' to %s within %s", c.serverID, method, timeout)
	ce.Cause = context.DeadlineExceeded
	return ce
}

func (c *conn) contextError(ctx context.Context, id int64, method string, timeout time.Duration) *CallError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return c.timeoutError(id, method, timeout)
	}
	ce := newCallError(KindConnection, id, "connection error: %s call to tool server '%s' canceled", method, c.serverID)
	ce.Cause = ctx.Err()
	return ce
}

// close tears the process down: stdin is closed, then SIGTERM, then SIGKILL
// after grace. Safe to call more than once.
func (c *conn) close(ctx context.Context, grace time.Duration) error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.stdin.Close()
		c.closeErr = lifecycle.GracefulShutdown(ctx, c.pid, c.exited, grace)
		if c.closeErr != nil {
			c.logger.Warn("tool server did not shut down cleanly", tblog.Error(c.closeErr))
		}
	})
	return c.closeErr
}

func truncate(b []byte) string {
	if len(b) <= maxLineEcho {
		return string(b)
	}
	return string(b[:maxLineEcho]) + "..."
}
