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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")
)

// killWait bounds the wait after SIGKILL.
const killWait = 2 * time.Second

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// SignalGroup sends sig to the process group led by pid, falling back to
// the process itself when it does not lead a group.
func SignalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrProcessNotRunning
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	if err := syscall.Kill(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return ErrProcessNotRunning
		}
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}
	return nil
}

// WaitForExit blocks until exited is closed, the timeout elapses or ctx is done.
// Returns ErrShutdownTimeout if the process is still running when it gives up.
func WaitForExit(ctx context.Context, exited <-chan struct{}, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ErrShutdownTimeout
	}
}

// GracefulShutdown sends SIGTERM to the process group and waits up to grace
// for exited to close, then sends SIGKILL. exited must be closed by whoever
// reaps the process.
func GracefulShutdown(ctx context.Context, pid int, exited <-chan struct{}, grace time.Duration) error {
	select {
	case <-exited:
		return nil
	default:
	}

	if err := SignalGroup(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	if err := WaitForExit(ctx, exited, grace); err == nil {
		return nil
	}

	if err := SignalGroup(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	// The kill wait ignores ctx so the process is always reaped.
	if err := WaitForExit(context.Background(), exited, killWait); err != nil {
		return fmt.Errorf("process %d did not die after SIGKILL: %w", pid, err)
	}
	return nil
}
