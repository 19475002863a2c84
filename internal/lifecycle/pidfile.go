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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrAlreadyRunning is returned when the PID file names a live process.
	ErrAlreadyRunning = errors.New("another toolbridge server is already running")

	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")

	// ErrUnsafeDirectory is returned when the PID file parent is world-writable.
	ErrUnsafeDirectory = errors.New("PID file directory is world-writable")
)

// PIDFile guards a long-running toolbridge server against a second
// instance. The file is created with O_EXCL and held under flock until
// Release.
type PIDFile struct {
	path string
	file *os.File
}

// NewPIDFile returns a PID file at path. Nothing is written until Acquire.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire writes pid to the file. A file left behind by a dead process is
// replaced; one naming a live process returns ErrAlreadyRunning.
func (p *PIDFile) Acquire(pid int) error {
	dir := filepath.Dir(p.path)
	if err := verifyDirectorySafety(dir); err != nil {
		return fmt.Errorf("unsafe PID file location: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	err := p.create(pid)
	if !errors.Is(err, os.ErrExist) {
		return err
	}

	existing, readErr := ReadPIDFile(p.path)
	if readErr == nil && IsProcessRunning(existing) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, existing)
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale PID file: %w", err)
	}
	return p.create(pid)
}

func (p *PIDFile) create(pid int) error {
	// O_EXCL refuses to follow a planted symlink.
	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		os.Remove(p.path)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("failed to lock PID file: %w", err)
	}

	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		f.Close()
		os.Remove(p.path)
		return fmt.Errorf("failed to write PID: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(p.path)
		return fmt.Errorf("failed to sync PID file: %w", err)
	}

	p.file = f
	return nil
}

// Release unlocks and removes the file. Safe to call when not acquired.
func (p *PIDFile) Release() error {
	if p.file == nil {
		return nil
	}
	_ = syscall.Flock(int(p.file.Fd()), syscall.LOCK_UN)
	p.file.Close()
	p.file = nil

	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// ReadPIDFile parses the PID stored at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPID, raw)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// verifyDirectorySafety rejects world-writable directories, where another
// user could swap the file out.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if mode := info.Mode(); mode&0002 != 0 && mode&os.ModeSticky == 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}
	return nil
}
