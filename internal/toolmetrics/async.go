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


package toolmetrics

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the default number of calls an AsyncObserver queues.
const DefaultBufferSize = 1024

// AsyncConfig configures an AsyncObserver.
type AsyncConfig struct {
	// BufferSize bounds the queue (defaults to DefaultBufferSize)
	BufferSize int

	// Logger reports dropped calls (optional)
	Logger *slog.Logger
}

type observation struct {
	rec    CallRecord
	health ToolHealth
}

// AsyncObserver hands finalized calls to a slow observer, such as a
// SQLiteStore, on a background goroutine. When the queue is full the call
// is dropped and counted rather than blocking EndCall.
type AsyncObserver struct {
	next   Observer
	logger *slog.Logger

	buffer  chan observation
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ Observer = (*AsyncObserver)(nil)

// NewAsyncObserver starts the writer goroutine for next.
func NewAsyncObserver(next Observer, cfg AsyncConfig) *AsyncObserver {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &AsyncObserver{
		next:   next,
		logger: logger,
		buffer: make(chan observation, size),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writeLoop()
	return a
}

// ObserveCall queues the call without blocking.
func (a *AsyncObserver) ObserveCall(rec CallRecord, health ToolHealth) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}

	select {
	case a.buffer <- observation{rec: rec, health: health}:
	default:
		if a.dropped.Add(1) == 1 {
			a.logger.Warn("call history buffer full, dropping records", "call_id", rec.CallID)
		}
	}
}

// Dropped returns how many calls were not delivered.
func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting calls and waits until every queued call has been
// delivered. Safe to call more than once.
func (a *AsyncObserver) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.done)
		a.wg.Wait()

		if n := a.dropped.Load(); n > 0 {
			a.logger.Warn("call history records dropped", "count", n)
		}
	})
	return nil
}

func (a *AsyncObserver) writeLoop() {
	defer a.wg.Done()

	for {
		select {
		case o := <-a.buffer:
			a.next.ObserveCall(o.rec, o.health)
		case <-a.done:
			for {
				select {
				case o := <-a.buffer:
					a.next.ObserveCall(o.rec, o.health)
				default:
					return
				}
			}
		}
	}
}
