package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskHandle is one incarnation of a supervised task. A restart creates a
// new handle; a finished handle is never reused.
type TaskHandle struct {
	id      uuid.UUID
	name    string
	started time.Time
	done    chan struct{}

	mu       sync.RWMutex
	err      error
	finished time.Time
}

// spawn runs fn in a new goroutine. A panic in fn is recovered and
// reported as the handle's error.
func spawn(ctx context.Context, name string, fn func(context.Context) error) *TaskHandle {
	h := &TaskHandle{
		id:      uuid.New(),
		name:    name,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
			h.mu.Lock()
			h.err = err
			h.finished = time.Now()
			h.mu.Unlock()
			close(h.done)
		}()
		err = fn(ctx)
	}()

	return h
}

// ID returns the incarnation id.
func (h *TaskHandle) ID() uuid.UUID { return h.id }

// Name returns the task name.
func (h *TaskHandle) Name() string { return h.name }

// StartedAt returns when the incarnation was spawned.
func (h *TaskHandle) StartedAt() time.Time { return h.started }

// Done is closed when the incarnation returns.
func (h *TaskHandle) Done() <-chan struct{} { return h.done }

// Finished reports whether the incarnation has returned.
func (h *TaskHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the incarnation's result. It is nil until Finished.
func (h *TaskHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// RanFor returns how long the incarnation ran, or has been running.
func (h *TaskHandle) RanFor() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.finished.IsZero() {
		return time.Since(h.started)
	}
	return h.finished.Sub(h.started)
}
