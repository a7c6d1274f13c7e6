package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// workerGroup bounds the framing and dispatch work of a network.
//
// Socket reads and writes block in per-connection goroutines and hold no
// worker. A worker slot is taken only while bytes already read are framed and
// the resulting packets dispatched, so at most size such tasks run at once.
// A task that has to wait on another connection's send queue gives its slot
// back for the duration of the wait (see yieldWorker).
type workerGroup struct {
	name  string
	size  int
	sem   *semaphore.Weighted
	busy  atomic.Int32
	tasks atomic.Uint64
}

func newWorkerGroup(name string, size int) *workerGroup {
	return &workerGroup{
		name: name,
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Do runs task on a worker slot, waiting for one to free up. It fails only
// when ctx ends first. The context handed to task carries the slot.
func (w *workerGroup) Do(ctx context.Context, task func(ctx context.Context)) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("worker group %s: %w", w.name, err)
	}
	w.busy.Add(1)
	w.tasks.Add(1)

	s := &workerSlot{group: w, ctx: ctx, held: true}
	defer s.finish()

	task(context.WithValue(ctx, workerSlotKey{}, s))
	return nil
}

// Busy returns the number of running tasks.
func (w *workerGroup) Busy() int {
	return int(w.busy.Load())
}

// Tasks returns the number of tasks run since creation.
func (w *workerGroup) Tasks() uint64 {
	return w.tasks.Load()
}

type workerSlotKey struct{}

// workerSlot is the semaphore unit held by one running task.
type workerSlot struct {
	group *workerGroup
	ctx   context.Context

	mu   sync.Mutex
	held bool
	done bool
}

func (s *workerSlot) release() {
	s.held = false
	s.group.busy.Add(-1)
	s.group.sem.Release(1)
}

// finish returns the slot when the task ends.
func (s *workerSlot) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.held {
		s.release()
	}
}

// yield runs wait without holding the slot and takes it back afterwards. If
// the group context ends first the task carries on without a slot.
func (s *workerSlot) yield(wait func()) {
	s.mu.Lock()
	if s.done || !s.held {
		s.mu.Unlock()
		wait()
		return
	}
	s.release()
	s.mu.Unlock()

	wait()

	err := s.group.sem.Acquire(s.ctx, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		return
	}
	if s.done {
		s.group.sem.Release(1)
		return
	}
	s.held = true
	s.group.busy.Add(1)
}

// yieldWorker runs wait outside the worker slot carried by ctx, if any.
func yieldWorker(ctx context.Context, wait func()) {
	if s, ok := ctx.Value(workerSlotKey{}).(*workerSlot); ok {
		s.yield(wait)
		return
	}
	wait()
}
