package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/grishkovelli/phonewatch/internal/numstream"
)

// UploadResolver locates the on-disk path of one previously uploaded
// number file by id, so a Fresh task's input can be concatenated into one
// temp file.
type UploadResolver interface {
	UploadPath(id uint32) (string, error)
}

// Builder assembles everything an Executor needs to run one AtomicTask
// (pool, adapter, worker count, probe config); the scheduler stays
// agnostic of how those are wired per website, the same way probe.Worker
// stays agnostic of transport selection details.
type Builder func(AtomicTask) (*Executor, error)

// Scheduler consumes AtomicTasks from a thread-safe FIFO and runs exactly
// one at a time through a single executor goroutine.
type Scheduler struct {
	build   Builder
	uploads UploadResolver
	sink    ProgressSink

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []AtomicTask
	closed bool

	cmu       sync.Mutex
	current   *Executor
	currentID uint32
}

// NewScheduler builds a Scheduler. build constructs an Executor (minus its
// Numbers stream, which the scheduler opens itself) for one
// dequeued task.
func NewScheduler(sink ProgressSink, uploads UploadResolver, build Builder) *Scheduler {
	s := &Scheduler{sink: sink, uploads: uploads, build: build}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue appends t to the FIFO.
func (s *Scheduler) Enqueue(t AtomicTask) {
	s.mu.Lock()
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	s.cond.Signal()
}

// Close stops Run from blocking for further tasks once the queue drains.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Scheduler) dequeue() (AtomicTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return AtomicTask{}, false
	}
	t := s.queue[0]
	s.queue = s.queue[1:]
	return t, true
}

// Run drives the single executor loop until ctx is cancelled or Close is
// called with an empty queue.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.Close()
		close(done)
	}()

	for {
		t, ok := s.dequeue()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.dispatch(ctx, t)
	}
}

// dispatch routes the Fresh/Resumed(file)/Resumed(free) branches
// and runs the resulting Executor to completion.
func (s *Scheduler) dispatch(ctx context.Context, t AtomicTask) {
	switch {
	case t.Kind == Fresh:
		path, err := s.materializeInput(t.NumberIDs)
		if err != nil {
			s.sink.PersistErred(ErredTaskRow{TaskID: t.TaskID, Reason: err.Error()})
			return
		}
		t.Files.Input = path

	case t.Kind == Resumed && t.CheckpointPath != "":
		t.Files.Input = t.CheckpointPath

	case t.Kind == Resumed && t.Free:
		path, err := s.materializeInput(t.NumberIDs)
		if err != nil {
			s.sink.PersistErred(ErredTaskRow{TaskID: t.TaskID, Reason: err.Error()})
			return
		}
		t.Files.Input = path
	}

	numbers, err := numstream.Open(t.Files.Input)
	if err != nil {
		s.sink.PersistErred(ErredTaskRow{TaskID: t.TaskID, Reason: err.Error()})
		return
	}
	defer numbers.Close()

	ex, err := s.build(t)
	if err != nil {
		s.sink.PersistErred(ErredTaskRow{TaskID: t.TaskID, Reason: err.Error()})
		return
	}
	ex.Task = t
	ex.Numbers = numbers
	if ex.Sink == nil {
		ex.Sink = s.sink
	}

	s.setCurrent(t.TaskID, ex)
	defer s.clearCurrent()

	if err := ex.Run(ctx); err != nil {
		s.sink.PersistErred(ErredTaskRow{TaskID: t.TaskID, Reason: err.Error()})
	}
}

func (s *Scheduler) setCurrent(taskID uint32, ex *Executor) {
	s.cmu.Lock()
	s.current = ex
	s.currentID = taskID
	s.cmu.Unlock()
}

func (s *Scheduler) clearCurrent() {
	s.cmu.Lock()
	s.current = nil
	s.currentID = 0
	s.cmu.Unlock()
}

// CurrentTaskID reports the id of the task presently assigned to the single
// executor goroutine, for dashboards/status endpoints that only need to
// know "what's running", not the full Executor.
func (s *Scheduler) CurrentTaskID() (uint32, bool) {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.current == nil {
		return 0, false
	}
	return s.currentID, true
}

// Stop requests the currently running task (if its id matches) halt,
// reports false if no task with that id is running.
func (s *Scheduler) Stop(taskID uint32, saving bool) bool {
	s.cmu.Lock()
	defer s.cmu.Unlock()
	if s.current == nil || s.currentID != taskID {
		return false
	}
	s.current.Stop(saving)
	return true
}

// materializeInput concatenates the uploaded files named by ids into one
// temp file, failing if the result is empty.
func (s *Scheduler) materializeInput(ids []uint32) (string, error) {
	dst, err := os.CreateTemp("", "phonewatch-input-*.txt")
	if err != nil {
		return "", fmt.Errorf("task: create input file: %w", err)
	}
	defer dst.Close()

	var total int64
	for _, id := range ids {
		path, err := s.uploads.UploadPath(id)
		if err != nil {
			return "", fmt.Errorf("task: resolve upload %d: %w", id, err)
		}
		src, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("task: open upload %d: %w", id, err)
		}
		n, err := io.Copy(dst, src)
		src.Close()
		if err != nil {
			return "", fmt.Errorf("task: copy upload %d: %w", id, err)
		}
		total += n
	}
	if total == 0 {
		os.Remove(dst.Name())
		return "", fmt.Errorf("task: input materialized from %v is empty", ids)
	}
	return dst.Name(), nil
}
