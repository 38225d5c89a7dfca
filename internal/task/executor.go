package task

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grishkovelli/phonewatch/internal/adapter"
	"github.com/grishkovelli/phonewatch/internal/metrics"
	"github.com/grishkovelli/phonewatch/internal/numstream"
	"github.com/grishkovelli/phonewatch/internal/probe"
	"github.com/grishkovelli/phonewatch/internal/proxypool"
)

// sinkRoot is the base directory sink files are lazily created under:
// ./over/<site-alias>/{ok,ok2,not_ok,unknown}/<yyyy_mm_dd>/<HH_MM_SS>.txt.
const sinkRoot = "./over"

// progressFloor is the lower bound of the "every max(N, 25)" write cadence.
const progressFloor = 25

// overrunGuard is how far processed may exceed total before the executor
// forces AutoStopped.
const overrunGuard = 10

type sinkFiles struct {
	ok, ok2, notOK, unknown *os.File
}

// Executor runs one AtomicTask's probe workers to completion.
type Executor struct {
	Task       AtomicTask
	SiteAlias  string
	SinkRoot   string // defaults to sinkRoot
	Site       adapter.Adapter
	Pool       *proxypool.Pool
	Numbers    *numstream.Stream
	Protocol   proxypool.Protocol
	Workers    int // concurrent probe sockets
	ProbeCfg   probe.Config
	Sink       ProgressSink
	Now        func() time.Time // overridable for tests; defaults to time.Now

	mu        sync.Mutex
	processed uint32
	counts    Counts
	ipUsed    uint32

	files sinkFiles

	cancel       context.CancelFunc
	autoStopOnce sync.Once
	operatorOnce sync.Once
	autoStopped  bool
	operatorStop bool
	savingOnStop bool
}

// Stop requests the executor halt, optionally checkpointing remaining
// numbers.
func (e *Executor) Stop(saving bool) {
	e.operatorOnce.Do(func() {
		e.mu.Lock()
		e.operatorStop = true
		e.savingOnStop = saving
		e.mu.Unlock()
		if e.cancel != nil {
			e.cancel()
		}
	})
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run opens the task's sink files, runs Workers probe.Worker goroutines
// against Numbers until drained or stopped, and reports the terminal
// status. A non-nil error means the sink files could not be opened or the
// Sink call that records the terminal status failed; every other failure
// mode is reported through the Sink, not the return value.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.openSinks(); err != nil {
		e.Sink.PersistErred(ErredTaskRow{TaskID: e.Task.TaskID, Reason: err.Error()})
		return err
	}
	defer e.closeSinks()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	n := e.Workers
	if n < 1 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		w := &probe.Worker{
			ID:         i,
			Pool:       e.Pool,
			Numbers:    e.Numbers,
			Site:       e.Site,
			Protocol:   e.Protocol,
			Cfg:        e.ProbeCfg,
			OnClassify: e.onClassify,
			OnStop:     e.onRequestStop,
		}
		go func() {
			defer wg.Done()
			w.Run(runCtx)
		}()
	}
	wg.Wait()

	return e.finish()
}

func (e *Executor) onClassify(c probe.Classification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.processed++
	e.ipUsed = uint32(e.Pool.TotalUsed())
	metrics.RecordClassification(e.SiteAlias, c.Outcome.Kind.String())

	switch c.Outcome.Kind {
	case adapter.NotRegistered:
		e.counts.OK++
		writeLine(e.files.ok, c.Number)
	case adapter.Registered:
		e.counts.NotOK++
		writeLine(e.files.notOK, c.Number)
	default:
		e.counts.Unknown++
		writeLine(e.files.unknown, c.Number)
	}
	if c.Outcome.Aux {
		writeLine(e.files.ok2, c.Number)
	}

	if e.processed > e.Task.Total+overrunGuard {
		e.triggerAutoStop()
	}

	cadence := n(e.Workers)
	if cadence < progressFloor {
		cadence = progressFloor
	}
	if e.processed%uint32(cadence) == 0 {
		e.Sink.WriteProgress(e.Task.TaskID, e.processed, e.ipUsed, Ongoing)
	}
}

func n(workers int) int {
	if workers < 1 {
		return 1
	}
	return workers
}

func (e *Executor) onRequestStop() {
	e.triggerAutoStop()
}

func (e *Executor) triggerAutoStop() {
	e.autoStopOnce.Do(func() {
		e.mu.Lock()
		e.autoStopped = true
		e.mu.Unlock()
		if e.cancel != nil {
			e.cancel()
		}
	})
}

// finish determines the terminal status
// and persists the corresponding row.
func (e *Executor) finish() error {
	e.mu.Lock()
	autoStopped := e.autoStopped
	operatorStop := e.operatorStop
	saving := e.savingOnStop
	processed := e.processed
	e.mu.Unlock()

	switch {
	case autoStopped:
		return e.Sink.WriteProgress(e.Task.TaskID, processed, e.ipUsed, AutoStopped)

	case operatorStop && saving:
		remaining := e.Numbers.Dump()
		path, err := writeCheckpoint(remaining)
		if err != nil {
			return e.Sink.PersistErred(ErredTaskRow{TaskID: e.Task.TaskID, Reason: err.Error()})
		}
		if err := e.Sink.PersistStopped(StoppedTaskRow{
			TaskID:         e.Task.TaskID,
			CheckpointPath: path,
			Files:          e.Task.Files,
		}); err != nil {
			return err
		}
		os.Remove(e.Task.Files.Input)
		return nil

	case operatorStop:
		return e.Sink.WriteProgress(e.Task.TaskID, processed, e.ipUsed, Stopped)

	case e.Numbers.Empty():
		if err := e.Sink.PersistCompleted(e.Task.TaskID); err != nil {
			dumpErredSaving(e.Numbers.Dump())
			return err
		}
		os.Remove(e.Task.Files.Input)
		return nil

	default:
		return e.Sink.PersistErred(ErredTaskRow{TaskID: e.Task.TaskID, Reason: "worker loop exited without draining the stream"})
	}
}

func writeLine(f *os.File, s string) {
	if f == nil {
		return
	}
	fmt.Fprintln(f, s)
}

func (e *Executor) openSinks() error {
	day := e.now().Format("2006_01_02")
	clock := e.now().Format("15_04_05")

	root := e.SinkRoot
	if root == "" {
		root = sinkRoot
	}

	open := func(kind string) (*os.File, error) {
		dir := filepath.Join(root, e.SiteAlias, kind, day)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("task: create sink dir %s: %w", dir, err)
		}
		path := filepath.Join(dir, clock+".txt")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("task: open sink %s: %w", path, err)
		}
		return f, nil
	}

	var err error
	if e.files.ok, err = open("ok"); err != nil {
		return err
	}
	if e.files.ok2, err = open("ok2"); err != nil {
		return err
	}
	if e.files.notOK, err = open("not_ok"); err != nil {
		return err
	}
	if e.files.unknown, err = open("unknown"); err != nil {
		return err
	}
	e.Task.Files.OK = e.files.ok.Name()
	e.Task.Files.OK2 = e.files.ok2.Name()
	e.Task.Files.NotOK = e.files.notOK.Name()
	e.Task.Files.Unknown = e.files.unknown.Name()
	return nil
}

func (e *Executor) closeSinks() {
	for _, f := range []*os.File{e.files.ok, e.files.ok2, e.files.notOK, e.files.unknown} {
		if f != nil {
			f.Close()
		}
	}
}

// writeCheckpoint writes numbers to a freshly named file under
// ./stopped_files.
func writeCheckpoint(numbers []string) (string, error) {
	dir := "./stopped_files"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, checkpointName())

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, n := range numbers {
		fmt.Fprintln(w, n)
	}
	return path, w.Flush()
}

// dumpErredSaving is the last-resort recovery path when a Completed task's
// progress write fails: remaining numbers go to ./erred_saving.txt.
func dumpErredSaving(numbers []string) {
	f, err := os.OpenFile("./erred_saving.txt", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, nline := range numbers {
		fmt.Fprintln(w, nline)
	}
	w.Flush()
}
