package store

import (
	"sync"

	"github.com/grishkovelli/phonewatch/internal/task"
)

// memoryStore is a plain map+mutex Store for tests, shaped like the
// redis-backed Store so either can be swapped in behind New without
// changing callers.
type memoryStore struct {
	mu sync.Mutex

	tasks    map[uint32]TaskRow
	stopped  map[uint32]task.StoppedTaskRow
	erred    map[uint32]task.ErredTaskRow
	websites map[uint32]Website
	uploads  map[uint32]string
}

// NewMemory constructs an in-memory Store.
func NewMemory() Store {
	return &memoryStore{
		tasks:    make(map[uint32]TaskRow),
		stopped:  make(map[uint32]task.StoppedTaskRow),
		erred:    make(map[uint32]task.ErredTaskRow),
		websites: make(map[uint32]Website),
		uploads:  make(map[uint32]string),
	}
}

func (m *memoryStore) WriteProgress(taskID uint32, processed, ipUsed uint32, status task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.tasks[taskID]
	row.TaskID = taskID
	row.Processed = processed
	row.IPUsed = ipUsed
	row.Status = status
	m.tasks[taskID] = row
	return nil
}

func (m *memoryStore) PersistStopped(row task.StoppedTaskRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped[row.TaskID] = row
	t := m.tasks[row.TaskID]
	t.TaskID = row.TaskID
	t.Status = task.Stopped
	m.tasks[row.TaskID] = t
	return nil
}

func (m *memoryStore) PersistErred(row task.ErredTaskRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.erred[row.TaskID] = row
	t := m.tasks[row.TaskID]
	t.TaskID = row.TaskID
	t.Status = task.Erred
	m.tasks[row.TaskID] = t
	return nil
}

func (m *memoryStore) PersistCompleted(taskID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.tasks[taskID]
	row.TaskID = taskID
	row.Status = task.TaskCompleted
	m.tasks[taskID] = row
	return nil
}

func (m *memoryStore) UploadPath(id uint32) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.uploads[id]
	if !ok {
		return "", ErrNotFound
	}
	return path, nil
}

func (m *memoryStore) PutUpload(id uint32, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[id] = path
	return nil
}

func (m *memoryStore) Website(id uint32) (Website, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.websites[id]
	if !ok {
		return Website{}, ErrNotFound
	}
	return w, nil
}

func (m *memoryStore) PutWebsite(w Website) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.websites[w.ID] = w
	return nil
}

func (m *memoryStore) TaskRow(taskID uint32) (TaskRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tasks[taskID]
	if !ok {
		return TaskRow{}, ErrNotFound
	}
	return row, nil
}

func (m *memoryStore) StoppedTask(taskID uint32) (task.StoppedTaskRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.stopped[taskID]
	if !ok {
		return task.StoppedTaskRow{}, ErrNotFound
	}
	return row, nil
}

func (m *memoryStore) Close() error { return nil }
