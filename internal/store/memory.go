package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps records in process memory. Now may be replaced to control
// record modification times.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[Key]Entry
	Now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]map[Key]Entry),
		Now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, name string, key Key) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.records[name][key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	data := make([]byte, len(entry.Data))
	copy(data, entry.Data)
	return Entry{Data: data, ModTime: entry.ModTime}, nil
}

func (m *Memory) Put(_ context.Context, name string, key Key, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		m.records[name] = make(map[Key]Entry)
	}
	m.records[name][key] = Entry{Data: stored, ModTime: m.Now()}
	return nil
}

func (m *Memory) Delete(_ context.Context, name string, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if records, ok := m.records[name]; ok {
		delete(records, key)
		if len(records) == 0 {
			delete(m.records, name)
		}
	}
	return nil
}

func (m *Memory) Names(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, records := range m.records {
		if _, ok := records[KeyMembers]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// SetModTime rewrites the modification time of an existing record.
func (m *Memory) SetModTime(name string, key Key, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.records[name][key]; ok {
		entry.ModTime = t
		m.records[name][key] = entry
	}
}

func (m *Memory) Close() error {
	return nil
}
