package storage

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Memory is an in-process Storage used in tests and for ephemeral
// setups. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, obj Storable) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[storageKey(obj)] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, dst Storable) error {
	m.mu.RLock()
	raw, ok := m.data[storageKey(dst)]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, dst)
}

func (m *Memory) Delete(_ context.Context, obj Storable) error {
	m.mu.Lock()
	delete(m.data, storageKey(obj))
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, kind string) ([][]byte, error) {
	prefix := kind + "_"
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out [][]byte
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, append([]byte(nil), v...))
		}
	}
	return out, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}
