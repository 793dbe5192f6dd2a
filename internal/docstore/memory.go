package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Memory is an in-process Backend. Documents are kept serialized so callers
// never share maps with the store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	raw, ok := m.data[collection][id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var d Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Memory) Set(_ context.Context, collection, id string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.put(collection, id, raw)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Merge(_ context.Context, collection, id string, patch Doc) error {
	return m.merge(collection, id, patch, false)
}

func (m *Memory) MergeExisting(_ context.Context, collection, id string, patch Doc) error {
	return m.merge(collection, id, patch, true)
}

func (m *Memory) merge(collection, id string, patch Doc, mustExist bool) error {
	norm, err := Normalize(patch)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := Doc{}
	raw, ok := m.data[collection][id]
	switch {
	case ok:
		if err := json.Unmarshal(raw, &cur); err != nil {
			return err
		}
	case mustExist:
		return ErrNotFound
	}
	DeepMerge(cur, norm)
	raw, err = json.Marshal(cur)
	if err != nil {
		return err
	}
	m.put(collection, id, raw)
	return nil
}

func (m *Memory) put(collection, id string, raw []byte) {
	coll, ok := m.data[collection]
	if !ok {
		coll = make(map[string][]byte)
		m.data[collection] = coll
	}
	coll[id] = raw
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	delete(m.data[collection], id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, collection string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.data[collection]))
	for id, raw := range m.data[collection] {
		var d Doc
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		out = append(out, Entry{ID: id, Doc: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Close() error { return nil }
