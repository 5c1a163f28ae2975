package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process HistoryStore. Records are lost on exit.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*Record // userID -> recordID -> record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*Record)}
}

// PutRecord stores a copy of record.
func (m *MemoryStore) PutRecord(_ context.Context, record *Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	c := cloneRecord(record)

	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.records[c.UserID]
	if !ok {
		byID = make(map[string]*Record)
		m.records[c.UserID] = byID
	}
	byID[c.ID] = c
	return nil
}

// ListRecords returns copies of the user's records, newest first.
func (m *MemoryStore) ListRecords(_ context.Context, userID string, limit int) ([]*Record, error) {
	m.mu.RLock()
	out := make([]*Record, 0, len(m.records[userID]))
	for _, r := range m.records[userID] {
		out = append(out, cloneRecord(r))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Titles = append([]string{}, r.Titles...)
	c.Captions = append([]string{}, r.Captions...)
	c.Excerpts = append([]Excerpt{}, r.Excerpts...)
	return &c
}
