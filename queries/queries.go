// Package queries persists named SQL queries and a bounded execution
// history for a warehouse, stored as a single JSON file.
package queries

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// DefaultHistoryLimit bounds the number of retained history entries.
const DefaultHistoryLimit = 100

// Saved is a named query.
type Saved struct {
	Name        string    `json:"name"`
	SQL         string    `json:"sql"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HistoryEntry records one query execution.
type HistoryEntry struct {
	SQL       string        `json:"sql"`
	Rows      int           `json:"rows"`
	Elapsed   time.Duration `json:"elapsed"`
	RanAt     time.Time     `json:"ran_at"`
	SavedName string        `json:"saved_name,omitempty"`
	Err       string        `json:"error,omitempty"`
}

type storeData struct {
	Saved   map[string]Saved `json:"saved"`
	History []HistoryEntry   `json:"history"` // newest first
}

// Store holds saved queries and history, persisted on every change.
type Store struct {
	path  string
	limit int

	mu   sync.Mutex
	data storeData
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithHistoryLimit overrides the retained history length.
func WithHistoryLimit(n int) StoreOption {
	return func(s *Store) { s.limit = n }
}

// OpenStore loads the store file at path, creating an empty store if the
// file does not exist yet.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	s := &Store{path: path, limit: DefaultHistoryLimit}
	for _, opt := range opts {
		opt(s)
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("parse query store %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First use: empty store, file written on first change.
	default:
		return nil, fmt.Errorf("read query store %s: %w", path, err)
	}
	if s.data.Saved == nil {
		s.data.Saved = map[string]Saved{}
	}
	return s, nil
}

// Save stores a named query, overwriting any previous definition under the
// same name.
func (s *Store) Save(name, sql, description string) error {
	if name == "" {
		return &lakeerr.ValidationError{Field: "name", Reason: "saved query name must not be empty"}
	}
	if sql == "" {
		return &lakeerr.ValidationError{Field: "sql", Reason: "saved query SQL must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	q := Saved{Name: name, SQL: sql, Description: description, CreatedAt: now, UpdatedAt: now}
	if prev, ok := s.data.Saved[name]; ok {
		q.CreatedAt = prev.CreatedAt
	}
	s.data.Saved[name] = q
	return s.persist()
}

// Get returns the saved query with the given name.
func (s *Store) Get(name string) (Saved, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.data.Saved[name]
	if !ok {
		return Saved{}, &lakeerr.NotFoundError{Kind: "query", Name: name}
	}
	return q, nil
}

// List returns all saved queries sorted by name.
func (s *Store) List() []Saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Saved, 0, len(s.data.Saved))
	for _, q := range s.data.Saved {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes a saved query.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Saved[name]; !ok {
		return &lakeerr.NotFoundError{Kind: "query", Name: name}
	}
	delete(s.data.Saved, name)
	return s.persist()
}

// AddHistory prepends an execution record, trimming to the history limit.
func (s *Store) AddHistory(entry HistoryEntry) error {
	if entry.RanAt.IsZero() {
		entry.RanAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.History = append([]HistoryEntry{entry}, s.data.History...)
	if len(s.data.History) > s.limit {
		s.data.History = s.data.History[:s.limit]
	}
	return s.persist()
}

// History returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) History(limit int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.data.History)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]HistoryEntry, n)
	copy(out, s.data.History[:n])
	return out
}

// ClearHistory drops all history entries.
func (s *Store) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.History = nil
	return s.persist()
}

// persist writes the store atomically. Caller holds s.mu.
func (s *Store) persist() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode query store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".queries-*.json")
	if err != nil {
		return fmt.Errorf("write query store: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write query store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write query store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write query store: %w", err)
	}
	return nil
}
