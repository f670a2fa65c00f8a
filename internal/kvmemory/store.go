// Package kvmemory implements the in-process key-value memory that is the
// foundation of shared state between the orchestrator, its managers, and the
// specialist agents. It has no notion of tasks, trees, or agents itself —
// every other manager in this module is a thin facade over a single
// well-known key in a Store.
package kvmemory

import (
	"encoding/json"
	"fmt"
)

// MimeType labels the shape of a stored value, mirroring the distinction the
// source system draws between plain text, structured JSON, and opaque bytes.
type MimeType string

const (
	MimeText  MimeType = "text/plain"
	MimeJSON  MimeType = "application/json"
	MimeBytes MimeType = "application/octet-stream"
)

// entry is one write to the store. Store never mutates an entry in place;
// a new write appends a new entry and shadows the previous one for Get.
type entry struct {
	key   string
	value any
	mime  MimeType
}

// Store is an in-process, insertion-ordered, latest-wins key-value memory.
// It is not safe for concurrent use from multiple goroutines — per the
// single-threaded cooperative scheduling model, a task accesses its Store
// sequentially and never needs internal locking.
type Store struct {
	entries []entry
	index   map[string]int // key -> index of latest entry in entries
}

// New creates an empty Store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Set stores value under key, inferring a MimeType if mime is "".
// Repeated writes to the same key are latest-wins: Get returns the most
// recent write.
func (s *Store) Set(key string, value any, mime MimeType) {
	if mime == "" {
		mime = inferMime(value)
	}
	s.entries = append(s.entries, entry{key: key, value: value, mime: mime})
	s.index[key] = len(s.entries) - 1
}

// SetJSON marshals value to JSON and stores the encoded bytes, then decodes
// back into dst on Get via GetJSON. Used by managers to persist structs.
func (s *Store) SetJSON(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kvmemory: marshal %s: %w", key, err)
	}
	s.Set(key, raw, MimeJSON)
	return nil
}

// Get returns the latest value stored under key and whether it was present.
func (s *Store) Get(key string) (any, bool) {
	idx, ok := s.index[key]
	if !ok {
		return nil, false
	}
	return s.entries[idx].value, true
}

// GetJSON decodes the latest JSON value stored under key into dst. It
// returns false if the key is absent; it returns an error only if the
// stored value cannot be unmarshaled into dst.
func (s *Store) GetJSON(key string, dst any) (bool, error) {
	v, ok := s.Get(key)
	if !ok {
		return false, nil
	}
	raw, ok := v.([]byte)
	if !ok {
		// Value was stored directly (e.g. via Set with a struct) rather
		// than through SetJSON; round-trip it through json for uniformity.
		b, err := json.Marshal(v)
		if err != nil {
			return true, fmt.Errorf("kvmemory: re-marshal %s: %w", key, err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("kvmemory: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Keys enumerates unique keys in insertion order (first-seen order), for
// diagnostics.
func (s *Store) Keys() []string {
	seen := make(map[string]bool, len(s.entries))
	keys := make([]string, 0, len(s.index))
	for _, e := range s.entries {
		if seen[e.key] {
			continue
		}
		seen[e.key] = true
		keys = append(keys, e.key)
	}
	return keys
}

// Clear drops all stored entries.
func (s *Store) Clear() {
	s.entries = nil
	s.index = make(map[string]int)
}

// ShowAll renders a diagnostic listing of every unique key and its MIME
// type, in insertion order. Values are not included.
func (s *Store) ShowAll() string {
	out := "=== Memory Store ===\n"
	for _, key := range s.Keys() {
		idx := s.index[key]
		e := s.entries[idx]
		out += fmt.Sprintf("%s (%s)\n", e.key, e.mime)
	}
	return out
}

func inferMime(value any) MimeType {
	switch value.(type) {
	case string:
		return MimeText
	case []byte:
		return MimeBytes
	default:
		return MimeJSON
	}
}
