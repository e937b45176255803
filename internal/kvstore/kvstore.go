// Package kvstore implements the transactional key-value snapshot store
// backing the entity collections.
//
// The store holds a flat map of top-level keys to JSON documents, persisted
// as a single snapshot file. Writes are staged in memory with Insert and
// only reach disk on Save, which replaces the snapshot atomically
// (write-to-temp then rename). A failed Save discards the staged writes and
// leaves the committed view untouched, so a multi-collection mutation either
// lands completely or not at all.
//
// The store is not safe for concurrent use; callers serialize access (the
// entity store holds a single lock around every read-modify-write sequence).
package kvstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

// ErrMiss is returned by Get when the key has never been inserted.
var ErrMiss = errors.New("kvstore: key not found")

// Store is a file-backed snapshot of JSON documents keyed by string.
type Store struct {
	path      string
	committed map[string]json.RawMessage
	staged    map[string]json.RawMessage
}

// Open creates a Store persisting to the given file path. Load must be
// called before first use.
func Open(path string) *Store {
	return &Store{
		path:      path,
		committed: map[string]json.RawMessage{},
		staged:    map[string]json.RawMessage{},
	}
}

// Load reads the snapshot file into the committed view. A missing file is
// not an error: the store starts empty and the caller seeds defaults.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("snapshot not found, starting with empty store", "path", s.path)
			return nil
		}
		return fmt.Errorf("reading snapshot: %w", err)
	}

	var snapshot map[string]json.RawMessage
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	s.committed = snapshot
	return nil
}

// Get returns the document stored under key. Staged writes are visible to
// subsequent reads within the same transaction sequence.
func (s *Store) Get(key string) (json.RawMessage, error) {
	if doc, ok := s.staged[key]; ok {
		return doc, nil
	}
	if doc, ok := s.committed[key]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMiss, key)
}

// GetInto decodes the document stored under key into out.
func (s *Store) GetInto(key string, out any) error {
	doc, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("decoding %q: %w", key, err)
	}
	return nil
}

// Insert stages value under key. The write becomes durable, and visible to
// reopened stores, only after a successful Save.
func (s *Store) Insert(key string, value any) error {
	doc, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	s.staged[key] = doc
	return nil
}

// Save writes the merged committed+staged view to disk atomically. On
// success the staged writes are committed; on failure they are discarded and
// the committed view is unchanged.
func (s *Store) Save() error {
	merged := make(map[string]json.RawMessage, len(s.committed)+len(s.staged))
	for k, v := range s.committed {
		merged[k] = v
	}
	for k, v := range s.staged {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		s.staged = map[string]json.RawMessage{}
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	if err := s.writeAtomic(data); err != nil {
		s.staged = map[string]json.RawMessage{}
		return fmt.Errorf("writing snapshot: %w", err)
	}

	s.committed = merged
	s.staged = map[string]json.RawMessage{}
	return nil
}

func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
