// Package counter persists the monotonic pipeline and job counters in a
// small YAML document.
package counter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Well-known counter keys.
const (
	PipelineIID = "pipelineIid"
	JobID       = "jobId"
)

// start values for keys absent from the document.
var start = map[string]int{
	PipelineIID: 0,
	JobID:       100000,
}

// Counter hands out increasing integers.
type Counter interface {
	Next() (int, error)
}

// Store is a key/value counter document on disk. Every Next reads the
// document, increments one key and writes it back. Concurrent callers in
// one process are serialized; there is no cross-process lock.
type Store struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewStore returns a Store backed by path on fs.
func NewStore(fs afero.Fs, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Next advances key and returns its new value. The first call for an
// absent key returns the key's start value.
func (s *Store) Next(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return 0, err
	}
	v, ok := state[key]
	if ok {
		v++
	} else {
		v = start[key]
	}
	state[key] = v
	if err := s.save(state); err != nil {
		return 0, err
	}
	return v, nil
}

// Counter returns a Counter bound to key.
func (s *Store) Counter(key string) Counter {
	return keyCounter{store: s, key: key}
}

type keyCounter struct {
	store *Store
	key   string
}

func (c keyCounter) Next() (int, error) {
	return c.store.Next(c.key)
}

func (s *Store) load() (map[string]int, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	state := make(map[string]int)
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	return state, nil
}

func (s *Store) save(state map[string]int) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
