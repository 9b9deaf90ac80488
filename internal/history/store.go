// ============================================================================
// algorun history store - run records persisted per artifact
// ============================================================================
//
// Package: internal/history
//
// Artifacts themselves live only in memory, but the record of how each one
// was produced is kept across CLI invocations in a single JSON file:
//
//   {
//     "artifacts": { "<name>": [ <RunRecord>, ... ] },
//     "schema_ver": 1,
//     "saved_at": <unix ms>
//   }
//
// Writes are atomic: the document goes to "<path>.tmp" first and is renamed
// over the real file, so a crash never leaves a half written history.
//
// ============================================================================

package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/algorun/internal/artifact"
	"github.com/ChuLiYu/algorun/pkg/types"
)

// SchemaVersion is the on-disk format version.
const SchemaVersion = 1

var (
	// ErrCorruptedHistory is returned when the file is not valid JSON.
	ErrCorruptedHistory = errors.New("history: corrupted file")
	// ErrIncompatibleVersion is returned for an unknown schema version.
	ErrIncompatibleVersion = errors.New("history: incompatible schema version")
)

// Store reads and writes the history file at one path.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store for path. The file is created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether the file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Write replaces the file with data.
func (s *Store) Write(data types.HistoryData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(data)
}

func (s *Store) write(data types.HistoryData) error {
	data.SchemaVer = SchemaVersion
	data.SavedAt = time.Now().UnixMilli()
	if data.Artifacts == nil {
		data.Artifacts = make(map[string][]types.RunRecord)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write temp history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename history: %w", err)
	}
	return nil
}

// Load reads the file. A missing file yields empty history.
func (s *Store) Load() (types.HistoryData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (types.HistoryData, error) {
	var data types.HistoryData
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.HistoryData{
				Artifacts: make(map[string][]types.RunRecord),
				SchemaVer: SchemaVersion,
			}, nil
		}
		return data, fmt.Errorf("failed to read history: %w", err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrCorruptedHistory, err)
	}
	if data.SchemaVer != SchemaVersion {
		return data, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}
	if data.Artifacts == nil {
		data.Artifacts = make(map[string][]types.RunRecord)
	}
	return data, nil
}

// Merge replaces the stored records of every artifact named in records and
// keeps the others.
func (s *Store) Merge(records map[string][]types.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	for name, recs := range records {
		data.Artifacts[name] = recs
	}
	return s.write(data)
}

// Forget drops the records of the named artifacts.
func (s *Store) Forget(names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	for _, name := range names {
		delete(data.Artifacts, name)
	}
	return s.write(data)
}

// Lookup returns the records of one artifact.
func (s *Store) Lookup(name string) ([]types.RunRecord, error) {
	data, err := s.Load()
	if err != nil {
		return nil, err
	}
	recs, ok := data.Artifacts[name]
	if !ok {
		return nil, fmt.Errorf("history: %q: %w", name, types.ErrNotFound)
	}
	return recs, nil
}

// Names returns the artifacts with stored history, sorted.
func (s *Store) Names() ([]string, error) {
	data, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(data.Artifacts))
	for name := range data.Artifacts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Capture collects the history of every artifact in reg, hidden ones
// included.
func Capture(reg *artifact.Registry) map[string][]types.RunRecord {
	out := make(map[string][]types.RunRecord)
	for _, name := range reg.NamesWithHidden() {
		h, err := reg.Retrieve(name)
		if err != nil {
			continue // removed concurrently
		}
		out[name] = h.History()
		h.Release()
	}
	return out
}
