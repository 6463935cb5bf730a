package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/eliteGoblin/focusd/app_block/internal/domain"
)

const stateFileName = "state.json"

// stateDocument is the on-disk layout of FileState.
type stateDocument struct {
	Version int               `json:"version"`
	Values  map[string][]byte `json:"values"`
}

// FileState implements domain.SharedState using one JSON file.
// Writers from both processes serialize on an flock; readers rely on the
// write + rename being atomic and never lock.
type FileState struct {
	path string
}

// NewFileState creates a file-backed shared state in dir.
func NewFileState(dir string) (*FileState, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileState{path: filepath.Join(dir, stateFileName)}, nil
}

// Path returns the state file path.
func (s *FileState) Path() string {
	return s.path
}

// Get returns the value under key.
func (s *FileState) Get(key string) ([]byte, bool, error) {
	doc, err := s.read()
	if err != nil {
		return nil, false, err
	}
	v, ok := doc.Values[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *FileState) Set(key string, value []byte) error {
	return s.mutate(func(doc *stateDocument) {
		doc.Values[key] = value
	})
}

// Remove deletes key.
func (s *FileState) Remove(key string) error {
	return s.mutate(func(doc *stateDocument) {
		delete(doc.Values, key)
	})
}

// Keys returns all keys starting with prefix, sorted.
func (s *FileState) Keys(prefix string) ([]string, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	for k := range doc.Values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// mutate applies fn under an exclusive lock shared with the other process.
func (s *FileState) mutate(fn func(doc *stateDocument)) error {
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	doc, err := s.read()
	if err != nil {
		// A corrupt file is replaced rather than wedging every writer.
		doc = &stateDocument{Version: 1, Values: map[string][]byte{}}
	}
	fn(doc)
	return s.atomicWrite(doc)
}

func (s *FileState) read() (*stateDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &stateDocument{Version: 1, Values: map[string][]byte{}}, nil
		}
		return nil, err
	}

	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	if doc.Values == nil {
		doc.Values = map[string][]byte{}
	}
	return &doc, nil
}

// atomicWrite writes the document to a temp file and renames it into place.
func (s *FileState) atomicWrite(doc *stateDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	// Unique per process so both processes never share a temp file.
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileState implements domain.SharedState.
var _ domain.SharedState = (*FileState)(nil)
