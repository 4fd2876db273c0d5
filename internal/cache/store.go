// internal/cache/store.go
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrInvalidName = errors.New("invalid cache document name")
)

// Store reads and writes named JSON documents.
//
// Writers that mutate a document must hold Lock(name) across the whole
// load-mutate-save cycle; the store does not merge concurrent writes.
type Store interface {
	// Load decodes the document into dst. found is false when the document
	// does not exist yet, dst is left untouched in that case.
	Load(name string, dst any) (found bool, err error)
	Save(name string, v any) error
	Lock(name string) (unlock func())
}

// LoadOr returns the decoded document or def when it does not exist.
func LoadOr[T any](s Store, name string, def T) (T, error) {
	var v T
	found, err := s.Load(name, &v)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// DiskStore keeps every document as a file in one directory.
type DiskStore struct {
	dir    string
	locks  sync.Map // name -> *sync.Mutex
	logger *zap.Logger
}

func NewDiskStore(dir string, logger *zap.Logger) (*DiskStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &DiskStore{
		dir:    dir,
		logger: logger.Named("cache-store"),
	}, nil
}

// Dir returns the directory documents live in.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *DiskStore) Load(name string, dst any) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// Save writes through a temporary file and a rename so readers never see a
// partially written document.
func (s *DiskStore) Save(name string, v any) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}

	s.logger.Debug("document saved", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}

func (s *DiskStore) Lock(name string) func() {
	m, _ := s.locks.LoadOrStore(name, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

var _ Store = (*DiskStore)(nil)
