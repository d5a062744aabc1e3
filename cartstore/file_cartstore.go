// gostore-cart/cartstore/file_cartstore.go

package cartstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileCartStore persists all keys as one JSON object in a single file.
// Every Set rewrites the whole document through a temp file and a rename.
type FileCartStore struct {
	mu     sync.Mutex
	path   string
	closed bool
}

func NewFileCartStore(path string) *FileCartStore {
	return &FileCartStore{path: path}
}

// Initialize makes sure the parent directory exists and the document is readable.
func (f *FileCartStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrapf(err, "cartstore: create dir for %s", f.path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.load(); err != nil {
		return err
	}
	log.WithField("path", f.path).Info("FileCartStore initialized")
	return nil
}

func (f *FileCartStore) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", false, ErrClosed
	}
	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	val, ok := doc[key]
	return val, ok, nil
}

func (f *FileCartStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	doc, err := f.load()
	if err != nil {
		return err
	}
	doc[key] = value
	return f.save(doc)
}

func (f *FileCartStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "cartstore: remove %s", f.path)
	}
	return nil
}

// Ping checks that the directory holding the document is still reachable.
func (f *FileCartStore) Ping(ctx context.Context) bool {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return false
	}
	info, err := os.Stat(filepath.Dir(f.path))
	return err == nil && info.IsDir()
}

func (f *FileCartStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// load reads the document; a missing file is an empty document.
func (f *FileCartStore) load() (map[string]string, error) {
	doc := map[string]string{}
	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, errors.Wrapf(err, "cartstore: read %s", f.path)
	}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrapf(err, "cartstore: decode %s", f.path)
	}
	return doc, nil
}

func (f *FileCartStore) save(doc map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrapf(err, "cartstore: create dir for %s", f.path)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "cartstore: write %s", tmp)
	}
	_ = os.Remove(f.path) // Windows rename doesn't overwrite.
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrapf(err, "cartstore: rename %s", tmp)
	}
	return nil
}
