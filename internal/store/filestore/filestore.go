// Package filestore keeps the room store in a directory on the local disk so
// several warpchat processes on the same machine can find each other. Every
// key is a JSON file; an advisory lock on the directory serializes access
// between processes.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/warpchat/internal/store"
	"github.com/gofrs/flock"
)

const (
	lockName   = ".lock"
	fileSuffix = ".json"
	retryDelay = 25 * time.Millisecond
)

type document struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// DefaultDir returns ~/.warpchat/store.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".warpchat", "store"), nil
}

// Open prepares dir for use as a store, creating it if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockName)),
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("filestore: invalid key %q", key)
	}
	return filepath.Join(s.dir, clean+fileSuffix), nil
}

func (s *Store) exclusive(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("filestore: lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("filestore: lock: %w", ctx.Err())
	}
	defer s.lock.Unlock()
	return fn()
}

func (s *Store) shared(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locked, err := s.lock.TryRLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("filestore: lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("filestore: lock: %w", ctx.Err())
	}
	defer s.lock.Unlock()
	return fn()
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(document{Key: key, Value: value, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	return s.exclusive(ctx, func() error {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
		if err != nil {
			return err
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), p)
	})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	var doc document
	err = s.shared(ctx, func() error {
		return readDocument(p, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc.Value, nil
}

func readDocument(path string, doc *document) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return fmt.Errorf("filestore: corrupt entry %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	var entries []store.Entry
	err := s.shared(ctx, func() error {
		return filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(p, fileSuffix) {
				return nil
			}
			var doc document
			if err := readDocument(p, &doc); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			if strings.HasPrefix(doc.Key, prefix) {
				entries = append(entries, store.Entry{Key: doc.Key, Value: doc.Value})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return s.exclusive(ctx, func() error {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.lock.Close()
}
