// Package store defines the shared key/value space rooms are advertised in
// and an in-process implementation of it. Durable and networked backends
// live in the subpackages.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("key not found")

// Entry is one key and its value.
type Entry struct {
	Key   string
	Value []byte
}

// Store is a small shared key/value space. Values are opaque. Each key is
// written by a single participant, so last-writer-wins is sufficient.
type Store interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Watcher is implemented by stores that can push writes as they happen.
// The channel yields every entry currently under prefix followed by new
// writes, and is closed when ctx ends.
type Watcher interface {
	Watch(ctx context.Context, prefix string) (<-chan Entry, error)
}

// Memory is an in-process Store. It also implements Watcher.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	watchers map[*memWatch]struct{}
}

type memWatch struct {
	prefix string
	ch     chan Entry
}

func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		watchers: make(map[*memWatch]struct{}),
	}
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := append([]byte(nil), value...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	for w := range m.watchers {
		if strings.HasPrefix(key, w.prefix) {
			select {
			case w.ch <- Entry{Key: key, Value: v}:
			default:
				// Slow watchers fall back on List.
			}
		}
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(prefix), nil
}

func (m *Memory) listLocked(prefix string) []Entry {
	var out []Entry
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Watch(ctx context.Context, prefix string) (<-chan Entry, error) {
	w := &memWatch{prefix: prefix, ch: make(chan Entry, 64)}

	m.mu.Lock()
	for _, e := range m.listLocked(prefix) {
		select {
		case w.ch <- e:
		default:
		}
	}
	m.watchers[w] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, w)
		close(w.ch)
		m.mu.Unlock()
	}()
	return w.ch, nil
}

func (m *Memory) Close() error {
	return nil
}
