// Package mqttstore shares the room store over an MQTT broker. Each key is a
// retained message under the warpchat/ topic tree, so late subscribers still
// see offers published before they connected, and watchers get answers
// pushed as soon as they are written.
package mqttstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/warpchat/internal/store"
	petname "github.com/dustinkirkland/golang-petname"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	topicRoot = "warpchat/"
	qos       = 1
)

// How long to wait for retained messages after subscribing.
var settleTime = 750 * time.Millisecond

type Store struct {
	client mqtt.Client
	logger *slog.Logger

	// Subscribing twice to one filter replaces the handler, so one-shot
	// reads go through one at a time.
	readMu sync.Mutex
}

// Open connects to broker, e.g. tcp://localhost:1883.
func Open(ctx context.Context, broker string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID("warpchat-" + petname.Generate(3, "-"))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	logger.Debug("connected", "broker", broker)
	return New(client, logger), nil
}

// New wraps a connected client.
func New(client mqtt.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger.With("component", "mqttstore")}
}

func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func topicFor(key string) string {
	return topicRoot + key
}

func keyFor(topic string) string {
	return strings.TrimPrefix(topic, topicRoot)
}

// filterFor returns the subscription filter covering every key under
// prefix. Wildcards only match whole levels, so a prefix ending mid-level
// subscribes one level up and relies on the caller to filter.
func filterFor(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return topicRoot + prefix + "#"
	}
	dir := path.Dir(prefix)
	if dir == "." {
		return topicRoot + "#"
	}
	return topicRoot + dir + "/#"
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("mqttstore: empty value for %s", key)
	}
	return wait(ctx, s.client.Publish(topicFor(key), qos, true, value))
}

// Delete clears the retained message.
func (s *Store) Delete(ctx context.Context, key string) error {
	return wait(ctx, s.client.Publish(topicFor(key), qos, true, []byte{}))
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	entries, err := s.collect(ctx, topicFor(key), func(k string) bool { return k == key })
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, store.ErrNotFound
	}
	return entries[len(entries)-1].Value, nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	entries, err := s.collect(ctx, filterFor(prefix), func(k string) bool {
		return strings.HasPrefix(k, prefix)
	})
	if err != nil {
		return nil, err
	}

	latest := make(map[string][]byte, len(entries))
	for _, e := range entries {
		latest[e.Key] = e.Value
	}
	out := make([]store.Entry, 0, len(latest))
	for k, v := range latest {
		out = append(out, store.Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// collect subscribes to filter, gathers retained messages for settleTime and
// unsubscribes.
func (s *Store) collect(ctx context.Context, filter string, match func(string) bool) ([]store.Entry, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	var (
		mu      sync.Mutex
		entries []store.Entry
	)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		key := keyFor(msg.Topic())
		if !msg.Retained() || len(msg.Payload()) == 0 || !match(key) {
			return
		}
		mu.Lock()
		entries = append(entries, store.Entry{Key: key, Value: append([]byte(nil), msg.Payload()...)})
		mu.Unlock()
	}

	if err := wait(ctx, s.client.Subscribe(filter, qos, handler)); err != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}
	defer s.client.Unsubscribe(filter)

	timer := time.NewTimer(settleTime)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return entries, nil
}

// Watch delivers retained and live writes under prefix until ctx ends.
// Deletions are not reported.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan store.Entry, error) {
	filter := filterFor(prefix)
	out := make(chan store.Entry, 64)

	var (
		mu     sync.Mutex
		closed bool
	)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		key := keyFor(msg.Topic())
		if len(msg.Payload()) == 0 || !strings.HasPrefix(key, prefix) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- store.Entry{Key: key, Value: append([]byte(nil), msg.Payload()...)}:
		default:
			s.logger.Warn("watch buffer full, dropping entry", "key", key)
		}
	}

	if err := wait(ctx, s.client.Subscribe(filter, qos, handler)); err != nil {
		return nil, fmt.Errorf("mqtt subscribe %s: %w", filter, err)
	}

	go func() {
		<-ctx.Done()
		s.client.Unsubscribe(filter)
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

func (s *Store) Close() error {
	s.client.Disconnect(250)
	return nil
}
