package rulesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"alarmcore/internal/config"

	"github.com/nats-io/nats.go"
)

// KVWatcher follows one key of a JetStream KV bucket holding the rules document.
// Params: NATS connection, bucket handle, and key.
// Returns: rules source emitting modify on put and delete on delete/purge.
type KVWatcher struct {
	nc     *nats.Conn
	kv     nats.KeyValue
	key    string
	logger *slog.Logger

	watcher nats.KeyWatcher
	done    chan struct{}
}

// NewKVWatcher connects to NATS and opens the rules bucket.
// Params: rules NATS settings and logger.
// Returns: watcher or setup error.
func NewKVWatcher(cfg config.RulesNATSConfig, logger *slog.Logger) (*KVWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if err != nil {
		if !cfg.CreateBucket {
			nc.Close()
			return nil, fmt.Errorf("open rules bucket %q: %w", cfg.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  cfg.Bucket,
			History: 5,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create rules bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &KVWatcher{nc: nc, kv: kv, key: cfg.Key, logger: logger}, nil
}

// Start watches the key; the current value, if any, is delivered first.
// Params: context bounding the watch and change handler.
// Returns: watch setup error.
func (w *KVWatcher) Start(ctx context.Context, handler Handler) error {
	watcher, err := w.kv.Watch(w.key, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("watch rules key %q: %w", w.key, err)
	}
	w.watcher = watcher
	w.done = make(chan struct{})
	source := "$KV." + w.kv.Bucket() + "." + w.key

	go func() {
		defer close(w.done)
		for entry := range watcher.Updates() {
			// nil marks the end of the initial values.
			if entry == nil {
				continue
			}
			event := Event{Source: source}
			switch entry.Operation() {
			case nats.KeyValuePut:
				event.Type = EventModify
				event.Content = entry.Value()
			case nats.KeyValueDelete, nats.KeyValuePurge:
				event.Type = EventDelete
			default:
				continue
			}
			if err := handler(ctx, event); err != nil {
				w.logger.Error("rules change applied with errors", "source", source, "revision", entry.Revision(), "error", err.Error())
			}
		}
	}()
	return nil
}

// Put stores a new rules document.
// Params: YAML document body.
// Returns: new revision.
func (w *KVWatcher) Put(body []byte) (uint64, error) {
	rev, err := w.kv.Put(w.key, body)
	if err != nil {
		return 0, fmt.Errorf("put rules: %w", err)
	}
	return rev, nil
}

// Delete removes the rules document.
func (w *KVWatcher) Delete() error {
	if err := w.kv.Delete(w.key); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete rules: %w", err)
	}
	return nil
}

// Close stops the watch and closes the connection.
// Params: none.
// Returns: stop error.
func (w *KVWatcher) Close() error {
	var stopErr error
	if w.watcher != nil {
		if err := w.watcher.Stop(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
			stopErr = err
		}
		<-w.done
	}
	w.nc.Close()
	return stopErr
}
