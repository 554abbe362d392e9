package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/k5tuck/binelek-core-sub001/errors"
)

// KV errors.
var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
)

// KVEntry wraps a KV entry with its revision for compare-and-set updates.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVStore provides key-value operations with compare-and-set retry over a
// JetStream bucket. Used for durable side state such as generated
// compatibility views.
type KVStore struct {
	bucket jetstream.KeyValue
	retry  errors.RetryConfig
	logger *slog.Logger
}

// NewKVStore creates a KV store over an existing bucket.
func (c *Client) NewKVStore(bucket jetstream.KeyValue) *KVStore {
	return &KVStore{
		bucket: bucket,
		retry: errors.RetryConfig{
			MaxRetries:    10,
			InitialDelay:  10 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
		},
		logger: c.logger,
	}
}

// EnsureKeyValueBucket creates the bucket if it does not already exist.
func (c *Client) EnsureKeyValueBucket(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureKeyValueBucket", "create bucket")
	}
	return kv, nil
}

// Get retrieves a value with its revision.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if isKVNotFound(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put creates or updates a key, last writer wins.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Delete removes a key from the bucket.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	if err := kv.bucket.Delete(ctx, key); err != nil {
		if isKVNotFound(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// UpdateWithRetry performs a compare-and-set update with retry on revision
// conflicts. A missing key is treated as an empty value and created.
func (kv *KVStore) UpdateWithRetry(
	ctx context.Context, key string, updateFn func(current []byte) ([]byte, error),
) error {
	for attempt := 0; ; attempt++ {
		entry, err := kv.Get(ctx, key)

		var current []byte
		var revision uint64
		switch {
		case err == nil:
			current = entry.Value
			revision = entry.Revision
		case stderrors.Is(err, ErrKVKeyNotFound):
			// Key absent, create below.
		default:
			return err
		}

		next, err := updateFn(current)
		if err != nil {
			return errors.WrapInvalid(err, "KVStore", "UpdateWithRetry", "apply update function")
		}

		if revision == 0 {
			_, err = kv.bucket.Create(ctx, key, next)
		} else {
			_, err = kv.bucket.Update(ctx, key, next, revision)
		}
		if err == nil {
			return nil
		}
		if !isKVConflict(err) {
			return fmt.Errorf("kv write %s: %w", key, err)
		}

		if attempt >= kv.retry.MaxRetries {
			return ErrKVMaxRetriesExceeded
		}
		kv.logger.Debug("kv conflict, retrying", "key", key, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "KVStore", "UpdateWithRetry", "retry cancelled")
		case <-time.After(kv.retry.BackoffDelay(attempt)):
		}
	}
}

func isKVNotFound(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, ErrKVKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

func isKVConflict(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrKeyExists) ||
		stderrors.Is(err, ErrKVKeyExists) || stderrors.Is(err, ErrKVRevisionMismatch) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10071") || strings.Contains(msg, "10058")
}
