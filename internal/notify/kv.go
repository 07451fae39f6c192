package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

type keyValue interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// KVBackend mirrors the notification into a NATS JetStream key/value bucket. Each post
// overwrites the same key, so watchers always see one notification.
type KVBackend struct {
	conn *nats.Conn
	kv   keyValue
}

// NewKVBackend connects to NATS and opens (or creates) bucket.
func NewKVBackend(ctx context.Context, url, bucket string) (*KVBackend, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "Persistent step tracking notification",
			History:     1,
			TTL:         24 * time.Hour,
		})
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open KV bucket: %w", err)
	}

	return &KVBackend{conn: conn, kv: kv}, nil
}

func notificationKey(id int) string {
	return "notification." + strconv.Itoa(id)
}

// Post implements Backend.
func (b *KVBackend) Post(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if _, err := b.kv.Put(ctx, notificationKey(n.ID), data); err != nil {
		return fmt.Errorf("failed to put notification: %w", err)
	}
	return nil
}

// Cancel implements Backend.
func (b *KVBackend) Cancel(ctx context.Context, id int) error {
	err := b.kv.Delete(ctx, notificationKey(id))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (b *KVBackend) Close() error {
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}
