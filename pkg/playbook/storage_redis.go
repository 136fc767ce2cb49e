package playbook

import (
	"context"

	"github.com/redis/go-redis/v9"

	errs "github.com/ace-agents/playbook/pkg/errors"
)

// RedisStorage keeps both documents as Redis string values, for deployments
// where concurrent monitors run on separate hosts.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, addr string, db int, prefix string) (*RedisStorage, error) {
	if prefix == "" {
		prefix = "playbook"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errs.WithFields(
			errs.Wrap(err, errs.StorageFailed, "failed to connect to redis"),
			errs.Fields{"addr": addr})
	}

	return &RedisStorage{client: client, prefix: prefix}, nil
}

// NewRedisStorageFromClient wraps an existing client; used by tests.
func NewRedisStorageFromClient(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "playbook"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (r *RedisStorage) LoadPlaybook(ctx context.Context) ([]byte, error) {
	return r.load(ctx, r.prefix+":playbook")
}

func (r *RedisStorage) SavePlaybook(ctx context.Context, data []byte) error {
	return r.save(ctx, r.prefix+":playbook", data)
}

func (r *RedisStorage) LoadGuardrails(ctx context.Context) ([]byte, error) {
	return r.load(ctx, r.prefix+":guardrails")
}

func (r *RedisStorage) SaveGuardrails(ctx context.Context, data []byte) error {
	return r.save(ctx, r.prefix+":guardrails", data)
}

// Close closes the underlying client.
func (r *RedisStorage) Close() error {
	return r.client.Close()
}

func (r *RedisStorage) load(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WithFields(
			errs.Wrap(err, errs.StorageFailed, "failed to load document"),
			errs.Fields{"key": key})
	}
	return data, nil
}

func (r *RedisStorage) save(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return errs.WithFields(
			errs.Wrap(err, errs.StorageFailed, "failed to save document"),
			errs.Fields{"key": key})
	}
	return nil
}
