package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each collection in a Redis hash, one JSON-encoded document
// per field. Ordered queries fetch the hash and sort in process; collections
// here are small (profiles, recent readings, listings), so no server-side
// index is kept.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with a ping so
// the resolver can fall back before serving traffic.
func NewRedisStore(addr, password string, timeout time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func collectionKey(collection string) string {
	return "pdr:" + collection
}

func (r *RedisStore) Get(ctx context.Context, collection, key string) (map[string]any, error) {
	data, err := r.client.HGet(ctx, collectionKey(collection), key).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, key, err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("redis get %s/%s: corrupt document: %w", collection, key, err)
	}
	return doc, nil
}

func (r *RedisStore) Set(ctx context.Context, collection, key string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, key, err)
	}
	if err := r.client.HSet(ctx, collectionKey(collection), key, data).Err(); err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, key, err)
	}
	return nil
}

func (r *RedisStore) Add(ctx context.Context, collection string, doc map[string]any) (string, error) {
	id := uuid.NewString()
	return id, r.Set(ctx, collection, id, doc)
}

func (r *RedisStore) Query(ctx context.Context, collection, orderBy string, desc bool, limit int) ([]map[string]any, error) {
	all, err := r.client.HGetAll(ctx, collectionKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query %s: %w", collection, err)
	}
	docs := make([]keyedDoc, 0, len(all))
	for k, data := range all {
		doc := map[string]any{}
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			continue
		}
		docs = append(docs, keyedDoc{key: k, doc: doc})
	}
	return sortDocs(docs, orderBy, desc, limit), nil
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Close() error { return r.client.Close() }
