// Package redisstore keeps confirmation codes in Redis, where the TTL is enforced by the server.
package redisstore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/daniel-alt-pages/ietac-sub000/core"
	"github.com/daniel-alt-pages/ietac-sub000/core/student"
)

const keyPrefix = "roster:confirm:"

type ConfirmationStore struct {
	client *redis.Client
}

var _ student.ConfirmationStore = (*ConfirmationStore)(nil) // interface compliance check

func NewConfirmationStore(client *redis.Client) *ConfirmationStore {
	return &ConfirmationStore{client: client}
}

// NewClient connects to the server configured in conf.
func NewClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, core.NewStoreError(err, "redis ping")
	}
	return client, nil
}

func (st *ConfirmationStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	return core.NewStoreError(st.client.Set(ctx, keyPrefix+key, code, ttl).Err(), "storing confirmation")
}

func (st *ConfirmationStore) Get(ctx context.Context, key string) (string, error) {
	code, err := st.client.Get(ctx, keyPrefix+key).Result()
	switch err {
	case nil:
		return code, nil
	case redis.Nil:
		return "", student.ErrTokenExpired
	default:
		return "", core.NewStoreError(err, "reading confirmation")
	}
}

func (st *ConfirmationStore) Delete(ctx context.Context, key string) error {
	return core.NewStoreError(st.client.Del(ctx, keyPrefix+key).Err(), "deleting confirmation")
}
