package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/models"

	"github.com/redis/go-redis/v9"
)

// RedisStore stages pending orders as JSON values with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

const putAttempts = 3

func (s *RedisStore) Put(ctx context.Context, txID string, order *models.PendingOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal staged order: %w", err)
	}
	key := stagingKey(txID)

	// WATCH makes the owner check and the write one optimistic transaction.
	put := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			var existing models.PendingOrder
			if err := json.Unmarshal(current, &existing); err != nil {
				return fmt.Errorf("decode staged order %s: %w", txID, err)
			}
			if existing.Owner != order.Owner {
				return ErrOwnerMismatch
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < putAttempts; i++ {
		err = s.client.Watch(ctx, put, key)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("put staged order %s: %w", txID, err)
}

func (s *RedisStore) Get(ctx context.Context, txID string) (*models.PendingOrder, error) {
	data, err := s.client.Get(ctx, stagingKey(txID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var order models.PendingOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("decode staged order %s: %w", txID, err)
	}
	return &order, nil
}

func (s *RedisStore) Clear(ctx context.Context, txID string) error {
	return s.client.Del(ctx, stagingKey(txID)).Err()
}
