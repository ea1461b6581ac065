package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore maps caller-supplied receipt references to receipt
// ids. It is a fast path only; the unique index on receipts.receipt_ref
// is the durable guard.
type IdempotencyStore interface {
	Get(ctx context.Context, ref string) (uuid.UUID, bool, error)
	Put(ctx context.Context, ref string, receiptID uuid.UUID) error
}

type redisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) IdempotencyStore {
	return &redisIdempotencyStore{client: client, ttl: ttl}
}

func (s *redisIdempotencyStore) Get(ctx context.Context, ref string) (uuid.UUID, bool, error) {
	value, err := s.client.Get(ctx, "receipt-ref:"+ref).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, false, err
	}

	return id, true, nil
}

func (s *redisIdempotencyStore) Put(ctx context.Context, ref string, receiptID uuid.UUID) error {
	return s.client.Set(ctx, "receipt-ref:"+ref, receiptID.String(), s.ttl).Err()
}
