package service

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/microfin/collection-ledger/pkg/apperrors"
)

// Unlock releases a held loan lock.
type Unlock func()

// LoanLocker serializes mutating operations per loan. Acquisition does
// not retry: losing the race is surfaced as a conflict for the caller
// to resubmit.
type LoanLocker interface {
	Acquire(ctx context.Context, loanID string) (Unlock, error)
}

type redisLoanLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisLoanLocker(client *redis.Client, ttl time.Duration) LoanLocker {
	return &redisLoanLocker{
		locker: redislock.New(client),
		ttl:    ttl,
	}
}

func (l *redisLoanLocker) Acquire(ctx context.Context, loanID string) (Unlock, error) {
	lock, err := l.locker.Obtain(ctx, "loan:"+loanID, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperrors.WrapConflict(loanID)
	}
	if err != nil {
		return nil, apperrors.WrapCacheError(err)
	}

	return func() {
		_ = lock.Release(context.Background())
	}, nil
}
