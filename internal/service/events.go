package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Domain event names consumed by the notification subsystem.
const (
	EventReceiptCreated               = "receipt.created"
	EventReceiptCancellationRequested = "receipt.cancellation_requested"
	EventReceiptCancellationRejected  = "receipt.cancellation_rejected"
	EventReceiptCancelled             = "receipt.cancelled"
)

// Event is the payload published for every mutating operation.
type Event struct {
	Name       string          `json:"name"`
	ReceiptID  string          `json:"receipt_id"`
	LoanID     string          `json:"loan_id"`
	Amount     decimal.Decimal `json:"amount"`
	Actor      string          `json:"actor,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventPublisher emits domain events. Publishing is best effort; the
// mutation it describes has already committed.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type redisEventPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisEventPublisher(client *redis.Client, channel string) EventPublisher {
	return &redisEventPublisher{client: client, channel: channel}
}

func (p *redisEventPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.client.Publish(ctx, p.channel, payload).Err()
}
