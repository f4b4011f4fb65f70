package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

// DeliveryRepository is the notification delivery ledger keyed by idempotency key.
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository constructs the repository.
func NewDeliveryRepository(db *sqlx.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Delivered returns the subset of keys that already have a successful delivery.
func (r *DeliveryRepository) Delivered(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(keys) == 0 {
		return out, nil
	}
	const query = `SELECT idempotency_key FROM notification_deliveries WHERE idempotency_key = ANY($1)`
	var found []string
	if err := r.db.SelectContext(ctx, &found, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("load deliveries: %w", err)
	}
	for _, k := range found {
		out[k] = true
	}
	return out, nil
}

// Record stores a successful delivery. Recording the same key twice keeps the first row.
func (r *DeliveryRepository) Record(ctx context.Context, result models.NotificationResult) error {
	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	const query = `INSERT INTO notification_deliveries (idempotency_key, bulletin_id, recipient_id, channel, sent_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (idempotency_key) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, result.IdempotencyKey, result.BulletinID, result.RecipientID, result.Channel, sentAt); err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}
