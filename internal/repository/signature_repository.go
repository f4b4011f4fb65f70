package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

// SignatureRepository stores bulletin signatures. (bulletin_id, signer_name) is unique.
type SignatureRepository struct {
	db *sqlx.DB
}

// NewSignatureRepository constructs the repository.
func NewSignatureRepository(db *sqlx.DB) *SignatureRepository {
	return &SignatureRepository{db: db}
}

// Insert stores sig unless the signer already signed the bulletin. It reports whether a row
// was written.
func (r *SignatureRepository) Insert(ctx context.Context, sig *models.Signature) (bool, error) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.SignedAt.IsZero() {
		sig.SignedAt = time.Now().UTC()
	}
	const query = `INSERT INTO bulletin_signatures (id, bulletin_id, signer_name, signer_position, has_stamp, signed_at)
        VALUES (:id, :bulletin_id, :signer_name, :signer_position, :has_stamp, :signed_at)
        ON CONFLICT (bulletin_id, signer_name) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, sig)
	if err != nil {
		return false, fmt.Errorf("insert signature: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert signature rows affected: %w", err)
	}
	return affected > 0, nil
}

// ListByBulletin returns the signatures of a bulletin in signing order.
func (r *SignatureRepository) ListByBulletin(ctx context.Context, bulletinID string) ([]models.Signature, error) {
	const query = `SELECT id, bulletin_id, signer_name, signer_position, has_stamp, signed_at
        FROM bulletin_signatures WHERE bulletin_id = $1 ORDER BY signed_at, signer_name`
	var sigs []models.Signature
	if err := r.db.SelectContext(ctx, &sigs, query, bulletinID); err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return sigs, nil
}
