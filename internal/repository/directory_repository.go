package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

// DirectoryRepository resolves student identities and their notification contacts.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// StudentProfile returns the student identity printed on bulletins for a class.
func (r *DirectoryRepository) StudentProfile(ctx context.Context, studentID, classID string) (*models.StudentProfile, error) {
	const query = `SELECT s.id, s.full_name, s.matricule, COALESCE(c.name, '') AS class_name, s.date_of_birth
        FROM students s
        LEFT JOIN classes c ON c.id = $2
        WHERE s.id = $1`
	var profile models.StudentProfile
	if err := r.db.GetContext(ctx, &profile, query, studentID, classID); err != nil {
		return nil, fmt.Errorf("get student profile: %w", err)
	}
	return &profile, nil
}

// Recipients lists who receives a student's bulletin notifications, primary contact first.
func (r *DirectoryRepository) Recipients(ctx context.Context, studentID string) ([]models.NotificationRecipient, error) {
	const query = `SELECT id, student_id, display_name, role, email, phone, whatsapp, COALESCE(preferred_language, '') AS preferred_language, is_primary
        FROM notification_recipients
        WHERE student_id = $1 AND active = TRUE
        ORDER BY is_primary DESC, display_name`
	var recipients []models.NotificationRecipient
	if err := r.db.SelectContext(ctx, &recipients, query, studentID); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return recipients, nil
}
