package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

const bulletinColumns = `id, student_id, class_id, term, academic_year, general_average, class_rank, total_students,
        annual_average, council_decision, status, subjects, submitted_by, submitted_at, approved_by, approved_at,
        snapshot_frozen_at, published_at, sent_at, last_approval_comment, version, created_by, created_at, updated_at`

// BulletinRepository persists bulletins with optimistic versioning.
type BulletinRepository struct {
	db *sqlx.DB
}

// NewBulletinRepository constructs the repository.
func NewBulletinRepository(db *sqlx.DB) *BulletinRepository {
	return &BulletinRepository{db: db}
}

// Create inserts a new bulletin at version 1.
func (r *BulletinRepository) Create(ctx context.Context, b *models.Bulletin) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Version == 0 {
		b.Version = 1
	}
	const query = `INSERT INTO bulletins (id, student_id, class_id, term, academic_year, general_average, class_rank, total_students,
        annual_average, council_decision, status, subjects, version, created_by, created_at, updated_at)
        VALUES (:id, :student_id, :class_id, :term, :academic_year, :general_average, :class_rank, :total_students,
        :annual_average, :council_decision, :status, :subjects, :version, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, b); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "bulletin already exists for this student and term")
		}
		return fmt.Errorf("create bulletin: %w", err)
	}
	return nil
}

// FindByID returns a bulletin by id.
func (r *BulletinRepository) FindByID(ctx context.Context, id string) (*models.Bulletin, error) {
	query := "SELECT " + bulletinColumns + " FROM bulletins WHERE id = $1"
	var b models.Bulletin
	if err := r.db.GetContext(ctx, &b, query, id); err != nil {
		return nil, fmt.Errorf("get bulletin: %w", err)
	}
	return &b, nil
}

// FindByStudentTerm returns the bulletin of a student for one class, term and year.
func (r *BulletinRepository) FindByStudentTerm(ctx context.Context, studentID, classID string, term models.Scope, academicYear string) (*models.Bulletin, error) {
	query := "SELECT " + bulletinColumns + " FROM bulletins WHERE student_id = $1 AND class_id = $2 AND term = $3 AND academic_year = $4"
	var b models.Bulletin
	if err := r.db.GetContext(ctx, &b, query, studentID, classID, term, academicYear); err != nil {
		return nil, fmt.Errorf("get bulletin by student term: %w", err)
	}
	return &b, nil
}

// List returns a page of bulletins of a class and the total count.
func (r *BulletinRepository) List(ctx context.Context, filter models.BulletinFilter) ([]models.Bulletin, int, error) {
	conditions := []string{"class_id = $1"}
	args := []interface{}{filter.ClassID}
	if filter.AcademicYear != "" {
		args = append(args, filter.AcademicYear)
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)))
	}
	if filter.Term != "" {
		args = append(args, filter.Term)
		conditions = append(conditions, fmt.Sprintf("term = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	query := fmt.Sprintf("SELECT %s FROM bulletins%s ORDER BY student_id, term LIMIT %d OFFSET %d", bulletinColumns, where, size, (page-1)*size)

	var items []models.Bulletin
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bulletins: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM bulletins"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count bulletins: %w", err)
	}
	return items, total, nil
}

// Update writes b when the stored version still equals expectedVersion. A lost race returns
// ErrConflict and a missing row sql.ErrNoRows; nothing is written in either case.
func (r *BulletinRepository) Update(ctx context.Context, b *models.Bulletin, expectedVersion int) error {
	b.UpdatedAt = time.Now().UTC()
	const query = `UPDATE bulletins SET general_average = $1, class_rank = $2, total_students = $3, annual_average = $4,
        council_decision = $5, status = $6, subjects = $7, submitted_by = $8, submitted_at = $9, approved_by = $10,
        approved_at = $11, snapshot_frozen_at = $12, published_at = $13, sent_at = $14, last_approval_comment = $15,
        version = version + 1, updated_at = $16
        WHERE id = $17 AND version = $18`
	res, err := r.db.ExecContext(ctx, query,
		b.GeneralAverage, b.ClassRank, b.TotalStudentsInClass, b.AnnualAverage,
		b.CouncilDecision, b.Status, b.Subjects, b.SubmittedBy, b.SubmittedAt, b.ApprovedBy,
		b.ApprovedAt, b.SnapshotFrozenAt, b.PublishedAt, b.SentAt, b.LastApprovalComment,
		b.UpdatedAt, b.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update bulletin: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bulletin rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM bulletins WHERE id = $1)", b.ID); err != nil {
		return fmt.Errorf("check bulletin: %w", err)
	}
	if exists {
		return appErrors.ErrConflict
	}
	return sql.ErrNoRows
}
