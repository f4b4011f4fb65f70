package repository

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-bulletin-api/internal/dto"
	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/pkg/database"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

var gradeValidator = validator.New()

// GradeRepository reads the subject grade grid of a class.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository creates a new grade repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

type gradeRow struct {
	StudentID string `db:"student_id"`
	models.SubjectGrade
}

// check applies the submitted-grade rules to a stored row. Scores outside 0-20 or a
// coefficient below 1 never reach the aggregation.
func (row gradeRow) check() error {
	if err := gradeValidator.Struct(dto.NewSubjectGradePayload(row.SubjectGrade)); err != nil {
		msg := fmt.Sprintf("invalid stored grade for student %s subject %s", row.StudentID, row.SubjectID)
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, msg)
	}
	return nil
}

// gridQuery lists every class subject for every enrolled student, with the student's scores
// when they exist.
const gridQuery = `SELECT e.student_id, cs.subject_id, s.name AS subject_name, cs.coefficient,
        g.t1, g.t2, g.t3, g.remark
        FROM enrollments e
        JOIN class_subjects cs ON cs.class_id = e.class_id AND cs.academic_year = e.academic_year
        JOIN subjects s ON s.id = cs.subject_id
        LEFT JOIN subject_grades g ON g.student_id = e.student_id AND g.class_id = e.class_id
            AND g.subject_id = cs.subject_id AND g.academic_year = e.academic_year
        WHERE e.class_id = $1 AND e.academic_year = $2`

const rosterQuery = `SELECT e.student_id FROM enrollments e
        WHERE e.class_id = $1 AND e.academic_year = $2 ORDER BY e.student_id`

// GetGrades returns the subject grades of one student in a class.
func (r *GradeRepository) GetGrades(ctx context.Context, studentID, classID, academicYear string) ([]models.SubjectGrade, error) {
	query := gridQuery + " AND e.student_id = $3 ORDER BY cs.position, s.name"
	var rows []gradeRow
	if err := r.db.SelectContext(ctx, &rows, query, classID, academicYear, studentID); err != nil {
		return nil, fmt.Errorf("get grades: %w", err)
	}
	subjects := make([]models.SubjectGrade, len(rows))
	for i, row := range rows {
		if err := row.check(); err != nil {
			return nil, err
		}
		subjects[i] = row.SubjectGrade
	}
	return subjects, nil
}

// ListClassmates returns the ids of every student enrolled in the class.
func (r *GradeRepository) ListClassmates(ctx context.Context, classID, academicYear string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, rosterQuery, classID, academicYear); err != nil {
		return nil, fmt.Errorf("list classmates: %w", err)
	}
	return ids, nil
}

// FetchClassGrades loads the roster and the whole grade grid in one snapshot so the class is
// folded from a consistent view. Students without any class subject are returned with an
// empty subject list. A row breaking the grade rules fails the whole fetch with a validation
// error.
func (r *GradeRepository) FetchClassGrades(ctx context.Context, classID, academicYear string) ([]models.StudentGrades, error) {
	var roster []string
	var rows []gradeRow
	err := database.WithSnapshot(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &roster, rosterQuery, classID, academicYear); err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		if err := tx.SelectContext(ctx, &rows, gridQuery+" ORDER BY e.student_id, cs.position, s.name", classID, academicYear); err != nil {
			return fmt.Errorf("load grade grid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch class grades: %w", err)
	}

	index := make(map[string]int, len(roster))
	class := make([]models.StudentGrades, len(roster))
	for i, id := range roster {
		index[id] = i
		class[i] = models.StudentGrades{StudentID: id, Subjects: []models.SubjectGrade{}}
	}
	for _, row := range rows {
		i, ok := index[row.StudentID]
		if !ok {
			continue
		}
		if err := row.check(); err != nil {
			return nil, err
		}
		class[i].Subjects = append(class[i].Subjects, row.SubjectGrade)
	}
	return class, nil
}
