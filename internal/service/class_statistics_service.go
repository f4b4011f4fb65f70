package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

// GradeStore is the read-only source of raw scores.
type GradeStore interface {
	GetGrades(ctx context.Context, studentID, classID, academicYear string) ([]models.SubjectGrade, error)
	ListClassmates(ctx context.Context, classID, academicYear string) ([]string, error)
	// FetchClassGrades returns every student of the class with their subjects from one consistent snapshot.
	FetchClassGrades(ctx context.Context, classID, academicYear string) ([]models.StudentGrades, error)
}

// ClassStatisticsService computes class averages, ranks and aggregate statistics.
type ClassStatisticsService struct {
	grades GradeStore
	logger *zap.Logger
}

// NewClassStatisticsService constructs the service.
func NewClassStatisticsService(grades GradeStore, logger *zap.Logger) *ClassStatisticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassStatisticsService{grades: grades, logger: logger}
}

// Compute fetches the class once and folds it into per-student averages, ranks and stats.
func (s *ClassStatisticsService) Compute(ctx context.Context, classID string, scope models.Scope, academicYear string) (*models.ClassStatisticsReport, error) {
	if err := validateClassScope(classID, scope, academicYear); err != nil {
		return nil, err
	}
	class, err := s.grades.FetchClassGrades(ctx, classID, academicYear)
	if err != nil {
		return nil, gradeLoadError(err)
	}
	report := BuildClassStatistics(classID, scope, academicYear, class)
	s.logger.Debug("class statistics computed",
		zap.String("class_id", classID),
		zap.String("scope", string(scope)),
		zap.Int("ranked", report.Stats.Count),
		zap.Int("unranked", len(report.Unranked)),
	)
	return report, nil
}

// RankStudent returns one student's standing in their class.
func (s *ClassStatisticsService) RankStudent(ctx context.Context, studentID, classID string, scope models.Scope, academicYear string) (*models.StudentStanding, error) {
	report, err := s.Compute(ctx, classID, scope, academicYear)
	if err != nil {
		return nil, err
	}
	avg, ok := report.PerStudent[studentID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not enrolled in class")
	}
	standing := &models.StudentStanding{
		StudentID: studentID,
		Average:   avg,
		Ranked:    report.Stats.Count,
		Total:     len(report.PerStudent),
	}
	if rank, ranked := report.Ranks[studentID]; ranked {
		standing.Rank = &rank
	}
	return standing, nil
}

func validateClassScope(classID string, scope models.Scope, academicYear string) error {
	if strings.TrimSpace(classID) == "" || strings.TrimSpace(academicYear) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "class id and academic year are required")
	}
	if !scope.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "invalid scope")
	}
	return nil
}

// BuildClassStatistics folds already-fetched class grades into a report. Students whose average
// is pending are reported as unranked and left out of every aggregate.
func BuildClassStatistics(classID string, scope models.Scope, academicYear string, class []models.StudentGrades) *models.ClassStatisticsReport {
	report := &models.ClassStatisticsReport{
		ClassID:      classID,
		Scope:        scope,
		AcademicYear: academicYear,
		PerStudent:   make(map[string]*float64, len(class)),
		Ranks:        make(map[string]int, len(class)),
		Unranked:     make([]string, 0),
	}

	averages := make([]float64, 0, len(class))
	ranked := make([]string, 0, len(class))
	for _, student := range class {
		avg := ComputeWeightedAverage(student.Subjects, scope)
		report.PerStudent[student.StudentID] = avg
		if avg == nil {
			report.Unranked = append(report.Unranked, student.StudentID)
			continue
		}
		averages = append(averages, *avg)
		ranked = append(ranked, student.StudentID)
	}

	sorted := append([]float64(nil), averages...)
	sort.Float64s(sorted)
	for i, id := range ranked {
		report.Ranks[id] = rankInSorted(averages[i], sorted)
	}
	report.Stats = summarizeAverages(sorted)
	return report
}

// ComputeClassRank returns the competition rank of avg among all: one plus the number of
// strictly higher averages, so ties share a rank and the next rank skips.
func ComputeClassRank(avg float64, all []float64) int {
	rank := 1
	for _, other := range all {
		if other > avg {
			rank++
		}
	}
	return rank
}

func rankInSorted(avg float64, sorted []float64) int {
	firstHigher := sort.Search(len(sorted), func(i int) bool { return sorted[i] > avg })
	return len(sorted) - firstHigher + 1
}

func summarizeAverages(sorted []float64) models.ClassStatistics {
	stats := models.ClassStatistics{Count: len(sorted)}
	if len(sorted) == 0 {
		return stats
	}
	var sum float64
	passed := 0
	for _, v := range sorted {
		sum += v
		if v >= PassingAverage {
			passed++
		}
	}
	mean := RoundScore(sum / float64(len(sorted)))
	lowest := sorted[0]
	highest := sorted[len(sorted)-1]
	passRate := float64(passed) / float64(len(sorted))
	stats.Mean = &mean
	stats.Min = &lowest
	stats.Max = &highest
	stats.PassRate = &passRate
	return stats
}

// gradeLoadError keeps validation failures from the grade store visible to the caller and
// reports anything else as internal.
func gradeLoadError(err error) error {
	if errors.Is(err, appErrors.ErrValidation) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class grades")
}
