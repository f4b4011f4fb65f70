package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

type stubGradeStore struct {
	class      []models.StudentGrades
	err        error
	fetchCalls int
}

func (s *stubGradeStore) GetGrades(ctx context.Context, studentID, classID, academicYear string) ([]models.SubjectGrade, error) {
	for _, student := range s.class {
		if student.StudentID == studentID {
			return student.Subjects, nil
		}
	}
	return nil, nil
}

func (s *stubGradeStore) ListClassmates(ctx context.Context, classID, academicYear string) ([]string, error) {
	ids := make([]string, 0, len(s.class))
	for _, student := range s.class {
		ids = append(ids, student.StudentID)
	}
	return ids, nil
}

func (s *stubGradeStore) FetchClassGrades(ctx context.Context, classID, academicYear string) ([]models.StudentGrades, error) {
	s.fetchCalls++
	return s.class, s.err
}

func studentWithT1(id string, t1 *float64) models.StudentGrades {
	return models.StudentGrades{StudentID: id, Subjects: []models.SubjectGrade{subject("Math", 2, t1, nil, nil)}}
}

func TestComputeClassRankCompetition(t *testing.T) {
	all := []float64{18, 18, 15, 12}
	ranks := make([]int, len(all))
	for i, avg := range all {
		ranks[i] = ComputeClassRank(avg, all)
	}
	assert.Equal(t, []int{1, 1, 3, 4}, ranks)
}

func TestClassStatisticsComputeRanksAndStats(t *testing.T) {
	store := &stubGradeStore{class: []models.StudentGrades{
		studentWithT1("s1", scoreOf(18)),
		studentWithT1("s2", scoreOf(15)),
		studentWithT1("s3", scoreOf(18)),
		studentWithT1("s4", nil),
		studentWithT1("s5", scoreOf(8)),
	}}
	svc := NewClassStatisticsService(store, nil)

	report, err := svc.Compute(context.Background(), "class-1", models.ScopeT1, "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, 1, store.fetchCalls)

	assert.Equal(t, map[string]int{"s1": 1, "s3": 1, "s2": 3, "s5": 4}, report.Ranks)
	assert.Equal(t, []string{"s4"}, report.Unranked)
	assert.Nil(t, report.PerStudent["s4"])
	assert.Len(t, report.PerStudent, 5)

	assert.Equal(t, 4, report.Stats.Count)
	require.NotNil(t, report.Stats.Mean)
	assert.Equal(t, 14.75, *report.Stats.Mean)
	assert.Equal(t, 8.0, *report.Stats.Min)
	assert.Equal(t, 18.0, *report.Stats.Max)
	assert.Equal(t, 0.75, *report.Stats.PassRate)
}

func TestClassStatisticsPassRateNilWhenNobodyRanked(t *testing.T) {
	report := BuildClassStatistics("c", models.ScopeT2, "2024-2025", []models.StudentGrades{
		studentWithT1("s1", scoreOf(12)),
	})
	assert.Equal(t, 0, report.Stats.Count)
	assert.Nil(t, report.Stats.PassRate)
	assert.Nil(t, report.Stats.Mean)
	assert.Equal(t, []string{"s1"}, report.Unranked)
}

func TestClassStatisticsValidatesInput(t *testing.T) {
	svc := NewClassStatisticsService(&stubGradeStore{}, nil)
	_, err := svc.Compute(context.Background(), "", models.ScopeT1, "2024-2025")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Compute(context.Background(), "c", models.Scope("Q1"), "2024-2025")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestClassStatisticsWrapsStoreErrors(t *testing.T) {
	svc := NewClassStatisticsService(&stubGradeStore{err: errors.New("db down")}, nil)
	_, err := svc.Compute(context.Background(), "c", models.ScopeT1, "2024-2025")
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestClassStatisticsKeepsStoreValidationErrors(t *testing.T) {
	invalid := appErrors.Clone(appErrors.ErrValidation, "invalid stored grade for student s1 subject math")
	svc := NewClassStatisticsService(&stubGradeStore{err: invalid}, nil)
	_, err := svc.Compute(context.Background(), "c", models.ScopeT1, "2024-2025")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.False(t, errors.Is(err, appErrors.ErrInternal))
}

func TestRankStudent(t *testing.T) {
	store := &stubGradeStore{class: []models.StudentGrades{
		studentWithT1("s1", scoreOf(11)),
		studentWithT1("s2", scoreOf(13)),
		studentWithT1("s3", nil),
	}}
	svc := NewClassStatisticsService(store, nil)

	standing, err := svc.RankStudent(context.Background(), "s1", "c", models.ScopeT1, "2024-2025")
	require.NoError(t, err)
	require.NotNil(t, standing.Rank)
	assert.Equal(t, 2, *standing.Rank)
	assert.Equal(t, 2, standing.Ranked)
	assert.Equal(t, 3, standing.Total)

	pending, err := svc.RankStudent(context.Background(), "s3", "c", models.ScopeT1, "2024-2025")
	require.NoError(t, err)
	assert.Nil(t, pending.Rank)

	_, err = svc.RankStudent(context.Background(), "ghost", "c", models.ScopeT1, "2024-2025")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
