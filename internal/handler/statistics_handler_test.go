package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/dto"
	"github.com/noah-isme/sma-bulletin-api/internal/models"
)

type statisticsServiceMock struct {
	scope models.Scope
	year  string
}

func (m *statisticsServiceMock) Compute(ctx context.Context, classID string, scope models.Scope, academicYear string) (*models.ClassStatisticsReport, error) {
	m.scope, m.year = scope, academicYear
	return &models.ClassStatisticsReport{ClassID: classID, Scope: scope, AcademicYear: academicYear}, nil
}

func (m *statisticsServiceMock) RankStudent(ctx context.Context, studentID, classID string, scope models.Scope, academicYear string) (*models.StudentStanding, error) {
	rank := 2
	return &models.StudentStanding{StudentID: studentID, Rank: &rank, Ranked: 30, Total: 31}, nil
}

func TestStatisticsHandlerClassStatistics(t *testing.T) {
	mock := &statisticsServiceMock{}
	h := NewStatisticsHandler(mock, nil)
	c, w := newTestContext(http.MethodGet, "/classes/c-1/statistics?scope=ANNUAL&academic_year=2024-2025", nil)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}

	h.ClassStatistics(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ScopeAnnual, mock.scope)
	assert.Equal(t, "2024-2025", mock.year)
}

func TestStatisticsHandlerRequiresScope(t *testing.T) {
	h := NewStatisticsHandler(&statisticsServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/classes/c-1/statistics?scope=T4&academic_year=2024-2025", nil)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}

	h.ClassStatistics(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatisticsHandlerStudentRank(t *testing.T) {
	h := NewStatisticsHandler(&statisticsServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/classes/c-1/students/s-1/rank?scope=T1&academic_year=2024-2025", nil)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}, {Key: "studentId", Value: "s-1"}}

	h.StudentRank(c)
	require.Equal(t, http.StatusOK, w.Code)
	var standing models.StudentStanding
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &standing))
	assert.Equal(t, "s-1", standing.StudentID)
	require.NotNil(t, standing.Rank)
	assert.Equal(t, 2, *standing.Rank)
}

func score(v float64) *float64 { return &v }

func TestStatisticsHandlerPreviewAnnualDecision(t *testing.T) {
	h := NewStatisticsHandler(&statisticsServiceMock{}, nil)
	payload, _ := json.Marshal(dto.GradePreviewRequest{
		Scope: models.ScopeAnnual,
		Subjects: []dto.SubjectGradePayload{
			{SubjectID: "math", SubjectName: "Math", Coefficient: 4, T1: score(15), T2: score(16), T3: score(17)},
			{SubjectID: "fr", SubjectName: "French", Coefficient: 2, T1: score(12), T2: score(12), T3: nil},
		},
	})
	c, w := newTestContext(http.MethodPost, "/grades/preview", payload)

	h.Preview(c)
	require.Equal(t, http.StatusOK, w.Code)
	var preview dto.GradePreviewResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &preview))
	require.NotNil(t, preview.Average)
	// (16*4 + 12*2) / 6
	assert.InDelta(t, 14.67, *preview.Average, 0.001)
	assert.True(t, preview.Validation.Valid)
	require.NotNil(t, preview.CouncilDecision)
	assert.Equal(t, models.DecisionPromote, preview.CouncilDecision.Decision)
	assert.Equal(t, models.MentionGood, preview.CouncilDecision.Mention)
}

func TestStatisticsHandlerPreviewTermReportsMissing(t *testing.T) {
	h := NewStatisticsHandler(&statisticsServiceMock{}, nil)
	payload, _ := json.Marshal(dto.GradePreviewRequest{
		Scope: models.ScopeT3,
		Subjects: []dto.SubjectGradePayload{
			{SubjectID: "math", SubjectName: "Math", Coefficient: 4, T3: score(17)},
			{SubjectID: "fr", SubjectName: "French", Coefficient: 2},
		},
	})
	c, w := newTestContext(http.MethodPost, "/grades/preview", payload)

	h.Preview(c)
	require.Equal(t, http.StatusOK, w.Code)
	var preview dto.GradePreviewResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &preview))
	assert.False(t, preview.Validation.Valid)
	assert.Equal(t, []string{"French"}, preview.Validation.MissingSubjects)
	assert.Nil(t, preview.CouncilDecision)
}

func TestStatisticsHandlerPreviewRejectsOutOfRangeScores(t *testing.T) {
	h := NewStatisticsHandler(&statisticsServiceMock{}, nil)
	payload, _ := json.Marshal(dto.GradePreviewRequest{
		Scope:    models.ScopeT1,
		Subjects: []dto.SubjectGradePayload{{SubjectID: "math", SubjectName: "Math", Coefficient: 4, T1: score(21)}},
	})
	c, w := newTestContext(http.MethodPost, "/grades/preview", payload)

	h.Preview(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
