package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-bulletin-api/internal/dto"
	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/response"
)

type statisticsService interface {
	Compute(ctx context.Context, classID string, scope models.Scope, academicYear string) (*models.ClassStatisticsReport, error)
	RankStudent(ctx context.Context, studentID, classID string, scope models.Scope, academicYear string) (*models.StudentStanding, error)
}

// StatisticsHandler exposes class statistics and the grade preview calculator.
type StatisticsHandler struct {
	stats     statisticsService
	validator *validator.Validate
}

// NewStatisticsHandler constructs the handler.
func NewStatisticsHandler(stats statisticsService, validate *validator.Validate) *StatisticsHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &StatisticsHandler{stats: stats, validator: validate}
}

// ClassStatistics godoc
// @Summary Class averages, ranks and summary statistics
// @Tags Statistics
// @Produce json
// @Param id path string true "Class ID"
// @Param scope query string true "T1, T2, T3 or ANNUAL"
// @Param academic_year query string true "Academic year"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/statistics [get]
func (h *StatisticsHandler) ClassStatistics(c *gin.Context) {
	query, ok := h.bindQuery(c)
	if !ok {
		return
	}
	report, err := h.stats.Compute(c.Request.Context(), c.Param("id"), query.Scope, query.AcademicYear)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// StudentRank godoc
// @Summary Rank of one student within a class
// @Tags Statistics
// @Produce json
// @Param id path string true "Class ID"
// @Param studentId path string true "Student ID"
// @Param scope query string true "T1, T2, T3 or ANNUAL"
// @Param academic_year query string true "Academic year"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students/{studentId}/rank [get]
func (h *StatisticsHandler) StudentRank(c *gin.Context) {
	query, ok := h.bindQuery(c)
	if !ok {
		return
	}
	standing, err := h.stats.RankStudent(c.Request.Context(), c.Param("studentId"), c.Param("id"), query.Scope, query.AcademicYear)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, standing, nil)
}

// Preview godoc
// @Summary Compute an average, term validation and council decision from raw grades
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body dto.GradePreviewRequest true "Subjects and scope"
// @Success 200 {object} response.Envelope
// @Router /grades/preview [post]
func (h *StatisticsHandler) Preview(c *gin.Context) {
	var req dto.GradePreviewRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	subjects := make([]models.SubjectGrade, 0, len(req.Subjects))
	for _, s := range req.Subjects {
		subjects = append(subjects, s.Model())
	}
	result := dto.GradePreviewResponse{
		Scope:      req.Scope,
		Average:    service.ComputeWeightedAverage(subjects, req.Scope),
		Validation: service.ValidateTermRequirements(subjects, req.Scope),
	}
	if req.Scope == models.ScopeAnnual && result.Average != nil {
		decision := service.DetermineCouncilDecision(*result.Average)
		result.CouncilDecision = &decision
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func (h *StatisticsHandler) bindQuery(c *gin.Context) (dto.StatisticsQuery, bool) {
	var query dto.StatisticsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return query, false
	}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "scope and academic_year are required"))
		return query, false
	}
	return query, true
}
