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

type bulletinService interface {
	Create(ctx context.Context, req service.CreateBulletinRequest, actor models.Actor) (*models.Bulletin, error)
	Get(ctx context.Context, id string) (*models.Bulletin, error)
	List(ctx context.Context, filter models.BulletinFilter) ([]models.Bulletin, *models.Pagination, error)
	Refresh(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error)
	Submit(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error)
	Approve(ctx context.Context, id string, actor models.Actor, comment string) (*models.Bulletin, error)
	Reject(ctx context.Context, id string, actor models.Actor, comment string) (*models.Bulletin, error)
	Reopen(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error)
	Publish(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error)
	PublishClass(ctx context.Context, classID string, term models.Scope, academicYear string, actor models.Actor) ([]service.PublishOutcome, error)
}

// BulletinHandler exposes the bulletin lifecycle.
type BulletinHandler struct {
	bulletins bulletinService
	validator *validator.Validate
}

// NewBulletinHandler constructs the handler.
func NewBulletinHandler(bulletins bulletinService, validate *validator.Validate) *BulletinHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &BulletinHandler{bulletins: bulletins, validator: validate}
}

// Create godoc
// @Summary Open a draft bulletin
// @Tags Bulletins
// @Accept json
// @Produce json
// @Param payload body service.CreateBulletinRequest true "Bulletin payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bulletins [post]
func (h *BulletinHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.CreateBulletinRequest
	if !bindJSON(c, &req) {
		return
	}
	bulletin, err := h.bulletins.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, bulletin)
}

// Get godoc
// @Summary Get bulletin
// @Tags Bulletins
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id} [get]
func (h *BulletinHandler) Get(c *gin.Context) {
	bulletin, err := h.bulletins.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bulletin, nil)
}

// ListByClass godoc
// @Summary List bulletins of a class
// @Tags Bulletins
// @Produce json
// @Param id path string true "Class ID"
// @Param term query string false "T1, T2 or T3"
// @Param academic_year query string false "Academic year"
// @Param status query string false "Workflow status"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/bulletins [get]
func (h *BulletinHandler) ListByClass(c *gin.Context) {
	var query dto.BulletinListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	filter := models.BulletinFilter{
		ClassID:      c.Param("id"),
		AcademicYear: query.AcademicYear,
		Term:         query.Term,
		Page:         query.Page,
		PageSize:     query.PageSize,
	}
	if query.Status != "" {
		status := models.BulletinStatus(query.Status)
		filter.Status = &status
	}
	items, pagination, err := h.bulletins.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Refresh godoc
// @Summary Recompute a draft bulletin preview
// @Tags Bulletins
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/refresh [post]
func (h *BulletinHandler) Refresh(c *gin.Context) {
	h.transition(c, h.bulletins.Refresh)
}

// Submit godoc
// @Summary Submit a bulletin for approval
// @Tags Bulletins
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /bulletins/{id}/submit [post]
func (h *BulletinHandler) Submit(c *gin.Context) {
	h.transition(c, h.bulletins.Submit)
}

// Approve godoc
// @Summary Approve a submitted bulletin
// @Tags Bulletins
// @Accept json
// @Produce json
// @Param id path string true "Bulletin ID"
// @Param payload body dto.CommentRequest false "Optional comment"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/approve [post]
func (h *BulletinHandler) Approve(c *gin.Context) {
	h.commented(c, h.bulletins.Approve)
}

// Reject godoc
// @Summary Reject a submitted bulletin
// @Tags Bulletins
// @Accept json
// @Produce json
// @Param id path string true "Bulletin ID"
// @Param payload body dto.CommentRequest true "Rejection comment"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/reject [post]
func (h *BulletinHandler) Reject(c *gin.Context) {
	h.commented(c, h.bulletins.Reject)
}

// Reopen godoc
// @Summary Move a rejected bulletin back to draft
// @Tags Bulletins
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/reopen [post]
func (h *BulletinHandler) Reopen(c *gin.Context) {
	h.transition(c, h.bulletins.Reopen)
}

// Publish godoc
// @Summary Publish an approved bulletin
// @Tags Bulletins
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/publish [post]
func (h *BulletinHandler) Publish(c *gin.Context) {
	h.transition(c, h.bulletins.Publish)
}

// PublishClass godoc
// @Summary Publish every bulletin of a class term
// @Tags Bulletins
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body dto.ClassTermRequest true "Term selection"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/bulletins/publish [post]
func (h *BulletinHandler) PublishClass(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.ClassTermRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	outcomes, err := h.bulletins.PublishClass(c.Request.Context(), c.Param("id"), req.Term, req.AcademicYear, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcomes, nil)
}

func (h *BulletinHandler) transition(c *gin.Context, fn func(context.Context, string, models.Actor) (*models.Bulletin, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	bulletin, err := fn(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bulletin, nil)
}

func (h *BulletinHandler) commented(c *gin.Context, fn func(context.Context, string, models.Actor, string) (*models.Bulletin, error)) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CommentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	bulletin, err := fn(c.Request.Context(), c.Param("id"), actor, req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bulletin, nil)
}
