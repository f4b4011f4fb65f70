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

type dispatcher interface {
	DispatchBulletin(ctx context.Context, bulletinID string, channels []models.Channel, language string) (*models.NotificationBatchResult, error)
	RetryBulletin(ctx context.Context, bulletinID string, targets []service.RetryTarget, language string) (*models.NotificationBatchResult, error)
	SendBulk(ctx context.Context, req service.BulkDispatchRequest) (*models.BulkDispatchSummary, error)
}

type bulkJobs interface {
	Enqueue(ctx context.Context, req service.BulkDispatchRequest, actor models.Actor) (*models.BulkJob, error)
	Result(ctx context.Context, id string, actor models.Actor) (*models.BulkJob, error)
}

// NotificationHandler sends bulletins to families.
type NotificationHandler struct {
	dispatcher dispatcher
	jobs       bulkJobs
	validator  *validator.Validate
}

// NewNotificationHandler constructs the handler. jobs may be nil when asynchronous bulk runs
// are not available.
func NewNotificationHandler(d dispatcher, jobs bulkJobs, validate *validator.Validate) *NotificationHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &NotificationHandler{dispatcher: d, jobs: jobs, validator: validate}
}

// Dispatch godoc
// @Summary Notify the recipients of a published bulletin
// @Tags Notifications
// @Accept json
// @Produce json
// @Param id path string true "Bulletin ID"
// @Param payload body dto.DispatchRequest true "Channels"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/dispatch [post]
func (h *NotificationHandler) Dispatch(c *gin.Context) {
	var req dto.DispatchRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.dispatcher.DispatchBulletin(c.Request.Context(), c.Param("id"), req.Channels, req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Retry godoc
// @Summary Retry failed notification attempts
// @Tags Notifications
// @Accept json
// @Produce json
// @Param id path string true "Bulletin ID"
// @Param payload body dto.RetryRequest true "Failed attempts to retry"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/dispatch/retry [post]
func (h *NotificationHandler) Retry(c *gin.Context) {
	var req dto.RetryRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return
	}
	targets := make([]service.RetryTarget, 0, len(req.Targets))
	for _, t := range req.Targets {
		targets = append(targets, service.RetryTarget{RecipientID: t.RecipientID, Channel: t.Channel})
	}
	result, err := h.dispatcher.RetryBulletin(c.Request.Context(), c.Param("id"), targets, req.Language)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Bulk godoc
// @Summary Notify the recipients of several bulletins
// @Description With async=true the run is queued and its result polled from /notifications/bulk/{id}.
// @Tags Notifications
// @Accept json
// @Produce json
// @Param async query bool false "Run in the background"
// @Param payload body service.BulkDispatchRequest true "Bulletins and channels"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /notifications/bulk [post]
func (h *NotificationHandler) Bulk(c *gin.Context) {
	var req service.BulkDispatchRequest
	if !bindJSON(c, &req) {
		return
	}
	if c.Query("async") == "true" {
		actor, ok := actorFromContext(c)
		if !ok {
			return
		}
		if h.jobs == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrPreconditionFailed, "background dispatch is disabled"))
			return
		}
		job, err := h.jobs.Enqueue(c.Request.Context(), req, actor)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, job)
		return
	}
	summary, err := h.dispatcher.SendBulk(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// BulkResult godoc
// @Summary Result of a background bulk dispatch
// @Tags Notifications
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /notifications/bulk/{id} [get]
func (h *NotificationHandler) BulkResult(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if h.jobs == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "bulk job not found"))
		return
	}
	job, err := h.jobs.Result(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}
