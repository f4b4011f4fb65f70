package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/jobs"
)

const bulkJobType = "bulletin_bulk_dispatch"

type bulkSender interface {
	SendBulk(ctx context.Context, req BulkDispatchRequest) (*models.BulkDispatchSummary, error)
}

type bulkQueue interface {
	Enqueue(job jobs.Job) error
}

type bulkPayload struct {
	JobID     string
	Request   BulkDispatchRequest
	CreatedBy string
}

// BulkDispatchService runs bulk notification dispatches in the background and keeps their
// outcome in the cache for polling.
type BulkDispatchService struct {
	sender    bulkSender
	cache     *CacheService
	queue     bulkQueue
	resultTTL time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewBulkDispatchService constructs the service. The queue can be attached later with UseQueue
// since the queue handler is the service itself.
func NewBulkDispatchService(sender bulkSender, cache *CacheService, resultTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *BulkDispatchService {
	if resultTTL <= 0 {
		resultTTL = 24 * time.Hour
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkDispatchService{
		sender:    sender,
		cache:     cache,
		resultTTL: resultTTL,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UseQueue attaches the queue used by Enqueue.
func (s *BulkDispatchService) UseQueue(queue bulkQueue) {
	s.queue = queue
}

func bulkJobKey(id string) string {
	return "bulk_dispatch:" + id
}

// bulkRequestKey fingerprints a request so the same batch cannot be queued twice concurrently.
func bulkRequestKey(req BulkDispatchRequest) string {
	ids := uniqueStrings(req.BulletinIDs)
	sort.Strings(ids)
	channels := make([]string, 0, len(req.Channels))
	for _, c := range req.Channels {
		channels = append(channels, string(c))
	}
	sort.Strings(channels)
	sum := sha1.Sum([]byte(strings.Join(ids, ",") + "|" + strings.Join(channels, ",")))
	return bulkJobType + ":" + hex.EncodeToString(sum[:])
}

// Enqueue validates and queues a bulk dispatch.
func (s *BulkDispatchService) Enqueue(ctx context.Context, req BulkDispatchRequest, actor models.Actor) (*models.BulkJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk dispatch payload")
	}
	if s.queue == nil || !s.cache.Enabled() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "asynchronous dispatch requires the job queue and cache")
	}

	job := &models.BulkJob{
		ID:        uuid.NewString(),
		Status:    models.BulkJobQueued,
		CreatedBy: actor.ID,
		CreatedAt: s.now(),
	}
	if err := s.cache.Set(ctx, bulkJobKey(job.ID), job, s.resultTTL); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store bulk job")
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      job.ID,
		Type:    bulkJobType,
		Key:     bulkRequestKey(req),
		Payload: bulkPayload{JobID: job.ID, Request: req, CreatedBy: actor.ID},
	})
	if err != nil {
		_ = s.cache.Delete(ctx, bulkJobKey(job.ID))
		if errors.Is(err, jobs.ErrDuplicateJob) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an identical bulk dispatch is already running")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue bulk dispatch")
	}
	return job, nil
}

// Result returns a queued or finished job. Teachers only see their own jobs.
func (s *BulkDispatchService) Result(ctx context.Context, id string, actor models.Actor) (*models.BulkJob, error) {
	var job models.BulkJob
	hit, err := s.cache.Get(ctx, bulkJobKey(id), &job)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load bulk job")
	}
	if !hit {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "bulk job not found")
	}
	if actor.Role == models.RoleTeacher && job.CreatedBy != actor.ID {
		return nil, appErrors.ErrForbidden
	}
	return &job, nil
}

// Handle is the queue handler. Dispatch errors are stored on the job rather than retried, since
// every attempt already ran and retrying would only produce duplicates.
func (s *BulkDispatchService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(bulkPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	state := models.BulkJob{
		ID:        payload.JobID,
		CreatedBy: payload.CreatedBy,
		CreatedAt: job.Enqueued,
	}

	summary, err := s.sender.SendBulk(ctx, payload.Request)
	if err != nil {
		state.Status = models.BulkJobFailed
		state.Error = err.Error()
		s.logger.Sugar().Warnw("bulk dispatch failed", "job_id", payload.JobID, "error", err)
	} else {
		summary.ID = payload.JobID
		state.Status = models.BulkJobFinished
		state.Summary = summary
		s.logger.Sugar().Infow("bulk dispatch finished",
			"job_id", payload.JobID,
			"processed", summary.Processed,
			"successful", summary.Successful,
			"failed", summary.Failed,
		)
	}
	return s.cache.Set(context.WithoutCancel(ctx), bulkJobKey(payload.JobID), state, s.resultTTL)
}
