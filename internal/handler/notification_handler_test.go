package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

type dispatcherMock struct {
	channels []models.Channel
	targets  []service.RetryTarget
	bulk     *service.BulkDispatchRequest
	err      error
}

func (m *dispatcherMock) DispatchBulletin(ctx context.Context, bulletinID string, channels []models.Channel, language string) (*models.NotificationBatchResult, error) {
	m.channels = channels
	if m.err != nil {
		return nil, m.err
	}
	return &models.NotificationBatchResult{BulletinID: bulletinID, SuccessfulEmail: 1}, nil
}

func (m *dispatcherMock) RetryBulletin(ctx context.Context, bulletinID string, targets []service.RetryTarget, language string) (*models.NotificationBatchResult, error) {
	m.targets = targets
	return &models.NotificationBatchResult{BulletinID: bulletinID}, m.err
}

func (m *dispatcherMock) SendBulk(ctx context.Context, req service.BulkDispatchRequest) (*models.BulkDispatchSummary, error) {
	m.bulk = &req
	return &models.BulkDispatchSummary{Processed: len(req.BulletinIDs)}, m.err
}

type bulkJobsMock struct {
	actor models.Actor
	err   error
}

func (m *bulkJobsMock) Enqueue(ctx context.Context, req service.BulkDispatchRequest, actor models.Actor) (*models.BulkJob, error) {
	m.actor = actor
	if m.err != nil {
		return nil, m.err
	}
	return &models.BulkJob{ID: "job-1", Status: models.BulkJobQueued, CreatedBy: actor.ID}, nil
}

func (m *bulkJobsMock) Result(ctx context.Context, id string, actor models.Actor) (*models.BulkJob, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.BulkJob{ID: id, Status: models.BulkJobFinished}, nil
}

func TestNotificationHandlerDispatch(t *testing.T) {
	mock := &dispatcherMock{}
	h := NewNotificationHandler(mock, nil, nil)
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/dispatch", []byte(`{"channels":["email","sms"]}`))
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}

	h.Dispatch(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.Channel{models.ChannelEmail, models.ChannelSMS}, mock.channels)
}

func TestNotificationHandlerDispatchNoChannels(t *testing.T) {
	mock := &dispatcherMock{err: appErrors.ErrNoChannels}
	h := NewNotificationHandler(mock, nil, nil)
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/dispatch", []byte(`{"channels":[]}`))
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}

	h.Dispatch(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NO_CHANNELS", decode(t, w).Error.Code)
}

func TestNotificationHandlerRetryMapsTargets(t *testing.T) {
	mock := &dispatcherMock{}
	h := NewNotificationHandler(mock, nil, nil)
	body := []byte(`{"targets":[{"recipient_id":"r-1","channel":"sms"}]}`)
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/dispatch/retry", body)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}

	h.Retry(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []service.RetryTarget{{RecipientID: "r-1", Channel: models.ChannelSMS}}, mock.targets)
}

func TestNotificationHandlerRetryRejectsUnknownChannel(t *testing.T) {
	h := NewNotificationHandler(&dispatcherMock{}, nil, nil)
	body := []byte(`{"targets":[{"recipient_id":"r-1","channel":"push"}]}`)
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/dispatch/retry", body)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}

	h.Retry(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationHandlerBulkSync(t *testing.T) {
	mock := &dispatcherMock{}
	h := NewNotificationHandler(mock, &bulkJobsMock{}, nil)
	body := []byte(`{"bulletin_ids":["b-1","b-2"],"channels":["email"]}`)
	c, w := newTestContext(http.MethodPost, "/notifications/bulk", body)

	h.Bulk(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.bulk)
	assert.Equal(t, []string{"b-1", "b-2"}, mock.bulk.BulletinIDs)
}

func TestNotificationHandlerBulkAsync(t *testing.T) {
	jobs := &bulkJobsMock{}
	h := NewNotificationHandler(&dispatcherMock{}, jobs, nil)
	body := []byte(`{"bulletin_ids":["b-1"],"channels":["email"]}`)
	c, w := newTestContext(http.MethodPost, "/notifications/bulk?async=true", body)
	asUser(c, "admin-1", models.RoleAdmin)

	h.Bulk(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "admin-1", jobs.actor.ID)
	var job models.BulkJob
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &job))
	assert.Equal(t, models.BulkJobQueued, job.Status)
}

func TestNotificationHandlerBulkAsyncDisabled(t *testing.T) {
	h := NewNotificationHandler(&dispatcherMock{}, nil, nil)
	body := []byte(`{"bulletin_ids":["b-1"],"channels":["email"]}`)
	c, w := newTestContext(http.MethodPost, "/notifications/bulk?async=true", body)
	asUser(c, "admin-1", models.RoleAdmin)

	h.Bulk(c)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestNotificationHandlerBulkResultForbidden(t *testing.T) {
	h := NewNotificationHandler(&dispatcherMock{}, &bulkJobsMock{err: appErrors.ErrForbidden}, nil)
	c, w := newTestContext(http.MethodGet, "/notifications/bulk/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}
	asUser(c, "teacher-2", models.RoleTeacher)

	h.BulkResult(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
