package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/middleware"
	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

func newTestContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func asUser(c *gin.Context, id string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: id, Role: role})
}

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Error      *appErrors.Error   `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type bulletinServiceMock struct {
	bulletin    *models.Bulletin
	err         error
	lastComment string
	lastActor   models.Actor
	lastFilter  models.BulletinFilter
	outcomes    []service.PublishOutcome
}

func (m *bulletinServiceMock) Create(ctx context.Context, req service.CreateBulletinRequest, actor models.Actor) (*models.Bulletin, error) {
	m.lastActor = actor
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) Get(ctx context.Context, id string) (*models.Bulletin, error) {
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) List(ctx context.Context, filter models.BulletinFilter) ([]models.Bulletin, *models.Pagination, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, nil, m.err
	}
	return []models.Bulletin{*m.bulletin}, &models.Pagination{Page: 1, PageSize: 50, TotalCount: 1}, nil
}

func (m *bulletinServiceMock) Refresh(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) Submit(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	m.lastActor = actor
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) Approve(ctx context.Context, id string, actor models.Actor, comment string) (*models.Bulletin, error) {
	m.lastComment = comment
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) Reject(ctx context.Context, id string, actor models.Actor, comment string) (*models.Bulletin, error) {
	m.lastComment = comment
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) Reopen(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) Publish(ctx context.Context, id string, actor models.Actor) (*models.Bulletin, error) {
	return m.bulletin, m.err
}

func (m *bulletinServiceMock) PublishClass(ctx context.Context, classID string, term models.Scope, academicYear string, actor models.Actor) ([]service.PublishOutcome, error) {
	return m.outcomes, m.err
}

func TestBulletinHandlerCreate(t *testing.T) {
	mock := &bulletinServiceMock{bulletin: &models.Bulletin{ID: "b-1", Status: models.BulletinDraft}}
	h := NewBulletinHandler(mock, nil)

	payload, _ := json.Marshal(service.CreateBulletinRequest{StudentID: "s-1", ClassID: "c-1", Term: models.ScopeT1, AcademicYear: "2024-2025"})
	c, w := newTestContext(http.MethodPost, "/bulletins", payload)
	asUser(c, "teacher-1", models.RoleTeacher)

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.Actor{ID: "teacher-1", Role: models.RoleTeacher}, mock.lastActor)
}

func TestBulletinHandlerRequiresAuthentication(t *testing.T) {
	h := NewBulletinHandler(&bulletinServiceMock{}, nil)
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/submit", nil)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}

	h.Submit(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBulletinHandlerSubmitIncomplete(t *testing.T) {
	mock := &bulletinServiceMock{err: appErrors.NewValidationIncomplete([]string{"Physics"})}
	h := NewBulletinHandler(mock, nil)
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/submit", nil)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}
	asUser(c, "teacher-1", models.RoleTeacher)

	h.Submit(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_INCOMPLETE", env.Error.Code)
	assert.Contains(t, w.Body.String(), "Physics")
}

func TestBulletinHandlerInvalidTransitionIsConflict(t *testing.T) {
	mock := &bulletinServiceMock{err: appErrors.NewInvalidTransition("draft", "approve")}
	h := NewBulletinHandler(mock, nil)
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/approve", nil)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}
	asUser(c, "director-1", models.RoleDirector)

	h.Approve(c)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, w).Error.Code)
}

func TestBulletinHandlerRejectPassesComment(t *testing.T) {
	mock := &bulletinServiceMock{bulletin: &models.Bulletin{ID: "b-1", Status: models.BulletinRejected}}
	h := NewBulletinHandler(mock, nil)
	payload, _ := json.Marshal(map[string]string{"comment": "check physics"})
	c, w := newTestContext(http.MethodPost, "/bulletins/b-1/reject", payload)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}
	asUser(c, "director-1", models.RoleDirector)

	h.Reject(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "check physics", mock.lastComment)
}

func TestBulletinHandlerListByClassBuildsFilter(t *testing.T) {
	mock := &bulletinServiceMock{bulletin: &models.Bulletin{ID: "b-1"}}
	h := NewBulletinHandler(mock, nil)
	c, w := newTestContext(http.MethodGet, "/classes/c-1/bulletins?term=T2&status=approved&page=2", nil)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}
	asUser(c, "teacher-1", models.RoleTeacher)

	h.ListByClass(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-1", mock.lastFilter.ClassID)
	assert.Equal(t, models.ScopeT2, mock.lastFilter.Term)
	require.NotNil(t, mock.lastFilter.Status)
	assert.Equal(t, models.BulletinApproved, *mock.lastFilter.Status)
	assert.Equal(t, 2, mock.lastFilter.Page)
	assert.NotNil(t, decode(t, w).Pagination)
}

func TestBulletinHandlerListByClassRejectsUnknownStatus(t *testing.T) {
	h := NewBulletinHandler(&bulletinServiceMock{}, nil)
	c, w := newTestContext(http.MethodGet, "/classes/c-1/bulletins?status=archived", nil)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}

	h.ListByClass(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulletinHandlerPublishClass(t *testing.T) {
	mock := &bulletinServiceMock{outcomes: []service.PublishOutcome{
		{BulletinID: "b-1", Status: models.BulletinPublished},
		{BulletinID: "b-2", Status: models.BulletinDraft, Error: "cannot publish a bulletin in state draft"},
	}}
	h := NewBulletinHandler(mock, nil)
	payload, _ := json.Marshal(map[string]string{"term": "T1", "academic_year": "2024-2025"})
	c, w := newTestContext(http.MethodPost, "/classes/c-1/bulletins/publish", payload)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}
	asUser(c, "director-1", models.RoleDirector)

	h.PublishClass(c)
	require.Equal(t, http.StatusOK, w.Code)
	var outcomes []service.PublishOutcome
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &outcomes))
	assert.Len(t, outcomes, 2)
}
