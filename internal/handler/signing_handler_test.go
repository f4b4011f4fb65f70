package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
)

type signingServiceMock struct {
	req service.BulkSignRequest
	err error
}

func (m *signingServiceMock) BulkSign(ctx context.Context, req service.BulkSignRequest) (*models.BulkSignResult, error) {
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return &models.BulkSignResult{SignedCount: 3}, nil
}

func (m *signingServiceMock) Signatures(ctx context.Context, bulletinID string) ([]models.Signature, error) {
	return []models.Signature{{BulletinID: bulletinID, SignerName: "A. Director"}}, m.err
}

func TestSigningHandlerUsesClassFromPath(t *testing.T) {
	mock := &signingServiceMock{}
	h := NewSigningHandler(mock)
	body := []byte(`{"class_id":"other","signer_name":"A. Director","signer_position":"Director","has_stamp":true}`)
	c, w := newTestContext(http.MethodPost, "/classes/c-1/bulletins/sign", body)
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}

	h.BulkSign(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-1", mock.req.ClassID)
	assert.True(t, mock.req.HasStamp)
}

func TestSigningHandlerPropagatesValidation(t *testing.T) {
	h := NewSigningHandler(&signingServiceMock{err: appErrors.Clone(appErrors.ErrValidation, "signer name is required")})
	c, w := newTestContext(http.MethodPost, "/classes/c-1/bulletins/sign", []byte(`{}`))
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}

	h.BulkSign(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSigningHandlerSignatures(t *testing.T) {
	h := NewSigningHandler(&signingServiceMock{})
	c, w := newTestContext(http.MethodGet, "/bulletins/b-1/signatures", nil)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}

	h.Signatures(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "A. Director")
}
