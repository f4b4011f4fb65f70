package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
	"github.com/noah-isme/sma-bulletin-api/pkg/response"
)

type signingService interface {
	BulkSign(ctx context.Context, req service.BulkSignRequest) (*models.BulkSignResult, error)
	Signatures(ctx context.Context, bulletinID string) ([]models.Signature, error)
}

// SigningHandler exposes bulk signing.
type SigningHandler struct {
	signing signingService
}

// NewSigningHandler constructs the handler.
func NewSigningHandler(signing signingService) *SigningHandler {
	return &SigningHandler{signing: signing}
}

// BulkSign godoc
// @Summary Sign every approved bulletin of a class
// @Tags Signing
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.BulkSignRequest true "Signer"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/bulletins/sign [post]
func (h *SigningHandler) BulkSign(c *gin.Context) {
	var req service.BulkSignRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ClassID = c.Param("id")
	result, err := h.signing.BulkSign(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Signatures godoc
// @Summary Signatures applied to a bulletin
// @Tags Signing
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/signatures [get]
func (h *SigningHandler) Signatures(c *gin.Context) {
	signatures, err := h.signing.Signatures(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, signatures, nil)
}
