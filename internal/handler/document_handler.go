package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
	"github.com/noah-isme/sma-bulletin-api/pkg/response"
)

type documentService interface {
	Build(ctx context.Context, bulletinID string) (*models.BulletinDocumentData, error)
	IssueRenderToken(ctx context.Context, bulletinID string) (*service.RenderToken, error)
	ResolveRenderToken(ctx context.Context, token string) (*models.BulletinDocumentData, error)
}

// DocumentHandler serves printable bulletin data.
type DocumentHandler struct {
	documents documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(documents documentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Document godoc
// @Summary Document data of an approved bulletin
// @Tags Documents
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 200 {object} response.Envelope
// @Router /bulletins/{id}/document [get]
func (h *DocumentHandler) Document(c *gin.Context) {
	doc, err := h.documents.Build(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// RenderToken godoc
// @Summary Issue a short-lived token for the document renderer
// @Tags Documents
// @Produce json
// @Param id path string true "Bulletin ID"
// @Success 201 {object} response.Envelope
// @Router /bulletins/{id}/render-token [post]
func (h *DocumentHandler) RenderToken(c *gin.Context) {
	token, err := h.documents.IssueRenderToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, token)
}

// Render godoc
// @Summary Document data for a render token
// @Tags Documents
// @Produce json
// @Param token path string true "Render token"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /documents/{token} [get]
func (h *DocumentHandler) Render(c *gin.Context) {
	doc, err := h.documents.ResolveRenderToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}
