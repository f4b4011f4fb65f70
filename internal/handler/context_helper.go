package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-bulletin-api/internal/middleware"
	"github.com/noah-isme/sma-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/sma-bulletin-api/pkg/errors"
	"github.com/noah-isme/sma-bulletin-api/pkg/response"
)

// actorFromContext returns the authenticated actor or writes a 401 and reports false.
func actorFromContext(c *gin.Context) (models.Actor, bool) {
	claims := middleware.Claims(c)
	if claims == nil || claims.UserID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
		return false
	}
	return true
}
