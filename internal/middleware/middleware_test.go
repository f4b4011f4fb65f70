package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-bulletin-api/internal/models"
	"github.com/noah-isme/sma-bulletin-api/internal/service"
)

func newProtectedRouter(tokens TokenValidator, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/secure", JWT(tokens), RequireRoles(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).UserID)
	})
	return r
}

func TestJWTAndRBAC(t *testing.T) {
	tokens := service.NewTokenService(service.TokenConfig{Secret: "secret"})
	director, _, err := tokens.Issue(models.Actor{ID: "d1", Role: models.RoleDirector}, "", "")
	require.NoError(t, err)
	teacher, _, err := tokens.Issue(models.Actor{ID: "t1", Role: models.RoleTeacher}, "", "")
	require.NoError(t, err)
	r := newProtectedRouter(tokens, models.RoleDirector, models.RoleAdmin)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + teacher, http.StatusForbidden},
		{"allowed", "Bearer " + director, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/secure", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "d1", w.Body.String())
			}
		})
	}
}

func TestMetricsMiddlewareLabelsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/bulletins/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bulletins/b1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	expected := `
# HELP http_requests_total Total number of HTTP requests
# TYPE http_requests_total counter
http_requests_total{method="GET",path="/bulletins/:id",status="200"} 1
http_requests_total{method="GET",path="unmatched",status="404"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "http_requests_total"))
}
