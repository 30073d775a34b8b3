package apirouter

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	ErrMissingAuthHeader  = errors.New("missing authorization header")
	ErrInvalidBearerToken = errors.New("invalid bearer token format")
)

// APIKeyAuthMiddleware guards the admin surface with a static bearer
// key. An empty key means the deployment fronts the API with its own
// network controls and every caller is trusted.
func APIKeyAuthMiddleware(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			AbortWithError(c, http.StatusUnauthorized, ErrorResponse{Message: ErrMissingAuthHeader.Error()})
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			AbortWithError(c, http.StatusUnauthorized, ErrorResponse{Message: ErrInvalidBearerToken.Error()})
			return
		}
		if token != apiKey {
			AbortWithError(c, http.StatusUnauthorized, ErrorResponse{Message: "invalid api key"})
			return
		}
		c.Next()
	}
}

// orgIDParam parses the :orgID path segment. Aborts with 400 on a
// non-numeric value.
func orgIDParam(c *gin.Context) (int64, bool) {
	orgID, err := strconv.ParseInt(c.Param("orgID"), 10, 64)
	if err != nil || orgID <= 0 {
		AbortWithError(c, http.StatusBadRequest, ErrorResponse{Message: "invalid org id"})
		return 0, false
	}
	return orgID, true
}
