package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderXAdminKey is the header an admin client may present instead of
// the adminKey query parameter.
const HeaderXAdminKey = "X-Admin-Key"

var localhostAddrs = map[string]bool{
	"127.0.0.1":      true,
	"::1":            true,
	"::ffff:127.0.0.1": true,
}

// authorized implements §4.H's admin authorization rule: a configured
// admin key must match in either the query string or the header;
// otherwise only requests from localhost are accepted.
func (h *Handler) authorized(c *gin.Context) bool {
	if h.adminKey != "" {
		key := c.GetHeader(HeaderXAdminKey)
		if key == "" {
			key = c.Query("adminKey")
		}
		return key == h.adminKey
	}
	return localhostAddrs[stripZone(c.ClientIP())]
}

func stripZone(addr string) string {
	return strings.SplitN(addr, "%", 2)[0]
}

// RequireAdmin rejects unauthorized requests with the same 404 an
// undefined path would return, so a probe can't distinguish "wrong key"
// from "no such route" (§4.H "no leakage").
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.authorized(c) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Next()
	}
}
