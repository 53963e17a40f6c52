package admin

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts /health, /healthz, /metrics, and the authorized
// /admin/* routes on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/healthz", h.Health)
	r.GET("/metrics", h.Metrics)

	adminGroup := r.Group("/admin")
	adminGroup.Use(h.RequireAdmin())
	{
		adminGroup.GET("/status", h.Status)
		adminGroup.GET("/quarantine", h.Quarantine)
	}
}
