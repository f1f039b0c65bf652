package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jroosing/madns/internal/api/handlers"
)

// RegisterRoutes wires the three diagnostics endpoints from SPEC_FULL.md
// §4.8. No swagger route: the teacher's depended on a swag-generated docs
// package absent from the retrieval pack (see DESIGN.md).
func RegisterRoutes(r *gin.Engine, h *handlers.Handler) {
	api := r.Group("/api/v1")

	api.GET("/health", h.Health)
	api.GET("/stats", h.Stats)
	api.GET("/dump", h.Dump)
}
