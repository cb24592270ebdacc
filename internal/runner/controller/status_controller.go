package controller

import (
	"context"

	"codelens/internal/runner/repository"
	"codelens/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusController serves batch progress and health endpoints.
type StatusController struct {
	statuses *repository.StatusRepository
	pingers  map[string]Pinger
}

// NewStatusController creates a new StatusController. The pingers map
// names each dependency checked by the health endpoint.
func NewStatusController(statuses *repository.StatusRepository, pingers map[string]Pinger) *StatusController {
	return &StatusController{statuses: statuses, pingers: pingers}
}

// GetStatus returns the progress snapshot for one batch.
func (h *StatusController) GetStatus(c *gin.Context) {
	batchID := c.Param("id")
	if batchID == "" {
		response.BadRequest(c, "Invalid batch id")
		return
	}
	status, err := h.statuses.Get(c.Request.Context(), batchID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Health reports dependency reachability.
func (h *StatusController) Health(c *gin.Context) {
	checks := make(map[string]string, len(h.pingers))
	healthy := true
	for name, p := range h.pingers {
		if err := p.Ping(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}
	if !healthy {
		c.JSON(503, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(200, gin.H{"status": "ok", "checks": checks})
}
