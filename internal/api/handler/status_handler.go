package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/cog-core/internal/api/dto"
	"github.com/cuongbtq/cog-core/internal/function"
)

// Status handles GET /
func (h *StatusHandler) Status(c *gin.Context) {
	status := dto.StatusResponse{
		Host:                        h.host,
		NumberOfIntegratedFunctions: h.registry.Len(),
		NumberOfScheduledWorkflows:  len(h.workflows.Reconstruct(c.Request.Context(), false)),
		Broker:                      dto.BrokerStatus{Driver: h.driver},
	}

	c.JSON(http.StatusOK, function.RespondWith(http.StatusOK, "OK - cog is up!", status))
}

// Health handles GET /health. Any failing check turns the response into a 503.
func (h *StatusHandler) Health(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			checks[name] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{
		"status":  status,
		"service": "cog-api-service",
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	c.JSON(code, body)
}
