package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/cog-core/internal/api/dto"
	"github.com/cuongbtq/cog-core/internal/function"
	"github.com/cuongbtq/cog-core/internal/queue"
	"github.com/cuongbtq/cog-core/internal/workflow"
)

// ListWorkflows handles GET /api/scheduled-workflows
// extendedDetails=true adds queue, key and next run to every entry
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	var req dto.ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, function.RespondError(http.StatusBadRequest, "invalid query parameters"))
		return
	}
	if c.Request.ContentLength > 0 {
		var bodyReq dto.ListWorkflowsRequest
		if err := c.ShouldBindJSON(&bodyReq); err == nil {
			req.ExtendedDetails = req.ExtendedDetails || bodyReq.ExtendedDetails
		}
	}

	schedule := h.workflows.Reconstruct(c.Request.Context(), req.ExtendedDetails)

	c.JSON(http.StatusOK, function.RespondWith(http.StatusOK,
		fmt.Sprintf("found %d workflows", len(schedule)),
		schedule,
	))
}

// RemoveWorkflow handles GET /api/remove-workflow/:workflowName and
// DELETE /api/workflows/:workflowName
func (h *WorkflowHandler) RemoveWorkflow(c *gin.Context) {
	name := c.Param("workflowName")
	h.logger.Info("Received request to remove workflow",
		slog.String("workflow", name),
	)

	removal, err := h.workflows.Remove(c.Request.Context(), name)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, function.RespondWith(http.StatusOK,
			fmt.Sprintf("successfully removed workflow '%s'", name),
			removal,
		))

	case errors.Is(err, workflow.ErrWorkflowNotFound), errors.Is(err, queue.ErrScheduleNotFound):
		msg := fmt.Sprintf("workflow '%s' not found!", name)
		h.logger.Warn(msg)
		c.JSON(http.StatusNotFound, function.RespondError(http.StatusNotFound, msg))

	default:
		h.logger.Error("Failed to remove workflow",
			slog.String("workflow", name),
			slog.Any("error", err),
		)
		c.JSON(http.StatusServiceUnavailable, function.RespondError(http.StatusServiceUnavailable,
			fmt.Sprintf("failed to remove workflow '%s'", name)))
	}
}
