package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/cog-core/internal/api/dto"
	"github.com/cuongbtq/cog-core/internal/function"
)

const maxBodyBytes = 1 << 20

// Dispatch handles POST /api/:function
// Validates the body against the function's schema and submits the work
func (h *FunctionHandler) Dispatch(c *gin.Context) {
	name := c.Param("function")
	h.logger.Debug("Received request to execute function",
		slog.String("function", name),
	)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("Failed to read request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, function.RespondError(http.StatusBadRequest, "failed to read request body"))
		return
	}

	resp := h.dispatcher.Dispatch(c.Request.Context(), name, body)
	c.JSON(resp.StatusCode, resp)
}

// ListFunctions handles GET /api/integrated-functions
func (h *FunctionHandler) ListFunctions(c *gin.Context) {
	functions, err := h.registry.DescribeAll()
	if err != nil {
		h.logger.Error("Failed to describe integrated functions", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, function.RespondError(http.StatusInternalServerError, "failed to describe integrated functions"))
		return
	}

	c.JSON(http.StatusOK, function.RespondWith(http.StatusOK,
		fmt.Sprintf("found %d integrated functions", len(functions)),
		dto.FunctionsData{Functions: functions},
	))
}
