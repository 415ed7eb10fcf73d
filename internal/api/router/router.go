package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/cog-core/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	statusHandler := handler.NewStatusHandler(deps)
	functionHandler := handler.NewFunctionHandler(deps)
	workflowHandler := handler.NewWorkflowHandler(deps)

	r.GET("/", statusHandler.Status)
	r.GET("/health", statusHandler.Health)

	api := r.Group("/api")
	{
		// GET /api/integrated-functions - Function catalogue with schemas
		api.GET("/integrated-functions", functionHandler.ListFunctions)

		// GET /api/scheduled-workflows - Reconstructed workflow schedule
		api.GET("/scheduled-workflows", workflowHandler.ListWorkflows)

		// GET /api/remove-workflow/:workflowName - Cancel a scheduled workflow
		api.GET("/remove-workflow/:workflowName", workflowHandler.RemoveWorkflow)

		// DELETE /api/workflows/:workflowName - Cancel a scheduled workflow
		api.DELETE("/workflows/:workflowName", workflowHandler.RemoveWorkflow)

		// POST /api/:function - Dispatch an integrated function
		api.POST("/:function", functionHandler.Dispatch)
	}

	return r
}
