// Keyvex API Handlers
// REST endpoints for agents, orchestration, contexts, tools and validation.

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"keyvex/internal/agents"
	"keyvex/internal/ai"
	"keyvex/internal/artifacts"
	"keyvex/internal/logging"
	"keyvex/internal/middleware"
	"keyvex/internal/orchestrator"
	"keyvex/internal/store"
	"keyvex/internal/validation"
	"keyvex/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Handler contains all the dependencies for API handlers
type Handler struct {
	Store        store.ContextStore
	Agents       *agents.Registry
	Orchestrator *orchestrator.Orchestrator
	Validator    *validation.Validator
	Archive      *artifacts.Archive
	AIRouter     *ai.Router
	WSHub        *websocket.Hub

	// Checks are dependency probes reported by /health?deep=true.
	Checks map[string]func(context.Context) error
}

var startTime = time.Now()

// StandardResponse represents a standard API response
type StandardResponse struct {
	Success bool        `json:"success"`
	JobID   string      `json:"jobId,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	StandardResponse
	Pagination *PaginationInfo `json:"pagination,omitempty"`
}

// PaginationInfo contains pagination metadata
type PaginationInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// RegisterRoutes mounts every endpoint on r. The websocket route is only
// added when a hub is configured.
func (h *Handler) RegisterRoutes(r gin.IRouter, apiMiddleware ...gin.HandlerFunc) {
	r.GET("/health", h.Health)

	api := r.Group("/api", apiMiddleware...)
	{
		api.POST("/ai/agents/:agent", h.RunAgent)

		orch := api.Group("/ai/orchestrate")
		orch.POST("/start", h.StartOrchestration)
		orch.POST("/step", h.StepOrchestration)
		orch.POST("/resume", h.ResumeOrchestration)
		orch.GET("/status/:jobId", h.OrchestrationStatus)
		orch.DELETE("/:jobId", h.CancelOrchestration)

		api.GET("/tcc", h.ListTCC)
		api.GET("/tcc/:jobId", h.GetTCC)
		api.DELETE("/tcc/:jobId", h.DeleteTCC)

		api.GET("/tools", h.ListTools)
		api.GET("/tools/:jobId", h.GetTool)

		api.POST("/validate", h.ValidateCode)
	}

	if h.WSHub != nil {
		r.GET("/ws/jobs/:jobId", h.WSHub.HandleJobSocket)
	}
}

func badRequest(c *gin.Context, code, message string) {
	middleware.AbortWithError(c, http.StatusBadRequest, code, message)
}

// respondError maps domain errors onto status codes.
func respondError(c *gin.Context, err error) {
	var (
		verrs    validator.ValidationErrors
		agentErr *orchestrator.AgentError
	)

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, artifacts.ErrNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, orchestrator.ErrUnknownAgent):
		middleware.AbortWithError(c, http.StatusNotFound, "UNKNOWN_AGENT", err.Error())
	case errors.As(err, &verrs):
		badRequest(c, "VALIDATION_FAILED", err.Error())
	case errors.Is(err, agents.ErrMissingInput):
		badRequest(c, "MISSING_INPUT", err.Error())
	case errors.Is(err, store.ErrExists):
		middleware.AbortWithError(c, http.StatusConflict, "JOB_EXISTS", err.Error())
	case errors.Is(err, orchestrator.ErrJobRunning):
		middleware.AbortWithError(c, http.StatusConflict, "JOB_RUNNING", err.Error())
	case errors.Is(err, orchestrator.ErrJobCompleted):
		middleware.AbortWithError(c, http.StatusConflict, "JOB_COMPLETED", err.Error())
	case errors.As(err, &agentErr) && agentErr.Status >= 400 && agentErr.Status < 500:
		middleware.AbortWithError(c, agentErr.Status, agentErr.Code, agentErr.Msg)
	case errors.Is(err, ai.ErrInvalidObject):
		middleware.AbortWithError(c, http.StatusInternalServerError, "INVALID_MODEL_OUTPUT", err.Error())
	default:
		logging.L().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// Helper function to page an in-memory slice
func paginate[T any](items []T, page, limit int) []T {
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Helper function to get pagination info
func getPaginationInfo(page, limit int, total int64) *PaginationInfo {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))

	return &PaginationInfo{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// Helper function to parse pagination parameters
func parsePaginationParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}

	return page, limit
}
