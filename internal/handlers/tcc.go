package handlers

import (
	"net/http"

	"keyvex/internal/artifacts"

	"github.com/gin-gonic/gin"
)

// ValidateRequest is the body of POST /api/validate
type ValidateRequest struct {
	Code string `json:"code" binding:"required"`
}

// ListTCC returns context summaries, newest first
func (h *Handler) ListTCC(c *gin.Context) {
	page, limit := parsePaginationParams(c)

	summaries, err := h.Store.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		StandardResponse: StandardResponse{
			Success: true,
			Data:    paginate(summaries, page, limit),
		},
		Pagination: getPaginationInfo(page, limit, int64(len(summaries))),
	})
}

// GetTCC returns the full context of a job
func (h *Handler) GetTCC(c *gin.Context) {
	t, err := h.Store.Get(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, JobID: t.JobID, Data: t})
}

// DeleteTCC removes a context. A running job is cancelled first.
func (h *Handler) DeleteTCC(c *gin.Context) {
	jobID := c.Param("jobId")
	if _, err := h.Store.Get(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}

	var err error
	if h.Orchestrator != nil {
		err = h.Orchestrator.Cleanup(c.Request.Context(), jobID)
	} else {
		err = h.Store.Delete(c.Request.Context(), jobID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, JobID: jobID, Message: "Context deleted"})
}

// GetTool returns a finished tool. The archive is preferred; a job whose
// tool was never archived is served from its context.
func (h *Handler) GetTool(c *gin.Context) {
	jobID := c.Param("jobId")
	ctx := c.Request.Context()

	if h.Archive != nil {
		def, err := h.Archive.LoadTool(ctx, jobID)
		if err == nil {
			c.JSON(http.StatusOK, StandardResponse{Success: true, JobID: jobID, Data: def})
			return
		}
		if !isNotFound(err) {
			respondError(c, err)
			return
		}
	}

	t, err := h.Store.Get(ctx, jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	if t.FinalProduct == nil {
		respondError(c, artifacts.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, JobID: jobID, Data: t.FinalProduct})
}

// ListTools returns the job IDs of archived tools
func (h *Handler) ListTools(c *gin.Context) {
	if h.Archive == nil {
		c.JSON(http.StatusOK, StandardResponse{Success: true, Data: []string{}})
		return
	}
	ids, err := h.Archive.ListTools(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: ids})
}

// ValidateCode checks component source without a job
func (h *Handler) ValidateCode(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "code is required")
		return
	}

	result := h.Validator.Validate(c.Request.Context(), req.Code)
	c.JSON(http.StatusOK, StandardResponse{Success: true, Data: result})
}
