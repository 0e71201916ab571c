package handlers

import (
	"net/http"

	"keyvex/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// StepRequest selects the job to advance
type StepRequest struct {
	JobID string `json:"jobId" binding:"required"`
}

// StartOrchestration creates a job and runs the pipeline in the background
func (h *Handler) StartOrchestration(c *gin.Context) {
	var req orchestrator.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request format")
		return
	}

	t, err := h.Orchestrator.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, StandardResponse{
		Success: true,
		JobID:   t.JobID,
		Message: "Generation started",
	})
}

// StepOrchestration runs the next pending stage of a job
func (h *Handler) StepOrchestration(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "jobId is required")
		return
	}

	t, err := h.Orchestrator.Step(c.Request.Context(), req.JobID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		JobID:   t.JobID,
		Data:    t,
	})
}

// ResumeOrchestration reruns the unfinished stages of a stopped or failed job
// in the background
func (h *Handler) ResumeOrchestration(c *gin.Context) {
	var req StepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "jobId is required")
		return
	}

	if err := h.Orchestrator.Resume(c.Request.Context(), req.JobID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, StandardResponse{
		Success: true,
		JobID:   req.JobID,
		Message: "Generation resumed",
	})
}

// OrchestrationStatus reports a job's progress
func (h *Handler) OrchestrationStatus(c *gin.Context) {
	report, err := h.Orchestrator.Status(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		JobID:   report.JobID,
		Data:    report,
	})
}

// CancelOrchestration stops a running job and deletes its context
func (h *Handler) CancelOrchestration(c *gin.Context) {
	jobID := c.Param("jobId")
	if _, err := h.Store.Get(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}

	wasRunning := h.Orchestrator.IsRunning(jobID)
	if err := h.Orchestrator.Cleanup(c.Request.Context(), jobID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		JobID:   jobID,
		Data:    gin.H{"cancelled": wasRunning},
		Message: "Job cancelled and cleaned up",
	})
}
