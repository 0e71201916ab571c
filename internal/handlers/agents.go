package handlers

import (
	"net/http"

	"keyvex/internal/orchestrator"
	"keyvex/internal/tcc"

	"github.com/gin-gonic/gin"
)

// AgentRequest is the body of the universal agent route
type AgentRequest struct {
	JobID         string       `json:"jobId"`
	SelectedModel string       `json:"selectedModel,omitempty"`
	MockTCC       *tcc.Context `json:"mockTcc,omitempty"`
}

// RunAgent runs one agent. With mockTcc the agent works on the supplied
// context and nothing is stored.
func (h *Handler) RunAgent(c *gin.Context) {
	name := c.Param("agent")

	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request format")
		return
	}

	if req.MockTCC != nil {
		mock := req.MockTCC
		if mock.JobID == "" {
			mock.JobID = req.JobID
		}
		if req.SelectedModel != "" {
			mock.SelectedModel = req.SelectedModel
		}
		out, err := orchestrator.RunAgentDetached(c.Request.Context(), h.Agents, name, mock)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, StandardResponse{
			Success: true,
			JobID:   out.JobID,
			Data:    out,
			Message: "mock run, context not stored",
		})
		return
	}

	if req.JobID == "" {
		badRequest(c, "MISSING_JOB_ID", "jobId is required unless mockTcc is supplied")
		return
	}

	out, err := orchestrator.RunAgentWithModel(c.Request.Context(), h.Agents, h.Store, name, req.JobID, req.SelectedModel)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StandardResponse{
		Success: true,
		JobID:   out.JobID,
		Data:    out,
	})
}
