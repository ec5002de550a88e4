package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gantry-ci/gantry/internal/domain"
)

// PushEventRequest represents an incoming push event
type PushEventRequest struct {
	Branch string `json:"branch" binding:"required"`
	Commit string `json:"commit"`
}

// PullRequestEventRequest represents an incoming pull request event
type PullRequestEventRequest struct {
	Branch string `json:"branch" binding:"required"`
	Action string `json:"action" binding:"required"`
	Commit string `json:"commit"`
}

// ManualRunRequest represents a manual run request
type ManualRunRequest struct {
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"pipeline":  s.pipeline.Name,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handlePushEvent handles push trigger events
func (s *Server) handlePushEvent(c *gin.Context) {
	var req PushEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	s.submitTrigger(c, domain.TriggerEvent{
		Kind:       domain.TriggerPush,
		Branch:     req.Branch,
		Commit:     req.Commit,
		ReceivedAt: time.Now(),
	})
}

// handlePullRequestEvent handles pull request trigger events
func (s *Server) handlePullRequestEvent(c *gin.Context) {
	var req PullRequestEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	s.submitTrigger(c, domain.TriggerEvent{
		Kind:       domain.TriggerPullRequest,
		Branch:     req.Branch,
		Action:     req.Action,
		Commit:     req.Commit,
		ReceivedAt: time.Now(),
	})
}

// handleManualRun handles explicit run requests, bypassing trigger rules
func (s *Server) handleManualRun(c *gin.Context) {
	var req ManualRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	s.submitTrigger(c, domain.TriggerEvent{
		Kind:       domain.TriggerManual,
		Branch:     req.Branch,
		Commit:     req.Commit,
		ReceivedAt: time.Now(),
	})
}

// submitTrigger runs the trigger evaluator and submits a run on a match.
// A non-matching event is a 202 with no run, not an error.
func (s *Server) submitTrigger(c *gin.Context, event domain.TriggerEvent) {
	runID, started, err := s.orchestrator.HandleTrigger(c.Request.Context(), s.pipeline, event)
	if err != nil {
		s.logger.Error("failed to submit run", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "SUBMISSION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	if !started {
		c.JSON(http.StatusAccepted, gin.H{
			"status": "ignored",
			"reason": "trigger rules did not match",
		})
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       runID,
		Status:      "submitted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleListRuns handles listing runs
func (s *Server) handleListRuns(c *gin.Context) {
	ids, err := s.storage.ListRuns(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "Failed to list runs",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  ids,
		"total": len(ids),
	})
}

// handleGetRun handles getting full run state
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetStatus(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, state)
}

// handleGetStatus handles getting run status
func (s *Server) handleGetStatus(c *gin.Context) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetStatus(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       state.RunID,
		"pipeline":     state.Pipeline,
		"status":       state.Status,
		"submitted_at": state.SubmittedAt,
		"started_at":   state.StartedAt,
		"completed_at": state.CompletedAt,
	})
}

// handleGetResult handles getting the final run result
func (s *Server) handleGetResult(c *gin.Context) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetStatus(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	if !state.Status.IsTerminal() {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_COMPLETED",
				Message: "Run not yet completed",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       state.RunID,
		"status":       state.Status,
		"jobs":         state.JobStates,
		"error":        state.Error,
		"completed_at": state.CompletedAt,
	})
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       "cancelled",
		"cancelled_at": time.Now().UTC().Format(time.RFC3339),
	})
}
