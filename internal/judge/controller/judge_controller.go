package controller

import (
	"strings"

	"ojcore/internal/common/http/middleware"
	"ojcore/internal/judge/execclient"
	"ojcore/internal/judge/service"
	"ojcore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JudgeController handles submission and result callback endpoints.
type JudgeController struct {
	engine *service.Engine
	intake *service.ResultIntake
}

// NewJudgeController creates a new controller. intake is nil in poll mode.
func NewJudgeController(engine *service.Engine, intake *service.ResultIntake) *JudgeController {
	return &JudgeController{engine: engine, intake: intake}
}

// RegisterRoutes mounts the submission API on r. Callbacks are registered only with an intake.
func (h *JudgeController) RegisterRoutes(r gin.IRouter) {
	subs := r.Group("/submissions")
	subs.POST("", middleware.PrincipalMiddleware(true), h.Submit)
	subs.GET("/:id", h.GetStatus)
	subs.GET("/:id/detail", middleware.PrincipalMiddleware(true), h.GetDetail)
	if h.intake != nil {
		r.PUT("/callbacks/executions", h.ExecutionCallback)
	}
}

// Submit creates a submission and starts grading it.
func (h *JudgeController) Submit(c *gin.Context) {
	var req service.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	submissionID, err := h.engine.Submit(c.Request.Context(), middleware.GetPrincipal(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{SubmissionID: submissionID})
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.engine.GetSubmissionStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// GetDetail returns per-testcase results to the owner.
func (h *JudgeController) GetDetail(c *gin.Context) {
	detail, err := h.engine.GetSubmissionDetail(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// ExecutionCallback receives a finished execution pushed by the execution service.
func (h *JudgeController) ExecutionCallback(c *gin.Context) {
	var doc execclient.Judge0Submission
	if err := c.ShouldBindJSON(&doc); err != nil {
		response.BadRequest(c, "Invalid callback payload")
		return
	}
	out, pending := doc.Outcome()
	if pending {
		response.Success(c, nil)
		return
	}
	if err := h.intake.Accept(c.Request.Context(), c.Query("token"), doc.Token, out); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// SubmitResponse is returned by Submit.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
}
