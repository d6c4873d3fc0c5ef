package controller

import (
	"context"

	"ojcore/internal/common/auth"
	"ojcore/internal/common/http/middleware"
	"ojcore/internal/contest/model"
	"ojcore/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestReader is the read side of the contest service.
type ContestReader interface {
	Standings(ctx context.Context, p auth.Principal, contestID string) (*model.Standings, error)
	Phase(ctx context.Context, contestID string) (model.Phase, error)
}

// ContestController serves standings and phase.
type ContestController struct {
	contests ContestReader
}

func NewContestController(contests ContestReader) *ContestController {
	return &ContestController{contests: contests}
}

// RegisterRoutes mounts the contest API on r.
func (h *ContestController) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/contests/:id", middleware.PrincipalMiddleware(false))
	g.GET("/standings", h.GetStandings)
	g.GET("/phase", h.GetPhase)
}

func (h *ContestController) GetStandings(c *gin.Context) {
	standings, err := h.contests.Standings(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, standings)
}

func (h *ContestController) GetPhase(c *gin.Context) {
	phase, err := h.contests.Phase(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, PhaseResponse{ContestID: c.Param("id"), Phase: phase})
}

// PhaseResponse is returned by GetPhase.
type PhaseResponse struct {
	ContestID string      `json:"contest_id"`
	Phase     model.Phase `json:"phase"`
}
