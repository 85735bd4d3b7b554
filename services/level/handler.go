package level

import (
	"net/http"

	"feedshop-rewards/pkg/db/pagination"
	"feedshop-rewards/pkg/errutil"
	"feedshop-rewards/pkg/middleware"
	"feedshop-rewards/services/user"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc   *Service
	guard *user.Guard
}

func NewHandler(svc *Service, guard *user.Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/levels")
	g.GET("", h.ListLevels)
	g.GET("/me", h.GetMyStats)
	g.GET("/me/activities", h.ListMyActivities)

	r.POST("/internal/levels/activities", h.guard.Require(user.ObjectActivities, user.ActionRecord), h.RecordActivity)
}

type recordActivityRequest struct {
	UserID        string       `json:"user_id" binding:"required,max=50"`
	ActivityType  ActivityType `json:"activity_type" binding:"required"`
	Description   string       `json:"description" binding:"max=255"`
	ReferenceID   string       `json:"reference_id" binding:"max=100"`
	ReferenceType string       `json:"reference_type" binding:"max=40"`
}

func (h *Handler) ListLevels(c *gin.Context) {
	levels, err := h.svc.ListLevels(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": levels})
}

func (h *Handler) GetMyStats(c *gin.Context) {
	view, err := h.svc.GetUserStats(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ListMyActivities(c *gin.Context) {
	var p pagination.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	items, info, err := h.svc.ListActivities(c.Request.Context(), middleware.UserID(c), p)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page_info": info})
}

func (h *Handler) RecordActivity(c *gin.Context) {
	var req recordActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	res, err := h.svc.RecordActivity(c.Request.Context(), req.UserID, req.ActivityType, req.Description, req.ReferenceID, req.ReferenceType)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}
