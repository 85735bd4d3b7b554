package reward

import (
	"net/http"

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
	g := r.Group("/rewards")
	g.GET("/history", h.GetRewardHistory)
	g.GET("/policies", h.GetRewardPolicies)

	// Grants are issued by the review, event, order and user systems for the user named in the body.
	internal := r.Group("/internal/rewards", h.guard.Require(user.ObjectRewards, user.ActionIssue))
	internal.POST("/reviews", h.GrantReviewReward)
	internal.POST("/events", h.GrantEventReward)
	internal.POST("/birthday", h.GrantBirthdayReward)
	internal.POST("/first-purchase", h.GrantFirstPurchaseReward)

	admin := r.Group("/admin")
	admin.POST("/points/grant", h.GrantPointsByAdmin)
	admin.POST("/rewards/process-pending", h.guard.Require(user.ObjectRewards, user.ActionProcess), h.ProcessPendingRewards)
}

type historyQuery struct {
	Page int `form:"page,default=0"`
	Size int `form:"size,default=20"`
}

type subjectRequest struct {
	UserID string `json:"user_id" binding:"required,max=50"`
}

type reviewRewardRequest struct {
	UserID     string     `json:"user_id" binding:"required,max=50"`
	ReviewID   string     `json:"review_id" binding:"required,max=100"`
	ReviewType ReviewType `json:"review_type" binding:"omitempty,oneof=TEXT PHOTO"`
}

type eventRewardRequest struct {
	UserID     string     `json:"user_id" binding:"required,max=50"`
	EventID    string     `json:"event_id" binding:"required,max=100"`
	RewardType RewardType `json:"reward_type"`
}

type firstPurchaseRequest struct {
	UserID  string `json:"user_id" binding:"required,max=50"`
	OrderID string `json:"order_id" binding:"required,max=100"`
}

type adminGrantRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount"`
	Description string `json:"description" binding:"max=255"`
}

func (h *Handler) GetRewardHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	page, err := h.svc.GetRewardHistory(c.Request.Context(), middleware.UserID(c), q.Page, q.Size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetRewardPolicies(c *gin.Context) {
	policies, err := h.svc.GetRewardPolicies(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": policies})
}

func (h *Handler) GrantReviewReward(c *gin.Context) {
	var req reviewRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	history, err := h.svc.GrantReviewReward(c.Request.Context(), req.UserID, req.ReviewID, req.ReviewType)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, history)
}

func (h *Handler) GrantEventReward(c *gin.Context) {
	var req eventRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	history, err := h.svc.GrantEventReward(c.Request.Context(), req.UserID, req.EventID, req.RewardType)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, history)
}

func (h *Handler) GrantBirthdayReward(c *gin.Context) {
	var req subjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	history, err := h.svc.GrantBirthdayReward(c.Request.Context(), req.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if history == nil {
		c.JSON(http.StatusOK, gin.H{"granted": false})
		return
	}
	c.JSON(http.StatusCreated, history)
}

func (h *Handler) GrantFirstPurchaseReward(c *gin.Context) {
	var req firstPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	history, err := h.svc.GrantFirstPurchaseReward(c.Request.Context(), req.UserID, req.OrderID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, history)
}

func (h *Handler) GrantPointsByAdmin(c *gin.Context) {
	var req adminGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	history, err := h.svc.GrantPointsByAdmin(c.Request.Context(), middleware.UserID(c), req.UserID, req.Amount, req.Description)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, history)
}

func (h *Handler) ProcessPendingRewards(c *gin.Context) {
	res, err := h.svc.ProcessPendingRewards(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
