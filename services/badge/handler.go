package badge

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
	g := r.Group("/badges")
	g.GET("/me", h.ListMyBadges)

	// Totals come from the review and order systems, never from the badge owner.
	internal := r.Group("/internal/badges", h.guard.Require(user.ObjectBadges, user.ActionIssue))
	internal.POST("/reviews/check", h.CheckReviewBadges)
	internal.POST("/purchases/check", h.CheckPurchaseBadges)
}

type reviewCheckRequest struct {
	UserID       string `json:"user_id" binding:"required,max=50"`
	TotalReviews int64  `json:"total_reviews" binding:"gte=0"`
}

type purchaseCheckRequest struct {
	UserID         string `json:"user_id" binding:"required,max=50"`
	TotalPurchases int64  `json:"total_purchases" binding:"gte=0"`
	TotalAmount    int64  `json:"total_amount" binding:"gte=0"`
}

func (h *Handler) ListMyBadges(c *gin.Context) {
	badges, err := h.svc.ListUserBadges(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": badges})
}

func (h *Handler) CheckReviewBadges(c *gin.Context) {
	var req reviewCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	awarded, err := h.svc.CheckAndAwardReviewBadges(c.Request.Context(), req.UserID, req.TotalReviews)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"awarded": awarded})
}

func (h *Handler) CheckPurchaseBadges(c *gin.Context) {
	var req purchaseCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	awarded, err := h.svc.CheckAndAwardPurchaseBadges(c.Request.Context(), req.UserID, req.TotalPurchases, req.TotalAmount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"awarded": awarded})
}
