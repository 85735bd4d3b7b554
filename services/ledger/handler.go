package ledger

import (
	"net/http"
	"time"

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
	g := r.Group("/points")
	g.GET("/balance", h.GetBalance)
	g.GET("/summary", h.Summary)
	g.GET("/transactions", h.ListTransactions)
	g.GET("/expiring", h.ExpiringPoints)
	g.GET("/verify", h.VerifyChain)

	// Use and cancel are driven by the order system on behalf of the user named in the body.
	internal := r.Group("/internal/points")
	internal.POST("/use", h.guard.Require(user.ObjectPoints, user.ActionUse), h.UsePoints)
	internal.POST("/cancel", h.guard.Require(user.ObjectPoints, user.ActionCancel), h.CancelPoints)
}

type pointsRequest struct {
	UserID      string `json:"user_id" binding:"required,max=50"`
	Amount      int64  `json:"amount"`
	Description string `json:"description" binding:"max=255"`
	ReferenceID string `json:"reference_id" binding:"max=100"`
}

type listTransactionsQuery struct {
	Type        string    `form:"type"`
	ReferenceID string    `form:"reference_id"`
	From        time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To          time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page        int       `form:"page,default=0"`
	Size        int       `form:"size,default=20"`
}

type expiringQuery struct {
	Days int `form:"days,default=0" binding:"gte=0,lte=3650"`
}

func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.svc.GetBalance(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.svc.Summary(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) ListTransactions(c *gin.Context) {
	var q listTransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	page, err := h.svc.ListTransactions(c.Request.Context(), TransactionFilter{
		UserID:      middleware.UserID(c),
		Type:        TransactionType(q.Type),
		ReferenceID: q.ReferenceID,
		From:        q.From,
		To:          q.To,
		Page:        q.Page,
		Size:        q.Size,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) ExpiringPoints(c *gin.Context) {
	var q expiringQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	res, err := h.svc.ExpiringPoints(c.Request.Context(), middleware.UserID(c), time.Duration(q.Days)*24*time.Hour)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) VerifyChain(c *gin.Context) {
	res, err := h.svc.VerifyChain(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UsePoints(c *gin.Context) {
	var req pointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	tx, err := h.svc.UsePoints(c.Request.Context(), req.UserID, req.Amount, req.Description, req.ReferenceID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *Handler) CancelPoints(c *gin.Context) {
	var req pointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	tx, err := h.svc.CancelPoints(c.Request.Context(), req.UserID, req.Amount, req.Description, req.ReferenceID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}
