package handler

import (
	"errors"
	"strconv"
	"time"

	"loyaltycore/internal/config"
	"loyaltycore/internal/infrastructure/cache"
	"loyaltycore/internal/infrastructure/lock"
	"loyaltycore/internal/repository"
	"loyaltycore/internal/service"
	"loyaltycore/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	earnService    *service.EarnService
	spendService   *service.SpendService
	adjustService  *service.AdjustService
	loyaltyService *service.LoyaltyService
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *Handler {
	locks := lock.NewRedisManager(rdb)
	snapshots := cache.NewSnapshotCache(rdb, time.Duration(cfg.Loyalty.SnapshotCacheSeconds)*time.Second)

	return &Handler{
		earnService:    service.NewEarnService(db, &cfg.Loyalty, locks, snapshots),
		spendService:   service.NewSpendService(db, &cfg.Loyalty, locks, snapshots),
		adjustService:  service.NewAdjustService(db, &cfg.Loyalty, locks, snapshots),
		loyaltyService: service.NewLoyaltyService(db, &cfg.Loyalty, snapshots),
	}
}

// businessError 把服务层错误映射为业务错误码
func businessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrStateNotFound):
		response.BusinessError(c, response.CodeStateNotFound, err.Error())
	case errors.Is(err, service.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeBalanceNotEnough, err.Error())
	case errors.Is(err, service.ErrBelowMinSpend):
		response.BusinessError(c, response.CodeBelowMinSpend, err.Error())
	case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrInvalidDelta):
		response.BusinessError(c, response.CodeInvalidAmount, err.Error())
	case errors.Is(err, service.ErrNegativeBalance):
		response.BusinessError(c, response.CodeNegativeBalance, err.Error())
	case errors.Is(err, lock.ErrLockFailed):
		response.BusinessError(c, response.CodeSystemBusy, "系统繁忙，请稍后重试")
	default:
		response.ServerError(c, err.Error())
	}
}

// ============================================================
// 快照 / 查询接口
// ============================================================

// GetBalance 查询用户积分快照
// GET /api/v1/loyalty/balance?tenant_id=xxx&user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	tenantID, userID, ok := parseUser(c)
	if !ok {
		return
	}

	snap, err := h.loyaltyService.GetSnapshot(c.Request.Context(), tenantID, userID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, snap)
}

// GetHistory 分页查询积分流水
// GET /api/v1/loyalty/history?tenant_id=x&user_id=x&type=EARN&source=ORDER&from=...&to=...&page=1&page_size=10
func (h *Handler) GetHistory(c *gin.Context) {
	tenantID, userID, ok := parseUser(c)
	if !ok {
		return
	}

	filter := repository.HistoryFilter{}
	if t := c.Query("type"); t != "" {
		filter.Types = []string{t}
	}
	if s := c.Query("source"); s != "" {
		filter.Sources = []string{s}
	}
	if from, err := time.Parse(time.RFC3339, c.Query("from")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
		filter.To = &to
	}
	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "10"))

	entries, total, err := h.loyaltyService.GetHistory(c.Request.Context(), tenantID, userID, filter)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

// GetStats 租户统计
// GET /api/v1/loyalty/stats?tenant_id=x&from=...&to=...
func (h *Handler) GetStats(c *gin.Context) {
	tenantID, err := strconv.ParseInt(c.Query("tenant_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "tenant_id 参数错误")
		return
	}

	to := time.Now()
	from := to.AddDate(0, -1, 0)
	if v, err := time.Parse(time.RFC3339, c.Query("from")); err == nil {
		from = v
	}
	if v, err := time.Parse(time.RFC3339, c.Query("to")); err == nil {
		to = v
	}

	stats, err := h.loyaltyService.GetStats(c.Request.Context(), tenantID, from, to)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, stats)
}

// GetTiers 等级规则表
// GET /api/v1/loyalty/tiers
func (h *Handler) GetTiers(c *gin.Context) {
	response.Success(c, gin.H{"tiers": h.loyaltyService.Tiers()})
}

// ============================================================
// 积分变动接口
// ============================================================

// EarnRequest 普通入账请求（任务/邀请等协作方调用）
type EarnRequest struct {
	TenantID      int64  `json:"tenant_id" binding:"required"`
	UserID        int64  `json:"user_id" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	Source        string `json:"source" binding:"required"`
	ReferenceID   string `json:"reference_id"`
	ReferenceType string `json:"reference_type"`
	Description   string `json:"description"`
}

// Earn 积分入账
// POST /api/v1/loyalty/earn
func (h *Handler) Earn(c *gin.Context) {
	var req EarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.earnService.Earn(c.Request.Context(), &service.EarnRequest{
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Source:        req.Source,
		ReferenceID:   req.ReferenceID,
		ReferenceType: req.ReferenceType,
		Description:   req.Description,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, result)
}

// OrderEarnRequest 订单完成入账请求
type OrderEarnRequest struct {
	TenantID         int64  `json:"tenant_id" binding:"required"`
	UserID           int64  `json:"user_id" binding:"required"`
	OrderAmountCents int64  `json:"order_amount_cents" binding:"required,gt=0"`
	OrderID          string `json:"order_id" binding:"required"`
}

// EarnFromOrder 订单完成入账（含建户、新用户奖励、连续活跃）
// POST /api/v1/loyalty/order-earn
func (h *Handler) EarnFromOrder(c *gin.Context) {
	var req OrderEarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.earnService.EarnFromOrder(c.Request.Context(), &service.OrderEarnRequest{
		TenantID:         req.TenantID,
		UserID:           req.UserID,
		OrderAmountCents: req.OrderAmountCents,
		OrderID:          req.OrderID,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, result)
}

// SpendRequest 积分消费请求
type SpendRequest struct {
	TenantID    int64  `json:"tenant_id" binding:"required"`
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
}

// Spend 积分消费
// POST /api/v1/loyalty/spend
func (h *Handler) Spend(c *gin.Context) {
	var req SpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.spendService.Spend(c.Request.Context(), &service.SpendRequest{
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, result)
}

// AdjustRequest 管理员调整请求
type AdjustRequest struct {
	TenantID int64  `json:"tenant_id" binding:"required"`
	UserID   int64  `json:"user_id" binding:"required"`
	Delta    int64  `json:"delta" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	ActorID  string `json:"actor_id" binding:"required"`
}

// Adjust 管理员积分调整
// POST /api/v1/loyalty/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.adjustService.Adjust(c.Request.Context(), &service.AdjustRequest{
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Delta:    req.Delta,
		Reason:   req.Reason,
		ActorID:  req.ActorID,
	})
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, result)
}

func parseUser(c *gin.Context) (int64, int64, bool) {
	tenantID, err := strconv.ParseInt(c.Query("tenant_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "tenant_id 参数错误")
		return 0, 0, false
	}
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return 0, 0, false
	}
	return tenantID, userID, true
}
