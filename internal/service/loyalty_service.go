package service

import (
	"context"
	"encoding/json"
	"time"

	"loyaltycore/internal/config"
	"loyaltycore/internal/infrastructure/cache"
	"loyaltycore/internal/model"
	"loyaltycore/internal/repository"

	"gorm.io/gorm"
)

// LoyaltyService 只读查询：余额快照、流水历史、聚合统计
type LoyaltyService struct {
	cfg        *config.LoyaltyConfig
	tiers      *model.TierTable
	snapshots  *cache.SnapshotCache
	stateRepo  *repository.StateRepository
	ledgerRepo *repository.LedgerRepository
}

func NewLoyaltyService(db *gorm.DB, cfg *config.LoyaltyConfig, snapshots *cache.SnapshotCache) *LoyaltyService {
	return &LoyaltyService{
		cfg:        cfg,
		tiers:      cfg.TierTable(),
		snapshots:  snapshots,
		stateRepo:  repository.NewStateRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
	}
}

// Snapshot 用户积分快照（余额 / 等级 / 连续活跃）
type Snapshot struct {
	TenantID      int64              `json:"tenant_id"`
	UserID        int64              `json:"user_id"`
	PointsBalance int64              `json:"points_balance"`
	Tier          string             `json:"tier"`
	TierProgress  model.TierProgress `json:"tier_progress"`
	CurrentStreak int                `json:"current_streak"`
	LongestStreak int                `json:"longest_streak"`
	TotalEarned   int64              `json:"total_earned"`
	TotalSpent    int64              `json:"total_spent"`
}

// GetSnapshot 查询用户快照，短 TTL 缓存，余额变更时由写路径失效
func (s *LoyaltyService) GetSnapshot(ctx context.Context, tenantID, userID int64) (*Snapshot, error) {
	if cached := s.snapshots.Get(ctx, tenantID, userID); cached != "" {
		var snap Snapshot
		if err := json.Unmarshal([]byte(cached), &snap); err == nil {
			return &snap, nil
		}
	}

	state, err := s.stateRepo.GetByUserID(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		TenantID:      state.TenantID,
		UserID:        state.UserID,
		PointsBalance: state.PointsBalance,
		Tier:          state.Tier,
		TierProgress:  s.tiers.Progress(state.PointsBalance),
		CurrentStreak: state.CurrentStreak,
		LongestStreak: state.LongestStreak,
		TotalEarned:   state.TotalEarned,
		TotalSpent:    state.TotalSpent,
	}

	if payload, err := json.Marshal(snap); err == nil {
		s.snapshots.Set(ctx, tenantID, userID, string(payload))
	}
	return snap, nil
}

// GetHistory 分页查询用户流水，支持按类型/来源/时间段过滤
func (s *LoyaltyService) GetHistory(ctx context.Context, tenantID, userID int64, filter repository.HistoryFilter) ([]*model.LedgerEntry, int64, error) {
	return s.ledgerRepo.ListHistory(ctx, tenantID, userID, filter)
}

// Stats 租户级聚合统计
type Stats struct {
	TenantID       int64            `json:"tenant_id"`
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	TotalEarned    int64            `json:"total_earned"`
	TotalSpent     int64            `json:"total_spent"`
	TotalExpired   int64            `json:"total_expired"`
	TotalAdjusted  int64            `json:"total_adjusted"`
	RedemptionRate float64          `json:"redemption_rate"` // 已兑换 / 已发放
	TierCounts     map[string]int64 `json:"tier_counts"`
}

// GetStats 统计时间段内各类型积分总量、等级分布和兑换率
func (s *LoyaltyService) GetStats(ctx context.Context, tenantID int64, from, to time.Time) (*Stats, error) {
	sums, err := s.ledgerRepo.SumByType(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	tierCounts, err := s.stateRepo.TierDistribution(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TenantID:      tenantID,
		From:          from,
		To:            to,
		TotalEarned:   sums[model.EntryTypeEarn],
		TotalSpent:    -sums[model.EntryTypeSpend],
		TotalExpired:  -sums[model.EntryTypeExpire],
		TotalAdjusted: sums[model.EntryTypeAdjust],
		TierCounts:    tierCounts,
	}
	if stats.TotalEarned > 0 {
		stats.RedemptionRate = float64(stats.TotalSpent) / float64(stats.TotalEarned)
	}
	return stats, nil
}

// Tiers 等级表（升序），供前端展示等级规则
func (s *LoyaltyService) Tiers() []model.Tier {
	return s.tiers.All()
}
