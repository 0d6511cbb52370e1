package repository

import (
	"context"
	"errors"

	"loyaltycore/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrStateNotFound  = errors.New("积分账户不存在")
	ErrOptimisticLock = errors.New("账户更新冲突，请重试")
)

type StateRepository struct {
	db *gorm.DB
}

func NewStateRepository(db *gorm.DB) *StateRepository {
	return &StateRepository{db: db}
}

func (r *StateRepository) GetByUserID(ctx context.Context, tenantID, userID int64) (*model.UserLoyaltyState, error) {
	var state model.UserLoyaltyState
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return &state, nil
}

// GetOrCreate 查询账户，不存在则以默认等级创建
// 并发创建依赖唯一索引 + DoNothing 容错
func (r *StateRepository) GetOrCreate(ctx context.Context, tenantID, userID int64, defaultTier string) (*model.UserLoyaltyState, error) {
	state, err := r.GetByUserID(ctx, tenantID, userID)
	if err == nil {
		return state, nil
	}

	if !errors.Is(err, ErrStateNotFound) {
		return nil, err
	}

	newState := &model.UserLoyaltyState{
		TenantID: tenantID,
		UserID:   userID,
		Tier:     defaultTier,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newState).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, tenantID, userID)
}

// Save 以乐观锁方式回写账户投影的可变字段
// fromVersion 必须是读取时的版本号；版本不匹配说明有并发写入，
// 调用方应在用户锁内重读后重试
func (r *StateRepository) Save(ctx context.Context, tx *gorm.DB, state *model.UserLoyaltyState, fromVersion int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.UserLoyaltyState{}).
		Where("tenant_id = ? AND user_id = ? AND version = ?", state.TenantID, state.UserID, fromVersion).
		Updates(map[string]interface{}{
			"points_balance":        state.PointsBalance,
			"tier":                  state.Tier,
			"total_earned":          state.TotalEarned,
			"total_spent":           state.TotalSpent,
			"order_count":           state.OrderCount,
			"order_spend_total":     state.OrderSpendTotal,
			"current_streak":        state.CurrentStreak,
			"longest_streak":        state.LongestStreak,
			"last_activity_date":    state.LastActivityDate,
			"welcome_bonus_granted": state.WelcomeBonusGranted,
			"version":               fromVersion + 1,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}

	state.Version = fromVersion + 1
	return nil
}

// TierDistribution 统计各等级用户数
func (r *StateRepository) TierDistribution(ctx context.Context, tenantID int64) (map[string]int64, error) {
	type row struct {
		Tier  string
		Count int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.UserLoyaltyState{}).
		Select("tier, COUNT(*) AS count").
		Where("tenant_id = ?", tenantID).
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	dist := make(map[string]int64, len(rows))
	for _, r := range rows {
		dist[r.Tier] = r.Count
	}
	return dist, nil
}
