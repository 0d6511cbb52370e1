package service

import (
	"context"
	"errors"
	"testing"

	"loyaltycore/internal/infrastructure/lock"
	"loyaltycore/internal/model"
	"loyaltycore/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newEarnService(t *testing.T) (*EarnService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewEarnService(db, testLoyaltyConfig(), lock.NewLocalManager(), nil), db
}

func TestEarnRejectsInvalidAmount(t *testing.T) {
	svc, _ := newEarnService(t)

	_, err := svc.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 1, Amount: 0, Source: model.SourceQuest})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 1, Amount: -10, Source: model.SourceQuest})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestEarnUnknownAccount(t *testing.T) {
	svc, _ := newEarnService(t)

	_, err := svc.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 42, Amount: 100, Source: model.SourceQuest})
	assert.ErrorIs(t, err, repository.ErrStateNotFound)
}

func TestEarnCreditsAndWritesLedger(t *testing.T) {
	svc, db := newEarnService(t)
	seedState(t, db, 1, 10, 0, "bronze")

	result, err := svc.Earn(context.Background(), &EarnRequest{
		TenantID:    1,
		UserID:      10,
		Amount:      100,
		Source:      model.SourceQuest,
		ReferenceID: "quest-7",
		Description: "任务奖励",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(100), result.CreditedAmount)
	assert.Equal(t, int64(100), result.NewBalance)
	assert.False(t, result.TierChanged)

	var entry model.LedgerEntry
	require.NoError(t, db.Where("tenant_id = ? AND user_id = ?", 1, 10).First(&entry).Error)
	assert.Equal(t, model.EntryTypeEarn, entry.Type)
	assert.Equal(t, int64(100), entry.Amount)
	assert.Equal(t, int64(100), entry.BalanceAfter)
	assert.Equal(t, int64(100), entry.RemainingAmount)
	assert.NotNil(t, entry.ExpiresAt)
	assert.NotEmpty(t, entry.EntryNo)

	state := loadState(t, db, 1, 10)
	assert.Equal(t, int64(100), state.PointsBalance)
	assert.Equal(t, int64(100), state.TotalEarned)
	assert.Equal(t, int64(1), countOutbox(t, db, model.TopicPointsEarned))
}

func TestEarnAppliesMultiplierWithFloor(t *testing.T) {
	svc, db := newEarnService(t)
	seedState(t, db, 1, 11, 1000, "silver")

	// silver ×1.2：55 * 1.2 = 66.0，57 * 1.2 = 68.4 -> 68
	result, err := svc.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 11, Amount: 57, Source: model.SourceQuest})
	require.NoError(t, err)

	assert.Equal(t, int64(68), result.CreditedAmount)
	assert.Equal(t, int64(1068), result.NewBalance)
}

func TestEarnTierUpgradeEmitsEvent(t *testing.T) {
	svc, db := newEarnService(t)
	seedState(t, db, 1, 12, 900, "bronze")

	result, err := svc.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 12, Amount: 200, Source: model.SourceQuest})
	require.NoError(t, err)

	assert.Equal(t, int64(1100), result.NewBalance)
	assert.True(t, result.TierChanged)
	require.NotNil(t, result.TierInfo)
	assert.Equal(t, "silver", result.TierInfo.Current.Code)

	state := loadState(t, db, 1, 12)
	assert.Equal(t, "silver", state.Tier)
	assert.Equal(t, int64(1), countOutbox(t, db, model.TopicTierChanged))
}

func TestEarnRollsBackWhenTierEventWriteFails(t *testing.T) {
	svc, db := newEarnService(t)
	seedState(t, db, 1, 13, 900, "bronze")

	// 模拟等级变更事件落库失败：整个入账事务必须回滚，不能只丢事件
	err := db.Callback().Create().Before("gorm:create").Register("fail_tier_event", func(tx *gorm.DB) {
		if msg, ok := tx.Statement.Dest.(*model.OutboxMessage); ok && msg.Topic == model.TopicTierChanged {
			_ = tx.AddError(errors.New("落库失败"))
		}
	})
	require.NoError(t, err)

	_, err = svc.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 13, Amount: 200, Source: model.SourceQuest})
	require.Error(t, err)

	state := loadState(t, db, 1, 13)
	assert.Equal(t, int64(900), state.PointsBalance)
	assert.Equal(t, "bronze", state.Tier)

	var n int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).
		Where("tenant_id = ? AND user_id = ?", 1, 13).Count(&n).Error)
	assert.Zero(t, n)
	assert.Zero(t, countOutbox(t, db, model.TopicPointsEarned))
}

func TestEarnFromOrderCreatesAccountWithWelcomeBonus(t *testing.T) {
	svc, db := newEarnService(t)

	// 首次交互：自动建户 + 新用户奖励100 + 订单积分 2000分 -> 20
	result, err := svc.EarnFromOrder(context.Background(), &OrderEarnRequest{
		TenantID:         1,
		UserID:           20,
		OrderAmountCents: 2000,
		OrderID:          "ORD-1",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(100), result.WelcomeBonus)
	assert.Equal(t, int64(20), result.CreditedAmount)
	assert.Equal(t, int64(120), result.NewBalance)
	assert.Equal(t, 1, result.CurrentStreak)

	state := loadState(t, db, 1, 20)
	assert.True(t, state.WelcomeBonusGranted)
	assert.Equal(t, int64(1), state.OrderCount)
	assert.Equal(t, int64(2000), state.OrderSpendTotal)
	assert.Equal(t, 1, state.CurrentStreak)

	// 奖励和订单各一条入账流水
	var n int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).
		Where("tenant_id = ? AND user_id = ?", 1, 20).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestEarnFromOrderWelcomeBonusOnlyOnce(t *testing.T) {
	svc, db := newEarnService(t)

	_, err := svc.EarnFromOrder(context.Background(), &OrderEarnRequest{
		TenantID: 1, UserID: 21, OrderAmountCents: 1000, OrderID: "ORD-1",
	})
	require.NoError(t, err)

	result, err := svc.EarnFromOrder(context.Background(), &OrderEarnRequest{
		TenantID: 1, UserID: 21, OrderAmountCents: 1000, OrderID: "ORD-2",
	})
	require.NoError(t, err)

	assert.Zero(t, result.WelcomeBonus)
	state := loadState(t, db, 1, 21)
	assert.Equal(t, int64(2), state.OrderCount)
	// 100 奖励 + 两单各 10 分
	assert.Equal(t, int64(120), state.PointsBalance)
}

func TestEarnFromOrderBelowMinimumEarnsNothing(t *testing.T) {
	svc, db := newEarnService(t)
	seedState(t, db, 1, 22, 0, "bronze")
	require.NoError(t, db.Model(&model.UserLoyaltyState{}).
		Where("tenant_id = ? AND user_id = ?", 1, 22).
		Update("welcome_bonus_granted", true).Error)

	// 499分 < 起算金额500分：不产生订单积分，但订单数和活跃照常推进
	result, err := svc.EarnFromOrder(context.Background(), &OrderEarnRequest{
		TenantID: 1, UserID: 22, OrderAmountCents: 499, OrderID: "ORD-1",
	})
	require.NoError(t, err)

	assert.Zero(t, result.CreditedAmount)
	assert.Zero(t, result.NewBalance)
	assert.Equal(t, 1, result.CurrentStreak)

	state := loadState(t, db, 1, 22)
	assert.Equal(t, int64(1), state.OrderCount)
}

func TestEarnFromOrderCapsRawPoints(t *testing.T) {
	svc, db := newEarnService(t)
	seedState(t, db, 1, 23, 0, "bronze")
	require.NoError(t, db.Model(&model.UserLoyaltyState{}).
		Where("tenant_id = ? AND user_id = ?", 1, 23).
		Update("welcome_bonus_granted", true).Error)

	// 10000元 -> 10000 基础积分，封顶 5000
	result, err := svc.EarnFromOrder(context.Background(), &OrderEarnRequest{
		TenantID: 1, UserID: 23, OrderAmountCents: 1000000, OrderID: "ORD-BIG",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(5000), result.CreditedAmount)
}
