package service

import (
	"context"
	"testing"

	"loyaltycore/internal/infrastructure/lock"
	"loyaltycore/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newAdjustFixture(t *testing.T) (*AdjustService, *EarnService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cfg := testLoyaltyConfig()
	locks := lock.NewLocalManager()
	return NewAdjustService(db, cfg, locks, nil), NewEarnService(db, cfg, locks, nil), db
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	svc, _, _ := newAdjustFixture(t)

	_, err := svc.Adjust(context.Background(), &AdjustRequest{TenantID: 1, UserID: 1, Delta: 0, Reason: "x", ActorID: "admin-1"})
	assert.ErrorIs(t, err, ErrInvalidDelta)
}

func TestAdjustPositiveCreatesConsumableEntry(t *testing.T) {
	svc, _, db := newAdjustFixture(t)
	seedState(t, db, 1, 40, 0, "bronze")

	result, err := svc.Adjust(context.Background(), &AdjustRequest{
		TenantID: 1,
		UserID:   40,
		Delta:    200,
		Reason:   "客诉补偿",
		ActorID:  "admin-7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.NewBalance)

	// 正向调整不吃倍率，但带有效期、参与 FIFO 和过期
	var entry model.LedgerEntry
	require.NoError(t, db.Where("tenant_id = ? AND user_id = ? AND type = ?", 1, 40, model.EntryTypeAdjust).
		First(&entry).Error)
	assert.Equal(t, int64(200), entry.Amount)
	assert.Equal(t, int64(200), entry.RemainingAmount)
	assert.NotNil(t, entry.ExpiresAt)
	assert.Equal(t, model.SourceAdmin, entry.Source)
	assert.Equal(t, "客诉补偿", entry.Description)
	assert.Equal(t, "admin-7", entry.ActorID)

	state := loadState(t, db, 1, 40)
	assert.Equal(t, int64(200), state.TotalEarned)
}

func TestAdjustNegativeConsumesRemaining(t *testing.T) {
	svc, earn, db := newAdjustFixture(t)
	seedState(t, db, 1, 41, 0, "bronze")
	_, err := earn.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 41, Amount: 300, Source: model.SourceQuest})
	require.NoError(t, err)

	result, err := svc.Adjust(context.Background(), &AdjustRequest{
		TenantID: 1, UserID: 41, Delta: -100, Reason: "误发回收", ActorID: "admin-7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.NewBalance)

	var entry model.LedgerEntry
	require.NoError(t, db.Where("tenant_id = ? AND user_id = ? AND type = ?", 1, 41, model.EntryTypeEarn).
		First(&entry).Error)
	assert.Equal(t, int64(200), entry.RemainingAmount)

	// 负向调整不回退累计发放
	state := loadState(t, db, 1, 41)
	assert.Equal(t, int64(300), state.TotalEarned)
}

func TestAdjustCannotDriveBalanceNegative(t *testing.T) {
	svc, earn, db := newAdjustFixture(t)
	seedState(t, db, 1, 42, 0, "bronze")
	_, err := earn.Earn(context.Background(), &EarnRequest{TenantID: 1, UserID: 42, Amount: 100, Source: model.SourceQuest})
	require.NoError(t, err)

	_, err = svc.Adjust(context.Background(), &AdjustRequest{
		TenantID: 1, UserID: 42, Delta: -200, Reason: "误发回收", ActorID: "admin-7",
	})
	assert.ErrorIs(t, err, ErrNegativeBalance)

	state := loadState(t, db, 1, 42)
	assert.Equal(t, int64(100), state.PointsBalance)
	var n int64
	require.NoError(t, db.Model(&model.LedgerEntry{}).
		Where("tenant_id = ? AND user_id = ? AND type = ?", 1, 42, model.EntryTypeAdjust).Count(&n).Error)
	assert.Zero(t, n)
}

func TestAdjustRecomputesTier(t *testing.T) {
	svc, _, db := newAdjustFixture(t)
	seedState(t, db, 1, 43, 0, "bronze")

	result, err := svc.Adjust(context.Background(), &AdjustRequest{
		TenantID: 1, UserID: 43, Delta: 5000, Reason: "活动发放", ActorID: "admin-7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.NewBalance)
	assert.Equal(t, "gold", loadState(t, db, 1, 43).Tier)
}
