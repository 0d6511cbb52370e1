package service

import (
	"fmt"
	"strings"
	"testing"

	"loyaltycore/internal/config"
	"loyaltycore/internal/model"
	"loyaltycore/pkg/idgen"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestDB 每个测试独立的内存库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	idgen.Init(1)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.UserLoyaltyState{}, &model.LedgerEntry{}, &model.OutboxMessage{}))
	return db
}

func testLoyaltyConfig() *config.LoyaltyConfig {
	return &config.LoyaltyConfig{
		ExpiryDays:          365,
		MinSpendPoints:      100,
		PointValueCents:     1,
		MinOrderAmountCents: 500,
		OrderEarnRate:       1,
		MaxPointsPerOrder:   5000,
		WelcomeBonusPoints:  100,
		StreakMilestones: []config.StreakMilestone{
			{Days: 3, Bonus: 30},
			{Days: 5, Bonus: 50},
		},
		Tiers: []config.TierConfig{
			{Code: "bronze", MinPoints: 0, EarnMultiplier: 1.0},
			{Code: "silver", MinPoints: 1000, CashbackPercent: 1, EarnMultiplier: 1.2},
			{Code: "gold", MinPoints: 5000, CashbackPercent: 2, EarnMultiplier: 1.5},
			{Code: "platinum", MinPoints: 20000, CashbackPercent: 3, EarnMultiplier: 2.0},
		},
	}
}

func seedState(t *testing.T, db *gorm.DB, tenantID, userID, balance int64, tier string) *model.UserLoyaltyState {
	t.Helper()
	state := &model.UserLoyaltyState{
		TenantID:      tenantID,
		UserID:        userID,
		PointsBalance: balance,
		Tier:          tier,
		TotalEarned:   balance,
	}
	require.NoError(t, db.Create(state).Error)
	return state
}

func loadState(t *testing.T, db *gorm.DB, tenantID, userID int64) *model.UserLoyaltyState {
	t.Helper()
	var state model.UserLoyaltyState
	require.NoError(t, db.Where("tenant_id = ? AND user_id = ?", tenantID, userID).First(&state).Error)
	return &state
}

func countOutbox(t *testing.T, db *gorm.DB, topic string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("topic = ?", topic).Count(&n).Error)
	return n
}
