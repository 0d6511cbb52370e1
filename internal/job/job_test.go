package job

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"loyaltycore/internal/config"
	"loyaltycore/internal/model"
	"loyaltycore/pkg/idgen"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

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
		OutboxMaxRetryCount: 3,
		Tiers: []config.TierConfig{
			{Code: "bronze", MinPoints: 0, EarnMultiplier: 1.0},
			{Code: "silver", MinPoints: 1000, CashbackPercent: 1, EarnMultiplier: 1.2},
		},
	}
}

var testEntrySeq int64

func createEarnEntry(t *testing.T, db *gorm.DB, tenantID, userID, amount, remaining int64, expiresAt time.Time) *model.LedgerEntry {
	t.Helper()
	testEntrySeq++
	entry := &model.LedgerEntry{
		EntryNo:         fmt.Sprintf("PTS-job-%d", testEntrySeq),
		TenantID:        tenantID,
		UserID:          userID,
		Type:            model.EntryTypeEarn,
		Amount:          amount,
		BalanceAfter:    amount,
		Source:          model.SourceQuest,
		ExpiresAt:       &expiresAt,
		RemainingAmount: remaining,
	}
	require.NoError(t, db.Create(entry).Error)
	return entry
}
