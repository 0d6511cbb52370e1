package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"loyaltycore/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.UserLoyaltyState{}, &model.LedgerEntry{}, &model.OutboxMessage{}))
	return db
}

var entrySeq int64

// createEarnEntry 直接落一条入账流水，created_at 可控，便于验证消耗顺序
func createEarnEntry(t *testing.T, db *gorm.DB, tenantID, userID, amount int64, createdAt time.Time, expiresAt time.Time) *model.LedgerEntry {
	t.Helper()
	entrySeq++
	entry := &model.LedgerEntry{
		EntryNo:         fmt.Sprintf("PTS-test-%d", entrySeq),
		TenantID:        tenantID,
		UserID:          userID,
		Type:            model.EntryTypeEarn,
		Amount:          amount,
		BalanceAfter:    amount,
		Source:          model.SourceQuest,
		ExpiresAt:       &expiresAt,
		RemainingAmount: amount,
		CreatedAt:       createdAt,
	}
	require.NoError(t, db.Create(entry).Error)
	return entry
}
