package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"loyaltycore/internal/config"
	"loyaltycore/internal/infrastructure/cache"
	"loyaltycore/internal/infrastructure/lock"
	"loyaltycore/internal/model"
	"loyaltycore/internal/repository"
	"loyaltycore/pkg/idgen"

	"gorm.io/gorm"
)

// AdjustService 管理员积分调整
// 不吃等级倍率；正向调整同样带有效期并参与 FIFO / 过期，
// 负向调整按 FIFO 消耗余量，保证余量总和始终等于余额
type AdjustService struct {
	db         *gorm.DB
	cfg        *config.LoyaltyConfig
	tiers      *model.TierTable
	locks      lock.Manager
	snapshots  *cache.SnapshotCache
	stateRepo  *repository.StateRepository
	ledgerRepo *repository.LedgerRepository
	outboxRepo *repository.OutboxRepository
}

func NewAdjustService(db *gorm.DB, cfg *config.LoyaltyConfig, locks lock.Manager, snapshots *cache.SnapshotCache) *AdjustService {
	return &AdjustService{
		db:         db,
		cfg:        cfg,
		tiers:      cfg.TierTable(),
		locks:      locks,
		snapshots:  snapshots,
		stateRepo:  repository.NewStateRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

type AdjustRequest struct {
	TenantID int64
	UserID   int64
	Delta    int64  // 正负均可
	Reason   string // 审计用，必填
	ActorID  string // 操作管理员
}

type AdjustResult struct {
	NewBalance int64  `json:"new_balance"`
	EntryNo    string `json:"entry_no"`
}

func (s *AdjustService) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustResult, error) {
	if req.Delta == 0 {
		return nil, ErrInvalidDelta
	}

	userLock, err := s.locks.LockUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer userLock.Unlock(ctx)

	state, err := s.stateRepo.GetByUserID(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, err
	}

	if state.PointsBalance+req.Delta < 0 {
		return nil, fmt.Errorf("%w：当前余额 %d", ErrNegativeBalance, state.PointsBalance)
	}

	var entry *model.LedgerEntry

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fromVersion := state.Version

		state.PointsBalance += req.Delta
		if req.Delta > 0 {
			state.TotalEarned += req.Delta
		}

		entry = &model.LedgerEntry{
			EntryNo:      idgen.GenerateEntryNo(),
			TenantID:     req.TenantID,
			UserID:       req.UserID,
			Type:         model.EntryTypeAdjust,
			Amount:       req.Delta,
			BalanceAfter: state.PointsBalance,
			Source:       model.SourceAdmin,
			Description:  req.Reason,
			ActorID:      req.ActorID,
		}
		if req.Delta > 0 {
			expiresAt := time.Now().AddDate(0, 0, s.cfg.ExpiryDays)
			entry.ExpiresAt = &expiresAt
			entry.RemainingAmount = req.Delta
		}

		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录积分流水失败: %w", err)
		}

		if req.Delta < 0 {
			if _, err := s.ledgerRepo.ConsumeFIFO(ctx, tx, req.TenantID, req.UserID, -req.Delta); err != nil {
				return fmt.Errorf("扣减流水余量失败: %w", err)
			}
		}

		state.Tier = s.tiers.Resolve(state.PointsBalance).Code

		return s.stateRepo.Save(ctx, tx, state, fromVersion)
	})
	if err != nil {
		return nil, err
	}

	s.snapshots.Invalidate(ctx, req.TenantID, req.UserID)
	log.Printf("[Adjust] 管理员调整: tenantID=%d, userID=%d, delta=%d, actor=%s, reason=%s",
		req.TenantID, req.UserID, req.Delta, req.ActorID, req.Reason)

	return &AdjustResult{
		NewBalance: state.PointsBalance,
		EntryNo:    entry.EntryNo,
	}, nil
}
