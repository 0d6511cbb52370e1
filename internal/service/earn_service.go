package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"loyaltycore/internal/config"
	"loyaltycore/internal/infrastructure/cache"
	"loyaltycore/internal/infrastructure/lock"
	"loyaltycore/internal/model"
	"loyaltycore/internal/repository"
	"loyaltycore/pkg/idgen"

	"gorm.io/gorm"
)

// EarnService 积分获取引擎
//
// 所有入账路径（普通入账、订单入账、新用户奖励、连续活跃奖励）都从这里走：
// 用户锁 -> 读账户 -> 计算 -> 单事务内"追加流水 + 回写投影 + 写事件"
type EarnService struct {
	db         *gorm.DB
	cfg        *config.LoyaltyConfig
	tiers      *model.TierTable
	locks      lock.Manager
	snapshots  *cache.SnapshotCache
	streaks    *StreakTracker
	stateRepo  *repository.StateRepository
	ledgerRepo *repository.LedgerRepository
	outboxRepo *repository.OutboxRepository
}

func NewEarnService(db *gorm.DB, cfg *config.LoyaltyConfig, locks lock.Manager, snapshots *cache.SnapshotCache) *EarnService {
	return &EarnService{
		db:         db,
		cfg:        cfg,
		tiers:      cfg.TierTable(),
		locks:      locks,
		snapshots:  snapshots,
		streaks:    NewStreakTracker(cfg.StreakMilestones),
		stateRepo:  repository.NewStateRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
	}
}

type EarnRequest struct {
	TenantID      int64
	UserID        int64
	Amount        int64 // 倍率前的基础积分
	Source        string
	ReferenceID   string
	ReferenceType string
	Description   string
}

type EarnResult struct {
	CreditedAmount int64               `json:"credited_amount"`
	NewBalance     int64               `json:"new_balance"`
	TierChanged    bool                `json:"tier_changed"`
	TierInfo       *model.TierProgress `json:"tier_info,omitempty"`
}

// Earn 向已有积分账户入账
// 按用户当前等级倍率放大基础积分；账户不存在时返回 ErrStateNotFound
func (s *EarnService) Earn(ctx context.Context, req *EarnRequest) (*EarnResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
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

	oldTier := state.Tier
	var credited int64

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fromVersion := state.Version

		entry, err := s.credit(ctx, tx, state, req, true)
		if err != nil {
			return err
		}
		credited = entry.Amount

		if err := s.resolveTier(ctx, tx, state, oldTier); err != nil {
			return err
		}

		return s.stateRepo.Save(ctx, tx, state, fromVersion)
	})
	if err != nil {
		return nil, err
	}

	s.snapshots.Invalidate(ctx, req.TenantID, req.UserID)

	return s.earnResult(credited, state, oldTier), nil
}

type OrderEarnRequest struct {
	TenantID         int64
	UserID           int64
	OrderAmountCents int64 // 订单实付金额（分）
	OrderID          string
}

type OrderEarnResult struct {
	CreditedAmount int64               `json:"credited_amount"` // 订单本身产生的积分
	WelcomeBonus   int64               `json:"welcome_bonus,omitempty"`
	StreakBonus    *MilestoneBonus     `json:"streak_bonus,omitempty"`
	CurrentStreak  int                 `json:"current_streak"`
	NewBalance     int64               `json:"new_balance"`
	TierChanged    bool                `json:"tier_changed"`
	TierInfo       *model.TierProgress `json:"tier_info,omitempty"`
}

// EarnFromOrder 订单完成入账
//
// 与普通入账的差异：
//   - 首次交互自动建户，并发放一次性新用户奖励
//   - 低于起算金额的订单不产生积分；倍率前的基础积分有单笔上限
//   - 更新订单数/消费总额统计，并推进连续活跃计数，
//     达标的里程碑奖励在同一事务内入账
func (s *EarnService) EarnFromOrder(ctx context.Context, req *OrderEarnRequest) (*OrderEarnResult, error) {
	if req.OrderAmountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	userLock, err := s.locks.LockUser(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer userLock.Unlock(ctx)

	defaultTier := s.tiers.Resolve(0)
	state, err := s.stateRepo.GetOrCreate(ctx, req.TenantID, req.UserID, defaultTier.Code)
	if err != nil {
		return nil, err
	}

	oldTier := state.Tier
	result := &OrderEarnResult{}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fromVersion := state.Version

		// 新用户奖励（一次性，不吃等级倍率）
		if !state.WelcomeBonusGranted && s.cfg.WelcomeBonusPoints > 0 {
			entry, err := s.credit(ctx, tx, state, &EarnRequest{
				TenantID:    req.TenantID,
				UserID:      req.UserID,
				Amount:      s.cfg.WelcomeBonusPoints,
				Source:      model.SourceWelcomeBonus,
				Description: "新用户注册奖励",
			}, false)
			if err != nil {
				return err
			}
			state.WelcomeBonusGranted = true
			result.WelcomeBonus = entry.Amount
		}

		// 订单积分：起算金额之下为0，倍率前封顶
		raw := s.orderRawPoints(req.OrderAmountCents)
		if raw > 0 {
			entry, err := s.credit(ctx, tx, state, &EarnRequest{
				TenantID:      req.TenantID,
				UserID:        req.UserID,
				Amount:        raw,
				Source:        model.SourceOrder,
				ReferenceID:   req.OrderID,
				ReferenceType: "order",
				Description:   "订单完成积分",
			}, true)
			if err != nil {
				return err
			}
			result.CreditedAmount = entry.Amount
		}

		state.OrderCount++
		state.OrderSpendTotal += req.OrderAmountCents

		// 连续活跃：达标奖励同事务入账
		if bonus := s.streaks.RecordActivity(state, time.Now()); bonus != nil {
			entry, err := s.credit(ctx, tx, state, &EarnRequest{
				TenantID:    req.TenantID,
				UserID:      req.UserID,
				Amount:      bonus.Bonus,
				Source:      model.SourceStreakBonus,
				Description: bonus.Message,
			}, false)
			if err != nil {
				return err
			}
			bonus.Bonus = entry.Amount
			result.StreakBonus = bonus
		}

		if err := s.resolveTier(ctx, tx, state, oldTier); err != nil {
			return err
		}

		return s.stateRepo.Save(ctx, tx, state, fromVersion)
	})
	if err != nil {
		return nil, err
	}

	s.snapshots.Invalidate(ctx, req.TenantID, req.UserID)

	base := s.earnResult(result.CreditedAmount, state, oldTier)
	result.NewBalance = base.NewBalance
	result.TierChanged = base.TierChanged
	result.TierInfo = base.TierInfo
	result.CurrentStreak = state.CurrentStreak
	return result, nil
}

// credit 追加一笔入账流水并更新内存中的投影
// applyMultiplier 为 true 时按入账前等级倍率放大并向下取整
func (s *EarnService) credit(ctx context.Context, tx *gorm.DB, state *model.UserLoyaltyState, req *EarnRequest, applyMultiplier bool) (*model.LedgerEntry, error) {
	amount := req.Amount
	if applyMultiplier {
		tier := s.tiers.Resolve(state.PointsBalance)
		amount = int64(math.Floor(float64(req.Amount) * tier.EarnMultiplier))
	}

	expiresAt := time.Now().AddDate(0, 0, s.cfg.ExpiryDays)
	state.PointsBalance += amount
	state.TotalEarned += amount

	entry := &model.LedgerEntry{
		EntryNo:         idgen.GenerateEntryNo(),
		TenantID:        req.TenantID,
		UserID:          req.UserID,
		Type:            model.EntryTypeEarn,
		Amount:          amount,
		BalanceAfter:    state.PointsBalance,
		Source:          req.Source,
		ReferenceID:     req.ReferenceID,
		ReferenceType:   req.ReferenceType,
		Description:     req.Description,
		ExpiresAt:       &expiresAt,
		RemainingAmount: amount,
	}

	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("记录积分流水失败: %w", err)
	}

	if err := s.outboxRepo.Create(ctx, tx, model.NewPointsEarnedEvent(entry)); err != nil {
		return nil, fmt.Errorf("写入积分事件失败: %w", err)
	}

	return entry, nil
}

// resolveTier 按新余额重算等级，升级时写等级变更事件
// 事件写入失败必须让整个事务回滚，否则等级变了但通知永久丢失
func (s *EarnService) resolveTier(ctx context.Context, tx *gorm.DB, state *model.UserLoyaltyState, oldTier string) error {
	newTier := s.tiers.Resolve(state.PointsBalance)
	if newTier.Code == state.Tier {
		return nil
	}
	state.Tier = newTier.Code
	if state.Tier != oldTier {
		if err := s.outboxRepo.Create(ctx, tx, model.NewTierChangedEvent(state.TenantID, state.UserID, oldTier, state.Tier)); err != nil {
			return fmt.Errorf("写入等级变更事件失败: %w", err)
		}
	}
	return nil
}

func (s *EarnService) orderRawPoints(orderAmountCents int64) int64 {
	if orderAmountCents < s.cfg.MinOrderAmountCents {
		return 0
	}
	raw := orderAmountCents / 100 * s.cfg.OrderEarnRate
	if s.cfg.MaxPointsPerOrder > 0 && raw > s.cfg.MaxPointsPerOrder {
		raw = s.cfg.MaxPointsPerOrder
	}
	return raw
}

func (s *EarnService) earnResult(credited int64, state *model.UserLoyaltyState, oldTier string) *EarnResult {
	result := &EarnResult{
		CreditedAmount: credited,
		NewBalance:     state.PointsBalance,
		TierChanged:    state.Tier != oldTier,
	}
	if result.TierChanged {
		progress := s.tiers.Progress(state.PointsBalance)
		result.TierInfo = &progress
	}
	return result
}
