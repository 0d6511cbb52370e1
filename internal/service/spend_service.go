package service

import (
	"context"
	"fmt"
	"log"

	"loyaltycore/internal/config"
	"loyaltycore/internal/infrastructure/cache"
	"loyaltycore/internal/infrastructure/lock"
	"loyaltycore/internal/model"
	"loyaltycore/internal/repository"
	"loyaltycore/pkg/idgen"

	"gorm.io/gorm"
)

// SpendService 积分消费引擎
//
// 【FIFO 余量消耗】
// 余额扣减本身只动投影，但必须同时把消费额摊到最早的入账流水余量上，
// 否则过期扫描会把"早就被花掉的"旧积分再过期一次，余额被双重扣减。
// 消耗顺序严格按入账时间升序：旧积分先花，新积分活得最久。
type SpendService struct {
	db         *gorm.DB
	cfg        *config.LoyaltyConfig
	tiers      *model.TierTable
	locks      lock.Manager
	snapshots  *cache.SnapshotCache
	stateRepo  *repository.StateRepository
	ledgerRepo *repository.LedgerRepository
	outboxRepo *repository.OutboxRepository
}

func NewSpendService(db *gorm.DB, cfg *config.LoyaltyConfig, locks lock.Manager, snapshots *cache.SnapshotCache) *SpendService {
	return &SpendService{
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

type SpendRequest struct {
	TenantID    int64
	UserID      int64
	Amount      int64 // 要消费的积分数（正数）
	ReferenceID string
	Description string
}

type SpendResult struct {
	DebitedAmount      int64  `json:"debited_amount"`
	NewBalance         int64  `json:"new_balance"`
	MonetaryValueCents int64  `json:"monetary_value_cents"` // 本次兑换折算金额（分）
	EntryNo            string `json:"entry_no"`
}

// Spend 消费积分
// 校验顺序：数量合法 -> 达到最低兑换门槛 -> 余额充足
// "积分最多抵扣订单N%"之类的上限由调用方（订单系统）自行约束
func (s *SpendService) Spend(ctx context.Context, req *SpendRequest) (*SpendResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Amount < s.cfg.MinSpendPoints {
		return nil, fmt.Errorf("%w：单次最低兑换 %d 积分", ErrBelowMinSpend, s.cfg.MinSpendPoints)
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

	if req.Amount > state.PointsBalance {
		return nil, fmt.Errorf("%w：当前余额 %d", ErrBalanceNotEnough, state.PointsBalance)
	}

	var entry *model.LedgerEntry

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fromVersion := state.Version

		state.PointsBalance -= req.Amount
		state.TotalSpent += req.Amount

		entry = &model.LedgerEntry{
			EntryNo:       idgen.GenerateEntryNo(),
			TenantID:      req.TenantID,
			UserID:        req.UserID,
			Type:          model.EntryTypeSpend,
			Amount:        -req.Amount,
			BalanceAfter:  state.PointsBalance,
			Source:        model.SourceRedemption,
			ReferenceID:   req.ReferenceID,
			ReferenceType: "order",
			Description:   req.Description,
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("记录积分流水失败: %w", err)
		}

		shortfall, err := s.ledgerRepo.ConsumeFIFO(ctx, tx, req.TenantID, req.UserID, req.Amount)
		if err != nil {
			return fmt.Errorf("扣减流水余量失败: %w", err)
		}
		if shortfall > 0 {
			// 余额校验已通过却摊不满，说明投影和流水余量有漂移，记录但不拦截
			log.Printf("[Spend] 余量不足以覆盖消费: tenantID=%d, userID=%d, 未摊销=%d",
				req.TenantID, req.UserID, shortfall)
		}

		// 消费可能导致降级（余额回落到更低区间）
		state.Tier = s.tiers.Resolve(state.PointsBalance).Code

		if err := s.outboxRepo.Create(ctx, tx, model.NewPointsSpentEvent(entry)); err != nil {
			return fmt.Errorf("写入积分事件失败: %w", err)
		}

		return s.stateRepo.Save(ctx, tx, state, fromVersion)
	})
	if err != nil {
		return nil, err
	}

	s.snapshots.Invalidate(ctx, req.TenantID, req.UserID)

	return &SpendResult{
		DebitedAmount:      req.Amount,
		NewBalance:         state.PointsBalance,
		MonetaryValueCents: req.Amount * s.cfg.PointValueCents,
		EntryNo:            entry.EntryNo,
	}, nil
}
