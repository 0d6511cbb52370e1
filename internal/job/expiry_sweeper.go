package job

import (
	"context"
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

// ============================================================================
// 积分过期扫描任务
// ============================================================================
//
// 扫描所有"已到期、未标记过期、余量 > 0"的入账流水，
// 把余量转成一笔 EXPIRE 流水并从余额中扣除。
//
// 【幂等性】已处理的流水被 is_expired 过滤掉，重复扫描无副作用；
// 锁内二次确认 + MarkExpired 的条件更新保证与消费并发时不会重复过期。
//
// 【失败隔离】单条流水处理失败只记日志，不中断其他用户的扫描。
//
// ============================================================================

type ExpirySweeper struct {
	db         *gorm.DB
	cfg        *config.LoyaltyConfig
	tiers      *model.TierTable
	locks      lock.Manager
	snapshots  *cache.SnapshotCache
	stateRepo  *repository.StateRepository
	ledgerRepo *repository.LedgerRepository
	outboxRepo *repository.OutboxRepository
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewExpirySweeper(db *gorm.DB, cfg *config.LoyaltyConfig, locks lock.Manager, snapshots *cache.SnapshotCache) *ExpirySweeper {
	interval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	return &ExpirySweeper{
		db:         db,
		cfg:        cfg,
		tiers:      cfg.TierTable(),
		locks:      locks,
		snapshots:  snapshots,
		stateRepo:  repository.NewStateRepository(db),
		ledgerRepo: repository.NewLedgerRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  batchSize,
	}
}

func (j *ExpirySweeper) Start(ctx context.Context) {
	log.Println("[ExpirySweeper] 积分过期扫描任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[ExpirySweeper] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[ExpirySweeper] 任务停止")
			return
		case <-ticker.C:
			j.SweepOnce(ctx)
		}
	}
}

func (j *ExpirySweeper) Stop() {
	close(j.stopCh)
}

// SweepOnce 执行一轮扫描，返回成功过期的流水条数
func (j *ExpirySweeper) SweepOnce(ctx context.Context) int {
	entries, err := j.ledgerRepo.ListExpiryDue(ctx, time.Now(), j.batchSize)
	if err != nil {
		log.Printf("[ExpirySweeper] 查询到期流水失败: %v", err)
		return 0
	}

	if len(entries) == 0 {
		return 0
	}

	log.Printf("[ExpirySweeper] 发现 %d 条到期流水", len(entries))

	expiredCount := 0
	for _, entry := range entries {
		if err := j.expireEntry(ctx, entry); err != nil {
			log.Printf("[ExpirySweeper] 处理到期流水失败: entryNo=%s, err=%v", entry.EntryNo, err)
			continue
		}
		expiredCount++
	}

	log.Printf("[ExpirySweeper] 本轮过期处理 %d 条流水", expiredCount)
	return expiredCount
}

// expireEntry 处理单条到期流水：余量转 EXPIRE 流水并扣减余额
// 与该用户的消费/入账共用同一把用户锁
func (j *ExpirySweeper) expireEntry(ctx context.Context, due *model.LedgerEntry) error {
	userLock, err := j.locks.LockUser(ctx, due.TenantID, due.UserID)
	if err != nil {
		return err
	}
	defer userLock.Unlock(ctx)

	err = j.db.Transaction(func(tx *gorm.DB) error {
		// 锁内重读：拿锁前这笔余量可能已被消费清零或被上一轮扫描处理
		entry, err := j.ledgerRepo.GetByID(ctx, tx, due.ID)
		if err != nil {
			return err
		}
		if entry.IsExpired || entry.RemainingAmount <= 0 {
			return nil
		}

		state, err := j.stateRepo.GetByUserID(ctx, entry.TenantID, entry.UserID)
		if err != nil {
			return err
		}
		fromVersion := state.Version

		expireAmount := entry.RemainingAmount

		// 余额下限为 0，容忍投影漂移
		newBalance := state.PointsBalance - expireAmount
		if newBalance < 0 {
			log.Printf("[ExpirySweeper] 余额不足以扣除过期积分，按0处理: entryNo=%s, balance=%d, expire=%d",
				entry.EntryNo, state.PointsBalance, expireAmount)
			newBalance = 0
		}

		expireEntry := &model.LedgerEntry{
			EntryNo:       idgen.GenerateEntryNo(),
			TenantID:      entry.TenantID,
			UserID:        entry.UserID,
			Type:          model.EntryTypeExpire,
			Amount:        -expireAmount,
			BalanceAfter:  newBalance,
			Source:        model.SourceExpiry,
			ReferenceID:   entry.EntryNo,
			ReferenceType: "ledger_entry",
			Description:   "积分到期作废",
		}
		if err := j.ledgerRepo.Create(ctx, tx, expireEntry); err != nil {
			return err
		}

		if err := j.ledgerRepo.MarkExpired(ctx, tx, entry.ID); err != nil {
			return err
		}

		state.PointsBalance = newBalance
		state.Tier = j.tiers.Resolve(newBalance).Code

		if err := j.outboxRepo.Create(ctx, tx, model.NewPointsExpiredEvent(expireEntry)); err != nil {
			return err
		}

		return j.stateRepo.Save(ctx, tx, state, fromVersion)
	})
	if err != nil {
		return err
	}

	j.snapshots.Invalidate(ctx, due.TenantID, due.UserID)
	return nil
}
