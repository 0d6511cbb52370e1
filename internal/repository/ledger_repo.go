package repository

import (
	"context"
	"time"

	"loyaltycore/internal/model"

	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// ListConsumable 返回用户所有可被 FIFO 消耗的入账流水，按创建时间升序
// 即：未过期、余量大于 0 的 EARN / 正向 ADJUST 流水
//
// 【重要】必须在持有用户锁的前提下调用，否则余量扣减会与
// 过期扫描或并发消费互相踩踏
func (r *LedgerRepository) ListConsumable(ctx context.Context, tx *gorm.DB, tenantID, userID int64) ([]*model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entries []*model.LedgerEntry
	err := tx.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND amount > 0 AND remaining_amount > 0 AND is_expired = ?",
			tenantID, userID, false).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// ConsumeRemaining 从指定入账流水扣减余量
// remaining_amount >= take 的条件保证余量不会被扣成负数
func (r *LedgerRepository) ConsumeRemaining(ctx context.Context, tx *gorm.DB, entryID, take int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ? AND remaining_amount >= ?", entryID, take).
		UpdateColumn("remaining_amount", gorm.Expr("remaining_amount - ?", take))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// ConsumeFIFO 把 amount 按入账时间从旧到新摊到各笔入账余量上
// 返回未能摊销的差额（投影与余量无漂移时应为 0）
//
// 必须与余额扣减同处一个事务且在用户锁内执行，
// 否则与过期扫描并发时同一份余量会被消耗两次
func (r *LedgerRepository) ConsumeFIFO(ctx context.Context, tx *gorm.DB, tenantID, userID, amount int64) (int64, error) {
	entries, err := r.ListConsumable(ctx, tx, tenantID, userID)
	if err != nil {
		return amount, err
	}

	remaining := amount
	for _, e := range entries {
		if remaining <= 0 {
			break
		}
		take := remaining
		if take > e.RemainingAmount {
			take = e.RemainingAmount
		}
		if err := r.ConsumeRemaining(ctx, tx, e.ID, take); err != nil {
			return remaining, err
		}
		remaining -= take
	}
	return remaining, nil
}

// ListExpiryDue 返回已到期但尚未处理的入账流水（过期扫描专用）
func (r *LedgerRepository) ListExpiryDue(ctx context.Context, now time.Time, limit int) ([]*model.LedgerEntry, error) {
	var entries []*model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("amount > 0 AND is_expired = ? AND remaining_amount > 0 AND expires_at < ?", false, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// GetByID 重新读取单条流水（扫描任务在锁内二次确认用）
func (r *LedgerRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.LedgerEntry, error) {
	if tx == nil {
		tx = r.db
	}
	var entry model.LedgerEntry
	err := tx.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkExpired 将入账流水的余量清零并标记过期
// is_expired = false 的条件保证重复扫描不会二次处理
func (r *LedgerRepository) MarkExpired(ctx context.Context, tx *gorm.DB, entryID int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("id = ? AND is_expired = ?", entryID, false).
		Updates(map[string]interface{}{
			"is_expired":       true,
			"remaining_amount": 0,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

// HistoryFilter 流水分页查询条件
type HistoryFilter struct {
	Types    []string
	Sources  []string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// ListHistory 分页查询用户流水，按创建时间倒序
func (r *LedgerRepository) ListHistory(ctx context.Context, tenantID, userID int64, filter HistoryFilter) ([]*model.LedgerEntry, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID)

	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if len(filter.Sources) > 0 {
		query = query.Where("source IN ?", filter.Sources)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 10
	}

	var entries []*model.LedgerEntry
	err := query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// SumByType 统计租户在时间段内各类型流水的积分总量
func (r *LedgerRepository) SumByType(ctx context.Context, tenantID int64, from, to time.Time) (map[string]int64, error) {
	type row struct {
		Type  string
		Total int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Select("type, COALESCE(SUM(amount), 0) AS total").
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, from, to).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	sums := make(map[string]int64, len(rows))
	for _, r := range rows {
		sums[r.Type] = r.Total
	}
	return sums, nil
}
