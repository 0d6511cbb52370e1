package model

import (
	"time"
)

// ============================================================================
// 积分流水类型常量
// ============================================================================

const (
	EntryTypeEarn   = "EARN"   // 获取积分
	EntryTypeSpend  = "SPEND"  // 消费积分
	EntryTypeAdjust = "ADJUST" // 管理员调整
	EntryTypeExpire = "EXPIRE" // 积分过期
)

// 积分来源常量
const (
	SourceOrder        = "ORDER"         // 订单完成
	SourceWelcomeBonus = "WELCOME_BONUS" // 新用户奖励
	SourceReferral     = "REFERRAL"      // 邀请奖励
	SourceQuest        = "QUEST"         // 任务奖励
	SourceStreakBonus  = "STREAK_BONUS"  // 连续活跃奖励
	SourceRedemption   = "REDEMPTION"    // 积分兑换
	SourceAdmin        = "ADMIN"         // 管理员操作
	SourceExpiry       = "EXPIRY"        // 系统过期处理
)

// ============================================================================
// 积分流水实体
// ============================================================================

// LedgerEntry 积分流水表
// 记录用户积分的每一笔变动，是余额对账的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
//    唯一例外：EARN 类流水的 remaining_amount / is_expired 两个字段，
//    由 FIFO 消耗和过期扫描更新，其余字段落库后不再变动
// 2. 记录交易后余额快照 —— 便于展示历史和校验余额一致性（非权威值）
// 3. remaining_amount 单调递减，区间 [0, amount]
type LedgerEntry struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"` // 流水号（全局唯一）
	TenantID      int64  `gorm:"not null;index:idx_entry_user_created,priority:1;index:idx_entry_user_expires,priority:1" json:"tenant_id"`
	UserID        int64  `gorm:"not null;index:idx_entry_user_created,priority:2;index:idx_entry_user_expires,priority:2" json:"user_id"`
	Type          string `gorm:"type:varchar(20);not null" json:"type"`          // 流水类型
	Amount        int64  `gorm:"not null" json:"amount"`                         // 积分数（入账为正，出账为负）
	BalanceAfter  int64  `gorm:"not null" json:"balance_after"`                  // 交易后余额快照
	Source        string `gorm:"type:varchar(32);not null;index" json:"source"`  // 积分来源
	ReferenceID   string `gorm:"type:varchar(64)" json:"reference_id,omitempty"` // 关联业务ID（订单号、任务ID等）
	ReferenceType string `gorm:"type:varchar(32)" json:"reference_type,omitempty"`
	Description   string `gorm:"type:varchar(256)" json:"description,omitempty"`
	ActorID       string `gorm:"type:varchar(64)" json:"actor_id,omitempty"` // 操作人（管理员调整时记录）

	// 以下三个字段仅对入账类流水（EARN / 正向 ADJUST）有意义
	ExpiresAt       *time.Time `gorm:"index:idx_entry_user_expires,priority:3" json:"expires_at,omitempty"` // 过期时间
	RemainingAmount int64      `gorm:"not null;default:0" json:"remaining_amount"`                          // 未消耗余量
	IsExpired       bool       `gorm:"not null;default:false" json:"is_expired"`                            // 余量是否已转为过期流水

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_entry_user_created,priority:3" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "loyalty_ledger_entry"
}
