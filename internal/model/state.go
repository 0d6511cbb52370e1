package model

import (
	"time"
)

// UserLoyaltyState 用户积分账户投影
// 记录用户当前余额、等级和连续活跃状态，是流水表的物化视图
//
// 【不变式】points_balance 必须等于该用户所有未过期流水的 amount 之和，
// 任何破坏该等式的写入路径都是 bug
type UserLoyaltyState struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID      int64  `gorm:"not null;uniqueIndex:ux_state_tenant_user,priority:1" json:"tenant_id"`
	UserID        int64  `gorm:"not null;uniqueIndex:ux_state_tenant_user,priority:2" json:"user_id"`
	PointsBalance int64  `gorm:"not null;default:0" json:"points_balance"` // 可用积分余额
	Tier          string `gorm:"type:varchar(20);not null;index" json:"tier"`

	// 累计统计（只增不减，过期/消费不回退）
	TotalEarned     int64 `gorm:"not null;default:0" json:"total_earned"`
	TotalSpent      int64 `gorm:"not null;default:0" json:"total_spent"`
	OrderCount      int64 `gorm:"not null;default:0" json:"order_count"`
	OrderSpendTotal int64 `gorm:"not null;default:0" json:"order_spend_total"` // 订单消费总额（分）

	// 连续活跃
	CurrentStreak    int        `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak    int        `gorm:"not null;default:0" json:"longest_streak"`
	LastActivityDate *time.Time `json:"last_activity_date,omitempty"` // 按自然日记录（UTC 零点）

	WelcomeBonusGranted bool `gorm:"not null;default:false" json:"welcome_bonus_granted"`

	Version   int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserLoyaltyState) TableName() string {
	return "user_loyalty_state"
}
