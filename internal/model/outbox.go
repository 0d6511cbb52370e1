package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 积分事件 Kafka topic
const (
	TopicPointsEarned  = "loyalty.points.earned"
	TopicPointsSpent   = "loyalty.points.spent"
	TopicPointsExpired = "loyalty.points.expired"
	TopicTierChanged   = "loyalty.tier.changed"
)

// OutboxMessage 事务发件箱
// 积分事件与流水在同一个数据库事务中落库，由后台任务异步投递到 Kafka，
// 保证"余额变动了但事件丢了"不会发生
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "loyalty_outbox_message"
}
