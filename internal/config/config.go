package config

import (
	"log"

	"loyaltycore/internal/model"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Loyalty LoyaltyConfig `mapstructure:"loyalty"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// TierConfig 等级配置项
type TierConfig struct {
	Code            string  `mapstructure:"code"`
	MinPoints       int64   `mapstructure:"min_points"`
	CashbackPercent float64 `mapstructure:"cashback_percent"`
	EarnMultiplier  float64 `mapstructure:"earn_multiplier"`
}

// StreakMilestone 连续活跃里程碑
type StreakMilestone struct {
	Days  int   `mapstructure:"days"`
	Bonus int64 `mapstructure:"bonus"`
}

// LoyaltyConfig 积分业务配置
type LoyaltyConfig struct {
	ExpiryDays          int   `mapstructure:"expiry_days"`            // 积分有效期（天）
	MinSpendPoints      int64 `mapstructure:"min_spend_points"`       // 单次兑换积分下限
	PointValueCents     int64 `mapstructure:"point_value_cents"`      // 单积分折算金额（分）
	MinOrderAmountCents int64 `mapstructure:"min_order_amount_cents"` // 低于该订单金额不产生积分
	OrderEarnRate       int64 `mapstructure:"order_earn_rate"`        // 每消费1元获得的基础积分
	MaxPointsPerOrder   int64 `mapstructure:"max_points_per_order"`   // 单笔订单基础积分上限（倍率前）
	WelcomeBonusPoints  int64 `mapstructure:"welcome_bonus_points"`   // 新用户奖励积分

	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"` // 过期扫描间隔
	SweepBatchSize       int `mapstructure:"sweep_batch_size"`       // 过期扫描单批条数
	OutboxMaxRetryCount  int `mapstructure:"outbox_max_retry_count"` // 事件投递最大重试次数
	OutboxIntervalMs     int `mapstructure:"outbox_interval_ms"`     // 事件投递轮询间隔
	SnapshotCacheSeconds int `mapstructure:"snapshot_cache_seconds"` // 余额快照缓存时长

	StreakMilestones []StreakMilestone `mapstructure:"streak_milestones"`
	Tiers            []TierConfig      `mapstructure:"tiers"`
}

// TierTable 根据配置构建等级表
func (c *LoyaltyConfig) TierTable() *model.TierTable {
	tiers := make([]model.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		tiers = append(tiers, model.Tier{
			Code:            t.Code,
			MinPoints:       t.MinPoints,
			CashbackPercent: t.CashbackPercent,
			EarnMultiplier:  t.EarnMultiplier,
		})
	}
	return model.NewTierTable(tiers)
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
