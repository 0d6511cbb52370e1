package model

import (
	"sort"
)

// Tier 等级定义（静态配置，无状态）
type Tier struct {
	Code            string  `json:"code"`             // 等级标识，如 bronze/silver/gold/platinum
	MinPoints       int64   `json:"min_points"`       // 达到该等级所需余额下限
	CashbackPercent float64 `json:"cashback_percent"` // 返现比例
	EarnMultiplier  float64 `json:"earn_multiplier"`  // 获取积分倍率
}

// TierProgress 等级进度信息
type TierProgress struct {
	Current      Tier    `json:"current"`
	Next         *Tier   `json:"next,omitempty"` // 已是最高等级时为 nil
	PointsToNext int64   `json:"points_to_next"` // 距下一等级还差多少积分
	Percent      float64 `json:"percent"`        // 当前等级区间内的进度 0-100
}

// TierTable 按 MinPoints 升序排列的等级表
// 必须包含一个 MinPoints=0 的默认等级，否则新用户无等级可归属
type TierTable struct {
	tiers []Tier
}

func NewTierTable(tiers []Tier) *TierTable {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinPoints < sorted[j].MinPoints
	})
	return &TierTable{tiers: sorted}
}

// Resolve 返回余额所能达到的最高等级
func (t *TierTable) Resolve(balance int64) Tier {
	current := t.tiers[0]
	for _, tier := range t.tiers {
		if tier.MinPoints <= balance {
			current = tier
		} else {
			break
		}
	}
	return current
}

// Next 返回比给定等级高一级的等级，已是最高等级时返回 nil
func (t *TierTable) Next(code string) *Tier {
	for i, tier := range t.tiers {
		if tier.Code == code {
			if i+1 < len(t.tiers) {
				next := t.tiers[i+1]
				return &next
			}
			return nil
		}
	}
	return nil
}

// Progress 计算余额在当前等级区间内的进度
// 区间下限为 0%，下一等级门槛为 100%；最高等级恒为 100%
func (t *TierTable) Progress(balance int64) TierProgress {
	current := t.Resolve(balance)
	next := t.Next(current.Code)

	progress := TierProgress{Current: current, Next: next}
	if next == nil {
		progress.Percent = 100
		return progress
	}

	progress.PointsToNext = next.MinPoints - balance
	span := next.MinPoints - current.MinPoints
	if span > 0 {
		progress.Percent = float64(balance-current.MinPoints) / float64(span) * 100
	}
	return progress
}

// All 返回等级表副本（升序）
func (t *TierTable) All() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
