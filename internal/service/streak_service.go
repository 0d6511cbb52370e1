package service

import (
	"fmt"
	"time"

	"loyaltycore/internal/config"
	"loyaltycore/internal/model"
)

// MilestoneBonus 连续活跃达标奖励，由调用方通过积分入账发放
type MilestoneBonus struct {
	Days    int    `json:"days"`
	Bonus   int64  `json:"bonus"`
	Message string `json:"message"`
}

// StreakTracker 连续活跃追踪
//
// 里程碑判定只看当前连续天数的值，不记录"已领取"状态：
// 连续中断后重新爬回同一里程碑会再次发放奖励（鼓励回流，产品确认的行为）
type StreakTracker struct {
	milestones []config.StreakMilestone
}

func NewStreakTracker(milestones []config.StreakMilestone) *StreakTracker {
	return &StreakTracker{milestones: milestones}
}

// RecordActivity 按自然日更新连续活跃计数，返回本次触发的里程碑奖励（无则为 nil）
//
// 状态机（按 UTC 自然日比较）：
//   - 与上次活跃同一天：不变，幂等返回
//   - 恰好是上次活跃的次日：连续天数 +1
//   - 其他情况（首次活跃 / 中断）：重置为 1
//
// 只修改内存中的 state，持久化由调用方在其事务内完成
func (t *StreakTracker) RecordActivity(state *model.UserLoyaltyState, activityDate time.Time) *MilestoneBonus {
	day := truncateToDay(activityDate)

	if state.LastActivityDate != nil {
		last := truncateToDay(*state.LastActivityDate)
		if day.Equal(last) {
			return nil
		}
		if day.Equal(last.AddDate(0, 0, 1)) {
			state.CurrentStreak++
		} else {
			state.CurrentStreak = 1
		}
	} else {
		state.CurrentStreak = 1
	}

	if state.CurrentStreak > state.LongestStreak {
		state.LongestStreak = state.CurrentStreak
	}
	state.LastActivityDate = &day

	for _, m := range t.milestones {
		if m.Days == state.CurrentStreak {
			return &MilestoneBonus{
				Days:    m.Days,
				Bonus:   m.Bonus,
				Message: fmt.Sprintf("连续活跃 %d 天，奖励 %d 积分", m.Days, m.Bonus),
			}
		}
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
