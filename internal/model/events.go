package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// 积分事件构造
// 事件行和流水行同事务落库，由 OutboxSender 异步投递到 Kafka

func newOutboxMessage(topic string, tenantID, userID int64, payload map[string]interface{}) *OutboxMessage {
	payload["tenant_id"] = tenantID
	payload["user_id"] = userID
	payload["occurred_at"] = time.Now().Format(time.RFC3339)
	payloadBytes, _ := json.Marshal(payload)

	return &OutboxMessage{
		MessageKey: fmt.Sprintf("%d:%d", tenantID, userID),
		Topic:      topic,
		Payload:    string(payloadBytes),
		Status:     OutboxStatusPending,
	}
}

func NewPointsEarnedEvent(entry *LedgerEntry) *OutboxMessage {
	return newOutboxMessage(TopicPointsEarned, entry.TenantID, entry.UserID, map[string]interface{}{
		"entry_no":     entry.EntryNo,
		"amount":       entry.Amount,
		"source":       entry.Source,
		"reference_id": entry.ReferenceID,
	})
}

func NewPointsSpentEvent(entry *LedgerEntry) *OutboxMessage {
	return newOutboxMessage(TopicPointsSpent, entry.TenantID, entry.UserID, map[string]interface{}{
		"entry_no":     entry.EntryNo,
		"amount":       -entry.Amount,
		"reference_id": entry.ReferenceID,
	})
}

func NewPointsExpiredEvent(entry *LedgerEntry) *OutboxMessage {
	return newOutboxMessage(TopicPointsExpired, entry.TenantID, entry.UserID, map[string]interface{}{
		"entry_no": entry.EntryNo,
		"amount":   -entry.Amount,
	})
}

func NewTierChangedEvent(tenantID, userID int64, oldTier, newTier string) *OutboxMessage {
	return newOutboxMessage(TopicTierChanged, tenantID, userID, map[string]interface{}{
		"old_tier": oldTier,
		"new_tier": newTier,
	})
}
