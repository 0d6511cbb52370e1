package job

import (
	"context"
	"errors"
	"testing"

	"loyaltycore/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sentRecord struct {
	topic string
	key   string
	value string
}

func seedOutbox(t *testing.T, db *gorm.DB, topic string, retryCount int) *model.OutboxMessage {
	t.Helper()
	msg := &model.OutboxMessage{
		MessageKey: "1:100",
		Topic:      topic,
		Payload:    `{"tenant_id":1,"user_id":100}`,
		Status:     model.OutboxStatusPending,
		RetryCount: retryCount,
	}
	require.NoError(t, db.Create(msg).Error)
	return msg
}

func TestOutboxSenderDeliversPending(t *testing.T) {
	db := newTestDB(t)
	sender := NewOutboxSender(db, testLoyaltyConfig())

	var sent []sentRecord
	sender.send = func(topic, key, value string) error {
		sent = append(sent, sentRecord{topic, key, value})
		return nil
	}

	msg := seedOutbox(t, db, model.TopicPointsEarned, 0)
	sender.processPendingMessages(context.Background())

	require.Len(t, sent, 1)
	assert.Equal(t, model.TopicPointsEarned, sent[0].topic)
	assert.Equal(t, "1:100", sent[0].key)

	var reloaded model.OutboxMessage
	require.NoError(t, db.First(&reloaded, msg.ID).Error)
	assert.Equal(t, model.OutboxStatusSent, reloaded.Status)

	// 已投递的事件不会重复发送
	sender.processPendingMessages(context.Background())
	assert.Len(t, sent, 1)
}

func TestOutboxSenderRetriesOnFailure(t *testing.T) {
	db := newTestDB(t)
	sender := NewOutboxSender(db, testLoyaltyConfig())
	sender.send = func(topic, key, value string) error {
		return errors.New("kafka不可用")
	}

	msg := seedOutbox(t, db, model.TopicPointsSpent, 0)
	sender.processPendingMessages(context.Background())

	var reloaded model.OutboxMessage
	require.NoError(t, db.First(&reloaded, msg.ID).Error)
	assert.Equal(t, model.OutboxStatusPending, reloaded.Status)
	assert.Equal(t, 1, reloaded.RetryCount)
}

func TestOutboxSenderMarksFailedAfterMaxRetries(t *testing.T) {
	db := newTestDB(t)
	sender := NewOutboxSender(db, testLoyaltyConfig())
	sender.send = func(topic, key, value string) error {
		return errors.New("kafka不可用")
	}

	// 已重试2次，本次失败后达到上限3
	msg := seedOutbox(t, db, model.TopicPointsSpent, 2)
	sender.processPendingMessages(context.Background())

	var reloaded model.OutboxMessage
	require.NoError(t, db.First(&reloaded, msg.ID).Error)
	assert.Equal(t, model.OutboxStatusFailed, reloaded.Status)
}
