package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 用户级互斥锁
// ============================================================================
//
// 【为什么必须按用户加锁？】
//
// 余额变更都是"读余额 -> 计算 -> 写回"的三步操作，
// 同一用户的 Earn / Spend / Adjust / 过期扫描并发执行时，
// 不加锁会丢失更新：
//
//   goroutine1: 读余额=100 -> 消费100 -> 余额=0    OK
//   goroutine2: 读余额=100 -> 消费100 -> 余额=-100 超扣了！
//
// FIFO 余量扣减同理：消费和过期扫描同时读到同一笔入账余量，
// 会把同一份余量扣两次。
//
// 锁按 (tenant, user) 维度划分，不同用户完全不互相阻塞。
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var ErrLockFailed = errors.New("获取用户锁失败")

// Unlocker 持有中的锁，用完必须释放
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Manager 用户锁管理器
// 多实例部署用 Redis 实现；单元测试用进程内实现
type Manager interface {
	// LockUser 阻塞式获取指定用户的互斥锁
	LockUser(ctx context.Context, tenantID, userID int64) (Unlocker, error)
}

// ============================================================================
// Redis 实现
// ============================================================================

// DistributedLock 基于 Redis SetNX 的分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string        // 锁持有者标识
	expiration time.Duration // 锁的过期时间
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 【关键点】Lua 脚本先验证 value 再删除：
// A 的锁超时自动释放、B 拿到锁之后，A 迟到的 Unlock 不能删掉 B 的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// RedisManager 按 (tenant, user) 维度派发 Redis 锁
type RedisManager struct {
	client *redis.Client
}

func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

func (m *RedisManager) LockUser(ctx context.Context, tenantID, userID int64) (Unlocker, error) {
	key := fmt.Sprintf("loyalty:lock:user:%d:%d", tenantID, userID)
	// value 带时间戳，便于追踪锁持有时刻
	value := fmt.Sprintf("%d", time.Now().UnixNano())
	l := NewDistributedLock(m.client, key, value, 30*time.Second)
	if err := l.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, err
	}
	return l, nil
}
