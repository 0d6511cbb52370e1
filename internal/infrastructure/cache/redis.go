package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"loyaltycore/internal/config"

	"github.com/go-redis/redis/v8"
)

var RedisClient *redis.Client

func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}

	RedisClient = client
	log.Println("Redis 连接成功")
	return client
}

// SnapshotCache 余额快照缓存
// 快照查询是高频读，短 TTL + 写后失效即可，不追求强一致
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache client 为 nil 时缓存整体退化为直查（测试和单机场景）
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

func (c *SnapshotCache) key(tenantID, userID int64) string {
	return fmt.Sprintf("loyalty:snapshot:%d:%d", tenantID, userID)
}

// Get 返回缓存的快照 JSON，miss 或异常时返回空串
func (c *SnapshotCache) Get(ctx context.Context, tenantID, userID int64) string {
	if c == nil || c.client == nil {
		return ""
	}
	val, err := c.client.Get(ctx, c.key(tenantID, userID)).Result()
	if err != nil {
		return ""
	}
	return val
}

func (c *SnapshotCache) Set(ctx context.Context, tenantID, userID int64, payload string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, c.key(tenantID, userID), payload, c.ttl).Err(); err != nil {
		log.Printf("[SnapshotCache] 写缓存失败: %v", err)
	}
}

// Invalidate 余额变更后调用，删除旧快照
func (c *SnapshotCache) Invalidate(ctx context.Context, tenantID, userID int64) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(tenantID, userID)).Err(); err != nil {
		log.Printf("[SnapshotCache] 删缓存失败: %v", err)
	}
}
