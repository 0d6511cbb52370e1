package lock

import (
	"context"
	"fmt"
	"sync"
)

// LocalManager 进程内用户锁，语义与 Redis 实现一致
// 用于单实例部署和单元测试
type LocalManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalManager() *LocalManager {
	return &LocalManager{locks: make(map[string]*sync.Mutex)}
}

func (m *LocalManager) LockUser(ctx context.Context, tenantID, userID int64) (Unlocker, error) {
	key := fmt.Sprintf("%d:%d", tenantID, userID)

	m.mu.Lock()
	userMu, ok := m.locks[key]
	if !ok {
		userMu = &sync.Mutex{}
		m.locks[key] = userMu
	}
	m.mu.Unlock()

	userMu.Lock()
	return localUnlocker{mu: userMu}, nil
}

type localUnlocker struct {
	mu *sync.Mutex
}

func (u localUnlocker) Unlock(ctx context.Context) error {
	u.mu.Unlock()
	return nil
}
