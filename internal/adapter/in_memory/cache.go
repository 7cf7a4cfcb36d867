package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
)

type Cache struct {
	mu    sync.Mutex
	store map[string]domain.Account
}

var _ port.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{store: make(map[string]domain.Account)}
}

func (c *Cache) SetAccount(ctx context.Context, a *domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[a.AccountID] = *a
	return nil
}

func (c *Cache) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.store[accountID]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (c *Cache) Invalidate(ctx context.Context, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, accountID)
	return nil
}
