package port

import (
	"context"

	"github.com/olyamironova/paper-engine/internal/domain"
)

// Cache holds the latest account snapshot. GetAccount returns nil, nil on a
// miss.
type Cache interface {
	SetAccount(ctx context.Context, a *domain.Account) error
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	Invalidate(ctx context.Context, accountID string) error
}
