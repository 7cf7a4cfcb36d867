package port

import (
	"context"

	"github.com/olyamironova/paper-engine/internal/domain"
)

// Repository persists paper accounts. LoadAccount returns domain.ErrNotFound
// for an account that was never saved.
type Repository interface {
	LoadAccount(ctx context.Context, accountID string) (*domain.LedgerState, error)
	ListAccounts(ctx context.Context) ([]string, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx groups the writes produced by one engine operation.
type Tx interface {
	// SaveAccount upserts the account row: cash, archived realized P&L, the
	// daily loss baseline and marks. Orders, fills and positions in st are
	// ignored.
	SaveAccount(ctx context.Context, st *domain.LedgerState) error
	SaveOrder(ctx context.Context, o *domain.Order) error
	SaveFill(ctx context.Context, accountID string, f *domain.Fill) error
	SavePosition(ctx context.Context, accountID string, p *domain.Position) error
	DeletePosition(ctx context.Context, accountID, symbol string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
