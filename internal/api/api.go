// Package api holds what the HTTP and gRPC transports share.
package api

import (
	"context"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/service"
)

// Service is the account registry as the transports see it.
type Service interface {
	SubmitOrder(ctx context.Context, accountID string, req domain.OrderRequest) (*domain.Order, error)
	CancelOrder(ctx context.Context, accountID, orderID string) (domain.Order, error)
	ProcessBar(ctx context.Context, accountID, symbol string, bar domain.Bar) ([]domain.Fill, error)
	ProcessBarAll(ctx context.Context, symbol string, bar domain.Bar) (map[string][]domain.Fill, error)
	CheckRisk(ctx context.Context, accountID string, req domain.OrderRequest) (domain.RiskCheckResult, error)
	PruneClosedPositions(ctx context.Context, accountID string) ([]string, error)
	Account(ctx context.Context, accountID string) (domain.Account, error)
	Positions(ctx context.Context, accountID string) ([]domain.Position, error)
	Orders(ctx context.Context, accountID string, activeOnly bool) ([]domain.Order, error)
	Order(ctx context.Context, accountID, orderID string) (domain.Order, error)
	Fills(ctx context.Context, accountID, symbol string) ([]domain.Fill, error)
	Feed() *service.FillFeed
}

var _ Service = (*service.Accounts)(nil)
