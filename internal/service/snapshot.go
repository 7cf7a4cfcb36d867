package service

import (
	"context"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/metrics"
)

// updateCache stores the fresh snapshot, or drops the stale one when the
// write fails.
func (s *Accounts) updateCache(ctx context.Context, a domain.Account) {
	metrics.RecordAccount(a)
	if s.cache == nil {
		return
	}
	if err := s.cache.SetAccount(ctx, &a); err != nil {
		s.log.Warn("account cache write failed", "account", a.AccountID, "err", err)
		_ = s.cache.Invalidate(ctx, a.AccountID)
	}
}

func (s *Accounts) cachedAccount(ctx context.Context, accountID string) (*domain.Account, bool) {
	if s.cache == nil {
		return nil, false
	}
	a, err := s.cache.GetAccount(ctx, accountID)
	if err != nil {
		s.log.Warn("account cache read failed", "account", accountID, "err", err)
		return nil, false
	}
	return a, a != nil
}
