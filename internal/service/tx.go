package service

import (
	"context"
	"fmt"

	"github.com/olyamironova/paper-engine/internal/core"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
)

func withTx(ctx context.Context, repo port.Repository, fn func(port.Tx) error) error {
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

// changeSet is what one engine operation wrote.
type changeSet struct {
	orders    []domain.Order
	fills     []domain.Fill
	positions []domain.Position
	deleted   []string
}

func (s *Accounts) persist(ctx context.Context, e *core.Engine, cs changeSet) error {
	st := e.AccountState()
	return withTx(ctx, s.repo, func(tx port.Tx) error {
		if err := tx.SaveAccount(ctx, &st); err != nil {
			return fmt.Errorf("save account: %w", err)
		}
		for i := range cs.orders {
			if err := tx.SaveOrder(ctx, &cs.orders[i]); err != nil {
				return fmt.Errorf("save order %s: %w", cs.orders[i].ID, err)
			}
		}
		for i := range cs.fills {
			if err := tx.SaveFill(ctx, st.AccountID, &cs.fills[i]); err != nil {
				return fmt.Errorf("save fill %s: %w", cs.fills[i].ID, err)
			}
		}
		for i := range cs.positions {
			if err := tx.SavePosition(ctx, st.AccountID, &cs.positions[i]); err != nil {
				return fmt.Errorf("save position %s: %w", cs.positions[i].Symbol, err)
			}
		}
		for _, sym := range cs.deleted {
			if err := tx.DeletePosition(ctx, st.AccountID, sym); err != nil {
				return fmt.Errorf("delete position %s: %w", sym, err)
			}
		}
		return nil
	})
}
