// Package service runs one execution engine per paper account and keeps the
// repository and cache in step with it.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/olyamironova/paper-engine/internal/core"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/metrics"
	"github.com/olyamironova/paper-engine/internal/port"
)

var ErrNoAccount = errors.New("account id is required")

type Option func(*Accounts)

// WithClock replaces time.Now as the submission timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Accounts) { s.now = now }
}

// WithEngineOptions passes extra options to every engine the service builds.
func WithEngineOptions(opts ...core.Option) Option {
	return func(s *Accounts) { s.engineOpts = append(s.engineOpts, opts...) }
}

// Accounts is the registry of account engines. Operations on one account are
// serialized; different accounts proceed in parallel.
type Accounts struct {
	cfg        core.Config
	repo       port.Repository
	cache      port.Cache
	log        *slog.Logger
	now        func() time.Time
	engineOpts []core.Option
	feed       *FillFeed

	mu       sync.Mutex
	accounts map[string]*account
}

type account struct {
	mu     sync.Mutex
	engine *core.Engine
}

// NewAccounts builds the registry. cfg is the template for new accounts;
// cache may be nil.
func NewAccounts(cfg core.Config, repo port.Repository, cache port.Cache, log *slog.Logger, opts ...Option) (*Accounts, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, errors.New("service: nil repository")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Accounts{
		cfg:      cfg,
		repo:     repo,
		cache:    cache,
		log:      log,
		now:      time.Now,
		feed:     NewFillFeed(),
		accounts: make(map[string]*account),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Feed publishes fills once they are committed.
func (s *Accounts) Feed() *FillFeed { return s.feed }

// acquire returns the account locked, loading or creating its engine first.
func (s *Accounts) acquire(ctx context.Context, accountID string) (*account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrNoAccount
	}

	s.mu.Lock()
	a, ok := s.accounts[accountID]
	if !ok {
		a = &account{}
		s.accounts[accountID] = a
		metrics.SetAccountsLoaded(len(s.accounts))
	}
	s.mu.Unlock()

	a.mu.Lock()
	if a.engine != nil {
		return a, nil
	}
	e, err := s.load(ctx, accountID)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.engine = e
	return a, nil
}

func (s *Accounts) load(ctx context.Context, accountID string) (*core.Engine, error) {
	opts := append([]core.Option{core.WithLogger(s.log)}, s.engineOpts...)
	st, err := s.repo.LoadAccount(ctx, accountID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.log.Info("opening new paper account", "account", accountID)
		return core.NewEngine(s.cfg.WithAccount(accountID), opts...)
	case err != nil:
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	e, err := core.Restore(s.cfg, *st, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore account %s: %w", accountID, err)
	}
	s.log.Info("restored paper account", "account", accountID,
		"orders", len(st.Orders), "fills", len(st.Fills), "positions", len(st.Positions))
	return e, nil
}

// mutate runs fn on the account's engine and persists what it reports. A
// failed write drops the in-memory engine so the next call reloads the last
// committed state.
func (s *Accounts) mutate(ctx context.Context, accountID string, fn func(e *core.Engine) (changeSet, bool, error)) error {
	a, err := s.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()

	cs, changed, err := fn(a.engine)
	if err != nil || !changed {
		return err
	}
	if err := s.persist(ctx, a.engine, cs); err != nil {
		s.log.Error("persist failed, dropping in-memory state", "account", accountID, "err", err)
		a.engine = nil
		metrics.ForgetAccount(strings.TrimSpace(accountID))
		return fmt.Errorf("persist account %s: %w", accountID, err)
	}
	s.updateCache(ctx, a.engine.Account())
	return nil
}

func (s *Accounts) read(ctx context.Context, accountID string, fn func(e *core.Engine)) error {
	a, err := s.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()
	fn(a.engine)
	return nil
}

// SubmitOrder timestamps req with the service clock and submits it.
func (s *Accounts) SubmitOrder(ctx context.Context, accountID string, req domain.OrderRequest) (*domain.Order, error) {
	var out *domain.Order
	err := s.mutate(ctx, accountID, func(e *core.Engine) (changeSet, bool, error) {
		o, err := e.SubmitOrder(req, s.now().UTC())
		var rej *domain.RejectionError
		if errors.As(err, &rej) {
			metrics.RecordRejected(rej.Check.Order, rej.Check)
		}
		if err != nil {
			return changeSet{}, false, err
		}
		metrics.RecordSubmitted(o)
		out = o
		return changeSet{orders: []domain.Order{*o}}, true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessBar feeds one bar to one account.
func (s *Accounts) ProcessBar(ctx context.Context, accountID, symbol string, bar domain.Bar) ([]domain.Fill, error) {
	var fills []domain.Fill
	err := s.mutate(ctx, accountID, func(e *core.Engine) (changeSet, bool, error) {
		start := time.Now()
		symbol = domain.NormalizeSymbol(symbol)

		before := make(map[string]domain.Order)
		for _, o := range e.Orders(true) {
			if o.Symbol == symbol {
				before[o.ID] = o
			}
		}

		var err error
		fills, err = e.ProcessBar(symbol, bar)
		if err != nil {
			return changeSet{}, false, err
		}

		cs := changeSet{fills: fills}
		for id, prev := range before {
			cur, _ := e.Order(id)
			if cur.Status != prev.Status || cur.FilledQty != prev.FilledQty {
				cs.orders = append(cs.orders, cur)
			}
		}
		sort.Slice(cs.orders, func(i, j int) bool { return cs.orders[i].CreatedAt.Before(cs.orders[j].CreatedAt) })
		if pos, ok := e.Position(symbol); ok {
			cs.positions = append(cs.positions, pos)
		}

		metrics.RecordFills(fills)
		metrics.RecordBar(symbol, time.Since(start))
		return cs, true, nil
	})
	if err != nil {
		return nil, err
	}
	s.feed.Publish(strings.TrimSpace(accountID), fills)
	return fills, nil
}

// ProcessBarAll feeds the bar to every known account: those in memory and
// those in the repository. Per-account failures are joined.
func (s *Accounts) ProcessBarAll(ctx context.Context, symbol string, bar domain.Bar) (map[string][]domain.Fill, error) {
	ids, err := s.accountIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.Fill, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		fills, err := s.ProcessBar(ctx, id, symbol, bar)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", id, err))
			continue
		}
		if len(fills) > 0 {
			out[id] = fills
		}
	}
	return out, errors.Join(errs...)
}

func (s *Accounts) accountIDs(ctx context.Context) ([]string, error) {
	stored, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	seen := make(map[string]struct{}, len(stored))
	for _, id := range stored {
		seen[id] = struct{}{}
	}
	s.mu.Lock()
	for id := range s.accounts {
		seen[id] = struct{}{}
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CancelOrder returns domain.ErrOrderNotFound for unknown orders and
// domain.ErrOrderClosed for orders that are filled or already canceled.
func (s *Accounts) CancelOrder(ctx context.Context, accountID, orderID string) (domain.Order, error) {
	var out domain.Order
	err := s.mutate(ctx, accountID, func(e *core.Engine) (changeSet, bool, error) {
		if !e.CancelOrder(orderID) {
			if _, ok := e.Order(orderID); !ok {
				return changeSet{}, false, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
			}
			return changeSet{}, false, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderClosed)
		}
		metrics.RecordCanceled()
		out, _ = e.Order(orderID)
		return changeSet{orders: []domain.Order{out}}, true, nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return out, nil
}

// PruneClosedPositions removes flat positions from the account and storage.
func (s *Accounts) PruneClosedPositions(ctx context.Context, accountID string) ([]string, error) {
	var pruned []string
	err := s.mutate(ctx, accountID, func(e *core.Engine) (changeSet, bool, error) {
		pruned = e.PruneClosedPositions()
		return changeSet{deleted: pruned}, len(pruned) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return pruned, nil
}

func (s *Accounts) CheckRisk(ctx context.Context, accountID string, req domain.OrderRequest) (domain.RiskCheckResult, error) {
	var (
		res    domain.RiskCheckResult
		runErr error
	)
	err := s.read(ctx, accountID, func(e *core.Engine) {
		res, runErr = e.CheckRisk(req, s.now().UTC())
	})
	if err != nil {
		return res, err
	}
	return res, runErr
}

// Account serves the snapshot from the cache when present.
func (s *Accounts) Account(ctx context.Context, accountID string) (domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Account{}, ErrNoAccount
	}
	if a, ok := s.cachedAccount(ctx, accountID); ok {
		return *a, nil
	}
	var acct domain.Account
	err := s.read(ctx, accountID, func(e *core.Engine) { acct = e.Account() })
	if err != nil {
		return acct, err
	}
	s.updateCache(ctx, acct)
	return acct, nil
}

func (s *Accounts) Positions(ctx context.Context, accountID string) ([]domain.Position, error) {
	var out []domain.Position
	err := s.read(ctx, accountID, func(e *core.Engine) { out = e.Positions() })
	return out, err
}

func (s *Accounts) Orders(ctx context.Context, accountID string, activeOnly bool) ([]domain.Order, error) {
	var out []domain.Order
	err := s.read(ctx, accountID, func(e *core.Engine) { out = e.Orders(activeOnly) })
	return out, err
}

func (s *Accounts) Order(ctx context.Context, accountID, orderID string) (domain.Order, error) {
	var (
		out domain.Order
		ok  bool
	)
	if err := s.read(ctx, accountID, func(e *core.Engine) { out, ok = e.Order(orderID) }); err != nil {
		return out, err
	}
	if !ok {
		return out, fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotFound)
	}
	return out, nil
}

func (s *Accounts) Fills(ctx context.Context, accountID, symbol string) ([]domain.Fill, error) {
	var out []domain.Fill
	err := s.read(ctx, accountID, func(e *core.Engine) { out = e.Fills(symbol) })
	return out, err
}
