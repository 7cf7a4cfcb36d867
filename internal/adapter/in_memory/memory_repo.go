package in_memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
	"github.com/shopspring/decimal"
)

var _ port.Repository = (*MemoryRepo)(nil)

type accountRecord struct {
	header    domain.LedgerState
	orders    map[string]domain.Order
	orderSeq  []string
	fills     []domain.Fill
	fillIDs   map[string]struct{}
	positions map[string]domain.Position
}

func newAccountRecord(id string) *accountRecord {
	return &accountRecord{
		header:    domain.LedgerState{AccountID: id},
		orders:    make(map[string]domain.Order),
		fillIDs:   make(map[string]struct{}),
		positions: make(map[string]domain.Position),
	}
}

// MemoryRepo keeps accounts in process memory. Writes only become visible on
// Commit.
type MemoryRepo struct {
	mu       sync.Mutex
	accounts map[string]*accountRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{accounts: make(map[string]*accountRecord)}
}

func (r *MemoryRepo) LoadAccount(ctx context.Context, accountID string) (*domain.LedgerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}

	st := rec.header
	st.Marks = make(map[string]decimal.Decimal, len(rec.header.Marks))
	for sym, p := range rec.header.Marks {
		st.Marks[sym] = p
	}
	st.Orders = make([]domain.Order, 0, len(rec.orderSeq))
	for _, id := range rec.orderSeq {
		st.Orders = append(st.Orders, rec.orders[id])
	}
	st.Fills = append([]domain.Fill(nil), rec.fills...)
	st.Positions = make([]domain.Position, 0, len(rec.positions))
	for _, p := range rec.positions {
		st.Positions = append(st.Positions, p)
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Symbol < st.Positions[j].Symbol })
	return &st, nil
}

func (r *MemoryRepo) ListAccounts(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memTx{repo: r}, nil
}

func (r *MemoryRepo) record(id string) *accountRecord {
	rec, ok := r.accounts[id]
	if !ok {
		rec = newAccountRecord(id)
		r.accounts[id] = rec
	}
	return rec
}

func (r *MemoryRepo) Close(ctx context.Context) {}

// memTx buffers writes and applies them under the repo lock on Commit.
type memTx struct {
	repo *MemoryRepo
	ops  []func()
	done bool
}

var errTxDone = errors.New("in_memory: transaction already finished")

func (t *memTx) add(op func()) error {
	if t.done {
		return errTxDone
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *memTx) SaveAccount(ctx context.Context, st *domain.LedgerState) error {
	if st == nil {
		return errors.New("nil account state")
	}
	header := domain.LedgerState{
		AccountID:        st.AccountID,
		Cash:             st.Cash,
		ArchivedRealized: st.ArchivedRealized,
		DayStart:         st.DayStart,
		DayStartEquity:   st.DayStartEquity,
		Marks:            make(map[string]decimal.Decimal, len(st.Marks)),
		UpdatedAt:        st.UpdatedAt,
	}
	for sym, p := range st.Marks {
		header.Marks[sym] = p
	}
	return t.add(func() { t.repo.record(header.AccountID).header = header })
}

func (t *memTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	order := *o
	return t.add(func() {
		rec := t.repo.record(order.AccountID)
		if _, ok := rec.orders[order.ID]; !ok {
			rec.orderSeq = append(rec.orderSeq, order.ID)
		}
		rec.orders[order.ID] = order
	})
}

func (t *memTx) SaveFill(ctx context.Context, accountID string, f *domain.Fill) error {
	if f == nil {
		return errors.New("nil fill")
	}
	fill := *f
	return t.add(func() {
		rec := t.repo.record(accountID)
		if _, dup := rec.fillIDs[fill.ID]; dup {
			return
		}
		rec.fillIDs[fill.ID] = struct{}{}
		rec.fills = append(rec.fills, fill)
	})
}

func (t *memTx) SavePosition(ctx context.Context, accountID string, p *domain.Position) error {
	if p == nil {
		return errors.New("nil position")
	}
	pos := *p
	return t.add(func() { t.repo.record(accountID).positions[pos.Symbol] = pos })
}

func (t *memTx) DeletePosition(ctx context.Context, accountID, symbol string) error {
	return t.add(func() { delete(t.repo.record(accountID).positions, symbol) })
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, op := range t.ops {
		op()
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	t.ops = nil
	return nil
}
