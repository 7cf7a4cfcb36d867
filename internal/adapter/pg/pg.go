package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
	"github.com/shopspring/decimal"
)

var _ port.Repository = (*PgRepo)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS paper_accounts (
  id                TEXT PRIMARY KEY,
  cash              NUMERIC NOT NULL,
  archived_realized NUMERIC NOT NULL,
  day_start         TIMESTAMPTZ,
  day_start_equity  NUMERIC NOT NULL,
  marks             JSONB NOT NULL DEFAULT '{}',
  updated_at        TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS paper_orders (
  id             TEXT PRIMARY KEY,
  seq            BIGSERIAL,
  account_id     TEXT NOT NULL,
  symbol         TEXT NOT NULL,
  side           TEXT NOT NULL,
  type           TEXT NOT NULL,
  qty            BIGINT NOT NULL,
  filled_qty     BIGINT NOT NULL,
  remaining_qty  BIGINT NOT NULL,
  limit_price    NUMERIC,
  stop_price     NUMERIC,
  avg_fill_price NUMERIC,
  tif            TEXT NOT NULL,
  status         TEXT NOT NULL,
  created_at     TIMESTAMPTZ NOT NULL,
  updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS paper_orders_account ON paper_orders(account_id, created_at, seq);
CREATE TABLE IF NOT EXISTS paper_fills (
  id         TEXT PRIMARY KEY,
  seq        BIGSERIAL,
  account_id TEXT NOT NULL,
  order_id   TEXT NOT NULL,
  symbol     TEXT NOT NULL,
  side       TEXT NOT NULL,
  price      NUMERIC NOT NULL,
  qty        BIGINT NOT NULL,
  commission NUMERIC NOT NULL,
  slippage   NUMERIC NOT NULL,
  ts         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS paper_fills_account ON paper_fills(account_id, seq);
CREATE TABLE IF NOT EXISTS paper_positions (
  account_id     TEXT NOT NULL,
  symbol         TEXT NOT NULL,
  qty            BIGINT NOT NULL,
  avg_price      NUMERIC NOT NULL,
  cost_basis     NUMERIC NOT NULL,
  current_price  NUMERIC NOT NULL,
  market_value   NUMERIC NOT NULL,
  unrealized_pnl NUMERIC NOT NULL,
  realized_pnl   NUMERIC NOT NULL,
  last_updated   TIMESTAMPTZ,
  PRIMARY KEY (account_id, symbol)
);
`

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finish to work with database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close(ctx context.Context) {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate creates the paper_* tables when they are missing.
func (p *PgRepo) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}

func (p *PgRepo) LoadAccount(ctx context.Context, accountID string) (*domain.LedgerState, error) {
	var (
		st                         domain.LedgerState
		cash, archived, dse, marks string
		dayStart, updatedAt        *time.Time
	)
	err := p.pool.QueryRow(ctx, `
SELECT id, cash::text, archived_realized::text, day_start, day_start_equity::text, marks::text, updated_at
FROM paper_accounts WHERE id = $1`, accountID).
		Scan(&st.AccountID, &cash, &archived, &dayStart, &dse, &marks, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := parseDecimals([]string{cash, archived, dse}, &st.Cash, &st.ArchivedRealized, &st.DayStartEquity); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(marks), &st.Marks); err != nil {
		return nil, fmt.Errorf("pg: marks for %s: %w", accountID, err)
	}
	st.DayStart = deref(dayStart)
	st.UpdatedAt = deref(updatedAt)

	if st.Orders, err = p.loadOrders(ctx, accountID); err != nil {
		return nil, err
	}
	if st.Fills, err = p.loadFills(ctx, accountID); err != nil {
		return nil, err
	}
	if st.Positions, err = p.loadPositions(ctx, accountID); err != nil {
		return nil, err
	}
	return &st, nil
}

// loadOrders returns the account's orders in submission order.
func (p *PgRepo) loadOrders(ctx context.Context, accountID string) ([]domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, account_id, symbol, side, type, qty, filled_qty, remaining_qty,
       limit_price::text, stop_price::text, avg_fill_price::text, tif, status, created_at, updated_at
FROM paper_orders
WHERE account_id = $1
ORDER BY created_at ASC, seq ASC
`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, typ, tif, status string
		var limit, stop, avg *string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &side, &typ, &o.Qty, &o.FilledQty, &o.RemainingQty,
			&limit, &stop, &avg, &tif, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(typ)
		o.TIF = domain.TimeInForce(tif)
		o.Status = domain.OrderStatus(status)
		if o.LimitPrice, err = nullDecimal(limit); err != nil {
			return nil, err
		}
		if o.StopPrice, err = nullDecimal(stop); err != nil {
			return nil, err
		}
		if o.AvgFillPrice, err = nullDecimal(avg); err != nil {
			return nil, err
		}
		o.CreatedAt = o.CreatedAt.UTC()
		o.UpdatedAt = o.UpdatedAt.UTC()
		res = append(res, o)
	}
	return res, rows.Err()
}

func (p *PgRepo) loadFills(ctx context.Context, accountID string) ([]domain.Fill, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, order_id, symbol, side, price::text, qty, commission::text, slippage::text, ts
FROM paper_fills
WHERE account_id = $1
ORDER BY seq ASC
`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, price, comm, slip string
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &side, &price, &f.Qty, &comm, &slip, &f.Timestamp); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		f.Timestamp = f.Timestamp.UTC()
		if err := parseDecimals([]string{price, comm, slip}, &f.Price, &f.Commission, &f.Slippage); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (p *PgRepo) loadPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := p.pool.Query(ctx, `
SELECT symbol, qty, avg_price::text, cost_basis::text, current_price::text, market_value::text,
       unrealized_pnl::text, realized_pnl::text, last_updated
FROM paper_positions
WHERE account_id = $1
ORDER BY symbol
`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Position
	for rows.Next() {
		var pos domain.Position
		var avg, cb, cur, mv, upnl, rpnl string
		var ts *time.Time
		if err := rows.Scan(&pos.Symbol, &pos.Qty, &avg, &cb, &cur, &mv, &upnl, &rpnl, &ts); err != nil {
			return nil, err
		}
		pos.LastUpdated = deref(ts)
		if err := parseDecimals([]string{avg, cb, cur, mv, upnl, rpnl},
			&pos.AvgPrice, &pos.CostBasis, &pos.CurrentPrice, &pos.MarketValue, &pos.UnrealizedPnL, &pos.RealizedPnL); err != nil {
			return nil, err
		}
		res = append(res, pos)
	}
	return res, rows.Err()
}

// ListAccounts returns every stored account id.
func (p *PgRepo) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM paper_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SaveAccount(ctx context.Context, st *domain.LedgerState) error {
	if st == nil {
		return errors.New("nil account state")
	}
	marks := st.Marks
	if marks == nil {
		marks = map[string]decimal.Decimal{}
	}
	b, err := json.Marshal(marks)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO paper_accounts(id, cash, archived_realized, day_start, day_start_equity, marks, updated_at)
VALUES($1,$2::numeric,$3::numeric,$4,$5::numeric,$6::jsonb,$7)
ON CONFLICT (id) DO UPDATE SET
  cash = EXCLUDED.cash,
  archived_realized = EXCLUDED.archived_realized,
  day_start = EXCLUDED.day_start,
  day_start_equity = EXCLUDED.day_start_equity,
  marks = EXCLUDED.marks,
  updated_at = EXCLUDED.updated_at
`, st.AccountID, st.Cash.String(), st.ArchivedRealized.String(), nullTime(st.DayStart),
		st.DayStartEquity.String(), string(b), nullTime(st.UpdatedAt))
	return err
}

func (t *pgTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO paper_orders(id, account_id, symbol, side, type, qty, filled_qty, remaining_qty,
                         limit_price, stop_price, avg_fill_price, tif, status, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9::numeric,$10::numeric,$11::numeric,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
  filled_qty = EXCLUDED.filled_qty,
  remaining_qty = EXCLUDED.remaining_qty,
  avg_fill_price = EXCLUDED.avg_fill_price,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at
`, o.ID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), o.Qty, o.FilledQty, o.RemainingQty,
		nullString(o.LimitPrice), nullString(o.StopPrice), nullString(o.AvgFillPrice),
		string(o.TIF), string(o.Status), o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *pgTx) SaveFill(ctx context.Context, accountID string, f *domain.Fill) error {
	if f == nil {
		return errors.New("nil fill")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO paper_fills(id, account_id, order_id, symbol, side, price, qty, commission, slippage, ts)
VALUES($1,$2,$3,$4,$5,$6::numeric,$7,$8::numeric,$9::numeric,$10)
ON CONFLICT (id) DO NOTHING
`, f.ID, accountID, f.OrderID, f.Symbol, string(f.Side), f.Price.String(), f.Qty,
		f.Commission.String(), f.Slippage.String(), f.Timestamp)
	return err
}

func (t *pgTx) SavePosition(ctx context.Context, accountID string, pos *domain.Position) error {
	if pos == nil {
		return errors.New("nil position")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO paper_positions(account_id, symbol, qty, avg_price, cost_basis, current_price, market_value,
                            unrealized_pnl, realized_pnl, last_updated)
VALUES($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7::numeric,$8::numeric,$9::numeric,$10)
ON CONFLICT (account_id, symbol) DO UPDATE SET
  qty = EXCLUDED.qty,
  avg_price = EXCLUDED.avg_price,
  cost_basis = EXCLUDED.cost_basis,
  current_price = EXCLUDED.current_price,
  market_value = EXCLUDED.market_value,
  unrealized_pnl = EXCLUDED.unrealized_pnl,
  realized_pnl = EXCLUDED.realized_pnl,
  last_updated = EXCLUDED.last_updated
`, accountID, pos.Symbol, pos.Qty, pos.AvgPrice.String(), pos.CostBasis.String(), pos.CurrentPrice.String(),
		pos.MarketValue.String(), pos.UnrealizedPnL.String(), pos.RealizedPnL.String(), nullTime(pos.LastUpdated))
	return err
}

func (t *pgTx) DeletePosition(ctx context.Context, accountID, symbol string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM paper_positions WHERE account_id = $1 AND symbol = $2`, accountID, symbol)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func nullTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func deref(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.UTC()
}

func parseDecimals(src []string, dst ...*decimal.Decimal) error {
	for i, s := range src {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("pg: decimal %q: %w", s, err)
		}
		*dst[i] = d
	}
	return nil
}
