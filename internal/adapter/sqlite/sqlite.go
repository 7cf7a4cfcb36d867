package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

var _ port.Repository = (*Repo)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                TEXT PRIMARY KEY,
	cash              TEXT NOT NULL,
	archived_realized TEXT NOT NULL,
	day_start         INTEGER NOT NULL,
	day_start_equity  TEXT NOT NULL,
	marks             TEXT NOT NULL,
	updated_at        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	type           TEXT NOT NULL,
	qty            INTEGER NOT NULL,
	filled_qty     INTEGER NOT NULL,
	remaining_qty  INTEGER NOT NULL,
	limit_price    TEXT,
	stop_price     TEXT,
	avg_fill_price TEXT,
	tif            TEXT NOT NULL,
	status         TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_account ON orders(account_id, created_at);
CREATE TABLE IF NOT EXISTS fills (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	order_id   TEXT NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	price      TEXT NOT NULL,
	qty        INTEGER NOT NULL,
	commission TEXT NOT NULL,
	slippage   TEXT NOT NULL,
	ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fills_account ON fills(account_id);
CREATE TABLE IF NOT EXISTS positions (
	account_id     TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	qty            INTEGER NOT NULL,
	avg_price      TEXT NOT NULL,
	cost_basis     TEXT NOT NULL,
	current_price  TEXT NOT NULL,
	market_value   TEXT NOT NULL,
	unrealized_pnl TEXT NOT NULL,
	realized_pnl   TEXT NOT NULL,
	last_updated   INTEGER NOT NULL,
	PRIMARY KEY (account_id, symbol)
);
`

// Repo stores paper accounts in a single SQLite file. Decimals are kept as
// TEXT and timestamps as unix nanoseconds.
type Repo struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) LoadAccount(ctx context.Context, accountID string) (*domain.LedgerState, error) {
	var (
		st                         domain.LedgerState
		cash, archived, dse, marks string
		dayStart, updatedAt        int64
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, cash, archived_realized, day_start, day_start_equity, marks, updated_at
FROM accounts WHERE id = ?`, accountID).
		Scan(&st.AccountID, &cash, &archived, &dayStart, &dse, &marks, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if st.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, err
	}
	if st.ArchivedRealized, err = decimal.NewFromString(archived); err != nil {
		return nil, err
	}
	if st.DayStartEquity, err = decimal.NewFromString(dse); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(marks), &st.Marks); err != nil {
		return nil, fmt.Errorf("sqlite: marks for %s: %w", accountID, err)
	}
	st.DayStart = fromNanos(dayStart)
	st.UpdatedAt = fromNanos(updatedAt)

	if st.Orders, err = r.loadOrders(ctx, accountID); err != nil {
		return nil, err
	}
	if st.Fills, err = r.loadFills(ctx, accountID); err != nil {
		return nil, err
	}
	if st.Positions, err = r.loadPositions(ctx, accountID); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *Repo) loadOrders(ctx context.Context, accountID string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, account_id, symbol, side, type, qty, filled_qty, remaining_qty,
       limit_price, stop_price, avg_fill_price, tif, status, created_at, updated_at
FROM orders WHERE account_id = ?
ORDER BY created_at, rowid`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Order
	for rows.Next() {
		var (
			o                      domain.Order
			side, typ, tif, status string
			limit, stop, avg       sql.NullString
			createdAt, updatedAt   int64
		)
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &side, &typ, &o.Qty, &o.FilledQty, &o.RemainingQty,
			&limit, &stop, &avg, &tif, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(typ)
		o.TIF = domain.TimeInForce(tif)
		o.Status = domain.OrderStatus(status)
		o.CreatedAt = fromNanos(createdAt)
		o.UpdatedAt = fromNanos(updatedAt)
		if o.LimitPrice, err = nullDecimal(limit); err != nil {
			return nil, err
		}
		if o.StopPrice, err = nullDecimal(stop); err != nil {
			return nil, err
		}
		if o.AvgFillPrice, err = nullDecimal(avg); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r *Repo) loadFills(ctx context.Context, accountID string) ([]domain.Fill, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, order_id, symbol, side, price, qty, commission, slippage, ts
FROM fills WHERE account_id = ?
ORDER BY rowid`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Fill
	for rows.Next() {
		var (
			f                       domain.Fill
			side, price, comm, slip string
			ts                      int64
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &side, &price, &f.Qty, &comm, &slip, &ts); err != nil {
			return nil, err
		}
		f.Side = domain.Side(side)
		f.Timestamp = fromNanos(ts)
		if err := parseDecimals([]string{price, comm, slip}, &f.Price, &f.Commission, &f.Slippage); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r *Repo) loadPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT symbol, qty, avg_price, cost_basis, current_price, market_value, unrealized_pnl, realized_pnl, last_updated
FROM positions WHERE account_id = ?
ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Position
	for rows.Next() {
		var (
			p                            domain.Position
			avg, cb, cur, mv, upnl, rpnl string
			ts                           int64
		)
		if err := rows.Scan(&p.Symbol, &p.Qty, &avg, &cb, &cur, &mv, &upnl, &rpnl, &ts); err != nil {
			return nil, err
		}
		p.LastUpdated = fromNanos(ts)
		if err := parseDecimals([]string{avg, cb, cur, mv, upnl, rpnl},
			&p.AvgPrice, &p.CostBasis, &p.CurrentPrice, &p.MarketValue, &p.UnrealizedPnL, &p.RealizedPnL); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r *Repo) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func (r *Repo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) SaveAccount(ctx context.Context, st *domain.LedgerState) error {
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
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO accounts(id, cash, archived_realized, day_start, day_start_equity, marks, updated_at)
VALUES(?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  cash = excluded.cash,
  archived_realized = excluded.archived_realized,
  day_start = excluded.day_start,
  day_start_equity = excluded.day_start_equity,
  marks = excluded.marks,
  updated_at = excluded.updated_at
`, st.AccountID, st.Cash.String(), st.ArchivedRealized.String(), toNanos(st.DayStart),
		st.DayStartEquity.String(), string(b), toNanos(st.UpdatedAt))
	return err
}

func (t *sqliteTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("nil order")
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO orders(id, account_id, symbol, side, type, qty, filled_qty, remaining_qty,
                   limit_price, stop_price, avg_fill_price, tif, status, created_at, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
  filled_qty = excluded.filled_qty,
  remaining_qty = excluded.remaining_qty,
  avg_fill_price = excluded.avg_fill_price,
  status = excluded.status,
  updated_at = excluded.updated_at
`, o.ID, o.AccountID, o.Symbol, string(o.Side), string(o.Type), o.Qty, o.FilledQty, o.RemainingQty,
		nullString(o.LimitPrice), nullString(o.StopPrice), nullString(o.AvgFillPrice),
		string(o.TIF), string(o.Status), toNanos(o.CreatedAt), toNanos(o.UpdatedAt))
	return err
}

func (t *sqliteTx) SaveFill(ctx context.Context, accountID string, f *domain.Fill) error {
	if f == nil {
		return errors.New("nil fill")
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO fills(id, account_id, order_id, symbol, side, price, qty, commission, slippage, ts)
VALUES(?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO NOTHING
`, f.ID, accountID, f.OrderID, f.Symbol, string(f.Side), f.Price.String(), f.Qty,
		f.Commission.String(), f.Slippage.String(), toNanos(f.Timestamp))
	return err
}

func (t *sqliteTx) SavePosition(ctx context.Context, accountID string, p *domain.Position) error {
	if p == nil {
		return errors.New("nil position")
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO positions(account_id, symbol, qty, avg_price, cost_basis, current_price, market_value,
                      unrealized_pnl, realized_pnl, last_updated)
VALUES(?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(account_id, symbol) DO UPDATE SET
  qty = excluded.qty,
  avg_price = excluded.avg_price,
  cost_basis = excluded.cost_basis,
  current_price = excluded.current_price,
  market_value = excluded.market_value,
  unrealized_pnl = excluded.unrealized_pnl,
  realized_pnl = excluded.realized_pnl,
  last_updated = excluded.last_updated
`, accountID, p.Symbol, p.Qty, p.AvgPrice.String(), p.CostBasis.String(), p.CurrentPrice.String(),
		p.MarketValue.String(), p.UnrealizedPnL.String(), p.RealizedPnL.String(), toNanos(p.LastUpdated))
	return err
}

func (t *sqliteTx) DeletePosition(ctx context.Context, accountID, symbol string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol)
	return err
}

func (t *sqliteTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

func toNanos(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullString(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func nullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func parseDecimals(src []string, dst ...*decimal.Decimal) error {
	for i, s := range src {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("sqlite: decimal %q: %w", s, err)
		}
		*dst[i] = d
	}
	return nil
}
