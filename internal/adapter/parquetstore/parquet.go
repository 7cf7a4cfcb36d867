package parquetstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/olyamironova/paper-engine/internal/port"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"
)

var _ port.BarSource = (*BarStore)(nil)

// BarRecord is the on-disk schema of one bar.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// BarStore reads and writes bars as Parquet files, one per symbol and year:
//
//	<DataDir>/<SYMBOL>/<YYYY>.parquet
type BarStore struct {
	DataDir string
}

func NewBarStore(dataDir string) *BarStore {
	return &BarStore{DataDir: dataDir}
}

// Bars returns the bars of symbol with start <= timestamp <= end.
func (s *BarStore) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = domain.NormalizeSymbol(symbol)
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := parquet.ReadFile[BarRecord](s.path(symbol, year))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("parquet: read %s/%d: %w", symbol, year, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, r.bar())
		}
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// WriteBars merges bars into the symbol's yearly files. A bar with the same
// timestamp as a stored one replaces it.
func (s *BarStore) WriteBars(ctx context.Context, symbol string, bars []domain.Bar) error {
	symbol = domain.NormalizeSymbol(symbol)
	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		y := b.Timestamp.UTC().Year()
		groups[y] = append(groups[y], newRecord(symbol, b))
	}

	for year, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.path(symbol, year)
		existing, err := parquet.ReadFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("parquet: read %s/%d: %w", symbol, year, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := parquet.WriteFile(path, merge(existing, records)); err != nil {
			return fmt.Errorf("parquet: write %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

func (s *BarStore) path(symbol string, year int) string {
	return filepath.Join(s.DataDir, symbol, strconv.Itoa(year)+".parquet")
}

func newRecord(symbol string, b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:    symbol,
		Timestamp: b.Timestamp.UnixMilli(),
		Open:      b.Open.InexactFloat64(),
		High:      b.High.InexactFloat64(),
		Low:       b.Low.InexactFloat64(),
		Close:     b.Close.InexactFloat64(),
		Volume:    b.Volume,
	}
}

func (r BarRecord) bar() domain.Bar {
	return domain.Bar{
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
		Open:      decimal.NewFromFloat(r.Open),
		High:      decimal.NewFromFloat(r.High),
		Low:       decimal.NewFromFloat(r.Low),
		Close:     decimal.NewFromFloat(r.Close),
		Volume:    r.Volume,
	}
}

// merge deduplicates by timestamp, preferring incoming records.
func merge(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}
	out := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
