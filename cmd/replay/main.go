package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/olyamironova/paper-engine/internal/adapter/in_memory"
	"github.com/olyamironova/paper-engine/internal/adapter/parquetstore"
	"github.com/olyamironova/paper-engine/internal/config"
	"github.com/olyamironova/paper-engine/internal/logger"
	"github.com/olyamironova/paper-engine/internal/replay"
	"github.com/olyamironova/paper-engine/internal/service"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (defaults when empty)")
		barsDir    = flag.String("bars", "", "parquet bars directory (overrides storage.bars_dir)")
		symbol     = flag.String("symbol", "", "symbol to replay")
		startFlag  = flag.String("start", "", "first bar, RFC3339 or YYYY-MM-DD")
		endFlag    = flag.String("end", "", "last bar, RFC3339 or YYYY-MM-DD (inclusive)")
		scriptPath = flag.String("script", "", "YAML order script")
	)
	flag.Parse()

	if err := run(*configPath, *barsDir, *symbol, *startFlag, *endFlag, *scriptPath); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(configPath, barsDir, symbol, startFlag, endFlag, scriptPath string) error {
	if symbol == "" || startFlag == "" || endFlag == "" || scriptPath == "" {
		return fmt.Errorf("-symbol, -start, -end and -script are required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if barsDir == "" {
		barsDir = cfg.Storage.BarsDir
	}
	start, err := parseTime(startFlag, false)
	if err != nil {
		return err
	}
	end, err := parseTime(endFlag, true)
	if err != nil {
		return err
	}
	script, err := replay.LoadScript(scriptPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	clock := &replay.Clock{}
	svc, err := service.NewAccounts(cfg.EngineConfig(), in_memory.NewMemoryRepo(), nil, log,
		service.WithClock(clock.Now))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := replay.NewRunner(svc, parquetstore.NewBarStore(barsDir), log).WithClock(clock).Run(ctx, symbol, start, end, script)
	if err != nil {
		return err
	}
	report(res)
	return nil
}

func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: want RFC3339 or YYYY-MM-DD", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func report(res *replay.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "bars\t%d\norders\t%d\nrejected\t%d\nfills\t%d\n\n",
		res.Bars, len(res.Orders), len(res.Rejected), len(res.Fills))

	for _, r := range res.Rejected {
		fmt.Fprintf(w, "rejected\tbar %d\t%s %s %d\t%v\n", r.At, r.Order.Side, r.Order.Type, r.Order.Qty, r.Err)
	}
	fmt.Fprintln(w, "time\torder\tside\tqty\tprice\tcommission\tslippage")
	for _, f := range res.Fills {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", f.Timestamp.Format(time.RFC3339), f.OrderID, f.Side,
			f.Qty, f.Price.StringFixed(2), f.Commission.String(), f.Slippage.String())
	}
	fmt.Fprintln(w)
	for _, p := range res.Positions {
		fmt.Fprintf(w, "position\t%s\t%d\tavg %s\trealized %s\tunrealized %s\n", p.Symbol, p.Qty,
			p.AvgPrice.StringFixed(4), p.RealizedPnL.StringFixed(2), p.UnrealizedPnL.StringFixed(2))
	}
	a := res.Account
	fmt.Fprintf(w, "\ncash\t%s\nequity\t%s\nrealized\t%s\nunrealized\t%s\nleverage\t%s\n",
		a.Cash.StringFixed(2), a.Equity.StringFixed(2), a.RealizedPnL.StringFixed(2),
		a.UnrealizedPnL.StringFixed(2), a.Leverage.StringFixed(4))
	_ = w.Flush()
}
