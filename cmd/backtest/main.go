// cmd/backtest replays stored candles from SQLite through the indicator
// engine, a strategy and a paper ledger, then prints a trade report.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/marketdesk.db --symbols=NIFTY50 --qty=25
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"marketdesk/internal/account"
	"marketdesk/internal/indicator"
	"marketdesk/internal/ledger"
	"marketdesk/internal/marketdata/replay"
	"marketdesk/internal/model"
	sqlitestore "marketdesk/internal/store/sqlite"
	"marketdesk/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	dbPath := flag.String("db", "data/marketdesk.db", "Path to SQLite database")
	symbolsStr := flag.String("symbols", "", "Comma-separated symbols to replay (default: all stored)")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	indicatorCfg := flag.String("indicators", "ST:10:3,RSI:14", "Indicator specs: NAME:ARGS,...")
	history := flag.Int("history", 500, "Candles of history kept per symbol")
	qty := flag.Int64("qty", 1, "Quantity per signal")
	funds := flag.Float64("funds", 1_000_000, "Starting wallet balance")
	rsiFilter := flag.Bool("rsi-filter", true, "Skip buys above RSI 70 and sells below RSI 30")
	flag.Parse()

	// Open SQLite
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: *dbPath})
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer store.Close()

	settings := indicator.ParseSpecs(*indicatorCfg)
	if len(settings) == 0 {
		log.Fatal("[backtest] no valid indicators specified")
	}
	engine := indicator.NewEngine(settings, *history)

	book, err := newPaperBook(*funds)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	defer book.Close()

	follower := strategy.NewSupertrendFollower(*qty)
	if *rsiFilter {
		follower.Overbought, follower.Oversold = 70, 30
	}
	strategies := strategy.NewEngine(follower)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	candleCh := make(chan model.Candle, 10000)
	go func() {
		defer close(candleCh)
		if err := replay.New(store).Run(ctx, parseSymbols(*symbolsStr), *fromTS, *speed, candleCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
	}()

	// Per candle: indicators, mark-to-market, exits, then new signals.
	processed, signals, rejected := 0, 0, 0
	for c := range candleCh {
		processed++
		readings := engine.Update(c)
		book.UpdatePositionPrices(c.Symbol, c.Close)
		book.CheckExits()

		for _, sig := range strategies.Evaluate(c, readings) {
			signals++
			if _, err := strategy.Execute(book, sig); err != nil {
				rejected++
				log.Printf("[backtest] %s %s rejected: %v", sig.Action, sig.Symbol, err)
				continue
			}
			fmt.Printf("  [%s] %-10s %-4s qty=%d @ %.2f  SL=%.2f T1=%.2f T2=%.2f  (%s)\n",
				c.Time.Format("2006-01-02 15:04"), sig.Symbol, sig.Action, sig.Qty, sig.Price,
				sig.StopLoss, sig.Target1, sig.Target2, sig.Reason)
		}
	}

	report := strategy.NewReport(book.AllPositions())
	summary := book.Summary()

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Candles processed: %-16d ║\n", processed)
	fmt.Printf("║  Signals:           %-16d ║\n", signals)
	fmt.Printf("║  Rejected:          %-16d ║\n", rejected)
	fmt.Printf("║  Closed trades:     %-16d ║\n", report.Trades)
	fmt.Printf("║  Win rate:          %-15.1f%% ║\n", report.WinRate())
	fmt.Printf("║  Realized P&L:      %-16.2f ║\n", report.RealizedPnL)
	fmt.Printf("║  Best / worst:      %-16s ║\n", fmt.Sprintf("%.2f / %.2f", report.BestTrade, report.WorstTrade))
	fmt.Printf("║  Open positions:    %-16d ║\n", summary.OpenPositions)
	fmt.Printf("║  Unrealized P&L:    %-16.2f ║\n", summary.UnrealizedPnL)
	fmt.Println("╚══════════════════════════════════════╝")
	for reason, n := range report.ByReason {
		fmt.Printf("  exits by %-16s %d\n", reason, n)
	}
}

// newPaperBook creates a ledger backed by a throwaway logged-in account
// funded with funds.
func newPaperBook(funds float64) (*ledger.Ledger, error) {
	acct := account.New()
	const user, pass = "backtest", "backtest"
	if res := acct.Register(user, "backtest@marketdesk.local", "", pass); !res.Success {
		return nil, fmt.Errorf("register: %s", res.Message)
	}
	if res := acct.Login(user, pass, ""); !res.Success {
		return nil, fmt.Errorf("login: %s", res.Message)
	}
	if res := acct.AddMoney(funds); !res.Success {
		return nil, fmt.Errorf("fund wallet: %s", res.Message)
	}
	return ledger.New(acct), nil
}

func parseSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
