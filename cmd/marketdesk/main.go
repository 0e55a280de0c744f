package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"marketdesk/config"
	"marketdesk/internal/account"
	"marketdesk/internal/api"
	"marketdesk/internal/execution"
	"marketdesk/internal/indicator"
	"marketdesk/internal/ledger"
	"marketdesk/internal/logger"
	"marketdesk/internal/marketdata/agg"
	"marketdesk/internal/marketdata/bus"
	"marketdesk/internal/marketdata/replay"
	"marketdesk/internal/marketdata/wssim"
	"marketdesk/internal/markethours"
	"marketdesk/internal/metrics"
	"marketdesk/internal/model"
	"marketdesk/internal/notification"
	redisstore "marketdesk/internal/store/redis"
	sqlitestore "marketdesk/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	slogger := logger.Init("marketdesk", logger.ParseLevel(cfg.LogLevel))
	log.Println("[marketdesk] starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- SQLite: candles, trade journal, default snapshot store ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	sqlStore, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[marketdesk] sqlite init failed: %v", err)
	}
	defer sqlStore.Close()
	health.SetSQLiteOK(true)

	journal, err := execution.NewJournal(sqlStore.DB())
	if err != nil {
		log.Fatalf("[marketdesk] journal init failed: %v", err)
	}

	// ---- Snapshot store backend ----
	var kv model.KVStore
	var rds *redisstore.Store
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rds, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Printf("[marketdesk] WARNING: redis init failed: %v (falling back to sqlite)", err)
			rds = nil
			kv = sqlStore
		} else {
			defer rds.Close()
			kv = rds
			wireBreakerMetrics(rds.Breaker(), prom)
		}
	case config.BackendSQLite:
		kv = sqlStore
	}
	health.SetRedisEnabled(rds != nil)
	log.Printf("[marketdesk] snapshot backend: %s (redis=%v)", cfg.StoreBackend, rds != nil)

	// ---- Account & ledger ----
	acct := account.New(account.WithStore(kv))
	defer acct.Close()
	if err := acct.Load(ctx); err != nil {
		log.Printf("[marketdesk] WARNING: load accounts: %v", err)
	}

	var book *ledger.Ledger
	book = ledger.New(acct,
		ledger.WithStore(kv),
		ledger.WithMonitorInterval(cfg.MonitorInterval),
		ledger.WithLogger(slogger),
		ledger.WithPassObserver(func(d time.Duration) {
			prom.MonitorPassDur.Observe(d.Seconds())
			prom.ObserveSummary(book.Summary())
		}),
	)
	defer book.Close()
	if kv != nil {
		if err := book.Restore(ctx, kv); err != nil {
			log.Printf("[marketdesk] WARNING: restore ledger: %v", err)
		}
	}
	prom.ObserveSummary(book.Summary())

	// ---- Ledger subscribers ----
	hub := api.NewHub(500)
	alerts := notification.NewDispatcher(buildNotifier(cfg), 256)
	book.Subscribe(journal.Handle)
	book.Subscribe(prom.ObserveEvent)
	book.Subscribe(alerts.Handle)
	book.Subscribe(hub.HandleEvent)

	var pub *redisstore.Publisher
	if rds != nil {
		pub = redisstore.NewPublisher(ctx, rds, cfg.CandleTF, 10000)
		pub.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		pub.OnFlush = func(n int) { log.Printf("[marketdesk] flushed %d buffered redis writes", n) }
		book.Subscribe(pub.PublishEvent)
	}

	seedDemoAccount(cfg, acct)

	// ---- Feed pipeline ----
	ingest, err := wssim.New(wssim.Config{URL: cfg.TickWSURL})
	if err != nil {
		log.Fatalf("[marketdesk] feed init failed: %v", err)
	}
	ingest.OnReconnect = func() { prom.WSReconnects.Inc() }
	ingest.OnConnected = health.SetWSConnected
	ingest.OnTick = func(t model.Tick) {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(t.TS)
	}

	tickCh := make(chan model.Tick, 10000)
	candleCh := make(chan model.Candle, 5000)
	readingCh := make(chan indicator.Reading, 5000)

	tickBus := bus.New[model.Tick](5000)
	tickBus.OnDrop = dropCounter(prom, "ticks")
	ledgerTicks := tickBus.Subscribe("ledger")
	fillerTicks := tickBus.Subscribe("paper")
	aggTicks := tickBus.Subscribe("agg")

	candleBus := bus.New[model.Candle](5000)
	candleBus.OnDrop = dropCounter(prom, "candles")
	engineCandles := candleBus.Subscribe("engine")
	sqliteCandles := candleBus.Subscribe("sqlite")
	streamCandles := candleBus.Subscribe("stream")

	readingBus := bus.New[indicator.Reading](5000)
	readingBus.OnDrop = func(name string) {
		prom.DroppedReadings.Inc()
		prom.FanoutDrops.WithLabelValues("readings", name).Inc()
	}
	streamReadings := readingBus.Subscribe("stream")
	var redisReadings <-chan indicator.Reading
	if pub != nil {
		redisReadings = readingBus.Subscribe("redis")
	}

	aggregator := agg.New(cfg.CandleTF)
	aggregator.OnCandle = func(model.Candle) { prom.CandlesTotal.Inc() }
	aggregator.OnDroppedTick = func() { log.Println("[marketdesk] late tick dropped by aggregator") }

	settings := indicator.ParseSpecs(cfg.IndicatorConfigs)
	engine := indicator.NewEngine(settings, cfg.HistorySize)
	engine.SetObserver(func(name string, d time.Duration) {
		prom.IndicatorComputeDur.WithLabelValues(name).Observe(d.Seconds())
	})
	log.Printf("[marketdesk] %d indicators configured, %s candles", len(settings), aggregator.Timeframe())

	// Rebuild indicator history from stored candles before live data arrives.
	warm, err := replay.New(sqlStore).WarmUp(cfg.ParseSymbols(), cfg.HistorySize, func(c model.Candle) { engine.Update(c) })
	if err != nil {
		log.Printf("[marketdesk] WARNING: indicator warm-up: %v", err)
	} else {
		log.Printf("[marketdesk] indicator warm-up: %d candles replayed", warm)
	}

	filler := execution.NewPaperFiller(book, cfg.SlippageBps)
	filler.OnFill = func(f execution.Fill) {
		prom.PaperFills.Inc()
		slogger.Info("paper fill", "order_id", f.OrderID, "symbol", f.Symbol, "price", f.FillPrice, "slippage", f.Slippage)
	}
	filler.OnReject = func(id string, err error) {
		slogger.Warn("paper fill rejected", "order_id", id, "error", err)
	}

	// ---- HTTP API ----
	deps := api.Deps{
		Ledger:  book,
		Account: acct,
		Engine:  engine,
		Journal: journal,
		Hub:     hub,
		Metrics: prom,
		Health:  health,
		Logger:  slogger,
	}
	if rds != nil {
		deps.Events = rds
	}
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ---- Run ----
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ingest.Start(gctx, tickCh) })
	g.Go(func() error { tickBus.Run(gctx, tickCh); return nil })
	g.Go(func() error {
		for t := range ledgerTicks {
			book.UpdatePositionPrices(t.Symbol, t.Price)
		}
		return nil
	})
	g.Go(func() error { filler.Run(gctx, fillerTicks); return nil })
	g.Go(func() error { aggregator.Run(gctx, aggTicks, candleCh); return nil })

	g.Go(func() error { candleBus.Run(gctx, candleCh); return nil })
	g.Go(func() error { engine.Run(gctx, engineCandles, readingCh); return nil })
	g.Go(func() error { sqlStore.Run(gctx, sqliteCandles); return nil })
	g.Go(func() error {
		for c := range streamCandles {
			hub.HandleCandle(c)
			if pub != nil {
				pub.WriteCandle(c)
			}
		}
		return nil
	})

	g.Go(func() error { readingBus.Run(gctx, readingCh); return nil })
	g.Go(func() error {
		for r := range streamReadings {
			prom.ReadingsTotal.Inc()
			hub.HandleReading(r)
		}
		return nil
	})
	if pub != nil {
		g.Go(func() error { pub.RunReadings(gctx, redisReadings); return nil })
	}

	g.Go(func() error { book.Monitor(gctx); return nil })
	g.Go(func() error { alerts.Run(gctx); return nil })

	g.Go(func() error {
		health.RunLivenessChecker(gctx, redisClient(rds), sqlStore.DB(), 10*time.Second)
		return nil
	})
	g.Go(func() error { tickBus.ReportStats(gctx, 5*time.Second, saturation(prom, "ticks")); return nil })
	g.Go(func() error { candleBus.ReportStats(gctx, 5*time.Second, saturation(prom, "candles")); return nil })
	g.Go(func() error { readingBus.ReportStats(gctx, 5*time.Second, saturation(prom, "readings")); return nil })
	g.Go(func() error {
		first := true
		markethours.Watch(gctx, 30*time.Second, nil, func(open bool) {
			health.SetMarketOpen(open)
			if open {
				prom.MarketState.Set(1)
			} else {
				prom.MarketState.Set(0)
			}
			if !first {
				if open {
					prom.SessionTransitions.WithLabelValues("open").Inc()
				} else {
					prom.SessionTransitions.WithLabelValues("close").Inc()
				}
			}
			first = false
			log.Printf("[marketdesk] market %s", markethours.StatusString(time.Now()))
		})
		return nil
	})

	g.Go(func() error {
		log.Printf("[marketdesk] api listening on %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("[marketdesk] stopped with error: %v", err)
	}

	log.Println("[marketdesk] shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)
	log.Println("[marketdesk] stopped")
}
