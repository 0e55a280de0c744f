package main

import (
	"errors"
	"log"

	"marketdesk/config"
	"marketdesk/internal/account"
	"marketdesk/internal/marketdata/bus"
	"marketdesk/internal/metrics"
	"marketdesk/internal/notification"
	redisstore "marketdesk/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
)

// buildNotifier always logs alerts, and also sends them to Telegram and the
// webhook when those are configured.
func buildNotifier(cfg *config.Config) notification.Notifier {
	multi := notification.Multi{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		multi = append(multi, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[marketdesk] telegram alerts enabled")
	}
	if cfg.WebhookURL != "" {
		multi = append(multi, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[marketdesk] webhook alerts enabled")
	}
	return multi
}

// seedDemoAccount registers and logs in the configured demo user, funding
// the wallet on first use.
func seedDemoAccount(cfg *config.Config, acct *account.Service) {
	if cfg.DemoUser == "" || cfg.DemoPassword == "" {
		return
	}
	res := acct.Register(cfg.DemoUser, cfg.DemoUser+"@marketdesk.local", "", cfg.DemoPassword)
	if !res.Success && !errors.Is(res.Err, account.ErrUserExists) {
		log.Printf("[marketdesk] WARNING: demo register: %s", res.Message)
		return
	}
	if res := acct.Login(cfg.DemoUser, cfg.DemoPassword, ""); !res.Success {
		log.Printf("[marketdesk] WARNING: demo login: %s", res.Message)
		return
	}
	if w, ok := acct.Wallet(); ok && w.Balance == 0 && cfg.DemoFunds > 0 {
		acct.AddMoney(cfg.DemoFunds)
	}
	log.Printf("[marketdesk] demo user %q logged in", cfg.DemoUser)
}

func wireBreakerMetrics(cb *redisstore.CircuitBreaker, prom *metrics.Metrics) {
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to redisstore.State) {
		if prev != nil {
			prev(from, to)
		}
		prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			prom.RedisCircuitBreakerTrips.Inc()
		}
	}
}

func dropCounter(prom *metrics.Metrics, stream string) func(string) {
	return func(name string) {
		prom.FanoutDrops.WithLabelValues(stream, name).Inc()
	}
}

func saturation(prom *metrics.Metrics, stream string) func([]bus.ChannelStat) {
	return func(stats []bus.ChannelStat) {
		for _, s := range stats {
			prom.FanoutSaturation.WithLabelValues(stream, s.Name).Set(s.Saturation())
		}
	}
}

func redisClient(s *redisstore.Store) *goredis.Client {
	if s == nil {
		return nil
	}
	return s.Client()
}
