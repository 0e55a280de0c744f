package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends for the ledger and account snapshots.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Listeners
	HTTPAddr    string
	MetricsAddr string

	// Price feed
	TickWSURL string
	Symbols   string // comma-separated, used by the tick server

	// Infrastructure
	StoreBackend  string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string

	// Ledger
	MonitorInterval time.Duration
	SlippageBps     float64

	// Indicators
	CandleTF         time.Duration
	IndicatorConfigs string
	HistorySize      int

	LogLevel string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Demo account, registered and logged in at startup when DemoUser is set
	DemoUser     string
	DemoPassword string
	DemoFunds    float64
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		TickWSURL: getEnv("TICK_WS_URL", "ws://localhost:9001/ws"),
		Symbols:   getEnv("SYMBOLS", "NIFTY50,BANKNIFTY"),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		SQLitePath:    getEnv("SQLITE_PATH", "data/marketdesk.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		MonitorInterval: time.Duration(getEnvInt("MONITOR_INTERVAL_SEC", 5)) * time.Second,
		SlippageBps:     getEnvFloat("SLIPPAGE_BPS", 5),

		CandleTF:         time.Duration(getEnvInt("CANDLE_TF_SEC", 60)) * time.Second,
		IndicatorConfigs: getEnv("INDICATOR_CONFIGS", "CPR,ST:10:3,VWAP:1,RSI:14,EMA:20,MACD:12:26:9,BB:20:2"),
		HistorySize:      getEnvInt("HISTORY_SIZE", 500),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		DemoUser:     getEnv("DEMO_USER", ""),
		DemoPassword: getEnv("DEMO_PASSWORD", ""),
		DemoFunds:    getEnvFloat("DEMO_FUNDS", 100000),
	}

	switch cfg.StoreBackend {
	case BackendSQLite, BackendRedis, BackendNone:
	default:
		log.Printf("[config] unknown STORE_BACKEND %q, using %s", cfg.StoreBackend, BackendSQLite)
		cfg.StoreBackend = BackendSQLite
	}
	return cfg
}

// ParseSymbols splits the Symbols list, uppercased and without blanks.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
