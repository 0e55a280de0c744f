package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"marketdesk/internal/ledger"
	"marketdesk/internal/model"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for marketdesk.
type Metrics struct {
	// Feed
	TicksTotal   prometheus.Counter
	CandlesTotal prometheus.Counter
	WSReconnects prometheus.Counter

	// Fan-out
	FanoutDrops      *prometheus.CounterVec // labels: stream, subscriber
	FanoutSaturation *prometheus.GaugeVec   // labels: stream, subscriber

	// Indicator engine
	IndicatorComputeDur *prometheus.HistogramVec // labels: indicator
	ReadingsTotal       prometheus.Counter
	DroppedReadings     prometheus.Counter

	// Ledger
	OrdersPlaced   *prometheus.CounterVec // labels: kind
	OrdersRejected *prometheus.CounterVec // labels: reason
	Executions     *prometheus.CounterVec // labels: tag
	Exits          *prometheus.CounterVec // labels: reason
	OpenPositions  prometheus.Gauge
	BlockedMargin  prometheus.Gauge
	MonitorPassDur prometheus.Histogram
	PaperFills     prometheus.Counter

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Market session state
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=open|close
}

// NewMetrics registers all metrics on reg. A nil reg uses the default
// Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_ticks_total",
			Help: "Total ticks received from the price feed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_candles_total",
			Help: "Total candles closed by the aggregator",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),

		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdesk_fanout_drops_total",
			Help: "Items dropped for a slow fan-out subscriber",
		}, []string{"stream", "subscriber"}),
		FanoutSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketdesk_fanout_saturation_ratio",
			Help: "Fan-out subscriber queue fill ratio (0-1)",
		}, []string{"stream", "subscriber"}),

		IndicatorComputeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketdesk_indicator_compute_duration_seconds",
			Help:    "Indicator compute latency per candle",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"indicator"}),
		ReadingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_indicator_readings_total",
			Help: "Total indicator readings produced",
		}),
		DroppedReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_indicator_readings_dropped_total",
			Help: "Indicator readings dropped because the consumer was full",
		}),

		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdesk_orders_placed_total",
			Help: "Orders accepted by the ledger (by order kind)",
		}, []string{"kind"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdesk_orders_rejected_total",
			Help: "Orders refused by the ledger (by reason)",
		}, []string{"reason"}),
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdesk_executions_total",
			Help: "Executed orders (by tag: ENTRY, SL, TGT, EXIT)",
		}, []string{"tag"}),
		Exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdesk_position_exits_total",
			Help: "Closed positions (by exit reason)",
		}, []string{"reason"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdesk_open_positions",
			Help: "Currently open positions",
		}),
		BlockedMargin: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdesk_blocked_margin_rupees",
			Help: "Margin blocked by open positions",
		}),
		MonitorPassDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketdesk_monitor_pass_duration_seconds",
			Help:    "Stop-loss/target monitor pass latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		PaperFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_paper_fills_total",
			Help: "Pending orders filled by the paper filler",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdesk_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketdesk_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketdesk_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketdesk_session_transitions_total",
			Help: "Market session transitions (open, close)",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.WSReconnects,
		m.FanoutDrops,
		m.FanoutSaturation,
		m.IndicatorComputeDur,
		m.ReadingsTotal,
		m.DroppedReadings,
		m.OrdersPlaced,
		m.OrdersRejected,
		m.Executions,
		m.Exits,
		m.OpenPositions,
		m.BlockedMargin,
		m.MonitorPassDur,
		m.PaperFills,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.MarketState,
		m.SessionTransitions,
	)

	return m
}

// RecordPlace counts the outcome of a PlaceOrder call.
func (m *Metrics) RecordPlace(kind model.OrderKind, res ledger.Result) {
	if res.Success {
		if kind == "" {
			kind = model.KindMarket
		}
		m.OrdersPlaced.WithLabelValues(string(kind)).Inc()
		return
	}
	m.OrdersRejected.WithLabelValues(RejectReason(res.Err)).Inc()
}

// RejectReason maps a ledger error to a low-cardinality label.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ledger.ErrInsufficientMargin):
		return "insufficient_margin"
	case errors.Is(err, ledger.ErrInvalidOrder):
		return "invalid_order"
	default:
		return "other"
	}
}

// ObserveEvent updates ledger counters. Pass it to (*ledger.Ledger).Subscribe.
func (m *Metrics) ObserveEvent(ev ledger.Event) {
	switch ev.Type {
	case ledger.EventOrderExecuted:
		if ev.Order != nil {
			m.Executions.WithLabelValues(string(ev.Order.Tag)).Inc()
		}
	case ledger.EventOrderRejected:
		m.OrdersRejected.WithLabelValues("insufficient_margin_at_fill").Inc()
	case ledger.EventPositionClosed:
		if ev.Position != nil {
			m.Exits.WithLabelValues(string(ev.Position.ExitReason)).Inc()
		}
	}
}

// ObserveSummary sets the book gauges.
func (m *Metrics) ObserveSummary(s ledger.Summary) {
	m.OpenPositions.Set(float64(s.OpenPositions))
	m.BlockedMargin.Set(s.BlockedMargin)
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	MarketOpen     bool      `json:"market_open"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// RunLivenessChecker runs periodic dependency checks until ctx is cancelled.
// Either dependency may be nil.
func (h *HealthStatus) RunLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			if rdb != nil {
				h.CheckRedis(probeCtx, rdb)
			}
			if sqlDB != nil {
				h.CheckSQLite(probeCtx, sqlDB)
			}
			cancel()
		}
	}
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	if !h.WSConnected || redisDown || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if redisDown && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Tick age
	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		MarketOpen      bool    `json:"market_open"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		MarketOpen:      h.MarketOpen,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
