package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdesk/internal/model"
)

const testOwner = "u1"

// mockWallet implements MarginProvider for testing. It holds one wallet and
// reports testOwner as the session user.
type mockWallet struct {
	mu        sync.Mutex
	loggedIn  bool
	available float64
	used      float64
}

func (w *mockWallet) SessionOwner() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return testOwner, w.loggedIn
}

func (w *mockWallet) AvailableMargin(string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

func (w *mockWallet) DebitMargin(_ string, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if amount > w.available {
		return errors.New("not enough funds")
	}
	w.available -= amount
	w.used += amount
	return nil
}

func (w *mockWallet) CreditMargin(_ string, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.available += amount
	w.used -= amount
	return nil
}

func setupLedger(t *testing.T, available float64, opts ...Option) (*Ledger, *mockWallet) {
	t.Helper()
	w := &mockWallet{loggedIn: true, available: available}
	l := New(w, opts...)
	t.Cleanup(func() {
		require.NoError(t, l.checkInvariants())
		l.Close()
	})
	return l, w
}

func buy(symbol string, qty int64, price float64) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: model.SideBuy, Quantity: qty, Price: price, Kind: model.KindMarket}
}

func sell(symbol string, qty int64, price float64) OrderRequest {
	return OrderRequest{Symbol: symbol, Side: model.SideSell, Quantity: qty, Price: price, Kind: model.KindMarket}
}

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name      string
		loggedIn  bool
		available float64
		req       OrderRequest
		wantErr   error
	}{
		{
			name:      "not logged in",
			loggedIn:  false,
			available: 1e6,
			req:       buy("NIFTY50", 1, 100),
			wantErr:   ErrNotAuthenticated,
		},
		{
			name:      "insufficient margin",
			loggedIn:  true,
			available: 100,
			req:       buy("RELIANCE", 10, 100), // requires 200
			wantErr:   ErrInsufficientMargin,
		},
		{
			name:      "empty symbol",
			loggedIn:  true,
			available: 1e6,
			req:       buy("  ", 1, 100),
			wantErr:   ErrInvalidOrder,
		},
		{
			name:      "zero quantity",
			loggedIn:  true,
			available: 1e6,
			req:       buy("TCS", 0, 100),
			wantErr:   ErrInvalidOrder,
		},
		{
			name:      "negative price",
			loggedIn:  true,
			available: 1e6,
			req:       buy("TCS", 1, -5),
			wantErr:   ErrInvalidOrder,
		},
		{
			name:      "unknown side",
			loggedIn:  true,
			available: 1e6,
			req:       OrderRequest{Symbol: "TCS", Side: "HOLD", Quantity: 1, Price: 100},
			wantErr:   ErrInvalidOrder,
		},
		{
			name:      "unknown kind",
			loggedIn:  true,
			available: 1e6,
			req:       OrderRequest{Symbol: "TCS", Side: model.SideBuy, Quantity: 1, Price: 100, Kind: "ICEBERG"},
			wantErr:   ErrInvalidOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(&mockWallet{loggedIn: tt.loggedIn, available: tt.available})
			defer l.Close()

			res := l.PlaceOrder(tt.req)
			assert.False(t, res.Success)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.NotEmpty(t, res.Message)
			assert.Empty(t, l.Orders())
			assert.Empty(t, l.AllPositions())
		})
	}
}

func TestPlaceOrder_InsufficientMarginLeavesWalletUntouched(t *testing.T) {
	l, w := setupLedger(t, 100)

	res := l.PlaceOrder(buy("RELIANCE", 10, 100))
	require.False(t, res.Success)
	assert.Contains(t, res.Message, "insufficient margin")
	assert.Equal(t, 100.0, w.AvailableMargin(testOwner))
	assert.Zero(t, w.used)
}

func TestPlaceOrder_MarketExecutesAndOpensPosition(t *testing.T) {
	l, w := setupLedger(t, 10000)

	res := l.PlaceOrder(OrderRequest{
		Symbol: "nifty50", Side: model.SideBuy, Quantity: 10, Price: 100,
		StopLoss: 95, Target1: 110, Target2: 120,
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "ORD1", res.OrderID)

	o, ok := l.Order(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, model.StatusExecuted, o.Status)
	assert.Equal(t, model.KindMarket, o.Kind)
	assert.Equal(t, 100.0, o.ExecutedPrice)
	assert.Equal(t, int64(10), o.ExecutedQuantity)

	positions := l.Positions()
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, "POS1", p.ID)
	assert.Equal(t, "NIFTY50", p.Symbol)
	assert.Equal(t, int64(10), p.Quantity)
	assert.Equal(t, 100.0, p.AvgPrice)
	assert.Equal(t, 95.0, p.StopLoss)
	assert.Equal(t, 200.0, p.BlockedMargin)

	assert.InDelta(t, 9800, w.AvailableMargin(testOwner), 1e-9)
	assert.InDelta(t, 200, w.used, 1e-9)
}

func TestPlaceOrder_PendingDoesNotBlockMargin(t *testing.T) {
	l, w := setupLedger(t, 10000)

	res := l.PlaceOrder(OrderRequest{Symbol: "TCS", Side: model.SideBuy, Quantity: 5, Price: 3500, Kind: model.KindLimit})
	require.True(t, res.Success)

	o, _ := l.Order(res.OrderID)
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Empty(t, l.Positions())
	assert.Equal(t, 10000.0, w.AvailableMargin(testOwner))
	assert.Len(t, l.PendingOrders("TCS"), 1)
	assert.Empty(t, l.PendingOrders("INFY"))
}

func TestFold_PositionAveraging(t *testing.T) {
	l, _ := setupLedger(t, 1e6)

	require.True(t, l.PlaceOrder(buy("INFY", 10, 100)).Success)
	require.True(t, l.PlaceOrder(buy("INFY", 10, 120)).Success)

	positions := l.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, int64(20), positions[0].Quantity)
	assert.InDelta(t, 110, positions[0].AvgPrice, 1e-9)
	assert.InDelta(t, 440, positions[0].BlockedMargin, 1e-9)
}

func TestFold_TargetsOverwriteOnlyWhenProvided(t *testing.T) {
	l, _ := setupLedger(t, 1e6)

	first := buy("SBIN", 10, 600)
	first.StopLoss, first.Target1 = 580, 620
	require.True(t, l.PlaceOrder(first).Success)

	second := buy("SBIN", 10, 610)
	second.Target2 = 650
	require.True(t, l.PlaceOrder(second).Success)

	p := l.Positions()[0]
	assert.Equal(t, 580.0, p.StopLoss)
	assert.Equal(t, 620.0, p.Target1)
	assert.Equal(t, 650.0, p.Target2)
}

func TestFold_NettingToZeroClosesFlat(t *testing.T) {
	l, w := setupLedger(t, 1e6)

	require.True(t, l.PlaceOrder(buy("HDFC", 10, 100)).Success)
	require.True(t, l.PlaceOrder(sell("HDFC", 10, 105)).Success)

	assert.Empty(t, l.Positions())
	all := l.AllPositions()
	require.Len(t, all, 1)
	assert.Equal(t, model.PositionClosed, all[0].Status)
	assert.Equal(t, model.ExitFlat, all[0].ExitReason)
	assert.InDelta(t, 50, all[0].RealizedPnL, 1e-9)

	// both fills' margin is released
	assert.InDelta(t, 1e6, w.AvailableMargin(testOwner), 1e-6)

	// a new fill opens a fresh position
	require.True(t, l.PlaceOrder(buy("HDFC", 1, 100)).Success)
	assert.Equal(t, "POS2", l.Positions()[0].ID)
}

func TestCancelOrder(t *testing.T) {
	l, _ := setupLedger(t, 1e6)

	pending := l.PlaceOrder(OrderRequest{Symbol: "TCS", Side: model.SideSell, Quantity: 1, Price: 4000, Kind: model.KindSL})
	executed := l.PlaceOrder(buy("TCS", 1, 3900))

	res := l.CancelOrder(pending.OrderID)
	assert.True(t, res.Success)
	o, _ := l.Order(pending.OrderID)
	assert.Equal(t, model.StatusCancelled, o.Status)

	res = l.CancelOrder(pending.OrderID)
	assert.ErrorIs(t, res.Err, ErrOrderNotCancellable)

	res = l.CancelOrder(executed.OrderID)
	assert.ErrorIs(t, res.Err, ErrOrderNotCancellable)

	res = l.CancelOrder("ORD999")
	assert.ErrorIs(t, res.Err, ErrOrderNotFound)
}

func TestFillOrder(t *testing.T) {
	l, w := setupLedger(t, 1000)

	res := l.PlaceOrder(OrderRequest{Symbol: "ITC", Side: model.SideBuy, Quantity: 10, Price: 450, Kind: model.KindLimit})
	require.True(t, res.Success)

	fill := l.FillOrder(res.OrderID, 448)
	require.True(t, fill.Success, fill.Message)

	o, _ := l.Order(res.OrderID)
	assert.Equal(t, model.StatusExecuted, o.Status)
	assert.Equal(t, 448.0, o.ExecutedPrice)
	assert.InDelta(t, 1000-896, w.AvailableMargin(testOwner), 1e-9)
	require.Len(t, l.Positions(), 1)
	assert.Equal(t, 448.0, l.Positions()[0].AvgPrice)

	again := l.FillOrder(res.OrderID, 448)
	assert.ErrorIs(t, again.Err, ErrOrderNotPending)
	assert.ErrorIs(t, l.FillOrder("nope", 1).Err, ErrOrderNotFound)
}

func TestFillOrder_RejectedWhenMarginGone(t *testing.T) {
	l, w := setupLedger(t, 1000)

	res := l.PlaceOrder(OrderRequest{Symbol: "ITC", Side: model.SideBuy, Quantity: 10, Price: 450, Kind: model.KindLimit})
	require.True(t, res.Success)
	require.True(t, l.PlaceOrder(buy("TCS", 1, 4000)).Success) // blocks 800

	fill := l.FillOrder(res.OrderID, 450)
	assert.False(t, fill.Success)
	assert.ErrorIs(t, fill.Err, ErrInsufficientMargin)

	o, _ := l.Order(res.OrderID)
	assert.Equal(t, model.StatusRejected, o.Status)
	assert.InDelta(t, 200, w.AvailableMargin(testOwner), 1e-9)
}

func TestExitPosition(t *testing.T) {
	l, w := setupLedger(t, 1e6)

	require.True(t, l.PlaceOrder(sell("BANKNIFTY", 15, 48000)).Success)
	pos := l.Positions()[0]
	l.UpdatePositionPrices("BANKNIFTY", 47900)

	res := l.ExitPosition(pos.ID)
	require.True(t, res.Success, res.Message)

	exit, ok := l.Order(res.OrderID)
	require.True(t, ok)
	assert.Equal(t, model.SideBuy, exit.Side)
	assert.Equal(t, int64(15), exit.Quantity)
	assert.Equal(t, 47900.0, exit.ExecutedPrice)
	assert.Equal(t, model.TagExit, exit.Tag)
	assert.Equal(t, model.StatusExecuted, exit.Status)

	closed, _ := l.Position(pos.ID)
	assert.Equal(t, model.PositionClosed, closed.Status)
	assert.Equal(t, model.ExitManual, closed.ExitReason)
	assert.InDelta(t, 1500, closed.RealizedPnL, 1e-9)
	assert.InDelta(t, 1e6, w.AvailableMargin(testOwner), 1e-6)

	assert.ErrorIs(t, l.ExitPosition(pos.ID).Err, ErrPositionNotFound)
	assert.ErrorIs(t, l.ExitPosition("POS42").Err, ErrPositionNotFound)
}

func TestUpdatePositionPrices(t *testing.T) {
	l, _ := setupLedger(t, 1e6)

	require.True(t, l.PlaceOrder(buy("WIPRO", 10, 200)).Success)
	require.True(t, l.PlaceOrder(sell("ITC", 4, 500)).Success)

	l.UpdatePositionPrices("WIPRO", 210)
	l.UpdatePositionPrices("ITC", 510)
	l.UpdatePositionPrices("ITC", -1) // ignored

	byID := map[string]model.Position{}
	for _, p := range l.Positions() {
		byID[p.Symbol] = p
	}
	assert.InDelta(t, 100, byID["WIPRO"].PnL, 1e-9)
	assert.InDelta(t, 5, byID["WIPRO"].PnLPercent, 1e-9)
	assert.InDelta(t, -40, byID["ITC"].PnL, 1e-9)
	assert.InDelta(t, -2, byID["ITC"].PnLPercent, 1e-9)
	assert.Equal(t, 510.0, byID["ITC"].LastPrice)

	s := l.Summary()
	assert.Equal(t, 2, s.OpenPositions)
	assert.InDelta(t, 60, s.UnrealizedPnL, 1e-9)
}

func TestConcurrentOrders(t *testing.T) {
	l, w := setupLedger(t, 1e6)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.PlaceOrder(buy("NIFTY50", 1, 100))
				l.UpdatePositionPrices("NIFTY50", 101)
				l.CheckExits()
			}
		}()
	}
	wg.Wait()

	positions := l.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, int64(400), positions[0].Quantity)
	assert.Len(t, l.Orders(), 400)
	assert.InDelta(t, 1e6-400*20, w.AvailableMargin(testOwner), 1e-6)
}

func TestEvents(t *testing.T) {
	l, _ := setupLedger(t, 1e6)

	var mu sync.Mutex
	var got []EventType
	l.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})
	l.Subscribe(func(Event) { panic("boom") })

	req := buy("SBIN", 10, 600)
	req.StopLoss = 590
	require.True(t, l.PlaceOrder(req).Success)
	l.UpdatePositionPrices("SBIN", 589)
	l.CheckExits()

	assert.Equal(t, []EventType{
		EventOrderExecuted, EventPositionOpened,
		EventOrderExecuted, EventPositionClosed,
	}, got)
}

// memStore implements model.KVStore for testing
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) SaveJSON(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) LoadJSON(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Close() error { return nil }

func TestPersistAndRestore(t *testing.T) {
	store := newMemStore()
	w := &mockWallet{loggedIn: true, available: 1e6}

	l := New(w, WithStore(store))
	require.True(t, l.PlaceOrder(buy("TCS", 2, 3500)).Success)
	require.True(t, l.PlaceOrder(OrderRequest{Symbol: "INFY", Side: model.SideBuy, Quantity: 1, Price: 1500, Kind: model.KindLimit}).Success)
	l.Close() // flushes the latest snapshot

	restored := New(w)
	defer restored.Close()
	require.NoError(t, restored.Restore(context.Background(), store))
	require.NoError(t, restored.checkInvariants())

	assert.Len(t, restored.Orders(), 2)
	require.Len(t, restored.Positions(), 1)
	assert.Equal(t, "TCS", restored.Positions()[0].Symbol)

	// counters continue after the restored IDs
	res := restored.PlaceOrder(buy("WIPRO", 1, 200))
	assert.Equal(t, "ORD3", res.OrderID)
	assert.Equal(t, "POS2", restored.Positions()[1].ID)
}

func TestRestore_EmptyStore(t *testing.T) {
	l, _ := setupLedger(t, 1e6)
	require.NoError(t, l.Restore(context.Background(), newMemStore()))
	assert.Empty(t, l.Orders())
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	l, _ := setupLedger(t, 1e6, WithMonitorInterval(10*time.Millisecond))

	req := buy("NIFTY50", 1, 100)
	req.StopLoss = 95
	require.True(t, l.PlaceOrder(req).Success)
	l.UpdatePositionPrices("NIFTY50", 90)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Monitor(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(l.Positions()) == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
