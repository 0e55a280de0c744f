// Package ledger is the simulated order and position book.
//
// It owns every Order and Position, enforces at most one Open position per
// symbol, and moves margin through a MarginProvider (the account's wallet).
// All mutations of orders, positions and the wallet happen under one mutex,
// so each operation is atomic with respect to the others. Events and
// snapshot persistence happen after the lock is released.
package ledger

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketdesk/internal/model"
)

// MarginRate is the fraction of notional value blocked as margin.
const MarginRate = 0.20

// DefaultMonitorInterval is how often Monitor runs CheckExits.
const DefaultMonitorInterval = 5 * time.Second

// MarginProvider is the wallet the ledger draws margin from. Margin calls
// are addressed to the owner recorded on the order or position, so a release
// reaches the right wallet whoever holds the session at that moment.
type MarginProvider interface {
	// SessionOwner returns the logged-in user's ID; ok is false when nobody
	// is logged in.
	SessionOwner() (owner string, ok bool)
	AvailableMargin(owner string) float64
	DebitMargin(owner string, amount float64) error
	CreditMargin(owner string, amount float64) error
}

// OrderRequest is a user order before it is accepted. Zero StopLoss,
// Target1 or Target2 means unset. An empty Kind is treated as MARKET.
type OrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     model.Side      `json:"side"`
	Quantity int64           `json:"quantity"`
	Price    float64         `json:"price"`
	Kind     model.OrderKind `json:"order_kind"`
	StopLoss float64         `json:"stop_loss,omitempty"`
	Target1  float64         `json:"target1,omitempty"`
	Target2  float64         `json:"target2,omitempty"`
}

// Summary aggregates the book for dashboards.
type Summary struct {
	OpenPositions   int     `json:"open_positions"`
	PendingOrders   int     `json:"pending_orders"`
	TotalOrders     int     `json:"total_orders"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	RealizedPnL     float64 `json:"realized_pnl"`
	BlockedMargin   float64 `json:"blocked_margin"`
	ClosedPositions int     `json:"closed_positions"`
}

// Ledger is the order and position book. Create with New.
type Ledger struct {
	mu           sync.Mutex
	wallet       MarginProvider
	orders       []*model.Order
	orderIdx     map[string]*model.Order
	positions    []*model.Position
	posIdx       map[string]*model.Position
	openBySymbol map[string]*model.Position
	orderSeq     int64
	posSeq       int64
	closed       bool

	hmu      sync.RWMutex
	handlers []EventHandler

	persist  *persister
	interval time.Duration
	onPass   func(time.Duration)
	now      func() time.Time
	log      *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithStore persists a snapshot of orders and positions to store after every
// mutation. Writes are asynchronous and best-effort.
func WithStore(store model.KVStore) Option {
	return func(l *Ledger) {
		if store != nil {
			l.persist = newPersister(store)
		}
	}
}

// WithMonitorInterval sets the Monitor polling period.
func WithMonitorInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithPassObserver reports the duration of every Monitor pass, typically to
// a metrics histogram.
func WithPassObserver(fn func(time.Duration)) Option {
	return func(l *Ledger) { l.onPass = fn }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.log = logger }
}

// New creates an empty ledger drawing margin from wallet.
func New(wallet MarginProvider, opts ...Option) *Ledger {
	l := &Ledger{
		wallet:       wallet,
		orders:       make([]*model.Order, 0, 64),
		orderIdx:     make(map[string]*model.Order, 64),
		positions:    make([]*model.Position, 0, 16),
		posIdx:       make(map[string]*model.Position, 16),
		openBySymbol: make(map[string]*model.Position, 16),
		interval:     DefaultMonitorInterval,
		now:          time.Now,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Close stops background persistence after flushing the latest snapshot.
func (l *Ledger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	p := l.persist
	l.mu.Unlock()

	if p != nil {
		p.stop()
	}
}

// RequiredMargin is the margin blocked by an order of quantity at price.
func RequiredMargin(price float64, quantity int64) float64 {
	return price * float64(quantity) * MarginRate
}

// PlaceOrder accepts a user order. MARKET orders execute immediately at the
// request price and are folded into the symbol's position; other kinds stay
// Pending until FillOrder or CancelOrder.
func (l *Ledger) PlaceOrder(req OrderRequest) Result {
	l.mu.Lock()
	res, events := l.placeOrderLocked(req)
	l.mu.Unlock()

	l.dispatch(events)
	return res
}

func (l *Ledger) placeOrderLocked(req OrderRequest) (Result, []Event) {
	owner, ok := l.wallet.SessionOwner()
	if !ok {
		return fail(ErrNotAuthenticated), nil
	}
	if err := validateRequest(&req); err != nil {
		return fail(err), nil
	}
	if p, held := l.openBySymbol[req.Symbol]; held && p.Owner != owner {
		return fail(fmt.Errorf("%w: %s", ErrSymbolHeld, req.Symbol)), nil
	}

	required := RequiredMargin(req.Price, req.Quantity)
	if available := l.wallet.AvailableMargin(owner); required > available {
		return fail(fmt.Errorf("%w: required ₹%.2f, available ₹%.2f", ErrInsufficientMargin, required, available)), nil
	}

	now := l.now()
	l.orderSeq++
	o := &model.Order{
		ID:        fmt.Sprintf("ORD%d", l.orderSeq),
		Owner:     owner,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Kind:      req.Kind,
		Status:    model.StatusPending,
		Tag:       model.TagEntry,
		CreatedAt: now,
		StopLoss:  req.StopLoss,
		Target1:   req.Target1,
		Target2:   req.Target2,
	}

	if o.Kind != model.KindMarket {
		l.appendOrderLocked(o)
		l.snapshotLocked()
		l.log.Info("order placed", "order_id", o.ID, "symbol", o.Symbol, "side", o.Side,
			"qty", o.Quantity, "price", o.Price, "kind", o.Kind)
		return succeed(fmt.Sprintf("Order placed successfully. Order ID: %s", o.ID), o.ID),
			[]Event{orderEvent(EventOrderPlaced, o, now)}
	}

	if err := l.wallet.DebitMargin(owner, required); err != nil {
		l.orderSeq--
		return fail(fmt.Errorf("%w: %v", ErrInsufficientMargin, err)), nil
	}

	l.appendOrderLocked(o)
	events := l.executeLocked(o, o.Price, required)
	l.snapshotLocked()
	return succeed(fmt.Sprintf("Order placed successfully. Order ID: %s", o.ID), o.ID), events
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func validateRequest(req *OrderRequest) error {
	req.Symbol = normalizeSymbol(req.Symbol)
	if req.Kind == "" {
		req.Kind = model.KindMarket
	}
	switch {
	case req.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	case !req.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, req.Side)
	case !req.Kind.Valid():
		return fmt.Errorf("%w: unknown order kind %q", ErrInvalidOrder, req.Kind)
	case req.Quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	case !(req.Price > 0) || math.IsInf(req.Price, 0):
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	case req.StopLoss < 0 || req.Target1 < 0 || req.Target2 < 0:
		return fmt.Errorf("%w: stop-loss and targets must not be negative", ErrInvalidOrder)
	}
	return nil
}

// FillOrder executes a Pending order at price, as an external matching event
// would. The margin check is repeated at the fill price; when it fails the
// order is Rejected.
func (l *Ledger) FillOrder(orderID string, price float64) Result {
	l.mu.Lock()
	res, events := l.fillOrderLocked(orderID, price)
	l.mu.Unlock()

	l.dispatch(events)
	return res
}

func (l *Ledger) fillOrderLocked(orderID string, price float64) (Result, []Event) {
	o, ok := l.orderIdx[orderID]
	if !ok {
		return fail(ErrOrderNotFound), nil
	}
	if o.Status != model.StatusPending {
		return fail(fmt.Errorf("%w: %s is %s", ErrOrderNotPending, o.ID, o.Status)), nil
	}
	if !(price > 0) {
		return fail(fmt.Errorf("%w: fill price must be positive", ErrInvalidOrder)), nil
	}

	if p, held := l.openBySymbol[o.Symbol]; held && p.Owner != o.Owner {
		o.Status = model.StatusRejected
		l.snapshotLocked()
		l.log.Warn("order rejected at fill", "order_id", o.ID, "reason", "symbol held by another account")
		return fail(fmt.Errorf("%w: %s", ErrSymbolHeld, o.Symbol)), []Event{orderEvent(EventOrderRejected, o, l.now())}
	}

	required := RequiredMargin(price, o.Quantity)
	available := l.wallet.AvailableMargin(o.Owner)
	var debitErr error
	if required <= available {
		debitErr = l.wallet.DebitMargin(o.Owner, required)
	}
	if required > available || debitErr != nil {
		o.Status = model.StatusRejected
		l.snapshotLocked()
		l.log.Warn("order rejected at fill", "order_id", o.ID, "required", required, "available", available)
		err := fmt.Errorf("%w: required ₹%.2f, available ₹%.2f", ErrInsufficientMargin, required, available)
		return fail(err), []Event{orderEvent(EventOrderRejected, o, l.now())}
	}

	events := l.executeLocked(o, price, required)
	l.snapshotLocked()
	return succeed(fmt.Sprintf("Order %s executed at %.2f", o.ID, price), o.ID), events
}

// CancelOrder cancels a Pending order.
func (l *Ledger) CancelOrder(orderID string) Result {
	l.mu.Lock()
	o, ok := l.orderIdx[orderID]
	if !ok {
		l.mu.Unlock()
		return fail(ErrOrderNotFound)
	}
	if o.Status != model.StatusPending {
		l.mu.Unlock()
		return fail(fmt.Errorf("%w: %s is %s", ErrOrderNotCancellable, o.ID, o.Status))
	}
	o.Status = model.StatusCancelled
	ev := orderEvent(EventOrderCancelled, o, l.now())
	l.snapshotLocked()
	l.mu.Unlock()

	l.log.Info("order cancelled", "order_id", orderID)
	l.dispatch([]Event{ev})
	return succeed("Order cancelled successfully", orderID)
}

// ExitPosition closes an Open position at its last price with a synthesized
// offsetting MARKET order.
func (l *Ledger) ExitPosition(positionID string) Result {
	l.mu.Lock()
	p, ok := l.posIdx[positionID]
	if !ok || p.Status != model.PositionOpen {
		l.mu.Unlock()
		return fail(ErrPositionNotFound)
	}
	price := p.LastPrice
	if price <= 0 {
		price = p.AvgPrice
	}
	exit, events := l.closeLocked(p, price, model.ExitManual, model.TagExit)
	l.snapshotLocked()
	l.mu.Unlock()

	l.dispatch(events)
	return succeed("Position closed successfully", exit.ID)
}

// UpdatePositionPrices marks the Open position on symbol to lastPrice and
// recomputes its P&L. The symbol is matched case-insensitively, like order
// symbols. Non-positive or non-finite prices are ignored.
func (l *Ledger) UpdatePositionPrices(symbol string, lastPrice float64) {
	if !(lastPrice > 0) || math.IsInf(lastPrice, 0) {
		return
	}
	symbol = normalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.openBySymbol[symbol]
	if !ok {
		return
	}
	p.LastPrice = lastPrice
	markToMarket(p)
	l.snapshotLocked()
}

func markToMarket(p *model.Position) {
	p.PnL = p.UnrealizedPnL()
	p.PnLPercent = 0
	if basis := p.AvgPrice * float64(p.AbsQuantity()); basis != 0 {
		p.PnLPercent = p.PnL / basis * 100
	}
}

// executeLocked marks o Executed at price and folds it into the symbol's
// position. margin is what was debited for the fill.
func (l *Ledger) executeLocked(o *model.Order, price, margin float64) []Event {
	now := l.now()
	o.Status = model.StatusExecuted
	o.ExecutedPrice = price
	o.ExecutedQuantity = o.Quantity

	l.log.Info("order executed", "order_id", o.ID, "symbol", o.Symbol, "side", o.Side,
		"qty", o.Quantity, "price", price, "margin", margin)

	events := []Event{orderEvent(EventOrderExecuted, o, now)}
	return append(events, l.foldLocked(o, margin)...)
}

// foldLocked applies an executed entry order to the symbol's Open position,
// creating one if none exists.
func (l *Ledger) foldLocked(o *model.Order, margin float64) []Event {
	now := l.now()
	delta := o.SignedQuantity()
	price := o.ExecutedPrice

	p, ok := l.openBySymbol[o.Symbol]
	if !ok {
		l.posSeq++
		p = &model.Position{
			ID:            fmt.Sprintf("POS%d", l.posSeq),
			Owner:         o.Owner,
			Symbol:        o.Symbol,
			Quantity:      delta,
			AvgPrice:      price,
			LastPrice:     price,
			Status:        model.PositionOpen,
			StopLoss:      o.StopLoss,
			Target1:       o.Target1,
			Target2:       o.Target2,
			BlockedMargin: margin,
			OpenedAt:      now,
		}
		l.positions = append(l.positions, p)
		l.posIdx[p.ID] = p
		l.openBySymbol[p.Symbol] = p
		l.log.Info("position opened", "position_id", p.ID, "symbol", p.Symbol, "qty", p.Quantity, "avg_price", p.AvgPrice)
		return []Event{positionEvent(EventPositionOpened, p, now)}
	}

	p.BlockedMargin += margin
	newQty := p.Quantity + delta
	if newQty == 0 {
		return l.finishLocked(p, price, model.ExitFlat)
	}

	p.AvgPrice = (p.AvgPrice*float64(p.Quantity) + price*float64(delta)) / float64(newQty)
	p.Quantity = newQty
	if o.StopLoss > 0 {
		p.StopLoss = o.StopLoss
	}
	if o.Target1 > 0 {
		p.Target1 = o.Target1
	}
	if o.Target2 > 0 {
		p.Target2 = o.Target2
	}
	markToMarket(p)
	l.log.Info("position updated", "position_id", p.ID, "qty", p.Quantity, "avg_price", p.AvgPrice)
	return nil
}

// closeLocked flattens p with a synthesized executed MARKET order at price.
func (l *Ledger) closeLocked(p *model.Position, price float64, reason model.ExitReason, tag model.OrderTag) (*model.Order, []Event) {
	now := l.now()
	qty := p.AbsQuantity()
	exit := &model.Order{
		ID:               string(tag) + "_" + uuid.NewString(),
		Owner:            p.Owner,
		Symbol:           p.Symbol,
		Side:             p.ExitSide(),
		Quantity:         qty,
		Price:            price,
		Kind:             model.KindMarket,
		Status:           model.StatusExecuted,
		Tag:              tag,
		CreatedAt:        now,
		ExecutedPrice:    price,
		ExecutedQuantity: qty,
	}
	l.appendOrderLocked(exit)

	events := []Event{orderEvent(EventOrderExecuted, exit, now)}
	return exit, append(events, l.finishLocked(p, price, reason)...)
}

// finishLocked transitions p to Closed at price, books realized P&L, and
// releases its blocked margin back to the wallet.
func (l *Ledger) finishLocked(p *model.Position, price float64, reason model.ExitReason) []Event {
	now := l.now()
	p.LastPrice = price
	p.RealizedPnL = (price - p.AvgPrice) * float64(p.Quantity)
	p.PnL = p.RealizedPnL
	p.PnLPercent = 0
	if basis := p.AvgPrice * float64(p.AbsQuantity()); basis != 0 {
		p.PnLPercent = p.PnL / basis * 100
	}
	p.Status = model.PositionClosed
	p.ClosedAt = now
	p.ExitPrice = price
	p.ExitReason = reason
	delete(l.openBySymbol, p.Symbol)

	if p.BlockedMargin > 0 {
		if err := l.wallet.CreditMargin(p.Owner, p.BlockedMargin); err != nil {
			l.log.Error("margin release failed", "position_id", p.ID, "owner", p.Owner, "amount", p.BlockedMargin, "error", err)
		} else {
			p.BlockedMargin = 0
		}
	}

	l.log.Info("position closed", "position_id", p.ID, "symbol", p.Symbol, "reason", reason,
		"exit_price", price, "realized_pnl", p.RealizedPnL)
	return []Event{positionEvent(EventPositionClosed, p, now)}
}

func (l *Ledger) appendOrderLocked(o *model.Order) {
	l.orders = append(l.orders, o)
	l.orderIdx[o.ID] = o
}

// ── Accessors ──

// Orders returns every order in placement order.
func (l *Ledger) Orders() []model.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Order, len(l.orders))
	for i, o := range l.orders {
		out[i] = *o
	}
	return out
}

// Order returns one order by ID.
func (l *Ledger) Order(id string) (model.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.orderIdx[id]; ok {
		return *o, true
	}
	return model.Order{}, false
}

// PendingOrders returns Pending orders for symbol, or for every symbol when
// symbol is empty.
func (l *Ledger) PendingOrders(symbol string) []model.Order {
	symbol = normalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Order
	for _, o := range l.orders {
		if o.Status == model.StatusPending && (symbol == "" || o.Symbol == symbol) {
			out = append(out, *o)
		}
	}
	return out
}

// Positions returns Open positions.
func (l *Ledger) Positions() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Position, 0, len(l.openBySymbol))
	for _, p := range l.positions {
		if p.Status == model.PositionOpen {
			out = append(out, *p)
		}
	}
	return out
}

// AllPositions returns Open and Closed positions in creation order.
func (l *Ledger) AllPositions() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Position, len(l.positions))
	for i, p := range l.positions {
		out[i] = *p
	}
	return out
}

// Position returns one position by ID.
func (l *Ledger) Position(id string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.posIdx[id]; ok {
		return *p, true
	}
	return model.Position{}, false
}

// Summary returns aggregate counts and P&L.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{TotalOrders: len(l.orders)}
	for _, o := range l.orders {
		if o.Status == model.StatusPending {
			s.PendingOrders++
		}
	}
	for _, p := range l.positions {
		if p.Status == model.PositionOpen {
			s.OpenPositions++
			s.UnrealizedPnL += p.PnL
			s.BlockedMargin += p.BlockedMargin
		} else {
			s.ClosedPositions++
			s.RealizedPnL += p.RealizedPnL
		}
	}
	return s
}

// checkInvariants reports a violation of the one-open-position-per-symbol
// rule or an index out of sync with the position list.
func (l *Ledger) checkInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := make(map[string]string)
	for _, p := range l.positions {
		if p.Status != model.PositionOpen {
			continue
		}
		if prev, dup := open[p.Symbol]; dup {
			return fmt.Errorf("symbol %s has two open positions: %s and %s", p.Symbol, prev, p.ID)
		}
		open[p.Symbol] = p.ID
		if l.openBySymbol[p.Symbol] != p {
			return fmt.Errorf("open index out of sync for %s", p.Symbol)
		}
	}
	if len(open) != len(l.openBySymbol) {
		return fmt.Errorf("open index has %d entries, %d positions open", len(l.openBySymbol), len(open))
	}
	return nil
}
