package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"marketdesk/internal/model"
)

const persistTimeout = 5 * time.Second

type snapshot struct {
	orders    []byte
	positions []byte
}

// persister writes ledger snapshots in the background. Only the newest
// pending snapshot is kept: a slow store sees fewer writes, never stale ones.
type persister struct {
	store model.KVStore
	ch    chan snapshot
	done  chan struct{}
}

func newPersister(store model.KVStore) *persister {
	p := &persister{
		store: store,
		ch:    make(chan snapshot, 1),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// submit replaces any queued snapshot with s. Never blocks.
func (p *persister) submit(s snapshot) {
	for {
		select {
		case p.ch <- s:
			return
		default:
		}
		select {
		case <-p.ch:
		default:
		}
	}
}

func (p *persister) run() {
	defer close(p.done)
	for s := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := p.store.SaveJSON(ctx, model.KeyOrders, s.orders); err != nil {
			log.Printf("[ledger] persist orders failed: %v", err)
		}
		if err := p.store.SaveJSON(ctx, model.KeyPositions, s.positions); err != nil {
			log.Printf("[ledger] persist positions failed: %v", err)
		}
		cancel()
	}
}

// stop flushes the queued snapshot and waits for the writer to exit.
func (p *persister) stop() {
	close(p.ch)
	<-p.done
}

// snapshotLocked serializes the current state. Caller holds l.mu.
func (l *Ledger) snapshotLocked() {
	if l.persist == nil || l.closed {
		return
	}
	orders := make([]model.Order, len(l.orders))
	for i, o := range l.orders {
		orders[i] = *o
	}
	positions := make([]model.Position, len(l.positions))
	for i, p := range l.positions {
		positions[i] = *p
	}

	ob, err := json.Marshal(orders)
	if err != nil {
		log.Printf("[ledger] marshal orders: %v", err)
		return
	}
	pb, err := json.Marshal(positions)
	if err != nil {
		log.Printf("[ledger] marshal positions: %v", err)
		return
	}
	l.persist.submit(snapshot{orders: ob, positions: pb})
}

// Restore replaces the in-memory state with the snapshot held by store.
// Missing keys leave the ledger empty. Margin is not touched: the wallet
// persists its own state.
func (l *Ledger) Restore(ctx context.Context, store model.KVStore) error {
	var orders []model.Order
	var positions []model.Position

	if err := loadJSON(ctx, store, model.KeyOrders, &orders); err != nil {
		return err
	}
	if err := loadJSON(ctx, store, model.KeyPositions, &positions); err != nil {
		return err
	}

	orderList := make([]*model.Order, 0, len(orders))
	orderIdx := make(map[string]*model.Order, len(orders))
	var orderSeq, posSeq int64
	for i := range orders {
		o := &orders[i]
		orderList = append(orderList, o)
		orderIdx[o.ID] = o
		orderSeq = maxSeq(orderSeq, o.ID, "ORD")
	}

	posList := make([]*model.Position, 0, len(positions))
	posIdx := make(map[string]*model.Position, len(positions))
	open := make(map[string]*model.Position)
	for i := range positions {
		p := &positions[i]
		if p.Status == model.PositionOpen {
			if _, dup := open[p.Symbol]; dup {
				return fmt.Errorf("restore: more than one open position for %s", p.Symbol)
			}
			open[p.Symbol] = p
		}
		posList = append(posList, p)
		posIdx[p.ID] = p
		posSeq = maxSeq(posSeq, p.ID, "POS")
	}

	l.mu.Lock()
	l.orders, l.orderIdx, l.orderSeq = orderList, orderIdx, orderSeq
	l.positions, l.posIdx, l.openBySymbol, l.posSeq = posList, posIdx, open, posSeq
	l.mu.Unlock()

	log.Printf("[ledger] restored %d orders, %d positions (%d open)", len(orders), len(positions), len(open))
	return nil
}

func loadJSON(ctx context.Context, store model.KVStore, key string, v any) error {
	data, err := store.LoadJSON(ctx, key)
	if err != nil {
		return fmt.Errorf("restore %s: %w", key, err)
	}
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("restore %s: %w", key, err)
	}
	return nil
}

// maxSeq returns the larger of cur and the numeric suffix of id after prefix.
func maxSeq(cur int64, id, prefix string) int64 {
	if !strings.HasPrefix(id, prefix) {
		return cur
	}
	n, err := strconv.ParseInt(id[len(prefix):], 10, 64)
	if err != nil || n <= cur {
		return cur
	}
	return n
}
