package account

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"marketdesk/internal/model"
)

const persistTimeout = 5 * time.Second

// persister writes the user list in the background. Only the newest pending
// snapshot is kept, so wallet updates never wait on the store.
type persister struct {
	store model.KVStore
	ch    chan []byte
	done  chan struct{}
}

func newPersister(store model.KVStore) *persister {
	p := &persister{
		store: store,
		ch:    make(chan []byte, 1),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// submit replaces any queued snapshot with data. Never blocks.
func (p *persister) submit(data []byte) {
	for {
		select {
		case p.ch <- data:
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
	for data := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := p.store.SaveJSON(ctx, model.KeyUsers, data); err != nil {
			log.Printf("[account] persist users failed: %v", err)
		}
		cancel()
	}
}

// stop flushes the queued snapshot and waits for the writer to exit.
func (p *persister) stop() {
	close(p.ch)
	<-p.done
}

// saveLocked queues a snapshot of every user. Caller holds s.mu.
func (s *Service) saveLocked() {
	if s.persist == nil || s.closed {
		return
	}
	data, err := json.Marshal(s.users)
	if err != nil {
		log.Printf("[account] marshal users: %v", err)
		return
	}
	s.persist.submit(data)
}

// Close flushes the latest user snapshot and stops background persistence.
// Later changes stay in memory only.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	p := s.persist
	s.mu.Unlock()

	if p != nil {
		p.stop()
	}
}
