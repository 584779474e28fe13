package store

import (
	"context"
	"log"

	"quantgate/internal/domain"
	"quantgate/internal/event"
)

// Journal subscribes order and trade events on the dispatcher and writes
// them through the store. Write failures are logged, never propagated back
// into delivery.
type Journal struct {
	store  *Store
	unsubs []func()
}

// NewJournal attaches a journal to the dispatcher.
func NewJournal(store *Store, dispatcher *event.Dispatcher) *Journal {
	j := &Journal{store: store}
	j.unsubs = append(j.unsubs,
		dispatcher.Subscribe(event.TypeOrder, j.onOrder),
		dispatcher.Subscribe(event.TypeTrade, j.onTrade),
	)
	return j
}

// Close detaches from the dispatcher. The store itself is owned by the
// caller and stays open.
func (j *Journal) Close() {
	for _, unsub := range j.unsubs {
		unsub()
	}
}

func (j *Journal) onOrder(_ event.Type, payload any) {
	o, ok := payload.(domain.OrderData)
	if !ok {
		return
	}
	if err := j.store.UpsertOrder(context.Background(), o); err != nil {
		log.Printf("journal: upsert order %s: %v", o.OrderID, err)
	}
}

func (j *Journal) onTrade(_ event.Type, payload any) {
	t, ok := payload.(domain.TradeData)
	if !ok {
		return
	}
	if err := j.store.InsertTrade(context.Background(), t); err != nil {
		log.Printf("journal: insert trade %s: %v", t.TradeID, err)
	}
}
