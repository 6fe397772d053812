// Package notify carries committed changes out of the engine: advisory change
// messages for live views, e-mail notifications and webhook delivery.
package notify

import (
	"context"
	"sync"
	"time"
)

// Change tells subscribers that an entity moved. It carries ids only;
// receivers re-read the entity from the store.
type Change struct {
	EntityKind string    `json:"entity_kind" cbor:"1,keyasint"`
	EntityID   string    `json:"entity_id" cbor:"2,keyasint"`
	Type       string    `json:"type" cbor:"3,keyasint"`
	TS         time.Time `json:"ts" cbor:"4,keyasint"`
}

// Bus fans out changes. Delivery is best effort: a slow subscriber misses
// messages rather than blocking publishers.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe returns a channel of changes and a cancel func that
	// releases the subscription and closes the channel.
	Subscribe(ctx context.Context) (<-chan Change, func())
}

const subscriberBuffer = 64

type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan Change)}
}

func (b *MemoryBus) Publish(_ context.Context, c Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, stop
}
