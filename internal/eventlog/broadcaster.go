package eventlog

import (
	"context"
	"sync"

	"fractional-ledger/internal/domain"
)

// Broadcaster fans events out to live subscribers. Slow subscribers miss
// events instead of blocking emission.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
	buffer int
}

type subscription struct {
	ch      chan domain.LedgerEvent
	assetID string
	dropped uint64
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold
// buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{subs: make(map[int]*subscription), buffer: buffer}
}

func (b *Broadcaster) Name() string { return "broadcast" }

func (b *Broadcaster) Append(_ context.Context, e *domain.LedgerEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.assetID != "" && sub.assetID != e.AssetID {
			continue
		}
		select {
		case sub.ch <- *e:
		default:
			sub.dropped++
		}
	}
	return nil
}

// Subscribe registers a subscriber. An empty assetID receives every
// asset. The returned cancel func closes the channel.
func (b *Broadcaster) Subscribe(assetID string) (<-chan domain.LedgerEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{ch: make(chan domain.LedgerEvent, b.buffer), assetID: assetID}
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
