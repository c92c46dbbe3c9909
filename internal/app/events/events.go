// Package events publishes marketplace domain events to in-process
// subscribers. Events are emitted only after the originating unit of work has
// committed, so every event is an immutable fact.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event wraps a domain payload with identity and timing.
type Event struct {
	ID      string
	Type    string
	Time    time.Time
	Payload any
}

// Event type names.
const (
	TypeSongCreated        = "song.created"
	TypeSongsMinted        = "song.minted"
	TypePriceUpdated       = "song.price_updated"
	TypeCreatorChanged     = "song.creator_changed"
	TypePlatformFeeUpdated = "platform.fee_updated"
)

// SongCreated is emitted when a song is registered.
type SongCreated struct {
	SongID    uint64 `json:"song_id"`
	Title     string `json:"title"`
	Creator   string `json:"creator"`
	UnitPrice uint64 `json:"unit_price"`
	Capacity  uint64 `json:"capacity"`
}

// SongsMinted is emitted once per song/quantity pair of a successful mint.
type SongsMinted struct {
	SongID    uint64 `json:"song_id"`
	Buyer     string `json:"buyer"`
	Creator   string `json:"creator"`
	Quantity  uint64 `json:"quantity"`
	TotalCost uint64 `json:"total_cost"`
}

// PriceUpdated is emitted when a song's unit price changes.
type PriceUpdated struct {
	SongID   uint64 `json:"song_id"`
	OldPrice uint64 `json:"old_price"`
	NewPrice uint64 `json:"new_price"`
}

// CreatorChanged is emitted when creatorship moves between accounts.
type CreatorChanged struct {
	SongID     uint64 `json:"song_id"`
	OldCreator string `json:"old_creator"`
	NewCreator string `json:"new_creator"`
}

// PlatformFeeUpdated is emitted when the owner adjusts the flat mint fee.
type PlatformFeeUpdated struct {
	OldFee uint64 `json:"old_fee"`
	NewFee uint64 `json:"new_fee"`
}

// Handler consumes published events. Handlers must not block.
type Handler func(Event)

// Bus fans published events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler for all subsequent events and returns a
// function removing the subscription.
func (b *Bus) Subscribe(h Handler) func() {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish stamps the payload and delivers it to every subscriber.
func (b *Bus) Publish(eventType string, payload any) Event {
	evt := Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		Time:    time.Now().UTC(),
		Payload: payload,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
	return evt
}
