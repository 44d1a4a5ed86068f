// Package signal implements the cross-instance change marker: a single
// shared slot that client instances write after a local mutation so
// sibling instances know a bulk refresh is warranted. The marker carries
// no payload semantics; observers always respond by refetching, never by
// interpreting the value.
package signal

import (
	"context"
	"sync"
	"time"
)

// Marker is the bare change indicator written to the shared slot.
type Marker struct {
	Origin    string    `json:"origin"`
	ChangedAt time.Time `json:"changed_at"`
}

// Broadcaster is one instance's handle on the shared slot. Announce
// writes the marker; Subscribe observes writes made by sibling
// instances. An instance is never notified of its own announcements,
// matching browser storage-event semantics.
type Broadcaster interface {
	Announce(ctx context.Context) error
	Subscribe(ctx context.Context) (<-chan Marker, func())
}

// Hub is the in-process shared slot. Every same-process client instance
// joins it via NewSlot; the slot's value is last-write-wins.
type Hub struct {
	mu      sync.RWMutex
	slots   map[int64]*Slot
	nextID  int64
	latest  Marker
	written bool
	clock   func() time.Time
}

// NewHub constructs an empty in-process hub.
func NewHub() *Hub {
	return &Hub{
		slots: make(map[int64]*Slot),
		clock: time.Now,
	}
}

// NewSlot joins the hub and returns this instance's Broadcaster.
func (h *Hub) NewSlot() *Slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	slot := &Slot{
		hub:         h,
		id:          h.nextID,
		subscribers: make(map[int64]chan Marker),
	}
	h.slots[slot.id] = slot
	return slot
}

// Latest returns the current slot value, if one was ever written.
func (h *Hub) Latest() (Marker, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.written
}

func (h *Hub) announce(originID int64) {
	marker := Marker{ChangedAt: h.clock().UTC()}

	h.mu.Lock()
	h.latest = marker
	h.written = true
	targets := make([]*Slot, 0, len(h.slots))
	for id, slot := range h.slots {
		if id == originID {
			continue
		}
		targets = append(targets, slot)
	}
	h.mu.Unlock()

	for _, target := range targets {
		target.deliver(marker)
	}
}

func (h *Hub) leave(slotID int64) {
	h.mu.Lock()
	delete(h.slots, slotID)
	h.mu.Unlock()
}

// Slot is one instance's membership in a Hub.
type Slot struct {
	hub         *Hub
	id          int64
	mu          sync.Mutex
	subscribers map[int64]chan Marker
	nextSubID   int64
}

// Announce writes the shared slot, notifying every sibling instance.
func (s *Slot) Announce(_ context.Context) error {
	s.hub.announce(s.id)
	return nil
}

// Subscribe returns a channel of sibling markers. Consecutive markers
// coalesce: a slow consumer sees at most one pending marker, which is
// enough because every observation triggers the same full resync.
func (s *Slot) Subscribe(ctx context.Context) (<-chan Marker, func()) {
	s.mu.Lock()
	s.nextSubID++
	subscriberID := s.nextSubID
	ch := make(chan Marker, 1)
	s.subscribers[subscriberID] = ch
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		if existing, ok := s.subscribers[subscriberID]; ok {
			delete(s.subscribers, subscriberID)
			close(existing)
		}
		s.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return ch, cleanup
}

// Close removes the slot from its hub and drops all subscriptions.
func (s *Slot) Close() {
	s.hub.leave(s.id)
	s.mu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()
}

func (s *Slot) deliver(marker Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- marker:
		default:
			// a marker is already pending; the pending one suffices
		}
	}
}
