package server

import (
	"context"
	"sync"
	"time"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
)

const (
	// StreamEventBookmarkChange names the SSE event carrying a change payload.
	StreamEventBookmarkChange = "bookmark-change"
	streamEventHeartbeat      = "heartbeat"
)

// ChangeMessage is one change-feed delivery, scoped to a single owner.
type ChangeMessage struct {
	OwnerID   string
	Event     bookmarks.ChangeEvent
	Timestamp time.Time
}

// Dispatcher fans change messages out to the stream subscribers of one
// owner. Delivery is best effort: a subscriber whose buffer is full
// misses the message and is expected to heal via a bulk fetch.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*dispatcherSubscriber
	nextID      int64
	bufferSize  int
}

type dispatcherSubscriber struct {
	id     int64
	stream chan ChangeMessage
}

// NewDispatcher constructs a Dispatcher with a small per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*dispatcherSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a change stream for the owner. The subscription is
// released when ctx is canceled or the returned cleanup runs, whichever
// comes first.
func (d *Dispatcher) Subscribe(ctx context.Context, ownerID string) (<-chan ChangeMessage, func()) {
	if ownerID == "" {
		ch := make(chan ChangeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &dispatcherSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeMessage, d.bufferSize),
	}
	d.register(ownerID, subscriber)
	cleanup := func() {
		d.unregister(ownerID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishChange implements bookmarks.ChangePublisher.
func (d *Dispatcher) PublishChange(ownerID string, event bookmarks.ChangeEvent) {
	d.Publish(ChangeMessage{OwnerID: ownerID, Event: event, Timestamp: time.Now().UTC()})
}

// Publish delivers the message to every current subscriber of its owner.
func (d *Dispatcher) Publish(message ChangeMessage) {
	if message.OwnerID == "" || message.Event.Kind == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.OwnerID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*dispatcherSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(ownerID string, subscriber *dispatcherSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[ownerID]; !ok {
		d.subscribers[ownerID] = make(map[int64]*dispatcherSubscriber)
	}
	d.subscribers[ownerID][subscriber.id] = subscriber
}

func (d *Dispatcher) unregister(ownerID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[ownerID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, ownerID)
		}
	}
	d.mu.Unlock()
}
