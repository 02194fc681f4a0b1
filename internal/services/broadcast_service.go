package services

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/models"
)

// BroadcastService fans committed change events out to subscribers.
// Publishing never blocks the allocation engine: a subscriber whose
// buffer is full loses the event and is expected to resynchronize
// through the snapshot endpoint. Only the final state per room must
// eventually reach every client; intermediate states are droppable.
type BroadcastService struct {
	mu      sync.Mutex
	subs    map[int64]chan models.RoomChangeEvent
	nextID  int64
	bufSize int
	logger  *logrus.Logger
}

// NewBroadcastService creates a BroadcastService with the given
// per-subscriber buffer size
func NewBroadcastService(bufSize int, logger *logrus.Logger) *BroadcastService {
	if bufSize < 1 {
		bufSize = 1
	}
	return &BroadcastService{
		subs:    make(map[int64]chan models.RoomChangeEvent),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Subscribe registers a new listener and returns its handle and channel.
// The channel closes on Unsubscribe.
func (b *BroadcastService) Subscribe() (int64, <-chan models.RoomChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan models.RoomChangeEvent, b.bufSize)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel
func (b *BroadcastService) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// SubscriberCount reports how many listeners are connected
func (b *BroadcastService) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers an event to every subscriber without blocking
func (b *BroadcastService) Publish(event models.RoomChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"room_id":    event.RoomID,
			}).Warn("Subscriber buffer full, event dropped")
		}
	}
}
