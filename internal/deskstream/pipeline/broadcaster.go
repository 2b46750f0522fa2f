package pipeline

import (
	"sync"

	"github.com/babelcloud/deskstream/internal/util"
)

// Broadcaster fans out byte payloads (PCM chunks, encoded frames) to many
// subscribers. A slow subscriber never blocks the producer: when its buffer
// is full the oldest queued payload is discarded.
type Broadcaster struct {
	mu          sync.RWMutex
	name        string
	subscribers map[string]*subscriber
	last        []byte
	keepLast    bool
	closed      bool
}

type subscriber struct {
	ch      chan []byte
	dropped uint64
}

// NewBroadcaster creates a broadcaster. When keepLast is set, the most
// recent payload is replayed to each new subscriber.
func NewBroadcaster(name string, keepLast bool) *Broadcaster {
	return &Broadcaster{
		name:        name,
		subscribers: make(map[string]*subscriber),
		keepLast:    keepLast,
	}
}

// Subscribe registers id and returns its receive channel. Subscribing an
// existing id replaces the previous subscription.
func (b *Broadcaster) Subscribe(id string, bufferSize int) <-chan []byte {
	if bufferSize < 1 {
		bufferSize = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan []byte)
		close(ch)
		return ch
	}

	if old, ok := b.subscribers[id]; ok {
		close(old.ch)
	}
	sub := &subscriber{ch: make(chan []byte, bufferSize)}
	b.subscribers[id] = sub

	if b.keepLast && b.last != nil {
		sub.ch <- b.last
	}

	util.GetLogger().Debug("Subscriber added", "broadcaster", b.name, "id", id, "total", len(b.subscribers))
	return sub.ch
}

// Unsubscribe removes id and closes its channel.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		b.removeLocked(id, sub)
	}
}

// Release is Unsubscribe for the holder of ch: it does nothing when id has
// since been subscribed again, so a replaced subscriber cannot close its
// replacement.
func (b *Broadcaster) Release(id string, ch <-chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok && (<-chan []byte)(sub.ch) == ch {
		b.removeLocked(id, sub)
	}
}

func (b *Broadcaster) removeLocked(id string, sub *subscriber) {
	close(sub.ch)
	delete(b.subscribers, id)
	if sub.dropped > 0 {
		util.GetLogger().Debug("Subscriber removed", "broadcaster", b.name, "id", id, "dropped", sub.dropped)
	}
}

// Broadcast delivers data to every subscriber. data must not be modified afterwards.
func (b *Broadcaster) Broadcast(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.keepLast {
		b.last = data
	}
	for _, sub := range b.subscribers {
		sub.offer(data)
	}
}

func (s *subscriber) offer(data []byte) {
	for {
		select {
		case s.ch <- data:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[string]*subscriber)
	util.GetLogger().Debug("Broadcaster closed", "broadcaster", b.name)
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
