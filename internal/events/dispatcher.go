package events

import (
	"context"
	"sync"
	"time"
)

// Kind names a state change observers can subscribe to.
type Kind string

const (
	KindAuthChanged      Kind = "auth-changed"
	KindEntryChanged     Kind = "entry-changed"
	KindSyncStarted      Kind = "sync-started"
	KindSyncCompleted    Kind = "sync-completed"
	KindRestoreCompleted Kind = "restore-completed"
)

// Event is one published state change.
type Event struct {
	Kind      Kind
	LocalIDs  []string
	Attrs     map[string]string
	Timestamp time.Time
}

// Dispatcher fans events out to in-process subscribers. Slow subscribers drop events
// rather than block publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	kinds  map[Kind]struct{}
	stream chan Event
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for the given kinds, or for every kind when none are
// given. The subscription ends when ctx is done or the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, kinds ...Kind) (<-chan Event, func()) {
	sub := &subscriber{
		kinds:  make(map[Kind]struct{}, len(kinds)),
		stream: make(chan Event, d.bufferSize),
	}
	for _, kind := range kinds {
		sub.kinds[kind] = struct{}{}
	}
	d.register(sub)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(sub.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event without blocking.
func (d *Dispatcher) Publish(event Event) {
	if d == nil || event.Kind == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	copies := make([]*subscriber, 0, len(d.subscribers))
	for _, sub := range d.subscribers {
		if sub.accepts(event.Kind) {
			copies = append(copies, sub)
		}
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (d *Dispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (s *subscriber) accepts(kind Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (d *Dispatcher) register(sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	sub.id = d.nextID
	d.subscribers[sub.id] = sub
}

func (d *Dispatcher) unregister(id int64) {
	d.mu.Lock()
	delete(d.subscribers, id)
	d.mu.Unlock()
}
