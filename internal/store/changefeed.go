package store

import (
	"context"
	"sync"
)

// Collection names a stream of change events.
type Collection string

const (
	CollectionAppointments    Collection = "appointments"
	CollectionDoctors         Collection = "doctors"
	CollectionPatients        Collection = "patients"
	CollectionSpecializations Collection = "specializations"
	CollectionReports         Collection = "reports"
)

// Operation is the kind of mutation a change event describes.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeEvent describes one committed mutation. FullDocument carries the
// reference fields invalidation needs (patient_id, doctor_id, date) and may be empty.
type ChangeEvent struct {
	Collection   Collection        `json:"collection"`
	Operation    Operation         `json:"operationType"`
	DocumentKey  string            `json:"documentKey"`
	FullDocument map[string]string `json:"fullDocument,omitempty"`
}

// ChangeFeed delivers change events per collection. The returned channel is
// closed when ctx is done or the feed shuts down. Events for one collection
// arrive in commit order.
type ChangeFeed interface {
	Subscribe(ctx context.Context, collection Collection) (<-chan ChangeEvent, error)
}

const subscriberBuffer = 64

// broker fans published events out to in-process subscribers.
type broker struct {
	mu      sync.Mutex
	subs    map[Collection]map[*subscriber]struct{}
	dropped int
	closed  bool
}

type subscriber struct {
	ch   chan ChangeEvent
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

func newBroker() *broker {
	return &broker{subs: make(map[Collection]map[*subscriber]struct{})}
}

func (b *broker) subscribe(ctx context.Context, collection Collection) <-chan ChangeEvent {
	sub := &subscriber{ch: make(chan ChangeEvent, subscriberBuffer)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch
	}
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[*subscriber]struct{})
	}
	b.subs[collection][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[collection], sub)
		b.mu.Unlock()
		sub.close()
	}()
	return sub.ch
}

// publish never blocks; a full subscriber buffer drops the event.
func (b *broker) publish(evt ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[evt.Collection] {
		select {
		case sub.ch <- evt:
		default:
			b.dropped++
		}
	}
}

func (b *broker) droppedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.close()
		}
	}
	b.subs = make(map[Collection]map[*subscriber]struct{})
}
