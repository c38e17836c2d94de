// Package notify provides an in-process bus for collection catalog
// changes, so that caches keyed by collection can be invalidated.
package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of catalog event.
type EventType int

const (
	CollectionCreated EventType = iota
	CollectionDropped
	CatalogRefreshed
)

func (t EventType) String() string {
	switch t {
	case CollectionCreated:
		return "created"
	case CollectionDropped:
		return "dropped"
	case CatalogRefreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}

// Event describes one catalog change. Collection is empty for
// CatalogRefreshed.
type Event struct {
	Type       EventType
	Collection string
	Timestamp  int64
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType, collection string) Event {
	return Event{Type: t, Collection: collection, Timestamp: time.Now().UnixNano()}
}

// Notifier is a non-blocking pub/sub bus.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{
		bufferSize: bufferSize,
	}
}

// Publish sends an event to all matching subscribers.
// If a subscriber's channel is full, the event is dropped for it.
func (n *Notifier) Publish(ev Event) {
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(ev) {
			select {
			case sub.Ch <- ev:
			default:
			}
		}
		return true
	})
}

// Subscribe adds a subscriber. Filters are collection name prefixes;
// CatalogRefreshed events reach every subscriber.
func (n *Notifier) Subscribe(filters ...string) *Subscriber {
	sub := &Subscriber{
		ID:      "sub_" + uuid.New().String(),
		Filters: filters,
		Ch:      make(chan Event, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		sub := value.(*Subscriber)
		close(sub.Ch)
	}
}

// Subscriber represents a notification subscriber.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Event
}

func (s *Subscriber) matches(ev Event) bool {
	if len(s.Filters) == 0 || ev.Type == CatalogRefreshed {
		return true
	}
	for _, filter := range s.Filters {
		if filter == "" || strings.HasPrefix(ev.Collection, filter) {
			return true
		}
	}
	return false
}
