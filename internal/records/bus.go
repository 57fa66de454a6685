package records

import (
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

type Topic string

const (
	TopicSearchHistoryUpdated Topic = "searchHistoryUpdated"
	TopicPlayRecordsUpdated   Topic = "playRecordsUpdated"
	TopicFavoritesUpdated     Topic = "favoritesUpdated"
)

type Event struct {
	Topic   Topic `json:"type"`
	Payload any   `json:"payload"`
}

// Bus delivers data-update events to in-process subscribers. Handlers run
// synchronously on the publishing goroutine and must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic]map[uint64]func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[uint64]func(Event))}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]func(Event))
	}
	b.subs[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	event := Event{Topic: topic, Payload: payload}
	for _, fn := range handlers {
		var catcher panics.Catcher
		catcher.Try(func() { fn(event) })
		if recovered := catcher.Recovered(); recovered != nil {
			slog.Error("bus subscriber panicked",
				slog.String("topic", string(topic)),
				slog.String("error", recovered.AsError().Error()),
			)
		}
	}
}
