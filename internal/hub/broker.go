package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/tonimelisma/cardsync/internal/model"
)

// subscriberBuffer is how many undelivered events a feed subscriber may
// queue before it is dropped as too slow.
const subscriberBuffer = 256

type subscriber struct {
	events chan []byte
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.events) })
}

// broker fans change events out to the websocket subscribers of a
// workspace collection.
type broker struct {
	mu     sync.Mutex
	subs   map[bucketKey]map[*subscriber]struct{}
	logger *slog.Logger
}

func newBroker(logger *slog.Logger) *broker {
	return &broker{
		subs:   make(map[bucketKey]map[*subscriber]struct{}),
		logger: logger,
	}
}

func (b *broker) subscribe(workspace string, c model.Collection) (*subscriber, func()) {
	sub := &subscriber{events: make(chan []byte, subscriberBuffer)}
	key := bucketKey{workspace, c}

	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[*subscriber]struct{})
	}
	b.subs[key][sub] = struct{}{}
	b.mu.Unlock()

	return sub, func() {
		b.mu.Lock()
		delete(b.subs[key], sub)
		b.mu.Unlock()
		sub.close()
	}
}

func (b *broker) publish(ev model.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("encoding change event", slog.String("error", err.Error()))
		return
	}

	key := bucketKey{ev.Workspace, ev.Collection}

	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[key] {
		select {
		case sub.events <- data:
		default:
			b.logger.Warn("dropping slow change feed subscriber",
				slog.String("workspace", ev.Workspace),
				slog.String("collection", ev.Collection.String()),
			)
			delete(b.subs[key], sub)
			sub.close()
		}
	}
}

// count returns the number of live subscribers of a workspace collection.
func (b *broker) count(workspace string, c model.Collection) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.subs[bucketKey{workspace, c}])
}
