package store

import (
	"sync"

	"github.com/tonimelisma/cardsync/internal/model"
)

// Change tells a subscriber that a collection was modified by a committed
// write. It carries no payload: subscribers re-read what they display.
type Change struct {
	Collection model.Collection
}

// subscription coalesces notifications: publish only flips a pending bit and
// pokes wake; a per-subscription goroutine forwards pending collections to
// the consumer so publishers never block on a slow reader.
type subscription struct {
	filter map[model.Collection]bool
	out    chan Change
	wake   chan struct{}
	done   chan struct{}
	stop   sync.Once

	mu      sync.Mutex
	pending map[model.Collection]bool
	order   []model.Collection
}

type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]*subscription)}
}

func (n *notifier) subscribe(collections []model.Collection) (<-chan Change, func()) {
	sub := &subscription{
		filter:  make(map[model.Collection]bool, len(collections)),
		out:     make(chan Change),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[model.Collection]bool),
	}

	for _, c := range collections {
		sub.filter[c] = true
	}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = sub
	n.mu.Unlock()

	go sub.forward()

	cancel := func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		sub.close()
	}

	return sub.out, cancel
}

func (n *notifier) publish(c model.Collection) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subs {
		if sub.filter[c] {
			sub.mark(c)
		}
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[int]*subscription)
	n.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (s *subscription) close() {
	s.stop.Do(func() { close(s.done) })
}

func (s *subscription) mark(c model.Collection) {
	s.mu.Lock()
	if !s.pending[c] {
		s.pending[c] = true
		s.order = append(s.order, c)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) next() (model.Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return "", false
	}

	c := s.order[0]
	s.order = s.order[1:]
	delete(s.pending, c)

	return c, true
}

func (s *subscription) forward() {
	defer close(s.out)

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			c, ok := s.next()
			if !ok {
				break
			}

			select {
			case s.out <- Change{Collection: c}:
			case <-s.done:
				return
			}
		}
	}
}
