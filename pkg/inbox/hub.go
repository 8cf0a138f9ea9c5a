package inbox

import (
	"context"
	"sync"
)

// Subscription receives items published to one recipient.
type Subscription struct {
	recipientID string
	ch          chan Item
	mu          sync.RWMutex
	closed      bool
}

// Items returns the receive channel. It is closed when the subscription ends.
func (s *Subscription) Items() <-chan Item {
	return s.ch
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// send never blocks; a full buffer drops the subscriber.
func (s *Subscription) send(item Item) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- item:
		return true
	default:
		return false
	}
}

// Hub fans items out to live subscribers per recipient.
// Slow consumers are dropped instead of blocking publishers.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
	closed     bool
	done       chan struct{}
	cleanupWg  sync.WaitGroup
}

// NewHub creates a hub whose subscriptions buffer bufferSize items (minimum 1).
func NewHub(bufferSize int) *Hub {
	return &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: max(bufferSize, 1),
		done:       make(chan struct{}),
	}
}

// Subscribe registers a subscription that ends when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, recipientID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{recipientID: recipientID, ch: make(chan Item, h.bufferSize)}
	if h.subs[recipientID] == nil {
		h.subs[recipientID] = make(map[*Subscription]struct{})
	}
	h.subs[recipientID][sub] = struct{}{}

	h.cleanupWg.Add(1)
	go func() {
		defer h.cleanupWg.Done()
		select {
		case <-ctx.Done():
			h.unsubscribe(sub)
		case <-h.done:
		}
	}()

	return sub, nil
}

// Publish delivers item to the recipient's current subscribers and returns
// how many received it.
func (h *Hub) Publish(item Item) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0
	}

	delivered := 0
	for sub := range h.subs[item.RecipientID] {
		if sub.send(item.clone()) {
			delivered++
			continue
		}
		go h.unsubscribe(sub)
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for a recipient.
func (h *Hub) Subscribers(recipientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[recipientID])
}

// Close ends every subscription. Subscribe fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	for _, set := range h.subs {
		for sub := range set {
			sub.close()
		}
	}
	clear(h.subs)
	h.mu.Unlock()

	h.cleanupWg.Wait()
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.subs[sub.recipientID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.recipientID)
		}
	}
	sub.close()
}
