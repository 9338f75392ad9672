// Package bus is a keyed publish/subscribe hub. Publishing does not deliver
// anything itself: it returns the list of deliveries for the caller to apply,
// so the owner decides when and on which goroutine messages are handled.
package bus

import "sync"

// Mode selects the recipients of a publication.
type Mode int

const (
	// Channel delivers to every subscriber of the key.
	Channel Mode = iota
	// Broadcast delivers to every subscriber except the publisher.
	Broadcast
	// Direct delivers only to the named recipient, if subscribed.
	Direct
)

func (m Mode) String() string {
	switch m {
	case Channel:
		return "channel"
	case Broadcast:
		return "broadcast"
	case Direct:
		return "direct"
	default:
		return "unknown"
	}
}

// Delivery is one message addressed to one subscriber.
type Delivery[S comparable, M any] struct {
	To  S
	Msg M
}

// Hub maps keys to ordered subscriber lists.
type Hub[K comparable, S comparable, M any] struct {
	mu       sync.RWMutex
	channels map[K][]S
}

// New returns an empty hub.
func New[K comparable, S comparable, M any]() *Hub[K, S, M] {
	return &Hub[K, S, M]{channels: make(map[K][]S)}
}

// Subscribe adds sub to key. Subscribing twice is a no-op.
func (h *Hub[K, S, M]) Subscribe(key K, sub S) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.channels[key] {
		if s == sub {
			return
		}
	}
	h.channels[key] = append(h.channels[key], sub)
}

// Unsubscribe removes sub from key. The channel is dropped with its last
// subscriber.
func (h *Hub[K, S, M]) Unsubscribe(key K, sub S) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.channels[key]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(h.channels, key)
		return
	}
	h.channels[key] = subs
}

// Publish resolves the recipients of msg on key. from is ignored for Channel;
// to is only used by Direct.
func (h *Hub[K, S, M]) Publish(key K, mode Mode, from, to S, msg M) []Delivery[S, M] {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.channels[key]
	out := make([]Delivery[S, M], 0, len(subs))
	for _, s := range subs {
		switch mode {
		case Broadcast:
			if s == from {
				continue
			}
		case Direct:
			if s != to {
				continue
			}
		}
		out = append(out, Delivery[S, M]{To: s, Msg: msg})
	}
	return out
}

// Subscribers returns a copy of the subscribers of key.
func (h *Hub[K, S, M]) Subscribers(key K) []S {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]S(nil), h.channels[key]...)
}

// Channels returns the number of keys with at least one subscriber.
func (h *Hub[K, S, M]) Channels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}
