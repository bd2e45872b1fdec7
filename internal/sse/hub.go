package sse

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.io/infrasutra/quickml/internal/list"
)

// All subscribes to the events of every list.
const All = "*"

// Hub fans list events out to the status API's event streams.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

// subscriberBuffer is how many payloads a subscriber may fall behind before
// it starts missing them.
const subscriberBuffer = 8

// Subscribe registers for the events of the list name, or of every list
// when name is All. Payloads are complete server-sent event frames ready to
// write. The hub never blocks on a subscriber: one that falls more than
// subscriberBuffer payloads behind misses the rest until it catches up.
// The returned func unsubscribes and closes the channel. It must be called
// once the caller stops reading, and calling it again is harmless.
func (h *Hub) Subscribe(name string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	if _, ok := h.subs[name]; !ok {
		h.subs[name] = make(map[chan []byte]struct{})
	}
	h.subs[name][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[name]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, name)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast sends payload to the subscribers of names. Slow subscribers
// miss the payload.
func (h *Hub) Broadcast(names []string, payload []byte) {
	if len(names) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, name := range names {
		if name == "" {
			continue
		}
		unique[name] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for name := range unique {
		for ch := range h.subs[name] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Publish encodes ev as a server-sent event for the subscribers of its list
// and of All.
func (h *Hub) Publish(ev list.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.Broadcast([]string{ev.List, All}, fmt.Appendf(nil, "event: %s\ndata: %s\n\n", ev.Type, data))
}
