package bus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/pigeon9001/pigeon/internal/wire"
)

// subscriberBuffer is how many frames a slow in-process subscriber may fall
// behind before frames are dropped for it.
const subscriberBuffer = 64

// Hub fans frames out to in-process subscribers. It implements Forwarder, so
// the aggregator can feed it alongside the downstream bus publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan []byte
	closing     bool

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan []byte)}
}

// Subscribe creates a channel receiving every subsequent frame. The ID
// identifies the channel when unsubscribing. After Close the returned
// channel is already closed.
func (h *Hub) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the subscriber's channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// TryPublish hands a copy of frame to every subscriber that has room.
func (h *Hub) TryPublish(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return
	}
	for _, ch := range h.subscribers {
		cp := append([]byte(nil), frame...)
		select {
		case ch <- cp:
			h.forwarded.Add(1)
		default:
			// full subscriber: skip so as not to block the caller
			h.dropped.Add(1)
		}
	}
}

// Stats returns the number of frames delivered to and dropped for
// subscribers since the hub was created.
func (h *Hub) Stats() (forwarded, dropped uint64) {
	return h.forwarded.Load(), h.dropped.Load()
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Later frames are ignored.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	return nil
}

// AttachAdminRoutes mounts the hub's debug endpoints under /debug/. They are
// reachable only over localhost or Tailscale.
func (h *Hub) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Bus tail subscribers", func() any { return h.Len() })
	debug.KVFunc("Bus frames to tail (sent/dropped)", func() any {
		sent, dropped := h.Stats()
		return fmt.Sprintf("%d/%d", sent, dropped)
	})

	// Server-Sent Events stream of decoded frames as they leave the aggregator.
	debug.HandleFunc("tail", "live tail of bus frames", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := h.Subscribe()
		defer h.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case frame, ok := <-c:
				if !ok {
					return
				}
				if _, err := w.Write(tailEvent(frame)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

func tailEvent(frame []byte) []byte {
	m, err := wire.Decode(frame)
	if err != nil {
		return []byte(fmt.Sprintf("event: invalid\ndata: %x\n\n", frame))
	}
	data, err := json.Marshal(m)
	if err != nil {
		return []byte(fmt.Sprintf("event: invalid\ndata: %x\n\n", frame))
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data))
}
