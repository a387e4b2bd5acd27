package sse

import (
	"net/http"
	"sync"
)

// Message is one server-sent event.
type Message struct {
	Event string
	Data  []byte
}

// Broker fans out events to connected stream clients. Slow clients drop
// messages rather than block the publisher.
type Broker struct {
	mu      sync.Mutex
	clients map[chan Message]struct{}
	buffer  int
}

// NewBroker constructs a broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan Message]struct{}), buffer: 16}
}

// Subscribe registers a new client channel.
func (b *Broker) Subscribe() chan Message {
	if b == nil {
		return nil
	}
	ch := make(chan Message, b.buffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *Broker) Unsubscribe(ch chan Message) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends one event to every client.
func (b *Broker) Broadcast(event string, data []byte) {
	if b == nil {
		return
	}
	b.mu.Lock()
	clients := make([]chan Message, 0, len(b.clients))
	for ch := range b.clients {
		clients = append(clients, ch)
	}
	b.mu.Unlock()
	msg := Message{Event: event, Data: data}
	for _, ch := range clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Handler serves a broker as an event stream.
type Handler struct {
	broker *Broker
}

// NewHandler constructs a stream handler.
func NewHandler(broker *Broker) *Handler {
	return &Handler{broker: broker}
}

// ServeHTTP streams events until the client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg.Data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-done:
			return
		}
	}
}
