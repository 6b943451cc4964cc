// Package realtime is the change feed: subscribe(table, filter) returns a
// stream of row change events. The feed is advisory. Clients that miss an
// event reconcile by refetching.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event describes one row change
type Event struct {
	ID       string      `json:"id"`
	Table    string      `json:"table"`
	Type     EventType   `json:"type"`
	StreamID string      `json:"stream_id"`
	Record   interface{} `json:"record,omitempty"`
	At       time.Time   `json:"at"`
	// Origin is the hub that first published the event
	Origin string `json:"origin,omitempty"`
}

// Publisher is what services depend on to emit changes
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Sink forwards events off-process. The Kafka producer implements it.
type Sink interface {
	Publish(ctx context.Context, key string, value interface{}) error
	Close() error
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	StreamID string
}

const defaultBuffer = 64

// Hub fans events out to in-process subscribers and to optional sinks.
// A subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	sinks       []Sink
	sinkTimeout time.Duration
	wg          sync.WaitGroup

	origin string
	logger *slog.Logger
	now    func() time.Time
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSink adds an off-process destination for published events
func WithSink(s Sink) HubOption {
	return func(h *Hub) {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
}

func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:        make(map[uint64]*Subscription),
		sinkTimeout: 5 * time.Second,
		origin:      uuid.NewString(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Origin identifies this hub on shared topics
func (h *Hub) Origin() string {
	return h.origin
}

// Subscription is a live registration on the hub
type Subscription struct {
	id     uint64
	table  string
	filter Filter
	ch     chan Event
	hub    *Hub
	once   sync.Once
}

// C delivers matching events. It is closed by Close or when the hub closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close unregisters the subscription
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (s *Subscription) matches(ev Event) bool {
	if s.table != "" && s.table != "*" && s.table != ev.Table {
		return false
	}
	if s.filter.StreamID != "" && s.filter.StreamID != ev.StreamID {
		return false
	}
	return true
}

// Subscribe registers interest in changes to table ("" or "*" for all).
func (h *Hub) Subscribe(table string, filter Filter) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:     h.nextID,
		table:  table,
		filter: filter,
		ch:     make(chan Event, defaultBuffer),
		hub:    h,
	}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Publish stamps ev, delivers it locally and hands it to every sink in the
// background. It never blocks on a slow subscriber or sink.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = h.now().UTC()
	}
	if ev.Origin == "" {
		ev.Origin = h.origin
	}
	h.deliver(ev)

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	h.wg.Add(len(h.sinks))
	h.mu.RUnlock()
	for _, sink := range h.sinks {
		go func(sink Sink) {
			defer h.wg.Done()
			// detached from the request: the response may be written before the sink finishes
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.sinkTimeout)
			defer cancel()
			if err := sink.Publish(sctx, ev.StreamID, ev); err != nil {
				h.logger.Warn("change event sink failed", "event_id", ev.ID, "table", ev.Table, "error", err)
			}
		}(sink)
	}
}

// deliver fans ev out to local subscribers only
func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.logger.Debug("dropping change event for slow subscriber", "event_id", ev.ID, "subscription", sub.id)
		}
	}
}

// Close waits for in-flight sink writes, closes sinks and ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
	h.mu.Unlock()

	h.wg.Wait()
	var firstErr error
	for _, sink := range h.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard is a Publisher that drops everything
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}
