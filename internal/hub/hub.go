// Package hub fans advertisement events out to every established session.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/message"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Subscriber is the hub's view of a session.
type Subscriber interface {
	ID() string
	// EnqueueEncoded queues pre-encoded frame bytes without blocking.
	EnqueueEncoded(raw []byte) error
	// Close asks the subscriber to shut down. It may call Unregister.
	Close(reason error)
}

// ErrSubscriberPanicked is reported to a subscriber whose enqueue panicked.
var ErrSubscriberPanicked = errors.New("subscriber panicked during enqueue")

// Stats is a snapshot of hub counters.
type Stats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Evicted     uint64
	Rejected    uint64
}

// Hub holds the set of sessions that receive advertisements.
//
// One mutex guards both registry changes and the iteration inside Publish, so a session
// registered or unregistered concurrently with a publish either gets the whole event or none of it.
type Hub struct {
	mu     sync.Mutex
	subs   *orderedmap.OrderedMap[string, Subscriber]
	logger *logrus.Logger

	published atomic.Uint64
	delivered atomic.Uint64
	evicted   atomic.Uint64
	rejected  atomic.Uint64
}

// New creates an empty hub.
func New(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		subs:   orderedmap.New[string, Subscriber](),
		logger: logger,
	}
}

// Register adds s. Registering the same session twice is a no-op.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs.Get(s.ID()); ok {
		return
	}
	h.subs.Set(s.ID(), s)
	h.logger.WithFields(logrus.Fields{
		"session":     s.ID(),
		"subscribers": h.subs.Len(),
	}).Debug("Session registered with relay hub")
}

// Unregister removes s. Unknown sessions are ignored.
func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs.Delete(s.ID()); ok {
		h.logger.WithFields(logrus.Fields{
			"session":     s.ID(),
			"subscribers": h.subs.Len(),
		}).Debug("Session unregistered from relay hub")
	}
}

// Registered reports whether a session with the given ID is currently registered.
func (h *Hub) Registered(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.subs.Get(id)
	return ok
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs.Len()
}

// Publish delivers ev to every registered session. It never blocks on a session and never fails:
// an event that cannot be encoded is dropped, and a session that cannot accept it is evicted.
func (h *Hub) Publish(ev message.Advertisement) {
	raw, err := ev.Encode()
	if err != nil {
		h.rejected.Add(1)
		h.logger.WithError(err).WithField("address", ev.Address.String()).
			Warn("Dropping advertisement that cannot be encoded")
		return
	}
	h.Broadcast(raw)
}

// Broadcast fans pre-encoded frame bytes out to every registered session.
func (h *Hub) Broadcast(raw []byte) {
	type eviction struct {
		sub Subscriber
		err error
	}
	var evicted []eviction

	h.mu.Lock()
	h.published.Add(1)
	for pair := h.subs.Oldest(); pair != nil; {
		next := pair.Next()
		if err := safeEnqueue(pair.Value, raw); err != nil {
			h.subs.Delete(pair.Key)
			evicted = append(evicted, eviction{sub: pair.Value, err: err})
		} else {
			h.delivered.Add(1)
		}
		pair = next
	}
	h.mu.Unlock()

	// Close outside the lock: a session's shutdown path calls Unregister.
	for _, e := range evicted {
		h.evicted.Add(1)
		h.logger.WithError(e.err).WithField("session", e.sub.ID()).
			Warn("Evicting session that cannot keep up with the relay")
		e.sub.Close(fmt.Errorf("relay delivery failed: %w", e.err))
	}
}

func safeEnqueue(s Subscriber, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSubscriberPanicked, r)
		}
	}()
	return s.EnqueueEncoded(raw)
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Len(),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Evicted:     h.evicted.Load(),
		Rejected:    h.rejected.Load(),
	}
}
