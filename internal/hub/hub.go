// Package hub implements the gateway's stream hub: a topic registry with
// reference-counted upstream subscriptions, bounded per-subscriber queues,
// and fan-out publish. The hub never retains strong references to client
// sessions, only to the lightweight subscriber sinks created by
// RegisterSubscriber — publication is a unidirectional, cycle-free edge
// from adapters (through Publisher handles) to subscriber queues.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/odinmarkets/gateway/internal/apperror"
	"github.com/odinmarkets/gateway/internal/cache"
	"github.com/odinmarkets/gateway/internal/metrics"
	"github.com/odinmarkets/gateway/internal/model"
)

// SubID identifies a registered subscriber.
type SubID string

// CloseReason explains why a subscriber's sink was closed.
type CloseReason string

const (
	CloseSlowConsumer      CloseReason = "SlowConsumer"
	CloseShutdownRequested CloseReason = "ShutdownRequested"
	CloseClientRequested   CloseReason = "ClientClosed"
	CloseWriteTimeout      CloseReason = "WriteTimeout"
	CloseIdle              CloseReason = "Idle"
)

// Attacher is the narrow interface the hub calls into an adapter through.
// Adapters implement it without this package importing the adapter
// package, which is how the hub<->adapter reference cycle is broken.
type Attacher interface {
	Attach(key model.ChannelKey) error
	Detach(key model.ChannelKey)
}

type topicState int

const (
	topicCreating topicState = iota
	topicLive
	topicDraining
	topicDying
)

type topic struct {
	key   model.ChannelKey
	state topicState

	mu          sync.Mutex
	subscribers map[SubID]*Subscriber
	graceTimer  *time.Timer
}

// addSubscriberAndReplay registers s as a subscriber and runs replay while
// still holding t.mu, so Publish's own t.mu-guarded snapshot can never land
// between the subscriber becoming visible and its cache replay running.
func (t *topic) addSubscriberAndReplay(s *Subscriber, replay func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers[s.id] = s
	replay()
}

func (t *topic) removeSubscriber(id SubID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subscribers, id)
	return len(t.subscribers)
}

func (t *topic) subscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// snapshotSubscribers returns the current subscriber set without holding
// the lock beyond the copy, so Publish never enqueues under lock.
func (t *topic) snapshotSubscribers() []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		out = append(out, s)
	}
	return out
}

// Hub is the central pub/sub registry described by §4.5.
type Hub struct {
	registryMu sync.Mutex
	topics     map[model.ChannelKey]*topic
	adapters   map[string]Attacher

	subsMu      sync.RWMutex
	subscribers map[SubID]*Subscriber

	cache         *cache.Cache
	metrics       *metrics.Registry
	logger        *zap.Logger
	grace         time.Duration
	queueCapacity int
}

// New constructs an empty hub. grace is the topic destruction grace period
// (default 5s); queueCapacity is the default bounded queue size for newly
// registered subscribers (default 1024 frames).
func New(c *cache.Cache, reg *metrics.Registry, logger *zap.Logger, grace time.Duration, queueCapacity int) *Hub {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	return &Hub{
		topics:        make(map[model.ChannelKey]*topic),
		adapters:      make(map[string]Attacher),
		subscribers:   make(map[SubID]*Subscriber),
		cache:         c,
		metrics:       reg,
		logger:        logger,
		grace:         grace,
		queueCapacity: queueCapacity,
	}
}

// RegisterAdapter binds a venue id to the Attacher the hub invokes on first
// attach / last detach for any topic on that venue.
func (h *Hub) RegisterAdapter(venue string, a Attacher) {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()
	h.adapters[venue] = a
}

// Publisher is the narrow handle adapters hold to push canonical events
// into the hub without retaining a reference to the hub itself.
type Publisher struct{ h *Hub }

// Publisher returns a handle an adapter can use to publish events.
func (h *Hub) Publisher() Publisher { return Publisher{h: h} }

func (p Publisher) Publish(key model.ChannelKey, ev model.Event) { p.h.Publish(key, ev) }

// RegisterSubscriber creates a bounded-queue subscriber and returns its id.
func (h *Hub) RegisterSubscriber() SubID {
	id := SubID(uuid.NewString())
	sub := newSubscriber(id, h.queueCapacity)
	h.subsMu.Lock()
	h.subscribers[id] = sub
	h.subsMu.Unlock()
	if h.metrics != nil {
		h.metrics.SubscribersActive.Inc()
	}
	return id
}

func (h *Hub) subscriber(id SubID) (*Subscriber, bool) {
	h.subsMu.RLock()
	defer h.subsMu.RUnlock()
	s, ok := h.subscribers[id]
	return s, ok
}

// Dequeue returns the next queued frame for a subscriber, if any, and
// whether the subscriber is still open.
func (h *Hub) Dequeue(id SubID) (model.Event, bool, bool) {
	sub, ok := h.subscriber(id)
	if !ok {
		return nil, false, false
	}
	ev, has := sub.pull()
	return ev, has, !sub.isClosed()
}

// WaitC returns the channel a session's write loop selects on to learn a
// new frame is queued or the subscriber has been closed.
func (h *Hub) WaitC(id SubID) <-chan struct{} {
	sub, ok := h.subscriber(id)
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return sub.notifyC
}

// CloseInfo returns whether the subscriber is closed and why.
func (h *Hub) CloseInfo(id SubID) (closed bool, reason CloseReason, dropped int64) {
	sub, ok := h.subscriber(id)
	if !ok {
		return true, CloseClientRequested, 0
	}
	return sub.isClosed(), sub.closeReason(), sub.dropped()
}

// Attach registers subscriber id's interest in key. The first attacher for
// a key causes topic creation and an adapter Attach call; the cache is
// consulted synchronously and any current value is enqueued before this
// call returns, guaranteeing cache replay precedes live delivery.
func (h *Hub) Attach(id SubID, key model.ChannelKey) error {
	sub, ok := h.subscriber(id)
	if !ok {
		return apperror.New(apperror.CodeNotFound, "unknown subscriber")
	}

	t, firstAttach, err := h.attachTopic(key)
	if err != nil {
		return err
	}

	if firstAttach {
		if a, ok := h.adapterFor(key.Venue); ok {
			if err := a.Attach(key); err != nil {
				h.abandonTopic(key)
				return apperror.Wrap(err, apperror.CodePermanentVenue, "adapter attach failed")
			}
		}
		h.setTopicLive(key)
	}

	sub.addTopic(key)
	t.addSubscriberAndReplay(sub, func() { h.replay(key, sub) })
	return nil
}

// abandonTopic removes a just-created, still-subscriberless topic after its
// adapter attach failed, so a rejected first attach doesn't leak an empty
// topic entry.
func (h *Hub) abandonTopic(key model.ChannelKey) {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()
	if t, ok := h.topics[key]; ok && t.subscriberCount() == 0 {
		delete(h.topics, key)
		if h.metrics != nil {
			h.metrics.TopicsActive.Dec()
		}
	}
}

func (h *Hub) adapterFor(venue string) (Attacher, bool) {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()
	a, ok := h.adapters[venue]
	return a, ok
}

func (h *Hub) attachTopic(key model.ChannelKey) (*topic, bool, error) {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()

	t, exists := h.topics[key]
	if !exists {
		t = &topic{key: key, state: topicCreating, subscribers: make(map[SubID]*Subscriber)}
		h.topics[key] = t
		if h.metrics != nil {
			h.metrics.TopicsActive.Inc()
		}
		return t, true, nil
	}
	if t.state == topicDraining {
		if t.graceTimer != nil {
			t.graceTimer.Stop()
			t.graceTimer = nil
		}
		t.state = topicLive
	}
	return t, false, nil
}

func (h *Hub) setTopicLive(key model.ChannelKey) {
	h.registryMu.Lock()
	defer h.registryMu.Unlock()
	if t, ok := h.topics[key]; ok && t.state == topicCreating {
		t.state = topicLive
	}
}

// replay enqueues cached state for key to sub before any live frame. Called
// from addSubscriberAndReplay while the topic's lock is held, so Publish
// cannot deliver a live frame to sub ahead of the replay.
func (h *Hub) replay(key model.ChannelKey, sub *Subscriber) {
	if !key.Kind.IsBook() {
		if last, ok := h.cache.GetLast(key); ok {
			sub.enqueue(key, last)
		}
		return
	}
	snap, tail, ok := h.cache.Snapshot(key)
	if !ok {
		return
	}
	if snap != nil {
		sub.enqueue(key, snap)
	}
	for _, d := range tail {
		sub.enqueue(key, d)
	}
}

// Detach removes subscriber id's interest in key. The last detacher
// schedules topic destruction after the grace period.
func (h *Hub) Detach(id SubID, key model.ChannelKey) {
	sub, ok := h.subscriber(id)
	if !ok {
		return
	}
	h.detachTopic(key, sub)
}

func (h *Hub) detachTopic(key model.ChannelKey, sub *Subscriber) {
	sub.removeTopic(key)

	h.registryMu.Lock()
	t, ok := h.topics[key]
	h.registryMu.Unlock()
	if !ok {
		return
	}

	remaining := t.removeSubscriber(sub.id)
	if remaining == 0 && t.state != topicDying {
		t.state = topicDraining
		t.graceTimer = time.AfterFunc(h.grace, func() { h.finishDraining(key) })
	}
}

func (h *Hub) finishDraining(key model.ChannelKey) {
	h.registryMu.Lock()
	t, ok := h.topics[key]
	h.registryMu.Unlock()
	if !ok || t.state != topicDraining || t.subscriberCount() > 0 {
		return
	}
	t.state = topicDying

	if a, ok := h.adapterFor(key.Venue); ok {
		a.Detach(key)
	}
	h.cache.Evict(key)

	h.registryMu.Lock()
	delete(h.topics, key)
	h.registryMu.Unlock()
	if h.metrics != nil {
		h.metrics.TopicsActive.Dec()
	}
}

// Publish fans an event out to every current subscriber of key. The
// subscriber set is snapshotted under the topic's own lock, then enqueues
// happen without holding any lock, matching the no-locks-across-awaits
// policy: the registry lock is never held while enqueuing to subscribers.
func (h *Hub) Publish(key model.ChannelKey, ev model.Event) {
	h.registryMu.Lock()
	t, ok := h.topics[key]
	h.registryMu.Unlock()
	if !ok {
		return
	}
	subs := t.snapshotSubscribers()

	for _, s := range subs {
		overflowed := s.enqueue(key, ev)
		if overflowed {
			if h.metrics != nil {
				h.metrics.SlowConsumerKicks.WithLabelValues(string(key.Kind)).Inc()
			}
			h.CloseSubscriber(s.id, CloseSlowConsumer)
		}
	}
}

// CloseSubscriber atomically detaches all of a subscriber's topics, closes
// its queue, and marks the reason the caller (session) should report.
func (h *Hub) CloseSubscriber(id SubID, reason CloseReason) {
	h.subsMu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.subsMu.Unlock()
	if !ok {
		return
	}

	for _, key := range sub.topics() {
		h.detachTopic(key, sub)
	}
	sub.close(reason)
	if h.metrics != nil {
		h.metrics.SubscribersActive.Dec()
	}
}
