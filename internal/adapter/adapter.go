// Package adapter implements the per-venue translator: the Base engine
// owns one upstream session, tracks per-channel attach refcounts
// independent of the hub's own bookkeeping, and falls back to a
// deterministic mock generator when a circuit breaker judges the venue
// unreachable.
package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/odinmarkets/gateway/internal/apperror"
	"github.com/odinmarkets/gateway/internal/cache"
	"github.com/odinmarkets/gateway/internal/hub"
	"github.com/odinmarkets/gateway/internal/metrics"
	"github.com/odinmarkets/gateway/internal/model"
	"github.com/odinmarkets/gateway/internal/upstream"
)

// Status is the adapter's rolling health state, driven by the circuit
// breaker's observation window rather than a single failed frame.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnreachable Status = "unreachable"
	StatusStopped     Status = "stopped"
)

// Adapter is the capability set the gateway bootstrap and hub depend on.
// Base satisfies hub.Attacher implicitly via Attach/Detach.
type Adapter interface {
	ID() string
	Start(ctx context.Context) error
	Attach(key model.ChannelKey) error
	Detach(key model.ChannelKey)
	Status() Status
}

// Translator is the venue-specific half an adapter plugs into Base: it
// knows the venue's native subscribe/unsubscribe wire shape and how to
// translate an inbound native frame into zero or more canonical events.
type Translator interface {
	Venue() string
	SubscribePayload(key model.ChannelKey) (subID string, payload []byte, err error)
	UnsubscribePayload(key model.ChannelKey) (subID string, payload []byte)
	Translate(frame []byte) ([]model.Event, error)
	// PingPayload returns the venue's application-level heartbeat frame, or
	// nil if the venue needs none (e.g. it only relies on WebSocket-level
	// control frames, which gorilla/websocket answers transparently).
	PingPayload() []byte
}

type channelState struct {
	refcount     int
	lastTraffic  time.Time
	degraded     bool
	mockCancel   context.CancelFunc
}

// Base is the shared adapter engine. Venue packages (binance, bybit)
// construct one with their Translator and nothing else venue-specific.
type Base struct {
	translator  Translator
	session     *upstream.Session
	cache       *cache.Cache
	publisher   hub.Publisher
	metrics     *metrics.Registry
	logger      *zap.Logger
	breaker     *gobreaker.CircuitBreaker[[]model.Event]
	degradeAfter time.Duration

	mu       sync.Mutex
	channels map[model.ChannelKey]*channelState
	status   Status
}

// NewBase wires a translator to a concrete upstream session. degradeAfter
// (default 10s) is how long the circuit breaker stays open before it lets a
// trial frame through (half-open). Ticker channels fall back to mock data as
// soon as the breaker opens after 5 consecutive translate failures; no timer
// watches a channel for missing traffic.
func NewBase(translator Translator, session *upstream.Session, c *cache.Cache, pub hub.Publisher, reg *metrics.Registry, logger *zap.Logger, degradeAfter time.Duration) *Base {
	if degradeAfter <= 0 {
		degradeAfter = 10 * time.Second
	}
	venue := translator.Venue()
	b := &Base{
		translator:   translator,
		session:      session,
		cache:        c,
		publisher:    pub,
		metrics:      reg,
		logger:       logger,
		degradeAfter: degradeAfter,
		channels:     make(map[model.ChannelKey]*channelState),
		status:       StatusStarting,
	}

	settings := gobreaker.Settings{
		Name:        venue,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     degradeAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if reg != nil {
				reg.CircuitBreakerTrips.WithLabelValues(venue, to.String()).Inc()
			}
			if logger != nil {
				logger.Info("adapter circuit breaker state change",
					zap.String("venue", venue), zap.String("from", from.String()), zap.String("to", to.String()))
			}
			b.onBreakerStateChange(to)
		},
	}
	b.breaker = gobreaker.NewCircuitBreaker[[]model.Event](settings)
	return b
}

func (b *Base) ID() string { return b.translator.Venue() }

func (b *Base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
	if b.metrics != nil {
		var v float64
		switch s {
		case StatusUnreachable:
			v = 0
		case StatusDegraded:
			v = 1
		case StatusHealthy:
			v = 2
		}
		b.metrics.AdapterStatus.WithLabelValues(b.translator.Venue()).Set(v)
	}
}

func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Start begins the upstream session and the frame-consumption loop.
func (b *Base) Start(ctx context.Context) error {
	b.setStatus(StatusStarting)
	b.session.Start(ctx)
	go b.consume(ctx)
	b.setStatus(StatusHealthy)
	return nil
}

func (b *Base) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.session.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case upstream.EventFrame:
				b.handleFrame(ev.Frame)
			case upstream.EventResynced:
				b.onResynced()
			}
		}
	}
}

func (b *Base) handleFrame(frame []byte) {
	events, err := b.breaker.Execute(func() ([]model.Event, error) {
		return b.translator.Translate(frame)
	})
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("adapter translate failed", zap.String("venue", b.translator.Venue()), zap.Error(err))
		}
		return
	}
	for _, ev := range events {
		key := ev.ChannelKey()
		b.cache.Put(key, ev)
		b.publisher.Publish(key, ev)
		b.recordTraffic(key)
	}
}

func (b *Base) recordTraffic(key model.ChannelKey) {
	b.mu.Lock()
	st, ok := b.channels[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	st.lastTraffic = time.Now()
	wasDegraded := st.degraded
	if wasDegraded {
		st.degraded = false
		if st.mockCancel != nil {
			st.mockCancel()
			st.mockCancel = nil
		}
	}
	b.mu.Unlock()
	if wasDegraded {
		b.publisher.PublishInfo(key, "resynced")
	}
}

// onBreakerStateChange is invoked by gobreaker when the rolling failure
// window trips open or recovers; it drives the Unreachable<->Healthy
// transitions and starts/stops mock fallback for ticker channels.
func (b *Base) onBreakerStateChange(to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		b.setStatus(StatusUnreachable)
		b.degradeAllTickers()
	case gobreaker.StateClosed:
		b.setStatus(StatusHealthy)
	case gobreaker.StateHalfOpen:
		b.setStatus(StatusDegraded)
	}
}

func (b *Base) degradeAllTickers() {
	b.mu.Lock()
	var toDegrade []model.ChannelKey
	for key, st := range b.channels {
		if key.Kind == model.ChannelTicker && !st.degraded {
			st.degraded = true
			toDegrade = append(toDegrade, key)
		}
	}
	b.mu.Unlock()
	for _, key := range toDegrade {
		b.startMock(key)
	}
}

func (b *Base) startMock(key model.ChannelKey) {
	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	if st, ok := b.channels[key]; ok {
		st.mockCancel = cancel
	}
	b.mu.Unlock()

	b.publisher.PublishInfo(key, "degraded")
	go runMockGenerator(ctx, key, b.cache, b.publisher)
}

func (b *Base) onResynced() {
	// Resubscription after reconnect is handled by the upstream session
	// itself (it re-issues active subscriptions before delivering new
	// frames); traffic resumption per channel is observed in recordTraffic.
}

// Attach registers one more subscriber's interest in key at the adapter
// level (independent of the hub's own refcount, per the gateway's
// double-bookkeeping policy) and, on the first attach, subscribes upstream.
func (b *Base) Attach(key model.ChannelKey) error {
	b.mu.Lock()
	st, ok := b.channels[key]
	if !ok {
		st = &channelState{lastTraffic: time.Now()}
		b.channels[key] = st
	}
	st.refcount++
	first := st.refcount == 1
	b.mu.Unlock()

	if !first {
		return nil
	}
	subID, payload, err := b.translator.SubscribePayload(key)
	if err != nil {
		return apperror.Wrap(err, apperror.CodePermanentVenue, "unsupported channel for venue")
	}
	b.session.SendSubscribe(subID, payload)
	return nil
}

// Detach releases one subscriber's interest; the last release removes the
// channel from the upstream session's active set (so it is not re-issued on
// reconnect) and tears down any running mock generator. No unsubscribe frame
// is sent to the venue.
func (b *Base) Detach(key model.ChannelKey) {
	b.mu.Lock()
	st, ok := b.channels[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	st.refcount--
	last := st.refcount <= 0
	var cancel context.CancelFunc
	if last {
		cancel = st.mockCancel
		delete(b.channels, key)
	}
	b.mu.Unlock()

	if !last {
		return
	}
	if cancel != nil {
		cancel()
	}
	subID, _ := b.translator.UnsubscribePayload(key)
	b.session.SendUnsubscribe(subID)
}
