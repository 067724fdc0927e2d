// Package upstream implements a resilient single-venue WebSocket session:
// supervised connect loop, exponential backoff with full jitter, heartbeat
// liveness tracking, rate-limited outbound sends, and subscribe/unsubscribe
// debouncing. Adapters own one or more of these per venue.
package upstream

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/odinmarkets/gateway/internal/apperror"
)

// State is the upstream session's connection lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// EventKind discriminates the items produced on Events().
type EventKind string

const (
	EventFrame     EventKind = "frame"
	EventResynced  EventKind = "resynced"
	EventStateChange EventKind = "state_change"
)

// Event is one item from the session's event sequence: either a native
// frame, a synthetic Resynced notification issued after reconnect
// re-subscribes, or a state transition.
type Event struct {
	Kind  EventKind
	Frame []byte
	Subs  []string
	State State
}

// Config configures reconnect, heartbeat, and rate-limiting policy for one
// upstream session.
type Config struct {
	Name              string
	URL               string
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	BackoffResetAfter time.Duration
	ConnectTimeout    time.Duration
	IdleTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	// PingPayload is the venue's application-level heartbeat frame, sent
	// every HeartbeatInterval once connected. Nil disables app-level
	// pinging for venues that only need WebSocket-level control frames.
	PingPayload    json.RawMessage
	DebounceWindow time.Duration
	RateLimitPerSec   float64
	RateLimitBurst    int
}

func (c Config) withDefaults() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.BackoffResetAfter <= 0 {
		c.BackoffResetAfter = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 50 * time.Millisecond
	}
	if c.RateLimitPerSec <= 0 {
		c.RateLimitPerSec = 5
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 10
	}
	return c
}

// Session is a supervised single-venue WebSocket connection.
type Session struct {
	cfg    Config
	logger *zap.Logger
	limiter *rate.Limiter

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	activeSubs   map[string]json.RawMessage
	pendingSubs  map[string]json.RawMessage
	pendingUnsub map[string]struct{}
	debounceTimer *time.Timer
	lastTrafficAt time.Time
	connectedAt   time.Time

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a session. Subscribe/unsubscribe/events become usable
// only after Start is called.
func New(cfg Config, logger *zap.Logger) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:          cfg,
		logger:       logger,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		state:        StateConnecting,
		activeSubs:   make(map[string]json.RawMessage),
		pendingSubs:  make(map[string]json.RawMessage),
		pendingUnsub: make(map[string]struct{}),
		events:       make(chan Event, 256),
		done:         make(chan struct{}),
	}
}

// Events returns the session's event sequence. Only Close closes it; a
// Failed transition stops the connect loop but leaves the channel open.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChange, State: state})
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		if s.logger != nil {
			s.logger.Warn("upstream event dropped, consumer too slow", zap.String("venue", s.cfg.Name))
		}
	}
}

// Start begins the supervised connect loop in a background goroutine.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.runLoop(ctx)
}

// Close terminates the session permanently; the reconnect loop will not
// reconnect again and Events() will close.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.setState(StateClosed)
	close(s.done)
	close(s.events)
}

func (s *Session) runLoop(ctx context.Context) {
	backoff := s.cfg.BackoffBase
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.setState(StateConnecting)
		connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(connectCtx, s.cfg.URL, nil)
		cancel()
		if err != nil {
			if isPermanent(err) {
				s.setState(StateFailed)
				return
			}
			if !s.sleepBackoff(ctx, &backoff) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.connectedAt = time.Now()
		s.lastTrafficAt = time.Now()
		s.mu.Unlock()
		s.setState(StateConnected)

		s.resubscribeAll()

		cleanSince := time.Now()
		readErr := s.readLoop(ctx, conn, &cleanSince, &backoff)
		if readErr == nil {
			return // context cancelled / Close called
		}

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		if !s.sleepBackoff(ctx, &backoff) {
			return
		}
	}
}

func isPermanent(err error) bool {
	// A non-exhaustive allowlist of permanent-looking failures; anything else
	// is treated as transient and retried. Venue adapters may refine this by
	// inspecting the underlying handshake response status when present.
	return false
}

// sleepBackoff waits the current backoff duration with full jitter, then
// doubles it up to the cap. Returns false if ctx was cancelled mid-sleep.
func (s *Session) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	s.setState(StateReconnecting)
	jittered := time.Duration(rand.Int63n(int64(*backoff) + 1))
	select {
	case <-ctx.Done():
		return false
	case <-time.After(jittered):
	}
	*backoff *= 2
	if *backoff > s.cfg.BackoffCap {
		*backoff = s.cfg.BackoffCap
	}
	return true
}

// readLoop reads frames until error or context cancellation. It resets the
// backoff once cleanSince has been stable for BackoffResetAfter, forces a
// reconnect (returning a non-nil error) if IdleTimeout elapses without
// traffic, and, when the venue requires application-level pings
// (cfg.PingPayload set), sends one on its own timer every HeartbeatInterval
// and forces a reconnect if no traffic follows within HeartbeatTimeout.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, cleanSince *time.Time, backoff *time.Duration) error {
	msgCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	idleTimer := time.NewTimer(s.cfg.IdleTimeout)
	defer idleTimer.Stop()

	usePing := len(s.cfg.PingPayload) > 0
	var pingTicker *time.Ticker
	var pingTickerC <-chan time.Time
	pongDeadline := time.NewTimer(s.cfg.HeartbeatTimeout)
	if !pongDeadline.Stop() {
		<-pongDeadline.C
	}
	defer pongDeadline.Stop()
	var pongDeadlineC <-chan time.Time
	awaitingPong := false
	if usePing {
		pingTicker = time.NewTicker(s.cfg.HeartbeatInterval)
		defer pingTicker.Stop()
		pingTickerC = pingTicker.C
	}

	for {
		if usePing && awaitingPong {
			pongDeadlineC = pongDeadline.C
		} else {
			pongDeadlineC = nil
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case data := <-msgCh:
			s.mu.Lock()
			s.lastTrafficAt = time.Now()
			s.mu.Unlock()
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(s.cfg.IdleTimeout)
			if awaitingPong {
				if !pongDeadline.Stop() {
					<-pongDeadline.C
				}
				awaitingPong = false
			}
			if time.Since(*cleanSince) >= s.cfg.BackoffResetAfter {
				*backoff = s.cfg.BackoffBase
			}
			s.emit(Event{Kind: EventFrame, Frame: data})
		case <-idleTimer.C:
			return apperror.New(apperror.CodeTransientNetwork, "upstream idle timeout")
		case <-pingTickerC:
			if err := s.sendRaw(s.cfg.PingPayload); err != nil {
				return apperror.Wrap(err, apperror.CodeTransientNetwork, "heartbeat ping send failed")
			}
			if !awaitingPong {
				pongDeadline.Reset(s.cfg.HeartbeatTimeout)
				awaitingPong = true
			}
		case <-pongDeadlineC:
			return apperror.New(apperror.CodeTransientNetwork, "heartbeat pong timeout")
		}
	}
}

// resubscribeAll re-issues every currently active subscription after a
// (re)connect, before any new frames are delivered to consumers, then
// emits a synthetic Resynced event.
func (s *Session) resubscribeAll() {
	s.mu.Lock()
	subs := make([]string, 0, len(s.activeSubs))
	for id := range s.activeSubs {
		subs = append(subs, id)
	}
	payloads := make([]json.RawMessage, 0, len(s.activeSubs))
	for _, p := range s.activeSubs {
		payloads = append(payloads, p)
	}
	s.mu.Unlock()

	for _, p := range payloads {
		_ = s.sendRaw(p)
	}
	s.emit(Event{Kind: EventResynced, Subs: subs})
}

// SendSubscribe queues a channel subscription, coalescing rapid toggles of
// the same channel within the debounce window before issuing it upstream.
func (s *Session) SendSubscribe(id string, payload json.RawMessage) {
	s.mu.Lock()
	delete(s.pendingUnsub, id)
	s.pendingSubs[id] = payload
	s.scheduleDebounceFlush()
	s.mu.Unlock()
}

// SendUnsubscribe queues removal of id, idempotent from the caller's view.
func (s *Session) SendUnsubscribe(id string) {
	s.mu.Lock()
	delete(s.pendingSubs, id)
	s.pendingUnsub[id] = struct{}{}
	s.scheduleDebounceFlush()
	s.mu.Unlock()
}

// scheduleDebounceFlush must be called with s.mu held.
func (s *Session) scheduleDebounceFlush() {
	if s.debounceTimer != nil {
		return
	}
	s.debounceTimer = time.AfterFunc(s.cfg.DebounceWindow, s.flushDebounced)
}

func (s *Session) flushDebounced() {
	s.mu.Lock()
	s.debounceTimer = nil
	subs := s.pendingSubs
	unsubs := s.pendingUnsub
	s.pendingSubs = make(map[string]json.RawMessage)
	s.pendingUnsub = make(map[string]struct{})
	for id, payload := range subs {
		s.activeSubs[id] = payload
	}
	for id := range unsubs {
		delete(s.activeSubs, id)
	}
	s.mu.Unlock()

	for _, payload := range subs {
		_ = s.sendRaw(payload)
	}
}

// sendRaw writes a frame upstream, passing through the per-session token
// bucket rate limiter.
func (s *Session) sendRaw(payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return apperror.Wrap(err, apperror.CodeTransientNetwork, "rate limiter wait failed")
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return apperror.New(apperror.CodeTransientNetwork, "not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
