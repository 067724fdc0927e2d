// Package session implements the gateway session: the per-client
// WebSocket state machine that sits between the wire (gobwas/ws frames)
// and the stream hub. A Manager holds the shared collaborators (hub,
// metadata catalog, config); it mints one Session per accepted
// connection.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/odinmarkets/gateway/internal/apperror"
	"github.com/odinmarkets/gateway/internal/config"
	"github.com/odinmarkets/gateway/internal/hub"
	"github.com/odinmarkets/gateway/internal/metadata"
	"github.com/odinmarkets/gateway/internal/metrics"
	"github.com/odinmarkets/gateway/internal/model"
)

// State is a session's connection lifecycle state.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

// Manager holds the collaborators shared by every client session and
// mints a Session per accepted connection. It tracks every in-flight
// session so Shutdown can close them explicitly instead of abandoning
// their hijacked connections when the HTTP server stops.
type Manager struct {
	h       *hub.Hub
	catalog metadata.Port
	cfg     config.SessionConfig
	metrics *metrics.Registry
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[hub.SubID]*Session
}

// NewManager constructs a session manager.
func NewManager(h *hub.Hub, catalog metadata.Port, cfg config.SessionConfig, reg *metrics.Registry, logger *zap.Logger) *Manager {
	return &Manager{h: h, catalog: catalog, cfg: cfg, metrics: reg, logger: logger, sessions: make(map[hub.SubID]*Session)}
}

// Serve runs one client connection's full lifecycle to completion. It
// blocks until the connection is closed, by either side or by Shutdown.
func (m *Manager) Serve(ctx context.Context, conn net.Conn) {
	s := &Session{
		mgr:      m,
		conn:     conn,
		subID:    m.h.RegisterSubscriber(),
		channels: make(map[string]model.ChannelKey),
	}
	m.track(s)
	defer m.untrack(s.subID)

	if m.metrics != nil {
		m.metrics.SessionsAccepted.Inc()
		m.metrics.SessionsActive.Inc()
	}
	s.run(ctx)
	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
		m.metrics.SessionsClosed.Inc()
	}
}

func (m *Manager) track(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.subID] = s
}

func (m *Manager) untrack(id hub.SubID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Shutdown closes every in-flight session: it marks each subscriber closed
// with CloseShutdownRequested (so writeLoop reports the real reason to the
// client before exiting) and closes the underlying connection directly,
// since a hijacked WebSocket conn is outside net/http's own Shutdown
// tracking and would otherwise be abandoned.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		m.h.CloseSubscriber(s.subID, hub.CloseShutdownRequested)
		_ = s.conn.Close()
	}
}

// Session is one client's WebSocket state machine.
type Session struct {
	mgr   *Manager
	conn  net.Conn
	subID hub.SubID

	mu       sync.Mutex
	state    State
	channels map[string]model.ChannelKey // keyed by ChannelKey.String()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context) {
	s.setState(StateOpening)
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		s.setState(StateClosed)
		s.mgr.h.CloseSubscriber(s.subID, hub.CloseClientRequested)
		for _, key := range s.attachedKeys() {
			s.mgr.h.Detach(s.subID, key)
		}
		_ = s.conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(connCtx)
	}()

	s.setState(StateOpen)
	s.readLoop(connCtx)
	cancel()
	<-done
}

func (s *Session) attachedKeys() []model.ChannelKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChannelKey, 0, len(s.channels))
	for _, k := range s.channels {
		out = append(out, k)
	}
	return out
}

// readLoop parses inbound frames and dispatches subscribe/unsubscribe/ping
// operations. It enforces the idle timeout by resetting the connection's
// read deadline on every frame and bailing out once it elapses.
func (s *Session) readLoop(ctx context.Context) {
	reader := wsutil.NewReader(s.conn, ws.StateServerSide)
	idleTimeout := s.mgr.cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		head, err := reader.NextFrame()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.mgr.h.CloseSubscriber(s.subID, hub.CloseIdle)
				return
			}
			if !errors.Is(err, io.EOF) && s.mgr.logger != nil {
				s.mgr.logger.Debug("session read error", zap.String("sub_id", string(s.subID)), zap.Error(err))
			}
			return
		}

		switch head.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			_ = wsutil.WriteServerMessage(s.conn, ws.OpPong, nil)
		case ws.OpText, ws.OpBinary:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
			s.handleFrame(payload)
		default:
			_, _ = io.CopyN(io.Discard, reader, int64(head.Length))
		}
	}
}

func (s *Session) handleFrame(payload []byte) {
	msg, err := model.ParseClientMessage(payload)
	if err != nil {
		if s.mgr.metrics != nil {
			s.mgr.metrics.SessionErrors.WithLabelValues(string(apperror.CodeOf(err))).Inc()
		}
		s.sendLocal(model.NewErrorMessage(err.Error(), nil))
		return
	}
	if s.mgr.metrics != nil {
		s.mgr.metrics.FramesIn.WithLabelValues(string(msg.Op)).Inc()
	}

	switch msg.Op {
	case model.OpSubscribe:
		s.handleSubscribe(msg.Channels)
	case model.OpUnsubscribe:
		s.handleUnsubscribe(msg.Channels)
	case model.OpPing:
		s.sendLocal(model.NewPongMessage(time.Now().UnixMilli()))
	}
}

func (s *Session) handleSubscribe(specs []model.ChannelSpec) {
	for _, spec := range specs {
		key, err := resolveChannelKey(s.mgr.catalog, s.mgr.cfg, spec)
		if err != nil {
			s.sendLocal(model.NewErrorMessage(err.Error(), map[string]string{"channel_type": spec.ChannelType, "exchange": spec.Exchange}))
			continue
		}
		if err := s.mgr.h.Attach(s.subID, key); err != nil {
			s.sendLocal(model.NewErrorMessage(err.Error(), map[string]string{"channel": key.String()}))
			continue
		}
		s.mu.Lock()
		s.channels[key.String()] = key
		s.mu.Unlock()
	}
}

func (s *Session) handleUnsubscribe(specs []model.ChannelSpec) {
	for _, spec := range specs {
		key, err := resolveChannelKey(s.mgr.catalog, s.mgr.cfg, spec)
		if err != nil {
			s.sendLocal(model.NewErrorMessage(err.Error(), map[string]string{"channel_type": spec.ChannelType}))
			continue
		}
		s.mgr.h.Detach(s.subID, key)
		s.mu.Lock()
		delete(s.channels, key.String())
		s.mu.Unlock()
	}
}

// resolveChannelKey validates a client-supplied channel descriptor against
// the metadata catalog and fills in the session's default book depth.
func resolveChannelKey(catalog metadata.Port, cfg config.SessionConfig, spec model.ChannelSpec) (model.ChannelKey, error) {
	kind := model.ChannelKind(spec.ChannelType)
	if !kind.Valid() {
		return model.ChannelKey{}, apperror.New(apperror.CodeValidationFailure, "unknown channel_type", apperror.WithContext(spec.ChannelType))
	}
	marketType := model.MarketType(spec.MarketType)
	if !marketType.Valid() {
		return model.ChannelKey{}, apperror.New(apperror.CodeValidationFailure, "unknown market_type", apperror.WithContext(spec.MarketType))
	}
	symbolText := spec.Symbol.Base + "/" + spec.Symbol.Quote
	info, ok := catalog.Resolve(spec.Exchange, marketType, symbolText)
	if !ok {
		return model.ChannelKey{}, apperror.New(apperror.CodeNotFound, "unknown symbol for exchange", apperror.WithContext(symbolText))
	}
	depth := 0
	if kind.IsBook() {
		depth = spec.Depth
		if depth <= 0 {
			depth = cfg.BookDepthDefault
		}
	}
	return model.ChannelKey{Venue: spec.Exchange, MarketType: marketType, Kind: kind, Symbol: info.Symbol, Depth: depth}, nil
}

// writeLoop drains hub-queued frames out over the wire. A write that
// exceeds WriteTimeout transitions the session to Closing; an explicit
// hub-side close (slow consumer, shutdown) does the same.
func (s *Session) writeLoop(ctx context.Context) {
	writeTimeout := s.mgr.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	for {
		closed, reason, _ := s.mgr.h.CloseInfo(s.subID)
		if closed {
			s.setState(StateClosing)
			s.writeFrame(model.NewErrorMessage("session closed: "+string(reason), nil), writeTimeout)
			return
		}

		ev, has, open := s.mgr.h.Dequeue(s.subID)
		if !open {
			return
		}
		if !has {
			select {
			case <-ctx.Done():
				return
			case <-s.mgr.h.WaitC(s.subID):
				continue
			}
		}

		msg := ev.ToStreamMessage()
		if err := s.writeFrame(msg, writeTimeout); err != nil {
			s.setState(StateClosing)
			s.mgr.h.CloseSubscriber(s.subID, hub.CloseWriteTimeout)
			return
		}
		if s.mgr.metrics != nil {
			s.mgr.metrics.FramesOut.WithLabelValues(string(msg.Type)).Inc()
		}
	}
}

func (s *Session) writeFrame(msg model.StreamMessage, timeout time.Duration) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
	return wsutil.WriteServerMessage(s.conn, ws.OpText, data)
}

// sendLocal best-effort writes a message without going through the hub
// queue, used for synchronous replies to malformed or rejected requests.
func (s *Session) sendLocal(msg model.StreamMessage) {
	_ = s.writeFrame(msg, s.mgr.cfg.WriteTimeout)
}
