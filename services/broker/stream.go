package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orb-backtest/services/engine"
)

const (
	wsReconnectInterval = 5 * time.Second
	wsPingInterval      = 30 * time.Second
	wsReadTimeout       = 60 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

// Stream is the websocket bar feed. One handler per subscribed stream;
// a read failure signals the reconnect channel instead of retrying inline.
type Stream struct {
	url       string
	conn      *websocket.Conn
	connMutex sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	log       *zap.Logger

	subscribed    map[string]bool
	subMutex      sync.RWMutex
	handlers      map[string]func([]byte)
	handlersMutex sync.RWMutex
	reconnectChan chan struct{}
}

type wsMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int             `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wsError        `json:"error,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewStream(url string, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		url:           url,
		ctx:           ctx,
		cancel:        cancel,
		log:           logger,
		subscribed:    make(map[string]bool),
		handlers:      make(map[string]func([]byte)),
		reconnectChan: make(chan struct{}, 1),
	}
}

// Connect dials, restores any prior subscriptions, and starts the read and
// ping loops. Calling it again after a drop replaces the dead connection.
func (s *Stream) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.connMutex.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.connMutex.Unlock()

	if err := s.resubscribe(); err != nil {
		return err
	}

	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

// resubscribe replays the subscription set onto the current connection.
func (s *Stream) resubscribe() error {
	s.subMutex.RLock()
	streams := make([]string, 0, len(s.subscribed))
	for stream := range s.subscribed {
		streams = append(streams, stream)
	}
	s.subMutex.RUnlock()

	for _, stream := range streams {
		msg := wsMessage{
			Method: "SUBSCRIBE",
			Params: json.RawMessage(fmt.Sprintf(`["%s"]`, stream)),
			ID:     int(time.Now().Unix()),
		}
		if err := s.sendMessage(msg); err != nil {
			return fmt.Errorf("resubscribe %s: %w", stream, err)
		}
	}
	return nil
}

// Disconnect stops the loops and closes the connection.
func (s *Stream) Disconnect() error {
	s.cancel()

	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Reconnects exposes the reconnect signal; the owner decides the backoff.
func (s *Stream) Reconnects() <-chan struct{} { return s.reconnectChan }

// IsConnected reports whether a connection is held.
func (s *Stream) IsConnected() bool {
	s.connMutex.RLock()
	defer s.connMutex.RUnlock()
	return s.conn != nil
}

// SubscribeBars subscribes to a symbol's closed-bar stream. Subscribing the
// same stream again replaces its handler; the subscription itself is replayed
// by Connect on every reconnect.
func (s *Stream) SubscribeBars(symbol, interval string, handler func(engine.Bar)) error {
	stream := fmt.Sprintf("%s@bars_%s", symbol, interval)

	s.subMutex.Lock()
	fresh := !s.subscribed[stream]
	s.subscribed[stream] = true
	s.subMutex.Unlock()

	if fresh {
		msg := wsMessage{
			Method: "SUBSCRIBE",
			Params: json.RawMessage(fmt.Sprintf(`["%s"]`, stream)),
			ID:     int(time.Now().Unix()),
		}
		if err := s.sendMessage(msg); err != nil {
			s.subMutex.Lock()
			delete(s.subscribed, stream)
			s.subMutex.Unlock()
			return fmt.Errorf("subscribe %s: %w", stream, err)
		}
	}

	s.handlersMutex.Lock()
	s.handlers[stream] = func(data []byte) {
		var w wireBar
		if err := json.Unmarshal(data, &w); err != nil {
			s.log.Warn("bad bar payload", zap.Error(err))
			return
		}
		bar, err := w.toBar()
		if err != nil {
			s.log.Warn("bad bar payload", zap.Error(err))
			return
		}
		handler(bar)
	}
	s.handlersMutex.Unlock()
	return nil
}

func (s *Stream) sendMessage(msg wsMessage) error {
	s.connMutex.RLock()
	conn := s.conn
	s.connMutex.RUnlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads the given connection until it fails. Any read error,
// including a quiet-feed deadline, tears the connection down and signals the
// reconnect channel; the owner redials.
func (s *Stream) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			_, data, err := conn.ReadMessage()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.log.Warn("stream read error", zap.Error(err))
				s.teardown(conn)
				select {
				case s.reconnectChan <- struct{}{}:
				default:
				}
				return
			}
			s.handleMessage(data)
		}
	}
}

// teardown closes and clears the connection, but only if it is still the
// current one; a replacement dialed in the meantime stays untouched.
func (s *Stream) teardown(conn *websocket.Conn) {
	s.connMutex.Lock()
	defer s.connMutex.Unlock()
	conn.Close()
	if s.conn == conn {
		s.conn = nil
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.connMutex.RLock()
			current := s.conn == conn
			s.connMutex.RUnlock()
			if !current {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Warn("stream ping failed", zap.Error(err))
			}
		}
	}
}

func (s *Stream) handleMessage(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("bad stream message", zap.Error(err))
		return
	}
	if msg.Result != nil {
		return // subscription ack
	}
	if msg.Error != nil {
		s.log.Warn("stream error",
			zap.Int("code", msg.Error.Code),
			zap.String("message", msg.Error.Message))
		return
	}

	var streamMsg struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &streamMsg); err == nil && streamMsg.Stream != "" {
		s.handlersMutex.RLock()
		handler, ok := s.handlers[streamMsg.Stream]
		s.handlersMutex.RUnlock()
		if ok && handler != nil {
			handler(streamMsg.Data)
		}
	}
}
