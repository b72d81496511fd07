// Package peer is the client side: a reconnecting signaling connection and
// the per-room peer connection state machine built on top of it.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("peer: signaling not connected")
	ErrBackpressure = errors.New("peer: signaling send queue full")
)

// Listener receives events from a SignalingClient. Calls arrive on the
// client's read goroutine and must not block for long.
type Listener interface {
	OnSignalingState(open bool)
	OnSignal(from domain.ClientID, payload json.RawMessage)
}

type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// SignalingClient keeps one WebSocket to the relay alive. When the socket
// drops it waits a fixed delay, redials and rejoins every room it had
// joined. Only Close stops it.
type SignalingClient struct {
	url    string
	delay  time.Duration
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu        sync.Mutex
	cur       *link
	clientID  domain.ClientID
	rooms     map[domain.RoomID]struct{}
	listeners map[int]Listener
	nextL     int

	cancel    context.CancelFunc
	started   bool
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

func NewSignalingClient(url string, reconnectDelay time.Duration) *SignalingClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &SignalingClient{
		url:       url,
		delay:     reconnectDelay,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    log.With().Str("module", "peer.signaling").Logger(),
		rooms:     make(map[domain.RoomID]struct{}),
		listeners: make(map[int]Listener),
		done:      make(chan struct{}),
	}
}

// AddListener registers l and returns a function that removes it.
func (c *SignalingClient) AddListener(l Listener) func() {
	c.mu.Lock()
	c.nextL++
	id := c.nextL
	c.listeners[id] = l
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *SignalingClient) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}

func (c *SignalingClient) ClientID() domain.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *SignalingClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// Start runs the connect loop until ctx ends or Close is called.
func (c *SignalingClient) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	go c.run(ctx)
}

func (c *SignalingClient) run(ctx context.Context) {
	defer close(c.done)
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Dur("retry_in", c.delay).Msg("dial failed")
		} else {
			c.serve(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Dur("retry_in", c.delay).Msg("signaling lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}

func (c *SignalingClient) serve(ctx context.Context, conn *websocket.Conn) {
	l := &link{conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}
	go c.writePump(l)

	c.mu.Lock()
	c.cur = l
	rooms := make([]domain.RoomID, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, r := range rooms {
		c.enqueue(l, protocol.NewJoinRoom(r))
	}
	c.logger.Info().Str("url", c.url).Int("rooms", len(rooms)).Msg("signaling open")
	for _, ls := range c.snapshotListeners() {
		ls.OnSignalingState(true)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.dispatch(data)
	}

	c.mu.Lock()
	if c.cur == l {
		c.cur = nil
	}
	c.mu.Unlock()
	close(l.done)
	_ = conn.Close()

	for _, ls := range c.snapshotListeners() {
		ls.OnSignalingState(false)
	}
}

func (c *SignalingClient) writePump(l *link) {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.send:
			if err := l.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn().Err(err).Msg("write failed")
				_ = l.conn.Close()
				return
			}
		}
	}
}

func (c *SignalingClient) dispatch(data []byte) {
	var msg struct {
		Type     string          `json:"type"`
		ClientID domain.ClientID `json:"clientId"`
		From     domain.ClientID `json:"from"`
		Payload  json.RawMessage `json:"payload"`
		Error    string          `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("bad message from relay")
		return
	}
	switch msg.Type {
	case protocol.TypeWelcome:
		c.mu.Lock()
		c.clientID = msg.ClientID
		c.mu.Unlock()
		c.logger.Info().Str("client", string(msg.ClientID)).Msg("welcome")
	case protocol.TypeSignal:
		for _, ls := range c.snapshotListeners() {
			ls.OnSignal(msg.From, msg.Payload)
		}
	case protocol.TypePong:
	case protocol.TypeError:
		c.logger.Warn().Str("error", msg.Error).Msg("relay error")
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("ignored message")
	}
}

func (c *SignalingClient) enqueue(l *link, v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrNotConnected
	case l.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *SignalingClient) send(v any) error {
	c.mu.Lock()
	l := c.cur
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}
	return c.enqueue(l, v)
}

// JoinRoom remembers room for rejoin and joins it now if connected.
func (c *SignalingClient) JoinRoom(room domain.RoomID) error {
	if err := room.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	if err := c.send(protocol.NewJoinRoom(room)); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (c *SignalingClient) LeaveRoom(room domain.RoomID) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	if err := c.send(protocol.NewLeaveRoom(room)); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Relay asks the server to forward payload to the other members of room.
// It fails fast with ErrNotConnected while the socket is down.
func (c *SignalingClient) Relay(room domain.RoomID, payload json.RawMessage) error {
	return c.send(protocol.NewSignalIn(room, payload))
}

// Close stops reconnecting and closes the socket. Safe to call repeatedly.
func (c *SignalingClient) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		c.closed = true
		c.mu.Unlock()
		if cancel == nil {
			close(c.done)
			return
		}
		cancel()
		<-c.done
		c.logger.Info().Msg("signaling closed")
	})
}
