// Package duplex maintains one persistent bidirectional websocket link with
// heartbeat emission and fixed-interval reconnection.
package duplex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Warmaster-Hoshino/findshop-go/internal/errutil"
	"github.com/Warmaster-Hoshino/findshop-go/internal/events"
	"github.com/Warmaster-Hoshino/findshop-go/internal/log"
)

// State is the connection lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Event tags published by the manager. Inbound envelopes additionally
// publish under their own type tag.
const (
	EventOpen            = "open"
	EventMessage         = "message"
	EventClose           = "close"
	EventError           = "error"
	EventReconnectFailed = "reconnectFailed"
)

// Envelope is the wire shape of every typed message.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultReconnectInterval = 3 * time.Second
	DefaultMaxReconnect      = 5
)

// Manager owns one logical duplex link. At most one underlying transport is
// live at any time; the caller decides the instance's lifetime (typically one
// per process).
type Manager struct {
	base       string
	dialer     *websocket.Dialer
	dispatcher *events.Dispatcher
	logger     zerolog.Logger

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	writeTimeout      time.Duration
	reconnectInterval time.Duration
	maxReconnect      int
	autoReconnect     bool

	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	path           string
	attempts       int
	manualClose    bool
	heartbeatStop  chan struct{}
	reconnectTimer *time.Timer
}

type Option func(*Manager)

func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeatInterval = d
		}
	}
}

// WithHeartbeatTimeout bounds how long a ping write may block.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeatTimeout = d
		}
	}
}

// WithWriteTimeout bounds how long any outbound frame write may block.
// Defaults to the heartbeat timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

func WithReconnectInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectInterval = d
		}
	}
}

func WithMaxReconnect(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxReconnect = n
		}
	}
}

// WithAutoReconnect toggles reconnection on unexpected close. On by default.
func WithAutoReconnect(enabled bool) Option {
	return func(m *Manager) { m.autoReconnect = enabled }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// New builds a manager for the given base address. http(s) bases are
// rewritten to ws(s).
func New(base string, opts ...Option) *Manager {
	m := &Manager{
		base:              rewriteScheme(strings.TrimRight(base, "/")),
		dialer:            websocket.DefaultDialer,
		dispatcher:        events.New(),
		logger:            log.WithComponent("duplex"),
		heartbeatInterval: DefaultHeartbeatInterval,
		heartbeatTimeout:  DefaultHeartbeatTimeout,
		reconnectInterval: DefaultReconnectInterval,
		maxReconnect:      DefaultMaxReconnect,
		autoReconnect:     true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.writeTimeout == 0 {
		m.writeTimeout = m.heartbeatTimeout
	}
	return m
}

func rewriteScheme(u string) string {
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}

// Subscribe registers fn for the given event tag. Delivery order is
// guaranteed within one tag only.
func (m *Manager) Subscribe(tag string, fn events.Handler) events.Subscription {
	return m.dispatcher.Subscribe(tag, fn)
}

func (m *Manager) Unsubscribe(tag string, sub events.Subscription) {
	m.dispatcher.Unsubscribe(tag, sub)
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts reports how many reconnects have been scheduled since
// the last successful open.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect opens the transport for base+path. A no-op when already open or
// connecting. On success the heartbeat starts and an "open" event is
// published; on failure an "error" event is published and the error
// returned.
func (m *Manager) Connect(ctx context.Context, path string) error {
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.manualClose = false
	m.path = path
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	return m.dial(ctx, path)
}

// dial opens the transport without touching the manual-close flag, so a
// Close racing an automatic reconnect still wins: the flag is re-checked
// after the handshake and a transport opened in the window is discarded.
func (m *Manager) dial(ctx context.Context, path string) error {
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	target := m.base + path
	m.mu.Unlock()

	conn, resp, err := m.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.logger.Error().Err(err).Str("target", target).Msg("connect failed")
		m.dispatcher.Publish(EventError, err)
		return &errutil.TransportError{Op: "connect", Err: err}
	}

	m.mu.Lock()
	if m.manualClose {
		m.state = StateClosed
		m.mu.Unlock()
		conn.Close()
		m.logger.Info().Str("target", target).Msg("discarding transport opened after manual close")
		return nil
	}
	m.conn = conn
	m.state = StateOpen
	m.attempts = 0
	stop := make(chan struct{})
	m.heartbeatStop = stop
	m.mu.Unlock()

	go m.readLoop(conn)
	go m.heartbeatLoop(conn, stop)

	m.logger.Info().Str("target", target).Msg("connected")
	m.dispatcher.Publish(EventOpen, nil)
	return nil
}

// Send transmits v over the open transport. Strings and byte slices go out
// as-is; anything else is serialized as JSON.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != StateOpen || conn == nil {
		return errutil.ErrNotConnected
	}

	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return fmt.Errorf("marshaling message: %w", err)
		}
	}

	if err := m.write(conn, data); err != nil {
		return &errutil.TransportError{Op: "send", Err: err}
	}
	return nil
}

// Close shuts the link down and suppresses reconnection until the next
// explicit Connect.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.manualClose = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	if conn != nil {
		m.state = StateClosing
	} else {
		m.state = StateClosed
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	deadline := time.Now().Add(m.writeTimeout)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()

	m.dispatcher.Publish(EventClose, nil)
	return err
}

func (m *Manager) write(conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		m.handleMessage(msgType, data)
	}
}

// handleMessage dispatches one inbound frame: textual frames parse as typed
// envelopes, publishing first under the envelope's own type tag with its
// data field, then always under "message" with the full envelope. Binary
// frames pass through under "message" untouched.
func (m *Manager) handleMessage(msgType int, data []byte) {
	if msgType != websocket.TextMessage {
		m.dispatcher.Publish(EventMessage, data)
		return
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.logger.Warn().Err(err).Msg("unparseable message")
		m.dispatcher.Publish(EventError, err)
		return
	}
	if env.Type != "" {
		m.dispatcher.Publish(env.Type, env.Data)
	}
	m.dispatcher.Publish(EventMessage, env)
}

func (m *Manager) handleClose(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// A manual Close or a newer transport already took over.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateClosed
	m.stopHeartbeatLocked()
	wasManual := m.manualClose
	m.mu.Unlock()

	m.logger.Warn().Err(err).Msg("connection closed")
	m.dispatcher.Publish(EventClose, err)

	if wasManual || !m.autoReconnect {
		return
	}
	m.scheduleReconnect()
}

// scheduleReconnect arms one reconnect timer, counting the attempt against
// the cap. The counter resets only on a successful open.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manualClose || m.state != StateClosed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.maxReconnect {
		m.mu.Unlock()
		m.logger.Error().Int("cap", m.maxReconnect).Msg("reconnect attempts exhausted")
		m.dispatcher.Publish(EventReconnectFailed, errutil.ErrReconnectExhausted)
		return
	}
	m.attempts++
	attempt := m.attempts
	path := m.path
	m.reconnectTimer = time.AfterFunc(m.reconnectInterval, func() {
		m.mu.Lock()
		if m.manualClose || m.state != StateClosed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.logger.Info().Int("attempt", attempt).Msg("reconnecting")
		if err := m.dial(context.Background(), path); err != nil {
			m.scheduleReconnect()
		}
	})
	m.mu.Unlock()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// heartbeatLoop emits a ping envelope at the configured interval while the
// transport stays open.
func (m *Manager) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env := Envelope{Type: "ping", Timestamp: time.Now().UnixMilli()}
			data, _ := json.Marshal(env)
			if err := m.write(conn, data); err != nil {
				m.logger.Warn().Err(err).Msg("heartbeat write failed")
				return
			}
		}
	}
}
