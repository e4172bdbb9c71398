package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/prepdeck/voicepipe/internal/protocol"
)

// Reconnection parameters: exponential backoff from 1s, capped at 10s, with
// a hard budget of 5 attempts before the connection is declared dead.
const (
	maxReconnectAttempts = 5
	initialBackoff       = 1 * time.Second
	maxBackoff           = 10 * time.Second
)

// ConnState is the externally visible transport state.
type ConnState int

const (
	// Disconnected means no connection and none pending.
	Disconnected ConnState = iota
	// Connecting means a dial or a scheduled reconnect is in flight.
	Connecting
	// Connected means the duplex link is open.
	Connected
	// Failed means the reconnect budget is exhausted; only an explicit
	// restart will connect again.
	Failed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Conn is the minimal duplex connection surface the transport needs.
// The production implementation wraps a websocket; tests substitute fakes.
type Conn interface {
	// Read blocks for the next inbound payload.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one outbound payload.
	Write(ctx context.Context, data []byte) error
	// Close terminates the connection.
	Close() error
}

// Dialer opens a connection to the given URL.
type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebsocket is the production [Dialer].
func DialWebsocket(ctx context.Context, endpoint string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("session: dial %s: %w", endpoint, err)
	}
	// Inbound audio frames arrive faster than the default limit allows.
	c.SetReadLimit(1 << 20)
	return wsConn{c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "teardown")
}

// TransportConfig configures a [Transport].
type TransportConfig struct {
	// Endpoint is the interviewer's websocket URL, without target params.
	Endpoint string

	// InterviewID identifies the interview attempt. Required.
	InterviewID string

	// ProblemID selects a problem, optional.
	ProblemID string

	// Question is literal custom question text, optional.
	Question string

	// OnMessage receives every decoded inbound message. Invoked on the
	// transport's read goroutine; must not block.
	OnMessage func(msg protocol.ServerMessage)

	// OnState receives connection state changes. Same goroutine contract
	// as OnMessage.
	OnState func(state ConnState)

	// OnDrop is invoked for every inbound payload discarded as malformed
	// or unrecognized. Same goroutine contract as OnMessage.
	OnDrop func()

	// Dial overrides the connection factory. Defaults to [DialWebsocket].
	Dial Dialer

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// schedule overrides reconnect timer creation in tests. It returns a
	// cancel func.
	schedule func(d time.Duration, f func()) func()
}

// Transport owns the persistent duplex connection to the remote
// interviewer. It reconnects with exponential backoff on unclean closes and
// drops malformed inbound payloads without failing the session.
//
// All exported methods are safe for concurrent use.
type Transport struct {
	cfg      TransportConfig
	log      *slog.Logger
	endpoint string
	schedule func(d time.Duration, f func()) func()

	mu          sync.Mutex
	ctx         context.Context
	conn        Conn
	state       ConnState
	attempts    int
	cancelTimer func()
	closed      bool

	wg sync.WaitGroup
}

// NewTransport creates a transport. It does not connect yet.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("session: transport endpoint must not be empty")
	}
	if cfg.InterviewID == "" {
		return nil, errors.New("session: interview id must not be empty")
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebsocket
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	schedule := cfg.schedule
	if schedule == nil {
		schedule = func(d time.Duration, f func()) func() {
			timer := time.AfterFunc(d, f)
			return func() { timer.Stop() }
		}
	}

	endpoint, err := buildEndpoint(cfg)
	if err != nil {
		return nil, err
	}

	return &Transport{
		cfg:      cfg,
		log:      log,
		endpoint: endpoint,
		schedule: schedule,
	}, nil
}

// buildEndpoint attaches the target identifiers as query parameters.
func buildEndpoint(cfg TransportConfig) (string, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("session: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("interview_id", cfg.InterviewID)
	if cfg.ProblemID != "" {
		q.Set("problem_id", cfg.ProblemID)
	}
	if cfg.Question != "" {
		q.Set("question", cfg.Question)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens the connection. The context governs the lifetime of the
// whole transport, including reconnect dials. An initial dial failure starts
// the same backoff schedule as a mid-session drop.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("session: transport is torn down")
	}
	if t.conn != nil {
		t.mu.Unlock()
		return errors.New("session: transport already connected")
	}
	t.ctx = ctx
	t.setStateLocked(Connecting)
	t.mu.Unlock()

	if err := t.dial(); err != nil {
		t.handleClose()
		return err
	}
	return nil
}

// Send transmits an outbound message, best-effort: if the connection is not
// currently open the message is silently dropped. Delivery is never
// guaranteed across the instant of a link drop.
func (t *Transport) Send(msg protocol.ClientMessage) {
	t.mu.Lock()
	conn := t.conn
	ctx := t.ctx
	t.mu.Unlock()
	if conn == nil {
		return
	}

	data, err := protocol.EncodeClient(msg)
	if err != nil {
		t.log.Warn("dropping unencodable message", "error", err)
		return
	}
	if err := conn.Write(ctx, data); err != nil {
		t.log.Debug("send failed", "error", err)
	}
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Teardown marks the session as intentionally ending, closes the
// connection, and cancels any pending reconnect. Safe to call multiple
// times.
func (t *Transport) Teardown() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	if t.cancelTimer != nil {
		t.cancelTimer()
		t.cancelTimer = nil
	}
	t.setStateLocked(Disconnected)
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.wg.Wait()
	if err != nil {
		return fmt.Errorf("session: close connection: %w", err)
	}
	return nil
}

// dial opens one connection and starts its read loop. A successful open
// resets the reconnect budget.
func (t *Transport) dial() error {
	t.mu.Lock()
	ctx := t.ctx
	t.mu.Unlock()

	conn, err := t.cfg.Dial(ctx, t.endpoint)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return conn.Close()
	}
	t.conn = conn
	t.attempts = 0
	t.setStateLocked(Connected)
	t.mu.Unlock()

	t.log.Info("connected", "endpoint", t.cfg.Endpoint)
	t.wg.Add(1)
	go t.readLoop(conn)
	return nil
}

// readLoop pumps inbound payloads until the connection dies.
func (t *Transport) readLoop(conn Conn) {
	defer t.wg.Done()

	for {
		t.mu.Lock()
		ctx := t.ctx
		t.mu.Unlock()

		data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			stale := t.conn != conn // superseded by a newer connection
			t.mu.Unlock()
			if !stale {
				t.handleClose()
			}
			return
		}

		msg, err := protocol.DecodeServer(data)
		if err != nil {
			// Malformed payloads are dropped, never fatal.
			t.log.Debug("dropping malformed message", "error", err)
			t.dropped()
			continue
		}
		if unknown, ok := msg.(protocol.Unknown); ok {
			t.log.Debug("ignoring unknown message type", "type", unknown.Type)
			t.dropped()
			continue
		}
		if t.cfg.OnMessage != nil {
			t.cfg.OnMessage(msg)
		}
	}
}

func (t *Transport) dropped() {
	if t.cfg.OnDrop != nil {
		t.cfg.OnDrop()
	}
}

// handleClose reacts to an unclean close: schedule a backoff reconnect, or
// give up once the budget is spent.
func (t *Transport) handleClose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.conn = nil

	if t.attempts >= maxReconnectAttempts {
		t.setStateLocked(Failed)
		t.log.Error("reconnect budget exhausted", "attempts", t.attempts)
		return
	}

	delay := min(initialBackoff<<t.attempts, maxBackoff)
	t.attempts++
	t.setStateLocked(Connecting)
	t.log.Warn("connection lost, scheduling reconnect",
		"attempt", t.attempts,
		"max_attempts", maxReconnectAttempts,
		"backoff", delay,
	)
	t.cancelTimer = t.schedule(delay, func() {
		if err := t.dial(); err != nil {
			t.log.Warn("reconnect attempt failed", "error", err)
			t.handleClose()
		}
	})
}

// setStateLocked updates the state and notifies. Must hold t.mu; the
// callback contract forbids calling back into the transport, so invoking it
// under the lock is safe.
func (t *Transport) setStateLocked(state ConnState) {
	if t.state == state {
		return
	}
	t.state = state
	if t.cfg.OnState != nil {
		t.cfg.OnState(state)
	}
}
