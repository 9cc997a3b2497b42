package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"talkie/api"
	"talkie/log"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	handshakeTimeout = 10 * time.Second
	pingPeriod       = 30 * time.Second
	writeWait        = 5 * time.Second
)

// Listener is told about every state change and every reply. Calls come
// from the channel's goroutines without its lock held.
type Listener interface {
	ChannelState(s State)
	Reply(ev Event)
}

// Timer is the pending reconnect; *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

type Options struct {
	ServerURL string
	Prefix    string
	Tokens    api.TokenSource
	// Backoff picks the delay before each reconnect. Defaults to
	// DefaultSchedule. Returning backoff.Stop ends reconnection.
	Backoff   backoff.BackOff
	Dialer    *websocket.Dialer
	AfterFunc func(d time.Duration, f func()) Timer
}

// Channel keeps one push connection open for the session, reconnecting
// with backoff whenever it drops.
type Channel struct {
	opts     Options
	listener Listener

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	timer    Timer
	cancel   context.CancelFunc
	gen      int
	attempts int
	closed   bool
	wg       sync.WaitGroup
}

func New(opts Options, listener Listener) *Channel {
	if opts.Backoff == nil {
		opts.Backoff = NewSchedule()
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Channel{opts: opts, listener: listener}
}

// URL is the push endpoint for token, e.g. ws://host/api/ws?token=...
func URL(serverURL, prefix, token string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	p := strings.Trim(prefix, "/")
	if p != "" {
		p = "/" + p
	}
	u.Path = strings.TrimRight(u.Path, "/") + p + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u, nil
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether pushes are currently deliverable.
func (c *Channel) Connected() bool {
	return c.State() == Connected
}

// Start opens the connection. Calling it again while a connection is open
// or being opened does nothing; while a reconnect is pending it connects
// immediately and cancels the timer.
func (c *Channel) Start() {
	c.connect()
}

func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = Connecting
	attempt := c.attempts
	c.wg.Add(1)
	c.mu.Unlock()

	log.ChannelState(Connecting.String(), attempt, 0)
	c.listener.ChannelState(Connecting)
	go c.run(ctx, gen)
}

func (c *Channel) run(ctx context.Context, gen int) {
	defer c.wg.Done()

	conn, err := c.dial(ctx)
	if err != nil {
		c.dropped(gen, err)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = Connected
	c.attempts = 0
	c.opts.Backoff.Reset()
	c.mu.Unlock()

	log.ChannelState(Connected.String(), 0, 0)
	c.listener.ChannelState(Connected)

	done := make(chan struct{})
	go c.keepalive(conn, done)
	err = c.readLoop(conn)
	close(done)
	c.dropped(gen, err)
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	var token string
	if c.opts.Tokens != nil {
		token = c.opts.Tokens.Token()
	}
	if token == "" {
		return nil, api.ErrUnauthorized
	}
	u, err := URL(c.opts.ServerURL, c.opts.Prefix, token)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, ok, err := decodeFrame(frame)
		if err != nil {
			log.Warnf("channel: dropping malformed frame: %v", err)
			continue
		}
		if !ok {
			continue
		}
		c.listener.Reply(ev)
	}
}

func (c *Channel) keepalive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

// dropped moves to Disconnected and arms the single reconnect timer.
func (c *Channel) dropped(gen int, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	c.attempts++
	attempt := c.attempts
	delay := c.opts.Backoff.NextBackOff()
	if delay != backoff.Stop {
		c.timer = c.opts.AfterFunc(delay, c.connect)
	}
	c.mu.Unlock()

	if cause != nil && !isNormalClose(cause) {
		log.Warnf("channel: %v", cause)
	}
	log.ChannelState(Disconnected.String(), attempt, max(delay, 0))
	c.listener.ChannelState(Disconnected)
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) || errors.Is(err, context.Canceled)
}

// Close tears the connection down and cancels any pending reconnect. No
// further connection attempts are made.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	wasDisconnected := c.state == Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	c.wg.Wait()

	if !wasDisconnected {
		c.listener.ChannelState(Disconnected)
	}
	log.ChannelState("closed", 0, 0)
}
