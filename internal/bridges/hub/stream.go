package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// websocketPath is appended to the hub base URL.
	websocketPath = "/api/websocket"

	// defaultHandshakeTimeout bounds dial, auth, and subscribe together.
	defaultHandshakeTimeout = 10 * time.Second

	// defaultStreamReadTimeout is used when StreamConfig.ReadTimeout is zero.
	defaultStreamReadTimeout = 30 * time.Second

	// writeTimeout bounds each frame write.
	writeTimeout = 5 * time.Second

	// maxFrameBytes caps a single inbound frame.
	maxFrameBytes = 16 << 20
)

// StreamConfig configures the streaming session.
type StreamConfig struct {
	// URL is the hub base URL (http or https); the ws(s) URL is derived.
	URL   string
	Token string

	// ReadTimeout is the longest the listener waits for any frame. Pings
	// must be more frequent so an idle but healthy session never hits it.
	ReadTimeout time.Duration

	// PingInterval is the keep-alive interval. Zero disables pings.
	PingInterval time.Duration

	HandshakeTimeout time.Duration
}

// Session is an authenticated, subscribed stream of hub events.
type Session interface {
	// Next blocks until the next event, a read timeout, or closure.
	Next() (Event, error)
	Close() error
}

// SessionDialer opens Sessions.
type SessionDialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Dialer opens WebSocket sessions to the hub.
type Dialer struct {
	cfg    StreamConfig
	wsURL  string
	ws     *websocket.Dialer
	logger Logger
}

// NewDialer validates cfg and returns a Dialer.
func NewDialer(cfg StreamConfig) (*Dialer, error) {
	wsURL, err := streamURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultStreamReadTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Dialer{
		cfg:    cfg,
		wsURL:  wsURL,
		ws:     &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for sessions opened after the call.
func (d *Dialer) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// streamURL maps http(s)://host[:port][/prefix] to ws(s)://.../api/websocket.
func streamURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("hub: invalid base url %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("hub: unsupported url scheme %q", u.Scheme)
	}
	u.Path += websocketPath
	return u.String(), nil
}

// Dial connects, authenticates, and subscribes to all events.
//
// Returns:
//   - ErrAuthRejected if the hub refuses the token (do not retry)
//   - ErrSubscribeFailed if the subscription is refused
//   - ErrConnectionFailed for transport or protocol failures
func (d *Dialer) Dial(ctx context.Context) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()

	conn, resp, err := d.ws.DialContext(ctx, d.wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, d.wsURL, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	s := &Stream{
		conn:        conn,
		readTimeout: d.cfg.ReadTimeout,
		done:        make(chan struct{}),
		logger:      d.logger,
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	if err := s.authenticate(d.cfg.Token); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	if d.cfg.PingInterval > 0 {
		s.wg.Add(1)
		go s.pingLoop(d.cfg.PingInterval)
	}
	return s, nil
}

// Stream is a live WebSocket Session.
type Stream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	logger      Logger

	writeMu sync.Mutex
	nextID  int
	subID   int

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func (s *Stream) authenticate(token string) error {
	var first message
	if err := s.conn.ReadJSON(&first); err != nil {
		return fmt.Errorf("%w: reading auth request: %w", ErrConnectionFailed, err)
	}
	if first.Type != msgAuthRequired {
		return fmt.Errorf("%w: expected %s, got %q", ErrConnectionFailed, msgAuthRequired, first.Type)
	}

	if err := s.write(message{Type: msgAuth, AccessToken: token}); err != nil {
		return err
	}

	var reply message
	if err := s.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("%w: reading auth reply: %w", ErrConnectionFailed, err)
	}
	switch reply.Type {
	case msgAuthOK:
		s.logger.Debug("hub session authenticated", "hub_version", reply.HAVersion)
		return nil
	case msgAuthInvalid:
		return fmt.Errorf("%w: %s", ErrAuthRejected, reply.Message)
	default:
		return fmt.Errorf("%w: unexpected auth reply %q", ErrConnectionFailed, reply.Type)
	}
}

func (s *Stream) subscribe() error {
	id := s.allocID()
	s.subID = id
	if err := s.write(message{ID: id, Type: msgSubscribeEvents}); err != nil {
		return err
	}
	for {
		var reply message
		if err := s.conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("%w: reading subscribe reply: %w", ErrConnectionFailed, err)
		}
		if reply.Type != msgResult || reply.ID != id {
			continue
		}
		if reply.Success == nil || !*reply.Success {
			detail := "no detail"
			if reply.Error != nil {
				detail = reply.Error.Code + ": " + reply.Error.Message
			}
			return fmt.Errorf("%w: %s", ErrSubscribeFailed, detail)
		}
		return nil
	}
}

func (s *Stream) allocID() int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Stream) write(m message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if m.Type == msgPing {
		s.nextID++
		m.ID = s.nextID
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrConnectionFailed, m.Type, err)
	}
	return nil
}

func (s *Stream) pingLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.write(message{Type: msgPing}); err != nil {
				s.logger.Debug("hub ping failed", "error", err)
				return
			}
		}
	}
}

// Next implements Session. Frames other than events for our subscription
// (pongs, results) are consumed silently. Each frame resets the read
// deadline; a timed-out read leaves the connection unusable, so the
// error is returned as ErrConnectionFailed.
func (s *Stream) Next() (Event, error) {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return Event{}, s.readErr(err)
		}
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return Event{}, s.readErr(err)
		}

		var m message
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("dropping undecodable hub frame", "error", err)
			continue
		}
		switch m.Type {
		case msgEvent:
			if m.Event == nil || m.ID != s.subID {
				continue
			}
			return *m.Event, nil
		case msgPong, msgResult:
			continue
		default:
			s.logger.Debug("ignoring hub frame", "type", m.Type)
		}
	}
}

func (s *Stream) readErr(err error) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: closed by hub (%d %s)", ErrConnectionFailed, closeErr.Code, closeErr.Text)
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
}

// Close implements Session. It unblocks a pending Next immediately.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}
