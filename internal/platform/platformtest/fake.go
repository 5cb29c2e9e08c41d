// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbourn/bot-dispatch/internal/platform"
)

// ErrBadToken is returned by Login for tokens listed in Client.Reject.
var ErrBadToken = errors.New("platformtest: token rejected")

// Sent records one delivered message.
type Sent struct {
	Token   string
	Channel string // channel id for channel sends, empty for DMs
	User    string // user id for DMs
	Content string
}

// Client is a scriptable fake. Zero value is ready to use; configure the
// exported fields before sharing it between goroutines.
type Client struct {
	// Channels known to every session, keyed by id.
	Channels map[string]platform.Channel
	// Users known to every session, keyed by id.
	Users map[string]platform.User
	// Reject lists tokens whose Login fails.
	Reject map[string]bool
	// LoginDelay makes Login sleep, to widen race windows in tests.
	LoginDelay time.Duration
	// SendErrs are returned, in order, by successive sends before sends
	// start succeeding.
	SendErrs []error

	logins atomic.Int32
	mu     sync.Mutex
	sent   []Sent
	closed int
}

var _ platform.Client = (*Client)(nil)

// Login returns a new Session or ErrBadToken.
func (c *Client) Login(ctx context.Context, token string) (platform.Session, error) {
	c.logins.Add(1)
	if c.LoginDelay > 0 {
		select {
		case <-time.After(c.LoginDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Reject[token] {
		return nil, ErrBadToken
	}
	return &Session{client: c, token: token}, nil
}

// Logins returns how many times Login was called.
func (c *Client) Logins() int { return int(c.logins.Load()) }

// Sent returns a copy of everything delivered so far.
func (c *Client) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Closed returns how many sessions were closed.
func (c *Client) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) send(s Sent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.SendErrs) > 0 {
		err := c.SendErrs[0]
		c.SendErrs = c.SendErrs[1:]
		if err != nil {
			return err
		}
	}
	c.sent = append(c.sent, s)
	return nil
}

// Session is the fake's session.
type Session struct {
	client *Client
	token  string
	closed atomic.Bool
}

// Token returns the token this session logged in with.
func (s *Session) Token() string { return s.token }

// Channel looks up a configured channel.
func (s *Session) Channel(_ context.Context, id string) (*platform.Channel, error) {
	ch, ok := s.client.Channels[id]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &ch, nil
}

// User looks up a configured user.
func (s *Session) User(_ context.Context, id string) (*platform.User, error) {
	u, ok := s.client.Users[id]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return &u, nil
}

// SendChannel records a channel send.
func (s *Session) SendChannel(_ context.Context, channelID, content string) error {
	return s.client.send(Sent{Token: s.token, Channel: channelID, Content: content})
}

// SendDirect records a DM send.
func (s *Session) SendDirect(_ context.Context, userID, content string) error {
	return s.client.send(Sent{Token: s.token, User: userID, Content: content})
}

// Close marks the session closed once.
func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.client.mu.Lock()
		s.client.closed++
		s.client.mu.Unlock()
	}
	return nil
}

// IsClosed reports whether Close was called.
func (s *Session) IsClosed() bool { return s.closed.Load() }
