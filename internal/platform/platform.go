// Package platform defines the boundary to the external chat platform: a
// Client that logs a bot in and the Session it returns. Implementations live
// in sub-packages (discord) so the dispatch pipeline never imports an SDK.
package platform

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Session lookups when the platform reports the
// channel or user does not exist (or is not visible to the bot).
var ErrNotFound = errors.New("platform: not found")

// ErrRateLimited is returned when the platform rejects a request with a rate
// limit response.
var ErrRateLimited = errors.New("platform: rate limited")

// Channel is the subset of channel metadata the dispatcher needs.
type Channel struct {
	ID        string
	GuildID   string
	TextBased bool
}

// User is the subset of user metadata the dispatcher needs.
type User struct {
	ID  string
	Bot bool
}

// Session is a live, authenticated platform connection for one bot.
// Sessions are safe for concurrent use.
type Session interface {
	Channel(ctx context.Context, id string) (*Channel, error)
	User(ctx context.Context, id string) (*User, error)
	SendChannel(ctx context.Context, channelID, content string) error
	SendDirect(ctx context.Context, userID, content string) error
	Close() error
}

// Client opens sessions. Login performs network I/O and fails when the token
// is rejected.
type Client interface {
	Login(ctx context.Context, token string) (Session, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, token string) (Session, error)

// Login calls f(ctx, token).
func (f ClientFunc) Login(ctx context.Context, token string) (Session, error) { return f(ctx, token) }
