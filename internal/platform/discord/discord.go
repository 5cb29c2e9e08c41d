// Package discord implements platform.Client on top of bwmarrin/discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/bot-dispatch/internal/platform"
)

// Intents requested at login: guild metadata for channel lookups and DMs
// for direct delivery.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages

// Client logs bots into Discord over the gateway.
type Client struct {
	// UserAgent overrides discordgo's default when non-empty.
	UserAgent string
}

var _ platform.Client = (*Client)(nil)

// NewClient returns a Discord client.
func NewClient() *Client { return &Client{} }

// Login opens a gateway session for token. The returned session is ready
// once Login returns.
func (c *Client) Login(ctx context.Context, token string) (platform.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	dg.Identify.Intents = Intents
	if c.UserAgent != "" {
		dg.UserAgent = c.UserAgent
	}

	// Open blocks until the gateway READY or an error; honour ctx by racing it.
	opened := make(chan error, 1)
	go func() { opened <- dg.Open() }()
	select {
	case err := <-opened:
		if err != nil {
			return nil, fmt.Errorf("discord: open gateway: %w", err)
		}
	case <-ctx.Done():
		go func() {
			if err := <-opened; err == nil {
				_ = dg.Close()
			}
		}()
		return nil, ctx.Err()
	}
	return &Session{dg: dg}, nil
}

// Session wraps a discordgo session.
type Session struct {
	dg *discordgo.Session
}

var _ platform.Session = (*Session)(nil)

// Channel fetches channel metadata.
func (s *Session) Channel(ctx context.Context, id string) (*platform.Channel, error) {
	ch, err := s.dg.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return &platform.Channel{ID: ch.ID, GuildID: ch.GuildID, TextBased: textBased(ch.Type)}, nil
}

// User fetches a user.
func (s *Session) User(ctx context.Context, id string) (*platform.User, error) {
	u, err := s.dg.User(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return &platform.User{ID: u.ID, Bot: u.Bot}, nil
}

// SendChannel posts content to a channel.
func (s *Session) SendChannel(ctx context.Context, channelID, content string) error {
	if _, err := s.dg.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return mapErr(err)
	}
	return nil
}

// SendDirect opens (or reuses) the DM channel with userID and posts content.
func (s *Session) SendDirect(ctx context.Context, userID, content string) error {
	dm, err := s.dg.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	return s.SendChannel(ctx, dm.ID, content)
}

// Close disconnects the gateway.
func (s *Session) Close() error {
	return s.dg.Close()
}

func textBased(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeDM,
		discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildVoice,
		discordgo.ChannelTypeGuildNewsThread,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread:
		return true
	}
	return false
}

// mapErr converts 404 and 429 REST errors into platform.ErrNotFound and
// platform.ErrRateLimited, keeping the original as the wrapped cause.
func mapErr(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Response == nil {
		return err
	}
	switch rest.Response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", platform.ErrNotFound, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", platform.ErrRateLimited, err)
	}
	return err
}
