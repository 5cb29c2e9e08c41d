package domain

import (
	"errors"
	"strings"
)

// ErrNoTarget is returned when a delivery names no channel to send to.
var ErrNoTarget = errors.New("no delivery target")

// DeliveryTarget is where a message is sent. Exactly one of GuildChannel or
// DirectOrChannel implements it.
type DeliveryTarget interface {
	isDeliveryTarget()
	// Channel is the platform channel (or user) id being addressed.
	Channel() string
}

// GuildChannel addresses a channel inside a guild (server).
type GuildChannel struct {
	GuildID   string
	ChannelID string
}

func (GuildChannel) isDeliveryTarget() {}
func (t GuildChannel) Channel() string { return t.ChannelID }

// DirectOrChannel addresses an id that is either a channel reachable without
// a guild or a user that should receive a direct message.
type DirectOrChannel struct {
	ID string
}

func (DirectOrChannel) isDeliveryTarget() {}
func (t DirectOrChannel) Channel() string { return t.ID }

// ResolveTarget builds the target variant from the stored ids. Blank ids are
// treated as absent.
func ResolveTarget(guildID, channelID string) (DeliveryTarget, error) {
	guildID = strings.TrimSpace(guildID)
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, ErrNoTarget
	}
	if guildID != "" {
		return GuildChannel{GuildID: guildID, ChannelID: channelID}, nil
	}
	return DirectOrChannel{ID: channelID}, nil
}
