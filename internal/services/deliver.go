package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbourn/bot-dispatch/internal/domain"
	"github.com/tbourn/bot-dispatch/internal/platform"
)

// Deliver sends content to target over session.
//
// A GuildChannel must exist and be text-capable. A DirectOrChannel id is
// tried as a user first (direct message) and then as a channel; any failed
// user lookup falls through to the channel, except a cancelled context or a
// rate limit, which are returned as-is. Lookups that find nothing yield a
// *TargetResolutionError; any other platform error is returned as-is.
func Deliver(ctx context.Context, session platform.Session, target domain.DeliveryTarget, content string) error {
	switch t := target.(type) {
	case domain.GuildChannel:
		ch, err := session.Channel(ctx, t.ChannelID)
		if errors.Is(err, platform.ErrNotFound) {
			return &TargetResolutionError{Target: t.ChannelID, Reason: "channel not found or not text channel", Err: err}
		}
		if err != nil {
			return err
		}
		if !ch.TextBased {
			return &TargetResolutionError{Target: t.ChannelID, Reason: "channel not found or not text channel"}
		}
		return session.SendChannel(ctx, ch.ID, content)

	case domain.DirectOrChannel:
		u, err := session.User(ctx, t.ID)
		if err == nil {
			return session.SendDirect(ctx, u.ID, content)
		}
		if !userLookupFallsThrough(err) {
			return err
		}
		ch, err := session.Channel(ctx, t.ID)
		if errors.Is(err, platform.ErrNotFound) {
			return &TargetResolutionError{Target: t.ID, Reason: "channel not found", Err: err}
		}
		if err != nil {
			return err
		}
		if !ch.TextBased {
			return &TargetResolutionError{Target: t.ID, Reason: "channel not found or not text channel"}
		}
		return session.SendChannel(ctx, ch.ID, content)

	case nil:
		return domain.ErrNoTarget
	}
	return fmt.Errorf("unsupported delivery target %T", target)
}

func userLookupFallsThrough(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, platform.ErrRateLimited):
		return false
	}
	return true
}
