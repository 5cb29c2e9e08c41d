package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/bot-dispatch/internal/platform"
)

func TestMapErr_NotFound(t *testing.T) {
	err := mapErr(&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}})
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestMapErr_RateLimited(t *testing.T) {
	orig := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	err := mapErr(orig)
	if !errors.Is(err, platform.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	if errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("429 must not map to ErrNotFound")
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		t.Fatalf("original error lost: %v", err)
	}
}

func TestMapErr_PassThrough(t *testing.T) {
	orig := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if got := mapErr(orig); got != error(orig) {
		t.Fatalf("403 changed: %v", got)
	}

	plain := errors.New("dial tcp: timeout")
	if got := mapErr(plain); got != plain {
		t.Fatalf("non-REST error changed: %v", got)
	}
}

func TestTextBased(t *testing.T) {
	cases := map[discordgo.ChannelType]bool{
		discordgo.ChannelTypeGuildText:       true,
		discordgo.ChannelTypeDM:              true,
		discordgo.ChannelTypeGuildNews:       true,
		discordgo.ChannelTypeGuildCategory:   false,
		discordgo.ChannelTypeGuildStageVoice: false,
		discordgo.ChannelTypeGuildForum:      false,
	}
	for typ, want := range cases {
		if got := textBased(typ); got != want {
			t.Errorf("textBased(%d) = %v, want %v", typ, got, want)
		}
	}
}
