package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/bot-dispatch/internal/credential"
)

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, KindInternal},
		{errors.New("boom"), KindInternal},
		{required("botId"), KindValidation},
		{fmt.Errorf("wrap: %w", &ValidationError{Field: "content", Reason: "is too long"}), KindValidation},
		{ErrForbidden, KindForbidden},
		{ErrBotNotFound, KindNotFound},
		{ErrDeliveryNotFound, KindNotFound},
		{credential.ErrMissingKey, KindConfiguration},
		{fmt.Errorf("load: %w", credential.ErrInvalidKeyLength), KindConfiguration},
		{errors.Join(ErrEnqueueFailed, errors.New("redis")), KindInternal},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}

func TestValidationError_Message(t *testing.T) {
	if got := required("channelId").Error(); got != "channelId is required" {
		t.Fatalf("got %q", got)
	}
	if got := (&ValidationError{Field: "content", Reason: "is too long"}).Error(); got != "content is too long" {
		t.Fatalf("got %q", got)
	}
}

func TestTargetResolutionError_Unwrap(t *testing.T) {
	inner := errors.New("404")
	err := &TargetResolutionError{Target: "c1", Reason: "channel not found", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("Unwrap should expose the cause")
	}
	if err.Error() != "channel not found: 404" {
		t.Fatalf("got %q", err.Error())
	}
}

func TestCaller(t *testing.T) {
	if !(Caller{ID: "x", Role: "admin"}).Elevated() {
		t.Fatal("role match should be case-insensitive")
	}
	if (Caller{}).CanManage("") {
		t.Fatal("anonymous caller must not manage unowned bots")
	}
	if !(Caller{ID: "u1"}).CanManage("u1") || (Caller{ID: "u1"}).CanManage("u2") {
		t.Fatal("owner check broken")
	}
}
