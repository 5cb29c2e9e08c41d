package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type idemCapture struct {
	key    string
	has    bool
	replay bool
	bypass bool
}

func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup, got *idemCapture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Identity(), IdempotencyValidator(opts, lookup))
	h := func(c *gin.Context) {
		got.key, got.has = GetIdempotencyKey(c)
		got.replay = IsReplay(c)
		got.bypass = IsRateBypass(c)
		c.Status(http.StatusAccepted)
	}
	r.POST("/messages", h)
	r.GET("/messages", h)
	return r
}

func TestIdempotencyValidator_NoHeaderIsNoop(t *testing.T) {
	var p idemCapture
	r := idemRouter(IdempotencyOptions{}, nil, &p)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages", nil))
	if w.Code != http.StatusAccepted || p.has {
		t.Fatalf("code=%d got=%+v", w.Code, p)
	}
}

func TestIdempotencyValidator_RejectsMalformed(t *testing.T) {
	var p idemCapture
	r := idemRouter(IdempotencyOptions{MaxLen: 8}, nil, &p)

	for _, key := range []string{"has space", "waytoolongkey", "semi;colon"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/messages", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: code=%d body=%s", key, w.Code, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_CustomPattern(t *testing.T) {
	var p idemCapture
	r := idemRouter(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, nil, &p)
	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code=%d", w.Code)
	}
}

func TestIdempotencyValidator_SafeMethodsIgnored(t *testing.T) {
	var p idemCapture
	r := idemRouter(IdempotencyOptions{}, nil, &p)
	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "bad key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted || p.has {
		t.Fatalf("GET must pass through: code=%d got=%+v", w.Code, p)
	}
}

func TestIdempotencyValidator_ReplayScopedToUser(t *testing.T) {
	var calls []string
	lookup := func(_ context.Context, userID, key string, now time.Time) (bool, error) {
		if now.Location() != time.UTC {
			t.Fatalf("lookup time must be UTC")
		}
		calls = append(calls, userID+"/"+key)
		return userID == "u1" && key == "k-1", nil
	}
	var p idemCapture
	r := idemRouter(IdempotencyOptions{}, lookup, &p)

	send := func(user string) {
		req := httptest.NewRequest(http.MethodPost, "/messages", nil)
		req.Header.Set(HeaderIdempotencyKey, "k-1")
		if user != "" {
			req.Header.Set(HeaderUserID, user)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	send("u1")
	if p.key != "k-1" || !p.replay || !p.bypass {
		t.Fatalf("u1 got=%+v", p)
	}
	send("u2")
	if p.replay || p.bypass {
		t.Fatalf("u2 must not replay u1's key: %+v", p)
	}
	send("")
	if p.replay {
		t.Fatalf("anonymous request must not replay")
	}
	if len(calls) != 2 {
		t.Fatalf("lookup calls=%v", calls)
	}
}

func TestIdempotencyValidator_LookupErrorIsNotReplay(t *testing.T) {
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		return true, errors.New("db down")
	}
	var p idemCapture
	r := idemRouter(IdempotencyOptions{}, lookup, &p)
	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "k")
	req.Header.Set(HeaderUserID, "u1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted || p.replay {
		t.Fatalf("code=%d got=%+v", w.Code, p)
	}
}
