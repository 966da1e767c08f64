package cloud

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/camrelay/camrelay/internal/source"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{BaseURL: srv.URL, Token: "tok", Timeout: 2 * time.Second}, nil)
}

func failureKind(t *testing.T, err error) source.FailureKind {
	t.Helper()
	var f *source.Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *source.Failure", err)
	}
	return f.Kind
}

func TestGetLiveStreamOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/cameras/front-door/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"rtsps://edge/feed","expires_at":"2030-01-02T15:04:05Z"}`))
	})
	lease, err := c.GetLiveStream(context.Background(), "front-door")
	if err != nil {
		t.Fatalf("GetLiveStream: %v", err)
	}
	if lease.Locator != "rtsps://edge/feed" {
		t.Errorf("locator = %q", lease.Locator)
	}
	if lease.ExpiresAt.Year() != 2030 {
		t.Errorf("expires_at = %v", lease.ExpiresAt)
	}
}

func TestGetLiveStreamStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   source.FailureKind
	}{
		{http.StatusUnauthorized, source.FailAuthExpired},
		{http.StatusForbidden, source.FailAuthExpired},
		{http.StatusNotFound, source.FailCameraOffline},
		{http.StatusServiceUnavailable, source.FailCameraOffline},
		{http.StatusBadGateway, source.FailCameraOffline},
		{http.StatusTooManyRequests, source.FailRateLimited},
		{http.StatusInternalServerError, source.FailUnknown},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := c.GetLiveStream(context.Background(), "cam")
		if got := failureKind(t, err); got != tt.want {
			t.Errorf("status %d mapped to %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestGetLiveStreamRetryAfterHint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.GetLiveStream(context.Background(), "cam")
	var f *source.Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v", err)
	}
	if f.RetryAfter != 42*time.Second {
		t.Errorf("RetryAfter = %v, want 42s", f.RetryAfter)
	}
}

func TestGetLiveStreamBadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	_, err := c.GetLiveStream(context.Background(), "cam")
	if got := failureKind(t, err); got != source.FailUnknown {
		t.Errorf("kind = %s, want unknown", got)
	}
}

func TestGetLiveStreamContextTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetLiveStream(ctx, "cam")
	if got := failureKind(t, err); got != source.FailTimeout {
		t.Errorf("kind = %s, want timeout", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter(""); d != 0 {
		t.Errorf("empty = %v", d)
	}
	if d := parseRetryAfter("15"); d != 15*time.Second {
		t.Errorf("seconds = %v", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := parseRetryAfter(future); d <= 0 || d > time.Minute {
		t.Errorf("http-date = %v", d)
	}
	if d := parseRetryAfter("garbage"); d != 0 {
		t.Errorf("garbage = %v", d)
	}
}
