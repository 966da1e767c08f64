package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/camrelay/camrelay/internal/source"
)

// Config holds cloud camera API connection settings.
type Config struct {
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Token   string        `json:"token" mapstructure:"token"`
	Timeout time.Duration `json:"acquire_timeout" mapstructure:"acquire_timeout"`
}

// HTTPClient talks to the cloud camera API over HTTP and implements
// source.CloudClient. Auth refresh is assumed to happen server-side per
// request; a 401/403 here only means the current token has lapsed and the
// caller should simply try again after its usual retry handling.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *slog.Logger
}

type streamResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		hc:      &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// GetLiveStream requests a playable locator for cameraID.
// Errors are returned as *source.Failure classified from the HTTP outcome.
func (c *HTTPClient) GetLiveStream(ctx context.Context, cameraID string) (source.Lease, error) {
	endpoint := fmt.Sprintf("%s/v1/cameras/%s/stream", c.baseURL, url.PathEscape(cameraID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return source.Lease{}, source.NewFailure(source.FailUnknown, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return source.Lease{}, source.NewFailure(source.FailTimeout, err)
		}
		return source.Lease{}, source.NewFailure(source.FailUnknown, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusUnauthorized, http.StatusForbidden:
		return source.Lease{}, source.NewFailure(source.FailAuthExpired,
			fmt.Errorf("cloud API status %d", resp.StatusCode))
	case http.StatusNotFound, http.StatusBadGateway, http.StatusServiceUnavailable:
		return source.Lease{}, source.NewFailure(source.FailCameraOffline,
			fmt.Errorf("cloud API status %d", resp.StatusCode))
	case http.StatusTooManyRequests:
		f := source.NewFailure(source.FailRateLimited,
			fmt.Errorf("cloud API status %d", resp.StatusCode))
		f.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return source.Lease{}, f
	default:
		return source.Lease{}, source.NewFailure(source.FailUnknown,
			fmt.Errorf("cloud API status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return source.Lease{}, source.NewFailure(source.FailUnknown, err)
	}
	var sr streamResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return source.Lease{}, source.NewFailure(source.FailUnknown,
			fmt.Errorf("decode stream response: %w", err))
	}
	c.logger.Debug("live stream lease acquired", "camera", cameraID, "expires_at", sr.ExpiresAt)
	return source.Lease{Locator: sr.URL, ExpiresAt: sr.ExpiresAt}, nil
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
